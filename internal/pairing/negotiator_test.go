package pairing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/aegis-sign/wcsigner/internal/transport"
	"github.com/aegis-sign/wcsigner/pkg/apierrors"
)

const scenarioURI = "wc:abc@2?relay-protocol=irn&symKey=deadbeef"

func TestPairReturnsTopic(t *testing.T) {
	tr := transport.NewMemory(4)
	metrics := NewMetrics(prometheus.NewRegistry())
	n, err := NewNegotiator(tr, Config{Metrics: metrics})
	require.NoError(t, err)

	topic, err := n.Pair(context.Background(), scenarioURI)
	require.NoError(t, err)
	require.Equal(t, "abc", topic)
	require.True(t, tr.Subscribed("abc"))
	require.Len(t, n.Pairings(), 1)
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.attempts.WithLabelValues(outcomeSuccess)))
}

func TestPairInvalidURILeavesNoState(t *testing.T) {
	tr := transport.NewMemory(4)
	n, err := NewNegotiator(tr, Config{})
	require.NoError(t, err)

	_, err = n.Pair(context.Background(), "wc:abc@2?symKey=deadbeef")
	require.ErrorIs(t, err, ErrInvalidURI)
	require.Equal(t, apierrors.CodeInvalidURI, apierrors.CodeOf(err))
	require.Empty(t, n.Pairings())
	require.False(t, tr.Subscribed("abc"))
	require.False(t, n.Pending())
}

func TestPairTransportFailure(t *testing.T) {
	boom := errors.New("dial tcp: connection refused")
	tr := transport.NewMemory(4, transport.WithSubscribeHook(func(context.Context, string) error { return boom }))
	n, err := NewNegotiator(tr, Config{})
	require.NoError(t, err)

	topic, err := n.Pair(context.Background(), scenarioURI)
	require.Empty(t, topic)
	require.ErrorIs(t, err, ErrTransportFailure)
	require.ErrorIs(t, err, boom)
	require.Empty(t, n.Pairings())
}

func TestPairHandshakeTimeout(t *testing.T) {
	tr := transport.NewMemory(4, transport.WithSubscribeHook(func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	n, err := NewNegotiator(tr, Config{HandshakeTimeout: 20 * time.Millisecond})
	require.NoError(t, err)

	_, err = n.Pair(context.Background(), scenarioURI)
	require.ErrorIs(t, err, ErrTransportFailure)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPairRejectsConcurrentAttempt(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	tr := transport.NewMemory(4, transport.WithSubscribeHook(func(ctx context.Context, _ string) error {
		close(entered)
		<-release
		return nil
	}))
	n, err := NewNegotiator(tr, Config{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := n.Pair(context.Background(), scenarioURI)
		done <- err
	}()
	<-entered
	require.True(t, n.Pending())

	_, err = n.Pair(context.Background(), "wc:other@2?relay-protocol=irn&symKey=beef")
	require.ErrorIs(t, err, ErrAlreadyPairing)

	close(release)
	require.NoError(t, <-done)
	require.False(t, n.Pending())
}

func TestPairRejectsRepairingSameTopic(t *testing.T) {
	tr := transport.NewMemory(4)
	n, err := NewNegotiator(tr, Config{})
	require.NoError(t, err)

	_, err = n.Pair(context.Background(), scenarioURI)
	require.NoError(t, err)
	_, err = n.Pair(context.Background(), scenarioURI)
	require.ErrorIs(t, err, ErrAlreadyPairing)
	require.Len(t, n.Pairings(), 1)
}

func TestForgetUnsubscribes(t *testing.T) {
	tr := transport.NewMemory(4)
	n, err := NewNegotiator(tr, Config{})
	require.NoError(t, err)

	_, err = n.Pair(context.Background(), scenarioURI)
	require.NoError(t, err)
	require.NoError(t, n.Forget(context.Background(), "abc"))
	require.False(t, tr.Subscribed("abc"))
	require.Empty(t, n.Pairings())
	require.NoError(t, n.Forget(context.Background(), "abc"))
}
