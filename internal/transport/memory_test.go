package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	propose, err := NewRequest(1, MethodSessionPropose, map[string]any{})
	require.NoError(t, err)
	require.Equal(t, EventProposal, Classify(propose))

	request, err := NewRequest(2, MethodSessionRequest, map[string]any{})
	require.NoError(t, err)
	require.Equal(t, EventRequest, Classify(request))

	del, err := NewRequest(3, MethodSessionDelete, map[string]any{})
	require.NoError(t, err)
	require.Equal(t, EventSessionDelete, Classify(del))

	result, err := NewResult(4, true)
	require.NoError(t, err)
	require.Equal(t, EventResponse, Classify(result))
	require.Equal(t, EventResponse, Classify(NewError(5, -32601, "nope")))

	ping, err := NewRequest(6, MethodSessionPing, map[string]any{})
	require.NoError(t, err)
	require.Equal(t, EventOther, Classify(ping))
}

func TestMemoryDeliverRequiresSubscription(t *testing.T) {
	m := NewMemory(4)
	t.Cleanup(func() { _ = m.Close() })
	msg, err := NewRequest(1, MethodSessionRequest, map[string]any{})
	require.NoError(t, err)

	require.False(t, m.Deliver("abc", msg))
	require.NoError(t, m.Subscribe(context.Background(), "abc", []byte{0xde, 0xad}))
	require.True(t, m.Subscribed("abc"))
	require.True(t, m.Deliver("abc", msg))

	evt := <-m.Events()
	require.Equal(t, "abc", evt.Topic)
	require.Equal(t, EventRequest, evt.Type)
	require.Equal(t, int64(1), evt.Message.ID)
}

func TestMemoryHooks(t *testing.T) {
	boom := errors.New("relay unreachable")
	m := NewMemory(1,
		WithSubscribeHook(func(context.Context, string) error { return boom }),
		WithPublishHook(func(context.Context, string, Message) error { return boom }),
	)
	require.ErrorIs(t, m.Subscribe(context.Background(), "abc", nil), boom)
	require.False(t, m.Subscribed("abc"))
	require.ErrorIs(t, m.Publish(context.Background(), "abc", NewError(1, 1, "x")), boom)
	require.Empty(t, m.Published())
}

func TestMemoryClose(t *testing.T) {
	m := NewMemory(1)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	_, ok := <-m.Events()
	require.False(t, ok)
	require.ErrorIs(t, m.Subscribe(context.Background(), "abc", nil), ErrClosed)
}
