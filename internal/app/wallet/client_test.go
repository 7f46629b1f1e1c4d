package wallet

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/aegis-sign/wcsigner/internal/gateway/dispatch"
	"github.com/aegis-sign/wcsigner/internal/infra/keystore"
	"github.com/aegis-sign/wcsigner/internal/namespace"
	"github.com/aegis-sign/wcsigner/internal/pairing"
	"github.com/aegis-sign/wcsigner/internal/session"
	"github.com/aegis-sign/wcsigner/internal/transport"
)

const (
	testKeyHex  = "0x8b3a350cf5c34c9194ca85829a2df0ec3153be0318b5e2d3348e872092edffba"
	testAddress = "0x9965507D1a55bcC2695C58ba16FB37d819B0A4dc"
	pairURI     = "wc:abc@2?relay-protocol=irn&symKey=deadbeef"
)

var testCapabilities = namespace.Capabilities{{
	Namespace: "eip155",
	Chains:    []string{"eip155:1", "eip155:137"},
	Methods:   []string{dispatch.MethodPersonalSign, dispatch.MethodSendTransaction, dispatch.MethodSignTypedData},
	Events:    []string{"accountsChanged", "chainChanged"},
}}

type harness struct {
	client   *Client
	tr       *transport.Memory
	registry *session.Registry
	metrics  *Metrics
	cancel   context.CancelFunc
	done     chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	local, err := keystore.LocalFromHex(testKeyHex)
	require.NoError(t, err)
	store := keystore.NewSerialized(local, keystore.NewMetrics(prometheus.NewRegistry()), nil)

	tr := transport.NewMemory(32)
	negotiator, err := pairing.NewNegotiator(tr, pairing.Config{Metrics: pairing.NewMetrics(prometheus.NewRegistry())})
	require.NoError(t, err)
	registry := session.NewRegistry(session.WithMetrics(session.NewMetrics(prometheus.NewRegistry())))
	dispatcher, err := dispatch.NewDispatcher(dispatch.Config{Metrics: dispatch.NewMetrics(prometheus.NewRegistry())}, store, tr)
	require.NoError(t, err)
	t.Cleanup(dispatcher.Close)

	metrics := NewMetrics(prometheus.NewRegistry())
	client, err := New(Config{
		Capabilities: testCapabilities,
		Metadata:     namespace.Metadata{Name: "wcsigner", URL: "https://example.org"},
		Metrics:      metrics,
	}, Deps{Transport: tr, Negotiator: negotiator, Registry: registry, Dispatcher: dispatcher, Store: store})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{client: client, tr: tr, registry: registry, metrics: metrics, cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- client.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *harness) pair(t *testing.T) {
	t.Helper()
	topic, err := h.client.Pair(context.Background(), pairURI)
	require.NoError(t, err)
	require.Equal(t, "abc", topic)
}

func (h *harness) deliver(t *testing.T, msg transport.Message) {
	t.Helper()
	require.True(t, h.tr.Deliver("abc", msg))
}

func (h *harness) waitPublished(t *testing.T, n int) []transport.Published {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.tr.Published()) >= n }, 2*time.Second, 5*time.Millisecond)
	return h.tr.Published()
}

func proposal(t *testing.T, id int64, required map[string]namespace.RequestedNamespace) transport.Message {
	t.Helper()
	msg, err := transport.NewRequest(id, transport.MethodSessionPropose, namespace.Proposal{
		ID: id,
		Proposer: namespace.Proposer{Metadata: namespace.Metadata{
			Name:  "Example Dapp",
			Icons: []string{"https://dapp.example/icon.png"},
		}},
		RequiredNamespaces: required,
	})
	require.NoError(t, err)
	return msg
}

func eip155Proposal(t *testing.T, id int64) transport.Message {
	return proposal(t, id, map[string]namespace.RequestedNamespace{
		"eip155": {Chains: []string{"eip155:1"}, Methods: []string{dispatch.MethodPersonalSign}, Events: []string{"chainChanged"}},
	})
}

func TestPairEmitsStatusAndAddress(t *testing.T) {
	h := newHarness(t)
	events, cancel := h.client.Events().Subscribe()
	defer cancel()

	h.pair(t)

	first := <-events
	require.Equal(t, StatePairing, first.Status.State)
	second := <-events
	require.Equal(t, "abc", second.Status.Topic)
	third := <-events
	require.NotNil(t, third.Address)
	require.Equal(t, testAddress, third.Address.Address)
	require.Equal(t, testAddress, h.client.Status().Address)
	require.Empty(t, h.client.Sessions())
}

func TestPairFailureEmitsFailed(t *testing.T) {
	h := newHarness(t)
	_, err := h.client.Pair(context.Background(), "not-a-uri")
	require.ErrorIs(t, err, pairing.ErrInvalidURI)
	snap := h.client.Status()
	require.Equal(t, StateFailed, snap.Status.State)
	require.NotEmpty(t, snap.Status.Reason)
	require.Empty(t, snap.Address)
}

func TestProposalApprovedThenRequestSigned(t *testing.T) {
	h := newHarness(t)
	h.pair(t)

	h.deliver(t, eip155Proposal(t, 1))
	req, err := dispatch.NewSessionRequest(2, "eip155:1", dispatch.MethodPersonalSign, "0x48656c6c6f", testAddress)
	require.NoError(t, err)
	h.deliver(t, req)

	published := h.waitPublished(t, 2)
	require.Equal(t, int64(1), published[0].Message.ID)
	require.Nil(t, published[0].Message.Error)
	var approval Approval
	require.NoError(t, json.Unmarshal(published[0].Message.Result, &approval))
	require.Equal(t, "irn", approval.Relay.Protocol)
	require.Equal(t, "wcsigner", approval.Responder.Metadata.Name)
	require.Len(t, approval.Namespaces, 1)
	require.Equal(t, []string{"eip155:1:" + testAddress}, approval.Namespaces[0].Accounts)
	require.Equal(t, []string{dispatch.MethodPersonalSign}, approval.Namespaces[0].Methods)
	require.Equal(t, []string{"chainChanged"}, approval.Namespaces[0].Events)
	require.Greater(t, approval.Expiry, time.Now().Unix())

	require.Equal(t, int64(2), published[1].Message.ID)
	require.Nil(t, published[1].Message.Error)
	var signature string
	require.NoError(t, json.Unmarshal(published[1].Message.Result, &signature))
	recovered, err := keystore.RecoverPersonal("Hello", signature)
	require.NoError(t, err)
	require.Equal(t, testAddress, recovered.Hex())

	sess, err := h.client.Session("abc")
	require.NoError(t, err)
	require.Equal(t, session.StatusActive, sess.Status)
	require.Equal(t, "Example Dapp", sess.Proposer.Name)
	require.Equal(t, StateActive, h.client.Status().Status.State)
	require.Equal(t, float64(1), testutil.ToFloat64(h.metrics.proposals.WithLabelValues(outcomeApproved)))
}

func TestProposalWithoutSupportedNamespaceIsRejected(t *testing.T) {
	h := newHarness(t)
	h.pair(t)

	h.deliver(t, proposal(t, 7, map[string]namespace.RequestedNamespace{
		"solana": {Chains: []string{"solana:mainnet"}, Methods: []string{"solana_signMessage"}},
	}))

	published := h.waitPublished(t, 1)
	require.NotNil(t, published[0].Message.Error)
	require.Equal(t, 5000, published[0].Message.Error.Code)
	require.Equal(t, "USER_REJECTED", published[0].Message.Error.Message)

	sess, err := h.client.Session("abc")
	require.NoError(t, err)
	require.Equal(t, session.StatusRejected, sess.Status)
	require.Equal(t, StateFailed, h.client.Status().Status.State)
}

func TestDuplicateProposalLeavesActiveSession(t *testing.T) {
	h := newHarness(t)
	h.pair(t)

	h.deliver(t, eip155Proposal(t, 1))
	h.waitPublished(t, 1)
	h.deliver(t, eip155Proposal(t, 2))

	published := h.waitPublished(t, 2)
	require.Equal(t, int64(2), published[1].Message.ID)
	require.Equal(t, 5000, published[1].Message.Error.Code)

	sess, err := h.client.Session("abc")
	require.NoError(t, err)
	require.Equal(t, session.StatusActive, sess.Status)
	require.Equal(t, int64(1), sess.ProposalID)
	require.Equal(t, float64(1), testutil.ToFloat64(h.metrics.proposals.WithLabelValues(outcomeDuplicate)))
}

func TestRequestWithoutSessionFails(t *testing.T) {
	h := newHarness(t)
	h.pair(t)

	req, err := dispatch.NewSessionRequest(3, "eip155:1", dispatch.MethodPersonalSign, "0x00")
	require.NoError(t, err)
	h.deliver(t, req)

	published := h.waitPublished(t, 1)
	require.Equal(t, int64(3), published[0].Message.ID)
	require.Equal(t, 7001, published[0].Message.Error.Code)
}

func TestMalformedRequestGetsInvalidParams(t *testing.T) {
	h := newHarness(t)
	h.pair(t)

	h.deliver(t, transport.Message{JSONRPC: "2.0", ID: 4, Method: transport.MethodSessionRequest, Params: json.RawMessage(`"nope"`)})

	published := h.waitPublished(t, 1)
	require.Equal(t, -32602, published[0].Message.Error.Code)
}

func TestSendTransactionNotImplemented(t *testing.T) {
	h := newHarness(t)
	h.pair(t)
	h.deliver(t, proposal(t, 1, map[string]namespace.RequestedNamespace{
		"eip155": {Chains: []string{"eip155:1"}, Methods: []string{dispatch.MethodSendTransaction}},
	}))
	req, err := dispatch.NewSessionRequest(5, "eip155:1", dispatch.MethodSendTransaction, map[string]any{"to": testAddress})
	require.NoError(t, err)
	h.deliver(t, req)

	published := h.waitPublished(t, 2)
	require.Equal(t, -32601, published[1].Message.Error.Code)
}

func TestSessionDeleteExpiresAndUnsubscribes(t *testing.T) {
	h := newHarness(t)
	h.pair(t)
	h.deliver(t, eip155Proposal(t, 1))
	h.waitPublished(t, 1)

	del, err := transport.NewRequest(9, transport.MethodSessionDelete, map[string]any{"code": 6000, "message": "User disconnected."})
	require.NoError(t, err)
	h.deliver(t, del)

	require.Eventually(t, func() bool { return !h.tr.Subscribed("abc") }, 2*time.Second, 5*time.Millisecond)
	sess, err := h.client.Session("abc")
	require.NoError(t, err)
	require.Equal(t, session.StatusExpired, sess.Status)
	require.Eventually(t, func() bool { return h.client.Status().Status.State == StateDisconnected }, time.Second, 5*time.Millisecond)
	require.Empty(t, h.client.Pairings())

	published := h.tr.Published()
	require.Equal(t, int64(9), published[len(published)-1].Message.ID)
}

func TestPingAnswered(t *testing.T) {
	h := newHarness(t)
	h.pair(t)
	h.deliver(t, eip155Proposal(t, 1))
	h.waitPublished(t, 1)

	ping, err := transport.NewRequest(11, transport.MethodSessionPing, map[string]any{})
	require.NoError(t, err)
	h.deliver(t, ping)

	published := h.waitPublished(t, 2)
	require.Equal(t, int64(11), published[1].Message.ID)
	require.JSONEq(t, "true", string(published[1].Message.Result))
}

func TestRunStopsWhenTransportCloses(t *testing.T) {
	local, err := keystore.LocalFromHex(testKeyHex)
	require.NoError(t, err)
	tr := transport.NewMemory(1)
	negotiator, err := pairing.NewNegotiator(tr, pairing.Config{})
	require.NoError(t, err)
	dispatcher, err := dispatch.NewDispatcher(dispatch.Config{Metrics: dispatch.NewMetrics(prometheus.NewRegistry())}, local, tr)
	require.NoError(t, err)
	defer dispatcher.Close()
	client, err := New(Config{Capabilities: testCapabilities}, Deps{
		Transport: tr, Negotiator: negotiator, Registry: session.NewRegistry(), Dispatcher: dispatcher, Store: local,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- client.Run(context.Background()) }()
	require.NoError(t, tr.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after transport close")
	}
	require.Equal(t, StateDisconnected, client.Status().Status.State)
}

func TestNewRequiresAddressForEveryNamespace(t *testing.T) {
	local, err := keystore.LocalFromHex(testKeyHex)
	require.NoError(t, err)
	tr := transport.NewMemory(1)
	negotiator, err := pairing.NewNegotiator(tr, pairing.Config{})
	require.NoError(t, err)
	dispatcher, err := dispatch.NewDispatcher(dispatch.Config{Metrics: dispatch.NewMetrics(prometheus.NewRegistry())}, local, tr)
	require.NoError(t, err)
	defer dispatcher.Close()

	caps := append(namespace.Capabilities{}, testCapabilities...)
	caps = append(caps, namespace.Capability{Namespace: "solana", Chains: []string{"solana:mainnet"}, Methods: []string{"solana_signMessage"}})
	_, err = New(Config{Capabilities: caps}, Deps{
		Transport: tr, Negotiator: negotiator, Registry: session.NewRegistry(), Dispatcher: dispatcher, Store: local,
	})
	require.ErrorIs(t, err, keystore.ErrUnsupported)
}
