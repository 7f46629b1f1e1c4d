package operatorapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegis-sign/wcsigner/internal/app/wallet"
	"github.com/aegis-sign/wcsigner/internal/pairing"
	"github.com/aegis-sign/wcsigner/pkg/apierrors"
)

func serve(t *testing.T, op Operator, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	NewHTTPHandler(op).Register(mux)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestHandlePairSuccess(t *testing.T) {
	op := activeStub()
	rr := serve(t, op, http.MethodPost, "/pair", `{"uri":"wc:abc@2?relay-protocol=irn&symKey=deadbeef"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var body pairResponseBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "abc", body.Topic)
	require.Equal(t, []string{"wc:abc@2?relay-protocol=irn&symKey=deadbeef"}, op.uris)
}

func TestHandlePairErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   apierrors.Code
	}{
		{"invalid uri", fmt.Errorf("%w: missing version", pairing.ErrInvalidURI), http.StatusBadRequest, apierrors.CodeInvalidURI},
		{"already pairing", pairing.ErrAlreadyPairing, http.StatusConflict, apierrors.CodeAlreadyPairing},
		{"transport", fmt.Errorf("%w: dial failed", pairing.ErrTransportFailure), http.StatusBadGateway, apierrors.CodeTransportFailure},
		{"retry later", apierrors.New(apierrors.CodeRetryLater, "dispatch queue full"), http.StatusTooManyRequests, apierrors.CodeRetryLater},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, apierrors.CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			op := &stubOperator{pairFn: func(context.Context, string) (string, error) { return "", tc.err }}
			rr := serve(t, op, http.MethodPost, "/pair", `{"uri":"wc:x"}`)
			require.Equal(t, tc.status, rr.Code)
			require.Empty(t, rr.Header().Get("Retry-After"))
			var body errorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			require.Equal(t, string(tc.code), body.Code)
			if tc.code == apierrors.CodeInternal {
				require.Equal(t, "internal error", body.Message)
			}
		})
	}
}

func TestHandlePairValidatesBody(t *testing.T) {
	op := &stubOperator{}
	rr := serve(t, op, http.MethodPost, "/pair", `{`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	rr = serve(t, op, http.MethodPost, "/pair", `{"uri":"  "}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	rr = serve(t, op, http.MethodGet, "/pair", ``)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Empty(t, op.uris)
}

func TestHandleSessions(t *testing.T) {
	rr := serve(t, activeStub(), http.MethodGet, "/sessions", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Sessions []map[string]any `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Sessions, 1)
	require.Equal(t, "abc", body.Sessions[0]["topic"])
	require.Equal(t, "ACTIVE", body.Sessions[0]["status"])

	rr = serve(t, &stubOperator{}, http.MethodGet, "/sessions", "")
	require.JSONEq(t, `{"sessions":[]}`, rr.Body.String())
}

func TestHandleSessionByTopic(t *testing.T) {
	rr := serve(t, activeStub(), http.MethodGet, "/sessions/abc", "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = serve(t, activeStub(), http.MethodGet, "/sessions/missing", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	var body errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, string(apierrors.CodeSessionNotFound), body.Code)
}

func TestHandleStatus(t *testing.T) {
	rr := serve(t, activeStub(), http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var snap wallet.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	require.Equal(t, wallet.StateActive, snap.Status.State)
	require.Equal(t, "0x9965507D1a55bcC2695C58ba16FB37d819B0A4dc", snap.Address)
}

func TestHandlePairings(t *testing.T) {
	rr := serve(t, &stubOperator{pairings: []pairing.Pairing{{Topic: "abc", Version: "2"}}}, http.MethodGet, "/pairings", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"topic":"abc"`)
}
