package operatorapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aegis-sign/wcsigner/internal/pairing"
	"github.com/aegis-sign/wcsigner/internal/session"
	"github.com/aegis-sign/wcsigner/pkg/apierrors"
)

// HTTPHandler 实现运维 HTTP/JSON 接口。
type HTTPHandler struct {
	operator Operator
}

// NewHTTPHandler 构造 HTTP handler。
func NewHTTPHandler(operator Operator) *HTTPHandler {
	if operator == nil {
		panic("operator is required")
	}
	return &HTTPHandler{operator: operator}
}

// Register 将 handler 注册到 mux。
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/pair", h.handlePair)
	mux.HandleFunc("/sessions", h.handleSessions)
	mux.HandleFunc("/sessions/", h.handleSession)
	mux.HandleFunc("/pairings", h.handlePairings)
	mux.HandleFunc("/status", h.handleStatus)
}

type pairRequestBody struct {
	URI string `json:"uri"`
}

type pairResponseBody struct {
	Topic string `json:"topic"`
}

type sessionsResponseBody struct {
	Sessions []session.Session `json:"sessions"`
}

type pairingsResponseBody struct {
	Pairings []pairing.Pairing `json:"pairings"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *HTTPHandler) handlePair(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeAPIError(w, apierrors.New(apierrors.CodeInvalidArgument, "POST required"))
		return
	}
	var body pairRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeAPIError(w, apierrors.New(apierrors.CodeInvalidArgument, "invalid JSON body"))
		return
	}
	if strings.TrimSpace(body.URI) == "" {
		h.writeAPIError(w, apierrors.New(apierrors.CodeInvalidArgument, "uri is required"))
		return
	}
	topic, err := h.operator.Pair(r.Context(), body.URI)
	if err != nil {
		h.writeUnknownError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, pairResponseBody{Topic: topic})
}

func (h *HTTPHandler) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeAPIError(w, apierrors.New(apierrors.CodeInvalidArgument, "GET required"))
		return
	}
	sessions := h.operator.Sessions()
	if sessions == nil {
		sessions = []session.Session{}
	}
	h.writeJSON(w, http.StatusOK, sessionsResponseBody{Sessions: sessions})
}

func (h *HTTPHandler) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeAPIError(w, apierrors.New(apierrors.CodeInvalidArgument, "GET required"))
		return
	}
	topic := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if topic == "" || strings.Contains(topic, "/") {
		h.writeAPIError(w, apierrors.New(apierrors.CodeInvalidArgument, "topic is required"))
		return
	}
	sess, err := h.operator.Session(topic)
	if err != nil {
		h.writeUnknownError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sess)
}

func (h *HTTPHandler) handlePairings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeAPIError(w, apierrors.New(apierrors.CodeInvalidArgument, "GET required"))
		return
	}
	pairings := h.operator.Pairings()
	if pairings == nil {
		pairings = []pairing.Pairing{}
	}
	h.writeJSON(w, http.StatusOK, pairingsResponseBody{Pairings: pairings})
}

func (h *HTTPHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeAPIError(w, apierrors.New(apierrors.CodeInvalidArgument, "GET required"))
		return
	}
	h.writeJSON(w, http.StatusOK, h.operator.Status())
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *HTTPHandler) writeUnknownError(w http.ResponseWriter, err error) {
	if apiErr, ok := apierrors.FromError(err); ok {
		// 使用包装链上的完整错误文本。
		h.writeAPIError(w, apierrors.New(apiErr.Code, err.Error()))
		return
	}
	h.writeAPIError(w, apierrors.New(apierrors.CodeInternal, "internal error"))
}

func (h *HTTPHandler) writeAPIError(w http.ResponseWriter, apiErr *apierrors.Error) {
	if apiErr == nil {
		apiErr = apierrors.New(apierrors.CodeInternal, "internal error")
	}
	h.writeJSON(w, apierrors.HTTPStatus(apiErr.Code), errorResponse{
		Code:    string(apiErr.Code),
		Message: apiErr.Error(),
	})
}
