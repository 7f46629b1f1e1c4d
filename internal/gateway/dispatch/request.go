package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/aegis-sign/wcsigner/internal/transport"
	"github.com/aegis-sign/wcsigner/pkg/apierrors"
)

// Request 是 topic 上的一次签名请求。
type Request struct {
	ID      int64
	Topic   string
	ChainID string
	Method  string
	Params  []json.RawMessage
}

// Response 与 Request 按 (Topic, ID) 一一对应，Result 与 Error 只有一个有值。
type Response struct {
	ID     int64
	Topic  string
	Result string
	Error  *transport.RPCError
}

// Message 将 Response 转为线路消息。
func (r Response) Message() transport.Message {
	if r.Error != nil {
		return transport.NewError(r.ID, r.Error.Code, r.Error.Message)
	}
	raw, _ := json.Marshal(r.Result)
	return transport.Message{JSONRPC: "2.0", ID: r.ID, Result: raw}
}

// ErrorResponse 按 err 的业务错误码构造错误应答。
func ErrorResponse(topic string, id int64, err error) Response {
	code := apierrors.CodeOf(err)
	message := err.Error()
	if code == apierrors.CodeInternal {
		message = "internal error"
	}
	return Response{ID: id, Topic: topic, Error: &transport.RPCError{Code: apierrors.WireCode(code), Message: message}}
}

type sessionRequestParams struct {
	ChainID string `json:"chainId"`
	Request struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	} `json:"request"`
}

// ParseRequest 解析 wc_sessionRequest 消息。params 可以是数组，也可以是单个值。
func ParseRequest(topic string, msg transport.Message) (Request, error) {
	var body sessionRequestParams
	if err := json.Unmarshal(msg.Params, &body); err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	if body.Request.Method == "" {
		return Request{}, fmt.Errorf("%w: request method is required", ErrInvalidParams)
	}
	req := Request{ID: msg.ID, Topic: topic, ChainID: body.ChainID, Method: body.Request.Method}
	if len(body.Request.Params) == 0 || string(body.Request.Params) == "null" {
		return req, nil
	}
	if err := json.Unmarshal(body.Request.Params, &req.Params); err != nil {
		req.Params = []json.RawMessage{body.Request.Params}
	}
	return req, nil
}

// NewSessionRequest 构造 wc_sessionRequest 消息，供测试与演练使用。
func NewSessionRequest(id int64, chainID, method string, params ...any) (transport.Message, error) {
	body := map[string]any{
		"chainId": chainID,
		"request": map[string]any{"method": method, "params": params},
	}
	return transport.NewRequest(id, transport.MethodSessionRequest, body)
}

func stringParam(req Request, idx int) (string, bool, error) {
	if idx >= len(req.Params) {
		return "", false, nil
	}
	var out string
	if err := json.Unmarshal(req.Params[idx], &out); err != nil {
		return "", true, fmt.Errorf("%w: param %d must be a string", ErrInvalidParams, idx)
	}
	return out, true, nil
}
