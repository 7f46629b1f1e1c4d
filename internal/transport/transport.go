package transport

import (
	"context"
	"encoding/json"
	"fmt"
)

// EventType 对入站消息做粗分类。
type EventType string

const (
	EventProposal      EventType = "proposal"
	EventRequest       EventType = "request"
	EventSessionDelete EventType = "session_delete"
	EventResponse      EventType = "response"
	EventOther         EventType = "other"
)

// relay 上的会话级 JSON-RPC 方法名。
const (
	MethodSessionPropose = "wc_sessionPropose"
	MethodSessionRequest = "wc_sessionRequest"
	MethodSessionDelete  = "wc_sessionDelete"
	MethodSessionPing    = "wc_sessionPing"
)

// RPCError 是 JSON-RPC 错误对象。
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Message 是 topic 上收发的 JSON-RPC 信封。
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// IsResponse 判断消息是否为对先前请求的应答。
func (m Message) IsResponse() bool {
	return m.Method == "" && (m.Result != nil || m.Error != nil)
}

// NewRequest 构造请求信封。
func NewRequest(id int64, method string, params any) (Message, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Message{}, err
	}
	return Message{JSONRPC: "2.0", ID: id, Method: method, Params: raw}, nil
}

// NewResult 构造成功应答。
func NewResult(id int64, result any) (Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Message{}, err
	}
	return Message{JSONRPC: "2.0", ID: id, Result: raw}, nil
}

// NewError 构造错误应答。
func NewError(id int64, code int, message string) Message {
	return Message{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
}

// Event 是 Transport 向上层交付的入站事件。
type Event struct {
	Type    EventType
	Topic   string
	Message Message
}

// Classify 根据 JSON-RPC 方法名判断事件类型。
func Classify(msg Message) EventType {
	if msg.IsResponse() {
		return EventResponse
	}
	switch msg.Method {
	case MethodSessionPropose:
		return EventProposal
	case MethodSessionRequest:
		return EventRequest
	case MethodSessionDelete:
		return EventSessionDelete
	default:
		return EventOther
	}
}

// Transport 是 relay 的抽象：按 topic 订阅、发布，并通过单一事件流交付入站消息。
type Transport interface {
	Subscribe(ctx context.Context, topic string, symKey []byte) error
	Unsubscribe(ctx context.Context, topic string) error
	Publish(ctx context.Context, topic string, msg Message) error
	Events() <-chan Event
	Close() error
}
