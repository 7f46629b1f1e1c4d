package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed 表示 transport 已关闭。
var ErrClosed = errors.New("transport closed")

// Memory 是进程内的 Transport 实现，用于本地演练与测试。
// Deliver 模拟远端应用投递消息，Published 返回本端发出的消息。
type Memory struct {
	events  chan Event
	closeMu sync.RWMutex

	mu         sync.Mutex
	topics     map[string][]byte
	published  []Published
	closed     bool
	subscribeF func(ctx context.Context, topic string) error
	publishF   func(ctx context.Context, topic string, msg Message) error
}

// Published 记录一次发布。
type Published struct {
	Topic   string
	Message Message
}

// MemoryOption 自定义 Memory 行为。
type MemoryOption func(*Memory)

// WithSubscribeHook 在订阅时调用 fn，返回错误即订阅失败。
func WithSubscribeHook(fn func(ctx context.Context, topic string) error) MemoryOption {
	return func(m *Memory) { m.subscribeF = fn }
}

// WithPublishHook 在发布时调用 fn，返回错误即发布失败。
func WithPublishHook(fn func(ctx context.Context, topic string, msg Message) error) MemoryOption {
	return func(m *Memory) { m.publishF = fn }
}

// NewMemory 创建带缓冲事件流的 Memory transport。
func NewMemory(buffer int, opts ...MemoryOption) *Memory {
	if buffer <= 0 {
		buffer = 64
	}
	m := &Memory{
		events: make(chan Event, buffer),
		topics: make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Subscribe(ctx context.Context, topic string, symKey []byte) error {
	if m.subscribeF != nil {
		if err := m.subscribeF(ctx, topic); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.topics[topic] = append([]byte(nil), symKey...)
	return nil
}

func (m *Memory) Unsubscribe(_ context.Context, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.topics, topic)
	return nil
}

func (m *Memory) Publish(ctx context.Context, topic string, msg Message) error {
	if m.publishF != nil {
		if err := m.publishF(ctx, topic, msg); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.published = append(m.published, Published{Topic: topic, Message: msg})
	return nil
}

func (m *Memory) Events() <-chan Event { return m.events }

func (m *Memory) Close() error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.events)
	return nil
}

// Deliver 模拟远端在 topic 上发送 msg；未订阅的 topic 会被丢弃并返回 false。
func (m *Memory) Deliver(topic string, msg Message) bool {
	m.closeMu.RLock()
	defer m.closeMu.RUnlock()
	m.mu.Lock()
	_, subscribed := m.topics[topic]
	closed := m.closed
	m.mu.Unlock()
	if !subscribed || closed {
		return false
	}
	m.events <- Event{Type: Classify(msg), Topic: topic, Message: msg}
	return true
}

// Subscribed 判断 topic 是否已订阅。
func (m *Memory) Subscribed(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.topics[topic]
	return ok
}

// Published 返回已发布消息的副本。
func (m *Memory) Published() []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Published(nil), m.published...)
}

var _ Transport = (*Memory)(nil)
