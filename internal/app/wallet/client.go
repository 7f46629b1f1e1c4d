package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aegis-sign/wcsigner/internal/gateway/dispatch"
	"github.com/aegis-sign/wcsigner/internal/infra/keystore"
	"github.com/aegis-sign/wcsigner/internal/namespace"
	"github.com/aegis-sign/wcsigner/internal/pairing"
	"github.com/aegis-sign/wcsigner/internal/session"
	"github.com/aegis-sign/wcsigner/internal/transport"
)

// Config 控制钱包客户端。
type Config struct {
	Capabilities namespace.Capabilities
	Metadata     namespace.Metadata
	Now          func() time.Time
	Logger       *slog.Logger
	Metrics      *Metrics
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Deps 是客户端依赖的协作者，全部必填。
type Deps struct {
	Transport  transport.Transport
	Negotiator *pairing.Negotiator
	Registry   *session.Registry
	Dispatcher *dispatch.Dispatcher
	Store      keystore.Store
}

// Client 消费 transport 事件流，把提议、请求与删除按 topic 顺序路由到各组件。
type Client struct {
	cfg        Config
	logger     *slog.Logger
	metrics    *Metrics
	transport  transport.Transport
	negotiator *pairing.Negotiator
	registry   *session.Registry
	dispatcher *dispatch.Dispatcher
	accounts   map[string]string
	events     *Broadcaster
}

// New 构造 Client，并确认每个已配置命名空间都有本地地址。
func New(cfg Config, deps Deps) (*Client, error) {
	if deps.Transport == nil || deps.Negotiator == nil || deps.Registry == nil || deps.Dispatcher == nil || deps.Store == nil {
		return nil, errors.New("wallet: transport, negotiator, registry, dispatcher and store are required")
	}
	normalized := cfg.normalize()
	if err := normalized.Capabilities.Validate(); err != nil {
		return nil, fmt.Errorf("wallet capabilities: %w", err)
	}
	accounts, err := keystore.Accounts(deps.Store, normalized.Capabilities.Namespaces())
	if err != nil {
		return nil, fmt.Errorf("resolve wallet accounts: %w", err)
	}
	return &Client{
		cfg:        normalized,
		logger:     normalized.Logger,
		metrics:    normalized.Metrics,
		transport:  deps.Transport,
		negotiator: deps.Negotiator,
		registry:   deps.Registry,
		dispatcher: deps.Dispatcher,
		accounts:   accounts,
		events:     newBroadcaster(normalized.Now),
	}, nil
}

// Events 返回展示层事件广播器。
func (c *Client) Events() *Broadcaster { return c.events }

// Status 返回最近的连接状态快照。
func (c *Client) Status() Snapshot { return c.events.Snapshot() }

// Sessions 返回所有会话记录。
func (c *Client) Sessions() []session.Session { return c.registry.List() }

// Session 查询单个 topic 的会话。
func (c *Client) Session(topic string) (session.Session, error) { return c.registry.Lookup(topic) }

// Pairings 返回已建立的配对。
func (c *Client) Pairings() []pairing.Pairing { return c.negotiator.Pairings() }

// Address 返回首个已配置命名空间的本地地址。
func (c *Client) Address() string {
	for _, ns := range c.cfg.Capabilities.Namespaces() {
		if addr := c.accounts[ns]; addr != "" {
			return addr
		}
	}
	return ""
}

// Pair 订阅 URI 指定的 topic。成功后等待远端提议，会话由事件循环创建。
func (c *Client) Pair(ctx context.Context, uri string) (string, error) {
	c.events.status(StatePairing, "", "")
	topic, err := c.negotiator.Pair(ctx, uri)
	if err != nil {
		c.events.status(StateFailed, "", err.Error())
		return "", err
	}
	c.events.status(StatePairing, topic, "")
	c.events.address(c.Address())
	return topic, nil
}

// Run 消费事件流直到 ctx 取消或 transport 关闭。
func (c *Client) Run(ctx context.Context) error {
	events := c.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				c.logger.Warn("transport event stream closed")
				c.events.status(StateDisconnected, "", "transport closed")
				return nil
			}
			c.handle(ev)
		}
	}
}

func (c *Client) handle(ev transport.Event) {
	c.metrics.incEvent(string(ev.Type))
	switch ev.Type {
	case transport.EventProposal:
		c.schedule(ev, c.handleProposal)
	case transport.EventRequest:
		c.handleRequest(ev)
	case transport.EventSessionDelete:
		c.schedule(ev, c.handleDelete)
	case transport.EventResponse:
		c.logger.Debug("ignoring response", slog.String("topic", ev.Topic), slog.Int64("id", ev.Message.ID))
	default:
		if ev.Message.Method == transport.MethodSessionPing {
			c.schedule(ev, c.handlePing)
			return
		}
		c.logger.Warn("unsupported relay method", slog.String("topic", ev.Topic), slog.String("method", ev.Message.Method))
		if ev.Message.ID != 0 {
			c.dispatcher.Fail(ev.Topic, ev.Message.ID, dispatch.ErrMethodNotImplemented)
		}
	}
}

// schedule 把会话事件放入 topic 通道，与同 topic 的请求保持到达顺序。
func (c *Client) schedule(ev transport.Event, fn func(context.Context, transport.Event)) {
	err := c.dispatcher.Schedule(ev.Topic, func(ctx context.Context) { fn(ctx, ev) })
	if err == nil {
		return
	}
	c.logger.Warn("session event dropped", slog.String("topic", ev.Topic), slog.String("type", string(ev.Type)), slog.Any("err", err))
	if errors.Is(err, dispatch.ErrQueueFull) {
		c.dispatcher.Fail(ev.Topic, ev.Message.ID, err)
	}
}

func (c *Client) handleRequest(ev transport.Event) {
	req, err := dispatch.ParseRequest(ev.Topic, ev.Message)
	if err != nil {
		c.dispatcher.Fail(ev.Topic, ev.Message.ID, err)
		return
	}
	err = c.dispatcher.Enqueue(req, c.registry.LookupActive)
	switch {
	case err == nil:
	case errors.Is(err, dispatch.ErrDuplicateRequest):
		c.logger.Debug("duplicate request dropped", slog.String("topic", req.Topic), slog.Int64("id", req.ID))
	case errors.Is(err, dispatch.ErrQueueFull), errors.Is(err, dispatch.ErrRateLimited):
		c.dispatcher.Fail(req.Topic, req.ID, err)
	default:
		c.logger.Warn("request dropped", slog.String("topic", req.Topic), slog.Int64("id", req.ID), slog.Any("err", err))
	}
}

func (c *Client) handleDelete(ctx context.Context, ev transport.Event) {
	sess, err := c.registry.Expire(ev.Topic)
	if errors.Is(err, session.ErrInvalidTransition) && sess.Status == session.StatusPending {
		_, err = c.registry.Reject(ev.Topic, "deleted by peer")
	}
	if err != nil {
		c.logger.Warn("session delete for unknown or finished session", slog.String("topic", ev.Topic), slog.Any("err", err))
	} else {
		c.logger.Info("session deleted by peer", slog.String("topic", ev.Topic))
	}
	if ev.Message.ID != 0 {
		if msg, err := transport.NewResult(ev.Message.ID, true); err == nil {
			_ = c.dispatcher.Reply(ctx, ev.Topic, msg)
		}
	}
	if err := c.negotiator.Forget(ctx, ev.Topic); err != nil {
		c.logger.Warn("unsubscribe failed", slog.String("topic", ev.Topic), slog.Any("err", err))
	}
	c.dispatcher.CloseTopic(ev.Topic)
	if c.activeSessions() == 0 {
		c.events.status(StateDisconnected, ev.Topic, "")
	}
}

func (c *Client) handlePing(ctx context.Context, ev transport.Event) {
	if _, err := c.registry.LookupActive(ev.Topic); err != nil {
		c.dispatcher.Fail(ev.Topic, ev.Message.ID, err)
		return
	}
	msg, err := transport.NewResult(ev.Message.ID, true)
	if err != nil {
		return
	}
	_ = c.dispatcher.Reply(ctx, ev.Topic, msg)
}

func (c *Client) activeSessions() int {
	n := 0
	for _, s := range c.registry.List() {
		if s.Active() {
			n++
		}
	}
	return n
}
