package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aegis-sign/wcsigner/internal/infra/keystore"
	"github.com/aegis-sign/wcsigner/internal/session"
	"github.com/aegis-sign/wcsigner/internal/transport"
	"github.com/aegis-sign/wcsigner/pkg/apierrors"
)

var (
	// ErrMethodNotSupported 表示方法不在会话批准的命名空间内。
	ErrMethodNotSupported = apierrors.New(apierrors.CodeMethodNotSupported, "method not supported by session")
	// ErrMethodNotImplemented 表示方法没有注册处理器。
	ErrMethodNotImplemented = apierrors.New(apierrors.CodeMethodNotImplemented, "method not implemented")
	// ErrInvalidParams 表示请求参数无法解析。
	ErrInvalidParams = apierrors.New(apierrors.CodeInvalidParams, "invalid params")
	// ErrQueueFull 表示 topic 队列已满。
	ErrQueueFull = apierrors.New(apierrors.CodeRetryLater, "dispatch queue full")
	// ErrRateLimited 表示 topic 命中速率限制。
	ErrRateLimited = apierrors.New(apierrors.CodeRetryLater, "dispatch rate limited")
	// ErrDuplicateRequest 表示同一 id 正在处理或已应答。
	ErrDuplicateRequest = errors.New("duplicate request id")
	// ErrClosed 表示 Dispatcher 已关闭。
	ErrClosed = errors.New("dispatcher closed")
)

// Publisher 把应答发回 relay，transport.Transport 满足该接口。
type Publisher interface {
	Publish(ctx context.Context, topic string, msg transport.Message) error
}

// Option 自定义 Dispatcher。
type Option func(*Dispatcher)

// WithHandler 注册或覆盖 method 的处理器。
func WithHandler(method string, h Handler) Option {
	return func(d *Dispatcher) { d.handlers[method] = h }
}

// Dispatcher 为每个 topic 维护一条 FIFO 通道：同一 topic 的任务按到达顺序执行，
// 不同 topic 之间并发。
type Dispatcher struct {
	cfg       Config
	store     keystore.Store
	publisher Publisher
	handlers  map[string]Handler
	logger    *slog.Logger
	metrics   *Metrics

	mu        sync.Mutex
	lanes     map[string]*lane
	rateLimit float64
	closed    bool

	wg sync.WaitGroup
}

// lane 是单个 topic 的任务队列与去重状态，字段由 Dispatcher.mu 保护。
type lane struct {
	topic    string
	tasks    chan func(context.Context)
	limiter  *rate.Limiter
	inflight map[int64]struct{}
	answered map[int64]struct{}
	order    []int64
}

// NewDispatcher 构造 Dispatcher。
func NewDispatcher(cfg Config, store keystore.Store, publisher Publisher, opts ...Option) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("key store is required")
	}
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	normalized := cfg.normalize()
	d := &Dispatcher{
		cfg:       normalized,
		store:     store,
		publisher: publisher,
		handlers:  defaultHandlers(),
		logger:    normalized.Logger,
		metrics:   normalized.Metrics,
		lanes:     make(map[string]*lane),
		rateLimit: normalized.RateLimit,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch 同步处理一个请求并返回应答，不会 panic。
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, sess session.Session) Response {
	start := time.Now()
	resp := d.dispatch(ctx, req, sess)
	outcome := "success"
	if resp.Error != nil {
		outcome = strconv.Itoa(resp.Error.Code)
	}
	d.metrics.observeRequest(req.Method, outcome, time.Since(start))
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request, sess session.Session) Response {
	if !sess.Approved.Allows(req.ChainID, req.Method) {
		d.logger.Warn("request method not approved",
			slog.String("topic", req.Topic), slog.Int64("id", req.ID),
			slog.String("method", req.Method), slog.String("chain_id", req.ChainID))
		return ErrorResponse(req.Topic, req.ID, ErrMethodNotSupported)
	}
	handler, ok := d.handlers[req.Method]
	if !ok {
		return ErrorResponse(req.Topic, req.ID, ErrMethodNotImplemented)
	}
	result, err := d.invoke(ctx, handler, req, sess)
	if err != nil {
		d.logger.Warn("request failed",
			slog.String("topic", req.Topic), slog.Int64("id", req.ID),
			slog.String("method", req.Method), slog.Any("err", err))
		return ErrorResponse(req.Topic, req.ID, err)
	}
	return Response{ID: req.ID, Topic: req.Topic, Result: result}
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, req Request, sess session.Session) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("request handler panic", slog.String("method", req.Method), slog.Any("panic", r))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, d.store, req, sess)
}

// SessionLookup 在请求执行时解析 topic 对应的 Active 会话，session.Registry.LookupActive 满足该签名。
type SessionLookup func(topic string) (session.Session, error)

// Fixed 返回总是给出 sess 的 SessionLookup。
func Fixed(sess session.Session) SessionLookup {
	return func(string) (session.Session, error) { return sess, nil }
}

// Enqueue 将请求放入 topic 通道，轮到它时经 lookup 取会话、分发，并在同一 topic 上发布应答。
// 会话在同一通道上按事件顺序变更，因此 lookup 看到的是请求到达时的会话状态。
func (d *Dispatcher) Enqueue(req Request, lookup SessionLookup) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	l := d.laneLocked(req.Topic)
	if l.seen(req.ID) {
		d.metrics.incDropped("duplicate")
		return ErrDuplicateRequest
	}
	if l.limiter != nil && !l.limiter.Allow() {
		d.metrics.incDropped("rate_limited")
		return ErrRateLimited
	}
	l.inflight[req.ID] = struct{}{}
	err := d.pushLocked(l, func(ctx context.Context) {
		var resp Response
		if sess, err := lookup(req.Topic); err != nil {
			resp = ErrorResponse(req.Topic, req.ID, err)
		} else {
			resp = d.Dispatch(ctx, req, sess)
		}
		d.reply(ctx, resp)
		d.markAnswered(l, req.ID)
	})
	if err != nil {
		delete(l.inflight, req.ID)
		d.metrics.incDropped("queue_full")
		return err
	}
	return nil
}

// Schedule 在 topic 通道上执行 fn，用于需要与请求保持顺序的会话事件。
func (d *Dispatcher) Schedule(topic string, fn func(ctx context.Context)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return d.pushLocked(d.laneLocked(topic), fn)
}

// Fail 以 cause 对应的错误码应答请求。优先走 topic 通道以保持顺序，通道已满时直接发送。
func (d *Dispatcher) Fail(topic string, id int64, cause error) {
	resp := ErrorResponse(topic, id, cause)
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("dispatcher closed, dropping error response", slog.String("topic", topic), slog.Int64("id", id))
		return
	}
	l := d.laneLocked(topic)
	if l.seen(id) {
		d.mu.Unlock()
		d.metrics.incDropped("duplicate")
		return
	}
	l.inflight[id] = struct{}{}
	task := func(ctx context.Context) {
		d.reply(ctx, resp)
		d.markAnswered(l, id)
	}
	if err := d.pushLocked(l, task); err != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			task(context.Background())
		}()
	}
	d.mu.Unlock()
}

// CloseTopic 关闭 topic 通道；已入队的任务仍会执行完毕。
func (d *Dispatcher) CloseTopic(topic string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.lanes[topic]; ok {
		delete(d.lanes, topic)
		close(l.tasks)
	}
}

// Close 关闭所有通道并等待任务完成。
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for topic, l := range d.lanes {
			delete(d.lanes, topic)
			close(l.tasks)
		}
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// UpdateRateLimit 热更新每个 topic 的速率限制。
func (d *Dispatcher) UpdateRateLimit(rateValue float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rateLimit = rateValue
	for _, l := range d.lanes {
		l.limiter = d.newLimiter()
	}
}

func (d *Dispatcher) newLimiter() *rate.Limiter {
	if d.rateLimit <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(d.rateLimit), d.cfg.RateBurst)
}

func (d *Dispatcher) laneLocked(topic string) *lane {
	if l, ok := d.lanes[topic]; ok {
		return l
	}
	l := &lane{
		topic:    topic,
		tasks:    make(chan func(context.Context), d.cfg.MaxQueue),
		limiter:  d.newLimiter(),
		inflight: make(map[int64]struct{}),
		answered: make(map[int64]struct{}),
	}
	d.lanes[topic] = l
	d.metrics.setLanes(len(d.lanes))
	d.wg.Add(1)
	go d.runLane(l)
	return l
}

func (d *Dispatcher) pushLocked(l *lane, fn func(context.Context)) error {
	select {
	case l.tasks <- fn:
		d.metrics.incQueueDepth()
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) runLane(l *lane) {
	defer d.wg.Done()
	for task := range l.tasks {
		d.metrics.decQueueDepth()
		d.runTask(l.topic, task)
	}
	d.mu.Lock()
	d.metrics.setLanes(len(d.lanes))
	d.mu.Unlock()
}

func (d *Dispatcher) runTask(topic string, task func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.HandlerTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("lane task panic", slog.String("topic", topic), slog.Any("panic", r))
		}
	}()
	task(ctx)
}

// reply 发布应答；失败只记录，不重试。
func (d *Dispatcher) reply(ctx context.Context, resp Response) {
	if err := d.Reply(ctx, resp.Topic, resp.Message()); err != nil {
		return
	}
	d.logger.Debug("response published", slog.String("topic", resp.Topic), slog.Int64("id", resp.ID), slog.Bool("error", resp.Error != nil))
}

// Reply 在 topic 上发布一条消息，使用发布超时且不重试，失败会被记录与计数。
func (d *Dispatcher) Reply(ctx context.Context, topic string, msg transport.Message) error {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.PublishTimeout)
	defer cancel()
	if err := d.publisher.Publish(pubCtx, topic, msg); err != nil {
		d.metrics.incPublishFail()
		d.logger.Error("response publish failed",
			slog.String("topic", topic), slog.Int64("id", msg.ID), slog.Any("err", err))
		return err
	}
	return nil
}

func (d *Dispatcher) markAnswered(l *lane, id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(l.inflight, id)
	if _, ok := l.answered[id]; ok {
		return
	}
	l.answered[id] = struct{}{}
	l.order = append(l.order, id)
	if len(l.order) > d.cfg.DedupSize {
		evict := l.order[0]
		l.order = l.order[1:]
		delete(l.answered, evict)
	}
}

func (l *lane) seen(id int64) bool {
	if _, ok := l.inflight[id]; ok {
		return true
	}
	_, ok := l.answered[id]
	return ok
}
