package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aegis-sign/wcsigner/internal/namespace"
	"github.com/aegis-sign/wcsigner/pkg/apierrors"
)

var (
	// ErrNotFound 表示 topic 没有会话，或会话不处于 Active。
	ErrNotFound = apierrors.New(apierrors.CodeSessionNotFound, "session not found")
	// ErrDuplicateTopic 表示 topic 上已有未结束的会话。
	ErrDuplicateTopic = apierrors.New(apierrors.CodeDuplicateTopic, "session already exists for topic")
	// ErrInvalidTransition 表示状态迁移不合法。
	ErrInvalidTransition = apierrors.New(apierrors.CodeInvalidTransition, "invalid session transition")
)

const defaultTTL = 7 * 24 * time.Hour

// Persister 在每次状态迁移后接收会话快照。
type Persister interface {
	Save(ctx context.Context, s Session) error
	LoadAll(ctx context.Context) ([]Session, error)
}

// Option 自定义 Registry。
type Option func(*Registry)

// WithClock 替换时间来源。
func WithClock(clock Clock) Option {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLogger 设置日志。
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics 设置指标。
func WithMetrics(metrics *Metrics) Option {
	return func(r *Registry) { r.metrics = metrics }
}

// WithPersister 启用写穿持久化。
func WithPersister(p Persister) Option {
	return func(r *Registry) { r.persister = p }
}

// WithTTL 设置激活后会话的有效期。
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// Registry 持有 topic → Session 映射，所有迁移在同一把锁内完成检查与写入。
type Registry struct {
	clock     Clock
	logger    *slog.Logger
	metrics   *Metrics
	persister Persister
	ttl       time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry 构造 Registry。
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		clock:    NewRealClock(),
		logger:   slog.Default(),
		ttl:      defaultTTL,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RestoredReason 记录重启后未重新订阅而结束的会话。
const RestoredReason = "not resubscribed after restart"

// Restore 从持久化层加载会话，已存在的 topic 不会被覆盖。重启后 topic 未重新订阅，
// 未结束的记录会被结束（Active→Expired，Pending→Rejected）并写回持久化层。
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.persister == nil {
		return 0, nil
	}
	loaded, err := r.persister.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load sessions: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	restored := 0
	for i := range loaded {
		s := loaded[i].clone()
		if _, exists := r.sessions[s.Topic]; exists {
			continue
		}
		r.sessions[s.Topic] = &s
		r.metrics.transition("", s.Status)
		restored++
		if s.Status.Terminal() {
			continue
		}
		from := s.Status
		s.Status = StatusExpired
		if from == StatusPending {
			s.Status = StatusRejected
		}
		s.RejectReason = RestoredReason
		s.UpdatedAt = r.clock.Now()
		r.commit(&s, from)
	}
	return restored, nil
}

// RecordPending 为新提议登记 Pending 会话。topic 上已有 Pending/Active 会话时返回 ErrDuplicateTopic，原会话不变。
func (r *Registry) RecordPending(topic string, proposalID int64, proposer namespace.Metadata) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[topic]; ok && !existing.Status.Terminal() {
		return existing.clone(), fmt.Errorf("%w: topic %s is %s", ErrDuplicateTopic, topic, existing.Status)
	}
	var from Status
	if existing, ok := r.sessions[topic]; ok {
		from = existing.Status
	}
	now := r.clock.Now()
	s := &Session{
		Topic:      topic,
		ProposalID: proposalID,
		Proposer:   proposer,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.sessions[topic] = s
	r.commit(s, from)
	return s.clone(), nil
}

// Activate 将 Pending 会话置为 Active。对 Active 会话以相同命名空间重复调用是幂等的，
// 命名空间不同则返回 ErrDuplicateTopic。
func (r *Registry) Activate(topic string, approved namespace.ApprovedNamespaces) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[topic]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, topic)
	}
	if s.Status == StatusActive {
		if s.Approved.Equal(approved) {
			return s.clone(), nil
		}
		return s.clone(), fmt.Errorf("%w: topic %s already active with different namespaces", ErrDuplicateTopic, topic)
	}
	if !canTransition(s.Status, StatusActive) {
		return s.clone(), fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, StatusActive)
	}
	now := r.clock.Now()
	from := s.Status
	s.Status = StatusActive
	s.Approved = approved.Clone()
	s.UpdatedAt = now
	s.ExpiresAt = now.Add(r.ttl)
	r.commit(s, from)
	return s.clone(), nil
}

// Reject 将 Pending 会话置为 Rejected。
func (r *Registry) Reject(topic, reason string) (Session, error) {
	return r.finish(topic, StatusRejected, reason)
}

// Expire 在传输层报告会话删除后将 Active 会话置为 Expired。
func (r *Registry) Expire(topic string) (Session, error) {
	return r.finish(topic, StatusExpired, "")
}

func (r *Registry) finish(topic string, to Status, reason string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[topic]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, topic)
	}
	if !canTransition(s.Status, to) {
		return s.clone(), fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	from := s.Status
	s.Status = to
	s.RejectReason = reason
	s.UpdatedAt = r.clock.Now()
	r.commit(s, from)
	return s.clone(), nil
}

// Lookup 返回 topic 上的会话，不论状态。
func (r *Registry) Lookup(topic string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[topic]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, topic)
	}
	return s.clone(), nil
}

// LookupActive 只返回 Active 会话，其余情况一律视为不存在。
func (r *Registry) LookupActive(topic string) (Session, error) {
	s, err := r.Lookup(topic)
	if err != nil {
		return Session{}, err
	}
	if !s.Active() {
		return Session{}, fmt.Errorf("%w: %s is %s", ErrNotFound, topic, s.Status)
	}
	return s, nil
}

// List 返回全部会话（按创建时间排序）。
func (r *Registry) List() []Session {
	r.mu.Lock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.clone())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Topic < out[j].Topic
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// commit 在持锁状态下记录迁移并写穿持久化；持久化失败只记录日志。
func (r *Registry) commit(s *Session, from Status) {
	r.metrics.transition(from, s.Status)
	r.logger.Info("session transition",
		slog.String("topic", s.Topic),
		slog.String("from", string(from)),
		slog.String("to", s.Status.String()),
		slog.Int64("proposal_id", s.ProposalID))
	if r.persister == nil {
		return
	}
	if err := r.persister.Save(context.Background(), s.clone()); err != nil {
		r.metrics.incPersistFail()
		r.logger.Warn("session persist failed", slog.String("topic", s.Topic), slog.Any("err", err))
	}
}
