package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aegis-sign/wcsigner/internal/transport"
	"github.com/aegis-sign/wcsigner/pkg/apierrors"
)

var (
	// ErrInvalidURI 表示配对 URI 结构不合法。
	ErrInvalidURI = apierrors.New(apierrors.CodeInvalidURI, "invalid pairing uri")
	// ErrAlreadyPairing 表示已有配对在进行中，或 topic 已配对。
	ErrAlreadyPairing = apierrors.New(apierrors.CodeAlreadyPairing, "pairing already in progress")
	// ErrTransportFailure 表示 relay 不可达或握手超时。
	ErrTransportFailure = apierrors.New(apierrors.CodeTransportFailure, "relay transport failure")
)

// Config 控制 Negotiator 行为。
type Config struct {
	HandshakeTimeout time.Duration
	Now              func() time.Time
	Logger           *slog.Logger
	Metrics          *Metrics
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Pairing 记录一次成功建立的配对。
type Pairing struct {
	Topic         string    `json:"topic"`
	Version       string    `json:"version"`
	RelayProtocol string    `json:"relayProtocol"`
	PairedAt      time.Time `json:"pairedAt"`
	ExpiresAt     time.Time `json:"expiresAt,omitempty"`
}

// Negotiator 将配对 URI 转换为已订阅的 transport topic。
type Negotiator struct {
	cfg       Config
	transport transport.Transport
	logger    *slog.Logger
	metrics   *Metrics

	pending atomic.Bool

	mu       sync.Mutex
	pairings map[string]Pairing
}

// NewNegotiator 构造 Negotiator。
func NewNegotiator(tr transport.Transport, cfg Config) (*Negotiator, error) {
	if tr == nil {
		return nil, errors.New("transport is required")
	}
	normalized := cfg.normalize()
	return &Negotiator{
		cfg:       normalized,
		transport: tr,
		logger:    normalized.Logger,
		metrics:   normalized.Metrics,
		pairings:  make(map[string]Pairing),
	}, nil
}

// Pair 解析 URI 并在 relay 上订阅对应 topic。失败时不留下任何配对记录。
func (n *Negotiator) Pair(ctx context.Context, raw string) (string, error) {
	if !n.pending.CompareAndSwap(false, true) {
		n.metrics.incAttempt(outcomeAlreadyPairing)
		return "", ErrAlreadyPairing
	}
	defer n.pending.Store(false)

	uri, err := ParseURI(raw, n.cfg.Now())
	if err != nil {
		n.metrics.incAttempt(outcomeInvalidURI)
		return "", err
	}
	n.mu.Lock()
	_, paired := n.pairings[uri.Topic]
	n.mu.Unlock()
	if paired {
		n.metrics.incAttempt(outcomeAlreadyPairing)
		return "", fmt.Errorf("%w: topic %s already paired", ErrAlreadyPairing, uri.Topic)
	}

	start := time.Now()
	subCtx, cancel := context.WithTimeout(ctx, n.cfg.HandshakeTimeout)
	defer cancel()
	if err := n.transport.Subscribe(subCtx, uri.Topic, uri.SymKey); err != nil {
		n.metrics.incAttempt(outcomeTransportFailure)
		n.logger.Warn("pairing subscribe failed", slog.String("topic", uri.Topic), slog.Any("err", err))
		return "", fmt.Errorf("%w: %w", ErrTransportFailure, err)
	}
	n.metrics.observeHandshake(time.Since(start))

	n.mu.Lock()
	n.pairings[uri.Topic] = Pairing{
		Topic:         uri.Topic,
		Version:       uri.Version,
		RelayProtocol: uri.RelayProtocol,
		PairedAt:      n.cfg.Now(),
		ExpiresAt:     uri.ExpiresAt,
	}
	n.mu.Unlock()
	n.metrics.incAttempt(outcomeSuccess)
	n.logger.Info("pairing established", slog.String("topic", uri.Topic), slog.String("relay_protocol", uri.RelayProtocol))
	return uri.Topic, nil
}

// Forget 取消 topic 订阅并移除配对记录。
func (n *Negotiator) Forget(ctx context.Context, topic string) error {
	n.mu.Lock()
	_, ok := n.pairings[topic]
	delete(n.pairings, topic)
	n.mu.Unlock()
	if !ok {
		return nil
	}
	return n.transport.Unsubscribe(ctx, topic)
}

// Pairings 返回当前配对列表（按建立时间排序）。
func (n *Negotiator) Pairings() []Pairing {
	n.mu.Lock()
	out := make([]Pairing, 0, len(n.pairings))
	for _, p := range n.pairings {
		out = append(out, p)
	}
	n.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PairedAt.Before(out[j].PairedAt) })
	return out
}

// Pending 报告是否有配对正在进行。
func (n *Negotiator) Pending() bool {
	return n.pending.Load()
}
