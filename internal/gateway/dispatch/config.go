package dispatch

import (
	"log/slog"
	"time"
)

// Config 控制 Dispatcher 行为。
type Config struct {
	// MaxQueue 是单个 topic 的待处理上限。
	MaxQueue int
	// RateLimit 是单个 topic 每秒允许入队的请求数，<=0 表示不限速。
	RateLimit float64
	RateBurst int
	// DedupSize 是每个 topic 记住的已应答请求 id 数量。
	DedupSize      int
	HandlerTimeout time.Duration
	PublishTimeout time.Duration
	Logger         *slog.Logger
	Metrics        *Metrics
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = 64
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	if cfg.DedupSize <= 0 {
		cfg.DedupSize = 256
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 30 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}
