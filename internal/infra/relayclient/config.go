package relayclient

import (
	"log/slog"
	"time"
)

// Config 控制 relay 连接行为。
type Config struct {
	// URL 是 relay 的 websocket 地址，例如 wss://relay.walletconnect.com。
	URL       string
	ProjectID string
	// Endpoint 非空时经由本地代理拨号：unix:///path、vsock://cid:port 或 host:port。
	Endpoint       string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	MessageTTL     time.Duration
	EventBuffer    int
	Backoff        BackoffConfig
	Logger         *slog.Logger
	Metrics        *Metrics
}

// BackoffConfig 决定断线重连指数退避参数。
type BackoffConfig struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MessageTTL <= 0 {
		cfg.MessageTTL = 5 * time.Minute
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff.Initial = 250 * time.Millisecond
	}
	if cfg.Backoff.Max <= 0 {
		cfg.Backoff.Max = 30 * time.Second
	}
	if cfg.Backoff.Jitter < 0 {
		cfg.Backoff.Jitter = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}
