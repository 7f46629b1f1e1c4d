package relayclient

import (
	"math/rand"
	"sync"
	"time"
)

// Backoff 计算断线重连的指数退避等待时间，带抖动。
type Backoff struct {
	cfg BackoffConfig

	mu       sync.Mutex
	attempts int
	rnd      *rand.Rand
}

// NewBackoff 创建 Backoff。
func NewBackoff(cfg BackoffConfig) *Backoff {
	return &Backoff{cfg: cfg, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Next 返回下一次等待时长，结果总在 [Initial, Max] 内。
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	wait := b.cfg.Initial << b.attempts
	if wait <= 0 || wait > b.cfg.Max {
		wait = b.cfg.Max
	}
	if b.cfg.Jitter > 0 {
		factor := 1 - b.cfg.Jitter + b.rnd.Float64()*2*b.cfg.Jitter
		wait = time.Duration(float64(wait) * factor)
	}
	if b.attempts < 16 {
		b.attempts++
	}
	return min(max(wait, b.cfg.Initial), b.cfg.Max)
}

// Reset 在连接恢复后清除失败计数。
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempts = 0
	b.mu.Unlock()
}
