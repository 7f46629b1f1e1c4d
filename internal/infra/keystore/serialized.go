package keystore

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Serialized 让进程内对底层 Store 的调用逐个执行，并记录签名指标。
type Serialized struct {
	inner   Store
	metrics *Metrics
	logger  *slog.Logger

	sem chan struct{}
}

// NewSerialized 包装 inner。metrics 可为 nil。
func NewSerialized(inner Store, metrics *Metrics, logger *slog.Logger) *Serialized {
	if logger == nil {
		logger = slog.Default()
	}
	return &Serialized{inner: inner, metrics: metrics, logger: logger, sem: make(chan struct{}, 1)}
}

func (s *Serialized) Address(namespace string) (string, error) {
	s.sem <- struct{}{}
	defer s.unlock()
	return s.inner.Address(namespace)
}

func (s *Serialized) Sign(ctx context.Context, message string) (string, error) {
	if err := s.lock(ctx); err != nil {
		return "", err
	}
	defer s.unlock()
	start := time.Now()
	sig, err := s.inner.Sign(ctx, message)
	s.metrics.observe(kindPersonal, time.Since(start), err)
	return sig, err
}

// SignTypedData 在底层 store 不支持 EIP-712 时返回 ErrUnsupported。
func (s *Serialized) SignTypedData(ctx context.Context, typed apitypes.TypedData) (string, error) {
	signer, ok := s.inner.(TypedDataSigner)
	if !ok {
		return "", ErrUnsupported
	}
	if err := s.lock(ctx); err != nil {
		return "", err
	}
	defer s.unlock()
	start := time.Now()
	sig, err := signer.SignTypedData(ctx, typed)
	s.metrics.observe(kindTypedData, time.Since(start), err)
	return sig, err
}

// lock 获取执行权；ctx 先结束则放弃等待。
func (s *Serialized) lock(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		s.logger.Warn("signing abandoned while waiting for key store", slog.Any("err", ctx.Err()))
		return ctx.Err()
	}
}

func (s *Serialized) unlock() { <-s.sem }

var (
	_ Store           = (*Serialized)(nil)
	_ TypedDataSigner = (*Serialized)(nil)
)
