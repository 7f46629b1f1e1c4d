package operatorapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aegis-sign/wcsigner/internal/app/wallet"
	"github.com/aegis-sign/wcsigner/internal/pairing"
	"github.com/aegis-sign/wcsigner/internal/session"
)

type stubOperator struct {
	mu       sync.Mutex
	pairFn   func(ctx context.Context, uri string) (string, error)
	sessions []session.Session
	pairings []pairing.Pairing
	status   wallet.Snapshot
	uris     []string
}

func (s *stubOperator) Pair(ctx context.Context, uri string) (string, error) {
	s.mu.Lock()
	s.uris = append(s.uris, uri)
	s.mu.Unlock()
	if s.pairFn != nil {
		return s.pairFn(ctx, uri)
	}
	return "abc", nil
}

func (s *stubOperator) Sessions() []session.Session { return s.sessions }

func (s *stubOperator) Session(topic string) (session.Session, error) {
	for _, sess := range s.sessions {
		if sess.Topic == topic {
			return sess, nil
		}
	}
	return session.Session{}, fmt.Errorf("%w: %s", session.ErrNotFound, topic)
}

func (s *stubOperator) Pairings() []pairing.Pairing { return s.pairings }

func (s *stubOperator) Status() wallet.Snapshot { return s.status }

func activeStub() *stubOperator {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &stubOperator{
		sessions: []session.Session{{
			Topic:     "abc",
			Status:    session.StatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}},
		status: wallet.Snapshot{
			Status:    wallet.ConnectionStatus{State: wallet.StateActive, Topic: "abc"},
			Address:   "0x9965507D1a55bcC2695C58ba16FB37d819B0A4dc",
			UpdatedAt: now,
		},
	}
}
