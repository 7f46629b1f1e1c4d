package operatorapi

import (
	"context"

	"github.com/aegis-sign/wcsigner/internal/app/wallet"
	"github.com/aegis-sign/wcsigner/internal/pairing"
	"github.com/aegis-sign/wcsigner/internal/session"
)

// Operator 定义运维接口背后的业务层，HTTP/gRPC handler 通过它与钱包客户端交互。
type Operator interface {
	Pair(ctx context.Context, uri string) (string, error)
	Sessions() []session.Session
	Session(topic string) (session.Session, error)
	Pairings() []pairing.Pairing
	Status() wallet.Snapshot
}

var _ Operator = (*wallet.Client)(nil)
