package keystore

import (
	"context"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/aegis-sign/wcsigner/pkg/apierrors"
)

var (
	// ErrUnsupported 表示 store 不支持该命名空间或签名类型。
	ErrUnsupported = apierrors.New(apierrors.CodeSigningUnsupported, "signing unsupported")
	// ErrBackendFailure 表示签名后端出错。
	ErrBackendFailure = apierrors.New(apierrors.CodeSigningBackend, "signing backend failure")
)

// NamespaceEIP155 是 EVM 链所在的命名空间。
const NamespaceEIP155 = "eip155"

// Store 是持有签名能力的密钥材料存储。实现不要求并发安全，调用方应经由 Serialized 访问。
type Store interface {
	Address(namespace string) (string, error)
	Sign(ctx context.Context, message string) (string, error)
}

// TypedDataSigner 是可选能力：对 EIP-712 结构化数据签名。
type TypedDataSigner interface {
	SignTypedData(ctx context.Context, typed apitypes.TypedData) (string, error)
}

// Accounts 为每个命名空间查询地址，任一命名空间缺失地址即返回错误。
func Accounts(store Store, namespaces []string) (map[string]string, error) {
	out := make(map[string]string, len(namespaces))
	for _, ns := range namespaces {
		addr, err := store.Address(ns)
		if err != nil {
			return nil, err
		}
		out[ns] = addr
	}
	return out, nil
}
