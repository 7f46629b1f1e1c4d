package keystore

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Local 是内存中的 secp256k1 私钥，只服务 eip155 命名空间。
type Local struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewLocal 包装已有私钥。
func NewLocal(key *ecdsa.PrivateKey) (*Local, error) {
	if key == nil {
		return nil, errors.New("private key is required")
	}
	return &Local{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// GenerateLocal 生成新的随机私钥。
func GenerateLocal() (*Local, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return NewLocal(key)
}

// LocalFromHex 从十六进制私钥构造 Local，允许 0x 前缀。
func LocalFromHex(hexKey string) (*Local, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return NewLocal(key)
}

// CommonAddress 返回签名地址。
func (l *Local) CommonAddress() common.Address {
	return l.address
}

func (l *Local) Address(namespace string) (string, error) {
	if namespace != NamespaceEIP155 {
		return "", fmt.Errorf("%w: namespace %q", ErrUnsupported, namespace)
	}
	return l.address.Hex(), nil
}

// Sign 按 EIP-191 personal_sign 规则签名，V 取 27/28。
func (l *Local) Sign(ctx context.Context, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return l.signHash(accounts.TextHash([]byte(message)))
}

// SignTypedData 按 EIP-712 签名。
func (l *Local) SignTypedData(ctx context.Context, typed apitypes.TypedData) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	hash, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return "", fmt.Errorf("hash typed data: %w", err)
	}
	return l.signHash(hash)
}

func (l *Local) signHash(hash []byte) (string, error) {
	sig, err := crypto.Sign(hash, l.key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBackendFailure, err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// RecoverPersonal 从 personal_sign 签名中恢复地址。
func RecoverPersonal(message, signature string) (common.Address, error) {
	return recoverAddress(accounts.TextHash([]byte(message)), signature)
}

func recoverAddress(hash []byte, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature length %d", len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

var (
	_ Store           = (*Local)(nil)
	_ TypedDataSigner = (*Local)(nil)
)
