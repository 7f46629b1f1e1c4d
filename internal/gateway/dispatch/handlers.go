package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/aegis-sign/wcsigner/internal/infra/keystore"
	"github.com/aegis-sign/wcsigner/internal/namespace"
	"github.com/aegis-sign/wcsigner/internal/session"
	"github.com/aegis-sign/wcsigner/pkg/validator"
)

// 已知的 eip155 方法名。
const (
	MethodPersonalSign    = "personal_sign"
	MethodEthSign         = "eth_sign"
	MethodSignTypedData   = "eth_signTypedData"
	MethodSignTypedDataV4 = "eth_signTypedData_v4"
	MethodSendTransaction = "eth_sendTransaction"
)

const defaultRequestNamespace = keystore.NamespaceEIP155

// Handler 处理单个方法，返回写入 result 的字符串。
type Handler func(ctx context.Context, store keystore.Store, req Request, sess session.Session) (string, error)

func defaultHandlers() map[string]Handler {
	return map[string]Handler{
		MethodPersonalSign:    handlePersonalSign,
		MethodEthSign:         handleEthSign,
		MethodSignTypedData:   handleSignTypedData,
		MethodSignTypedDataV4: handleSignTypedData,
	}
}

// handlePersonalSign 处理 [message, address?]。
func handlePersonalSign(ctx context.Context, store keystore.Store, req Request, _ session.Session) (string, error) {
	raw, ok, err := stringParam(req, 0)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: message is required", ErrInvalidParams)
	}
	if addr, present, err := stringParam(req, 1); err != nil {
		return "", err
	} else if present {
		if err := checkAddress(store, req, addr); err != nil {
			return "", err
		}
	}
	return signText(ctx, store, raw)
}

// handleEthSign 处理 [address, message]。
func handleEthSign(ctx context.Context, store keystore.Store, req Request, _ session.Session) (string, error) {
	addr, ok, err := stringParam(req, 0)
	if err != nil {
		return "", err
	}
	raw, hasMsg, err := stringParam(req, 1)
	if err != nil {
		return "", err
	}
	if !ok || !hasMsg {
		return "", fmt.Errorf("%w: expected [address, message]", ErrInvalidParams)
	}
	if err := checkAddress(store, req, addr); err != nil {
		return "", err
	}
	return signText(ctx, store, raw)
}

// handleSignTypedData 处理 [address, typedData]，typedData 可以是 JSON 字符串或对象。
func handleSignTypedData(ctx context.Context, store keystore.Store, req Request, _ session.Session) (string, error) {
	signer, ok := store.(keystore.TypedDataSigner)
	if !ok {
		return "", ErrMethodNotImplemented
	}
	if len(req.Params) < 2 {
		return "", fmt.Errorf("%w: expected [address, typedData]", ErrInvalidParams)
	}
	addr, _, err := stringParam(req, 0)
	if err != nil {
		return "", err
	}
	if err := checkAddress(store, req, addr); err != nil {
		return "", err
	}
	payload := []byte(req.Params[1])
	var encoded string
	if err := json.Unmarshal(req.Params[1], &encoded); err == nil {
		payload = []byte(encoded)
	}
	var typed apitypes.TypedData
	if err := json.Unmarshal(payload, &typed); err != nil {
		return "", fmt.Errorf("%w: typed data: %w", ErrInvalidParams, err)
	}
	return signer.SignTypedData(ctx, typed)
}

func signText(ctx context.Context, store keystore.Store, raw string) (string, error) {
	message, err := validator.DecodeMessage(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	return store.Sign(ctx, message)
}

// checkAddress 要求请求中的地址就是本地签名地址。
func checkAddress(store keystore.Store, req Request, addr string) error {
	if err := validator.ValidateAddress(addr); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	ns, _ := namespace.SplitChain(req.ChainID)
	if ns == "" {
		ns = defaultRequestNamespace
	}
	local, err := store.Address(ns)
	if err != nil {
		return err
	}
	if !validator.SameAddress(addr, local) {
		return fmt.Errorf("%w: address %s is not managed by this wallet", ErrMethodNotSupported, addr)
	}
	return nil
}
