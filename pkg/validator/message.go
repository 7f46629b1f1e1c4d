package validator

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// PayloadEncoding 描述签名消息在线路上的编码。
type PayloadEncoding string

const (
	PayloadEncodingHex  PayloadEncoding = "hex"
	PayloadEncodingText PayloadEncoding = "text"
)

var (
	errEmptyMessage   = errors.New("message is empty")
	errMessageNotUTF8 = errors.New("message does not decode to valid utf-8")
)

// DetectEncoding 以 0x 前缀判断 payload 编码。
func DetectEncoding(raw string) PayloadEncoding {
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		return PayloadEncodingHex
	}
	return PayloadEncodingText
}

// DecodeMessage 将线路上的 payload 还原为可读字符串。
func DecodeMessage(raw string) (string, error) {
	if raw == "" {
		return "", errEmptyMessage
	}
	switch DetectEncoding(raw) {
	case PayloadEncodingHex:
		decoded, err := hexutil.Decode("0x" + raw[2:])
		if err != nil {
			return "", fmt.Errorf("invalid hex message: %w", err)
		}
		if !utf8.Valid(decoded) {
			return "", errMessageNotUTF8
		}
		return string(decoded), nil
	default:
		return raw, nil
	}
}

// ValidateAddress 确认字符串是合法的 EVM 地址。
func ValidateAddress(address string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("invalid address %q", address)
	}
	return nil
}

// SameAddress 忽略大小写（checksum）比较两个地址。
func SameAddress(a, b string) bool {
	if !common.IsHexAddress(a) || !common.IsHexAddress(b) {
		return false
	}
	return common.HexToAddress(a) == common.HexToAddress(b)
}
