package relayclient

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const envelopeType0 byte = 0

var errInvalidEnvelope = errors.New("invalid relay envelope")

// seal 生成 type-0 信封：base64(type || iv || ciphertext)。
func seal(key, plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, envelopeType0)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// open 解开 type-0 信封。
func open(key []byte, encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidEnvelope, err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	if len(raw) < 1+aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("%w: too short", errInvalidEnvelope)
	}
	if raw[0] != envelopeType0 {
		return nil, fmt.Errorf("%w: unsupported type %d", errInvalidEnvelope, raw[0])
	}
	nonce := raw[1 : 1+aead.NonceSize()]
	plain, err := aead.Open(nil, nonce, raw[1+aead.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidEnvelope, err)
	}
	return plain, nil
}
