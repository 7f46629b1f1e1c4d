package keystore

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const keyFileVersion = 1

// ErrWrongPassphrase 表示口令错误或密钥文件被篡改。
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted key file")

// ScryptParams 是口令派生参数。
type ScryptParams struct {
	N int
	R int
	P int
}

// DefaultScryptParams 返回默认派生强度。
func DefaultScryptParams() ScryptParams { return ScryptParams{N: 1 << 15, R: 8, P: 1} }

// keyFile 是磁盘上的 JSON 结构；地址以明文保存，便于无需口令即可查看。
type keyFile struct {
	V       int    `json:"v"`
	Address string `json:"address"`
	Salt    []byte `json:"salt"`
	Nonce   []byte `json:"nonce"`
	N       int    `json:"scrypt_N"`
	R       int    `json:"scrypt_r"`
	P       int    `json:"scrypt_p"`
	Cipher  []byte `json:"cipher"`
}

// SealKey 用口令加密 local 的私钥，返回可落盘的 JSON。
func SealKey(local *Local, passphrase string, params ScryptParams) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase is required")
	}
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, err
	}
	aead, err := deriveAEAD(passphrase, salt[:], params)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	address := local.CommonAddress().Hex()
	ct := aead.Seal(nil, nonce, crypto.FromECDSA(local.key), []byte(address))
	return json.MarshalIndent(keyFile{
		V:       keyFileVersion,
		Address: address,
		Salt:    salt[:],
		Nonce:   nonce,
		N:       params.N,
		R:       params.R,
		P:       params.P,
		Cipher:  ct,
	}, "", "  ")
}

// OpenKey 解密 SealKey 的输出。
func OpenKey(data []byte, passphrase string) (*Local, error) {
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("decode key file: %w", err)
	}
	if kf.V > keyFileVersion {
		return nil, fmt.Errorf("unsupported key file version %d", kf.V)
	}
	aead, err := deriveAEAD(passphrase, kf.Salt, ScryptParams{N: kf.N, R: kf.R, P: kf.P})
	if err != nil {
		return nil, err
	}
	if len(kf.Nonce) != aead.NonceSize() {
		return nil, ErrWrongPassphrase
	}
	raw, err := aead.Open(nil, kf.Nonce, kf.Cipher, []byte(kf.Address))
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	local, err := NewLocal(key)
	if err != nil {
		return nil, err
	}
	if local.CommonAddress().Hex() != kf.Address {
		return nil, ErrWrongPassphrase
	}
	return local, nil
}

// WriteKeyFile 以 0600 权限写入加密私钥，目标已存在时拒绝覆盖。
func WriteKeyFile(path string, local *Local, passphrase string, params ScryptParams) error {
	data, err := SealKey(local, passphrase, params)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadKeyFile 读取并解密密钥文件。
func ReadKeyFile(path, passphrase string) (*Local, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return OpenKey(data, passphrase)
}

// KeyFileAddress 返回密钥文件中记录的地址，不需要口令。
func KeyFileAddress(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return "", fmt.Errorf("decode key file: %w", err)
	}
	return kf.Address, nil
}

func deriveAEAD(passphrase string, salt []byte, params ScryptParams) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, params.N, params.R, params.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	return chacha20poly1305.New(key)
}
