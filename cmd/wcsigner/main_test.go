package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegis-sign/wcsigner/internal/config"
	"github.com/aegis-sign/wcsigner/internal/infra/keystore"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestKeygenThenAddressAndLoad(t *testing.T) {
	t.Setenv("WCSIGNER_PASSPHRASE", "correct horse")
	path := filepath.Join(t.TempDir(), "signer.key")

	out, err := runCmd(t, "keygen", "--out", path, "--scrypt-n", "1024")
	require.NoError(t, err)
	generated := strings.TrimSpace(out)
	require.True(t, strings.HasPrefix(generated, "0x"))

	out, err = runCmd(t, "address", "--file", path)
	require.NoError(t, err)
	require.Equal(t, generated, strings.TrimSpace(out))

	local, err := loadKey(config.KeyConfig{File: path, PassphraseEnv: "WCSIGNER_PASSPHRASE"})
	require.NoError(t, err)
	require.Equal(t, generated, local.CommonAddress().Hex())

	_, err = runCmd(t, "keygen", "--out", path, "--scrypt-n", "1024")
	require.Error(t, err)
}

func TestKeygenRequiresPassphrase(t *testing.T) {
	t.Setenv("WCSIGNER_PASSPHRASE", "")
	_, err := runCmd(t, "keygen", "--out", filepath.Join(t.TempDir(), "k"))
	require.Error(t, err)
}

func TestLoadKeyFromEnv(t *testing.T) {
	t.Setenv("TEST_SIGNER_KEY", "0x8b3a350cf5c34c9194ca85829a2df0ec3153be0318b5e2d3348e872092edffba")
	local, err := loadKey(config.KeyConfig{PrivateKeyEnv: "TEST_SIGNER_KEY"})
	require.NoError(t, err)
	require.Equal(t, "0x9965507D1a55bcC2695C58ba16FB37d819B0A4dc", local.CommonAddress().Hex())

	_, err = loadKey(config.KeyConfig{PrivateKeyEnv: "TEST_SIGNER_KEY_MISSING"})
	require.Error(t, err)

	_, err = loadKey(config.KeyConfig{File: filepath.Join(t.TempDir(), "k"), PassphraseEnv: "TEST_SIGNER_PASSPHRASE_MISSING"})
	require.Error(t, err)
}

func TestLoadKeyWrongPassphrase(t *testing.T) {
	local, err := keystore.GenerateLocal()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "signer.key")
	require.NoError(t, keystore.WriteKeyFile(path, local, "right", keystore.ScryptParams{N: 1024, R: 8, P: 1}))

	t.Setenv("TEST_SIGNER_PASSPHRASE", "wrong")
	_, err = loadKey(config.KeyConfig{File: path, PassphraseEnv: "TEST_SIGNER_PASSPHRASE"})
	require.ErrorIs(t, err, keystore.ErrWrongPassphrase)
}

func TestPairOverHTTP(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			URI string `json:"uri"`
		}
		if r.URL.Path != "/pair" || json.NewDecoder(r.Body).Decode(&body) != nil {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":"NOT_FOUND"}`))
			return
		}
		got = body.URI
		if strings.Contains(body.URI, "bad") {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":"INVALID_URI","message":"invalid pairing uri"}`))
			return
		}
		_, _ = w.Write([]byte(`{"topic":"abc"}`))
	}))
	defer srv.Close()

	out, err := runCmd(t, "pair", "--addr", srv.URL, "wc:abc@2?relay-protocol=irn&symKey=deadbeef")
	require.NoError(t, err)
	require.Equal(t, "abc", strings.TrimSpace(out))
	require.Equal(t, "wc:abc@2?relay-protocol=irn&symKey=deadbeef", got)

	_, err = pairOverHTTP(context.Background(), strings.TrimPrefix(srv.URL, "http://"), "bad")
	require.ErrorContains(t, err, "INVALID_URI")
}
