package keystore

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// hardhat account #5, never used for anything real.
const testKeyHex = "0x8b3a350cf5c34c9194ca85829a2df0ec3153be0318b5e2d3348e872092edffba"

func TestLocalSignRecoversAddress(t *testing.T) {
	local, err := LocalFromHex(testKeyHex)
	require.NoError(t, err)
	addr, err := local.Address(NamespaceEIP155)
	require.NoError(t, err)
	require.Equal(t, "0x9965507D1a55bcC2695C58ba16FB37d819B0A4dc", addr)

	sig, err := local.Sign(context.Background(), "Hello")
	require.NoError(t, err)
	require.Len(t, sig, 2+65*2)
	require.Contains(t, []string{"1b", "1c"}, sig[len(sig)-2:])

	recovered, err := RecoverPersonal("Hello", sig)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(addr), recovered)
}

func TestLocalRejectsForeignNamespace(t *testing.T) {
	local, err := GenerateLocal()
	require.NoError(t, err)
	_, err = local.Address("solana")
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestLocalSignTypedData(t *testing.T) {
	local, err := LocalFromHex(testKeyHex)
	require.NoError(t, err)
	typed := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {{Name: "name", Type: "string"}},
			"Mail":         {{Name: "contents", Type: "string"}},
		},
		PrimaryType: "Mail",
		Domain:      apitypes.TypedDataDomain{Name: "test"},
		Message:     apitypes.TypedDataMessage{"contents": "hello"},
	}

	sig, err := local.SignTypedData(context.Background(), typed)
	require.NoError(t, err)
	hash, _, err := apitypes.TypedDataAndHash(typed)
	require.NoError(t, err)
	recovered, err := recoverAddress(hash, sig)
	require.NoError(t, err)
	require.Equal(t, local.CommonAddress(), recovered)
}

func TestKeyFileRoundTrip(t *testing.T) {
	local, err := GenerateLocal()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "keys", "signer.json")
	params := ScryptParams{N: 1 << 10, R: 8, P: 1}

	require.NoError(t, WriteKeyFile(path, local, "correct horse", params))
	require.Error(t, WriteKeyFile(path, local, "correct horse", params))

	addr, err := KeyFileAddress(path)
	require.NoError(t, err)
	require.Equal(t, local.CommonAddress().Hex(), addr)

	opened, err := ReadKeyFile(path, "correct horse")
	require.NoError(t, err)
	require.Equal(t, local.CommonAddress(), opened.CommonAddress())

	_, err = ReadKeyFile(path, "wrong")
	require.ErrorIs(t, err, ErrWrongPassphrase)
}

func TestSealKeyRequiresPassphrase(t *testing.T) {
	local, err := GenerateLocal()
	require.NoError(t, err)
	_, err = SealKey(local, "", DefaultScryptParams())
	require.Error(t, err)
}

type slowStore struct {
	active  atomic.Int32
	overlap atomic.Bool
}

func (s *slowStore) Address(string) (string, error) { return "0x0", nil }

func (s *slowStore) Sign(ctx context.Context, message string) (string, error) {
	if s.active.Add(1) > 1 {
		s.overlap.Store(true)
	}
	time.Sleep(5 * time.Millisecond)
	s.active.Add(-1)
	return "sig:" + message, nil
}

func TestSerializedNeverOverlaps(t *testing.T) {
	inner := &slowStore{}
	metrics := NewMetrics(prometheus.NewRegistry())
	store := NewSerialized(inner, metrics, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Sign(context.Background(), "m")
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.False(t, inner.overlap.Load())
	require.Equal(t, float64(8), testutil.ToFloat64(metrics.signs.WithLabelValues(kindPersonal, "success")))
}

func TestSerializedHonoursContextWhileWaiting(t *testing.T) {
	store := NewSerialized(&slowStore{}, nil, nil)
	store.sem <- struct{}{}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := store.Sign(ctx, "m")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	store.unlock()
}

func TestSerializedTypedDataUnsupported(t *testing.T) {
	store := NewSerialized(&slowStore{}, nil, nil)
	_, err := store.SignTypedData(context.Background(), apitypes.TypedData{})
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestAccountsRequiresEveryNamespace(t *testing.T) {
	local, err := GenerateLocal()
	require.NoError(t, err)
	accounts, err := Accounts(local, []string{NamespaceEIP155})
	require.NoError(t, err)
	require.Equal(t, local.CommonAddress().Hex(), accounts[NamespaceEIP155])

	_, err = Accounts(local, []string{NamespaceEIP155, "cosmos"})
	require.ErrorIs(t, err, ErrUnsupported)
}
