package signing

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Klingon-tech/klingsign/internal/chain"
	"github.com/Klingon-tech/klingsign/internal/keyring"
	"github.com/Klingon-tech/klingsign/internal/request"
	"github.com/Klingon-tech/klingsign/internal/storage"
	"github.com/Klingon-tech/klingsign/internal/substrate"
	"github.com/Klingon-tech/klingsign/pkg/helpers"
)

// Test mnemonic (DO NOT USE FOR REAL FUNDS)
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

const testPassword = "Correct-Horse-1"

func newQRCoordinator(t *testing.T, chainType chain.ChainType) (*Coordinator, *keyring.Account) {
	t.Helper()
	store, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	keys := keyring.New(store)
	acct, err := keys.CreateFromMnemonic("qr", testMnemonic, testPassword, chainType)
	if err != nil {
		t.Fatal(err)
	}
	c := NewCoordinator(Config{
		Requests: request.NewRegistry(request.Config{}),
		Chains:   testChains(),
		Keys:     keys,
		Store:    store,
	})
	return c, acct
}

func TestParseEVMRLP(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	tx := testTx()

	payload, _ := UnsignedEVMPayload(tx, big.NewInt(sepoliaID))
	got, err := c.ParseEVMRLP(helpers.BytesToHex(payload))
	if err != nil {
		t.Fatal(err)
	}
	if got.Chain != "evmtest" || got.ChainID != sepoliaID {
		t.Errorf("chain = %s %d", got.Chain, got.ChainID)
	}
	if got.Nonce != 7 || got.Value != "12345" || got.Gas != 21000 || got.GasPrice != "1000000000" {
		t.Errorf("parsed = %+v", got)
	}
	if got.To != tx.To().Hex() {
		t.Errorf("to = %s", got.To)
	}
	if got.Hash != types.LatestSignerForChainID(big.NewInt(sepoliaID)).Hash(tx).Hex() {
		t.Error("hash is not the signing hash")
	}

	unknown, _ := UnsignedEVMPayload(tx, big.NewInt(5))
	if _, err := c.ParseEVMRLP(helpers.BytesToHex(unknown)); !errors.Is(err, ErrUnsupportedChain) {
		t.Errorf("unknown chain: got %v", err)
	}
	for _, bad := range []string{"0xzz", "0x", "0x01", "0xc0"} {
		if _, err := c.ParseEVMRLP(bad); !errors.Is(err, ErrInvalidQRPayload) {
			t.Errorf("%s: got %v, want ErrInvalidQRPayload", bad, err)
		}
	}
}

func TestSignQREVM(t *testing.T) {
	c, acct := newQRCoordinator(t, chain.ChainTypeEVM)

	t.Run("message", func(t *testing.T) {
		out, err := c.SignQREVM(acct.Address, sepoliaID, "hello", QRMessage, testPassword)
		if err != nil {
			t.Fatal(err)
		}
		sig, _ := hex.DecodeString(out)
		if len(sig) != 65 {
			t.Fatalf("signature length %d", len(sig))
		}
		sig[64] -= 27
		pub, err := crypto.SigToPub(accounts.TextHash([]byte("hello")), sig)
		if err != nil || crypto.PubkeyToAddress(*pub).Hex() != acct.Address {
			t.Error("message signature does not recover to the account")
		}
	})

	t.Run("transaction", func(t *testing.T) {
		chainID := big.NewInt(sepoliaID)
		tx := testTx()
		payload, _ := UnsignedEVMPayload(tx, chainID)

		out, err := c.SignQREVM(acct.Address, sepoliaID, helpers.BytesToHex(payload), QRTransaction, testPassword)
		if err != nil {
			t.Fatal(err)
		}
		if strings.HasPrefix(out, "0x") {
			t.Error("signature must not carry a prefix")
		}
		raw, _ := hex.DecodeString(out)
		if len(raw) <= 64 {
			t.Fatalf("signature length %d", len(raw))
		}
		// EIP-155 v = chainId*2 + 35 + recovery id
		v := new(big.Int).SetBytes(raw[64:])
		rec := new(big.Int).Sub(v, new(big.Int).Add(new(big.Int).Mul(chainID, big.NewInt(2)), big.NewInt(35)))
		sig := append(append([]byte(nil), raw[:64]...), byte(rec.Uint64()))

		hash := types.LatestSignerForChainID(chainID).Hash(tx)
		pub, err := crypto.SigToPub(hash[:], sig)
		if err != nil || crypto.PubkeyToAddress(*pub).Hex() != acct.Address {
			t.Error("transaction signature does not recover to the account")
		}
	})

	t.Run("chain mismatch", func(t *testing.T) {
		payload, _ := UnsignedEVMPayload(testTx(), big.NewInt(1))
		_, err := c.SignQREVM(acct.Address, sepoliaID, helpers.BytesToHex(payload), QRTransaction, testPassword)
		if !errors.Is(err, ErrInvalidQRPayload) {
			t.Errorf("got %v, want ErrInvalidQRPayload", err)
		}
	})

	t.Run("unknown network", func(t *testing.T) {
		_, err := c.SignQREVM(acct.Address, 999, "hello", QRMessage, testPassword)
		if !errors.Is(err, ErrUnsupportedChain) || !strings.Contains(err.Error(), "Cannot find network") {
			t.Errorf("got %v", err)
		}
	})

	t.Run("bad transaction", func(t *testing.T) {
		_, err := c.SignQREVM(acct.Address, sepoliaID, "0x1234", QRTransaction, testPassword)
		if !errors.Is(err, ErrInvalidQRPayload) || !strings.Contains(err.Error(), "Cannot create tx from 0x1234") {
			t.Errorf("got %v", err)
		}
	})

	t.Run("unknown account", func(t *testing.T) {
		_, err := c.SignQREVM("0x6Fac4D18c912343BF86fa7049364Dd4E424Ab9C0", sepoliaID, "hello", QRMessage, testPassword)
		if !errors.Is(err, keyring.ErrAccountNotFound) {
			t.Errorf("got %v, want ErrAccountNotFound", err)
		}
	})
}

func TestSignQRSubstrate(t *testing.T) {
	c, acct := newQRCoordinator(t, chain.ChainTypeSubstrate)
	id, _, err := substrate.DecodeSS58(acct.Address)
	if err != nil {
		t.Fatal(err)
	}
	payload := []byte{0x05, 0x00, 0x01, 0x02}

	out, err := c.SignQRSubstrate(acct.Address, helpers.BytesToHex(payload), "subtest", testPassword)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "00") || len(out) != 2+128 {
		t.Fatalf("typed signature = %s", out)
	}
	sig, _ := hex.DecodeString(out[2:])
	if !ed25519.Verify(ed25519.PublicKey(id[:]), payload, sig) {
		t.Error("signature does not verify")
	}

	bare, err := c.SignQRSubstrate(acct.Address, helpers.BytesToHex(payload), "hybrid", testPassword)
	if err != nil {
		t.Fatal(err)
	}
	if len(bare) != 128 {
		t.Errorf("EVM-compatible chains take the bare signature, got %d hex chars", len(bare))
	}

	if _, err := c.SignQRSubstrate(acct.Address, "nope", "subtest", testPassword); !errors.Is(err, ErrInvalidQRPayload) {
		t.Errorf("got %v, want ErrInvalidQRPayload", err)
	}
	if _, err := c.SignQRSubstrate(acct.Address, "0x01", "missing", testPassword); !errors.Is(err, ErrUnsupportedChain) {
		t.Errorf("got %v, want ErrUnsupportedChain", err)
	}
}
