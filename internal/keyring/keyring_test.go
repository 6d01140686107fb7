package keyring

import (
	"crypto/ed25519"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Klingon-tech/klingsign/internal/chain"
	"github.com/Klingon-tech/klingsign/internal/storage"
	"github.com/Klingon-tech/klingsign/internal/substrate"
)

// Test mnemonic (DO NOT USE FOR REAL FUNDS)
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

const testPassword = "Correct-Horse-1"

func init() {
	// keep tests fast
	defaultKDF = kdfParams{Time: 1, Memory: 1024, Parallelism: 1}
}

func newTestKeyring(t *testing.T) *Keyring {
	t.Helper()
	store, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store)
}

func TestCreateAndUnlockEVM(t *testing.T) {
	k := newTestKeyring(t)

	acct, err := k.CreateFromMnemonic("main", testMnemonic, testPassword, chain.ChainTypeEVM)
	if err != nil {
		t.Fatal(err)
	}
	if acct.Address != "0x9858EfFD232B4033E47d90003D41EC34EcaEda94" {
		t.Errorf("address = %s", acct.Address)
	}
	if acct.DerivationPath != "m/44'/60'/0'/0/0" {
		t.Errorf("path = %s", acct.DerivationPath)
	}

	if _, err := k.Unlock(acct.Address, "Wrong-Password-1"); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("got %v, want ErrWrongPassword", err)
	}

	g, err := k.Unlock(acct.Address, testPassword)
	if err != nil {
		t.Fatal(err)
	}
	hash := crypto.Keccak256([]byte("payload"))
	sig, err := g.SignEVMHash(hash)
	if err != nil {
		t.Fatal(err)
	}
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		t.Fatal(err)
	}
	if crypto.PubkeyToAddress(*pub).Hex() != acct.Address {
		t.Error("signature does not recover to the account")
	}

	g.Release()
	g.Release()
	if _, err := g.SignEVMHash(hash); !errors.Is(err, ErrReleased) {
		t.Errorf("got %v, want ErrReleased", err)
	}
	if _, err := g.SignSubstrate([]byte("x")); !errors.Is(err, ErrReleased) {
		t.Errorf("got %v, want ErrReleased", err)
	}
}

func TestSignEVMTx(t *testing.T) {
	k := newTestKeyring(t)
	acct, err := k.CreateFromMnemonic("", testMnemonic, testPassword, chain.ChainTypeEVM)
	if err != nil {
		t.Fatal(err)
	}

	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	chainID := big.NewInt(11155111)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     3,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(1000),
	})

	err = k.WithUnlocked(acct.Address, testPassword, func(g *Guard) error {
		signed, err := g.SignEVMTx(tx, chainID)
		if err != nil {
			return err
		}
		from, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
		if err != nil {
			return err
		}
		if from.Hex() != acct.Address {
			t.Errorf("sender = %s", from.Hex())
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestPersonalSign(t *testing.T) {
	k := newTestKeyring(t)
	acct, _ := k.CreateFromMnemonic("", testMnemonic, testPassword, chain.ChainTypeEVM)

	g, err := k.Unlock(acct.Address, testPassword)
	if err != nil {
		t.Fatal(err)
	}
	defer g.Release()

	msg := []byte("hello")
	sig, err := g.PersonalSign(msg)
	if err != nil {
		t.Fatal(err)
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("v = %d", sig[64])
	}
	sig[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(msg), sig)
	if err != nil {
		t.Fatal(err)
	}
	if crypto.PubkeyToAddress(*pub).Hex() != acct.Address {
		t.Error("personal signature does not recover to the account")
	}
	if _, err := g.SignSubstrate(msg); !errors.Is(err, ErrWrongChainType) {
		t.Errorf("got %v, want ErrWrongChainType", err)
	}
}

func TestSubstrateAccount(t *testing.T) {
	k := newTestKeyring(t)

	acct, err := k.CreateFromMnemonic("dot", testMnemonic, testPassword, chain.ChainTypeSubstrate)
	if err != nil {
		t.Fatal(err)
	}
	id, prefix, err := substrate.DecodeSS58(acct.Address)
	if err != nil {
		t.Fatal(err)
	}
	if prefix != GenericSS58Prefix {
		t.Errorf("prefix = %d", prefix)
	}

	// lookups work under any network prefix
	polkadotAddr, _ := substrate.EncodeSS58(id, 0)
	if _, err := k.Account(polkadotAddr); err != nil {
		t.Fatalf("lookup by polkadot address: %v", err)
	}

	g, err := k.Unlock(polkadotAddr, testPassword)
	if err != nil {
		t.Fatal(err)
	}
	defer g.Release()

	payload := []byte("signing payload")
	sig, err := g.SignSubstrate(payload)
	if err != nil {
		t.Fatal(err)
	}
	if !ed25519.Verify(ed25519.PublicKey(id[:]), payload, sig) {
		t.Error("signature does not verify against the account key")
	}
	if g.SignatureType() != substrate.SigEd25519 {
		t.Error("expected ed25519 signatures")
	}
}

func TestHardDerivationIsDeterministic(t *testing.T) {
	a1, err := deriveAddress(testMnemonic, chain.ChainTypeSubstrate, 1)
	if err != nil {
		t.Fatal(err)
	}
	a2, _ := deriveAddress(testMnemonic, chain.ChainTypeSubstrate, 1)
	root, _ := deriveAddress(testMnemonic, chain.ChainTypeSubstrate, 0)
	if a1 != a2 {
		t.Error("derivation should be deterministic")
	}
	if a1 == root {
		t.Error("//1 should differ from the root key")
	}
}

func TestGuardSerializesSigning(t *testing.T) {
	k := newTestKeyring(t)
	acct, _ := k.CreateFromMnemonic("", testMnemonic, testPassword, chain.ChainTypeEVM)
	if err := k.UnlockSession(acct.Address, testPassword); err != nil {
		t.Fatal(err)
	}

	g, err := k.Unlock(acct.Address, "")
	if err != nil {
		t.Fatal(err)
	}

	acquired := make(chan struct{})
	go func() {
		g2, err := k.Unlock(acct.Address, "")
		if err == nil {
			g2.Release()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second guard acquired while the first is held")
	case <-time.After(50 * time.Millisecond):
	}

	g.Release()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second guard never acquired")
	}
}

func TestWithUnlockedReleasesOnError(t *testing.T) {
	k := newTestKeyring(t)
	acct, _ := k.CreateFromMnemonic("", testMnemonic, testPassword, chain.ChainTypeEVM)

	boom := errors.New("boom")
	var held *Guard
	err := k.WithUnlocked(acct.Address, testPassword, func(g *Guard) error {
		held = g
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
	if _, err := held.SignEVMHash(make([]byte, 32)); !errors.Is(err, ErrReleased) {
		t.Error("guard should be released after WithUnlocked returns")
	}

	// the lock is free again
	g, err := k.Unlock(acct.Address, testPassword)
	if err != nil {
		t.Fatal(err)
	}
	g.Release()
}

func TestSessions(t *testing.T) {
	k := newTestKeyring(t)
	acct, _ := k.CreateFromMnemonic("", testMnemonic, testPassword, chain.ChainTypeEVM)

	if _, err := k.Unlock(acct.Address, ""); !errors.Is(err, ErrLocked) {
		t.Fatalf("got %v, want ErrLocked", err)
	}
	if err := k.UnlockSession(acct.Address, "Wrong-Password-1"); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("got %v, want ErrWrongPassword", err)
	}
	if err := k.UnlockSession(acct.Address, testPassword); err != nil {
		t.Fatal(err)
	}
	if !k.IsUnlocked(acct.Address) {
		t.Error("account should be unlocked")
	}

	g, err := k.Unlock(acct.Address, "")
	if err != nil {
		t.Fatal(err)
	}
	g.Release()

	k.LockAll()
	if k.IsUnlocked(acct.Address) {
		t.Error("LockAll should clear sessions")
	}
	if _, err := k.Unlock(acct.Address, ""); !errors.Is(err, ErrLocked) {
		t.Errorf("got %v, want ErrLocked", err)
	}
}

func TestDeriveMultiple(t *testing.T) {
	k := newTestKeyring(t)
	root, _ := k.CreateFromMnemonic("main", testMnemonic, testPassword, chain.ChainTypeEVM)

	var notified int32
	k.OnChange(func(list []*Account) { atomic.AddInt32(&notified, 1) })

	children, err := k.DeriveMultiple(root.Address, testPassword, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 3 {
		t.Fatalf("derived %d", len(children))
	}
	seen := map[string]bool{root.Address: true}
	for i, c := range children {
		if c.DerivationIndex != uint32(i+1) {
			t.Errorf("child %d index = %d", i, c.DerivationIndex)
		}
		if seen[c.Address] {
			t.Errorf("duplicate address %s", c.Address)
		}
		seen[c.Address] = true
		if c.ParentAddress != root.Address {
			t.Errorf("parent = %s", c.ParentAddress)
		}
	}
	if atomic.LoadInt32(&notified) != 1 {
		t.Errorf("notified %d times, want once per batch", notified)
	}

	// children sign with keys from the parent's keystore
	g, err := k.Unlock(children[1].Address, testPassword)
	if err != nil {
		t.Fatal(err)
	}
	g.Release()

	more, err := k.DeriveMultiple(root.Address, testPassword, 1)
	if err != nil {
		t.Fatal(err)
	}
	if more[0].DerivationIndex != 4 {
		t.Errorf("next index = %d, want 4", more[0].DerivationIndex)
	}

	if _, err := k.DeriveMultiple(root.Address, "Wrong-Password-1", 1); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("got %v, want ErrWrongPassword", err)
	}
}

func TestExternalAccounts(t *testing.T) {
	k := newTestKeyring(t)

	watch := "0x2222222222222222222222222222222222222222"
	if _, err := k.AddExternal(watch, "cold", KindWatch, chain.ChainTypeEVM); err != nil {
		t.Fatal(err)
	}
	qr := "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	if _, err := k.AddExternal(qr, "vault", KindQR, chain.ChainTypeSubstrate); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		address string
		want    error
	}{
		{"watch-only", watch, ErrWatchOnly},
		{"qr", qr, ErrExternalAccount},
		{"unknown", "0x3333333333333333333333333333333333333333", ErrAccountNotFound},
		{"garbage", "not-an-address", ErrAccountNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := k.Unlock(tt.address, testPassword); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := k.CheckSignable(watch); err == nil || err.Error() != "This account is watch-only" {
		t.Errorf("CheckSignable(watch) = %v", err)
	}
	if _, err := k.CheckSignable("0x3333333333333333333333333333333333333333"); err == nil || err.Error() != "Unable to find account" {
		t.Errorf("CheckSignable(unknown) = %v", err)
	}
	if acct, err := k.CheckSignable(qr); err != nil || !acct.Kind.IsExternal() {
		t.Errorf("CheckSignable(qr) = %+v, %v", acct, err)
	}

	if _, err := k.AddExternal("0x1234", "", KindQR, chain.ChainTypeEVM); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("got %v, want ErrInvalidAddress", err)
	}

	if err := k.Remove(watch); err != nil {
		t.Fatal(err)
	}
	if _, err := k.Account(watch); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("got %v after remove", err)
	}
}

func TestEncryptDecrypt(t *testing.T) {
	enc, err := EncryptMnemonic(testMnemonic, testPassword)
	if err != nil {
		t.Fatal(err)
	}
	plain, err := DecryptMnemonic(enc, testPassword)
	if err != nil {
		t.Fatal(err)
	}
	if string(plain) != testMnemonic {
		t.Error("round trip changed the mnemonic")
	}

	if _, err := EncryptMnemonic("not a mnemonic", testPassword); !errors.Is(err, ErrInvalidMnemonic) {
		t.Errorf("got %v, want ErrInvalidMnemonic", err)
	}

	enc.Nonce = enc.Nonce[:4]
	if _, err := DecryptMnemonic(enc, testPassword); !errors.Is(err, ErrCorruptKeystore) {
		t.Errorf("got %v, want ErrCorruptKeystore", err)
	}
	if _, err := unmarshalSeed([]byte("{")); !errors.Is(err, ErrCorruptKeystore) {
		t.Errorf("got %v, want ErrCorruptKeystore", err)
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		ok       bool
	}{
		{"short1A", false},
		{"alllowercase", false},
		{"Lowercase1", true},
		{"lower-case-1", true},
		{"NOLOWER123", false},
	}
	for _, tt := range tests {
		err := ValidatePassword(tt.password)
		if (err == nil) != tt.ok {
			t.Errorf("ValidatePassword(%q) = %v", tt.password, err)
		}
		if err != nil && !errors.Is(err, ErrWeakPassword) {
			t.Errorf("error should wrap ErrWeakPassword: %v", err)
		}
	}
}

func TestAutoLock(t *testing.T) {
	var fired int32
	a := NewAutoLock(20*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	defer a.Stop()

	a.SetSkip(true)
	time.Sleep(80 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("auto-lock fired while skipped")
	}

	a.SetSkip(false)
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&fired) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if atomic.LoadInt32(&fired) == 0 {
		t.Fatal("auto-lock never fired")
	}
}

func TestAutoLockDisabled(t *testing.T) {
	var fired int32
	a := NewAutoLock(0, func() { atomic.AddInt32(&fired, 1) })
	a.Touch()
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Error("disabled auto-lock fired")
	}
	a.Stop()
}
