package submission

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Klingon-tech/klingsign/internal/backend"
	"github.com/Klingon-tech/klingsign/internal/backend/backendtest"
	"github.com/Klingon-tech/klingsign/internal/chain"
	"github.com/Klingon-tech/klingsign/internal/keyring"
	"github.com/Klingon-tech/klingsign/internal/metrics"
	"github.com/Klingon-tech/klingsign/internal/storage"
	"github.com/Klingon-tech/klingsign/internal/substrate"
	"github.com/Klingon-tech/klingsign/internal/transaction"
)

// Test mnemonic (DO NOT USE FOR REAL FUNDS)
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

const (
	testPassword = "Correct-Horse-1"
	evmChainID   = 11155111
	bob          = "5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty"
	evmTo        = "0x6Fac4D18c912343BF86fa7049364Dd4E424Ab9C0"
)

type fixture struct {
	store *storage.Storage
	keys  *keyring.Keyring
	evm   *backendtest.EVM
	sub   *backendtest.Substrate
	reg   *chain.Registry
	bks   *backend.Registry
	evmAc *keyring.Account
	subAc *keyring.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	reg := chain.NewEmptyRegistry(chain.Testnet)
	reg.AddChain(&chain.Params{Slug: "evmtest", Name: "EVM Test", Type: chain.ChainTypeEVM, Decimals: 18, NativeToken: "ETH", ChainID: evmChainID})
	reg.AddChain(&chain.Params{Slug: "subtest", Name: "Sub Test", Type: chain.ChainTypeSubstrate, Decimals: 10, NativeToken: "WND", GenesisHash: "0x01"})

	f := &fixture{
		store: store,
		keys:  keyring.New(store),
		evm:   backendtest.NewEVM(evmChainID),
		sub:   backendtest.NewSubstrate(),
		reg:   reg,
		bks:   backend.NewRegistry(),
	}
	f.bks.Register("evmtest", f.evm)
	f.bks.Register("subtest", f.sub)

	if f.evmAc, err = f.keys.CreateFromMnemonic("main", testMnemonic, testPassword, chain.ChainTypeEVM); err != nil {
		t.Fatal(err)
	}
	if f.subAc, err = f.keys.CreateFromMnemonic("main", testMnemonic, testPassword, chain.ChainTypeSubstrate); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) service(t *testing.T, ext ExternalSigner) *Service {
	t.Helper()
	s := New(Config{
		Chains:       f.reg,
		Backends:     f.bks,
		Keys:         f.keys,
		External:     ext,
		Store:        f.store,
		Metrics:      metrics.New(),
		PollInterval: time.Hour, // tests drive Poll
	})
	t.Cleanup(s.Stop)
	return s
}

func evmBuilt(id, from string) *transaction.Built {
	to := common.HexToAddress(evmTo)
	tx := types.NewTx(&types.LegacyTx{Nonce: 3, GasPrice: big.NewInt(1), Gas: 21000, To: &to, Value: big.NewInt(100)})
	return &transaction.Built{
		ID:            id,
		Chain:         "evmtest",
		Address:       from,
		ChainType:     chain.ChainTypeEVM,
		ExtrinsicType: chain.TransferBalance,
		Payload:       tx,
		Amount:        &chain.Amount{Value: "100", Decimals: 18, Symbol: "ETH"},
		EstimatedFee:  &chain.Amount{Value: "21000", Decimals: 18, Symbol: "ETH"},
	}
}

func subBuilt(t *testing.T, id, from string) *transaction.Built {
	t.Helper()
	signer, _, err := substrate.DecodeSS58(from)
	if err != nil {
		t.Fatal(err)
	}
	dest, _, _ := substrate.DecodeSS58(bob)
	call := substrate.TransferCall(substrate.CallIndex{Pallet: 4, Call: 0}, substrate.CallTransferAllowDeath, dest, big.NewInt(500))
	x := substrate.NewExtrinsic(call, signer, 0, &substrate.RuntimeContext{SpecVersion: 1, TransactionVersion: 1})
	return &transaction.Built{
		ID:            id,
		Chain:         "subtest",
		Address:       from,
		ChainType:     chain.ChainTypeSubstrate,
		ExtrinsicType: chain.TransferBalance,
		Payload:       x,
	}
}

func wait(t *testing.T, em *Emitter, d time.Duration) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return em.Wait(ctx)
}

func TestSubmitGates(t *testing.T) {
	f := newFixture(t)
	s := f.service(t, nil)
	ctx := context.Background()

	withErrors := evmBuilt("e1", f.evmAc.Address)
	withErrors.AddError(transaction.NotEnoughBalance, "")
	if _, err := s.Submit(ctx, withErrors, testPassword); !errors.Is(err, ErrHasErrors) {
		t.Errorf("errors: got %v", err)
	}

	warned := evmBuilt("e2", f.evmAc.Address)
	warned.AddWarning(transaction.WarnNotEnoughExistentialDeposit, "account would be reaped")
	if _, err := s.Submit(ctx, warned, testPassword); !errors.Is(err, ErrBlockingWarnings) {
		t.Errorf("warnings: got %v", err)
	}

	empty := evmBuilt("e3", f.evmAc.Address)
	empty.Payload = nil
	if _, err := s.Submit(ctx, empty, testPassword); !errors.Is(err, ErrNoPayload) {
		t.Errorf("no payload: got %v", err)
	}

	unknown := evmBuilt("e4", f.evmAc.Address)
	unknown.Chain = "missing"
	if _, err := s.Submit(ctx, unknown, testPassword); !errors.Is(err, ErrUnknownChain) {
		t.Errorf("unknown chain: got %v", err)
	}

	watch, err := f.keys.AddExternal(evmTo, "watch", keyring.KindWatch, chain.ChainTypeEVM)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Submit(ctx, evmBuilt("e5", watch.Address), ""); !errors.Is(err, keyring.ErrWatchOnly) {
		t.Errorf("watch-only: got %v", err)
	}

	if _, err := s.Submit(ctx, evmBuilt("e6", f.evmAc.Address), "Wrong-Horse-1"); !errors.Is(err, keyring.ErrWrongPassword) {
		t.Errorf("wrong password: got %v", err)
	}

	if len(f.evm.Sent()) != 0 {
		t.Error("nothing should have been broadcast")
	}
	if _, err := f.store.GetTransaction("e6"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("rejected submissions must not be recorded, got %v", err)
	}

	warned.IgnoreWarnings = true
	em, err := s.Submit(ctx, warned, testPassword)
	if err != nil {
		t.Fatalf("confirmed warnings: %v", err)
	}
	if _, err := wait(t, em, 5*time.Second); err != nil {
		t.Fatal(err)
	}
}

func TestSubmitEVM(t *testing.T) {
	f := newFixture(t)
	f.evm.Height = 100
	s := f.service(t, nil)

	b := evmBuilt("tx-1", f.evmAc.Address)
	em, err := s.Submit(context.Background(), b, testPassword)
	if err != nil {
		t.Fatal(err)
	}
	hash, err := wait(t, em, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if hash == "" || em.Hash() != hash {
		t.Fatalf("hash = %q", hash)
	}

	sent := f.evm.Sent()
	if len(sent) != 1 {
		t.Fatalf("broadcast %d transactions", len(sent))
	}
	var signed types.Transaction
	if err := signed.UnmarshalBinary(hexutil.MustDecode(sent[0])); err != nil {
		t.Fatal(err)
	}
	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(evmChainID)), &signed)
	if err != nil || from.Hex() != f.evmAc.Address {
		t.Errorf("sender = %s, %v", from.Hex(), err)
	}

	rec, err := f.store.GetTransaction("tx-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != storage.TxStatusSubmitted || rec.Hash != hash || rec.StartHeight != 100 || rec.Amount != "100" {
		t.Errorf("record = %+v", rec)
	}

	// included, then final
	f.evm.SetStatus(&backend.TxStatus{Hash: hash, Found: true, BlockNumber: 101, Confirmations: 1})
	s.Poll(context.Background())
	if got := s.Transactions().Value(); len(got) != 1 || got[0].Status != storage.TxStatusSuccess || got[0].Finalized {
		t.Fatalf("published = %+v", got)
	}
	select {
	case <-em.Done():
		t.Fatal("done before finality")
	default:
	}

	f.evm.SetStatus(&backend.TxStatus{Hash: hash, Found: true, BlockNumber: 101, Confirmations: 12, Finalized: true})
	s.Poll(context.Background())
	select {
	case <-em.Done():
	case <-time.After(time.Second):
		t.Fatal("not done after finality")
	}
	if len(s.Tracked()) != 0 {
		t.Error("finalized transaction still tracked")
	}
	rec, _ = f.store.GetTransaction("tx-1")
	if !rec.Finalized || rec.BlockNumber != 101 {
		t.Errorf("record = %+v", rec)
	}

	var kinds []EventType
	for _, ev := range em.Events() {
		kinds = append(kinds, ev.Type)
	}
	want := []EventType{EventSent, EventExtrinsicHash, EventFinalized}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestResolveOnDone(t *testing.T) {
	f := newFixture(t)
	s := f.service(t, nil)

	b := evmBuilt("tx-done", f.evmAc.Address)
	b.ResolveOnDone = true
	em, err := s.Submit(context.Background(), b, testPassword)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := wait(t, em, 200*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait before finality: got %v", err)
	}

	// broadcast has happened by now
	hash := em.Hash()
	if hash == "" {
		t.Fatal("no hash after broadcast")
	}
	f.evm.SetStatus(&backend.TxStatus{Hash: hash, Found: true, BlockNumber: 9, Finalized: true})
	s.Poll(context.Background())

	got, err := wait(t, em, time.Second)
	if err != nil || got != hash {
		t.Errorf("Wait = %q, %v", got, err)
	}
}

func TestFailedOnChain(t *testing.T) {
	f := newFixture(t)
	s := f.service(t, nil)

	em, err := s.Submit(context.Background(), evmBuilt("tx-fail", f.evmAc.Address), testPassword)
	if err != nil {
		t.Fatal(err)
	}
	hash, err := wait(t, em, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	f.evm.SetStatus(&backend.TxStatus{Hash: hash, Found: true, Failed: true, BlockNumber: 42})
	s.Poll(context.Background())

	<-em.Done()
	events := em.Events()
	last := events[len(events)-1]
	if last.Type != EventError || last.BlockNumber != 42 {
		t.Errorf("last event = %+v", last)
	}
	rec, _ := f.store.GetTransaction("tx-fail")
	if rec.Status != storage.TxStatusFailed || rec.ErrorMessage == "" {
		t.Errorf("record = %+v", rec)
	}
}

func TestBroadcastError(t *testing.T) {
	f := newFixture(t)
	f.evm.BroadcastErr = errors.New("insufficient funds for gas * price + value")
	s := f.service(t, nil)

	em, err := s.Submit(context.Background(), evmBuilt("tx-poor", f.evmAc.Address), testPassword)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wait(t, em, 5*time.Second); !errors.Is(err, backend.ErrNotEnoughBalance) {
		t.Fatalf("got %v, want ErrNotEnoughBalance", err)
	}
	rec, _ := f.store.GetTransaction("tx-poor")
	if rec.Status != storage.TxStatusFailed {
		t.Errorf("status = %s", rec.Status)
	}
	if len(s.Tracked()) != 0 {
		t.Error("failed broadcast must not be tracked")
	}
}

func TestSubmitSubstrate(t *testing.T) {
	f := newFixture(t)
	s := f.service(t, nil)

	b := subBuilt(t, "ext-1", f.subAc.Address)
	em, err := s.Submit(context.Background(), b, testPassword)
	if err != nil {
		t.Fatal(err)
	}
	hash, err := wait(t, em, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	x, _ := b.Extrinsic()
	if !x.IsSigned() {
		t.Fatal("extrinsic was not signed")
	}
	want, _ := x.Hash()
	if hash != want {
		t.Errorf("hash = %s, want %s", hash, want)
	}
	if len(f.sub.Sent()) != 1 {
		t.Errorf("broadcast %d extrinsics", len(f.sub.Sent()))
	}
}

// deviceSigner signs EVM transactions with a key the keyring never sees.
type deviceSigner struct {
	key *ecdsa.PrivateKey
	err error
}

func (d *deviceSigner) SignEVM(ctx context.Context, acct *keyring.Account, chainSlug string, tx *types.Transaction, chainID *big.Int, txID string) (*types.Transaction, error) {
	if d.err != nil {
		return nil, d.err
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), d.key)
}

func (d *deviceSigner) SignSubstrate(context.Context, *keyring.Account, string, *substrate.Extrinsic, string) error {
	return errors.New("not supported")
}

func TestSubmitExternal(t *testing.T) {
	f := newFixture(t)
	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
	if _, err := f.keys.AddExternal(addr, "ledger", keyring.KindHardware, chain.ChainTypeEVM); err != nil {
		t.Fatal(err)
	}

	// no signer configured
	if _, err := f.service(t, nil).Submit(context.Background(), evmBuilt("hw-0", addr), ""); !errors.Is(err, keyring.ErrExternalAccount) {
		t.Errorf("got %v, want ErrExternalAccount", err)
	}

	s := f.service(t, &deviceSigner{key: key})
	em, err := s.Submit(context.Background(), evmBuilt("hw-1", addr), "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wait(t, em, 5*time.Second); err != nil {
		t.Fatal(err)
	}
	if len(f.evm.Sent()) != 1 {
		t.Errorf("broadcast %d transactions", len(f.evm.Sent()))
	}

	rejected := errors.New("denied by the user")
	s = f.service(t, &deviceSigner{key: key, err: rejected})
	em, err = s.Submit(context.Background(), evmBuilt("hw-2", addr), "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wait(t, em, 5*time.Second); !errors.Is(err, rejected) {
		t.Errorf("got %v", err)
	}
	if len(f.evm.Sent()) != 1 {
		t.Error("rejected transaction was broadcast")
	}
}

func TestEVMConfirmationDepth(t *testing.T) {
	f := newFixture(t)
	s := f.service(t, nil)

	em, err := s.Submit(context.Background(), evmBuilt("tx-deep", f.evmAc.Address), testPassword)
	if err != nil {
		t.Fatal(err)
	}
	hash, err := wait(t, em, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	f.evm.SetStatus(&backend.TxStatus{Hash: hash, Found: true, BlockNumber: 50, Confirmations: DefaultEVMConfirmations - 1})
	s.Poll(context.Background())
	if len(s.Tracked()) != 1 {
		t.Fatal("final before the confirmation depth")
	}

	f.evm.SetStatus(&backend.TxStatus{Hash: hash, Found: true, BlockNumber: 50, Confirmations: DefaultEVMConfirmations})
	s.Poll(context.Background())
	if len(s.Tracked()) != 0 {
		t.Error("still tracked at the confirmation depth")
	}
	rec, _ := f.store.GetTransaction("tx-deep")
	if !rec.Finalized {
		t.Errorf("record = %+v", rec)
	}
}

func TestRecoverTracked(t *testing.T) {
	f := newFixture(t)
	hash := "0x" + common.Bytes2Hex(make([]byte, 32))
	rec := &storage.TxRecord{
		ID: "old", Chain: "evmtest", Address: f.evmAc.Address,
		ExtrinsicType: string(chain.TransferBalance), Hash: hash, Status: storage.TxStatusSubmitted,
	}
	if err := f.store.SaveTransaction(rec); err != nil {
		t.Fatal(err)
	}

	s := f.service(t, nil)
	s.Start()
	if ids := s.Tracked(); len(ids) != 1 || ids[0] != "old" {
		t.Fatalf("tracked = %v", ids)
	}

	f.evm.SetStatus(&backend.TxStatus{Hash: hash, Found: true, BlockNumber: 7, Finalized: true})
	s.Poll(context.Background())
	if len(s.Tracked()) != 0 {
		t.Error("still tracked after finality")
	}
	got, _ := f.store.GetTransaction("old")
	if !got.Finalized || got.Status != storage.TxStatusSuccess {
		t.Errorf("record = %+v", got)
	}
}

func TestRecoverTrackedHybrid(t *testing.T) {
	f := newFixture(t)
	f.reg.AddChain(&chain.Params{
		Slug: "hybtest", Name: "Hybrid Test", Type: chain.ChainTypeSubstrate, Decimals: 18,
		NativeToken: "GLMR", GenesisHash: "0x02", ChainID: evmChainID,
	})
	f.bks.Register("hybtest", f.evm)

	hash := "0x" + common.Bytes2Hex(append(make([]byte, 31), 1))
	rec := &storage.TxRecord{
		ID: "hybrid", Chain: "hybtest", Address: f.evmAc.Address, ExtrinsicType: string(chain.TransferBalance),
		ChainType: string(chain.ChainTypeEVM), Hash: hash, Status: storage.TxStatusSubmitted,
	}
	if err := f.store.SaveTransaction(rec); err != nil {
		t.Fatal(err)
	}

	s := f.service(t, nil)
	s.Start()
	if ids := s.Tracked(); len(ids) != 1 || ids[0] != "hybrid" {
		t.Fatalf("tracked = %v", ids)
	}

	f.evm.SetStatus(&backend.TxStatus{Hash: hash, Found: true, BlockNumber: 9, Finalized: true})
	s.Poll(context.Background())
	got, _ := f.store.GetTransaction("hybrid")
	if !got.Finalized || got.Status != storage.TxStatusSuccess || got.ChainType != string(chain.ChainTypeEVM) {
		t.Errorf("record = %+v", got)
	}
}

func TestPublishedNewestFirst(t *testing.T) {
	s := New(Config{})
	for _, id := range []string{"a", "b", "a"} {
		s.publish(&storage.TxRecord{ID: id, Status: storage.TxStatusQueued})
	}
	got := s.Transactions().Value()
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("published = %+v", got)
	}
}
