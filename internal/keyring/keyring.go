// Package keyring manages accounts and their key material.
//
// Local accounts keep an Argon2id-encrypted mnemonic in storage. Signing
// keys are only ever materialized inside a Guard, which holds the
// per-address signing lock until Release. External accounts (QR, hardware)
// and watch-only accounts are tracked by address and never produce a Guard.
package keyring

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Klingon-tech/klingsign/internal/chain"
	"github.com/Klingon-tech/klingsign/internal/storage"
	"github.com/Klingon-tech/klingsign/internal/substrate"
	"github.com/Klingon-tech/klingsign/pkg/helpers"
	"github.com/Klingon-tech/klingsign/pkg/logging"
)

// Account errors. The messages are shown to users as-is.
var (
	ErrAccountNotFound = errors.New("Unable to find account")
	ErrWatchOnly       = errors.New("This account is watch-only")
	ErrExternalAccount = errors.New("account is signed externally")
	ErrLocked          = errors.New("account is locked")
	ErrReleased        = errors.New("guard already released")
	ErrInvalidAddress  = errors.New("invalid address")
	ErrWrongChainType  = errors.New("key does not match chain type")
)

// Kind says where an account's signatures come from.
type Kind string

const (
	KindLocal    Kind = "local"
	KindQR       Kind = "qr"
	KindHardware Kind = "hardware"
	KindWatch    Kind = "watch"
)

// IsExternal reports whether signatures come from outside the daemon.
func (k Kind) IsExternal() bool {
	return k == KindQR || k == KindHardware
}

// Account is a keyring entry as exposed to callers.
type Account struct {
	Address         string          `json:"address"`
	Name            string          `json:"name,omitempty"`
	Kind            Kind            `json:"kind"`
	ChainType       chain.ChainType `json:"chainType"`
	ParentAddress   string          `json:"parentAddress,omitempty"`
	DerivationPath  string          `json:"derivationPath,omitempty"`
	DerivationIndex uint32          `json:"derivationIndex"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Keyring owns accounts and unlock state.
type Keyring struct {
	store *storage.Storage
	log   *logging.Logger

	mu       sync.Mutex
	locks    map[string]*sync.Mutex // per-address signing locks
	sessions map[string][]byte      // root address -> decrypted mnemonic

	onChange func([]*Account)
}

// New creates a keyring backed by store.
func New(store *storage.Storage) *Keyring {
	return &Keyring{
		store:    store,
		log:      logging.GetDefault().Component("keyring"),
		locks:    make(map[string]*sync.Mutex),
		sessions: make(map[string][]byte),
	}
}

// OnChange registers fn to receive the account list after every change.
func (k *Keyring) OnChange(fn func([]*Account)) {
	k.mu.Lock()
	k.onChange = fn
	k.mu.Unlock()
}

func (k *Keyring) notify() {
	k.mu.Lock()
	fn := k.onChange
	k.mu.Unlock()
	if fn == nil {
		return
	}
	list, err := k.Accounts()
	if err != nil {
		k.log.Warn("Failed to list accounts for notification", "error", err)
		return
	}
	fn(list)
}

// CanonicalAddress returns the form addresses are stored under: EVM
// addresses as given, SS58 addresses re-encoded with the generic prefix.
func CanonicalAddress(address string) (string, error) {
	if chain.IsEVMAddress(address) {
		return address, nil
	}
	if substrate.IsSS58Address(address) {
		return substrate.Reformat(address, GenericSS58Prefix)
	}
	return "", fmt.Errorf("%w: %s", ErrInvalidAddress, address)
}

// CreateFromMnemonic adds a local root account derived from mnemonic.
func (k *Keyring) CreateFromMnemonic(name, mnemonic, password string, chainType chain.ChainType) (*Account, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !ValidateMnemonic(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	address, err := deriveAddress(mnemonic, chainType, 0)
	if err != nil {
		return nil, err
	}

	enc, err := EncryptMnemonic(mnemonic, password)
	if err != nil {
		return nil, err
	}
	raw, err := marshalSeed(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal keystore: %w", err)
	}

	rec := &storage.AccountRecord{
		Address:        address,
		Name:           name,
		Kind:           string(KindLocal),
		ChainType:      string(chainType),
		DerivationPath: derivationPath(chainType, 0),
		Keystore:       raw,
	}
	if err := k.store.SaveAccount(rec); err != nil {
		return nil, err
	}

	k.log.Info("Account created", "address", address, "type", chainType)
	k.notify()
	return fromRecord(rec), nil
}

// AddExternal registers an address whose signatures come from a QR signer
// or hardware device, or a watch-only address.
func (k *Keyring) AddExternal(address, name string, kind Kind, chainType chain.ChainType) (*Account, error) {
	if kind == KindLocal {
		return nil, fmt.Errorf("use CreateFromMnemonic for local accounts")
	}
	if !chain.ValidAddressFor(chainType, address) {
		return nil, fmt.Errorf("%w: %s is not a %s address", ErrInvalidAddress, address, chainType)
	}
	canon, err := CanonicalAddress(address)
	if err != nil {
		return nil, err
	}

	rec := &storage.AccountRecord{
		Address:   canon,
		Name:      name,
		Kind:      string(kind),
		ChainType: string(chainType),
	}
	if err := k.store.SaveAccount(rec); err != nil {
		return nil, err
	}

	k.log.Info("External account added", "address", canon, "kind", kind)
	k.notify()
	return fromRecord(rec), nil
}

// Account looks up an account by address in any SS58 prefix.
func (k *Keyring) Account(address string) (*Account, error) {
	rec, err := k.record(address)
	if err != nil {
		return nil, err
	}
	return fromRecord(rec), nil
}

func (k *Keyring) record(address string) (*storage.AccountRecord, error) {
	canon, err := CanonicalAddress(address)
	if err != nil {
		return nil, ErrAccountNotFound
	}
	rec, err := k.store.GetAccount(canon)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	return rec, err
}

// Accounts returns every account.
func (k *Keyring) Accounts() ([]*Account, error) {
	recs, err := k.store.ListAccounts()
	if err != nil {
		return nil, err
	}
	out := make([]*Account, 0, len(recs))
	for _, r := range recs {
		out = append(out, fromRecord(r))
	}
	return out, nil
}

// Remove deletes an account and any session it holds.
func (k *Keyring) Remove(address string) error {
	rec, err := k.record(address)
	if err != nil {
		return err
	}
	k.Lock(rec.Address)
	if err := k.store.DeleteAccount(rec.Address); err != nil {
		return err
	}
	k.notify()
	return nil
}

// CheckSignable rejects unknown and watch-only accounts before any
// signing flow starts.
func (k *Keyring) CheckSignable(address string) (*Account, error) {
	acct, err := k.Account(address)
	if err != nil {
		return nil, err
	}
	if acct.Kind == KindWatch {
		return nil, ErrWatchOnly
	}
	return acct, nil
}

func (k *Keyring) addressLock(address string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[address]
	if !ok {
		l = &sync.Mutex{}
		k.locks[address] = l
	}
	return l
}

// rootOf returns the record holding the keystore for rec.
func (k *Keyring) rootOf(rec *storage.AccountRecord) (*storage.AccountRecord, error) {
	if rec.ParentAddress == "" {
		return rec, nil
	}
	parent, err := k.store.GetAccount(rec.ParentAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: parent %s: %v", ErrCorruptKeystore, rec.ParentAddress, err)
	}
	return parent, nil
}

// mnemonic returns a copy of root's mnemonic, from the unlocked session when
// password is empty.
func (k *Keyring) mnemonic(root *storage.AccountRecord, password string) ([]byte, error) {
	if password == "" {
		k.mu.Lock()
		defer k.mu.Unlock()
		m, ok := k.sessions[root.Address]
		if !ok {
			return nil, ErrLocked
		}
		return append([]byte(nil), m...), nil
	}

	enc, err := unmarshalSeed(root.Keystore)
	if err != nil {
		return nil, err
	}
	return DecryptMnemonic(enc, password)
}

// UnlockSession decrypts the account's mnemonic and keeps it in memory
// until Lock, LockAll or auto-lock.
func (k *Keyring) UnlockSession(address, password string) error {
	rec, err := k.record(address)
	if err != nil {
		return err
	}
	if err := kindAllowsKeys(Kind(rec.Kind)); err != nil {
		return err
	}
	root, err := k.rootOf(rec)
	if err != nil {
		return err
	}
	m, err := k.mnemonic(root, password)
	if err != nil {
		return err
	}

	k.mu.Lock()
	if old, ok := k.sessions[root.Address]; ok {
		helpers.SecureClear(old)
	}
	k.sessions[root.Address] = m
	k.mu.Unlock()

	k.log.Debug("Session unlocked", "address", root.Address)
	return nil
}

// IsUnlocked reports whether address can sign without a password.
func (k *Keyring) IsUnlocked(address string) bool {
	rec, err := k.record(address)
	if err != nil {
		return false
	}
	root, err := k.rootOf(rec)
	if err != nil {
		return false
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.sessions[root.Address]
	return ok
}

// Lock forgets the session for address (and its siblings under one root).
func (k *Keyring) Lock(address string) {
	rec, err := k.record(address)
	if err != nil {
		return
	}
	root, err := k.rootOf(rec)
	if err != nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if m, ok := k.sessions[root.Address]; ok {
		helpers.SecureClear(m)
		delete(k.sessions, root.Address)
	}
}

// LockAll forgets every session.
func (k *Keyring) LockAll() {
	k.mu.Lock()
	n := len(k.sessions)
	for addr, m := range k.sessions {
		helpers.SecureClear(m)
		delete(k.sessions, addr)
	}
	k.mu.Unlock()

	if n > 0 {
		k.log.Info("Keyring locked", "sessions", n)
	}
}

func kindAllowsKeys(kind Kind) error {
	switch kind {
	case KindLocal:
		return nil
	case KindWatch:
		return ErrWatchOnly
	default:
		return ErrExternalAccount
	}
}

// Unlock returns a Guard for address. An empty password uses the unlocked
// session. The guard holds the address's signing lock: callers must
// Release it, normally with defer.
func (k *Keyring) Unlock(address, password string) (*Guard, error) {
	rec, err := k.record(address)
	if err != nil {
		return nil, err
	}
	if err := kindAllowsKeys(Kind(rec.Kind)); err != nil {
		return nil, err
	}
	root, err := k.rootOf(rec)
	if err != nil {
		return nil, err
	}

	lock := k.addressLock(rec.Address)
	lock.Lock()

	g, err := k.newGuard(rec, root, password)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	g.unlock = lock.Unlock
	return g, nil
}

func (k *Keyring) newGuard(rec, root *storage.AccountRecord, password string) (*Guard, error) {
	m, err := k.mnemonic(root, password)
	if err != nil {
		return nil, err
	}
	defer helpers.SecureClear(m)

	g := &Guard{account: fromRecord(rec)}
	var derived string

	switch chain.ChainType(rec.ChainType) {
	case chain.ChainTypeEVM:
		key, err := deriveEVMKey(string(m), rec.DerivationIndex)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptKeystore, err)
		}
		g.evmKey = key
		derived = evmAddress(key)
	case chain.ChainTypeSubstrate:
		key, err := deriveEd25519Key(string(m), rec.DerivationIndex)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptKeystore, err)
		}
		g.edKey = key
		if derived, err = substrateAddress(key); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown chain type %q", ErrCorruptKeystore, rec.ChainType)
	}

	if !strings.EqualFold(derived, rec.Address) {
		g.wipe()
		return nil, fmt.Errorf("%w: derived %s for %s", ErrCorruptKeystore, derived, rec.Address)
	}
	return g, nil
}

// WithUnlocked runs fn with a guard for address and releases it afterwards,
// whether fn succeeds, fails or panics.
func (k *Keyring) WithUnlocked(address, password string, fn func(*Guard) error) error {
	g, err := k.Unlock(address, password)
	if err != nil {
		return err
	}
	defer g.Release()
	return fn(g)
}

// DeriveMultiple derives count new child accounts of parent under a single
// unlock. The parent's lock is held for the whole batch.
func (k *Keyring) DeriveMultiple(parent, password string, count int) ([]*Account, error) {
	if count <= 0 {
		return nil, nil
	}
	rec, err := k.record(parent)
	if err != nil {
		return nil, err
	}
	if err := kindAllowsKeys(Kind(rec.Kind)); err != nil {
		return nil, err
	}
	root, err := k.rootOf(rec)
	if err != nil {
		return nil, err
	}

	lock := k.addressLock(root.Address)
	lock.Lock()
	defer lock.Unlock()

	m, err := k.mnemonic(root, password)
	if err != nil {
		return nil, err
	}
	defer helpers.SecureClear(m)

	next, err := k.store.NextDerivationIndex(root.Address)
	if err != nil {
		return nil, err
	}

	chainType := chain.ChainType(root.ChainType)
	out := make([]*Account, 0, count)
	for i := 0; i < count; i++ {
		index := next + uint32(i)
		address, err := deriveAddress(string(m), chainType, index)
		if err != nil {
			return out, err
		}
		child := &storage.AccountRecord{
			Address:         address,
			Name:            fmt.Sprintf("%s %d", rootName(root), index),
			Kind:            string(KindLocal),
			ChainType:       root.ChainType,
			ParentAddress:   root.Address,
			DerivationPath:  derivationPath(chainType, index),
			DerivationIndex: index,
		}
		if err := k.store.SaveAccount(child); err != nil {
			return out, err
		}
		out = append(out, fromRecord(child))
	}

	k.log.Info("Derived accounts", "parent", root.Address, "count", len(out))
	k.notify()
	return out, nil
}

func rootName(r *storage.AccountRecord) string {
	if r.Name != "" {
		return r.Name
	}
	return "Account"
}

// displayAddress restores the EIP-55 checksum storage drops.
func displayAddress(a string) string {
	if a != "" && chain.IsEVMAddress(a) {
		return common.HexToAddress(a).Hex()
	}
	return a
}

func fromRecord(r *storage.AccountRecord) *Account {
	return &Account{
		Address:         displayAddress(r.Address),
		Name:            r.Name,
		Kind:            Kind(r.Kind),
		ChainType:       chain.ChainType(r.ChainType),
		ParentAddress:   displayAddress(r.ParentAddress),
		DerivationPath:  r.DerivationPath,
		DerivationIndex: r.DerivationIndex,
		CreatedAt:       r.CreatedAt,
	}
}

// Guard is a scoped unlock of one account.
type Guard struct {
	account *Account
	evmKey  *ecdsa.PrivateKey
	edKey   ed25519.PrivateKey

	mu       sync.Mutex
	released bool
	unlock   func()
}

// Account returns the unlocked account.
func (g *Guard) Account() *Account {
	return g.account
}

// Release wipes the key and releases the signing lock. Safe to call twice.
func (g *Guard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return
	}
	g.released = true
	g.wipe()
	if g.unlock != nil {
		g.unlock()
	}
}

func (g *Guard) wipe() {
	if g.evmKey != nil {
		g.evmKey.D.SetInt64(0)
		g.evmKey = nil
	}
	helpers.SecureClear(g.edKey)
	g.edKey = nil
}

func (g *Guard) evm() (*ecdsa.PrivateKey, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return nil, ErrReleased
	}
	if g.evmKey == nil {
		return nil, ErrWrongChainType
	}
	return g.evmKey, nil
}

// SignEVMTx signs tx for chainID.
func (g *Guard) SignEVMTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	key, err := g.evm()
	if err != nil {
		return nil, err
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
}

// SignEVMHash signs a 32-byte digest. Returns r || s || v with v in {0, 1}.
func (g *Guard) SignEVMHash(hash []byte) ([]byte, error) {
	key, err := g.evm()
	if err != nil {
		return nil, err
	}
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	return crypto.Sign(hash, key)
}

// PersonalSign signs message with the personal_sign prefix.
// Returns r || s || v with v in {27, 28}.
func (g *Guard) PersonalSign(message []byte) ([]byte, error) {
	sig, err := g.SignEVMHash(accounts.TextHash(message))
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// SignSubstrate signs payload with the account's ed25519 key.
func (g *Guard) SignSubstrate(payload []byte) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return nil, ErrReleased
	}
	if g.edKey == nil {
		return nil, ErrWrongChainType
	}
	return ed25519.Sign(g.edKey, payload), nil
}

// SignatureType is the MultiSignature variant SignSubstrate produces.
func (g *Guard) SignatureType() substrate.SignatureType {
	return substrate.SigEd25519
}
