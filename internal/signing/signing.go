// Package signing coordinates signatures produced outside the keyring:
// QR air-gapped signers, hardware devices and WalletConnect peers.
//
// An external signature is a pending request. The coordinator prepares the
// payload, publishes it through the request registry and suspends until a
// client resolves the request with the signature, rejects it, or it
// expires.
package signing

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Klingon-tech/klingsign/internal/chain"
	"github.com/Klingon-tech/klingsign/internal/keyring"
	"github.com/Klingon-tech/klingsign/internal/request"
	"github.com/Klingon-tech/klingsign/internal/storage"
	"github.com/Klingon-tech/klingsign/internal/substrate"
	"github.com/Klingon-tech/klingsign/pkg/helpers"
	"github.com/Klingon-tech/klingsign/pkg/logging"
)

// Errors returned by external signing flows.
var (
	ErrDeviceRejected     = fmt.Errorf("%w on device", request.ErrUserRejected)
	ErrDeviceIncompatible = errors.New("device cannot sign this transaction")
	ErrInvalidQRPayload   = errors.New("invalid QR payload")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrNotExternal        = errors.New("account is not an external signer")
	ErrUnsupportedChain   = errors.New("unsupported chain")
	ErrUnsupportedMethod  = errors.New("unsupported method")
	ErrProposalExpired    = errors.New("proposal expired")
	ErrSessionNotFound    = errors.New("session not found")
)

// Device is a connected hardware wallet.
type Device interface {
	// Locked reports whether the device must be unlocked before it can
	// sign for address.
	Locked(ctx context.Context, address string) (bool, error)
	Unlock(ctx context.Context, address string) error
}

// Status words and messages hardware wallets answer with.
var (
	deviceRejectedMarkers = []string{
		"denied by the user",
		"cancelled by user",
		"0x6985",
	}
	deviceIncompatibleMarkers = []string{
		"not supported",
		"incompatible",
		"app does not seem to be open",
		"0x6e00",
		"0x6d00",
		"0x6a80",
	}
)

// AdaptDeviceError maps a hardware wallet failure onto ErrDeviceRejected
// or ErrDeviceIncompatible. Other errors are returned unchanged.
func AdaptDeviceError(err error) error {
	if err == nil || errors.Is(err, ErrDeviceRejected) || errors.Is(err, ErrDeviceIncompatible) {
		return err
	}
	if errors.Is(err, request.ErrUserRejected) {
		return ErrDeviceRejected
	}
	msg := strings.ToLower(err.Error())
	for _, m := range deviceRejectedMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %s", ErrDeviceRejected, err.Error())
		}
	}
	for _, m := range deviceIncompatibleMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %s", ErrDeviceIncompatible, err.Error())
		}
	}
	return err
}

// Payload is what an external signer is asked to sign.
type Payload struct {
	Address   string          `json:"address"`
	Chain     string          `json:"chain"`
	ChainType chain.ChainType `json:"chainType"`
	Signer    keyring.Kind    `json:"signer"`
	Data      string          `json:"data"` // RLP or SCALE payload, hex
	Hashed    bool            `json:"hashed,omitempty"`
	TxID      string          `json:"txId,omitempty"`
}

// Coordinator runs external signing flows.
type Coordinator struct {
	requests       *request.Registry
	chains         *chain.Registry
	keys           *keyring.Keyring
	device         Device
	store          *storage.Storage
	proposalExpiry time.Duration
	sessionExpiry  time.Duration
	log            *logging.Logger
	now            func() time.Time

	mu        sync.Mutex
	proposals map[string]*Proposal
}

// Config holds coordinator dependencies. Requests and Chains are required.
type Config struct {
	Requests *request.Registry
	Chains   *chain.Registry
	Keys     *keyring.Keyring // used by the QR signer helpers
	// Device is nil when the client drives the hardware wallet itself.
	Device         Device
	Store          *storage.Storage // WalletConnect sessions
	ProposalExpiry time.Duration
	SessionExpiry  time.Duration
}

// Default WalletConnect lifetimes.
const (
	DefaultProposalExpiry = 5 * time.Minute
	DefaultSessionExpiry  = 7 * 24 * time.Hour
)

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.ProposalExpiry <= 0 {
		cfg.ProposalExpiry = DefaultProposalExpiry
	}
	if cfg.SessionExpiry <= 0 {
		cfg.SessionExpiry = DefaultSessionExpiry
	}
	return &Coordinator{
		requests:       cfg.Requests,
		chains:         cfg.Chains,
		keys:           cfg.Keys,
		device:         cfg.Device,
		store:          cfg.Store,
		proposalExpiry: cfg.ProposalExpiry,
		sessionExpiry:  cfg.SessionExpiry,
		log:            logging.GetDefault().Component("signing"),
		now:            time.Now,
		proposals:      make(map[string]*Proposal),
	}
}

func requestKind(acct *keyring.Account) (request.Kind, error) {
	switch acct.Kind {
	case keyring.KindQR:
		return request.KindQR, nil
	case keyring.KindHardware:
		return request.KindHardware, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrNotExternal, acct.Address)
	}
}

// prepareDevice runs the unlock step when the device reports locked key
// material.
func (c *Coordinator) prepareDevice(ctx context.Context, address string) error {
	if c.device == nil {
		return nil
	}
	locked, err := c.device.Locked(ctx, address)
	if err != nil {
		return AdaptDeviceError(err)
	}
	if !locked {
		return nil
	}
	c.log.Info("Unlocking hardware device", "address", address)
	if err := c.device.Unlock(ctx, address); err != nil {
		return AdaptDeviceError(err)
	}
	return nil
}

// SignEVM has the external signer of acct sign tx and returns the signed
// transaction. The signature must recover to acct.
func (c *Coordinator) SignEVM(ctx context.Context, acct *keyring.Account, chainSlug string, tx *types.Transaction, chainID *big.Int, txID string) (*types.Transaction, error) {
	kind, err := requestKind(acct)
	if err != nil {
		return nil, err
	}
	if kind == request.KindHardware {
		if err := c.prepareDevice(ctx, acct.Address); err != nil {
			return nil, err
		}
	}

	data, err := UnsignedEVMPayload(tx, chainID)
	if err != nil {
		return nil, err
	}
	sig, err := c.await(ctx, kind, &Payload{
		Address:   acct.Address,
		Chain:     chainSlug,
		ChainType: chain.ChainTypeEVM,
		Signer:    acct.Kind,
		Data:      helpers.BytesToHex(data),
		TxID:      txID,
	})
	if err != nil {
		return nil, err
	}

	if len(sig) == 65 && sig[64] >= 27 {
		sig[64] -= 27
	}
	signer := types.LatestSignerForChainID(chainID)
	signed, err := tx.WithSignature(signer, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	from, err := types.Sender(signer, signed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !strings.EqualFold(from.Hex(), acct.Address) {
		return nil, fmt.Errorf("%w: signed by %s", ErrInvalidSignature, from.Hex())
	}
	return signed, nil
}

// SignSubstrate has the external signer of acct sign x and attaches the
// signature. Raw 64-byte signatures are taken as ed25519 and verified;
// signatures prefixed with their MultiSignature type are attached as is.
func (c *Coordinator) SignSubstrate(ctx context.Context, acct *keyring.Account, chainSlug string, x *substrate.Extrinsic, txID string) error {
	kind, err := requestKind(acct)
	if err != nil {
		return err
	}
	if kind == request.KindHardware {
		if err := c.prepareDevice(ctx, acct.Address); err != nil {
			return err
		}
	}

	raw, err := x.Payload()
	if err != nil {
		return err
	}
	payload := substrate.HashIfLong(raw)
	sig, err := c.await(ctx, kind, &Payload{
		Address:   acct.Address,
		Chain:     chainSlug,
		ChainType: chain.ChainTypeSubstrate,
		Signer:    acct.Kind,
		Data:      helpers.BytesToHex(payload),
		Hashed:    !bytes.Equal(raw, payload),
		TxID:      txID,
	})
	if err != nil {
		return err
	}

	sigType, body := substrate.SigEd25519, sig
	if len(sig) != ed25519.SignatureSize {
		if len(sig) == 0 {
			return fmt.Errorf("%w: empty", ErrInvalidSignature)
		}
		sigType, body = substrate.SignatureType(sig[0]), sig[1:]
	}
	if sigType == substrate.SigEd25519 {
		if len(body) != ed25519.SignatureSize || !ed25519.Verify(ed25519.PublicKey(x.Signer[:]), payload, body) {
			return fmt.Errorf("%w: does not verify for %s", ErrInvalidSignature, acct.Address)
		}
	}
	if err := x.AttachSignature(sigType, body); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// await publishes p as a pending request and blocks for its signature.
func (c *Coordinator) await(ctx context.Context, kind request.Kind, p *Payload) ([]byte, error) {
	id := c.requests.Create(kind, p)
	c.log.Info("Waiting for external signature", "id", id, "kind", kind, "address", p.Address, "chain", p.Chain)

	res, err := c.requests.Wait(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			// nobody is waiting any more
			_, _ = c.requests.Reject(id, nil)
			return nil, ctx.Err()
		}
		if kind == request.KindHardware {
			return nil, AdaptDeviceError(err)
		}
		return nil, err
	}
	c.log.Debug("External signature received", "id", id)
	return signatureBytes(res)
}

// signatureBytes accepts the shapes clients resolve a signing request with.
func signatureBytes(res any) ([]byte, error) {
	switch v := res.(type) {
	case []byte:
		return append([]byte(nil), v...), nil
	case string:
		b, err := helpers.HexToBytes(v)
		if err != nil || len(b) == 0 {
			return nil, fmt.Errorf("%w: not hex", ErrInvalidSignature)
		}
		return b, nil
	case map[string]any:
		return signatureBytes(v["signature"])
	default:
		return nil, fmt.Errorf("%w: unexpected result %T", ErrInvalidSignature, res)
	}
}

// ResolveExternal completes a QR or hardware request with signature.
func (c *Coordinator) ResolveExternal(id, signature string) error {
	info, err := c.requests.Get(id)
	if err != nil {
		return err
	}
	if !info.Kind.IsExternal() {
		return fmt.Errorf("%w: request %s is %s", ErrNotExternal, id, info.Kind)
	}
	if _, err := signatureBytes(signature); err != nil {
		return err
	}
	_, err = c.requests.Resolve(id, signature)
	return err
}
