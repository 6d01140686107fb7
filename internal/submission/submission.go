// Package submission signs built transactions, broadcasts them and tracks
// them until they are final.
package submission

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Klingon-tech/klingsign/internal/backend"
	"github.com/Klingon-tech/klingsign/internal/balance"
	"github.com/Klingon-tech/klingsign/internal/chain"
	"github.com/Klingon-tech/klingsign/internal/keyring"
	"github.com/Klingon-tech/klingsign/internal/metrics"
	"github.com/Klingon-tech/klingsign/internal/storage"
	"github.com/Klingon-tech/klingsign/internal/subscription"
	"github.com/Klingon-tech/klingsign/internal/substrate"
	"github.com/Klingon-tech/klingsign/internal/transaction"
	"github.com/Klingon-tech/klingsign/pkg/logging"
)

// Errors returned by Submit.
var (
	ErrHasErrors        = errors.New("transaction has errors")
	ErrBlockingWarnings = errors.New("transaction has warnings that were not confirmed")
	ErrNoPayload        = errors.New("transaction has nothing to sign")
	ErrUnknownChain     = errors.New("unknown chain")
)

// Keys is the keyring surface submission uses.
type Keys interface {
	Account(address string) (*keyring.Account, error)
	Unlock(address, password string) (*keyring.Guard, error)
}

// ExternalSigner signs for QR and hardware accounts.
type ExternalSigner interface {
	SignEVM(ctx context.Context, acct *keyring.Account, chainSlug string, tx *types.Transaction, chainID *big.Int, txID string) (*types.Transaction, error)
	SignSubstrate(ctx context.Context, acct *keyring.Account, chainSlug string, x *substrate.Extrinsic, txID string) error
}

// Transaction is a submitted transaction as published on the
// transactions topic.
type Transaction struct {
	ID            string `json:"id"`
	Chain         string `json:"chain"`
	Address       string `json:"address"`
	ExtrinsicType string `json:"extrinsicType"`
	Hash          string `json:"hash,omitempty"`
	Status        string `json:"status"`
	Amount        string `json:"amount,omitempty"`
	Fee           string `json:"fee,omitempty"`
	BlockNumber   int64  `json:"blockNumber,omitempty"`
	Finalized     bool   `json:"finalized"`
	Error         string `json:"error,omitempty"`
}

// maxPublished bounds the transactions topic.
const maxPublished = 50

// DefaultPollInterval is how often tracked transactions are checked.
const DefaultPollInterval = 6 * time.Second

// DefaultEVMConfirmations is the depth at which an EVM transaction is
// final. EVM backends do not report finality themselves.
const DefaultEVMConfirmations = 12

// Config holds service dependencies.
type Config struct {
	Chains   *chain.Registry
	Backends balance.Backends
	Keys     Keys
	External ExternalSigner   // nil rejects external accounts
	Store    *storage.Storage // optional history
	Metrics  *metrics.Metrics

	PollInterval     time.Duration
	EVMConfirmations int64
}

// Service submits and tracks transactions.
type Service struct {
	chains   *chain.Registry
	backends balance.Backends
	keys     Keys
	external ExternalSigner
	store    *storage.Storage
	metrics  *metrics.Metrics
	log      *logging.Logger
	interval time.Duration
	depth    int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	tracked map[string]*tracked

	txs *subscription.Subject[[]Transaction]
}

// New creates a submission service. Call Start to begin tracking.
func New(cfg Config) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	depth := cfg.EVMConfirmations
	if depth <= 0 {
		depth = DefaultEVMConfirmations
	}
	return &Service{
		chains:   cfg.Chains,
		backends: cfg.Backends,
		keys:     cfg.Keys,
		external: cfg.External,
		store:    cfg.Store,
		metrics:  cfg.Metrics,
		log:      logging.GetDefault().Component("submission"),
		interval: interval,
		depth:    depth,
		ctx:      ctx,
		cancel:   cancel,
		tracked:  make(map[string]*tracked),
		txs:      subscription.NewSubject[[]Transaction]("transactions", nil),
	}
}

// Transactions is the transactions topic: recent submissions, newest
// first.
func (s *Service) Transactions() *subscription.Subject[[]Transaction] {
	return s.txs
}

// Submit signs b and broadcasts it in the background. Local accounts are
// signed before Submit returns, so a wrong password is reported directly;
// external accounts wait for their signer in the background. Progress is
// reported through the returned Emitter.
func (s *Service) Submit(ctx context.Context, b *transaction.Built, password string) (*Emitter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.HasErrors() {
		return nil, fmt.Errorf("%w: %s", ErrHasErrors, b.Errors[0].Message)
	}
	if ws := b.BlockingWarnings(); len(ws) > 0 && !b.IgnoreWarnings {
		return nil, fmt.Errorf("%w: %s", ErrBlockingWarnings, ws[0].Message)
	}
	if b.Payload == nil {
		return nil, ErrNoPayload
	}
	p, ok := s.chains.Chain(b.Chain)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChain, b.Chain)
	}

	acct, err := s.keys.Account(b.Address)
	if err != nil {
		return nil, err
	}
	switch acct.Kind {
	case keyring.KindWatch:
		return nil, keyring.ErrWatchOnly
	case keyring.KindQR, keyring.KindHardware:
		if s.external == nil {
			return nil, keyring.ErrExternalAccount
		}
	}

	bk, err := s.backendFor(p, b.ChainType)
	if err != nil {
		return nil, err
	}

	var raw string
	if acct.Kind == keyring.KindLocal {
		if raw, err = s.signLocal(b, p, password); err != nil {
			return nil, err
		}
	}

	rec := &storage.TxRecord{
		ID:            b.ID,
		Chain:         b.Chain,
		Address:       b.Address,
		ExtrinsicType: string(b.ExtrinsicType),
		ChainType:     string(b.ChainType),
		Status:        storage.TxStatusQueued,
		Amount:        amountValue(b.Amount),
		Fee:           amountValue(b.EstimatedFee),
	}
	if s.store != nil {
		if err := s.store.SaveTransaction(rec); err != nil {
			return nil, err
		}
	}
	s.publish(rec)

	em := newEmitter(b.ID, b.ResolveOnDone)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.send(rec, em, b, acct, p, bk, raw)
	}()
	return em, nil
}

func amountValue(a *chain.Amount) string {
	if a == nil {
		return ""
	}
	return a.Value
}

func (s *Service) backendFor(p *chain.Params, ct chain.ChainType) (backend.Backend, error) {
	if ct == chain.ChainTypeEVM {
		return s.backends.EVM(p.Slug)
	}
	return s.backends.Substrate(p.Slug)
}

// signLocal signs with a scoped keyring unlock and returns the raw
// transaction hex.
func (s *Service) signLocal(b *transaction.Built, p *chain.Params, password string) (string, error) {
	g, err := s.keys.Unlock(b.Address, password)
	if err != nil {
		return "", err
	}
	defer g.Release()

	switch payload := b.Payload.(type) {
	case *types.Transaction:
		signed, err := g.SignEVMTx(payload, new(big.Int).SetUint64(p.ChainID))
		if err != nil {
			return "", err
		}
		return encodeEVM(signed)
	case *substrate.Extrinsic:
		sp, err := payload.SigningPayload()
		if err != nil {
			return "", err
		}
		sig, err := g.SignSubstrate(sp)
		if err != nil {
			return "", err
		}
		if err := payload.AttachSignature(g.SignatureType(), sig); err != nil {
			return "", err
		}
		return payload.Hex()
	default:
		return "", fmt.Errorf("%w: %T", ErrNoPayload, b.Payload)
	}
}

func (s *Service) signExternal(ctx context.Context, b *transaction.Built, acct *keyring.Account, p *chain.Params) (string, error) {
	switch payload := b.Payload.(type) {
	case *types.Transaction:
		signed, err := s.external.SignEVM(ctx, acct, p.Slug, payload, new(big.Int).SetUint64(p.ChainID), b.ID)
		if err != nil {
			return "", err
		}
		return encodeEVM(signed)
	case *substrate.Extrinsic:
		if err := s.external.SignSubstrate(ctx, acct, p.Slug, payload, b.ID); err != nil {
			return "", err
		}
		return payload.Hex()
	default:
		return "", fmt.Errorf("%w: %T", ErrNoPayload, b.Payload)
	}
}

func encodeEVM(tx *types.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", err
	}
	return hexutil.Encode(raw), nil
}

// send finishes signing when needed, broadcasts and hands the transaction
// to the tracker.
func (s *Service) send(rec *storage.TxRecord, em *Emitter, b *transaction.Built, acct *keyring.Account, p *chain.Params, bk backend.Backend, raw string) {
	ctx := s.ctx
	if raw == "" {
		var err error
		if raw, err = s.signExternal(ctx, b, acct, p); err != nil {
			s.log.Info("External signing failed", "id", rec.ID, "error", err)
			s.finishFailed(rec, em, err, 0)
			return
		}
	}
	em.emit(Event{Type: EventSent})

	if h, err := bk.GetBlockHeight(ctx); err == nil {
		rec.StartHeight = h
	}
	hash, err := bk.BroadcastTransaction(ctx, raw)
	if err != nil {
		err = backend.AdaptError(err)
		s.log.Warn("Broadcast failed", "id", rec.ID, "chain", p.Slug, "error", err)
		s.finishFailed(rec, em, err, 0)
		return
	}

	rec.Hash = hash
	rec.Status = storage.TxStatusSubmitted
	s.save(rec)
	s.metrics.Submitted(p.Slug)
	s.log.Info("Transaction broadcast", "id", rec.ID, "chain", p.Slug, "hash", hash)

	s.track(&tracked{rec: rec, em: em, bk: bk})
	em.emit(Event{Type: EventExtrinsicHash, Hash: hash})
}

func (s *Service) finishFailed(rec *storage.TxRecord, em *Emitter, err error, blockNumber int64) {
	rec.Status = storage.TxStatusFailed
	rec.ErrorMessage = err.Error()
	if blockNumber > 0 {
		rec.BlockNumber = blockNumber
	}
	s.save(rec)
	s.metrics.Finished(rec.Chain, storage.TxStatusFailed)
	if em != nil {
		em.fail(err, blockNumber)
	}
}

// save writes rec to history and publishes it.
func (s *Service) save(rec *storage.TxRecord) {
	if s.store != nil {
		if err := s.store.UpdateTransaction(rec); err != nil {
			s.log.Warn("Failed to update transaction", "id", rec.ID, "error", err)
		}
	}
	s.publish(rec)
}

func (s *Service) publish(rec *storage.TxRecord) {
	view := Transaction{
		ID:            rec.ID,
		Chain:         rec.Chain,
		Address:       rec.Address,
		ExtrinsicType: rec.ExtrinsicType,
		Hash:          rec.Hash,
		Status:        rec.Status,
		Amount:        rec.Amount,
		Fee:           rec.Fee,
		BlockNumber:   rec.BlockNumber,
		Finalized:     rec.Finalized,
		Error:         rec.ErrorMessage,
	}
	s.txs.Update(func(old []Transaction) []Transaction {
		out := make([]Transaction, 0, len(old)+1)
		out = append(out, view)
		for _, t := range old {
			if t.ID != view.ID && len(out) < maxPublished {
				out = append(out, t)
			}
		}
		return out
	})
}
