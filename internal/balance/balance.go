// Package balance resolves transferable balances, network fees and the
// maximum amount an account can send.
package balance

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/Klingon-tech/klingsign/internal/backend"
	"github.com/Klingon-tech/klingsign/internal/chain"
	"github.com/Klingon-tech/klingsign/internal/contracts/token"
	"github.com/Klingon-tech/klingsign/pkg/logging"
)

var (
	ErrUnknownChain     = errors.New("unknown chain")
	ErrUnknownToken     = errors.New("unknown token")
	ErrTokenChain       = errors.New("token does not belong to chain")
	ErrNoShieldedSource = errors.New("no source for shielded balances")
	ErrNotFungible      = errors.New("token has no divisible balance")
)

// DefaultCrossChainFeeRatio scales the destination fee reserved on
// cross-chain transfers.
var DefaultCrossChainFeeRatio = decimal.NewFromInt(2)

// Backends hands out chain clients by chain slug.
type Backends interface {
	EVM(slug string) (backend.EVM, error)
	Substrate(slug string) (backend.Substrate, error)
}

// ShieldedSource reads balances of zk assets, which are not visible in
// public chain state.
type ShieldedSource interface {
	ShieldedBalance(ctx context.Context, address string, asset *chain.Asset) (*big.Int, error)
}

// Config holds resolver dependencies.
type Config struct {
	Chains   *chain.Registry
	Backends Backends
	Shielded ShieldedSource // optional

	// CrossChainFeeRatio defaults to DefaultCrossChainFeeRatio.
	CrossChainFeeRatio decimal.Decimal
}

// Resolver answers balance and fee questions against live chain state.
type Resolver struct {
	chains   *chain.Registry
	backends Backends
	shielded ShieldedSource
	ratio    decimal.Decimal
	log      *logging.Logger
}

// New creates a resolver.
func New(cfg Config) *Resolver {
	ratio := cfg.CrossChainFeeRatio
	if ratio.IsZero() {
		ratio = DefaultCrossChainFeeRatio
	}
	return &Resolver{
		chains:   cfg.Chains,
		backends: cfg.Backends,
		shielded: cfg.Shielded,
		ratio:    ratio,
		log:      logging.GetDefault().Component("balance"),
	}
}

// Chains returns the chain registry the resolver reads from.
func (r *Resolver) Chains() *chain.Registry {
	return r.chains
}

// Backends returns the chain clients the resolver queries.
func (r *Resolver) Backends() Backends {
	return r.backends
}

// CrossChainFeeRatio returns the configured destination fee multiplier.
func (r *Resolver) CrossChainFeeRatio() decimal.Decimal {
	return r.ratio
}

// Resolve looks up chainSlug and the token on it. An empty token means the
// chain's native token.
func (r *Resolver) Resolve(chainSlug, tokenSlug string) (*chain.Params, *chain.Asset, error) {
	p, ok := r.chains.Chain(chainSlug)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownChain, chainSlug)
	}
	if tokenSlug == "" {
		a, err := r.chains.NativeAsset(chainSlug)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrUnknownToken, err)
		}
		return p, a, nil
	}
	a, ok := r.chains.Asset(tokenSlug)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownToken, tokenSlug)
	}
	if a.OriginChain != chainSlug {
		return nil, nil, fmt.Errorf("%w: %s is on %s", ErrTokenChain, tokenSlug, a.OriginChain)
	}
	return p, a, nil
}

// GetTransferableBalance returns what address can move of token on
// chainSlug. Bonding extrinsics may also spend funds held by other locks.
func (r *Resolver) GetTransferableBalance(ctx context.Context, address, chainSlug, tokenSlug string, ext chain.ExtrinsicType) (chain.Amount, error) {
	p, a, err := r.Resolve(chainSlug, tokenSlug)
	if err != nil {
		return chain.Amount{}, err
	}
	v, err := r.balance(ctx, p, a, address, ext, false)
	if err != nil {
		return chain.Amount{}, err
	}
	return chain.NewAmount(v, a), nil
}

// GetFreeBalance returns the raw free balance, locks included.
func (r *Resolver) GetFreeBalance(ctx context.Context, address, chainSlug, tokenSlug string) (chain.Amount, error) {
	p, a, err := r.Resolve(chainSlug, tokenSlug)
	if err != nil {
		return chain.Amount{}, err
	}
	v, err := r.balance(ctx, p, a, address, chain.Unknown, true)
	if err != nil {
		return chain.Amount{}, err
	}
	return chain.NewAmount(v, a), nil
}

func (r *Resolver) balance(ctx context.Context, p *chain.Params, a *chain.Asset, address string, ext chain.ExtrinsicType, free bool) (*big.Int, error) {
	if !a.IsFungible() {
		return nil, fmt.Errorf("%w: %s", ErrNotFungible, a.Slug)
	}

	if r.chains.IsShielded(a) {
		if r.shielded == nil {
			return nil, ErrNoShieldedSource
		}
		return r.shielded.ShieldedBalance(ctx, address, a)
	}

	// EVM-format addresses on hybrid chains read through the EVM.
	if a.IsEVMContract() || (p.IsEVMCompatible() && (!p.IsSubstrate() || chain.IsEVMAddress(address))) {
		evm, err := r.backends.EVM(p.Slug)
		if err != nil {
			return nil, err
		}
		if a.IsEVMContract() {
			return token.BalanceOf(ctx, evm, a.ContractAddress, address)
		}
		return evm.Balance(ctx, address)
	}

	sub, err := r.backends.Substrate(p.Slug)
	if err != nil {
		return nil, err
	}
	if a.Type == chain.AssetLocal {
		return sub.AssetBalance(ctx, a.AssetID, address)
	}

	info, err := sub.AccountInfo(ctx, address)
	if err != nil {
		return nil, err
	}
	switch {
	case free:
		return new(big.Int).Set(info.Data.Free), nil
	case ext.IsBonding():
		out := new(big.Int).Sub(info.Data.Free, info.Data.Reserved)
		if out.Sign() < 0 {
			out.SetInt64(0)
		}
		return out, nil
	default:
		return info.Transferable(), nil
	}
}

// Query is one balance lookup in a Fetch batch.
type Query struct {
	Address string
	Chain   string
	Token   string // empty for native
	Free    bool   // raw free balance instead of transferable
	Type    chain.ExtrinsicType
}

// Fetch runs queries concurrently. Results line up with queries. The first
// failure cancels the rest.
func (r *Resolver) Fetch(ctx context.Context, queries ...Query) ([]chain.Amount, error) {
	out := make([]chain.Amount, len(queries))
	g, ctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			var (
				amt chain.Amount
				err error
			)
			if q.Free {
				amt, err = r.GetFreeBalance(ctx, q.Address, q.Chain, q.Token)
			} else {
				amt, err = r.GetTransferableBalance(ctx, q.Address, q.Chain, q.Token, q.Type)
			}
			if err != nil {
				return fmt.Errorf("balance of %s on %s: %w", q.Address, q.Chain, err)
			}
			out[i] = amt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// SenderAndReceiver fetches the sender's transferable balance and the
// receiver's free balance of the same token concurrently.
func (r *Resolver) SenderAndReceiver(ctx context.Context, sender, receiver, chainSlug, tokenSlug string, ext chain.ExtrinsicType) (chain.Amount, chain.Amount, error) {
	res, err := r.Fetch(ctx,
		Query{Address: sender, Chain: chainSlug, Token: tokenSlug, Type: ext},
		Query{Address: receiver, Chain: chainSlug, Token: tokenSlug, Free: true},
	)
	if err != nil {
		return chain.Amount{}, chain.Amount{}, err
	}
	return res[0], res[1], nil
}
