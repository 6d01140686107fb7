// Package transaction turns user intents into unsigned, validated
// transactions for EVM and Substrate chains.
//
// Build never returns an error: every failure is recorded on the returned
// Built so callers can show all problems at once. A Built with errors
// carries no payload.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Klingon-tech/klingsign/internal/backend"
	"github.com/Klingon-tech/klingsign/internal/balance"
	"github.com/Klingon-tech/klingsign/internal/chain"
	"github.com/Klingon-tech/klingsign/internal/config"
	"github.com/Klingon-tech/klingsign/internal/keyring"
	"github.com/Klingon-tech/klingsign/internal/metrics"
	"github.com/Klingon-tech/klingsign/pkg/logging"
)

// Signers checks that an address may sign before anything is built.
// *keyring.Keyring satisfies it.
type Signers interface {
	CheckSignable(address string) (*keyring.Account, error)
}

// Config holds builder dependencies.
type Config struct {
	Resolver *balance.Resolver
	Signers  Signers // optional

	// Gateways looks up bridge contracts by EVM chain id. Defaults to
	// config.GetGatewayContracts.
	Gateways func(chainID uint64) *config.GatewayContracts

	// XcmMinRatio defaults to DefaultXcmMinRatio.
	XcmMinRatio decimal.Decimal

	Metrics *metrics.Metrics
}

// Builder builds transactions from intents.
type Builder struct {
	resolver *balance.Resolver
	chains   *chain.Registry
	signers  Signers
	gateways func(uint64) *config.GatewayContracts
	xcmRatio decimal.Decimal
	metrics  *metrics.Metrics
	log      *logging.Logger
}

// NewBuilder creates a builder.
func NewBuilder(cfg Config) *Builder {
	b := &Builder{
		resolver: cfg.Resolver,
		chains:   cfg.Resolver.Chains(),
		signers:  cfg.Signers,
		gateways: cfg.Gateways,
		xcmRatio: cfg.XcmMinRatio,
		metrics:  cfg.Metrics,
		log:      logging.GetDefault().Component("transaction"),
	}
	if b.gateways == nil {
		b.gateways = config.GetGatewayContracts
	}
	if b.xcmRatio.IsZero() {
		b.xcmRatio = DefaultXcmMinRatio
	}
	return b
}

// Build validates intent against live chain state and returns the
// unsigned transaction along with any errors and warnings.
func (b *Builder) Build(ctx context.Context, intent Intent) *Built {
	start := time.Now()
	c := intent.common()
	out := &Built{
		ID:             uuid.NewString(),
		Chain:          c.Chain,
		Address:        c.Address,
		ExtrinsicType:  intent.Type(),
		IgnoreWarnings: c.IgnoreWarnings,
	}

	defer func() {
		out.finish()
		outcome := "ok"
		switch {
		case out.HasErrors():
			outcome = "error"
		case len(out.Warnings) > 0:
			outcome = "warning"
		}
		b.metrics.Built(out.Chain, string(out.ExtrinsicType), string(out.ChainType), outcome, time.Since(start))
		b.log.Debug("Built transaction", "id", out.ID, "chain", out.Chain, "type", out.ExtrinsicType,
			"outcome", outcome, "errors", len(out.Errors), "warnings", len(out.Warnings))
	}()

	p, ok := b.chains.Chain(c.Chain)
	if !ok {
		out.AddError(InvalidParams, fmt.Sprintf("Unknown chain %q", c.Chain))
		return out
	}
	if c.Address == "" {
		out.AddError(InvalidParams, "Sender address is required")
		return out
	}
	if b.signers != nil {
		if _, err := b.signers.CheckSignable(c.Address); err != nil {
			out.AddError(InternalError, err.Error())
			return out
		}
	}

	switch in := intent.(type) {
	case *SimpleTransfer:
		b.buildTransfer(ctx, p, in, out)
	case *CrossChainTransfer:
		b.buildCrossChain(ctx, p, in, out)
	case *NftTransfer:
		b.buildNft(ctx, p, in, out)
	case *SpendingApproval:
		b.buildApproval(ctx, p, in, out)
	case *StakingBond:
		b.buildBond(ctx, p, c.Address, in.Value, in.PoolID, in.Validators, out)
	case *StakingUnbond:
		b.buildUnbond(ctx, p, c.Address, in.Value, in.Pool, out)
	case *StakingClaimReward:
		b.buildClaim(ctx, p, in, out)
	case *StakingCancelUnstake:
		b.buildCancelUnstake(ctx, p, in, out)
	case *StakingWithdraw:
		b.buildWithdraw(ctx, p, c.Address, in.Pool, in.SlashingSpans, out)
	case *YieldJoinStep:
		out.ResolveOnDone = true
		if in.Call != nil {
			b.buildContractCall(ctx, p, c.Address, in.Call, out)
		} else {
			b.buildBond(ctx, p, c.Address, in.Value, in.PoolID, in.Validators, out)
		}
	case *YieldLeave:
		if in.Call != nil {
			b.buildContractCall(ctx, p, c.Address, in.Call, out)
		} else {
			b.buildUnbond(ctx, p, c.Address, in.Value, in.Pool, out)
		}
	case *YieldWithdraw:
		if in.Call != nil {
			b.buildContractCall(ctx, p, c.Address, in.Call, out)
		} else {
			b.buildWithdraw(ctx, p, c.Address, in.Pool, in.SlashingSpans, out)
		}
	case *SwapStep:
		out.ResolveOnDone = true
		b.buildSwap(ctx, p, in, out)
	default:
		out.AddError(Unsupported, "")
	}
	return out
}

// fail records a network or construction error. Low balance errors from
// nodes map to NotEnoughBalance.
func (b *Builder) fail(out *Built, err error) {
	if errors.Is(backend.AdaptError(err), backend.ErrNotEnoughBalance) {
		out.AddError(NotEnoughBalance, "")
		return
	}
	b.log.Warn("Failed to build transaction", "chain", out.Chain, "type", out.ExtrinsicType, "error", err)
	out.AddError(TransferFailed, err.Error())
}

// resolveToken looks up the token for an intent, recording why it failed.
func (b *Builder) resolveToken(p *chain.Params, token string, out *Built) (*chain.Asset, bool) {
	_, a, err := b.resolver.Resolve(p.Slug, token)
	switch {
	case err == nil:
		return a, true
	case errors.Is(err, balance.ErrTokenChain):
		out.AddError(InvalidToken, err.Error())
	default:
		out.AddError(InvalidParams, "Not found token from registry")
	}
	return nil, false
}

// checkFee runs CheckBalanceWithFee for the sender's native balance.
func (b *Builder) checkFee(ctx context.Context, p *chain.Params, out *Built, amount, fee, available *big.Int, transferAll, checkRemaining bool) bool {
	if available == nil {
		native, err := b.resolver.GetTransferableBalance(ctx, out.Address, p.Slug, "", out.ExtrinsicType)
		if err != nil {
			b.fail(out, err)
			return false
		}
		available = native.Int()
	}
	errs, warns := CheckBalanceWithFee(FeeCheck{
		Available:           available,
		Amount:              amount,
		Fee:                 fee,
		ED:                  p.ED(),
		TransferAll:         transferAll,
		SupportsTransferAll: p.SupportsTransferAll,
		KeepAlive:           p.KeepAlive,
		CheckRemaining:      checkRemaining,
	})
	out.Errors = append(out.Errors, errs...)
	out.Warnings = append(out.Warnings, warns...)
	return len(errs) == 0
}

// setFee records the estimated fee in the chain's native token.
func (b *Builder) setFee(p *chain.Params, fee *big.Int, out *Built) {
	native, err := b.chains.NativeAsset(p.Slug)
	if err != nil {
		return
	}
	amt := chain.NewAmount(fee, native)
	out.EstimatedFee = &amt
}
