package transaction

import (
	"context"
	"fmt"
	"math/big"

	"github.com/Klingon-tech/klingsign/internal/balance"
	"github.com/Klingon-tech/klingsign/internal/chain"
	"github.com/Klingon-tech/klingsign/internal/substrate"
	"github.com/Klingon-tech/klingsign/pkg/helpers"
)

// Local keys sign ed25519; the fee only depends on signature length,
// which matches sr25519 hardware signers.
const feeSignatureType = substrate.SigEd25519

// substrateSender checks that the chain has a runtime and decodes from.
func substrateSender(p *chain.Params, from string, out *Built) (substrate.AccountID, bool) {
	out.ChainType = chain.ChainTypeSubstrate
	if !p.IsSubstrate() {
		out.AddError(Unsupported, fmt.Sprintf("%s has no Substrate runtime", p.Name))
		return substrate.AccountID{}, false
	}
	id, _, err := substrate.DecodeSS58(from)
	if err != nil {
		out.AddError(InvalidParams, "Invalid sender address")
		return substrate.AccountID{}, false
	}
	return id, true
}

// callIndex looks up a runtime call, recording Unsupported when the chain
// lacks it.
func callIndex(p *chain.Params, name string, out *Built) (substrate.CallIndex, bool) {
	idx, ok := p.CallIndex(name)
	if !ok {
		out.AddError(Unsupported, fmt.Sprintf("%s is not available on %s", name, p.Name))
	}
	return idx, ok
}

// buildExtrinsic wraps call in an unsigned extrinsic for from and
// estimates its fee.
func (b *Builder) buildExtrinsic(ctx context.Context, p *chain.Params, from substrate.AccountID, address string, call substrate.Call) (*substrate.Extrinsic, *big.Int, error) {
	sub, err := b.resolver.Backends().Substrate(p.Slug)
	if err != nil {
		return nil, nil, err
	}
	nonce, err := sub.AccountNonce(ctx, address)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get nonce: %w", err)
	}
	rt, err := sub.RuntimeContext(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get runtime version: %w", err)
	}

	x := substrate.NewExtrinsic(call, from, nonce, rt)
	fee, err := b.resolver.EstimateFee(ctx, balance.FeeRequest{
		Chain:         p.Slug,
		Extrinsic:     x,
		SignatureType: feeSignatureType,
	})
	if err != nil {
		return nil, nil, err
	}
	return x, fee, nil
}

// finishExtrinsic builds the extrinsic for call, checks the sender can pay
// amount plus the fee and attaches the payload.
func (b *Builder) finishExtrinsic(ctx context.Context, p *chain.Params, from substrate.AccountID, call substrate.Call, amount *big.Int, out *Built) {
	x, fee, err := b.buildExtrinsic(ctx, p, from, out.Address, call)
	if err != nil {
		b.fail(out, err)
		return
	}
	b.setFee(p, fee, out)
	if !b.checkFee(ctx, p, out, amount, fee, nil, false, false) {
		return
	}
	out.TransferNativeAmount = orZero(amount).String()
	out.Payload = x
}

func decodeAccounts(addrs []string) ([]substrate.AccountID, error) {
	ids := make([]substrate.AccountID, 0, len(addrs))
	for _, a := range addrs {
		id, _, err := substrate.DecodeSS58(a)
		if err != nil {
			return nil, fmt.Errorf("invalid validator %s: %w", a, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// buildBond bonds value, joins a pool when poolID is set, and nominates
// validators in the same batch when given.
func (b *Builder) buildBond(ctx context.Context, p *chain.Params, address, valueStr string, poolID *uint32, validators []string, out *Built) {
	id, ok := substrateSender(p, address, out)
	if !ok {
		return
	}
	value, e := parseValue(valueStr, false)
	if e != nil {
		out.Errors = append(out.Errors, e)
		return
	}
	if value.Sign() == 0 {
		out.AddError(InvalidParams, "Amount must be greater than zero")
		return
	}

	var call substrate.Call
	if poolID != nil {
		idx, ok := callIndex(p, substrate.CallPoolsJoin, out)
		if !ok {
			return
		}
		call = substrate.PoolJoinCall(idx, value, *poolID)
	} else {
		idx, ok := callIndex(p, substrate.CallStakingBond, out)
		if !ok {
			return
		}
		call = substrate.BondCall(idx, value, substrate.RewardStaked, nil)

		if len(validators) > 0 {
			targets, err := decodeAccounts(validators)
			if err != nil {
				out.AddError(InvalidParams, err.Error())
				return
			}
			nomIdx, ok := callIndex(p, substrate.CallStakingNominate, out)
			if !ok {
				return
			}
			batchIdx, ok := callIndex(p, substrate.CallUtilityBatchAll, out)
			if !ok {
				return
			}
			call = substrate.BatchAllCall(batchIdx, call, substrate.NominateCall(nomIdx, targets))
		}
	}
	b.finishExtrinsic(ctx, p, id, call, value, out)
}

// buildUnbond starts unbonding value, from the member's pool when pool is set.
func (b *Builder) buildUnbond(ctx context.Context, p *chain.Params, address, valueStr string, pool bool, out *Built) {
	id, ok := substrateSender(p, address, out)
	if !ok {
		return
	}
	value, e := parseValue(valueStr, false)
	if e != nil {
		out.Errors = append(out.Errors, e)
		return
	}

	var call substrate.Call
	if pool {
		idx, ok := callIndex(p, substrate.CallPoolsUnbond, out)
		if !ok {
			return
		}
		call = substrate.PoolUnbondCall(idx, id, value)
	} else {
		idx, ok := callIndex(p, substrate.CallStakingUnbond, out)
		if !ok {
			return
		}
		call = substrate.UnbondCall(idx, value)
	}
	b.finishExtrinsic(ctx, p, id, call, nil, out)
}

func (b *Builder) buildClaim(ctx context.Context, p *chain.Params, in *StakingClaimReward, out *Built) {
	id, ok := substrateSender(p, in.Address, out)
	if !ok {
		return
	}

	var call substrate.Call
	if in.Pool {
		idx, ok := callIndex(p, substrate.CallPoolsClaimPayout, out)
		if !ok {
			return
		}
		call = substrate.PoolClaimPayoutCall(idx)
	} else {
		validator, _, err := substrate.DecodeSS58(in.Validator)
		if err != nil {
			out.AddError(InvalidParams, "Invalid validator address")
			return
		}
		idx, ok := callIndex(p, substrate.CallStakingPayout, out)
		if !ok {
			return
		}
		call = substrate.PayoutStakersCall(idx, validator, in.Era)
	}
	b.finishExtrinsic(ctx, p, id, call, nil, out)
}

func (b *Builder) buildCancelUnstake(ctx context.Context, p *chain.Params, in *StakingCancelUnstake, out *Built) {
	id, ok := substrateSender(p, in.Address, out)
	if !ok {
		return
	}
	value, e := parseValue(in.Value, false)
	if e != nil {
		out.Errors = append(out.Errors, e)
		return
	}
	idx, ok := callIndex(p, substrate.CallStakingRebond, out)
	if !ok {
		return
	}
	b.finishExtrinsic(ctx, p, id, substrate.RebondCall(idx, value), nil, out)
}

func (b *Builder) buildWithdraw(ctx context.Context, p *chain.Params, address string, pool bool, spans uint32, out *Built) {
	id, ok := substrateSender(p, address, out)
	if !ok {
		return
	}

	var call substrate.Call
	if pool {
		idx, ok := callIndex(p, substrate.CallPoolsWithdraw, out)
		if !ok {
			return
		}
		call = substrate.PoolWithdrawCall(idx, id, spans)
	} else {
		idx, ok := callIndex(p, substrate.CallStakingWithdraw, out)
		if !ok {
			return
		}
		call = substrate.WithdrawUnbondedCall(idx, spans)
	}
	b.finishExtrinsic(ctx, p, id, call, nil, out)
}

// buildSwap wraps a step prepared by a swap provider. The sender must
// hold the sold amount.
func (b *Builder) buildSwap(ctx context.Context, p *chain.Params, in *SwapStep, out *Built) {
	a, ok := b.resolveToken(p, in.Token, out)
	if !ok {
		return
	}
	value, e := parseValue(in.Value, false)
	if e != nil {
		out.Errors = append(out.Errors, e)
		return
	}
	amt := chain.NewAmount(value, a)
	out.Amount = &amt

	if !a.IsNative() {
		have, err := b.resolver.GetTransferableBalance(ctx, in.Address, p.Slug, in.Token, out.ExtrinsicType)
		if err != nil {
			b.fail(out, err)
			return
		}
		if value.Cmp(have.Int()) > 0 {
			out.AddError(NotEnoughBalance, fmt.Sprintf("Not enough %s to swap", a.Symbol))
			return
		}
	}

	switch {
	case in.Call != nil:
		b.buildContractCall(ctx, p, in.Address, in.Call, out)
	case in.SubstrateCall != "":
		id, ok := substrateSender(p, in.Address, out)
		if !ok {
			return
		}
		raw, err := helpers.HexToBytes(in.SubstrateCall)
		if err != nil || len(raw) < 2 {
			out.AddError(InvalidParams, "Invalid swap call")
			return
		}
		call := substrate.Call{
			Name:  "swap",
			Index: substrate.CallIndex{Pallet: raw[0], Call: raw[1]},
			Args:  raw[2:],
		}
		var native *big.Int
		if a.IsNative() {
			native = value
		}
		b.finishExtrinsic(ctx, p, id, call, native, out)
	default:
		out.AddError(InvalidParams, "Swap step has no call")
	}
}
