package balance

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/Klingon-tech/klingsign/internal/backend"
	"github.com/Klingon-tech/klingsign/internal/chain"
	"github.com/Klingon-tech/klingsign/internal/contracts/token"
	"github.com/Klingon-tech/klingsign/internal/substrate"
	"github.com/Klingon-tech/klingsign/pkg/helpers"
)

var ErrMissingCall = errors.New("chain runtime lacks call")

// FeeRequest describes a transaction whose fee is wanted. EVM requests use
// the call fields, Substrate requests the extrinsic.
type FeeRequest struct {
	Chain string

	From     string
	To       string
	Value    *big.Int
	Data     []byte
	GasLimit uint64 // skips estimation when set

	Extrinsic     *substrate.Extrinsic
	SignatureType substrate.SignatureType
}

// GasPrice returns the per-gas price a transaction built from fees pays at
// most: maxFeePerGas for dynamic fee chains, gasPrice otherwise.
func GasPrice(fees *backend.GasFees) *big.Int {
	if fees.MaxFeePerGas != nil {
		return fees.MaxFeePerGas
	}
	if fees.GasPrice != nil {
		return fees.GasPrice
	}
	return new(big.Int)
}

// EVMFee is gasLimit times the price from fees.
func EVMFee(fees *backend.GasFees, gasLimit uint64) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), GasPrice(fees))
}

// EstimateFee returns the network fee for req in the chain's native token.
func (r *Resolver) EstimateFee(ctx context.Context, req FeeRequest) (*big.Int, error) {
	p, ok := r.chains.Chain(req.Chain)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChain, req.Chain)
	}

	if req.Extrinsic != nil {
		sub, err := r.backends.Substrate(p.Slug)
		if err != nil {
			return nil, err
		}
		hex, err := req.Extrinsic.FakeSigned(req.SignatureType).Hex()
		if err != nil {
			return nil, err
		}
		return sub.QueryFee(ctx, hex)
	}

	evm, err := r.backends.EVM(p.Slug)
	if err != nil {
		return nil, err
	}
	gas := req.GasLimit
	if gas == 0 {
		value := req.Value
		if value == nil {
			value = new(big.Int)
		}
		if gas, err = evm.EstimateGas(ctx, req.From, req.To, value, req.Data); err != nil {
			return nil, err
		}
	}
	fees, err := evm.SuggestFees(ctx, p.SupportsEIP1559)
	if err != nil {
		return nil, err
	}
	return EVMFee(fees, gas), nil
}

// mockTransferFee estimates the fee of sending amount of the native token
// from address to itself.
func (r *Resolver) mockTransferFee(ctx context.Context, p *chain.Params, address string, amount *big.Int) (*big.Int, error) {
	if p.IsEVMCompatible() && (!p.IsSubstrate() || chain.IsEVMAddress(address)) {
		return r.EstimateFee(ctx, FeeRequest{
			Chain:    p.Slug,
			From:     address,
			To:       address,
			GasLimit: token.DefaultTransferGas,
		})
	}

	idx, ok := p.CallIndex(substrate.CallTransferKeepAlive)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrMissingCall, substrate.CallTransferKeepAlive, p.Slug)
	}
	id, _, err := substrate.DecodeSS58(address)
	if err != nil {
		return nil, err
	}
	sub, err := r.backends.Substrate(p.Slug)
	if err != nil {
		return nil, err
	}
	nonce, err := sub.AccountNonce(ctx, address)
	if err != nil {
		return nil, err
	}
	rt, err := sub.RuntimeContext(ctx)
	if err != nil {
		return nil, err
	}

	x := substrate.NewExtrinsic(substrate.TransferCall(idx, substrate.CallTransferKeepAlive, id, amount), id, nonce, rt)
	return r.EstimateFee(ctx, FeeRequest{Chain: p.Slug, Extrinsic: x, SignatureType: substrate.SigEd25519})
}

// MaxTransferable applies the fee rules to a transferable balance. Only
// native tokens pay the fee, and cross-chain transfers also reserve
// destFee scaled by ratio. The result never goes below zero.
func MaxTransferable(transferable, fee, destFee *big.Int, ratio decimal.Decimal, native, crossChain bool) *big.Int {
	if !native {
		return new(big.Int).Set(transferable)
	}
	out := helpers.SaturatingSub(transferable, fee)
	if crossChain && destFee != nil {
		out = helpers.SaturatingSub(out, helpers.MulRatio(destFee, ratio))
	}
	return out
}

// GetMaxTransferable returns the most address can send of token. Native
// tokens keep back the network fee, and cross-chain sends also keep back
// the destination fee of destChain scaled by the configured ratio.
func (r *Resolver) GetMaxTransferable(ctx context.Context, address, chainSlug, tokenSlug string, crossChain bool, destChain string) (chain.Amount, error) {
	p, a, err := r.Resolve(chainSlug, tokenSlug)
	if err != nil {
		return chain.Amount{}, err
	}

	ext := chain.TransferBalance
	if crossChain {
		ext = chain.TransferXCM
	}
	bal, err := r.balance(ctx, p, a, address, ext, false)
	if err != nil {
		return chain.Amount{}, err
	}
	if !a.IsNative() {
		return chain.NewAmount(bal, a), nil
	}

	fee, err := r.mockTransferFee(ctx, p, address, bal)
	if err != nil {
		return chain.Amount{}, fmt.Errorf("failed to estimate fee: %w", err)
	}

	var destFee *big.Int
	if crossChain {
		dest, ok := r.chains.Chain(destChain)
		if !ok {
			return chain.Amount{}, fmt.Errorf("%w: %s", ErrUnknownChain, destChain)
		}
		destFee = dest.DestinationFee()
	}

	out := MaxTransferable(bal, fee, destFee, r.ratio, true, crossChain)
	r.log.Debug("Max transferable", "address", address, "chain", chainSlug, "balance", bal, "fee", fee, "max", out)
	return chain.NewAmount(out, a), nil
}
