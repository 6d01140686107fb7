package transaction

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Klingon-tech/klingsign/internal/backend"
	"github.com/Klingon-tech/klingsign/internal/balance"
	"github.com/Klingon-tech/klingsign/internal/chain"
	"github.com/Klingon-tech/klingsign/internal/contracts/token"
	"github.com/Klingon-tech/klingsign/pkg/helpers"
)

// evmPlan is everything needed to assemble an EVM transaction once its
// value is known.
type evmPlan struct {
	nonce uint64
	gas   uint64
	fees  *backend.GasFees
	fee   *big.Int
}

// planEVM fetches nonce, gas and fee data for a call from `from` to `to`.
// A failed gas estimate falls back to fallbackGas when it is non-zero,
// unless the node reported a low balance.
func (b *Builder) planEVM(ctx context.Context, p *chain.Params, from, to string, value *big.Int, data []byte, fallbackGas uint64) (*evmPlan, error) {
	evm, err := b.resolver.Backends().EVM(p.Slug)
	if err != nil {
		return nil, err
	}
	nonce, err := evm.Nonce(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gas, err := evm.EstimateGas(ctx, from, to, orZero(value), data)
	if err != nil {
		if fallbackGas == 0 || errors.Is(backend.AdaptError(err), backend.ErrNotEnoughBalance) {
			return nil, backend.AdaptError(err)
		}
		b.log.Debug("Gas estimate failed, using default", "chain", p.Slug, "gas", fallbackGas, "error", err)
		gas = fallbackGas
	}

	fees, err := evm.SuggestFees(ctx, p.SupportsEIP1559)
	if err != nil {
		return nil, fmt.Errorf("failed to get fees: %w", err)
	}
	return &evmPlan{
		nonce: nonce,
		gas:   gas,
		fees:  fees,
		fee:   balance.EVMFee(fees, gas),
	}, nil
}

// tx assembles the unsigned transaction. Chains with EIP-1559 get a
// dynamic fee transaction when the node suggested dynamic fees.
func (pl *evmPlan) tx(p *chain.Params, to string, value *big.Int, data []byte) *types.Transaction {
	addr := common.HexToAddress(to)
	value = new(big.Int).Set(orZero(value))

	if p.SupportsEIP1559 && pl.fees.MaxFeePerGas != nil {
		tip := pl.fees.MaxPriorityFeePerGas
		if tip == nil {
			tip = new(big.Int)
		}
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   new(big.Int).SetUint64(p.ChainID),
			Nonce:     pl.nonce,
			GasTipCap: tip,
			GasFeeCap: pl.fees.MaxFeePerGas,
			Gas:       pl.gas,
			To:        &addr,
			Value:     value,
			Data:      data,
		})
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    pl.nonce,
		GasPrice: balance.GasPrice(pl.fees),
		Gas:      pl.gas,
		To:       &addr,
		Value:    value,
		Data:     data,
	})
}

// buildNft sends an ERC-721 token with safeTransferFrom.
func (b *Builder) buildNft(ctx context.Context, p *chain.Params, in *NftTransfer, out *Built) {
	out.ChainType = chain.ChainTypeEVM
	out.To = in.To

	if !p.IsEVMCompatible() || !chain.IsEVMAddress(in.Contract) {
		out.AddError(Unsupported, "This feature is not yet available for this NFT")
		return
	}
	out.Errors = append(out.Errors, validateAddresses(p, chain.ChainTypeEVM, in.Address, in.To)...)
	tokenID, err := helpers.ParseBigInt(in.TokenID)
	if err != nil {
		out.AddError(InvalidParams, fmt.Sprintf("Invalid token id %q", in.TokenID))
	}
	if out.HasErrors() {
		return
	}

	data, err := token.PackSafeTransferFrom(common.HexToAddress(in.Address), common.HexToAddress(in.To), tokenID)
	if err != nil {
		b.fail(out, err)
		return
	}
	pl, err := b.planEVM(ctx, p, in.Address, in.Contract, nil, data, token.DefaultERC721Gas)
	if err != nil {
		b.fail(out, err)
		return
	}
	b.setFee(p, pl.fee, out)
	if !b.checkFee(ctx, p, out, nil, pl.fee, nil, false, false) {
		return
	}
	out.Payload = pl.tx(p, in.Contract, nil, data)
}

// buildApproval approves a spender for an ERC-20 token.
func (b *Builder) buildApproval(ctx context.Context, p *chain.Params, in *SpendingApproval, out *Built) {
	out.ChainType = chain.ChainTypeEVM
	out.To = in.Spender

	a, ok := b.resolveToken(p, in.Token, out)
	if !ok {
		return
	}
	if a.Type != chain.AssetERC20 || a.ContractAddress == "" {
		out.AddError(InvalidToken, fmt.Sprintf("%s is not an ERC-20 token", a.Symbol))
		return
	}
	out.Errors = append(out.Errors, validateAddresses(p, chain.ChainTypeEVM, in.Address, in.Spender)...)
	value, e := parseValue(in.Value, false)
	if e != nil {
		out.Errors = append(out.Errors, e)
	}
	if out.HasErrors() {
		return
	}
	amt := chain.NewAmount(value, a)
	out.Amount = &amt

	data, err := token.PackApprove(common.HexToAddress(in.Spender), value)
	if err != nil {
		b.fail(out, err)
		return
	}
	pl, err := b.planEVM(ctx, p, in.Address, a.ContractAddress, nil, data, token.DefaultApproveGas)
	if err != nil {
		b.fail(out, err)
		return
	}
	b.setFee(p, pl.fee, out)
	if !b.checkFee(ctx, p, out, nil, pl.fee, nil, false, false) {
		return
	}
	out.Payload = pl.tx(p, a.ContractAddress, nil, data)
}

// buildContractCall sends a prepared EVM call.
func (b *Builder) buildContractCall(ctx context.Context, p *chain.Params, from string, call *ContractCall, out *Built) {
	out.ChainType = chain.ChainTypeEVM
	out.To = call.To

	if !p.IsEVMCompatible() {
		out.AddError(Unsupported, fmt.Sprintf("%s has no EVM", p.Name))
		return
	}
	out.Errors = append(out.Errors, validateAddresses(p, chain.ChainTypeEVM, from, call.To)...)
	data, err := helpers.HexToBytes(call.Data)
	if err != nil {
		out.AddError(InvalidParams, "Invalid call data")
	}
	value, e := parseValue(call.Value, true)
	if e != nil {
		out.Errors = append(out.Errors, e)
	}
	if out.HasErrors() {
		return
	}

	pl, err := b.planEVM(ctx, p, from, call.To, value, data, 0)
	if err != nil {
		b.fail(out, err)
		return
	}
	b.setFee(p, pl.fee, out)
	if !b.checkFee(ctx, p, out, value, pl.fee, nil, false, false) {
		return
	}
	out.TransferNativeAmount = value.String()
	out.Payload = pl.tx(p, call.To, value, data)
}
