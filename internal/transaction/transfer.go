package transaction

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Klingon-tech/klingsign/internal/balance"
	"github.com/Klingon-tech/klingsign/internal/chain"
	"github.com/Klingon-tech/klingsign/internal/contracts/gateway"
	"github.com/Klingon-tech/klingsign/internal/contracts/token"
	"github.com/Klingon-tech/klingsign/internal/substrate"
	"github.com/Klingon-tech/klingsign/pkg/helpers"
)

// gatewaySendGas is used when sendToken cannot be estimated, e.g. before
// the token allowance is in place.
const gatewaySendGas uint64 = 350_000

// buildTransfer sends a token on a single chain.
func (b *Builder) buildTransfer(ctx context.Context, p *chain.Params, in *SimpleTransfer, out *Built) {
	out.To = in.To

	a, ok := b.resolveToken(p, in.Token, out)
	if !ok {
		return
	}
	ct := ResolveChainType(p, a, in.Address, in.To)
	out.ChainType = ct

	// the native token may be named by slug
	ext := chain.TransferToken
	if a.IsNative() {
		ext = chain.TransferBalance
	}
	out.ExtrinsicType = ext

	if b.chains.IsShielded(a) {
		out.AddError(Unsupported, "Shielded transfers are not supported yet")
		return
	}
	if errs := ValidateTransfer(p, a, ct, in.Address, in.To, in.Value, in.TransferAll); len(errs) > 0 {
		out.Errors = append(out.Errors, errs...)
		return
	}
	value, _ := parseValue(in.Value, in.TransferAll)

	res, err := b.resolver.Fetch(ctx,
		balance.Query{Address: in.Address, Chain: p.Slug, Token: in.Token, Type: ext},
		balance.Query{Address: in.To, Chain: p.Slug, Token: in.Token, Free: true},
		balance.Query{Address: in.Address, Chain: p.Slug, Type: ext},
	)
	if err != nil {
		b.fail(out, err)
		return
	}
	senderToken, receiverFree, native := res[0].Int(), res[1].Int(), res[2].Int()

	if in.TransferAll {
		value = new(big.Int).Set(senderToken)
	}
	if !a.IsNative() && value.Cmp(senderToken) > 0 {
		out.AddError(NotEnoughBalance, fmt.Sprintf("Not enough %s balance", a.Symbol))
		return
	}

	var (
		payload any
		fee     *big.Int
	)
	switch ct {
	case chain.ChainTypeEVM:
		to, data, fallback := in.To, []byte(nil), token.DefaultTransferGas
		txValue := value
		if !a.IsNative() {
			if data, err = token.PackTransfer(common.HexToAddress(in.To), value); err != nil {
				b.fail(out, err)
				return
			}
			to, txValue, fallback = a.ContractAddress, nil, token.DefaultERC20Gas
		}
		estValue := txValue
		if in.TransferAll && a.IsNative() {
			estValue = nil
		}
		pl, err := b.planEVM(ctx, p, in.Address, to, estValue, data, fallback)
		if err != nil {
			b.fail(out, err)
			return
		}
		fee = pl.fee
		if in.TransferAll && a.IsNative() {
			value = helpers.SaturatingSub(senderToken, fee)
			if value.Sign() == 0 {
				out.AddError(NotEnoughBalance, "")
				return
			}
			txValue = value
		}
		payload = pl.tx(p, to, txValue, data)

	default:
		from, _, err := substrate.DecodeSS58(in.Address)
		if err != nil {
			out.AddError(InvalidParams, "Invalid sender address")
			return
		}
		dest, _, err := substrate.DecodeSS58(in.To)
		if err != nil {
			out.AddError(InvalidParams, "Invalid recipient address")
			return
		}
		// without transfer_all the balance minus the fee is sent as a
		// plain transfer
		sendRest := in.TransferAll && a.IsNative() && !p.SupportsTransferAll
		call, ok := transferCall(p, a, dest, value, in.TransferAll && !sendRest, out)
		if !ok {
			return
		}
		x, f, err := b.buildExtrinsic(ctx, p, from, in.Address, call)
		if err != nil {
			b.fail(out, err)
			return
		}
		if sendRest {
			value = helpers.SaturatingSub(senderToken, f)
			if p.KeepAlive {
				value = helpers.SaturatingSub(value, p.ED())
			}
			if value.Sign() == 0 {
				out.AddError(NotEnoughBalance, "")
				return
			}
			if call, ok = transferCall(p, a, dest, value, false, out); !ok {
				return
			}
			if x, f, err = b.buildExtrinsic(ctx, p, from, in.Address, call); err != nil {
				b.fail(out, err)
				return
			}
		}
		payload, fee = x, f
	}
	b.setFee(p, fee, out)

	nativeAmount := new(big.Int)
	if a.IsNative() {
		nativeAmount = value
	}
	b.checkFee(ctx, p, out, nativeAmount, fee, native, in.TransferAll, a.IsNative())
	if e := CheckReceiverED(a, receiverFree, value); e != nil {
		out.Errors = append(out.Errors, e)
	}
	if !a.IsNative() {
		if w := CheckSenderTokenED(a, senderToken, value); w != nil {
			out.Warnings = append(out.Warnings, w)
		}
	}

	amt := chain.NewAmount(value, a)
	out.Amount = &amt
	out.TransferNativeAmount = nativeAmount.String()
	out.Payload = payload
}

// transferCall picks the runtime call for a Substrate transfer. Native
// transfers keep the sender alive on chains that require it.
func transferCall(p *chain.Params, a *chain.Asset, dest substrate.AccountID, value *big.Int, transferAll bool, out *Built) (substrate.Call, bool) {
	switch {
	case a.Type == chain.AssetLocal:
		idx, ok := callIndex(p, substrate.CallAssetsTransfer, out)
		if !ok {
			return substrate.Call{}, false
		}
		return substrate.AssetsTransferCall(idx, a.AssetID, dest, value), true

	case a.IsNative() && transferAll:
		idx, ok := callIndex(p, substrate.CallTransferAll, out)
		if !ok {
			return substrate.Call{}, false
		}
		return substrate.TransferAllCall(idx, dest, false), true

	case a.IsNative():
		name := substrate.CallTransferAllowDeath
		if p.KeepAlive {
			name = substrate.CallTransferKeepAlive
		}
		idx, ok := p.CallIndex(name)
		if !ok {
			name = substrate.CallTransferKeepAlive
			if idx, ok = callIndex(p, name, out); !ok {
				return substrate.Call{}, false
			}
		}
		return substrate.TransferCall(idx, name, dest, value), true
	}

	out.AddError(Unsupported, fmt.Sprintf("%s cannot be sent from a Substrate account", a.Symbol))
	return substrate.Call{}, false
}

// buildCrossChain sends a token to another chain over XCM or through the
// bridge gateway.
func (b *Builder) buildCrossChain(ctx context.Context, p *chain.Params, in *CrossChainTransfer, out *Built) {
	out.To = in.To

	a, ok := b.resolveToken(p, in.Token, out)
	if !ok {
		return
	}
	dest, ok := b.chains.Chain(in.DestChain)
	if !ok {
		out.AddError(InvalidParams, fmt.Sprintf("Unknown destination chain %q", in.DestChain))
		return
	}
	if dest.Slug == p.Slug {
		out.AddError(InvalidParams, "Destination must differ from the origin chain")
		return
	}
	if _, ok := b.chains.Route(p.Slug, dest.Slug); !ok {
		out.AddError(Unsupported, fmt.Sprintf("No route from %s to %s", p.Name, dest.Name))
		return
	}
	destAsset, ok := b.chains.EqualAsset(dest.Slug, a)
	if !ok {
		out.AddError(InvalidToken, fmt.Sprintf("%s is not available on %s", a.Symbol, dest.Name))
		return
	}
	if b.chains.IsShielded(a) {
		out.AddError(Unsupported, "Shielded transfers are not supported yet")
		return
	}

	value, e := parseValue(in.Value, in.TransferAll)
	if e != nil {
		out.Errors = append(out.Errors, e)
		return
	}
	if in.TransferAll {
		maxAmt, err := b.resolver.GetMaxTransferable(ctx, in.Address, p.Slug, in.Token, true, dest.Slug)
		if err != nil {
			b.fail(out, err)
			return
		}
		value = maxAmt.Int()
	}
	amt := chain.NewAmount(value, a)
	out.Amount = &amt

	if b.chains.IsGatewayRoute(p.Slug, dest.Slug) {
		b.buildGateway(ctx, p, dest, a, destAsset, in, value, out)
		return
	}
	b.buildXcm(ctx, p, dest, a, destAsset, in, value, out)
}

// xcmDestination locates dest relative to origin.
func xcmDestination(origin, dest *chain.Params) substrate.XcmDestination {
	if origin.ParaID == 0 {
		return substrate.XcmDestination{Parents: 0, ParaID: dest.ParaID}
	}
	return substrate.XcmDestination{Parents: 1, ParaID: dest.ParaID}
}

// beneficiary decodes the receiver for dest. EVM addresses are only
// accepted by chains that run an EVM.
func beneficiary(dest *chain.Params, to string) (substrate.Beneficiary, bool) {
	if chain.IsEVMAddress(to) {
		if !dest.IsEVMCompatible() {
			return substrate.Beneficiary{}, false
		}
		return substrate.Key20(common.HexToAddress(to)), true
	}
	id, _, err := substrate.DecodeSS58(to)
	if err != nil {
		return substrate.Beneficiary{}, false
	}
	return substrate.ID32(id), true
}

func (b *Builder) buildXcm(ctx context.Context, p, dest *chain.Params, a, destAsset *chain.Asset, in *CrossChainTransfer, value *big.Int, out *Built) {
	from, ok := substrateSender(p, in.Address, out)
	if !ok {
		return
	}
	if !a.IsNative() {
		out.AddError(Unsupported, fmt.Sprintf("Only %s can be sent over XCM from %s", p.NativeToken, p.Name))
		return
	}
	to, ok := beneficiary(dest, in.To)
	if !ok {
		out.AddError(InvalidParams, "Invalid recipient address")
		return
	}
	idx, ok := callIndex(p, substrate.CallXcmReserveTransfer, out)
	if !ok {
		return
	}

	call := substrate.ReserveTransferCall(idx, xcmDestination(p, dest), to, value)
	x, fee, err := b.buildExtrinsic(ctx, p, from, in.Address, call)
	if err != nil {
		b.fail(out, err)
		return
	}
	b.setFee(p, fee, out)

	b.checkFee(ctx, p, out, value, fee, nil, in.TransferAll, false)
	if e := CheckXcmMinAmount(a, destAsset, value, b.xcmRatio); e != nil {
		out.Errors = append(out.Errors, e)
	}

	out.TransferNativeAmount = value.String()
	out.Payload = x
}

func (b *Builder) buildGateway(ctx context.Context, p, dest *chain.Params, a, destAsset *chain.Asset, in *CrossChainTransfer, value *big.Int, out *Built) {
	out.ChainType = chain.ChainTypeEVM

	gw := b.gateways(p.ChainID)
	if gw == nil {
		out.AddError(Unsupported, fmt.Sprintf("No bridge gateway on %s", p.Name))
		return
	}
	if !chain.IsEVMAddress(in.Address) {
		out.AddError(InvalidParams, "Invalid sender address")
		return
	}
	recipient, _, err := substrate.DecodeSS58(in.To)
	if err != nil {
		out.AddError(InvalidParams, "Invalid recipient address")
		return
	}

	var tokenAddr common.Address
	if !a.IsNative() {
		tokenAddr = common.HexToAddress(a.ContractAddress)
	}
	paraID := dest.ParaID
	if paraID == 0 {
		paraID = gw.DestinationParaID
	}
	destFee := dest.DestinationFee()

	res, err := b.resolver.Fetch(ctx,
		balance.Query{Address: in.Address, Chain: p.Slug, Token: in.Token, Type: out.ExtrinsicType},
		balance.Query{Address: in.Address, Chain: p.Slug, Type: out.ExtrinsicType},
		balance.Query{Address: in.To, Chain: dest.Slug, Free: true},
	)
	if err != nil {
		b.fail(out, err)
		return
	}
	senderToken, native, receiverNative := res[0].Int(), res[1].Int(), res[2].Int()
	if !a.IsNative() && value.Cmp(senderToken) > 0 {
		out.AddError(NotEnoughBalance, fmt.Sprintf("Not enough %s balance", a.Symbol))
		return
	}

	evm, err := b.resolver.Backends().EVM(p.Slug)
	if err != nil {
		b.fail(out, err)
		return
	}
	client, err := gateway.NewClient(gw.Gateway, gateway.CallerFromBackend(evm))
	if err != nil {
		b.fail(out, err)
		return
	}
	quote, err := client.QuoteFee(ctx, tokenAddr, paraID, destFee)
	if err != nil {
		b.fail(out, fmt.Errorf("failed to quote bridge fee: %w", err))
		return
	}
	data, err := gateway.PackSendToken(tokenAddr, paraID, gateway.Address32(recipient), destFee, value)
	if err != nil {
		b.fail(out, err)
		return
	}

	txValue := new(big.Int).Set(quote)
	if a.IsNative() {
		txValue.Add(txValue, value)
	}
	pl, err := b.planEVM(ctx, p, in.Address, gw.Gateway.Hex(), txValue, data, gatewaySendGas)
	if err != nil {
		b.fail(out, err)
		return
	}
	b.setFee(p, pl.fee, out)

	b.checkFee(ctx, p, out, txValue, pl.fee, native, in.TransferAll, false)
	if e := CheckXcmMinAmount(a, destAsset, value, b.xcmRatio); e != nil {
		out.Errors = append(out.Errors, e)
	}
	if e := CheckDestNativeED(dest, destAsset, receiverNative, value); e != nil {
		out.Errors = append(out.Errors, e)
	}
	if !a.IsNative() {
		if w := CheckSenderTokenED(a, senderToken, value); w != nil {
			out.Warnings = append(out.Warnings, w)
		}
	}

	out.TransferNativeAmount = txValue.String()
	out.Payload = pl.tx(p, gw.Gateway.Hex(), txValue, data)
}
