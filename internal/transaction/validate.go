package transaction

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/Klingon-tech/klingsign/internal/chain"
	"github.com/Klingon-tech/klingsign/pkg/helpers"
)

// DefaultXcmMinRatio scales the destination minimum to get the smallest
// amount an XCM transfer may send.
var DefaultXcmMinRatio = decimal.RequireFromString("1.2")

// ResolveChainType picks the transaction family for an intent. It is EVM
// when every address is EVM-format, the chain runs an EVM and the asset
// is native or an EVM contract token. Everything else is Substrate.
func ResolveChainType(p *chain.Params, a *chain.Asset, from, to string) chain.ChainType {
	evmAddrs := chain.IsEVMAddress(from) && (to == "" || chain.IsEVMAddress(to))
	if evmAddrs && p.IsEVMCompatible() && (a == nil || a.IsNative() || a.IsEVMContract()) {
		return chain.ChainTypeEVM
	}
	return chain.ChainTypeSubstrate
}

// parseValue reads an amount in smallest units. Missing values are an
// error unless optional.
func parseValue(value string, optional bool) (*big.Int, *TxError) {
	if value == "" {
		if optional {
			return new(big.Int), nil
		}
		return nil, NewTxError(InvalidParams, "Transfer amount is required")
	}
	v, err := helpers.ParseBigInt(value)
	if err != nil {
		return nil, NewTxError(InvalidParams, fmt.Sprintf("Invalid amount %q", value))
	}
	if v.Sign() < 0 {
		return nil, NewTxError(InvalidParams, "Amount must not be negative")
	}
	return v, nil
}

// ValidateTransfer runs the checks that need no network access.
func ValidateTransfer(p *chain.Params, a *chain.Asset, ct chain.ChainType, from, to, value string, transferAll bool) []*TxError {
	var errs []*TxError

	if to == "" {
		errs = append(errs, NewTxError(InvalidParams, "Recipient address is required"))
	}
	if !transferAll {
		if _, e := parseValue(value, false); e != nil {
			errs = append(errs, e)
		}
	}
	if a == nil {
		return append(errs, NewTxError(InvalidParams, "Not found token from registry"))
	}
	if ct == chain.ChainTypeEVM && a.IsEVMContract() && a.ContractAddress == "" {
		errs = append(errs, NewTxError(InvalidParams, "Not found ERC20 address for this token"))
	}
	if !a.IsFungible() {
		errs = append(errs, NewTxError(InvalidParams, "Use an NFT transfer for non-fungible tokens"))
	}
	errs = append(errs, validateAddresses(p, ct, from, to)...)
	return errs
}

func validateAddresses(p *chain.Params, ct chain.ChainType, from, to string) []*TxError {
	var errs []*TxError
	if ct == chain.ChainTypeSubstrate && !p.IsSubstrate() {
		return append(errs, NewTxError(InvalidParams, fmt.Sprintf("%s does not accept Substrate accounts", p.Name)))
	}
	if !chain.ValidAddressFor(ct, from) {
		errs = append(errs, NewTxError(InvalidParams, "Invalid sender address"))
	}
	if to != "" && !chain.ValidAddressFor(ct, to) {
		errs = append(errs, NewTxError(InvalidParams, "Invalid recipient address"))
	}
	return errs
}

// FeeCheck holds what CheckBalanceWithFee needs, all in native smallest
// units.
type FeeCheck struct {
	Available *big.Int // sender's transferable native balance
	Amount    *big.Int // native amount leaving the account besides the fee
	Fee       *big.Int
	ED        *big.Int

	TransferAll         bool
	SupportsTransferAll bool
	// KeepAlive makes falling below the ED an error rather than a warning.
	KeepAlive bool
	// CheckRemaining enables the ED check on what is left after sending.
	CheckRemaining bool
}

// CheckBalanceWithFee verifies the sender can pay amount plus fee and,
// when asked, that the account stays above the existential deposit.
func CheckBalanceWithFee(fc FeeCheck) ([]*TxError, []*TxWarning) {
	var (
		errs  []*TxError
		warns []*TxWarning
	)
	zero := new(big.Int)
	amount, fee, ed := orZero(fc.Amount), orZero(fc.Fee), orZero(fc.ED)
	available := orZero(fc.Available)

	needed := new(big.Int).Add(amount, fee)
	switch {
	case available.Cmp(zero) <= 0:
		errs = append(errs, NewTxError(NotEnoughBalance, ""))
	case needed.Cmp(available) > 0 && (!fc.TransferAll || !fc.SupportsTransferAll):
		errs = append(errs, NewTxError(NotEnoughBalance, ""))
	}

	if fc.CheckRemaining && !fc.TransferAll && len(errs) == 0 {
		remaining := new(big.Int).Sub(available, needed)
		if remaining.Cmp(ed) < 0 {
			if fc.KeepAlive {
				errs = append(errs, NewTxError(NotEnoughExistentialDeposit, ""))
			} else {
				warns = append(warns, &TxWarning{
					Code:    WarnNotEnoughExistentialDeposit,
					Message: "The account will be reaped if its balance falls below the existential deposit",
				})
			}
		}
	}
	return errs, warns
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// atLeastMessage is the receiver ED error shown to users.
func atLeastMessage(amount *big.Int, decimals uint8, symbol string) string {
	return fmt.Sprintf("You must transfer at least %s %s to keep the destination account alive",
		helpers.FormatAmount(amount, decimals), symbol)
}

// CheckReceiverED errors when the receiver would end below the token's
// minimum balance.
func CheckReceiverED(a *chain.Asset, receiverFree, amount *big.Int) *TxError {
	min := a.MinAmountInt()
	after := new(big.Int).Add(orZero(receiverFree), orZero(amount))
	if after.Cmp(min) >= 0 {
		return nil
	}
	atLeast := new(big.Int).Sub(min, orZero(receiverFree))
	if a.Decimals > 0 {
		atLeast.Add(atLeast, big.NewInt(1))
	}
	return NewTxError(ReceiverNotEnoughExistentialDeposit, atLeastMessage(atLeast, a.Decimals, a.Symbol))
}

// CheckSenderTokenED warns when sending a non-native token leaves less than
// its minimum balance.
func CheckSenderTokenED(a *chain.Asset, senderTransferable, amount *big.Int) *TxWarning {
	left := new(big.Int).Sub(orZero(senderTransferable), orZero(amount))
	if left.Cmp(a.MinAmountInt()) >= 0 {
		return nil
	}
	return &TxWarning{
		Code:    WarnNotEnoughExistentialDeposit,
		Message: fmt.Sprintf("Remaining %s is below its minimum balance and may be lost", a.Symbol),
	}
}

// CheckXcmMinAmount errors when amount is below the destination minimum
// scaled by ratio.
func CheckXcmMinAmount(origin, dest *chain.Asset, amount *big.Int, ratio decimal.Decimal) *TxError {
	minSend := helpers.MulRatio(dest.MinAmountInt(), ratio)
	if orZero(amount).Cmp(minSend) >= 0 {
		return nil
	}
	return NewTxError(ReceiverNotEnoughExistentialDeposit, atLeastMessage(minSend, dest.Decimals, origin.Symbol))
}

// CheckDestNativeED errors when the receiver would not hold the
// destination chain's existential deposit of its native token.
func CheckDestNativeED(dest *chain.Params, destAsset *chain.Asset, receiverNative, amount *big.Int) *TxError {
	keep := new(big.Int).Set(orZero(receiverNative))
	if destAsset.IsNative() {
		keep.Add(keep, orZero(amount))
	}
	ed := dest.ED()
	if keep.Cmp(ed) >= 0 {
		return nil
	}
	return NewTxError(ReceiverNotEnoughExistentialDeposit, fmt.Sprintf(
		"Insufficient %s on %s to cover min balance (%s %s)",
		dest.NativeToken, dest.Name, helpers.FormatAmount(ed, dest.Decimals), dest.NativeToken))
}
