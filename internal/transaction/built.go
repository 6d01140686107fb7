package transaction

import (
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Klingon-tech/klingsign/internal/chain"
	"github.com/Klingon-tech/klingsign/internal/substrate"
)

// Built is the result of building an intent. A Built with errors has no
// payload and must not be submitted.
type Built struct {
	ID            string              `json:"id"`
	Chain         string              `json:"chain"`
	Address       string              `json:"address"`
	ChainType     chain.ChainType     `json:"chainType"`
	ExtrinsicType chain.ExtrinsicType `json:"extrinsicType"`

	// Payload is a *types.Transaction, a *substrate.Extrinsic or nil.
	Payload any `json:"-"`

	Errors   []*TxError   `json:"errors"`
	Warnings []*TxWarning `json:"warnings"`

	To                   string        `json:"to,omitempty"`
	Amount               *chain.Amount `json:"amount,omitempty"`
	TransferNativeAmount string        `json:"transferNativeAmount"`
	EstimatedFee         *chain.Amount `json:"estimatedFee,omitempty"`

	// ResolveOnDone makes submission wait for finality instead of
	// returning at broadcast.
	ResolveOnDone  bool `json:"resolveOnDone"`
	IgnoreWarnings bool `json:"ignoreWarnings"`
}

// AddError records an error. An empty msg uses the code's default.
func (b *Built) AddError(code ErrorCode, msg string) {
	b.Errors = append(b.Errors, NewTxError(code, msg))
}

// AddWarning records a warning.
func (b *Built) AddWarning(code WarningCode, msg string) {
	b.Warnings = append(b.Warnings, &TxWarning{Code: code, Message: msg})
}

// HasErrors reports whether the transaction failed validation.
func (b *Built) HasErrors() bool {
	return len(b.Errors) > 0
}

// HasError reports whether an error with code was recorded.
func (b *Built) HasError(code ErrorCode) bool {
	for _, e := range b.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

// BlockingWarnings returns the warnings that stop submission unless
// IgnoreWarnings is set.
func (b *Built) BlockingWarnings() []*TxWarning {
	var out []*TxWarning
	for _, w := range b.Warnings {
		if w.Blocking() {
			out = append(out, w)
		}
	}
	return out
}

// EVMTx returns the payload as an unsigned EVM transaction.
func (b *Built) EVMTx() (*types.Transaction, bool) {
	tx, ok := b.Payload.(*types.Transaction)
	return tx, ok
}

// Extrinsic returns the payload as an unsigned extrinsic.
func (b *Built) Extrinsic() (*substrate.Extrinsic, bool) {
	x, ok := b.Payload.(*substrate.Extrinsic)
	return x, ok
}

// finish enforces that errors leave no payload behind.
func (b *Built) finish() {
	if b.HasErrors() {
		b.Payload = nil
	}
	if b.TransferNativeAmount == "" {
		b.TransferNativeAmount = "0"
	}
	if b.Errors == nil {
		b.Errors = []*TxError{}
	}
	if b.Warnings == nil {
		b.Warnings = []*TxWarning{}
	}
}
