package chain

import (
	"math/big"

	"github.com/Klingon-tech/klingsign/pkg/helpers"
)

// Amount is a value in smallest units with the metadata needed to show it.
type Amount struct {
	Value    string `json:"value"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol"`
}

// NewAmount builds an Amount for asset a.
func NewAmount(v *big.Int, a *Asset) Amount {
	if v == nil {
		v = new(big.Int)
	}
	return Amount{Value: v.String(), Decimals: a.Decimals, Symbol: a.Symbol}
}

// Int returns the value as an integer; malformed values read as zero.
func (a Amount) Int() *big.Int {
	return helpers.MustBigInt(a.Value)
}

// String formats the amount for display, e.g. "1.5 DOT".
func (a Amount) String() string {
	return helpers.FormatAmount(a.Int(), a.Decimals) + " " + a.Symbol
}
