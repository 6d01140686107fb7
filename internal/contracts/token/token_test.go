package token

import (
	"bytes"
	"context"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Klingon-tech/klingsign/internal/backend"
)

func TestPackTransfer(t *testing.T) {
	to := common.HexToAddress("0x9858EfFD232B4033E47d90003D41EC34EcaEda94")
	data, err := PackTransfer(to, big.NewInt(1000000))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 68 {
		t.Fatalf("len = %d, want 68", len(data))
	}
	if got := hex.EncodeToString(data[:4]); got != "a9059cbb" {
		t.Errorf("selector = %s", got)
	}
	if !bytes.Equal(data[16:36], to.Bytes()) {
		t.Error("recipient not in first word")
	}
	if new(big.Int).SetBytes(data[36:68]).Int64() != 1000000 {
		t.Error("amount not in second word")
	}
}

func TestSelectors(t *testing.T) {
	a := common.HexToAddress("0x01")
	tests := []struct {
		name string
		pack func() ([]byte, error)
		want string
	}{
		{"approve", func() ([]byte, error) { return PackApprove(a, big.NewInt(1)) }, "095ea7b3"},
		{"balanceOf", func() ([]byte, error) { return PackBalanceOf(a) }, "70a08231"},
		{"allowance", func() ([]byte, error) { return PackAllowance(a, a) }, "dd62ed3e"},
		{"safeTransferFrom", func() ([]byte, error) { return PackSafeTransferFrom(a, a, big.NewInt(7)) }, "42842e0e"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.pack()
			if err != nil {
				t.Fatal(err)
			}
			if got := hex.EncodeToString(data[:4]); got != tt.want {
				t.Errorf("selector = %s, want %s", got, tt.want)
			}
		})
	}
}

type callEVM struct {
	backend.EVM
	ret  []byte
	to   string
	data []byte
}

func (c *callEVM) Call(_ context.Context, to string, data []byte) ([]byte, error) {
	c.to, c.data = to, data
	return c.ret, nil
}

func TestBalanceOf(t *testing.T) {
	ret := make([]byte, 32)
	big.NewInt(4242).FillBytes(ret)
	evm := &callEVM{ret: ret}

	contract := "0xdAC17F958D2ee523a2206206994597C13D831ec7"
	holder := "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"
	bal, err := BalanceOf(context.Background(), evm, contract, holder)
	if err != nil {
		t.Fatal(err)
	}
	if bal.Int64() != 4242 {
		t.Errorf("balance = %s", bal)
	}
	if evm.to != contract {
		t.Errorf("called %s", evm.to)
	}
	if hex.EncodeToString(evm.data[:4]) != "70a08231" {
		t.Error("expected balanceOf calldata")
	}

	if _, err := BalanceOf(context.Background(), evm, "nope", holder); err == nil {
		t.Error("bad contract address should fail")
	}
	evm.ret = []byte{1, 2}
	if _, err := BalanceOf(context.Background(), evm, contract, holder); err == nil {
		t.Error("short return data should fail")
	}
}
