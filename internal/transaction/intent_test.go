package transaction

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/klingsign/internal/chain"
)

func TestDecodeIntent(t *testing.T) {
	tests := []struct {
		kind string
		data string
		want chain.ExtrinsicType
	}{
		{"transfer", `{"address":"a","chain":"subtest","to":"b","value":"10"}`, chain.TransferBalance},
		{"transfer", `{"address":"a","chain":"subtest","to":"b","token":"subtest-LOCAL-USDT","value":"10"}`, chain.TransferToken},
		{"crossChainTransfer", `{"address":"a","chain":"subtest","destChain":"desttest","to":"b"}`, chain.TransferXCM},
		{"stakingBond", `{"address":"a","chain":"subtest","value":"1","poolId":3}`, chain.StakingJoinPool},
		{"stakingUnbond", `{"address":"a","chain":"subtest","value":"1"}`, chain.StakingUnbond},
		{"swap", `{"address":"a","chain":"evmtest","value":"1","call":{"to":"0x1","data":"0x"}}`, chain.Swap},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			in, err := DecodeIntent(tt.kind, []byte(tt.data))
			if err != nil {
				t.Fatal(err)
			}
			if in.Type() != tt.want {
				t.Errorf("type = %s, want %s", in.Type(), tt.want)
			}
			if c := in.common(); c.Address != "a" {
				t.Errorf("common fields not decoded: %+v", c)
			}
		})
	}

	if _, err := DecodeIntent("mint", []byte(`{}`)); !errors.Is(err, ErrUnknownIntent) {
		t.Errorf("unknown kind: got %v", err)
	}
	if _, err := DecodeIntent("transfer", []byte(`[1]`)); err == nil {
		t.Error("expected a decode error")
	}
}
