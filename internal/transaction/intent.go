package transaction

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingsign/internal/chain"
)

// Intent is a user request to move value or change staking state. The set
// of implementations is closed.
type Intent interface {
	common() *Common
	Type() chain.ExtrinsicType
}

// Common holds what every intent carries.
type Common struct {
	Address        string `json:"address"`
	Chain          string `json:"chain"`
	IgnoreWarnings bool   `json:"ignoreWarnings,omitempty"`
}

func (c *Common) common() *Common { return c }

// SimpleTransfer sends a token on one chain. An empty Token is the native
// token. Value is in smallest units.
type SimpleTransfer struct {
	Common
	To          string `json:"to"`
	Token       string `json:"token,omitempty"`
	Value       string `json:"value,omitempty"`
	TransferAll bool   `json:"transferAll,omitempty"`
}

func (t *SimpleTransfer) Type() chain.ExtrinsicType {
	if t.Token == "" {
		return chain.TransferBalance
	}
	return chain.TransferToken
}

// CrossChainTransfer sends a token from Chain to DestChain over XCM or the
// bridge gateway.
type CrossChainTransfer struct {
	Common
	To          string `json:"to"`
	DestChain   string `json:"destChain"`
	Token       string `json:"token,omitempty"`
	Value       string `json:"value,omitempty"`
	TransferAll bool   `json:"transferAll,omitempty"`
}

func (t *CrossChainTransfer) Type() chain.ExtrinsicType { return chain.TransferXCM }

// NftTransfer sends an ERC-721 token.
type NftTransfer struct {
	Common
	To       string `json:"to"`
	Contract string `json:"contract"`
	TokenID  string `json:"tokenId"`
}

func (t *NftTransfer) Type() chain.ExtrinsicType { return chain.SendNFT }

// SpendingApproval lets Spender move Value of an ERC-20 token.
type SpendingApproval struct {
	Common
	Token   string `json:"token"`
	Spender string `json:"spender"`
	Value   string `json:"value"`
}

func (t *SpendingApproval) Type() chain.ExtrinsicType { return chain.TokenApproval }

// StakingBond bonds Value for staking. With a PoolID it joins that
// nomination pool instead; otherwise Validators, when given, are nominated
// in the same batch.
type StakingBond struct {
	Common
	Value      string   `json:"value"`
	PoolID     *uint32  `json:"poolId,omitempty"`
	Validators []string `json:"validators,omitempty"`
}

func (t *StakingBond) Type() chain.ExtrinsicType {
	if t.PoolID != nil {
		return chain.StakingJoinPool
	}
	return chain.StakingBond
}

// StakingUnbond starts unbonding Value, from a pool when Pool is set.
type StakingUnbond struct {
	Common
	Value string `json:"value"`
	Pool  bool   `json:"pool,omitempty"`
}

func (t *StakingUnbond) Type() chain.ExtrinsicType {
	if t.Pool {
		return chain.StakingLeavePool
	}
	return chain.StakingUnbond
}

// StakingClaimReward pays out rewards: for Validator in Era, or the pool
// payout when Pool is set.
type StakingClaimReward struct {
	Common
	Validator string `json:"validator,omitempty"`
	Era       uint32 `json:"era,omitempty"`
	Pool      bool   `json:"pool,omitempty"`
}

func (t *StakingClaimReward) Type() chain.ExtrinsicType {
	if t.Pool {
		return chain.StakingPoolClaim
	}
	return chain.StakingClaim
}

// StakingCancelUnstake rebonds Value that is still unbonding.
type StakingCancelUnstake struct {
	Common
	Value string `json:"value"`
}

func (t *StakingCancelUnstake) Type() chain.ExtrinsicType { return chain.StakingCancel }

// StakingWithdraw withdraws unbonded funds.
type StakingWithdraw struct {
	Common
	Pool          bool   `json:"pool,omitempty"`
	SlashingSpans uint32 `json:"slashingSpans,omitempty"`
}

func (t *StakingWithdraw) Type() chain.ExtrinsicType { return chain.StakingWithdraw }

// ContractCall is a prepared EVM call used by yield and swap steps.
type ContractCall struct {
	To    string `json:"to"`
	Data  string `json:"data"`            // hex calldata
	Value string `json:"value,omitempty"` // native value sent with the call
}

// YieldJoinStep enters a yield position: a nomination pool or bond on
// Substrate chains, or a prepared contract call on EVM chains.
type YieldJoinStep struct {
	Common
	Value      string        `json:"value"`
	PoolID     *uint32       `json:"poolId,omitempty"`
	Validators []string      `json:"validators,omitempty"`
	Call       *ContractCall `json:"call,omitempty"`
}

func (t *YieldJoinStep) Type() chain.ExtrinsicType { return chain.YieldJoin }

// YieldLeave exits a yield position.
type YieldLeave struct {
	Common
	Value string        `json:"value"`
	Pool  bool          `json:"pool,omitempty"`
	Call  *ContractCall `json:"call,omitempty"`
}

func (t *YieldLeave) Type() chain.ExtrinsicType { return chain.YieldLeave }

// YieldWithdraw collects funds from a finished exit.
type YieldWithdraw struct {
	Common
	Pool          bool          `json:"pool,omitempty"`
	SlashingSpans uint32        `json:"slashingSpans,omitempty"`
	Call          *ContractCall `json:"call,omitempty"`
}

func (t *YieldWithdraw) Type() chain.ExtrinsicType { return chain.YieldWithdraw }

// SwapStep carries a transaction prepared by a swap provider: an EVM call
// or an encoded Substrate call.
type SwapStep struct {
	Common
	Token         string        `json:"token,omitempty"` // token sold, empty for native
	Value         string        `json:"value"`
	Call          *ContractCall `json:"call,omitempty"`
	SubstrateCall string        `json:"substrateCall,omitempty"` // hex of pallet ++ call ++ args
}

func (t *SwapStep) Type() chain.ExtrinsicType { return chain.Swap }

// ErrUnknownIntent is returned by DecodeIntent for an unknown kind.
var ErrUnknownIntent = errors.New("unknown intent kind")

var intentKinds = map[string]func() Intent{
	"transfer":             func() Intent { return &SimpleTransfer{} },
	"crossChainTransfer":   func() Intent { return &CrossChainTransfer{} },
	"nftTransfer":          func() Intent { return &NftTransfer{} },
	"spendingApproval":     func() Intent { return &SpendingApproval{} },
	"stakingBond":          func() Intent { return &StakingBond{} },
	"stakingUnbond":        func() Intent { return &StakingUnbond{} },
	"stakingClaimReward":   func() Intent { return &StakingClaimReward{} },
	"stakingCancelUnstake": func() Intent { return &StakingCancelUnstake{} },
	"stakingWithdraw":      func() Intent { return &StakingWithdraw{} },
	"yieldJoin":            func() Intent { return &YieldJoinStep{} },
	"yieldLeave":           func() Intent { return &YieldLeave{} },
	"yieldWithdraw":        func() Intent { return &YieldWithdraw{} },
	"swap":                 func() Intent { return &SwapStep{} },
}

// DecodeIntent decodes the JSON form of an intent of the named kind.
func DecodeIntent(kind string, data []byte) (Intent, error) {
	newIntent, ok := intentKinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIntent, kind)
	}
	in := newIntent()
	if err := json.Unmarshal(data, in); err != nil {
		return nil, fmt.Errorf("invalid %s intent: %w", kind, err)
	}
	return in, nil
}
