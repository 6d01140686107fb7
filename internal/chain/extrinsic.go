package chain

// ExtrinsicType names what a transaction does, independent of chain family.
type ExtrinsicType string

const (
	TransferBalance  ExtrinsicType = "transfer.balance"
	TransferToken    ExtrinsicType = "transfer.token"
	TransferXCM      ExtrinsicType = "transfer.xcm"
	SendNFT          ExtrinsicType = "send_nft"
	TokenApproval    ExtrinsicType = "token.spending_approval"
	StakingBond      ExtrinsicType = "staking.bond"
	StakingUnbond    ExtrinsicType = "staking.unbond"
	StakingClaim     ExtrinsicType = "staking.claim_reward"
	StakingCancel    ExtrinsicType = "staking.cancel_unstake"
	StakingWithdraw  ExtrinsicType = "staking.withdraw"
	StakingJoinPool  ExtrinsicType = "staking.join_pool"
	StakingLeavePool ExtrinsicType = "staking.leave_pool"
	StakingPoolClaim ExtrinsicType = "staking.pool_claim"
	YieldJoin        ExtrinsicType = "yield.join"
	YieldLeave       ExtrinsicType = "yield.leave"
	YieldWithdraw    ExtrinsicType = "yield.withdraw"
	Swap             ExtrinsicType = "swap"
	Unknown          ExtrinsicType = "unknown"
)

// IsBonding reports whether t locks funds for staking. Staking locks
// overlap other locks, so bonding may use frozen funds.
func (t ExtrinsicType) IsBonding() bool {
	return t == StakingBond || t == StakingJoinPool || t == YieldJoin
}

// IsTransfer reports whether t moves value to another account.
func (t ExtrinsicType) IsTransfer() bool {
	switch t {
	case TransferBalance, TransferToken, TransferXCM, SendNFT:
		return true
	}
	return false
}
