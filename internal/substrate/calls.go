package substrate

import (
	"math/big"
)

// CallIndex locates a dispatchable in the runtime: pallet index and call index.
type CallIndex struct {
	Pallet uint8 `yaml:"pallet" json:"pallet"`
	Call   uint8 `yaml:"call" json:"call"`
}

// Call is an encoded runtime call.
type Call struct {
	Name  string
	Index CallIndex
	Args  []byte
}

// Encode returns index ++ args.
func (c Call) Encode() []byte {
	out := make([]byte, 0, 2+len(c.Args))
	out = append(out, c.Index.Pallet, c.Index.Call)
	return append(out, c.Args...)
}

// Well-known call names used as keys into a chain's call index table.
const (
	CallTransferAllowDeath = "balances.transfer_allow_death"
	CallTransferKeepAlive  = "balances.transfer_keep_alive"
	CallTransferAll        = "balances.transfer_all"
	CallAssetsTransfer     = "assets.transfer"
	CallStakingBond        = "staking.bond"
	CallStakingBondExtra   = "staking.bond_extra"
	CallStakingNominate    = "staking.nominate"
	CallStakingUnbond      = "staking.unbond"
	CallStakingWithdraw    = "staking.withdraw_unbonded"
	CallStakingPayout      = "staking.payout_stakers"
	CallStakingRebond      = "staking.rebond"
	CallPoolsJoin          = "nomination_pools.join"
	CallPoolsUnbond        = "nomination_pools.unbond"
	CallPoolsWithdraw      = "nomination_pools.withdraw_unbonded"
	CallPoolsClaimPayout   = "nomination_pools.claim_payout"
	CallXcmReserveTransfer = "xcm.limited_reserve_transfer_assets"
	CallUtilityBatchAll    = "utility.batch_all"
)

// RewardDestination selects where staking rewards are paid.
type RewardDestination uint8

const (
	RewardStaked     RewardDestination = 0
	RewardStash      RewardDestination = 1
	RewardController RewardDestination = 2
	RewardAccount    RewardDestination = 3
	RewardNone       RewardDestination = 4
)

func multiAddress(e *Encoder, id AccountID) *Encoder {
	return e.U8(0x00).Raw(id[:])
}

// TransferCall builds a Balances transfer. name is CallTransferKeepAlive or
// CallTransferAllowDeath and must match idx.
func TransferCall(idx CallIndex, name string, dest AccountID, value *big.Int) Call {
	args := multiAddress(NewEncoder(), dest).Compact(value).Bytes()
	return Call{Name: name, Index: idx, Args: args}
}

// TransferAllCall builds Balances.transfer_all.
func TransferAllCall(idx CallIndex, dest AccountID, keepAlive bool) Call {
	args := multiAddress(NewEncoder(), dest).Bool(keepAlive).Bytes()
	return Call{Name: CallTransferAll, Index: idx, Args: args}
}

// AssetsTransferCall builds Assets.transfer for a pallet-assets token.
func AssetsTransferCall(idx CallIndex, assetID uint32, dest AccountID, value *big.Int) Call {
	args := NewEncoder().CompactUint(uint64(assetID))
	multiAddress(args, dest).Compact(value)
	return Call{Name: CallAssetsTransfer, Index: idx, Args: args.Bytes()}
}

// BondCall builds Staking.bond(value, payee).
func BondCall(idx CallIndex, value *big.Int, payee RewardDestination, payeeAccount *AccountID) Call {
	e := NewEncoder().Compact(value).U8(uint8(payee))
	if payee == RewardAccount && payeeAccount != nil {
		e.Raw(payeeAccount[:])
	}
	return Call{Name: CallStakingBond, Index: idx, Args: e.Bytes()}
}

// BondExtraCall builds Staking.bond_extra(value).
func BondExtraCall(idx CallIndex, value *big.Int) Call {
	return Call{Name: CallStakingBondExtra, Index: idx, Args: NewEncoder().Compact(value).Bytes()}
}

// NominateCall builds Staking.nominate(targets).
func NominateCall(idx CallIndex, targets []AccountID) Call {
	e := NewEncoder().CompactUint(uint64(len(targets)))
	for _, t := range targets {
		multiAddress(e, t)
	}
	return Call{Name: CallStakingNominate, Index: idx, Args: e.Bytes()}
}

// UnbondCall builds Staking.unbond(value).
func UnbondCall(idx CallIndex, value *big.Int) Call {
	return Call{Name: CallStakingUnbond, Index: idx, Args: NewEncoder().Compact(value).Bytes()}
}

// RebondCall builds Staking.rebond(value).
func RebondCall(idx CallIndex, value *big.Int) Call {
	return Call{Name: CallStakingRebond, Index: idx, Args: NewEncoder().Compact(value).Bytes()}
}

// WithdrawUnbondedCall builds Staking.withdraw_unbonded(num_slashing_spans).
func WithdrawUnbondedCall(idx CallIndex, slashingSpans uint32) Call {
	return Call{Name: CallStakingWithdraw, Index: idx, Args: NewEncoder().U32(slashingSpans).Bytes()}
}

// PayoutStakersCall builds Staking.payout_stakers(validator, era).
func PayoutStakersCall(idx CallIndex, validator AccountID, era uint32) Call {
	args := NewEncoder().Raw(validator[:]).U32(era).Bytes()
	return Call{Name: CallStakingPayout, Index: idx, Args: args}
}

// PoolJoinCall builds NominationPools.join(amount, pool_id).
func PoolJoinCall(idx CallIndex, amount *big.Int, poolID uint32) Call {
	args := NewEncoder().Compact(amount).U32(poolID).Bytes()
	return Call{Name: CallPoolsJoin, Index: idx, Args: args}
}

// PoolUnbondCall builds NominationPools.unbond(member, points).
func PoolUnbondCall(idx CallIndex, member AccountID, points *big.Int) Call {
	args := multiAddress(NewEncoder(), member).Compact(points).Bytes()
	return Call{Name: CallPoolsUnbond, Index: idx, Args: args}
}

// PoolWithdrawCall builds NominationPools.withdraw_unbonded(member, spans).
func PoolWithdrawCall(idx CallIndex, member AccountID, slashingSpans uint32) Call {
	args := multiAddress(NewEncoder(), member).U32(slashingSpans).Bytes()
	return Call{Name: CallPoolsWithdraw, Index: idx, Args: args}
}

// PoolClaimPayoutCall builds NominationPools.claim_payout().
func PoolClaimPayoutCall(idx CallIndex) Call {
	return Call{Name: CallPoolsClaimPayout, Index: idx}
}

// BatchAllCall wraps calls in Utility.batch_all.
func BatchAllCall(idx CallIndex, calls ...Call) Call {
	e := NewEncoder().CompactUint(uint64(len(calls)))
	for _, c := range calls {
		e.Raw(c.Encode())
	}
	return Call{Name: CallUtilityBatchAll, Index: idx, Args: e.Bytes()}
}

// XcmDestination describes where a reserve transfer lands.
type XcmDestination struct {
	// Parents is 1 when leaving a parachain for the relay or a sibling.
	Parents uint8
	// ParaID is zero when the destination is the relay chain itself.
	ParaID uint32
}

// Beneficiary is the receiving account of an XCM transfer: a 32-byte
// account id, or a 20-byte key on EVM parachains.
type Beneficiary struct {
	ID    *AccountID
	Key20 *[20]byte
}

// ID32 wraps a Substrate account id.
func ID32(id AccountID) Beneficiary {
	return Beneficiary{ID: &id}
}

// Key20 wraps an EVM address.
func Key20(key [20]byte) Beneficiary {
	return Beneficiary{Key20: &key}
}

// ReserveTransferCall builds XcmPallet.limited_reserve_transfer_assets for
// the origin chain's native asset, using V3 locations and unlimited weight.
func ReserveTransferCall(idx CallIndex, dest XcmDestination, beneficiary Beneficiary, amount *big.Int) Call {
	const (
		versionV3       = 3
		junctionsHere   = 0
		junctionsX1     = 1
		junctionPara    = 0
		junctionAccount = 1
		junctionKey20   = 3
		networkNone     = 0
		assetConcrete   = 0
		fungible        = 0
		weightUnlimited = 0
	)

	e := NewEncoder()

	// dest
	e.U8(versionV3).U8(dest.Parents)
	if dest.ParaID == 0 {
		e.U8(junctionsHere)
	} else {
		e.U8(junctionsX1).U8(junctionPara).CompactUint(uint64(dest.ParaID))
	}

	// beneficiary
	e.U8(versionV3).U8(0).U8(junctionsX1)
	if beneficiary.Key20 != nil {
		e.U8(junctionKey20).U8(networkNone).Raw(beneficiary.Key20[:])
	} else {
		e.U8(junctionAccount).U8(networkNone).Raw(beneficiary.ID[:])
	}

	// assets: a single native asset, located relative to the origin
	e.U8(versionV3).CompactUint(1).
		U8(assetConcrete).U8(0).U8(junctionsHere).
		U8(fungible).Compact(amount)

	e.U32(0) // fee_asset_item
	e.U8(weightUnlimited)

	return Call{Name: CallXcmReserveTransfer, Index: idx, Args: e.Bytes()}
}
