package substrate

import (
	"encoding/binary"
	"math/big"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"
)

// Twox128 is the 128-bit xxhash used for pallet and item prefixes.
func Twox128(data []byte) []byte {
	out := make([]byte, 16)
	for seed := uint64(0); seed < 2; seed++ {
		d := xxhash.NewWithSeed(seed)
		_, _ = d.Write(data)
		binary.LittleEndian.PutUint64(out[seed*8:], d.Sum64())
	}
	return out
}

// Blake2_128Concat hashes data and appends the raw input.
func Blake2_128Concat(data []byte) []byte {
	h, _ := blake2b.New(16, nil)
	h.Write(data)
	return append(h.Sum(nil), data...)
}

// Blake2_256 returns the 32-byte blake2b digest of data.
func Blake2_256(data []byte) [32]byte {
	return blake2b.Sum256(data)
}

// StoragePrefix returns twox128(pallet) ++ twox128(item).
func StoragePrefix(pallet, item string) []byte {
	return append(Twox128([]byte(pallet)), Twox128([]byte(item))...)
}

// SystemAccountKey returns the storage key of System.Account for id.
func SystemAccountKey(id AccountID) []byte {
	return append(StoragePrefix("System", "Account"), Blake2_128Concat(id[:])...)
}

// AssetAccountKey returns the storage key of Assets.Account for an asset
// and holder.
func AssetAccountKey(assetID uint32, id AccountID) []byte {
	key := StoragePrefix("Assets", "Account")
	key = append(key, Blake2_128Concat(NewEncoder().U32(assetID).Bytes())...)
	return append(key, Blake2_128Concat(id[:])...)
}

// Assets.Account status values. Frozen and blocked accounts cannot send.
const (
	AssetLiquid  uint8 = 0
	AssetFrozen  uint8 = 1
	AssetBlocked uint8 = 2
)

// DecodeAssetBalance reads the spendable balance of an Assets.Account
// value. An empty value, or a frozen or blocked account, reads as zero.
func DecodeAssetBalance(raw []byte) (*big.Int, error) {
	if len(raw) == 0 {
		return new(big.Int), nil
	}
	d := NewDecoder(raw)
	bal, err := d.U128()
	if err != nil {
		return nil, err
	}
	status, err := d.U8()
	if err != nil {
		return nil, err
	}
	if status != AssetLiquid {
		return new(big.Int), nil
	}
	return bal, nil
}

// AccountData mirrors pallet_balances::AccountData.
type AccountData struct {
	Free     *big.Int
	Reserved *big.Int
	Frozen   *big.Int
	Flags    *big.Int
}

// AccountInfo mirrors frame_system::AccountInfo.
type AccountInfo struct {
	Nonce       uint32
	Consumers   uint32
	Providers   uint32
	Sufficients uint32
	Data        AccountData
}

// Transferable returns free minus the amount held back by frozen and
// reserved balances, floored at zero.
func (a *AccountInfo) Transferable() *big.Int {
	locked := new(big.Int).Sub(a.Data.Frozen, a.Data.Reserved)
	if locked.Sign() < 0 {
		locked.SetInt64(0)
	}
	out := new(big.Int).Sub(a.Data.Free, locked)
	if out.Sign() < 0 {
		out.SetInt64(0)
	}
	return out
}

// EmptyAccountInfo is the value of a key that has never been written.
func EmptyAccountInfo() *AccountInfo {
	return &AccountInfo{Data: AccountData{
		Free: new(big.Int), Reserved: new(big.Int), Frozen: new(big.Int), Flags: new(big.Int),
	}}
}

// DecodeAccountInfo decodes a System.Account storage value.
func DecodeAccountInfo(raw []byte) (*AccountInfo, error) {
	if len(raw) == 0 {
		return EmptyAccountInfo(), nil
	}

	d := NewDecoder(raw)
	info := &AccountInfo{}
	var err error
	for _, dst := range []*uint32{&info.Nonce, &info.Consumers, &info.Providers, &info.Sufficients} {
		if *dst, err = d.U32(); err != nil {
			return nil, err
		}
	}
	for _, dst := range []**big.Int{&info.Data.Free, &info.Data.Reserved, &info.Data.Frozen, &info.Data.Flags} {
		if *dst, err = d.U128(); err != nil {
			return nil, err
		}
	}
	return info, nil
}

// EncodeAccountInfo is the inverse of DecodeAccountInfo.
func EncodeAccountInfo(info *AccountInfo) []byte {
	e := NewEncoder().
		U32(info.Nonce).
		U32(info.Consumers).
		U32(info.Providers).
		U32(info.Sufficients)
	for _, v := range []*big.Int{info.Data.Free, info.Data.Reserved, info.Data.Frozen, info.Data.Flags} {
		e.U128(v)
	}
	return e.Bytes()
}
