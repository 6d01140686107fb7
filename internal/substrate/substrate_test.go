package substrate

import (
	"bytes"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"
)

const (
	alicePubKey   = "d43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d"
	aliceGeneric  = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	alicePolkadot = "15oF4uVJwmo4TdGW7VfQxNLavjCXviqxT9S1MgbjMNHr6Sp5"
)

func aliceID(t *testing.T) AccountID {
	t.Helper()
	raw, err := hex.DecodeString(alicePubKey)
	if err != nil {
		t.Fatal(err)
	}
	var id AccountID
	copy(id[:], raw)
	return id
}

func TestEncodeCompact(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{"0", "00"},
		{"1", "04"},
		{"42", "a8"},
		{"63", "fc"},
		{"64", "0101"},
		{"16383", "fdff"},
		{"16384", "02000100"},
		{"1073741823", "feffffff"},
		{"1073741824", "0300000040"},
		{"100000000000000", "0b00407a10f35a"},
	}

	for _, tt := range tests {
		v, _ := new(big.Int).SetString(tt.value, 10)
		got := hex.EncodeToString(EncodeCompact(v))
		if got != tt.want {
			t.Errorf("EncodeCompact(%s) = %s, want %s", tt.value, got, tt.want)
			continue
		}

		raw, _ := hex.DecodeString(tt.want)
		dec, err := NewDecoder(raw).Compact()
		if err != nil {
			t.Fatalf("Compact(%s) error: %v", tt.want, err)
		}
		if dec.Cmp(v) != 0 {
			t.Errorf("Compact(%s) = %s, want %s", tt.want, dec, tt.value)
		}
	}
}

func TestDecoderShortInput(t *testing.T) {
	d := NewDecoder([]byte{0x01, 0x02})
	if _, err := d.U32(); !errors.Is(err, ErrShortInput) {
		t.Errorf("U32 on 2 bytes: got %v, want ErrShortInput", err)
	}
	if _, err := NewDecoder([]byte{0x10, 0x01}).ByteVec(); !errors.Is(err, ErrShortInput) {
		t.Errorf("ByteVec with short body: got %v", err)
	}
}

func TestU128RoundTrip(t *testing.T) {
	v, _ := new(big.Int).SetString("340282366920938463463374607431768211455", 10)
	enc := EncodeU128(v)
	if len(enc) != 16 || !bytes.Equal(enc, bytes.Repeat([]byte{0xff}, 16)) {
		t.Fatalf("EncodeU128(max) = %x", enc)
	}
	got, err := NewDecoder(EncodeU128(big.NewInt(500))).U128()
	if err != nil || got.Int64() != 500 {
		t.Errorf("U128 round trip = %v, %v", got, err)
	}
}

func TestSS58KnownAddresses(t *testing.T) {
	id := aliceID(t)

	tests := []struct {
		prefix uint16
		want   string
	}{
		{42, aliceGeneric},
		{0, alicePolkadot},
	}

	for _, tt := range tests {
		got, err := EncodeSS58(id, tt.prefix)
		if err != nil {
			t.Fatalf("EncodeSS58(prefix %d) error: %v", tt.prefix, err)
		}
		if got != tt.want {
			t.Errorf("EncodeSS58(prefix %d) = %s, want %s", tt.prefix, got, tt.want)
		}

		decoded, prefix, err := DecodeSS58(tt.want)
		if err != nil {
			t.Fatalf("DecodeSS58(%s) error: %v", tt.want, err)
		}
		if decoded != id || prefix != tt.prefix {
			t.Errorf("DecodeSS58(%s) = %x/%d", tt.want, decoded, prefix)
		}
	}
}

func TestSS58TwoBytePrefix(t *testing.T) {
	id := aliceID(t)
	for _, prefix := range []uint16{64, 172, 1284, 16383} {
		addr, err := EncodeSS58(id, prefix)
		if err != nil {
			t.Fatalf("EncodeSS58(%d): %v", prefix, err)
		}
		got, gotPrefix, err := DecodeSS58(addr)
		if err != nil {
			t.Fatalf("DecodeSS58(%s): %v", addr, err)
		}
		if got != id || gotPrefix != prefix {
			t.Errorf("prefix %d round trip gave %d", prefix, gotPrefix)
		}
	}

	if _, err := EncodeSS58(id, 16384); !errors.Is(err, ErrUnsupportedPrefix) {
		t.Errorf("prefix 16384: got %v", err)
	}
}

func TestSS58Invalid(t *testing.T) {
	tests := []string{
		"",
		"0x742d35Cc6634C0532925a3b844Bc454e4438f44e",
		aliceGeneric[:len(aliceGeneric)-1] + "Z",
	}
	for _, addr := range tests {
		if IsSS58Address(addr) {
			t.Errorf("IsSS58Address(%q) = true", addr)
		}
	}

	got, err := Reformat(aliceGeneric, 0)
	if err != nil || got != alicePolkadot {
		t.Errorf("Reformat = %s, %v", got, err)
	}
}

func TestStoragePrefix(t *testing.T) {
	got := hex.EncodeToString(StoragePrefix("System", "Account"))
	want := "26aa394eea5630e07c48ae0c9558cef7b99d880ec681799c0cf30e8886371da9"
	if got != want {
		t.Errorf("StoragePrefix(System, Account) = %s, want %s", got, want)
	}

	key := SystemAccountKey(aliceID(t))
	if len(key) != 32+16+32 {
		t.Errorf("SystemAccountKey length = %d", len(key))
	}
	if !bytes.HasSuffix(key, aliceID(t).bytes()) {
		t.Error("SystemAccountKey must end with the raw account id")
	}
}

func (id AccountID) bytes() []byte { return id[:] }

func TestAccountInfo(t *testing.T) {
	info := EmptyAccountInfo()
	info.Nonce = 7
	info.Data.Free = big.NewInt(1000)
	info.Data.Reserved = big.NewInt(100)
	info.Data.Frozen = big.NewInt(300)

	decoded, err := DecodeAccountInfo(EncodeAccountInfo(info))
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Nonce != 7 || decoded.Data.Free.Int64() != 1000 {
		t.Errorf("decoded = %+v", decoded)
	}
	// frozen 300 minus reserved 100 leaves 200 locked out of 1000 free
	if got := decoded.Transferable().Int64(); got != 800 {
		t.Errorf("Transferable = %d, want 800", got)
	}

	empty, err := DecodeAccountInfo(nil)
	if err != nil || empty.Data.Free.Sign() != 0 {
		t.Errorf("DecodeAccountInfo(nil) = %+v, %v", empty, err)
	}
	if _, err := DecodeAccountInfo([]byte{1, 2, 3}); err == nil {
		t.Error("expected error on truncated account info")
	}
}

func TestAssetBalance(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want int64
	}{
		{"missing", nil, 0},
		{"liquid", NewEncoder().U128(big.NewInt(500)).U8(AssetLiquid).U8(0).Bytes(), 500},
		{"frozen", NewEncoder().U128(big.NewInt(500)).U8(AssetFrozen).U8(0).Bytes(), 0},
		{"blocked", NewEncoder().U128(big.NewInt(500)).U8(AssetBlocked).U8(0).Bytes(), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeAssetBalance(tt.raw)
			if err != nil {
				t.Fatal(err)
			}
			if got.Int64() != tt.want {
				t.Errorf("got %s, want %d", got, tt.want)
			}
		})
	}

	key := AssetAccountKey(1984, aliceID(t))
	if !bytes.HasPrefix(key, StoragePrefix("Assets", "Account")) {
		t.Error("asset key must start with the Assets.Account prefix")
	}
	if !bytes.HasSuffix(key, aliceID(t).bytes()) {
		t.Error("asset key must end with the raw account id")
	}
}

func TestFakeSigned(t *testing.T) {
	rt := &RuntimeContext{SpecVersion: 1, TransactionVersion: 1}
	call := TransferCall(CallIndex{Pallet: 5, Call: 3}, CallTransferKeepAlive, aliceID(t), big.NewInt(1))
	x := NewExtrinsic(call, aliceID(t), 0, rt)

	fake := x.FakeSigned(SigEd25519)
	if x.IsSigned() {
		t.Error("FakeSigned must not sign the original")
	}
	if _, err := fake.Hex(); err != nil {
		t.Errorf("fake-signed extrinsic should encode: %v", err)
	}
}

func TestTransferCallEncoding(t *testing.T) {
	call := TransferCall(CallIndex{Pallet: 5, Call: 3}, CallTransferKeepAlive, aliceID(t), big.NewInt(1))
	enc := call.Encode()

	want := append([]byte{0x05, 0x03, 0x00}, aliceID(t).bytes()...)
	want = append(want, 0x04)
	if !bytes.Equal(enc, want) {
		t.Errorf("TransferCall = %x, want %x", enc, want)
	}

	all := TransferAllCall(CallIndex{Pallet: 5, Call: 4}, aliceID(t), true).Encode()
	if all[len(all)-1] != 0x01 || len(all) != 2+1+32+1 {
		t.Errorf("TransferAllCall = %x", all)
	}
}

func TestExtrinsicSigning(t *testing.T) {
	rt := &RuntimeContext{SpecVersion: 1_000_000, TransactionVersion: 25}
	rt.GenesisHash[0] = 0x91

	call := TransferCall(CallIndex{Pallet: 5, Call: 0}, CallTransferAllowDeath, aliceID(t), big.NewInt(10))
	x := NewExtrinsic(call, aliceID(t), 3, rt)

	if _, err := x.Encode(); !errors.Is(err, ErrNotSigned) {
		t.Fatalf("Encode before signing: got %v", err)
	}

	payload, err := x.Payload()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(payload, call.Encode()) {
		t.Error("payload must start with the encoded call")
	}
	if !bytes.HasSuffix(payload, rt.GenesisHash[:]) {
		t.Error("immortal payload must end with the genesis hash")
	}

	sp, err := x.SigningPayload()
	if err != nil || !bytes.Equal(sp, payload) {
		t.Error("short payload must be signed raw")
	}

	if err := x.AttachSignature(SigEd25519, make([]byte, 10)); !errors.Is(err, ErrBadSignatureLen) {
		t.Errorf("short signature: got %v", err)
	}

	typed := append([]byte{byte(SigSr25519)}, bytes.Repeat([]byte{0xaa}, 64)...)
	if err := x.AttachTypedSignature(typed); err != nil {
		t.Fatal(err)
	}

	enc, err := x.Encode()
	if err != nil {
		t.Fatal(err)
	}
	d := NewDecoder(enc)
	body, err := d.ByteVec()
	if err != nil {
		t.Fatal(err)
	}
	if body[0] != 0x84 {
		t.Errorf("version byte = %#x, want 0x84", body[0])
	}
	if body[1+1+32] != byte(SigSr25519) {
		t.Errorf("signature type byte = %d", body[34])
	}

	hash, err := x.Hash()
	if err != nil || len(hash) != 66 {
		t.Errorf("Hash = %s, %v", hash, err)
	}
}

func TestHashIfLong(t *testing.T) {
	short := bytes.Repeat([]byte{1}, 256)
	if got := HashIfLong(short); !bytes.Equal(got, short) {
		t.Error("256-byte payload must not be hashed")
	}
	long := bytes.Repeat([]byte{1}, 257)
	if got := HashIfLong(long); len(got) != 32 {
		t.Errorf("257-byte payload hashed to %d bytes", len(got))
	}
}

func TestEraEncoding(t *testing.T) {
	if got := (Era{}).Encode(); !bytes.Equal(got, []byte{0x00}) {
		t.Errorf("immortal era = %x", got)
	}
	if got := (Era{Period: 64, Current: 1000}).Encode(); len(got) != 2 {
		t.Errorf("mortal era = %x, want two bytes", got)
	}
}

func TestReserveTransferCall(t *testing.T) {
	call := ReserveTransferCall(CallIndex{Pallet: 99, Call: 8}, XcmDestination{ParaID: 1000}, ID32(aliceID(t)), big.NewInt(5))
	enc := call.Encode()
	if enc[0] != 99 || enc[1] != 8 {
		t.Fatalf("call index = %d/%d", enc[0], enc[1])
	}
	// V3, parents 0, X1, Parachain, compact(1000)
	if !bytes.HasPrefix(enc[2:], []byte{0x03, 0x00, 0x01, 0x00, 0xa1, 0x0f}) {
		t.Errorf("destination encoding = %x", enc[2:8])
	}
	if !bytes.Contains(enc, aliceID(t).bytes()) {
		t.Error("beneficiary missing from call")
	}

	var key [20]byte
	for i := range key {
		key[i] = 0xee
	}
	evm := ReserveTransferCall(CallIndex{Pallet: 99, Call: 8}, XcmDestination{ParaID: 2004}, Key20(key), big.NewInt(5)).Encode()
	// X1, AccountKey20, network None, key
	want := append([]byte{0x01, 0x03, 0x00}, key[:]...)
	if !bytes.Contains(evm, want) {
		t.Errorf("key20 beneficiary missing: %x", evm)
	}
}
