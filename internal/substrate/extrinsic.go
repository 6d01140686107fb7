package substrate

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/Klingon-tech/klingsign/pkg/helpers"
)

const (
	extrinsicVersion = 4
	signedBit        = 0x80

	// Payloads longer than this are hashed before signing.
	maxRawPayload = 256
)

// SignatureType is the MultiSignature variant.
type SignatureType uint8

const (
	SigEd25519 SignatureType = 0
	SigSr25519 SignatureType = 1
	SigEcdsa   SignatureType = 2
)

func (s SignatureType) String() string {
	switch s {
	case SigEd25519:
		return "ed25519"
	case SigSr25519:
		return "sr25519"
	case SigEcdsa:
		return "ecdsa"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

func (s SignatureType) sigLen() int {
	if s == SigEcdsa {
		return 65
	}
	return 64
}

// Extrinsic errors.
var (
	ErrNotSigned         = errors.New("extrinsic is not signed")
	ErrBadSignatureLen   = errors.New("signature has wrong length")
	ErrUnknownSignature  = errors.New("unknown signature type")
	ErrMissingRuntimeCtx = errors.New("runtime context not set")
)

// RuntimeContext carries the values a signed extension checks but does
// not include in the extrinsic body.
type RuntimeContext struct {
	SpecVersion        uint32
	TransactionVersion uint32
	GenesisHash        [32]byte
	// BlockHash anchors a mortal era. Equal to GenesisHash for immortal.
	BlockHash [32]byte
}

// Era is a transaction validity period. The zero value is immortal.
type Era struct {
	Period  uint64
	Current uint64
}

// IsImmortal reports whether the era never expires.
func (e Era) IsImmortal() bool {
	return e.Period == 0
}

// Encode returns the SCALE encoding of the era.
func (e Era) Encode() []byte {
	if e.IsImmortal() {
		return []byte{0x00}
	}

	period := uint64(4)
	for period < e.Period && period < 1<<16 {
		period <<= 1
	}
	phase := e.Current % period
	quantize := period >> 12
	if quantize < 1 {
		quantize = 1
	}
	quantized := phase / quantize * quantize

	tz := uint16(0)
	for p := period; p > 1 && p&1 == 0; p >>= 1 {
		tz++
	}
	low := tz - 1
	if low < 1 {
		low = 1
	}
	if low > 15 {
		low = 15
	}
	encoded := low | uint16(quantized/quantize)<<4
	return []byte{byte(encoded), byte(encoded >> 8)}
}

// Extrinsic is a v4 extrinsic under construction.
type Extrinsic struct {
	Call    Call
	Signer  AccountID
	Era     Era
	Nonce   uint64
	Tip     *big.Int
	Runtime *RuntimeContext

	sigType   SignatureType
	signature []byte
}

// NewExtrinsic starts an immortal extrinsic for signer.
func NewExtrinsic(call Call, signer AccountID, nonce uint64, rt *RuntimeContext) *Extrinsic {
	return &Extrinsic{
		Call:    call,
		Signer:  signer,
		Nonce:   nonce,
		Tip:     new(big.Int),
		Runtime: rt,
	}
}

func (x *Extrinsic) extra() []byte {
	return NewEncoder().
		Raw(x.Era.Encode()).
		CompactUint(x.Nonce).
		Compact(x.Tip).
		Bytes()
}

// Payload returns the raw bytes the signer commits to:
// call ++ extra ++ additional signed data.
func (x *Extrinsic) Payload() ([]byte, error) {
	if x.Runtime == nil {
		return nil, ErrMissingRuntimeCtx
	}
	blockHash := x.Runtime.BlockHash
	if x.Era.IsImmortal() {
		blockHash = x.Runtime.GenesisHash
	}
	return NewEncoder().
		Raw(x.Call.Encode()).
		Raw(x.extra()).
		U32(x.Runtime.SpecVersion).
		U32(x.Runtime.TransactionVersion).
		Raw(x.Runtime.GenesisHash[:]).
		Raw(blockHash[:]).
		Bytes(), nil
}

// SigningPayload returns the bytes to pass to the signing key. Payloads
// longer than 256 bytes are replaced by their blake2b-256 hash.
func (x *Extrinsic) SigningPayload() ([]byte, error) {
	p, err := x.Payload()
	if err != nil {
		return nil, err
	}
	return HashIfLong(p), nil
}

// HashIfLong applies the long-payload rule to an arbitrary payload.
func HashIfLong(p []byte) []byte {
	if len(p) > maxRawPayload {
		h := Blake2_256(p)
		return h[:]
	}
	return p
}

// AttachSignature stores a signature produced over SigningPayload.
func (x *Extrinsic) AttachSignature(sigType SignatureType, sig []byte) error {
	if sigType > SigEcdsa {
		return ErrUnknownSignature
	}
	if len(sig) != sigType.sigLen() {
		return fmt.Errorf("%w: got %d want %d", ErrBadSignatureLen, len(sig), sigType.sigLen())
	}
	x.sigType = sigType
	x.signature = append([]byte(nil), sig...)
	return nil
}

// AttachTypedSignature accepts a signature whose first byte is the
// MultiSignature variant, the format QR signers return.
func (x *Extrinsic) AttachTypedSignature(typed []byte) error {
	if len(typed) < 1 {
		return ErrBadSignatureLen
	}
	return x.AttachSignature(SignatureType(typed[0]), typed[1:])
}

// FakeSigned returns a copy carrying an all-zero signature of sigType.
// Nodes accept it for payment_queryInfo, which never checks signatures.
func (x *Extrinsic) FakeSigned(sigType SignatureType) *Extrinsic {
	cp := *x
	cp.sigType = sigType
	cp.signature = make([]byte, sigType.sigLen())
	return &cp
}

// IsSigned reports whether a signature has been attached.
func (x *Extrinsic) IsSigned() bool {
	return len(x.signature) > 0
}

// Encode returns the length-prefixed signed extrinsic.
func (x *Extrinsic) Encode() ([]byte, error) {
	if !x.IsSigned() {
		return nil, ErrNotSigned
	}
	body := NewEncoder().
		U8(signedBit | extrinsicVersion).
		U8(0x00). // MultiAddress::Id
		Raw(x.Signer[:]).
		U8(uint8(x.sigType)).
		Raw(x.signature).
		Raw(x.extra()).
		Raw(x.Call.Encode()).
		Bytes()
	return NewEncoder().ByteVec(body).Bytes(), nil
}

// Hex returns the 0x-prefixed encoding accepted by author_submitExtrinsic.
func (x *Extrinsic) Hex() (string, error) {
	raw, err := x.Encode()
	if err != nil {
		return "", err
	}
	return helpers.BytesToHex(raw), nil
}

// Hash returns the extrinsic hash as reported by block explorers.
func (x *Extrinsic) Hash() (string, error) {
	raw, err := x.Encode()
	if err != nil {
		return "", err
	}
	h := Blake2_256(raw)
	return helpers.BytesToHex(h[:]), nil
}
