// Package substrate provides the Substrate wire formats the pipeline needs:
// SCALE encoding, SS58 addresses, storage keys and extrinsic construction.
package substrate

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/Klingon-tech/klingsign/pkg/helpers"
)

// Decoding errors.
var (
	ErrShortInput   = errors.New("scale: unexpected end of input")
	ErrValueTooWide = errors.New("scale: value does not fit")
)

var (
	maxU128     = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	compactMax1 = big.NewInt(1 << 6)
	compactMax2 = big.NewInt(1 << 14)
	compactMax4 = big.NewInt(1 << 30)
)

// Encoder accumulates SCALE encoded values.
type Encoder struct {
	buf bytes.Buffer
}

// NewEncoder returns an empty encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Bytes returns the encoded bytes.
func (e *Encoder) Bytes() []byte {
	return e.buf.Bytes()
}

// Raw appends bytes verbatim (fixed-size arrays, pre-encoded values).
func (e *Encoder) Raw(b []byte) *Encoder {
	e.buf.Write(b)
	return e
}

// U8 appends a single byte.
func (e *Encoder) U8(v uint8) *Encoder {
	e.buf.WriteByte(v)
	return e
}

// Bool appends a bool as 0x00/0x01.
func (e *Encoder) Bool(v bool) *Encoder {
	if v {
		return e.U8(1)
	}
	return e.U8(0)
}

// U16 appends a little-endian uint16.
func (e *Encoder) U16(v uint16) *Encoder {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.buf.Write(b[:])
	return e
}

// U32 appends a little-endian uint32.
func (e *Encoder) U32(v uint32) *Encoder {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
	return e
}

// U64 appends a little-endian uint64.
func (e *Encoder) U64(v uint64) *Encoder {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
	return e
}

// U128 appends a little-endian 128-bit unsigned integer.
func (e *Encoder) U128(v *big.Int) *Encoder {
	e.buf.Write(EncodeU128(v))
	return e
}

// Compact appends a compact-encoded unsigned integer.
func (e *Encoder) Compact(v *big.Int) *Encoder {
	e.buf.Write(EncodeCompact(v))
	return e
}

// CompactUint is Compact for native integers.
func (e *Encoder) CompactUint(v uint64) *Encoder {
	return e.Compact(new(big.Int).SetUint64(v))
}

// ByteVec appends a length-prefixed byte vector.
func (e *Encoder) ByteVec(b []byte) *Encoder {
	e.CompactUint(uint64(len(b)))
	e.buf.Write(b)
	return e
}

// EncodeU128 returns the 16-byte little-endian encoding of v.
// Values wider than 128 bits are clamped to the maximum.
func EncodeU128(v *big.Int) []byte {
	if v == nil {
		v = new(big.Int)
	}
	if v.Cmp(maxU128) > 0 {
		v = maxU128
	}
	be := helpers.PadLeft(v.Bytes(), 16)
	return helpers.ReverseBytes(be)
}

// EncodeCompact returns the SCALE compact encoding of v.
func EncodeCompact(v *big.Int) []byte {
	if v == nil || v.Sign() <= 0 {
		return []byte{0}
	}
	switch {
	case v.Cmp(compactMax1) < 0:
		return []byte{byte(v.Uint64() << 2)}
	case v.Cmp(compactMax2) < 0:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(v.Uint64()<<2|0x01))
		return b[:]
	case v.Cmp(compactMax4) < 0:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v.Uint64()<<2|0x02))
		return b[:]
	default:
		le := helpers.ReverseBytes(v.Bytes())
		if len(le) < 4 {
			le = append(le, make([]byte, 4-len(le))...)
		}
		out := make([]byte, 0, len(le)+1)
		out = append(out, byte((len(le)-4)<<2|0x03))
		return append(out, le...)
	}
}

// Decoder reads SCALE values from a byte slice.
type Decoder struct {
	data []byte
	pos  int
}

// NewDecoder wraps data for decoding.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.data) - d.pos
}

// Next reads n raw bytes.
func (d *Decoder) Next(n int) ([]byte, error) {
	if n < 0 || d.Remaining() < n {
		return nil, ErrShortInput
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// U8 reads one byte.
func (d *Decoder) U8() (uint8, error) {
	b, err := d.Next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U32 reads a little-endian uint32.
func (d *Decoder) U32() (uint32, error) {
	b, err := d.Next(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// U64 reads a little-endian uint64.
func (d *Decoder) U64() (uint64, error) {
	b, err := d.Next(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// U128 reads a little-endian 128-bit integer.
func (d *Decoder) U128() (*big.Int, error) {
	b, err := d.Next(16)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(helpers.ReverseBytes(b)), nil
}

// Compact reads a compact-encoded integer.
func (d *Decoder) Compact() (*big.Int, error) {
	first, err := d.U8()
	if err != nil {
		return nil, err
	}
	switch first & 0x03 {
	case 0x00:
		return big.NewInt(int64(first >> 2)), nil
	case 0x01:
		next, err := d.U8()
		if err != nil {
			return nil, err
		}
		v := uint16(first) | uint16(next)<<8
		return big.NewInt(int64(v >> 2)), nil
	case 0x02:
		rest, err := d.Next(3)
		if err != nil {
			return nil, err
		}
		v := uint32(first) | uint32(rest[0])<<8 | uint32(rest[1])<<16 | uint32(rest[2])<<24
		return big.NewInt(int64(v >> 2)), nil
	default:
		n := int(first>>2) + 4
		if n > 67 {
			return nil, fmt.Errorf("%w: compact length %d", ErrValueTooWide, n)
		}
		le, err := d.Next(n)
		if err != nil {
			return nil, err
		}
		return new(big.Int).SetBytes(helpers.ReverseBytes(le)), nil
	}
}

// ByteVec reads a length-prefixed byte vector.
func (d *Decoder) ByteVec() ([]byte, error) {
	n, err := d.Compact()
	if err != nil {
		return nil, err
	}
	if !n.IsInt64() || n.Int64() > int64(d.Remaining()) {
		return nil, ErrShortInput
	}
	return d.Next(int(n.Int64()))
}
