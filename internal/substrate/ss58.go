package substrate

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"golang.org/x/crypto/blake2b"
)

// AccountID is a 32-byte Substrate account id (public key).
type AccountID [32]byte

// SS58 errors.
var (
	ErrInvalidSS58       = errors.New("invalid ss58 address")
	ErrSS58Checksum      = errors.New("ss58 checksum mismatch")
	ErrUnsupportedPrefix = errors.New("unsupported ss58 prefix")
)

var ss58Pre = []byte("SS58PRE")

// EncodeSS58 encodes an account id with the given network prefix.
func EncodeSS58(id AccountID, prefix uint16) (string, error) {
	var pre []byte
	switch {
	case prefix < 64:
		pre = []byte{byte(prefix)}
	case prefix < 16384:
		first := byte((prefix&0b1111_1100)>>2) | 0b0100_0000
		second := byte(prefix>>8) | byte((prefix&0b11)<<6)
		pre = []byte{first, second}
	default:
		return "", fmt.Errorf("%w: %d", ErrUnsupportedPrefix, prefix)
	}

	body := append(append([]byte{}, pre...), id[:]...)
	sum := ss58Checksum(body)
	return base58.Encode(append(body, sum[:2]...)), nil
}

// DecodeSS58 decodes an address into its account id and network prefix.
func DecodeSS58(address string) (AccountID, uint16, error) {
	var id AccountID

	raw := base58.Decode(address)
	if len(raw) < 35 {
		return id, 0, ErrInvalidSS58
	}

	var prefix uint16
	preLen := 1
	switch {
	case raw[0] < 64:
		prefix = uint16(raw[0])
	case raw[0] < 128:
		preLen = 2
		lower := (raw[0]&0b0011_1111)<<2 | raw[1]>>6
		upper := raw[1] & 0b0011_1111
		prefix = uint16(lower) | uint16(upper)<<8
	default:
		return id, 0, ErrInvalidSS58
	}

	if len(raw) != preLen+32+2 {
		return id, 0, ErrInvalidSS58
	}

	body := raw[:preLen+32]
	sum := ss58Checksum(body)
	if sum[0] != raw[preLen+32] || sum[1] != raw[preLen+33] {
		return id, 0, ErrSS58Checksum
	}

	copy(id[:], raw[preLen:preLen+32])
	return id, prefix, nil
}

// IsSS58Address reports whether address decodes as a valid SS58 account.
func IsSS58Address(address string) bool {
	_, _, err := DecodeSS58(address)
	return err == nil
}

// Reformat re-encodes an address under a different network prefix.
func Reformat(address string, prefix uint16) (string, error) {
	id, _, err := DecodeSS58(address)
	if err != nil {
		return "", err
	}
	return EncodeSS58(id, prefix)
}

func ss58Checksum(body []byte) [64]byte {
	data := make([]byte, 0, len(ss58Pre)+len(body))
	data = append(data, ss58Pre...)
	data = append(data, body...)
	return blake2b.Sum512(data)
}
