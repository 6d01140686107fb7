package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"unicode"

	"golang.org/x/crypto/argon2"

	"github.com/Klingon-tech/klingsign/pkg/helpers"
)

// kdfParams are the Argon2id cost parameters for new keystores.
type kdfParams struct {
	Time        uint32
	Memory      uint32 // KiB
	Parallelism uint8
}

// Argon2 parameters (OWASP recommended for password hashing)
var defaultKDF = kdfParams{
	Time:        3,
	Memory:      64 * 1024,
	Parallelism: 4,
}

const (
	keyLen  = 32 // AES-256
	saltLen = 32

	keystoreVersion = 1
)

// Keystore errors.
var (
	ErrWrongPassword   = errors.New("wrong password")
	ErrCorruptKeystore = errors.New("keystore is corrupt")
	ErrWeakPassword    = errors.New("password too weak")
)

// EncryptedSeed is an encrypted mnemonic as stored in the accounts table.
type EncryptedSeed struct {
	Version     int    `json:"version"`
	Ciphertext  []byte `json:"ciphertext"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Time        uint32 `json:"time"`
	Memory      uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
}

// EncryptMnemonic encrypts a mnemonic using Argon2id + AES-256-GCM.
func EncryptMnemonic(mnemonic, password string) (*EncryptedSeed, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	if !ValidateMnemonic(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	salt, err := helpers.GenerateSecureRandom(saltLen)
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	p := defaultKDF
	key := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Parallelism, keyLen)
	defer helpers.SecureClear(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return &EncryptedSeed{
		Version:     keystoreVersion,
		Ciphertext:  gcm.Seal(nil, nonce, []byte(mnemonic), nil),
		Salt:        salt,
		Nonce:       nonce,
		Time:        p.Time,
		Memory:      p.Memory,
		Parallelism: p.Parallelism,
	}, nil
}

// DecryptMnemonic decrypts an encrypted seed. The caller owns the returned
// bytes and should clear them when done.
func DecryptMnemonic(enc *EncryptedSeed, password string) ([]byte, error) {
	if enc.Version != keystoreVersion || len(enc.Salt) == 0 || len(enc.Nonce) == 0 {
		return nil, ErrCorruptKeystore
	}

	// Use stored parameters or defaults
	t, mem, par := enc.Time, enc.Memory, enc.Parallelism
	if t == 0 {
		t = defaultKDF.Time
	}
	if mem == 0 {
		mem = defaultKDF.Memory
	}
	if par == 0 {
		par = defaultKDF.Parallelism
	}

	key := argon2.IDKey([]byte(password), enc.Salt, t, mem, par, keyLen)
	defer helpers.SecureClear(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(enc.Nonce) != gcm.NonceSize() {
		return nil, ErrCorruptKeystore
	}

	plaintext, err := gcm.Open(nil, enc.Nonce, enc.Ciphertext, nil)
	if err != nil {
		return nil, ErrWrongPassword
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func marshalSeed(enc *EncryptedSeed) ([]byte, error) {
	return json.Marshal(enc)
}

func unmarshalSeed(raw []byte) (*EncryptedSeed, error) {
	if len(raw) == 0 {
		return nil, ErrCorruptKeystore
	}
	var enc EncryptedSeed
	if err := json.Unmarshal(raw, &enc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptKeystore, err)
	}
	return &enc, nil
}

// Password validation constants
const (
	MinPasswordLength = 8
	MaxPasswordLength = 256
)

// ValidatePassword requires at least 8 characters and 3 of 4 character types.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrWeakPassword, MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return fmt.Errorf("%w: must be at most %d characters", ErrWeakPassword, MaxPasswordLength)
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	complexity := 0
	for _, ok := range []bool{hasUpper, hasLower, hasNumber, hasSpecial} {
		if ok {
			complexity++
		}
	}
	if complexity < 3 {
		return fmt.Errorf("%w: must contain at least 3 of: uppercase, lowercase, number, special character", ErrWeakPassword)
	}
	return nil
}
