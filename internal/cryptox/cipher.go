// Package cryptox implements the authenticated encryption boundary of the
// escrow: secrets are sealed with a 256-bit key and a 96-bit nonce and opened
// again on retrieval.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the required key length in bytes.
	KeySize = 32
	// NonceSize is the nonce length in bytes for every supported algorithm.
	NonceSize = 12
)

// Supported AEAD algorithms.
const (
	AlgAES256GCM        = "aes-256-gcm"
	AlgChaCha20Poly1305 = "chacha20-poly1305"
)

// Nonce modes.
const (
	// NonceKeyID derives the nonce from the record key id. Key ids are unique,
	// so no nonce is reused under one key.
	NonceKeyID = "key-id"
	// NonceFixed uses LegacyNonce for every record. Kept only to read data
	// sealed by older deployments.
	NonceFixed = "fixed"
)

var (
	// LegacyKey is the built-in key older deployments used.
	LegacyKey = []byte("32-bytes-long-key-for-best-AES!!")
	// LegacyNonce is the constant nonce of NonceFixed mode.
	LegacyNonce = []byte("unique nonce")
)

var (
	// ErrAuthentication is returned when the authentication tag does not verify.
	ErrAuthentication = errors.New("ciphertext authentication failed")
	// ErrDecode is returned when the decrypted bytes are not valid UTF-8 text.
	ErrDecode = errors.New("decrypted data is not valid text")
	// ErrKeySize is returned for key material that is not KeySize bytes.
	ErrKeySize = fmt.Errorf("key must be %d bytes", KeySize)
)

// Cipher seals and opens record payloads. It holds no per-call state and is
// safe for concurrent use.
type Cipher struct {
	aead      cipher.AEAD
	nonceMode string
}

// New builds a Cipher for the given algorithm and nonce mode. Empty
// algorithm and mode select AlgAES256GCM and NonceKeyID.
func New(key []byte, algorithm, nonceMode string) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	if algorithm == "" {
		algorithm = AlgAES256GCM
	}
	if nonceMode == "" {
		nonceMode = NonceKeyID
	}

	var (
		aead cipher.AEAD
		err  error
	)
	switch algorithm {
	case AlgAES256GCM:
		block, berr := aes.NewCipher(key)
		if berr != nil {
			return nil, fmt.Errorf("create cipher: %w", berr)
		}
		aead, err = cipher.NewGCM(block)
	case AlgChaCha20Poly1305:
		aead, err = chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("unsupported cipher algorithm %q", algorithm)
	}
	if err != nil {
		return nil, fmt.Errorf("create AEAD: %w", err)
	}

	switch nonceMode {
	case NonceKeyID, NonceFixed:
	default:
		return nil, fmt.Errorf("unsupported nonce mode %q", nonceMode)
	}

	return &Cipher{aead: aead, nonceMode: nonceMode}, nil
}

// NonceMode reports the configured nonce mode.
func (c *Cipher) NonceMode() string {
	return c.nonceMode
}

// Encrypt seals plaintext for the record filed under keyID and returns
// ciphertext with the tag appended.
func (c *Cipher) Encrypt(keyID uint64, plaintext string) ([]byte, error) {
	return c.aead.Seal(nil, c.nonce(keyID), []byte(plaintext), nil), nil
}

// Decrypt opens ciphertext sealed by Encrypt under the same keyID.
func (c *Cipher) Decrypt(keyID uint64, ciphertext []byte) (string, error) {
	plain, err := c.aead.Open(nil, c.nonce(keyID), ciphertext, nil)
	if err != nil {
		return "", ErrAuthentication
	}
	if !utf8.Valid(plain) {
		return "", ErrDecode
	}
	return string(plain), nil
}

func (c *Cipher) nonce(keyID uint64) []byte {
	if c.nonceMode == NonceFixed {
		return LegacyNonce
	}
	nonce := make([]byte, NonceSize)
	binary.BigEndian.PutUint64(nonce[NonceSize-8:], keyID)
	return nonce
}
