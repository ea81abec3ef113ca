package cryptox

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/argon2"
)

// KeySource describes where the encryption key comes from. At most one of
// Hex, File and Passphrase should be set.
type KeySource struct {
	// Hex is the key as 64 hex characters.
	Hex string
	// File is a path to a file holding the key, raw or hex encoded.
	File string
	// Passphrase is stretched with argon2id using Salt.
	Passphrase string
	Salt       string
}

// ErrNoKeyMaterial is returned by LoadKey when the source is empty.
var ErrNoKeyMaterial = errors.New("no key material configured")

// DeriveKey stretches a passphrase into a KeySize key with argon2id.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, KeySize)
}

// ParseHexKey decodes a hex-encoded key.
func ParseHexKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(string(bytes.TrimSpace([]byte(s))))
	if err != nil {
		return nil, fmt.Errorf("decode hex key: %w", err)
	}
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	return key, nil
}

// LoadKey resolves src into key material.
func LoadKey(src KeySource) ([]byte, error) {
	switch {
	case src.Hex != "":
		return ParseHexKey(src.Hex)
	case src.File != "":
		data, err := os.ReadFile(src.File)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		if len(data) == KeySize {
			return data, nil
		}
		return ParseHexKey(string(data))
	case src.Passphrase != "":
		if len(src.Salt) < 8 {
			return nil, errors.New("passphrase salt must be at least 8 bytes")
		}
		return DeriveKey([]byte(src.Passphrase), []byte(src.Salt)), nil
	default:
		return nil, ErrNoKeyMaterial
	}
}
