// Package sealbox encrypts small payloads under a passphrase.
//
// Keys are derived with argon2id and payloads are sealed with
// XChaCha20-Poly1305. Every Seal draws a fresh salt and nonce.
package sealbox

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	SaltSize = 16

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// ErrOpen is returned when a payload cannot be authenticated, which
// usually means the passphrase is wrong.
var ErrOpen = errors.New("sealbox: message authentication failed")

// Sealed is an encrypted payload with the parameters needed to open it.
type Sealed struct {
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// DeriveKey stretches passphrase into a cipher key.
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
}

func Seal(passphrase string, plaintext []byte) (Sealed, error) {
	if passphrase == "" {
		return Sealed{}, errors.New("sealbox: empty passphrase")
	}
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return Sealed{}, fmt.Errorf("sealbox: salt: %w", err)
	}
	aead, err := chacha20poly1305.NewX(DeriveKey(passphrase, salt))
	if err != nil {
		return Sealed{}, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Sealed{}, fmt.Errorf("sealbox: nonce: %w", err)
	}
	return Sealed{
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, salt),
	}, nil
}

func Open(passphrase string, s Sealed) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(DeriveKey(passphrase, s.Salt))
	if err != nil {
		return nil, err
	}
	if len(s.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("sealbox: nonce is %d bytes, want %d", len(s.Nonce), aead.NonceSize())
	}
	out, err := aead.Open(nil, s.Nonce, s.Ciphertext, s.Salt)
	if err != nil {
		return nil, ErrOpen
	}
	return out, nil
}
