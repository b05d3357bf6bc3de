// Package secrets derives purpose-bound keys from the session secret and
// seals values stored at rest.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// Purposes for DeriveKey. Each yields an independent key.
	PurposeSessionCookie = "smart-launch session cookie v1"
	PurposeTokenSealing  = "smart-launch token sealing v1"

	keySize   = 32
	nonceSize = 24
)

var ErrOpen = errors.New("secrets: unable to open sealed value")

// DeriveKey expands secret into a 32 byte key bound to purpose.
func DeriveKey(secret []byte, purpose string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("secrets: empty secret")
	}
	key := make([]byte, keySize)
	r := hkdf.New(sha256.New, secret, nil, []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("secrets: derive key: %w", err)
	}
	return key, nil
}

// Box seals and opens values with a fixed key.
type Box struct {
	key [keySize]byte
}

// NewBox returns a Box using the token sealing key derived from secret.
func NewBox(secret []byte) (*Box, error) {
	key, err := DeriveKey(secret, PurposeTokenSealing)
	if err != nil {
		return nil, err
	}
	b := &Box{}
	copy(b.key[:], key)
	return b, nil
}

// Seal encrypts plaintext. The random nonce is prefixed to the output.
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("secrets: generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &b.key), nil
}

// Open decrypts a value produced by Seal.
func (b *Box) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrOpen
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &b.key)
	if !ok {
		return nil, ErrOpen
	}
	return plaintext, nil
}
