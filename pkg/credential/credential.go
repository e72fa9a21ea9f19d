// Package credential supplies SNMP v1/v2c/v3 credentials to Probe Drivers.
// Community strings and v3 auth/priv material are stored encrypted at rest
// (AES-256-GCM) and only ever decrypted on the worker goroutine about to
// issue the probe; decryption failures propagate as errors, never as empty
// credentials, so a corrupted or tampered record cannot be mistaken for "no
// auth configured".
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/wardflux/netmon/pkg/types"
)

// Store decrypts SNMPCredential material on demand. It never logs
// plaintext community strings or v3 auth/priv passphrases.
type Store struct {
	encryptionKey []byte // 32 bytes for AES-256
}

// NewStore creates a Store with the given 32-byte AES-256 key.
func NewStore(key []byte) (*Store, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d", len(key))
	}
	return &Store{encryptionKey: key}, nil
}

// NewStoreFromPassphrase derives a 32-byte key from an operator-supplied
// passphrase via SHA-256. Intended for single-operator deployments that
// don't manage a raw key file.
func NewStoreFromPassphrase(passphrase string) (*Store, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}
	hash := sha256.Sum256([]byte(passphrase))
	return NewStore(hash[:])
}

// Encrypt seals plaintext with AES-256-GCM, prepending the nonce.
func (s *Store) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("cannot encrypt empty data")
	}

	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext produced by Encrypt. It fails closed: any
// tampering with the ciphertext or the prepended nonce returns an error
// rather than corrupted plaintext.
func (s *Store) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("cannot decrypt empty data")
	}

	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

func (s *Store) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Material is the decrypted form of an SNMPCredential, held only for the
// duration of a single probe call and never persisted or logged.
type Material struct {
	Community string // v1/v2c
	V3User    string
	V3Auth    string
	V3Priv    string
}

// Resolve decrypts every ciphertext field present on cred. A v1/v2c
// credential only populates Community; a v3 credential only populates the
// V3* fields, matching SNMPCredential.Version.
func (s *Store) Resolve(cred types.SNMPCredential) (Material, error) {
	var m Material
	var err error

	switch cred.Version {
	case types.SNMPv1, types.SNMPv2c:
		if len(cred.CommunityCiphertext) == 0 {
			return Material{}, fmt.Errorf("credential %s: no community ciphertext", cred.ID)
		}
		plain, derr := s.Decrypt(cred.CommunityCiphertext)
		if derr != nil {
			return Material{}, fmt.Errorf("credential %s: %w", cred.ID, derr)
		}
		m.Community = string(plain)
	case types.SNMPv3:
		if m.V3User, err = s.decryptField(cred.ID, "v3 user", cred.V3UserCiphertext); err != nil {
			return Material{}, err
		}
		if m.V3Auth, err = s.decryptField(cred.ID, "v3 auth", cred.V3AuthCiphertext); err != nil {
			return Material{}, err
		}
		if m.V3Priv, err = s.decryptField(cred.ID, "v3 priv", cred.V3PrivCiphertext); err != nil {
			return Material{}, err
		}
	default:
		return Material{}, fmt.Errorf("credential %s: unknown SNMP version %q", cred.ID, cred.Version)
	}

	return m, nil
}

func (s *Store) decryptField(credID, field string, ciphertext []byte) (string, error) {
	if len(ciphertext) == 0 {
		return "", nil
	}
	plain, err := s.Decrypt(ciphertext)
	if err != nil {
		return "", fmt.Errorf("credential %s: %s: %w", credID, field, err)
	}
	return string(plain), nil
}
