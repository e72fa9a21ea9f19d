package credential

import (
	"bytes"
	"testing"

	"github.com/wardflux/netmon/pkg/types"
)

func TestNewStore(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{name: "valid 32-byte key", key: make([]byte, 32), wantErr: false},
		{name: "invalid short key", key: make([]byte, 16), wantErr: true},
		{name: "invalid long key", key: make([]byte, 64), wantErr: true},
		{name: "empty key", key: []byte{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStore(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewStore() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && s == nil {
				t.Error("NewStore() returned nil without error")
			}
		})
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	s, err := NewStore(make([]byte, 32))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	plaintext := []byte("public-ro")
	ciphertext, err := s.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Error("Encrypt() returned plaintext unchanged")
	}

	got, err := s.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Decrypt() = %q, want %q", got, plaintext)
	}
}

func TestDecryptFailsClosedOnTamper(t *testing.T) {
	s, _ := NewStore(make([]byte, 32))
	ciphertext, _ := s.Encrypt([]byte("v3-auth-passphrase"))
	ciphertext[len(ciphertext)-1] ^= 0xFF

	if _, err := s.Decrypt(ciphertext); err == nil {
		t.Error("Decrypt() on tampered ciphertext should fail, got nil error")
	}
}

func TestResolveV2c(t *testing.T) {
	s, _ := NewStore(make([]byte, 32))
	community, err := s.Encrypt([]byte("public"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	cred := types.SNMPCredential{
		ID:                  "c1",
		Version:             types.SNMPv2c,
		CommunityCiphertext: community,
	}

	mat, err := s.Resolve(cred)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if mat.Community != "public" {
		t.Errorf("Resolve().Community = %q, want %q", mat.Community, "public")
	}
}

func TestResolveV3(t *testing.T) {
	s, _ := NewStore(make([]byte, 32))
	user, _ := s.Encrypt([]byte("snmpuser"))
	auth, _ := s.Encrypt([]byte("authpass"))
	priv, _ := s.Encrypt([]byte("privpass"))

	cred := types.SNMPCredential{
		ID:                "c2",
		Version:           types.SNMPv3,
		V3UserCiphertext:  user,
		V3AuthCiphertext:  auth,
		V3PrivCiphertext:  priv,
	}

	mat, err := s.Resolve(cred)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if mat.V3User != "snmpuser" || mat.V3Auth != "authpass" || mat.V3Priv != "privpass" {
		t.Errorf("Resolve() = %+v, want user/auth/priv to decrypt", mat)
	}
}

func TestResolveUnknownVersion(t *testing.T) {
	s, _ := NewStore(make([]byte, 32))
	cred := types.SNMPCredential{ID: "c3", Version: "v9"}

	if _, err := s.Resolve(cred); err == nil {
		t.Error("Resolve() with unknown version should error")
	}
}
