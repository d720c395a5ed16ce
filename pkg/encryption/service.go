// Package encryption implements field-level encryption for stored user
// content, plus management of the master key file and its passphrase-
// protected backup.
//
// The ciphertext envelope format is stable and must not change: rows
// written by earlier deployments of the assistant decrypt byte for
// byte, and rows written here decrypt there.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/hashicorp/go-hclog"
)

const (
	// KeySize is the master key length in bytes (AES-256).
	KeySize = 32

	gcmNonceSize = 12
	gcmTagSize   = 16
)

// Envelope is the serialised form of an encrypted field:
// ciphertext, IV (nonce), and GCM auth tag, each hex-encoded.
type Envelope struct {
	E string `json:"e"`
	I string `json:"i"`
	A string `json:"a"`
}

// Service encrypts and decrypts individual fields with AES-256-GCM
// under a process-wide master key.
type Service struct {
	aead   cipher.AEAD
	logger hclog.Logger
}

// NewService creates a field encryption service. The key must be
// exactly KeySize bytes.
func NewService(key []byte, logger hclog.Logger) (*Service, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}

	return &Service{
		aead:   aead,
		logger: logger.Named("encryption"),
	}, nil
}

// EncryptField encrypts a plaintext string into an envelope with a
// fresh random nonce.
func (s *Service) EncryptField(plaintext string) (*Envelope, error) {
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal appends the auth tag to the ciphertext; the envelope keeps
	// them in separate fields.
	sealed := s.aead.Seal(nil, nonce, []byte(plaintext), nil)
	split := len(sealed) - gcmTagSize

	return &Envelope{
		E: hex.EncodeToString(sealed[:split]),
		I: hex.EncodeToString(nonce),
		A: hex.EncodeToString(sealed[split:]),
	}, nil
}

// DecryptField authenticates and decrypts an envelope.
func (s *Service) DecryptField(env *Envelope) (string, error) {
	if env == nil {
		return "", fmt.Errorf("envelope is nil")
	}

	ciphertext, err := hex.DecodeString(env.E)
	if err != nil {
		return "", fmt.Errorf("malformed ciphertext: %w", err)
	}
	nonce, err := hex.DecodeString(env.I)
	if err != nil {
		return "", fmt.Errorf("malformed nonce: %w", err)
	}
	if len(nonce) != gcmNonceSize {
		return "", fmt.Errorf("nonce must be %d bytes, got %d", gcmNonceSize, len(nonce))
	}
	tag, err := hex.DecodeString(env.A)
	if err != nil {
		return "", fmt.Errorf("malformed auth tag: %w", err)
	}
	if len(tag) != gcmTagSize {
		return "", fmt.Errorf("auth tag must be %d bytes, got %d", gcmTagSize, len(tag))
	}

	plaintext, err := s.aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plaintext), nil
}

// ReEncrypt decrypts an envelope under this service's key and encrypts
// it under the target service's key. Used during key rotation.
func (s *Service) ReEncrypt(env *Envelope, target *Service) (*Envelope, error) {
	plaintext, err := s.DecryptField(env)
	if err != nil {
		return nil, err
	}
	return target.EncryptField(plaintext)
}
