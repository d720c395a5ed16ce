package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// Backup layout: salt (16) || IV (16) || AES-256-CBC ciphertext of the
// PKCS#7-padded key. The derivation is PBKDF2-SHA256 with 100k rounds.
// This matches the format other deployments of the assistant write, so
// a backup taken there restores here and vice versa.
const (
	backupSaltSize   = 16
	backupIVSize     = 16
	pbkdf2Iterations = 100_000
)

// EncryptBackup wraps the master key for offline storage, protected by
// a passphrase.
func EncryptBackup(key []byte, passphrase string) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	if passphrase == "" {
		return nil, fmt.Errorf("backup passphrase cannot be empty")
	}

	salt := make([]byte, backupSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	iv := make([]byte, backupIVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	derived := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, KeySize, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}

	padded := pkcs7Pad(key, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	out := make([]byte, 0, backupSaltSize+backupIVSize+len(ciphertext))
	out = append(out, salt...)
	out = append(out, iv...)
	out = append(out, ciphertext...)
	return out, nil
}

// DecryptBackup recovers the master key from a backup blob.
func DecryptBackup(blob []byte, passphrase string) ([]byte, error) {
	if len(blob) < backupSaltSize+backupIVSize+aes.BlockSize {
		return nil, fmt.Errorf("backup blob too short: %d bytes", len(blob))
	}

	salt := blob[:backupSaltSize]
	iv := blob[backupSaltSize : backupSaltSize+backupIVSize]
	ciphertext := blob[backupSaltSize+backupIVSize:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("backup ciphertext is not block-aligned")
	}

	derived := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, KeySize, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	key, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		// A padding error almost always means a wrong passphrase.
		return nil, fmt.Errorf("backup decryption failed: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("restored key has %d bytes, want %d", len(key), KeySize)
	}
	return key, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+padding)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(padding)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, fmt.Errorf("invalid padding byte %d", padding)
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}
	return data[:len(data)-padding], nil
}
