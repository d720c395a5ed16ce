package encryption

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// KeyStore manages the master key file on disk. The file holds the raw
// 32-byte key and must be readable only by the service user.
type KeyStore struct {
	fs   afero.Fs
	path string
}

// NewKeyStore creates a key store backed by fs. Pass afero.NewOsFs()
// in production; tests use an in-memory filesystem.
func NewKeyStore(fs afero.Fs, path string) *KeyStore {
	return &KeyStore{fs: fs, path: path}
}

// Path returns the key file location.
func (k *KeyStore) Path() string {
	return k.path
}

// Load reads and validates the key file.
func (k *KeyStore) Load() ([]byte, error) {
	info, err := k.fs.Stat(k.path)
	if err != nil {
		return nil, fmt.Errorf("key file %s: %w", k.path, err)
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		return nil, fmt.Errorf("key file %s has permissions %04o, want 0600", k.path, mode)
	}

	key, err := afero.ReadFile(k.fs, k.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("key file %s holds %d bytes, want %d", k.path, len(key), KeySize)
	}
	return key, nil
}

// Generate creates a fresh random key and writes it with 0600
// permissions. Fails if the file already exists.
func (k *KeyStore) Generate() ([]byte, error) {
	if _, err := k.fs.Stat(k.path); err == nil {
		return nil, fmt.Errorf("key file %s already exists", k.path)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("key file %s: %w", k.path, err)
	}

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	if err := k.write(key); err != nil {
		return nil, err
	}
	return key, nil
}

// LoadOrGenerate loads an existing key, creating one first if the file
// does not exist.
func (k *KeyStore) LoadOrGenerate() ([]byte, error) {
	if _, err := k.fs.Stat(k.path); os.IsNotExist(err) {
		return k.Generate()
	}
	return k.Load()
}

// Replace overwrites the key file with a new key. Used after rotation
// and backup restore.
func (k *KeyStore) Replace(key []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	return k.write(key)
}

func (k *KeyStore) write(key []byte) error {
	if dir := filepath.Dir(k.path); dir != "." {
		if err := k.fs.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create key directory: %w", err)
		}
	}
	if err := afero.WriteFile(k.fs, k.path, key, 0o600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	// MemMapFs ignores the create mode; enforce it explicitly so the
	// permission check in Load holds on every backend.
	if err := k.fs.Chmod(k.path, 0o600); err != nil {
		return fmt.Errorf("failed to set key file permissions: %w", err)
	}
	return nil
}
