package infra

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jawad360/phone-detox/internal/domain"
)

const (
	stateKeyFileName = "state.key"
	keySize          = 32 // 256-bit SQLCipher key

	// StateKeyEnv overrides the key file with a base64 key, for hosts
	// that keep secrets outside the data directory.
	StateKeyEnv = "DETOX_STATE_KEY"
)

// FileKeyProvider keeps the state database key next to the database,
// readable only by the owner.
type FileKeyProvider struct {
	keyPath string
}

// NewFileKeyProvider creates a FileKeyProvider for the given data directory.
func NewFileKeyProvider(dataDir string) *FileKeyProvider {
	return &FileKeyProvider{keyPath: filepath.Join(dataDir, stateKeyFileName)}
}

// GetKey returns the key from StateKeyEnv if set, else from the key file.
func (p *FileKeyProvider) GetKey() ([]byte, error) {
	if env := os.Getenv(StateKeyEnv); env != "" {
		return decodeKey(env)
	}
	encoded, err := os.ReadFile(p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	return decodeKey(string(encoded))
}

// StoreKey writes key to the key file with 0600 permissions.
func (p *FileKeyProvider) StoreKey(key []byte) error {
	if len(key) != keySize {
		return fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	if err := os.MkdirAll(filepath.Dir(p.keyPath), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(p.keyPath, []byte(base64.StdEncoding.EncodeToString(key)), 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// KeyExists reports whether a key is available from either source.
func (p *FileKeyProvider) KeyExists() bool {
	if os.Getenv(StateKeyEnv) != "" {
		return true
	}
	_, err := os.Stat(p.keyPath)
	return err == nil
}

func decodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	return key, nil
}

// GenerateKey creates a new random 256-bit key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	return key, nil
}

// EnsureKey returns the provider's key, generating and storing one on first run.
func EnsureKey(provider domain.KeyProvider) ([]byte, error) {
	if provider.KeyExists() {
		return provider.GetKey()
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := provider.StoreKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// OpenStateStore opens the encrypted state database in dataDir,
// creating its key on first use.
func OpenStateStore(dataDir string) (*StateStore, error) {
	key, err := EnsureKey(NewFileKeyProvider(dataDir))
	if err != nil {
		return nil, fmt.Errorf("state key: %w", err)
	}
	return NewStateStore(dataDir, key)
}

// Ensure FileKeyProvider implements domain.KeyProvider.
var _ domain.KeyProvider = (*FileKeyProvider)(nil)
