package waclient

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"warelay/pkg/constants"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/pbkdf2"
)

const (
	authKeyIterations = 100000
	authKeyLength     = 32
	authNonceSize     = 12
	authSaltValue     = "warelay-auth-v1"
)

// AuthStore persists provider session credentials on disk. When a secret is
// configured, values are sealed with AES-GCM under a pbkdf2-derived key.
type AuthStore struct {
	dir    string
	gcm    cipher.AEAD
	logger *logrus.Entry
}

// NewAuthStore creates a store rooted at dir. An empty secret disables
// encryption; material is then stored as plain files.
func NewAuthStore(dir, secret string, logger *logrus.Logger) (*AuthStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("auth directory is required")
	}
	if err := os.MkdirAll(dir, constants.DefaultDirectoryPermissions); err != nil {
		return nil, fmt.Errorf("failed to create auth directory: %w", err)
	}

	store := &AuthStore{
		dir:    dir,
		logger: logger.WithField("component", "authstore"),
	}

	if secret != "" {
		key := pbkdf2.Key([]byte(secret), []byte(authSaltValue), authKeyIterations, authKeyLength, sha256.New)
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCM: %w", err)
		}
		store.gcm = gcm
	}

	return store, nil
}

// Dir returns the resolved auth directory
func (s *AuthStore) Dir() string {
	return s.dir
}

// Save writes one named credential blob
func (s *AuthStore) Save(name string, data []byte) error {
	encoded, err := s.seal(data)
	if err != nil {
		return fmt.Errorf("failed to seal auth material: %w", err)
	}
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, encoded, constants.DefaultFilePermissions); err != nil {
		return fmt.Errorf("failed to write auth material: %w", err)
	}
	return nil
}

// Load reads one named credential blob. A missing file is returned as
// (nil, nil) so callers can treat absence as "not yet authenticated".
func (s *AuthStore) Load(name string) ([]byte, error) {
	path := filepath.Join(s.dir, name)
	encoded, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read auth material: %w", err)
	}
	data, err := s.open(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to open auth material: %w", err)
	}
	return data, nil
}

// Clear removes all stored credentials. Best-effort: individual removal
// failures are logged and the first error returned after attempting all.
func (s *AuthStore) Clear() error {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read auth directory: %w", err)
	}

	var firstErr error
	for _, entry := range entries {
		path := filepath.Join(s.dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			s.logger.WithError(err).WithField("path", path).Warn("Failed to remove auth entry")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr == nil {
		s.logger.Info("Auth material cleared")
	}
	return firstErr
}

func (s *AuthStore) seal(data []byte) ([]byte, error) {
	if s.gcm == nil {
		return data, nil
	}
	nonce := make([]byte, authNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := s.gcm.Seal(nonce, nonce, data, nil)
	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(sealed)))
	base64.StdEncoding.Encode(encoded, sealed)
	return encoded, nil
}

func (s *AuthStore) open(encoded []byte) ([]byte, error) {
	if s.gcm == nil {
		return encoded, nil
	}
	sealed := make([]byte, base64.StdEncoding.DecodedLen(len(encoded)))
	n, err := base64.StdEncoding.Decode(sealed, encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}
	sealed = sealed[:n]
	if len(sealed) < authNonceSize {
		return nil, fmt.Errorf("auth material too short")
	}
	nonce, ciphertext := sealed[:authNonceSize], sealed[authNonceSize:]
	return s.gcm.Open(nil, nonce, ciphertext, nil)
}
