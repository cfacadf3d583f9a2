package store

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const secretBytes = 32

// SecretStore holds the operator's shared bearer secret.
type SecretStore struct {
	persist Persistence
	logger  zerolog.Logger

	mu     sync.RWMutex
	secret string
}

func NewSecretStore(p Persistence, logger zerolog.Logger) *SecretStore {
	return &SecretStore{
		persist: p,
		logger:  logger.With().Str("component", "secret_store").Logger(),
	}
}

func (s *SecretStore) LoadOrCreate() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.persist.Read()
	switch {
	case err == nil:
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return "", ErrEmptySecret
		}
		s.secret = secret
		return secret, nil
	case errors.Is(err, fs.ErrNotExist):
	default:
		return "", fmt.Errorf("load secret: %w", err)
	}

	secret, err := newSecret()
	if err != nil {
		return "", err
	}
	if err := s.persist.Write([]byte(secret + "\n")); err != nil {
		return "", fmt.Errorf("persist secret: %w", err)
	}
	s.secret = secret
	s.logger.Info().Msg("Generated new shared secret")
	return secret, nil
}

// Verify reports whether provided is exactly the stored secret.
func (s *SecretStore) Verify(provided string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.secret == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(s.secret)) == 1
}

func (s *SecretStore) Secret() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.secret == "" {
		return "", ErrNotInitialized
	}
	return s.secret, nil
}

func newSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
