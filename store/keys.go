package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"

	"github.com/pushrelay/server/types"
)

// KeyStore owns the single VAPID key pair that signs every push.
type KeyStore struct {
	persist  Persistence
	subject  string
	generate func() (privateKey, publicKey string, err error)
	logger   zerolog.Logger

	mu   sync.RWMutex
	pair *types.KeyPair
}

func NewKeyStore(p Persistence, subject string, logger zerolog.Logger) *KeyStore {
	return &KeyStore{
		persist:  p,
		subject:  subject,
		generate: webpush.GenerateVAPIDKeys,
		logger:   logger.With().Str("component", "key_store").Logger(),
	}
}

// LoadOrCreate loads the persisted key pair, generating and persisting a new
// one only when none exists. A damaged key file is returned as an error and
// is never regenerated.
func (k *KeyStore) LoadOrCreate() (types.KeyPair, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	data, err := k.persist.Read()
	switch {
	case err == nil:
		var pair types.KeyPair
		if err := json.Unmarshal(data, &pair); err != nil {
			return types.KeyPair{}, fmt.Errorf("parse key file: %w", err)
		}
		if pair.PublicKey == "" || pair.PrivateKey == "" {
			return types.KeyPair{}, fmt.Errorf("key file is missing publicKey or privateKey")
		}
		if pair.Subject != k.subject {
			k.logger.Warn().
				Str("persisted", pair.Subject).
				Str("configured", k.subject).
				Msg("Configured subject differs from key file, keeping persisted subject")
		}
		k.pair = &pair
		k.logger.Debug().Msg("Loaded VAPID key pair")
		return pair, nil
	case errors.Is(err, fs.ErrNotExist):
	default:
		return types.KeyPair{}, fmt.Errorf("load key pair: %w", err)
	}

	privateKey, publicKey, err := k.generate()
	if err != nil {
		return types.KeyPair{}, fmt.Errorf("generate VAPID keys: %w", err)
	}
	pair := types.KeyPair{PublicKey: publicKey, PrivateKey: privateKey, Subject: k.subject}

	data, err = json.MarshalIndent(pair, "", "  ")
	if err != nil {
		return types.KeyPair{}, fmt.Errorf("encode key pair: %w", err)
	}
	if err := k.persist.Write(data); err != nil {
		return types.KeyPair{}, fmt.Errorf("persist key pair: %w", err)
	}

	k.pair = &pair
	k.logger.Info().Msg("Generated new VAPID key pair")
	return pair, nil
}

func (k *KeyStore) PublicKey() (string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.pair == nil {
		return "", ErrNotInitialized
	}
	return k.pair.PublicKey, nil
}

func (k *KeyStore) KeyPair() (types.KeyPair, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.pair == nil {
		return types.KeyPair{}, ErrNotInitialized
	}
	return *k.pair, nil
}
