package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"

	"github.com/pushrelay/server/types"
)

// SubscriptionStore maps subscriber ids to their push endpoints. Every
// mutation rewrites the whole document before returning; if the write fails
// the in-memory change is undone.
type SubscriptionStore struct {
	persist Persistence
	logger  zerolog.Logger
	now     func() time.Time

	mu   sync.RWMutex
	subs map[string]types.Subscription
}

func NewSubscriptionStore(p Persistence, logger zerolog.Logger) *SubscriptionStore {
	return &SubscriptionStore{
		persist: p,
		logger:  logger.With().Str("component", "subscription_store").Logger(),
		now:     time.Now,
		subs:    map[string]types.Subscription{},
	}
}

// Load replaces the in-memory map with the persisted one. A missing or
// unreadable document leaves the store empty.
func (s *SubscriptionStore) Load() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subs = map[string]types.Subscription{}

	data, err := s.persist.Read()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug().Msg("No subscriptions file, starting empty")
		} else {
			s.logger.Warn().Err(err).Msg("Could not read subscriptions, starting empty")
		}
		return 0
	}

	var loaded map[string]types.Subscription
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.logger.Warn().Err(err).Msg("Corrupt subscriptions file, starting empty")
		return 0
	}
	for id, sub := range loaded {
		s.subs[id] = sub
	}
	s.logger.Info().Int("count", len(s.subs)).Msg("Loaded subscriptions")
	return len(s.subs)
}

// Subscribe inserts or overwrites id with a fresh creation time.
func (s *SubscriptionStore) Subscribe(id string, endpoint webpush.Subscription, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.subs[id]
	s.subs[id] = types.Subscription{
		Endpoint:  endpoint,
		CreatedAt: s.now().UTC(),
		Name:      name,
	}
	if err := s.save(); err != nil {
		if existed {
			s.subs[id] = prev
		} else {
			delete(s.subs, id)
		}
		return err
	}
	s.logger.Debug().Str("id", id).Bool("replaced", existed).Msg("Subscription stored")
	return nil
}

// Unsubscribe removes id and reports whether it was present.
func (s *SubscriptionStore) Unsubscribe(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.subs[id]
	if !ok {
		return false, nil
	}
	delete(s.subs, id)
	if err := s.save(); err != nil {
		s.subs[id] = prev
		return false, err
	}
	s.logger.Debug().Str("id", id).Msg("Subscription removed")
	return true, nil
}

// RemoveAll deletes every present id with a single write.
func (s *SubscriptionStore) RemoveAll(ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := map[string]types.Subscription{}
	for _, id := range ids {
		if sub, ok := s.subs[id]; ok {
			removed[id] = sub
			delete(s.subs, id)
		}
	}
	if len(removed) == 0 {
		return 0, nil
	}
	if err := s.save(); err != nil {
		for id, sub := range removed {
			s.subs[id] = sub
		}
		return 0, err
	}
	return len(removed), nil
}

// List returns a copy of the whole map.
func (s *SubscriptionStore) List() map[string]types.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]types.Subscription, len(s.subs))
	for id, sub := range s.subs {
		out[id] = sub
	}
	return out
}

func (s *SubscriptionStore) Get(id string) (types.Subscription, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[id]
	return sub, ok
}

func (s *SubscriptionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// save must be called with mu held.
func (s *SubscriptionStore) save() error {
	data, err := json.MarshalIndent(s.subs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode subscriptions: %w", err)
	}
	if err := s.persist.Write(data); err != nil {
		return fmt.Errorf("persist subscriptions: %w", err)
	}
	return nil
}
