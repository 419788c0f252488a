// Package memorystore implements an in-process, map-backed KeyStore.
package memorystore

import (
	"context"
	"sync"
	"time"

	"github.com/rifttrack/tracker/bittorrent"
	"github.com/rifttrack/tracker/middleware"
	"github.com/rifttrack/tracker/store/keystore"
)

// Name is the name by which this KeyStore driver is registered.
const Name = "memory"

func init() {
	keystore.RegisterDriver(Name, driver{})
}

type driver struct{}

func (driver) NewKeyStore(_ interface{}) (middleware.KeyStore, error) {
	return New(), nil
}

// New creates an empty in-memory KeyStore.
func New() middleware.KeyStore {
	return &keyStore{keys: make(map[string]bittorrent.AuthKey)}
}

type keyStore struct {
	mu   sync.RWMutex
	keys map[string]bittorrent.AuthKey
}

var _ middleware.KeyStore = &keyStore{}

func (s *keyStore) AddKey(_ context.Context, key bittorrent.AuthKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.Key] = key
	return nil
}

func (s *keyStore) RemoveKey(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; !ok {
		return keystore.ErrKeyNotFound
	}
	delete(s.keys, key)
	return nil
}

func (s *keyStore) IsValid(_ context.Context, key string, now time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[key]
	if !ok {
		return false, nil
	}
	return !k.Expired(now), nil
}
