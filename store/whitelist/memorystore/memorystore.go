// Package memorystore implements an in-process, map-backed WhitelistStore.
package memorystore

import (
	"context"
	"sync"

	"github.com/rifttrack/tracker/bittorrent"
	"github.com/rifttrack/tracker/middleware"
	"github.com/rifttrack/tracker/store/whitelist"
)

// Name is the name by which this WhitelistStore driver is registered.
const Name = "memory"

func init() {
	whitelist.RegisterDriver(Name, driver{})
}

type driver struct{}

func (driver) NewWhitelistStore(_ interface{}) (middleware.WhitelistStore, error) {
	return New(), nil
}

// New creates an empty in-memory WhitelistStore.
func New() middleware.WhitelistStore {
	return &whitelistStore{hashes: make(map[bittorrent.InfoHash]struct{})}
}

type whitelistStore struct {
	mu     sync.RWMutex
	hashes map[bittorrent.InfoHash]struct{}
}

var _ middleware.WhitelistStore = &whitelistStore{}

func (s *whitelistStore) AddInfoHash(_ context.Context, ih bittorrent.InfoHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hashes[ih] = struct{}{}
	return nil
}

func (s *whitelistStore) RemoveInfoHash(_ context.Context, ih bittorrent.InfoHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hashes, ih)
	return nil
}

func (s *whitelistStore) HasInfoHash(_ context.Context, ih bittorrent.InfoHash) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.hashes[ih]
	return ok, nil
}
