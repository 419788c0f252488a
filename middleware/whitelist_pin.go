package middleware

import (
	"context"

	"github.com/rifttrack/tracker/bittorrent"
	"github.com/rifttrack/tracker/storage"
)

// PinningWhitelistStore wraps a WhitelistStore so that whitelisting an
// info-hash also pins its swarm in the PeerStore, per §3 and §4.C: a
// whitelisted info-hash must survive Expire's cleanup even before its first
// announce ever arrives. Removing an info-hash from the whitelist reverses
// the pin, so its swarm collects normally once it's empty.
type PinningWhitelistStore struct {
	WhitelistStore
	peerStore storage.PeerStore
}

// NewPinningWhitelistStore composes store and peerStore into a
// PinningWhitelistStore.
func NewPinningWhitelistStore(store WhitelistStore, peerStore storage.PeerStore) *PinningWhitelistStore {
	return &PinningWhitelistStore{WhitelistStore: store, peerStore: peerStore}
}

// AddInfoHash whitelists infoHash and then pins its swarm.
func (w *PinningWhitelistStore) AddInfoHash(ctx context.Context, infoHash bittorrent.InfoHash) error {
	if err := w.WhitelistStore.AddInfoHash(ctx, infoHash); err != nil {
		return err
	}

	w.peerStore.Pin(infoHash)
	return nil
}

// RemoveInfoHash removes infoHash from the whitelist and then unpins its
// swarm.
func (w *PinningWhitelistStore) RemoveInfoHash(ctx context.Context, infoHash bittorrent.InfoHash) error {
	if err := w.WhitelistStore.RemoveInfoHash(ctx, infoHash); err != nil {
		return err
	}

	w.peerStore.Unpin(infoHash)
	return nil
}
