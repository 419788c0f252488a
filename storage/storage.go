// Package storage implements the concurrent in-memory peer repository and
// the PeerStore abstraction it's built behind, following a driver-registry
// pattern so alternate implementations can be selected by name at startup.
package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rifttrack/tracker/bittorrent"
	"github.com/rifttrack/tracker/pkg/log"
	"github.com/rifttrack/tracker/pkg/stop"
)

// ErrResourceDoesNotExist is returned by storage implementations when a
// lookup or mutation targets a peer, swarm, or other resource that isn't
// present.
var ErrResourceDoesNotExist = errors.New("storage: resource does not exist")

// ErrInfoHashWhitelisted reports that a mutation was refused because the
// target info-hash is whitelist-pinned. No store in this module returns it:
// Expire skips pinned swarms without reporting an error.
var ErrInfoHashWhitelisted = errors.New("storage: info_hash is whitelist-pinned")

// SwarmStats is the triple of derived counters reported about a swarm:
// the number of seeders, the number of leechers, and the lifetime count of
// Completed events observed for the swarm.
type SwarmStats struct {
	Seeders        uint32
	Leechers       uint32
	CompletedCount uint64
}

// PeerStore represents the concurrent, in-memory mapping of InfoHash to
// Swarm described in §4.C: it stores and aggregates the peers participating
// in every swarm known to this process.
type PeerStore interface {
	// UpsertPeer inserts or replaces p, keyed by its (IP, port) endpoint,
	// within the swarm for infoHash, and returns the swarm's stats
	// immediately afterward. An event of Stopped removes the peer instead
	// of inserting it. A Completed event increments the swarm's
	// CompletedCount.
	UpsertPeer(infoHash bittorrent.InfoHash, p bittorrent.Peer, now time.Time) (SwarmStats, error)

	// SamplePeers returns up to limit peers from the swarm for infoHash,
	// excluding any peer whose endpoint matches exclude. When the swarm
	// holds more than limit peers, the sample is drawn starting at a
	// per-call rotating offset so that repeated announces for the same
	// swarm observe different peers.
	SamplePeers(infoHash bittorrent.InfoHash, limit int, exclude bittorrent.Peer, now time.Time) ([]bittorrent.Peer, error)

	// Stats returns the current SwarmStats for infoHash without mutating
	// anything. An unknown info-hash reports a zero SwarmStats rather than
	// an error, and does not create an entry.
	Stats(infoHash bittorrent.InfoHash) SwarmStats

	// TorrentsCount reports the number of swarms currently tracked,
	// including empty ones that have not yet been collected.
	TorrentsCount() int

	// Expire removes every peer whose now - lastSeen exceeds peerTTL, and
	// then removes any swarm that becomes empty as a result, unless the
	// swarm is pinned (see Pin/Unpin below).
	Expire(now time.Time, peerTTL time.Duration)

	// Pin marks infoHash so that Expire will not delete its swarm entry
	// even while empty; used by WhitelistStore-backed modes so a
	// whitelisted, not-yet-announced info-hash survives cleanup.
	Pin(infoHash bittorrent.InfoHash)

	// Unpin reverses Pin.
	Unpin(infoHash bittorrent.InfoHash)

	// ListTorrents is the read-only management introspection hook from
	// §6: it pages through the known info-hashes in an unspecified but
	// stable order.
	ListTorrents(offset, limit int) ([]bittorrent.InfoHash, error)

	// LogFields renders the store's configuration as loggable fields.
	LogFields() log.Fields

	stop.Stopper
}

// Driver constructs a PeerStore from a driver-specific configuration value,
// following the same registry pattern as database/sql.
type Driver interface {
	NewPeerStore(cfg interface{}) (PeerStore, error)
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// RegisterDriver makes a PeerStore driver available by name. It panics if
// called twice with the same name, or if driver is nil.
func RegisterDriver(name string, d Driver) {
	if name == "" {
		panic("storage: could not register a Driver with an empty name")
	}
	if d == nil {
		panic("storage: could not register a nil Driver")
	}

	driversMu.Lock()
	defer driversMu.Unlock()

	if _, dup := drivers[name]; dup {
		panic("storage: RegisterDriver called twice for driver " + name)
	}
	drivers[name] = d
}

// NewPeerStore constructs a PeerStore from the named, previously registered
// Driver, passing it cfg to decode into its own Config type.
func NewPeerStore(name string, cfg interface{}) (PeerStore, error) {
	driversMu.RLock()
	d, ok := drivers[name]
	driversMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("storage: unknown driver %q (forgotten import?)", name)
	}

	return d.NewPeerStore(cfg)
}
