package middleware

import (
	"context"
	"time"

	"github.com/rifttrack/tracker/bittorrent"
)

// Clock is injected wall-clock access, per §6, so that tests can advance
// time instead of depending on the real clock.
type Clock interface {
	Now() time.Time
}

// systemClock is the production Clock, backed directly by time.Now().
type systemClock struct{}

// Now implements Clock.
func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the default Clock used outside of tests.
var SystemClock Clock = systemClock{}

// KeyStore is the port a Private or PrivateListed tracker consults to
// validate and manage AuthKeys, per §6.
type KeyStore interface {
	// AddKey makes key valid for announces. A key with HasExpiry false
	// never expires until explicitly removed.
	AddKey(ctx context.Context, key bittorrent.AuthKey) error

	// RemoveKey invalidates key immediately.
	RemoveKey(ctx context.Context, key string) error

	// IsValid reports whether key is known and not expired as of now.
	IsValid(ctx context.Context, key string, now time.Time) (bool, error)
}

// WhitelistStore is the port a Listed or PrivateListed tracker consults to
// decide whether an info-hash may be announced on, per §6.
type WhitelistStore interface {
	// AddInfoHash whitelists infoHash.
	AddInfoHash(ctx context.Context, infoHash bittorrent.InfoHash) error

	// RemoveInfoHash removes infoHash from the whitelist.
	RemoveInfoHash(ctx context.Context, infoHash bittorrent.InfoHash) error

	// HasInfoHash reports whether infoHash is currently whitelisted.
	HasInfoHash(ctx context.Context, infoHash bittorrent.InfoHash) (bool, error)
}

// MetricsSink is the narrow observability port consumed by the core, per
// §6: numeric counters and gauges only, with no opinion on backend.
type MetricsSink interface {
	// Incr adds n to the named counter.
	Incr(counter string, n int64)

	// Set assigns v to the named gauge.
	Set(gauge string, v float64)
}
