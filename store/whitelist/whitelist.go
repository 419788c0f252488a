// Package whitelist collects the pluggable WhitelistStore backends
// consumed by a Listed or PrivateListed tracker, following the same
// driver-registry pattern as the storage package.
package whitelist

import (
	"fmt"
	"sync"

	"github.com/rifttrack/tracker/middleware"
)

// Driver constructs a middleware.WhitelistStore from a driver-specific
// configuration value.
type Driver interface {
	NewWhitelistStore(cfg interface{}) (middleware.WhitelistStore, error)
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// RegisterDriver makes a WhitelistStore driver available by name. It
// panics if called twice with the same name, or if driver is nil.
func RegisterDriver(name string, d Driver) {
	if name == "" {
		panic("whitelist: could not register a Driver with an empty name")
	}
	if d == nil {
		panic("whitelist: could not register a nil Driver")
	}

	driversMu.Lock()
	defer driversMu.Unlock()

	if _, dup := drivers[name]; dup {
		panic("whitelist: RegisterDriver called twice for driver " + name)
	}
	drivers[name] = d
}

// New constructs a middleware.WhitelistStore from the named, previously
// registered Driver, passing it cfg to decode into its own Config type.
func New(name string, cfg interface{}) (middleware.WhitelistStore, error) {
	driversMu.RLock()
	d, ok := drivers[name]
	driversMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("whitelist: unknown driver %q (forgotten import?)", name)
	}

	return d.NewWhitelistStore(cfg)
}
