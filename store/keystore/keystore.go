// Package keystore collects the pluggable KeyStore backends consumed by a
// Private or PrivateListed tracker, following the same driver-registry
// pattern as the storage package.
package keystore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rifttrack/tracker/middleware"
)

// Driver constructs a middleware.KeyStore from a driver-specific
// configuration value.
type Driver interface {
	NewKeyStore(cfg interface{}) (middleware.KeyStore, error)
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// RegisterDriver makes a KeyStore driver available by name. It panics if
// called twice with the same name, or if driver is nil.
func RegisterDriver(name string, d Driver) {
	if name == "" {
		panic("keystore: could not register a Driver with an empty name")
	}
	if d == nil {
		panic("keystore: could not register a nil Driver")
	}

	driversMu.Lock()
	defer driversMu.Unlock()

	if _, dup := drivers[name]; dup {
		panic("keystore: RegisterDriver called twice for driver " + name)
	}
	drivers[name] = d
}

// ErrKeyNotFound is returned by a KeyStore when a removal targets a key
// that isn't present. IsValid reports an unknown key as invalid rather than
// returning this error.
var ErrKeyNotFound = errors.New("keystore: key not found")

// New constructs a middleware.KeyStore from the named, previously
// registered Driver, passing it cfg to decode into its own Config type.
func New(name string, cfg interface{}) (middleware.KeyStore, error) {
	driversMu.RLock()
	d, ok := drivers[name]
	driversMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("keystore: unknown driver %q (forgotten import?)", name)
	}

	return d.NewKeyStore(cfg)
}
