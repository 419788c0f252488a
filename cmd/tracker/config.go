package main

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/rifttrack/tracker/frontend/udp"
	"github.com/rifttrack/tracker/middleware"
	"github.com/rifttrack/tracker/storage"
	"github.com/rifttrack/tracker/storage/memory"
	"github.com/rifttrack/tracker/store/keystore"
	"github.com/rifttrack/tracker/store/keystore/memorystore"
	"github.com/rifttrack/tracker/store/keystore/redisstore"
	"github.com/rifttrack/tracker/store/keystore/sqlstore"
	"github.com/rifttrack/tracker/store/whitelist"
	whitelistmemory "github.com/rifttrack/tracker/store/whitelist/memorystore"
	"github.com/rifttrack/tracker/store/whitelist/boltstore"
)

// namedStoreConfig is the common shape of a pluggable store's YAML block:
// a driver name plus an opaque, driver-specific config payload that gets
// re-marshaled and decoded into the concrete Config type the named driver
// expects.
type namedStoreConfig struct {
	Name   string        `yaml:"name"`
	Config yaml.MapSlice `yaml:"config"`
}

// ConfigFile represents the namespaced YAML configuration file read by the
// tracker binary.
type ConfigFile struct {
	Tracker struct {
		middleware.Config `yaml:",inline"`

		PrometheusAddr string           `yaml:"prometheus_addr"`
		Debug          bool             `yaml:"debug"`
		UDPConfig      udp.Config       `yaml:"udp"`
		Storage        namedStoreConfig `yaml:"storage"`
		KeyStore       namedStoreConfig `yaml:"keystore"`
		Whitelist      namedStoreConfig `yaml:"whitelist"`
	} `yaml:"tracker"`
}

// ParseConfigFile returns a new ConfigFile given the path to a YAML
// configuration file.
//
// It supports relative and absolute paths and environment variables.
func ParseConfigFile(path string) (*ConfigFile, error) {
	if path == "" {
		return nil, errors.New("no config path specified")
	}

	f, err := os.Open(os.ExpandEnv(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	contents, err := ioutil.ReadAll(f)
	if err != nil {
		return nil, err
	}

	var cfgFile ConfigFile
	if err := yaml.Unmarshal(contents, &cfgFile); err != nil {
		return nil, err
	}

	return &cfgFile, nil
}

// CreatePeerStore builds the storage.PeerStore named by cfg.Tracker.Storage,
// defaulting to the in-memory driver when none is configured.
func (cfg ConfigFile) CreatePeerStore() (storage.PeerStore, error) {
	raw, err := yaml.Marshal(&cfg.Tracker.Storage.Config)
	if err != nil {
		return nil, err
	}

	name := cfg.Tracker.Storage.Name
	if name == "" {
		name = memory.Name
	}

	switch name {
	case memory.Name:
		var mcfg memory.Config
		if err := yaml.Unmarshal(raw, &mcfg); err != nil {
			return nil, err
		}
		return storage.NewPeerStore(memory.Name, mcfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", name)
	}
}

// CreateKeyStore builds the middleware.KeyStore named by
// cfg.Tracker.KeyStore, or nil when the tracker mode doesn't require one.
func (cfg ConfigFile) CreateKeyStore() (middleware.KeyStore, error) {
	if cfg.Tracker.Mode != middleware.ModePrivate && cfg.Tracker.Mode != middleware.ModePrivateListed {
		return nil, nil
	}
	if cfg.Tracker.KeyStore.Name == "" {
		return nil, fmt.Errorf("tracker mode %s requires a keystore", cfg.Tracker.Mode)
	}

	raw, err := yaml.Marshal(&cfg.Tracker.KeyStore.Config)
	if err != nil {
		return nil, err
	}

	switch cfg.Tracker.KeyStore.Name {
	case memorystore.Name:
		return keystore.New(memorystore.Name, nil)
	case redisstore.Name:
		var rcfg redisstore.Config
		if err := yaml.Unmarshal(raw, &rcfg); err != nil {
			return nil, err
		}
		return keystore.New(redisstore.Name, rcfg)
	case sqlstore.Name:
		var scfg sqlstore.Config
		if err := yaml.Unmarshal(raw, &scfg); err != nil {
			return nil, err
		}
		return keystore.New(sqlstore.Name, scfg)
	default:
		return nil, fmt.Errorf("unknown keystore driver %q", cfg.Tracker.KeyStore.Name)
	}
}

// CreateWhitelistStore builds the middleware.WhitelistStore named by
// cfg.Tracker.Whitelist, or nil when the tracker mode doesn't require one.
func (cfg ConfigFile) CreateWhitelistStore() (middleware.WhitelistStore, error) {
	if cfg.Tracker.Mode != middleware.ModeListed && cfg.Tracker.Mode != middleware.ModePrivateListed {
		return nil, nil
	}
	if cfg.Tracker.Whitelist.Name == "" {
		return nil, fmt.Errorf("tracker mode %s requires a whitelist", cfg.Tracker.Mode)
	}

	raw, err := yaml.Marshal(&cfg.Tracker.Whitelist.Config)
	if err != nil {
		return nil, err
	}

	switch cfg.Tracker.Whitelist.Name {
	case whitelistmemory.Name:
		return whitelist.New(whitelistmemory.Name, nil)
	case boltstore.Name:
		var bcfg boltstore.Config
		if err := yaml.Unmarshal(raw, &bcfg); err != nil {
			return nil, err
		}
		return whitelist.New(boltstore.Name, bcfg)
	default:
		return nil, fmt.Errorf("unknown whitelist driver %q", cfg.Tracker.Whitelist.Name)
	}
}
