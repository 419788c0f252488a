// Package boltstore implements an embedded, on-disk WhitelistStore backed
// by bbolt, so a whitelist survives process restarts without an external
// database.
package boltstore

import (
	"context"

	"go.etcd.io/bbolt"

	"github.com/rifttrack/tracker/bittorrent"
	"github.com/rifttrack/tracker/middleware"
	"github.com/rifttrack/tracker/pkg/log"
	"github.com/rifttrack/tracker/store/whitelist"
)

// Name is the name by which this WhitelistStore driver is registered.
const Name = "bolt"

func init() {
	whitelist.RegisterDriver(Name, driver{})
}

type driver struct{}

func (driver) NewWhitelistStore(icfg interface{}) (middleware.WhitelistStore, error) {
	cfg, ok := icfg.(Config)
	if !ok {
		return nil, boltConfigError("boltstore: invalid config passed to driver")
	}
	return New(cfg)
}

type boltConfigError string

func (e boltConfigError) Error() string { return string(e) }

// Config holds the configuration of a bolt-backed WhitelistStore.
type Config struct {
	Path string `yaml:"path"`
}

// LogFields implements log.Fielder for Config.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{"path": cfg.Path}
}

var bucketName = []byte("whitelist")

// New opens (creating if necessary) the bolt database at cfg.Path and
// returns a WhitelistStore backed by it.
func New(cfg Config) (middleware.WhitelistStore, error) {
	db, err := bbolt.Open(cfg.Path, 0o600, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &whitelistStore{db: db}, nil
}

type whitelistStore struct {
	db *bbolt.DB
}

var _ middleware.WhitelistStore = &whitelistStore{}

func (s *whitelistStore) AddInfoHash(_ context.Context, ih bittorrent.InfoHash) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put(ih[:], []byte{1})
	})
}

func (s *whitelistStore) RemoveInfoHash(_ context.Context, ih bittorrent.InfoHash) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Delete(ih[:])
	})
}

func (s *whitelistStore) HasInfoHash(_ context.Context, ih bittorrent.InfoHash) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(bucketName).Get(ih[:]) != nil
		return nil
	})
	return found, err
}

// Close releases the underlying bolt database handle.
func (s *whitelistStore) Close() error {
	return s.db.Close()
}
