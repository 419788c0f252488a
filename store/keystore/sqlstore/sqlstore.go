// Package sqlstore implements a KeyStore backed by gorm, so auth keys can
// be persisted to SQLite instead of living only in process memory. New
// always opens the DSN with gorm's SQLite driver.
package sqlstore

import (
	"context"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/rifttrack/tracker/bittorrent"
	"github.com/rifttrack/tracker/middleware"
	"github.com/rifttrack/tracker/pkg/log"
	"github.com/rifttrack/tracker/store/keystore"
)

// Name is the name by which this KeyStore driver is registered.
const Name = "sql"

func init() {
	keystore.RegisterDriver(Name, driver{})
}

type driver struct{}

func (driver) NewKeyStore(icfg interface{}) (middleware.KeyStore, error) {
	cfg, ok := icfg.(Config)
	if !ok {
		return nil, sqlConfigError("sqlstore: invalid config passed to driver")
	}
	return New(cfg)
}

type sqlConfigError string

func (e sqlConfigError) Error() string { return string(e) }

// Config holds the configuration of a gorm-backed KeyStore.
type Config struct {
	// DSN is the SQLite data source name, e.g. "file:keys.db" or
	// ":memory:" for an ephemeral, process-lifetime store.
	DSN string `yaml:"dsn"`
}

// LogFields implements log.Fielder for Config.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{"dsn": cfg.DSN}
}

// authKeyRow is the gorm model an AuthKey is persisted as.
type authKeyRow struct {
	Key        string `gorm:"primaryKey"`
	ValidUntil time.Time
	HasExpiry  bool
}

// New opens cfg.DSN and returns a KeyStore backed by it, migrating the
// schema if necessary.
func New(cfg Config) (middleware.KeyStore, error) {
	db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&authKeyRow{}); err != nil {
		return nil, err
	}

	return &keyStore{db: db}, nil
}

type keyStore struct {
	db *gorm.DB
}

var _ middleware.KeyStore = &keyStore{}

func (s *keyStore) AddKey(ctx context.Context, key bittorrent.AuthKey) error {
	row := authKeyRow{Key: key.Key, ValidUntil: key.ValidUntil, HasExpiry: key.HasExpiry}
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *keyStore) RemoveKey(ctx context.Context, key string) error {
	result := s.db.WithContext(ctx).Delete(&authKeyRow{}, "key = ?", key)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return keystore.ErrKeyNotFound
	}
	return nil
}

func (s *keyStore) IsValid(ctx context.Context, key string, now time.Time) (bool, error) {
	var row authKeyRow
	err := s.db.WithContext(ctx).First(&row, "key = ?", key).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, err
	}

	return !(row.HasExpiry && now.After(row.ValidUntil)), nil
}
