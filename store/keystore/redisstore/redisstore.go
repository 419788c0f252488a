// Package redisstore implements a Redis-backed KeyStore using redigo,
// storing each key as a hash of {validUntil, hasExpiry} under a shared
// key-space prefix so multiple tracker processes can share one KeyStore.
package redisstore

import (
	"context"
	"strconv"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/rifttrack/tracker/bittorrent"
	"github.com/rifttrack/tracker/middleware"
	"github.com/rifttrack/tracker/pkg/log"
	"github.com/rifttrack/tracker/store/keystore"
)

// Name is the name by which this KeyStore driver is registered.
const Name = "redis"

func init() {
	keystore.RegisterDriver(Name, driver{})
}

type driver struct{}

func (driver) NewKeyStore(icfg interface{}) (middleware.KeyStore, error) {
	cfg, ok := icfg.(Config)
	if !ok {
		return nil, errInvalidConfig
	}
	return New(cfg)
}

var errInvalidConfig = redisConfigError("redisstore: invalid config passed to driver")

type redisConfigError string

func (e redisConfigError) Error() string { return string(e) }

// Config holds the configuration of a Redis-backed KeyStore.
type Config struct {
	Addr      string `yaml:"addr"`
	KeyPrefix string `yaml:"key_prefix"`
}

// LogFields implements log.Fielder for Config.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{"addr": cfg.Addr, "keyPrefix": cfg.KeyPrefix}
}

const defaultKeyPrefix = "tracker:keys:"

// New dials addr and returns a KeyStore backed by it.
func New(cfg Config) (middleware.KeyStore, error) {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	pool := &redis.Pool{
		MaxIdle:     8,
		IdleTimeout: 5 * time.Minute,
		Dial:        func() (redis.Conn, error) { return redis.Dial("tcp", cfg.Addr) },
	}

	conn := pool.Get()
	defer conn.Close()
	if _, err := conn.Do("PING"); err != nil {
		return nil, err
	}

	return &keyStore{pool: pool, prefix: prefix}, nil
}

type keyStore struct {
	pool   *redis.Pool
	prefix string
}

var _ middleware.KeyStore = &keyStore{}

func (s *keyStore) redisKey(key string) string { return s.prefix + key }

func (s *keyStore) AddKey(_ context.Context, key bittorrent.AuthKey) error {
	conn := s.pool.Get()
	defer conn.Close()

	hasExpiry := "0"
	if key.HasExpiry {
		hasExpiry = "1"
	}

	_, err := conn.Do("HSET", s.redisKey(key.Key),
		"validUntil", strconv.FormatInt(key.ValidUntil.Unix(), 10),
		"hasExpiry", hasExpiry,
	)
	return err
}

func (s *keyStore) RemoveKey(_ context.Context, key string) error {
	conn := s.pool.Get()
	defer conn.Close()

	n, err := redis.Int(conn.Do("DEL", s.redisKey(key)))
	if err != nil {
		return err
	}
	if n == 0 {
		return keystore.ErrKeyNotFound
	}
	return nil
}

func (s *keyStore) IsValid(_ context.Context, key string, now time.Time) (bool, error) {
	conn := s.pool.Get()
	defer conn.Close()

	values, err := redis.StringMap(conn.Do("HGETALL", s.redisKey(key)))
	if err != nil {
		return false, err
	}
	if len(values) == 0 {
		return false, nil
	}

	if values["hasExpiry"] != "1" {
		return true, nil
	}

	validUntil, err := strconv.ParseInt(values["validUntil"], 10, 64)
	if err != nil {
		return false, err
	}

	return !now.After(time.Unix(validUntil, 0)), nil
}
