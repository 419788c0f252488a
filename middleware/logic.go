package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/rifttrack/tracker/bittorrent"
	"github.com/rifttrack/tracker/frontend"
	"github.com/rifttrack/tracker/pkg/log"
	"github.com/rifttrack/tracker/pkg/stop"
	"github.com/rifttrack/tracker/storage"
)

// Mode selects the tracker-mode policy applied to every Announce, per the
// mode table: whether a new info-hash may be created on announce, and
// whether an unexpired auth key is required.
type Mode uint8

const (
	// ModePublic allows any info-hash and requires no auth key.
	ModePublic Mode = iota

	// ModeListed allows announces only for whitelisted info-hashes.
	ModeListed

	// ModePrivate requires an unexpired auth key, but allows any info-hash.
	ModePrivate

	// ModePrivateListed requires both an unexpired auth key and a
	// whitelisted info-hash.
	ModePrivateListed
)

// String implements fmt.Stringer for a Mode.
func (m Mode) String() string {
	switch m {
	case ModePublic:
		return "public"
	case ModeListed:
		return "listed"
	case ModePrivate:
		return "private"
	case ModePrivateListed:
		return "private_listed"
	default:
		return "unknown"
	}
}

// UnmarshalYAML implements yaml.Unmarshaler, so a Mode can be configured
// using the names from String rather than its raw integer value.
func (m *Mode) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	switch s {
	case "public", "":
		*m = ModePublic
	case "listed":
		*m = ModeListed
	case "private":
		*m = ModePrivate
	case "private_listed":
		*m = ModePrivateListed
	default:
		return fmt.Errorf("middleware: unknown tracker mode %q", s)
	}
	return nil
}

// ErrNotRegistered is returned when a mode requiring a whitelisted
// info-hash is announced for a hash that isn't whitelisted.
var ErrNotRegistered = bittorrent.ClientError("info_hash not registered.")

// ErrInvalidKey is returned when a mode requiring an auth key is announced
// without one, or with one that is unknown or expired.
var ErrInvalidKey = bittorrent.ClientError("invalid key.")

// Config holds the configuration used to build the tracker's response and
// select its mode policy.
type Config struct {
	AnnounceInterval time.Duration `yaml:"announce_interval"`
	Mode             Mode          `yaml:"mode"`
}

// LogFields implements log.Fielder for Config.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{
		"announceInterval": cfg.AnnounceInterval,
		"mode":             cfg.Mode.String(),
	}
}

// Validate sanity-checks cfg, filling in the default AnnounceInterval of
// 1800 seconds when it is unset.
func (cfg *Config) Validate() {
	if cfg.AnnounceInterval <= 0 {
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "AnnounceInterval",
			"default":  defaultAnnounceInterval,
			"provided": cfg.AnnounceInterval,
		})
		cfg.AnnounceInterval = defaultAnnounceInterval
	}
}

const defaultAnnounceInterval = 1800 * time.Second

var _ frontend.TrackerLogic = &Logic{}

// NewLogic creates a new instance of a TrackerLogic that applies the
// tracker-mode policy and then executes the provided middleware hooks. The
// swarm-interaction hook and then the response hook are always appended
// last to preHooks, so the announce is stored before the response's
// counters and peer list are read from the repository, and the response is
// fully populated before HandleAnnounce/HandleScrape return to the
// frontend. Mode rejection happens in checkMode, before any hook runs, so a
// rejected announce never touches the repository.
func NewLogic(cfg Config, peerStore storage.PeerStore, keys KeyStore, whitelist WhitelistStore, metrics MetricsSink, clock Clock, preHooks, postHooks []Hook) *Logic {
	if clock == nil {
		clock = SystemClock
	}

	return &Logic{
		announceInterval: cfg.AnnounceInterval,
		mode:             cfg.Mode,
		peerStore:        peerStore,
		keys:             keys,
		whitelist:        whitelist,
		metrics:          metrics,
		clock:            clock,
		preHooks: append(append([]Hook{}, preHooks...),
			&swarmInteractionHook{store: peerStore, clock: clock},
			&responseHook{store: peerStore, clock: clock}),
		postHooks: append([]Hook{}, postHooks...),
	}
}

// Logic is an implementation of the TrackerLogic that applies the mode
// policy from §4.D and then delegates to a series of middleware hooks.
type Logic struct {
	announceInterval time.Duration
	mode             Mode
	peerStore        storage.PeerStore
	keys             KeyStore
	whitelist        WhitelistStore
	metrics          MetricsSink
	clock            Clock
	preHooks         []Hook
	postHooks        []Hook
}

// checkMode applies the tracker-mode policy to req, per the mode table:
// Listed and PrivateListed require req.InfoHash to be whitelisted, and
// Private and PrivateListed require req.Params to carry an unexpired key.
// A failing whitelist or key-store lookup is logged and reported as
// ErrNotRegistered or ErrInvalidKey respectively.
func (l *Logic) checkMode(ctx context.Context, req *bittorrent.AnnounceRequest) error {
	switch l.mode {
	case ModeListed, ModePrivateListed:
		if l.whitelist == nil {
			break
		}
		ok, err := l.whitelist.HasInfoHash(ctx, req.InfoHash)
		if err != nil {
			log.Error("whitelist lookup failed", log.Err(err))
			return ErrNotRegistered
		}
		if !ok {
			return ErrNotRegistered
		}
	}

	switch l.mode {
	case ModePrivate, ModePrivateListed:
		if l.keys == nil {
			break
		}
		key, ok := req.Params.String("key")
		if !ok {
			return ErrInvalidKey
		}
		valid, err := l.keys.IsValid(ctx, key, l.clock.Now())
		if err != nil {
			log.Error("key lookup failed", log.Err(err))
			return ErrInvalidKey
		}
		if !valid {
			return ErrInvalidKey
		}
	}

	return nil
}

// HandleAnnounce generates a response for an Announce.
func (l *Logic) HandleAnnounce(ctx context.Context, req *bittorrent.AnnounceRequest) (*bittorrent.AnnounceResponse, error) {
	if err := l.checkMode(ctx, req); err != nil {
		return nil, err
	}

	resp := &bittorrent.AnnounceResponse{
		Interval: l.announceInterval,
	}

	var err error
	for _, h := range l.preHooks {
		if ctx, err = h.HandleAnnounce(ctx, req, resp); err != nil {
			return nil, err
		}
	}

	log.Debug("generated announce response", log.Fields{"response": resp})
	return resp, nil
}

// AfterAnnounce runs the swarm-interaction and response hooks, mutating the
// repository and filling in the peer list and swarm counters.
func (l *Logic) AfterAnnounce(ctx context.Context, req *bittorrent.AnnounceRequest, resp *bittorrent.AnnounceResponse) {
	var err error
	for _, h := range l.postHooks {
		if ctx, err = h.HandleAnnounce(ctx, req, resp); err != nil {
			log.Error("post-announce hooks failed", log.Err(err))
			return
		}
	}

	if l.metrics != nil {
		l.metrics.Incr("announces", 1)
	}
}

// HandleScrape generates a response for a Scrape.
func (l *Logic) HandleScrape(ctx context.Context, req *bittorrent.ScrapeRequest) (*bittorrent.ScrapeResponse, error) {
	resp := &bittorrent.ScrapeResponse{
		Files: make([]bittorrent.Scrape, 0, len(req.InfoHashes)),
	}

	var err error
	for _, h := range l.preHooks {
		if ctx, err = h.HandleScrape(ctx, req, resp); err != nil {
			return nil, err
		}
	}

	log.Debug("generated scrape response", log.Fields{"response": resp})
	return resp, nil
}

// AfterScrape runs the post-scrape hooks.
func (l *Logic) AfterScrape(ctx context.Context, req *bittorrent.ScrapeRequest, resp *bittorrent.ScrapeResponse) {
	var err error
	for _, h := range l.postHooks {
		if ctx, err = h.HandleScrape(ctx, req, resp); err != nil {
			log.Error("post-scrape hooks failed", log.Err(err))
			return
		}
	}

	if l.metrics != nil {
		l.metrics.Incr("scrapes", 1)
	}
}

// Stop stops the Logic.
//
// This stops any hooks that implement stop.Stopper. The peer store is not
// stopped here.
func (l *Logic) Stop() stop.Result {
	stopGroup := stop.NewGroup()
	for _, hook := range l.preHooks {
		if stoppable, ok := hook.(stop.Stopper); ok {
			stopGroup.Add(stoppable)
		}
	}

	for _, hook := range l.postHooks {
		if stoppable, ok := hook.(stop.Stopper); ok {
			stopGroup.Add(stoppable)
		}
	}

	return stopGroup.Stop()
}
