// Package memory implements storage.PeerStore, the concurrent in-memory
// repository described in §4.C: a sharded hash map from InfoHash to Swarm,
// each Swarm holding its own ordered peer table behind a per-swarm mutex.
package memory

import (
	"encoding/binary"
	"net"
	"runtime"
	"sort"
	"sync"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/rifttrack/tracker/bittorrent"
	"github.com/rifttrack/tracker/pkg/log"
	"github.com/rifttrack/tracker/pkg/stop"
	"github.com/rifttrack/tracker/storage"
)

// Name is the name by which this peer store is registered.
const Name = "memory"

// Default config constants. GarbageCollectionInterval and PeerLifetime
// default to the cleanup_interval/peer_ttl values from §6; ShardCount and
// PrometheusReportingInterval are ambient tuning knobs with no spec default.
const (
	defaultShardCount                  = 1024
	defaultPrometheusReportingInterval = time.Second * 1
	defaultGarbageCollectionInterval   = time.Second * 120
	defaultPeerLifetime                = time.Second * 3600
)

func init() {
	storage.RegisterDriver(Name, driver{})
}

type driver struct{}

func (d driver) NewPeerStore(icfg interface{}) (storage.PeerStore, error) {
	bytes, err := yaml.Marshal(icfg)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return nil, err
	}

	return New(cfg)
}

// Config holds the configuration of a memory PeerStore.
type Config struct {
	GarbageCollectionInterval   time.Duration `yaml:"cleanup_interval"`
	PrometheusReportingInterval time.Duration `yaml:"prometheus_reporting_interval"`
	PeerLifetime                time.Duration `yaml:"peer_ttl"`
	ShardCount                  int           `yaml:"shard_count"`
}

// LogFields renders the current config as a set of loggable fields.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{
		"name":               Name,
		"gcInterval":         cfg.GarbageCollectionInterval,
		"promReportInterval": cfg.PrometheusReportingInterval,
		"peerLifetime":       cfg.PeerLifetime,
		"shardCount":         cfg.ShardCount,
	}
}

// Validate sanity checks values set in a config and returns a new config
// with default values replacing anything invalid, warning to the logger
// whenever it does so.
func (cfg Config) Validate() Config {
	validcfg := cfg

	if cfg.ShardCount <= 0 {
		validcfg.ShardCount = defaultShardCount
		log.Warn("falling back to default configuration", log.Fields{
			"name":     Name + ".ShardCount",
			"provided": cfg.ShardCount,
			"default":  validcfg.ShardCount,
		})
	}

	if cfg.GarbageCollectionInterval <= 0 {
		validcfg.GarbageCollectionInterval = defaultGarbageCollectionInterval
		log.Warn("falling back to default configuration", log.Fields{
			"name":     Name + ".GarbageCollectionInterval",
			"provided": cfg.GarbageCollectionInterval,
			"default":  validcfg.GarbageCollectionInterval,
		})
	}

	if cfg.PrometheusReportingInterval <= 0 {
		validcfg.PrometheusReportingInterval = defaultPrometheusReportingInterval
		log.Warn("falling back to default configuration", log.Fields{
			"name":     Name + ".PrometheusReportingInterval",
			"provided": cfg.PrometheusReportingInterval,
			"default":  validcfg.PrometheusReportingInterval,
		})
	}

	if cfg.PeerLifetime <= 0 {
		validcfg.PeerLifetime = defaultPeerLifetime
		log.Warn("falling back to default configuration", log.Fields{
			"name":     Name + ".PeerLifetime",
			"provided": cfg.PeerLifetime,
			"default":  validcfg.PeerLifetime,
		})
	}

	return validcfg
}

// New creates a new PeerStore backed by memory.
func New(provided Config) (storage.PeerStore, error) {
	cfg := provided.Validate()
	ps := &peerStore{
		cfg:    cfg,
		shards: make([]*peerShard, cfg.ShardCount),
		closed: make(chan struct{}),
	}

	for i := 0; i < cfg.ShardCount; i++ {
		ps.shards[i] = &peerShard{swarms: make(map[bittorrent.InfoHash]*swarm)}
	}

	ps.wg.Add(1)
	go func() {
		defer ps.wg.Done()
		for {
			select {
			case <-ps.closed:
				return
			case <-time.After(cfg.GarbageCollectionInterval):
				before := time.Now().Add(-cfg.PeerLifetime)
				log.Debug("storage: purging peers with no announces since", log.Fields{"before": before})
				ps.Expire(time.Now(), cfg.PeerLifetime)
			}
		}
	}()

	ps.wg.Add(1)
	go func() {
		defer ps.wg.Done()
		t := time.NewTicker(cfg.PrometheusReportingInterval)
		defer t.Stop()
		for {
			select {
			case <-ps.closed:
				return
			case <-t.C:
				before := time.Now()
				ps.populateProm()
				log.Debug("storage: populateProm() finished", log.Fields{"timeTaken": time.Since(before)})
			}
		}
	}()

	return ps, nil
}

// serializedPeer is the on-the-wire encoding of a PeerKey (endpoint only:
// IP + port), used both as the map key and as the stable per-swarm
// iteration token. peer_id deliberately plays no part in it, per §3: a
// re-announce from the same (ip, port) replaces the prior entry rather
// than creating a second one.
type serializedPeer string

func newPeerKey(p bittorrent.Peer) serializedPeer {
	b := make([]byte, 2+len(p.IP.IP))
	binary.BigEndian.PutUint16(b[:2], p.Port)
	copy(b[2:], p.IP.IP)
	return serializedPeer(b)
}

func decodePeerKey(pk serializedPeer, rec peerRecord) bittorrent.Peer {
	p := rec.peer
	p.Port = binary.BigEndian.Uint16([]byte(pk[:2]))
	p.IP = bittorrent.IP{IP: net.IP(pk[2:])}

	if ip := p.IP.To4(); ip != nil {
		p.IP.IP = ip
		p.IP.AddressFamily = bittorrent.IPv4
	} else if len(p.IP.IP) == net.IPv6len {
		p.IP.AddressFamily = bittorrent.IPv6
	}

	return p
}

// peerRecord is one entry in a swarm: the full peer as last announced, plus
// the monotonic last-seen time used by Expire.
type peerRecord struct {
	peer     bittorrent.Peer
	lastSeen int64 // unix nanoseconds
}

// swarm is the ordered PeerKey -> Peer mapping for a single info-hash, per
// §3. order records insertion order and is used as the stable base
// sequence that SamplePeers rotates over; removals preserve the relative
// order of the peers that remain.
type swarm struct {
	mu             sync.Mutex
	peers          map[serializedPeer]*peerRecord
	order          []serializedPeer
	completedCount uint64
	pinned         bool
}

// statsLocked derives (seeders, leechers) at read time from Left == 0, per
// §3 ("seeders and leechers are derived at read time"), rather than
// maintaining running counters that could drift from the peer table.
func (sw *swarm) statsLocked() storage.SwarmStats {
	var seeders, leechers uint32
	for _, rec := range sw.peers {
		if rec.peer.Seeder() {
			seeders++
		} else {
			leechers++
		}
	}
	return storage.SwarmStats{
		Seeders:        seeders,
		Leechers:       leechers,
		CompletedCount: sw.completedCount,
	}
}

func (sw *swarm) removeFromOrder(pk serializedPeer) {
	for i, k := range sw.order {
		if k == pk {
			sw.order = append(sw.order[:i], sw.order[i+1:]...)
			return
		}
	}
}

// peerShard guards the existence of swarms for one bucket of info-hashes.
// Mutation of an individual swarm's peer table happens under that swarm's
// own mutex instead, so announces against different (already-existing)
// swarms in the same shard never contend with each other.
type peerShard struct {
	sync.RWMutex
	swarms map[bittorrent.InfoHash]*swarm
}

type peerStore struct {
	cfg    Config
	shards []*peerShard

	closed chan struct{}
	wg     sync.WaitGroup
}

var _ storage.PeerStore = &peerStore{}

func (ps *peerStore) shardFor(ih bittorrent.InfoHash) *peerShard {
	idx := binary.BigEndian.Uint32(ih[:4]) % uint32(len(ps.shards))
	return ps.shards[idx]
}

// getSwarm looks up the swarm for ih, optionally creating it. Lookups take
// only the shard's read lock; creation upgrades to the write lock and
// re-checks, so the common case of an already-existing swarm never blocks
// other readers.
func (ps *peerStore) getSwarm(shard *peerShard, ih bittorrent.InfoHash, create bool) (*swarm, bool) {
	shard.RLock()
	sw, ok := shard.swarms[ih]
	shard.RUnlock()
	if ok || !create {
		return sw, ok
	}

	shard.Lock()
	defer shard.Unlock()
	sw, ok = shard.swarms[ih]
	if !ok {
		sw = &swarm{peers: make(map[serializedPeer]*peerRecord)}
		shard.swarms[ih] = sw
	}
	return sw, true
}

// deleteIfEmpty removes sw from the shard's map if it has become empty and
// unpinned, double-checking under the shard's write lock since another
// goroutine may have repopulated it between the caller's read and here.
func (ps *peerStore) deleteIfEmpty(shard *peerShard, ih bittorrent.InfoHash, sw *swarm) {
	shard.Lock()
	defer shard.Unlock()

	cur, ok := shard.swarms[ih]
	if !ok || cur != sw {
		return
	}

	cur.mu.Lock()
	empty := len(cur.peers) == 0 && !cur.pinned
	cur.mu.Unlock()

	if empty {
		delete(shard.swarms, ih)
	}
}

// UpsertPeer implements storage.PeerStore.
func (ps *peerStore) UpsertPeer(ih bittorrent.InfoHash, p bittorrent.Peer, now time.Time) (storage.SwarmStats, error) {
	select {
	case <-ps.closed:
		panic("attempted to interact with stopped memory store")
	default:
	}

	shard := ps.shardFor(ih)
	sw, _ := ps.getSwarm(shard, ih, true)
	pk := newPeerKey(p)

	sw.mu.Lock()
	if p.Event == bittorrent.Stopped {
		if _, exists := sw.peers[pk]; exists {
			delete(sw.peers, pk)
			sw.removeFromOrder(pk)
		}
	} else {
		if _, exists := sw.peers[pk]; !exists {
			sw.order = append(sw.order, pk)
		}
		sw.peers[pk] = &peerRecord{peer: p, lastSeen: now.UnixNano()}

		if p.Event == bittorrent.Completed {
			sw.completedCount++
		}
	}
	stats := sw.statsLocked()
	empty := len(sw.peers) == 0
	sw.mu.Unlock()

	if empty {
		ps.deleteIfEmpty(shard, ih, sw)
	}

	return stats, nil
}

// SamplePeers implements storage.PeerStore. It scans the swarm's stable
// insertion order starting at a rotating offset derived from now, so
// repeated announces for a popular swarm fan out across its members
// instead of always handing back the same prefix.
func (ps *peerStore) SamplePeers(ih bittorrent.InfoHash, limit int, exclude bittorrent.Peer, now time.Time) ([]bittorrent.Peer, error) {
	select {
	case <-ps.closed:
		panic("attempted to interact with stopped memory store")
	default:
	}

	shard := ps.shardFor(ih)
	sw, ok := ps.getSwarm(shard, ih, false)
	if !ok {
		return nil, storage.ErrResourceDoesNotExist
	}

	excludeKey := newPeerKey(exclude)

	sw.mu.Lock()
	defer sw.mu.Unlock()

	n := len(sw.order)
	if n == 0 || limit <= 0 {
		return nil, nil
	}

	offset := int(uint64(now.UnixNano()) % uint64(n))
	peers := make([]bittorrent.Peer, 0, limit)
	for i := 0; i < n && len(peers) < limit; i++ {
		pk := sw.order[(offset+i)%n]
		if pk == excludeKey {
			continue
		}
		rec, ok := sw.peers[pk]
		if !ok {
			continue
		}
		peers = append(peers, decodePeerKey(pk, *rec))
	}

	return peers, nil
}

// Stats implements storage.PeerStore. An unknown info-hash reports a zero
// SwarmStats and does not create an entry, per §4.C.
func (ps *peerStore) Stats(ih bittorrent.InfoHash) storage.SwarmStats {
	shard := ps.shardFor(ih)
	sw, ok := ps.getSwarm(shard, ih, false)
	if !ok {
		return storage.SwarmStats{}
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.statsLocked()
}

// TorrentsCount implements storage.PeerStore.
func (ps *peerStore) TorrentsCount() int {
	var n int
	for _, shard := range ps.shards {
		shard.RLock()
		n += len(shard.swarms)
		shard.RUnlock()
	}
	return n
}

// Pin implements storage.PeerStore.
func (ps *peerStore) Pin(ih bittorrent.InfoHash) {
	shard := ps.shardFor(ih)
	sw, _ := ps.getSwarm(shard, ih, true)
	sw.mu.Lock()
	sw.pinned = true
	sw.mu.Unlock()
}

// Unpin implements storage.PeerStore.
func (ps *peerStore) Unpin(ih bittorrent.InfoHash) {
	shard := ps.shardFor(ih)
	sw, ok := ps.getSwarm(shard, ih, false)
	if !ok {
		return
	}

	sw.mu.Lock()
	sw.pinned = false
	empty := len(sw.peers) == 0
	sw.mu.Unlock()

	if empty {
		ps.deleteIfEmpty(shard, ih, sw)
	}
}

// ListTorrents implements storage.PeerStore, the read-only management
// introspection hook from §6.
func (ps *peerStore) ListTorrents(offset, limit int) ([]bittorrent.InfoHash, error) {
	var all []bittorrent.InfoHash
	for _, shard := range ps.shards {
		shard.RLock()
		for ih := range shard.swarms {
			all = append(all, ih)
		}
		shard.RUnlock()
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].String() < all[j].String()
	})

	if offset >= len(all) {
		return nil, nil
	}

	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}

	return all[offset:end], nil
}

// populateProm aggregates metrics over all shards and posts them to
// Prometheus.
func (ps *peerStore) populateProm() {
	var numInfohashes uint64
	var numSeeders, numLeechers uint64

	for _, shard := range ps.shards {
		shard.RLock()
		numInfohashes += uint64(len(shard.swarms))
		for _, sw := range shard.swarms {
			sw.mu.Lock()
			stats := sw.statsLocked()
			sw.mu.Unlock()
			numSeeders += uint64(stats.Seeders)
			numLeechers += uint64(stats.Leechers)
		}
		shard.RUnlock()
	}

	storage.PromInfohashesCount.Set(float64(numInfohashes))
	storage.PromSeedersCount.Set(float64(numSeeders))
	storage.PromLeechersCount.Set(float64(numLeechers))
}

func recordGCDuration(duration time.Duration) {
	storage.PromGCDurationMilliseconds.Observe(float64(duration.Nanoseconds()) / float64(time.Millisecond))
}

// Expire implements storage.PeerStore. It removes peers idle for longer
// than peerTTL and then drops any swarm that becomes empty and is not
// pinned, yielding the processor between shards (and between swarms within
// a shard) so a long sweep doesn't starve concurrent announces, mirroring
// the reference store's garbage collector.
func (ps *peerStore) Expire(now time.Time, peerTTL time.Duration) {
	select {
	case <-ps.closed:
		return
	default:
	}

	cutoff := now.Add(-peerTTL).UnixNano()
	start := time.Now()

	for _, shard := range ps.shards {
		shard.RLock()
		var hashes []bittorrent.InfoHash
		for ih := range shard.swarms {
			hashes = append(hashes, ih)
		}
		shard.RUnlock()
		runtime.Gosched()

		for _, ih := range hashes {
			shard.RLock()
			sw, ok := shard.swarms[ih]
			shard.RUnlock()
			if !ok {
				continue
			}

			sw.mu.Lock()
			for pk, rec := range sw.peers {
				if rec.lastSeen < cutoff {
					delete(sw.peers, pk)
					sw.removeFromOrder(pk)
				}
			}
			empty := len(sw.peers) == 0 && !sw.pinned
			sw.mu.Unlock()

			if empty {
				ps.deleteIfEmpty(shard, ih, sw)
			}

			runtime.Gosched()
		}
	}

	recordGCDuration(time.Since(start))
}

func (ps *peerStore) Stop() stop.Result {
	c := make(stop.Channel)
	go func() {
		close(ps.closed)
		ps.wg.Wait()

		shards := make([]*peerShard, len(ps.shards))
		for i := range shards {
			shards[i] = &peerShard{swarms: make(map[bittorrent.InfoHash]*swarm)}
		}
		ps.shards = shards

		c.Done()
	}()

	return c.Result()
}

func (ps *peerStore) LogFields() log.Fields {
	return ps.cfg.LogFields()
}
