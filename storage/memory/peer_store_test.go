package memory

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rifttrack/tracker/bittorrent"
	"github.com/rifttrack/tracker/storage"
)

func createNew(t *testing.T) storage.PeerStore {
	ps, err := New(Config{
		ShardCount:                  16,
		GarbageCollectionInterval:   10 * time.Minute,
		PrometheusReportingInterval: 10 * time.Minute,
		PeerLifetime:                30 * time.Minute,
	})
	require.NoError(t, err)
	return ps
}

func peerAt(ip string, port uint16, left uint64) bittorrent.Peer {
	p := bittorrent.Peer{
		ID:   bittorrent.PeerIDFromString("-TEST01-6wfG2wk6wWLc"),
		IP:   bittorrent.IP{IP: net.ParseIP(ip)},
		Port: port,
		Left: left,
	}
	if ip4 := p.IP.To4(); ip4 != nil {
		p.IP.IP = ip4
		p.IP.AddressFamily = bittorrent.IPv4
	} else {
		p.IP.AddressFamily = bittorrent.IPv6
	}
	return p
}

var infoHashA = bittorrent.InfoHashFromString("aaaaaaaaaaaaaaaaaaaa")

func TestUpsertPeerThenSample(t *testing.T) {
	ps := createNew(t)
	defer func() { <-ps.Stop() }()

	now := time.Now()
	p := peerAt("10.0.0.1", 6881, 100)
	p.Event = bittorrent.Started

	stats, err := ps.UpsertPeer(infoHashA, p, now)
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.Seeders)
	assert.EqualValues(t, 1, stats.Leechers)

	other := peerAt("10.0.0.2", 6882, 0)
	peers, err := ps.SamplePeers(infoHashA, 10, other, now)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.True(t, peers[0].EqualEndpoint(p))
}

func TestSamplePeersExcludesAnnouncer(t *testing.T) {
	ps := createNew(t)
	defer func() { <-ps.Stop() }()

	now := time.Now()
	announcer := peerAt("10.0.0.1", 6881, 0)
	other := peerAt("10.0.0.2", 6882, 0)

	_, err := ps.UpsertPeer(infoHashA, announcer, now)
	require.NoError(t, err)
	_, err = ps.UpsertPeer(infoHashA, other, now)
	require.NoError(t, err)

	peers, err := ps.SamplePeers(infoHashA, 10, announcer, now)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.True(t, peers[0].EqualEndpoint(other))
}

func TestStoppedRemovesPeer(t *testing.T) {
	ps := createNew(t)
	defer func() { <-ps.Stop() }()

	now := time.Now()
	p := peerAt("10.0.0.1", 6881, 50)
	_, err := ps.UpsertPeer(infoHashA, p, now)
	require.NoError(t, err)

	p.Event = bittorrent.Stopped
	stats, err := ps.UpsertPeer(infoHashA, p, now)
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.Seeders)
	assert.EqualValues(t, 0, stats.Leechers)

	assert.Equal(t, storage.SwarmStats{}, ps.Stats(infoHashA))
}

func TestCompletedIncrementsCounter(t *testing.T) {
	ps := createNew(t)
	defer func() { <-ps.Stop() }()

	now := time.Now()
	p := peerAt("10.0.0.1", 6881, 100)
	_, err := ps.UpsertPeer(infoHashA, p, now)
	require.NoError(t, err)

	p.Event = bittorrent.Completed
	p.Left = 0
	stats, err := ps.UpsertPeer(infoHashA, p, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.CompletedCount)
	assert.EqualValues(t, 1, stats.Seeders)
}

func TestScrapeUnknownInfoHashDoesNotCreateEntry(t *testing.T) {
	ps := createNew(t)
	defer func() { <-ps.Stop() }()

	stats := ps.Stats(bittorrent.InfoHashFromString("bbbbbbbbbbbbbbbbbbbb"))
	assert.Equal(t, storage.SwarmStats{}, stats)
	assert.Equal(t, 0, ps.TorrentsCount())
}

func TestExpireRemovesStalePeers(t *testing.T) {
	ps := createNew(t)
	defer func() { <-ps.Stop() }()

	past := time.Now().Add(-time.Hour)
	p := peerAt("10.0.0.1", 6881, 100)
	_, err := ps.UpsertPeer(infoHashA, p, past)
	require.NoError(t, err)

	ps.Expire(time.Now(), time.Minute)

	assert.Equal(t, storage.SwarmStats{}, ps.Stats(infoHashA))
	assert.Equal(t, 0, ps.TorrentsCount())
}

func TestPinSurvivesExpireWhileEmpty(t *testing.T) {
	ps := createNew(t)
	defer func() { <-ps.Stop() }()

	ps.Pin(infoHashA)
	ps.Expire(time.Now(), time.Nanosecond)

	assert.Equal(t, 1, ps.TorrentsCount())

	ps.Unpin(infoHashA)
	ps.Expire(time.Now(), time.Nanosecond)
	assert.Equal(t, 0, ps.TorrentsCount())
}

func TestSeedersAndLeechersSumToSwarmSize(t *testing.T) {
	ps := createNew(t)
	defer func() { <-ps.Stop() }()

	now := time.Now()
	for i, left := range []uint64{0, 0, 100} {
		p := peerAt("10.0.0.1", uint16(6880+i), left)
		_, err := ps.UpsertPeer(infoHashA, p, now)
		require.NoError(t, err)
	}

	stats := ps.Stats(infoHashA)
	assert.EqualValues(t, 2, stats.Seeders)
	assert.EqualValues(t, 1, stats.Leechers)
}
