package middleware

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rifttrack/tracker/bittorrent"
	"github.com/rifttrack/tracker/storage"
	"github.com/rifttrack/tracker/storage/memory"
)

// fakeParams is a minimal bittorrent.Params for tests that need to carry an
// auth key through an AnnounceRequest.
type fakeParams map[string]string

func (p fakeParams) String(key string) (string, bool) {
	v, ok := p[key]
	return v, ok
}

// fakeKeyStore is a KeyStore backed by an in-memory map, good enough to
// exercise Logic's mode policy without pulling in a real store package.
type fakeKeyStore map[string]bittorrent.AuthKey

func (s fakeKeyStore) AddKey(_ context.Context, key bittorrent.AuthKey) error {
	s[key.Key] = key
	return nil
}

func (s fakeKeyStore) RemoveKey(_ context.Context, key string) error {
	delete(s, key)
	return nil
}

func (s fakeKeyStore) IsValid(_ context.Context, key string, now time.Time) (bool, error) {
	k, ok := s[key]
	if !ok {
		return false, nil
	}
	return !k.Expired(now), nil
}

// fakeWhitelistStore is a WhitelistStore backed by an in-memory set.
type fakeWhitelistStore map[bittorrent.InfoHash]struct{}

func (s fakeWhitelistStore) AddInfoHash(_ context.Context, ih bittorrent.InfoHash) error {
	s[ih] = struct{}{}
	return nil
}

func (s fakeWhitelistStore) RemoveInfoHash(_ context.Context, ih bittorrent.InfoHash) error {
	delete(s, ih)
	return nil
}

func (s fakeWhitelistStore) HasInfoHash(_ context.Context, ih bittorrent.InfoHash) (bool, error) {
	_, ok := s[ih]
	return ok, nil
}

// fakeMetricsSink records the counters and gauges it's given.
type fakeMetricsSink struct {
	counters map[string]int64
}

func newFakeMetricsSink() *fakeMetricsSink {
	return &fakeMetricsSink{counters: make(map[string]int64)}
}

func (s *fakeMetricsSink) Incr(counter string, n int64) { s.counters[counter] += n }
func (s *fakeMetricsSink) Set(string, float64)          {}

func newTestPeerStore(t *testing.T) storage.PeerStore {
	ps, err := memory.New(memory.Config{
		ShardCount:                  4,
		GarbageCollectionInterval:   time.Hour,
		PrometheusReportingInterval: time.Hour,
		PeerLifetime:                time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { <-ps.Stop() })
	return ps
}

var testInfoHash = bittorrent.InfoHashFromString("aaaaaaaaaaaaaaaaaaaa")

func newAnnounceRequest(params bittorrent.Params) *bittorrent.AnnounceRequest {
	return &bittorrent.AnnounceRequest{
		Event:    bittorrent.Started,
		InfoHash: testInfoHash,
		NumWant:  50,
		Left:     100,
		Peer: bittorrent.Peer{
			ID:   bittorrent.PeerIDFromString("-TEST01-6wfG2wk6wWLc"),
			IP:   bittorrent.IP{IP: net.ParseIP("10.0.0.1"), AddressFamily: bittorrent.IPv4},
			Port: 6881,
			Left: 100,
		},
		Params: params,
	}
}

func TestHandleAnnouncePublicMode(t *testing.T) {
	ps := newTestPeerStore(t)
	logic := NewLogic(Config{Mode: ModePublic, AnnounceInterval: time.Second}, ps, nil, nil, nil, nil, nil, nil)

	ctx := context.Background()
	req := newAnnounceRequest(fakeParams{})
	resp, err := logic.HandleAnnounce(ctx, req)
	require.NoError(t, err)
	logic.AfterAnnounce(ctx, req, resp)

	assert.Equal(t, time.Second, resp.Interval)
}

func TestHandleAnnounceListedModeRejectsUnlisted(t *testing.T) {
	ps := newTestPeerStore(t)
	whitelist := fakeWhitelistStore{}
	logic := NewLogic(Config{Mode: ModeListed}, ps, nil, whitelist, nil, nil, nil, nil)

	_, err := logic.HandleAnnounce(context.Background(), newAnnounceRequest(fakeParams{}))
	assert.Equal(t, ErrNotRegistered, err)
}

func TestHandleAnnounceListedModeAllowsWhitelisted(t *testing.T) {
	ps := newTestPeerStore(t)
	whitelist := fakeWhitelistStore{testInfoHash: struct{}{}}
	logic := NewLogic(Config{Mode: ModeListed, AnnounceInterval: time.Second}, ps, nil, whitelist, nil, nil, nil, nil)

	_, err := logic.HandleAnnounce(context.Background(), newAnnounceRequest(fakeParams{}))
	require.NoError(t, err)
}

func TestHandleAnnouncePrivateModeRequiresKey(t *testing.T) {
	ps := newTestPeerStore(t)
	keys := fakeKeyStore{}
	logic := NewLogic(Config{Mode: ModePrivate}, ps, keys, nil, nil, nil, nil, nil)

	_, err := logic.HandleAnnounce(context.Background(), newAnnounceRequest(fakeParams{}))
	assert.Equal(t, ErrInvalidKey, err)
}

func TestHandleAnnouncePrivateModeAcceptsValidKey(t *testing.T) {
	ps := newTestPeerStore(t)
	keys := fakeKeyStore{"abc123": bittorrent.AuthKey{Key: "abc123"}}
	logic := NewLogic(Config{Mode: ModePrivate, AnnounceInterval: time.Second}, ps, keys, nil, nil, nil, nil, nil)

	_, err := logic.HandleAnnounce(context.Background(), newAnnounceRequest(fakeParams{"key": "abc123"}))
	require.NoError(t, err)
}

func TestHandleAnnouncePrivateModeRejectsExpiredKey(t *testing.T) {
	ps := newTestPeerStore(t)
	keys := fakeKeyStore{"abc123": bittorrent.AuthKey{Key: "abc123", HasExpiry: true, ValidUntil: time.Now().Add(-time.Minute)}}
	logic := NewLogic(Config{Mode: ModePrivate}, ps, keys, nil, nil, nil, nil, nil)

	_, err := logic.HandleAnnounce(context.Background(), newAnnounceRequest(fakeParams{"key": "abc123"}))
	assert.Equal(t, ErrInvalidKey, err)
}

func TestAfterAnnounceIncrementsMetrics(t *testing.T) {
	ps := newTestPeerStore(t)
	metrics := newFakeMetricsSink()
	logic := NewLogic(Config{Mode: ModePublic, AnnounceInterval: time.Second}, ps, nil, nil, metrics, nil, nil, nil)

	ctx := context.Background()
	req := newAnnounceRequest(fakeParams{})
	resp, err := logic.HandleAnnounce(ctx, req)
	require.NoError(t, err)
	logic.AfterAnnounce(ctx, req, resp)

	assert.EqualValues(t, 1, metrics.counters["announces"])
}

func TestHandleAnnounceUpsertsAndSamples(t *testing.T) {
	ps := newTestPeerStore(t)
	logic := NewLogic(Config{Mode: ModePublic, AnnounceInterval: time.Second}, ps, nil, nil, nil, nil, nil, nil)

	ctx := context.Background()
	first := newAnnounceRequest(fakeParams{})
	resp, err := logic.HandleAnnounce(ctx, first)
	require.NoError(t, err)
	logic.AfterAnnounce(ctx, first, resp)
	assert.Empty(t, resp.IPv4Peers, "an empty swarm is not padded with the announcer's own peer")

	second := newAnnounceRequest(fakeParams{})
	second.Peer.IP.IP = net.ParseIP("10.0.0.2")
	second.Peer.Port = 6882
	second.Left = 0
	second.Peer.Left = 0
	resp, err = logic.HandleAnnounce(ctx, second)
	require.NoError(t, err)
	logic.AfterAnnounce(ctx, second, resp)

	require.Len(t, resp.IPv4Peers, 1)
	assert.True(t, resp.IPv4Peers[0].EqualEndpoint(first.Peer))
	assert.EqualValues(t, 1, resp.Complete)
	assert.EqualValues(t, 1, resp.Incomplete)
}

func TestHandleScrapeReportsStats(t *testing.T) {
	ps := newTestPeerStore(t)
	logic := NewLogic(Config{Mode: ModePublic, AnnounceInterval: time.Second}, ps, nil, nil, nil, nil, nil, nil)

	ctx := context.Background()
	announce := newAnnounceRequest(fakeParams{})
	resp, err := logic.HandleAnnounce(ctx, announce)
	require.NoError(t, err)
	logic.AfterAnnounce(ctx, announce, resp)

	scrapeReq := &bittorrent.ScrapeRequest{InfoHashes: []bittorrent.InfoHash{testInfoHash}}
	scrapeResp, err := logic.HandleScrape(ctx, scrapeReq)
	require.NoError(t, err)
	logic.AfterScrape(ctx, scrapeReq, scrapeResp)

	require.Len(t, scrapeResp.Files, 1)
	assert.Equal(t, testInfoHash, scrapeResp.Files[0].InfoHash)
	assert.EqualValues(t, 1, scrapeResp.Files[0].Incomplete)
}

func TestConfigValidateFillsDefaultInterval(t *testing.T) {
	cfg := Config{Mode: ModePublic}
	cfg.Validate()
	assert.Equal(t, defaultAnnounceInterval, cfg.AnnounceInterval)
}
