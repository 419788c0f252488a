package middleware

import (
	"context"

	"github.com/rifttrack/tracker/bittorrent"
	"github.com/rifttrack/tracker/storage"
)

// Hook abstracts the concept of anything that needs to interact with a
// BitTorrent client's request and response to a BitTorrent tracker.
type Hook interface {
	HandleAnnounce(context.Context, *bittorrent.AnnounceRequest, *bittorrent.AnnounceResponse) (context.Context, error)
	HandleScrape(context.Context, *bittorrent.ScrapeRequest, *bittorrent.ScrapeResponse) (context.Context, error)
}

type skipSwarmInteraction struct{}

// SkipSwarmInteractionKey is a key for the context of an Announce to control
// whether the swarm interaction middleware should run. Any non-nil value
// set for this key will cause the swarm interaction middleware to skip.
var SkipSwarmInteractionKey = skipSwarmInteraction{}

// swarmInteractionHook mutates the repository for every Announce, folding
// §4.C's upsert_peer into the hook chain. It runs ahead of responseHook, so
// the counters responseHook reads already reflect this announce.
type swarmInteractionHook struct {
	store storage.PeerStore
	clock Clock
}

func (h *swarmInteractionHook) HandleAnnounce(ctx context.Context, req *bittorrent.AnnounceRequest, resp *bittorrent.AnnounceResponse) (context.Context, error) {
	if ctx.Value(SkipSwarmInteractionKey) != nil {
		return ctx, nil
	}

	// The mutation happens before responseHook reads the swarm, so the
	// reported stats reflect the swarm after this announce. The stats
	// UpsertPeer returns are not used here.
	_, err := h.store.UpsertPeer(req.InfoHash, req.Peer, h.clock.Now())
	return ctx, err
}

func (h *swarmInteractionHook) HandleScrape(ctx context.Context, _ *bittorrent.ScrapeRequest, _ *bittorrent.ScrapeResponse) (context.Context, error) {
	// Scrapes have no effect on the swarm.
	return ctx, nil
}

type skipResponseHook struct{}

// SkipResponseHookKey is a key for the context of an Announce or Scrape to
// control whether the response middleware should run. Any non-nil value
// set for this key will cause the response middleware to skip.
var SkipResponseHookKey = skipResponseHook{}

// responseHook fills in the peer list of an announce response and the
// per-hash triples of a scrape response.
type responseHook struct {
	store storage.PeerStore
	clock Clock
}

func (h *responseHook) HandleAnnounce(ctx context.Context, req *bittorrent.AnnounceRequest, resp *bittorrent.AnnounceResponse) (context.Context, error) {
	if ctx.Value(SkipResponseHookKey) != nil {
		return ctx, nil
	}

	stats := h.store.Stats(req.InfoHash)
	resp.Complete = int32(stats.Seeders)
	resp.Incomplete = int32(stats.Leechers)

	return ctx, h.appendPeers(req, resp)
}

func (h *responseHook) appendPeers(req *bittorrent.AnnounceRequest, resp *bittorrent.AnnounceResponse) error {
	peers, err := h.store.SamplePeers(req.InfoHash, int(req.NumWant), req.Peer, h.clock.Now())
	if err != nil && err != storage.ErrResourceDoesNotExist {
		return err
	}

	// An empty swarm besides the announcer legitimately yields zero peers;
	// the response is not padded with the announcer's own entry.
	switch req.Peer.IP.AddressFamily {
	case bittorrent.IPv4:
		resp.IPv4Peers = peers
	case bittorrent.IPv6:
		resp.IPv6Peers = peers
	}

	return nil
}

func (h *responseHook) HandleScrape(ctx context.Context, req *bittorrent.ScrapeRequest, resp *bittorrent.ScrapeResponse) (context.Context, error) {
	if ctx.Value(SkipResponseHookKey) != nil {
		return ctx, nil
	}

	resp.Files = make([]bittorrent.Scrape, 0, len(req.InfoHashes))
	for _, infoHash := range req.InfoHashes {
		stats := h.store.Stats(infoHash)
		resp.Files = append(resp.Files, bittorrent.Scrape{
			InfoHash:   infoHash,
			Complete:   stats.Seeders,
			Incomplete: stats.Leechers,
			Snatches:   uint32(stats.CompletedCount),
		})
	}

	return ctx, nil
}
