package bittorrent

import (
	"net"

	"github.com/rifttrack/tracker/pkg/log"
)

// ErrInvalidIP indicates an invalid IP for an Announce.
var ErrInvalidIP = ClientError("invalid IP")

// RequestSanitizer replaces unreasonable values in requests parsed from a
// frontend with sane defaults, and coerces a peer's IP into the proper
// AddressFamily.
type RequestSanitizer struct {
	MaxNumWant          uint32 `yaml:"max_numwant"`
	DefaultNumWant      uint32 `yaml:"default_numwant"`
	MaxScrapeInfoHashes uint32 `yaml:"max_scrape_infohashes"`
}

// LogFields renders the request sanitizer's configuration as a set of
// loggable fields.
func (rs RequestSanitizer) LogFields() log.Fields {
	return log.Fields{
		"maxNumWant":          rs.MaxNumWant,
		"defaultNumWant":      rs.DefaultNumWant,
		"maxScrapeInfohashes": rs.MaxScrapeInfoHashes,
	}
}

// SanitizeAnnounce enforces a max and default NumWant and coerces the peer's
// IP address into the proper AddressFamily. A NumWant that was not provided
// at all falls back to DefaultNumWant; one that was provided but exceeds
// MaxNumWant is clamped rather than rejected.
func (rs RequestSanitizer) SanitizeAnnounce(r *AnnounceRequest) error {
	if !r.NumWantProvided {
		r.NumWant = rs.DefaultNumWant
	} else if r.NumWant > rs.MaxNumWant {
		r.NumWant = rs.MaxNumWant
	}

	if ip := r.Peer.IP.To4(); ip != nil {
		r.Peer.IP.IP = ip
		r.Peer.IP.AddressFamily = IPv4
	} else if len(r.Peer.IP.IP) == net.IPv6len { // implies r.Peer.IP.To4() == nil
		r.Peer.IP.AddressFamily = IPv6
	} else {
		return ErrInvalidIP
	}

	log.Debug("sanitized announce", log.Fields{"request": r})
	return nil
}

// SanitizeScrape truncates the infohash list of a scrape request down to
// MaxScrapeInfoHashes rather than rejecting the request outright.
func (rs RequestSanitizer) SanitizeScrape(r *ScrapeRequest) error {
	if len(r.InfoHashes) > int(rs.MaxScrapeInfoHashes) {
		r.InfoHashes = r.InfoHashes[:rs.MaxScrapeInfoHashes]
	}

	log.Debug("sanitized scrape", log.Fields{"request": r})
	return nil
}
