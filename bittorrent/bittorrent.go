// Package bittorrent implements all of the abstractions used to decouple the
// protocol of a BitTorrent tracker from the logic of handling Announces and
// Scrapes.
package bittorrent

import (
	"encoding/hex"
	"fmt"
	"net"
	"time"
)

// PeerID represents a peer ID.
type PeerID [20]byte

// PeerIDFromBytes creates a PeerID from a byte slice.
//
// It panics if b is not 20 bytes long.
func PeerIDFromBytes(b []byte) PeerID {
	if len(b) != 20 {
		panic("peer ID must be 20 bytes")
	}

	var buf [20]byte
	copy(buf[:], b)
	return PeerID(buf)
}

// PeerIDFromString creates a PeerID from a string.
//
// It panics if s is not 20 bytes long.
func PeerIDFromString(s string) PeerID {
	if len(s) != 20 {
		panic("peer ID must be 20 bytes")
	}

	var buf [20]byte
	copy(buf[:], s)
	return PeerID(buf)
}

// String implements fmt.Stringer for a PeerID.
func (p PeerID) String() string {
	return hex.EncodeToString(p[:])
}

// InfoHash represents an infohash.
type InfoHash [20]byte

// InfoHashFromBytes creates an InfoHash from a byte slice.
//
// It panics if b is not 20 bytes long.
func InfoHashFromBytes(b []byte) InfoHash {
	if len(b) != 20 {
		panic("infohash must be 20 bytes")
	}

	var buf [20]byte
	copy(buf[:], b)
	return InfoHash(buf)
}

// InfoHashFromString creates an InfoHash from a string.
//
// It panics if s is not 20 bytes long.
func InfoHashFromString(s string) InfoHash {
	if len(s) != 20 {
		panic("infohash must be 20 bytes")
	}

	var buf [20]byte
	copy(buf[:], s)
	return InfoHash(buf)
}

// String implements fmt.Stringer for an InfoHash.
func (i InfoHash) String() string {
	return hex.EncodeToString(i[:])
}

// AddressFamily represents the address family that a Peer's IP belongs to,
// so that it can be binned into the correct compact response list without
// re-inspecting the byte length of the address at every call site.
type AddressFamily uint8

const (
	// IPv4 is the family of a 4-byte IP address.
	IPv4 AddressFamily = iota

	// IPv6 is the family of a 16-byte IP address.
	IPv6
)

// IP wraps a net.IP along with the AddressFamily it was determined to
// belong to.
type IP struct {
	net.IP
	AddressFamily
}

// AuthKey is an opaque, printable token issued to a client to authorize
// announces on a Private or PrivateListed tracker.
type AuthKey struct {
	Key        string
	ValidUntil time.Time
	HasExpiry  bool
}

// Expired reports whether the key is no longer valid at the given time.
func (k AuthKey) Expired(now time.Time) bool {
	return k.HasExpiry && now.After(k.ValidUntil)
}

// Event represents an event done by a BitTorrent client, as carried on the
// wire by an Announce request.
type Event uint8

const (
	// None is the event sent by a client on a routine announce, when no
	// other event applies.
	None Event = iota

	// Started is the event sent by a client when it joins a swarm.
	Started

	// Stopped is the event sent by a client when it leaves a swarm.
	Stopped

	// Completed is the event sent by a client when it finishes downloading
	// all of the pieces it wants for a torrent.
	Completed
)

// String implements fmt.Stringer for an Event.
func (e Event) String() string {
	switch e {
	case None:
		return "none"
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// Peer represents the connection details of a peer that is returned in an
// announce response.
type Peer struct {
	ID   PeerID
	IP   IP
	Port uint16

	Uploaded   uint64
	Downloaded uint64
	Left       uint64
	Event      Event
}

// Equal reports whether p and x are the same peer, comparing their peer ID
// and endpoint.
func (p Peer) Equal(x Peer) bool { return p.EqualEndpoint(x) && p.ID == x.ID }

// EqualEndpoint reports whether p and x have the same endpoint: the
// (ip, port) pair that indexes a peer within a swarm.
func (p Peer) EqualEndpoint(x Peer) bool { return p.Port == x.Port && p.IP.IP.Equal(x.IP.IP) }

// Seeder reports whether the peer has nothing left to download.
func (p Peer) Seeder() bool { return p.Left == 0 }

// String implements fmt.Stringer for a Peer, rendering it as
// "<peerID>@[<ip>]:<port>".
func (p Peer) String() string {
	return fmt.Sprintf("%s@[%s]:%d", p.ID.String(), p.IP.String(), p.Port)
}

// ClientError represents an error that should be exposed to the client over
// the BitTorrent wire protocol as the reason string of an error response.
type ClientError string

// Error implements the error interface for ClientError.
func (c ClientError) Error() string { return string(c) }

// AnnounceRequest represents a parsed announce request.
type AnnounceRequest struct {
	Event      Event
	InfoHash   InfoHash
	NumWant    uint32
	Left       uint64
	Downloaded uint64
	Uploaded   uint64

	// IPProvided indicates that the client supplied its own IP in the fixed
	// IP field of the announce and that the frontend honored it when
	// building Peer.IP. An "ip" parameter in the URL-data extension is not
	// honored.
	IPProvided bool

	// NumWantProvided and EventProvided record whether the client supplied
	// these optional fields at all, so SanitizeAnnounce can distinguish
	// "not provided" from "explicitly zero".
	NumWantProvided bool
	EventProvided   bool

	Peer
	Params
}

// AnnounceResponse represents the parameters used to create an announce
// response.
type AnnounceResponse struct {
	Complete   int32
	Incomplete int32
	Interval   time.Duration

	IPv4Peers []Peer
	IPv6Peers []Peer
}

// ScrapeRequest represents a parsed scrape request.
type ScrapeRequest struct {
	InfoHashes []InfoHash
	Params     Params
}

// ScrapeResponse represents the parameters used to create a scrape response.
// Files preserves request order: the UDP wire format returns scrape triples
// positionally, with no infohash echoed back on the wire.
type ScrapeResponse struct {
	Files []Scrape
}

// Scrape represents the state of a swarm returned in a scrape response.
type Scrape struct {
	InfoHash   InfoHash
	Complete   uint32
	Incomplete uint32
	Snatches   uint32
}

// Params is used to fetch optional parameters carried in a request, either
// from an HTTP query or from the URL-data extension of a UDP announce.
type Params interface {
	// String returns a string parsed from a query, and whether the key was
	// present at all.
	String(key string) (string, bool)
}
