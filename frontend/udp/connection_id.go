package udp

import (
	"crypto/hmac"
	"encoding/binary"
	"hash"
	"net"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/rifttrack/tracker/pkg/log"
)

// EpochWindow is the default width of the bucket a connection cookie is
// minted for, per §4.B. A cookie remains valid for between EpochWindow and
// 2*EpochWindow seconds, since verification accepts both the current and
// the immediately preceding epoch.
const EpochWindow = 2 * time.Hour

// NewConnectionID mints an 8-byte connection cookie for ip/port as
// described by §4.B.
// This is a wrapper around creating a new ConnectionIDGenerator and
// generating an ID. It is recommended to use the generator for performance.
func NewConnectionID(ip net.IP, port uint16, now time.Time, key string) []byte {
	return NewConnectionIDGenerator(key).Generate(ip, port, now)
}

// ValidConnectionID determines whether a connection identifier is
// legitimate for ip/port at now.
// This is a wrapper around creating a new ConnectionIDGenerator and
// validating the ID. It is recommended to use the generator for
// performance.
func ValidConnectionID(connectionID []byte, ip net.IP, port uint16, now time.Time, epochWindow time.Duration, key string) bool {
	return NewConnectionIDGenerator(key).Validate(connectionID, ip, port, now, epochWindow)
}

// ConnectionIDGenerator is a reusable generator and validator for
// connection cookies as described in §4.B.
// It is not thread safe, but is safe to be pooled and reused by other
// goroutines. It manages its state itself, so it can be taken from and
// returned to a pool without any cleanup.
// After initial creation, it can generate connection IDs without
// allocating. See Generate and Validate for usage notes and guarantees.
type ConnectionIDGenerator struct {
	// mac is a keyed HMAC that can be reused for subsequent connection ID
	// generations.
	mac hash.Hash

	// connID is an 8-byte slice that holds the generated connection ID
	// after a call to Generate. It must not be referenced after the
	// generator is returned to a pool; it will be overwritten by
	// subsequent calls to Generate.
	connID []byte

	// scratch is used as a scratchpad for the generated HMACs.
	scratch []byte
}

func hashfn() hash.Hash { return xxhash.New() }

// NewConnectionIDGenerator creates a new connection ID generator keyed by
// key, which should be a process-lifetime random secret.
func NewConnectionIDGenerator(key string) *ConnectionIDGenerator {
	return &ConnectionIDGenerator{
		mac:     hmac.New(hashfn, []byte(key)),
		connID:  make([]byte, 8),
		scratch: make([]byte, 0, 32),
	}
}

func (g *ConnectionIDGenerator) reset() {
	g.mac.Reset()
	g.connID = g.connID[:8]
	g.scratch = g.scratch[:0]
}

func epoch(now time.Time, epochWindow time.Duration) uint64 {
	return uint64(now.Unix()) / uint64(epochWindow/time.Second)
}

func (g *ConnectionIDGenerator) writeEndpoint(ep uint64, ip net.IP, port uint16) {
	var epBuf [8]byte
	binary.BigEndian.PutUint64(epBuf[:], ep)
	g.mac.Write(epBuf[:])

	if ip4 := ip.To4(); ip4 != nil {
		g.mac.Write(ip4)
	} else {
		g.mac.Write(ip.To16())
	}

	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], port)
	g.mac.Write(portBuf[:])
}

// Generate mints an 8-byte connection cookie for the given endpoint and the
// current time, per §4.B: `truncate_u64(HMAC(K, epoch || ip || port))`.
//
// The generated ID is written to g.connID, which is also returned. g.connID
// will be reused, so it must not be referenced after returning the
// generator to a pool and will be overwritten by subsequent calls to
// Generate.
func (g *ConnectionIDGenerator) Generate(ip net.IP, port uint16, now time.Time) []byte {
	g.reset()

	g.writeEndpoint(epoch(now, EpochWindow), ip, port)
	g.scratch = g.mac.Sum(g.scratch)
	copy(g.connID, g.scratch[:8])

	log.Debug("generated connection ID", log.Fields{"ip": ip.String(), "port": port, "now": now})
	return g.connID
}

// Validate reports whether connectionID was minted for ip/port within the
// current or immediately preceding epoch, per §4.B's acceptance rule.
func (g *ConnectionIDGenerator) Validate(connectionID []byte, ip net.IP, port uint16, now time.Time, epochWindow time.Duration) bool {
	if epochWindow <= 0 {
		epochWindow = EpochWindow
	}
	cur := epoch(now, epochWindow)

	for _, ep := range [2]uint64{cur, cur - 1} {
		g.reset()
		g.writeEndpoint(ep, ip, port)
		g.scratch = g.mac.Sum(g.scratch)
		if hmac.Equal(g.scratch[:8], connectionID) {
			return true
		}
	}

	log.Debug("rejected connection ID", log.Fields{"ip": ip.String(), "port": port, "now": now})
	return false
}
