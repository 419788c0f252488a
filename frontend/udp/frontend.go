// Package udp implements a BitTorrent tracker via the UDP protocol as
// described in BEP 15.
package udp

import (
	"bytes"
	"context"
	"encoding/binary"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/rifttrack/tracker/bittorrent"
	"github.com/rifttrack/tracker/frontend"
	"github.com/rifttrack/tracker/frontend/udp/bytepool"
	"github.com/rifttrack/tracker/pkg/log"
	"github.com/rifttrack/tracker/pkg/stop"
	"github.com/rifttrack/tracker/pkg/timecache"
)

var allowedGeneratedPrivateKeyRunes = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ1234567890")

// Config represents all of the configurable options for a UDP BitTorrent
// Tracker, per §6's configuration table.
type Config struct {
	Addr           string        `yaml:"bind_address"`
	PrivateKey     string        `yaml:"private_key"`
	Workers        int           `yaml:"workers"`
	CookieWindow   time.Duration `yaml:"cookie_window"`
	AllowIANAIPs   bool          `yaml:"allow_iana_ips"`
	EnableRequestTiming bool     `yaml:"enable_request_timing"`
	ParseOptions   `yaml:",inline"`
}

// LogFields renders the current config as a set of Logrus fields.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{
		"addr":                cfg.Addr,
		"privateKey":          cfg.PrivateKey,
		"workers":             cfg.Workers,
		"cookieWindow":        cfg.CookieWindow,
		"allowIANAIPs":        cfg.AllowIANAIPs,
		"enableRequestTiming": cfg.EnableRequestTiming,
		"allowRemotes":        cfg.AllowRemotes,
		"maxNumWant":          cfg.MaxNumWant,
		"defaultNumWant":      cfg.DefaultNumWant,
		"maxScrapeInfoHashes": cfg.MaxScrapeInfoHashes,
	}
}

// defaultWorkers is the number of worker tasks independently calling
// recv_from on the shared socket, per §4.E, when Workers isn't configured.
const defaultWorkers = 4

// Validate sanity checks values set in a config and returns a new config with
// default values replacing anything that is invalid.
//
// This function warns to the logger when a value is changed.
func (cfg Config) Validate() Config {
	validcfg := cfg

	// Generate a private key if one isn't provided by the user.
	if cfg.PrivateKey == "" {
		rand.Seed(time.Now().UnixNano())
		pkeyRunes := make([]rune, 64)
		for i := range pkeyRunes {
			pkeyRunes[i] = allowedGeneratedPrivateKeyRunes[rand.Intn(len(allowedGeneratedPrivateKeyRunes))]
		}
		validcfg.PrivateKey = string(pkeyRunes)

		log.Warn("UDP private key was not provided, using generated key", log.Fields{"key": validcfg.PrivateKey})
	}

	if cfg.Workers <= 0 {
		validcfg.Workers = defaultWorkers
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "udp.Workers",
			"provided": cfg.Workers,
			"default":  validcfg.Workers,
		})
	}

	if cfg.CookieWindow <= 0 {
		validcfg.CookieWindow = EpochWindow
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "udp.CookieWindow",
			"provided": cfg.CookieWindow,
			"default":  validcfg.CookieWindow,
		})
	}

	if cfg.MaxNumWant <= 0 {
		validcfg.MaxNumWant = defaultMaxNumWant
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "udp.MaxNumWant",
			"provided": cfg.MaxNumWant,
			"default":  validcfg.MaxNumWant,
		})
	}

	if cfg.DefaultNumWant <= 0 {
		validcfg.DefaultNumWant = defaultDefaultNumWant
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "udp.DefaultNumWant",
			"provided": cfg.DefaultNumWant,
			"default":  validcfg.DefaultNumWant,
		})
	}

	if cfg.MaxScrapeInfoHashes <= 0 {
		validcfg.MaxScrapeInfoHashes = defaultMaxScrapeInfoHashes
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "udp.MaxScrapeInfoHashes",
			"provided": cfg.MaxScrapeInfoHashes,
			"default":  validcfg.MaxScrapeInfoHashes,
		})
	}

	return validcfg
}

// Frontend holds the state of a UDP BitTorrent Frontend.
type Frontend struct {
	socket  *net.UDPConn
	closing chan struct{}
	wg      sync.WaitGroup

	genPool *sync.Pool

	logic frontend.TrackerLogic
	Config
}

// NewFrontend creates a new instance of an UDP Frontend that asynchronously
// serves requests across Config.Workers independent worker goroutines, per
// §4.E.
func NewFrontend(logic frontend.TrackerLogic, provided Config) (*Frontend, error) {
	cfg := provided.Validate()

	f := &Frontend{
		closing: make(chan struct{}),
		logic:   logic,
		Config:  cfg,
		genPool: &sync.Pool{
			New: func() interface{} {
				return NewConnectionIDGenerator(cfg.PrivateKey)
			},
		},
	}

	if err := f.listen(); err != nil {
		return nil, err
	}

	for i := 0; i < cfg.Workers; i++ {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			if err := f.serve(); err != nil {
				log.Error("udp worker exited", log.Err(err))
			}
		}()
	}

	return f, nil
}

// Stop provides a thread-safe way to shutdown a currently running Frontend.
// Closing t.closing and setting an immediate read deadline on the socket
// makes every worker's blocking read return, at which point the worker sees
// the closing signal and exits; the socket is closed once every worker has
// returned.
func (t *Frontend) Stop() stop.Result {
	select {
	case <-t.closing:
		return stop.AlreadyStopped
	default:
	}

	close(t.closing)

	c := make(stop.Channel)
	go func() {
		_ = t.socket.SetReadDeadline(time.Now())
		t.wg.Wait()
		c.Done(t.socket.Close())
	}()

	return c.Result()
}

// listen resolves the address and binds the server socket.
func (t *Frontend) listen() error {
	udpAddr, err := net.ResolveUDPAddr("udp", t.Addr)
	if err != nil {
		return err
	}
	t.socket, err = net.ListenUDP("udp", udpAddr)
	return err
}

// isIANAReserved reports whether ip falls within one of the reserved
// ranges that §4.D's allow_iana_ips policy drops packets from when the
// option is disabled: 0/8, 10/8, 127/8, 224/4, and their IPv6 equivalents.
func isIANAReserved(ip net.IP) bool {
	return ip.IsUnspecified() || ip.IsLoopback() || ip.IsPrivate() || ip.IsMulticast() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

// serve is one worker: it independently calls ReadFromUDP on the shared
// socket until Stop() closes it or an unrecoverable error occurs.
func (t *Frontend) serve() error {
	pool := bytepool.New(2048)

	for {
		select {
		case <-t.closing:
			log.Debug("udp worker received shutdown signal")
			return nil
		default:
		}

		buffer := pool.Get()
		n, addr, err := t.socket.ReadFromUDP(*buffer)
		if err != nil {
			pool.Put(buffer)
			if netErr, ok := err.(net.Error); ok && netErr.Temporary() {
				continue
			}
			select {
			case <-t.closing:
				return nil
			default:
				return err
			}
		}

		if n == 0 {
			pool.Put(buffer)
			continue
		}

		ip := addr.IP
		if ip4 := ip.To4(); ip4 != nil {
			ip = ip4
		}

		if !t.AllowIANAIPs && isIANAReserved(ip) {
			pool.Put(buffer)
			continue
		}

		t.handleDatagram(pool, buffer, n, ip, addr)
	}
}

// handleDatagram processes a single datagram and returns buffer to pool.
// Any panic raised while handling the datagram (by the parser, the logic, or
// a storage driver) is recovered here, counted, and turned into a dropped
// packet rather than taking down the worker, per §7.
func (t *Frontend) handleDatagram(pool *bytepool.BytePool, buffer *[]byte, n int, ip net.IP, addr *net.UDPAddr) {
	defer pool.Put(buffer)
	defer func() {
		if rec := recover(); rec != nil {
			recoveredPanics.Inc()
			log.Error("recovered from panic while handling udp request", log.Fields{"panic": rec})
		}
	}()

	var start time.Time
	if t.EnableRequestTiming {
		start = time.Now()
	}
	action, respIP, err := t.handleRequest(
		Request{Packet: (*buffer)[:n], IP: append(net.IP{}, ip...), Port: uint16(addr.Port)},
		ResponseWriter{t.socket, addr},
	)

	var elapsed time.Duration
	if t.EnableRequestTiming {
		elapsed = time.Since(start)
	}
	recordResponseDuration(action, respIP, err, elapsed)
}

// Request represents a UDP payload received by a Tracker.
type Request struct {
	Packet []byte
	IP     net.IP
	Port   uint16
}

// ResponseWriter implements the ability to respond to a Request via the
// io.Writer interface.
type ResponseWriter struct {
	socket *net.UDPConn
	addr   *net.UDPAddr
}

// Write implements the io.Writer interface for a ResponseWriter.
func (w ResponseWriter) Write(b []byte) (int, error) {
	_, _ = w.socket.WriteToUDP(b, w.addr)
	return len(b), nil
}

// handleRequest parses and responds to a UDP Request. It never panics or
// propagates an error up to the caller beyond what's needed for metrics:
// every failure mode is either a silent drop or an action=3 reply.
func (t *Frontend) handleRequest(r Request, w ResponseWriter) (actionName string, ip net.IP, err error) {
	ip = r.IP

	if len(r.Packet) < 16 {
		// Malformed, no client packets are less than 16 bytes. Silently
		// drop, per §7's taxonomy of malformed datagrams below the
		// action-specific minimum.
		err = errMalformedPacket
		return
	}

	connID := r.Packet[0:8]
	actionID := binary.BigEndian.Uint32(r.Packet[8:12])
	txID := r.Packet[12:16]

	gen := t.genPool.Get().(*ConnectionIDGenerator)
	defer t.genPool.Put(gen)

	if actionID != connectActionID && !gen.Validate(connID, r.IP, r.Port, timecache.Now(), t.CookieWindow) {
		// A cookie mismatch is a silent drop, per §7 and §4.B: this
		// tracker's consistent policy is to never acknowledge a forged
		// or expired connection ID.
		err = errBadConnectionID
		return
	}

	switch actionID {
	case connectActionID:
		actionName = "connect"

		if !bytes.Equal(connID, initialConnectionID) {
			err = errMalformedPacket
			return
		}

		WriteConnectionID(w, txID, gen.Generate(r.IP, r.Port, timecache.Now()))

	case announceActionID, announceV6ActionID:
		actionName = "announce"

		var req *bittorrent.AnnounceRequest
		req, err = ParseAnnounce(r, actionID == announceV6ActionID, t.ParseOptions)
		if err != nil {
			WriteError(w, txID, err)
			return
		}
		ip = req.Peer.IP.IP

		var resp *bittorrent.AnnounceResponse
		resp, err = t.logic.HandleAnnounce(context.Background(), req)
		if err != nil {
			WriteError(w, txID, err)
			return
		}

		WriteAnnounce(w, txID, resp, req.Peer.IP.AddressFamily == bittorrent.IPv6)

		go t.logic.AfterAnnounce(context.Background(), req, resp)

	case scrapeActionID:
		actionName = "scrape"

		var req *bittorrent.ScrapeRequest
		req, err = ParseScrape(r, t.ParseOptions)
		if err != nil {
			WriteError(w, txID, err)
			return
		}

		var resp *bittorrent.ScrapeResponse
		resp, err = t.logic.HandleScrape(context.Background(), req)
		if err != nil {
			WriteError(w, txID, err)
			return
		}

		WriteScrape(w, txID, resp)

		go t.logic.AfterScrape(context.Background(), req, resp)

	default:
		err = errUnknownAction
		WriteError(w, txID, err)
	}

	return
}
