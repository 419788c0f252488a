package udp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/rifttrack/tracker/bittorrent"
)

// WriteError writes the failure reason as a null-terminated string, per
// §4.A: action=3, the original transaction_id, then a UTF-8 reason.
func WriteError(w io.Writer, txID []byte, err error) {
	// If the client wasn't at fault, don't leak internal detail to the wire.
	if _, ok := err.(bittorrent.ClientError); !ok {
		err = errors.New("internal error occurred")
	}

	var buf bytes.Buffer
	writeHeader(&buf, txID, errorActionID)
	buf.WriteString(err.Error())
	buf.WriteRune('\000')
	w.Write(buf.Bytes())
}

// WriteAnnounce encodes an announce response according to BEP 15: the
// compact peer list is 6 bytes per IPv4 peer or 18 bytes per IPv6 peer,
// decided by isIPv6 (the announcer's own family), never mixed in one
// response.
func WriteAnnounce(w io.Writer, txID []byte, resp *bittorrent.AnnounceResponse, isIPv6 bool) {
	var buf bytes.Buffer

	writeHeader(&buf, txID, announceActionID)
	binary.Write(&buf, binary.BigEndian, uint32(resp.Interval/time.Second))
	binary.Write(&buf, binary.BigEndian, uint32(resp.Incomplete))
	binary.Write(&buf, binary.BigEndian, uint32(resp.Complete))

	peers := resp.IPv4Peers
	if isIPv6 {
		peers = resp.IPv6Peers
	}

	for _, peer := range peers {
		ip := peer.IP.To4()
		if isIPv6 {
			ip = peer.IP.To16()
		}
		buf.Write(ip)
		binary.Write(&buf, binary.BigEndian, peer.Port)
	}

	w.Write(buf.Bytes())
}

// WriteScrape encodes a scrape response according to BEP 15.
func WriteScrape(w io.Writer, txID []byte, resp *bittorrent.ScrapeResponse) {
	var buf bytes.Buffer

	writeHeader(&buf, txID, scrapeActionID)

	for _, scrape := range resp.Files {
		binary.Write(&buf, binary.BigEndian, scrape.Complete)
		binary.Write(&buf, binary.BigEndian, scrape.Snatches)
		binary.Write(&buf, binary.BigEndian, scrape.Incomplete)
	}

	w.Write(buf.Bytes())
}

// WriteConnectionID encodes a new connection response according to BEP 15.
func WriteConnectionID(w io.Writer, txID, connID []byte) {
	var buf bytes.Buffer

	writeHeader(&buf, txID, connectActionID)
	buf.Write(connID)

	w.Write(buf.Bytes())
}

// writeHeader writes the action and transaction ID to the provided response
// buffer.
func writeHeader(w io.Writer, txID []byte, action uint32) {
	binary.Write(w, binary.BigEndian, action)
	w.Write(txID)
}
