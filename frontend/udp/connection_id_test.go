package udp

import (
	"net"
	"testing"
	"time"
)

var golden = []struct {
	createdAt int64
	now       int64
	ip        string
	port      uint16
	key       string
	valid     bool
}{
	{0, 1, "127.0.0.1", 6881, "", true},
	{0, 420420, "127.0.0.1", 6881, "", false},
	{0, 0, "::1", 6881, "", true},
	{0, int64(EpochWindow / time.Second), "127.0.0.1", 6881, "", true},
	{0, int64(2 * EpochWindow / time.Second), "127.0.0.1", 6881, "", false},
}

func TestVerification(t *testing.T) {
	for _, tt := range golden {
		cid := NewConnectionID(net.ParseIP(tt.ip), tt.port, time.Unix(tt.createdAt, 0), tt.key)
		got := ValidConnectionID(cid, net.ParseIP(tt.ip), tt.port, time.Unix(tt.now, 0), EpochWindow, tt.key)
		if got != tt.valid {
			t.Errorf("ip=%s now=%d: expected validity: %t got validity: %t", tt.ip, tt.now, tt.valid, got)
		}
	}
}

func TestDifferentPortRejected(t *testing.T) {
	cid := NewConnectionID(net.ParseIP("127.0.0.1"), 6881, time.Unix(0, 0), "k")
	if ValidConnectionID(cid, net.ParseIP("127.0.0.1"), 6882, time.Unix(0, 0), EpochWindow, "k") {
		t.Error("expected a connection ID minted for a different port to be rejected")
	}
}
