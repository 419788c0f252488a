package bittorrent

// ClientID represents the part of a PeerID that identifies a Peer's client
// software.
type ClientID [6]byte

// NewClientID parses a ClientID out of the raw bytes of a peer ID, following
// the Azureus-style "-XX1234-" convention where present and falling back to
// the Shadow-style raw 6-byte prefix otherwise.
func NewClientID(peerID string) ClientID {
	var cid ClientID
	length := len(peerID)
	if length >= 6 {
		if peerID[0] == '-' {
			if length >= 7 {
				copy(cid[:], peerID[1:7])
			}
		} else {
			copy(cid[:], peerID[:6])
		}
	}

	return cid
}
