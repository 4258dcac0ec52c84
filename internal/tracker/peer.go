package tracker

import (
	"fmt"
	"net"
	"strconv"
)

// Peer is a peer descriptor derived from the tracker's peer list (spec.md
// §3: "IPv4 address + TCP port").
type Peer struct {
	IP   net.IP
	Port uint16
}

// String renders the peer as a dialable "host:port" address.
func (p Peer) String() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port)))
}

const compactPeerSize = 6

// parseIPString parses the textual "ip" field of a dictionary-form peer
// entry, returning nil if it is not a valid address.
func parseIPString(s string) net.IP {
	return net.ParseIP(s)
}

// parseCompactPeers decodes the tracker's compact peer list: 6 bytes per
// peer, the first 4 the address big-endian, the last 2 the port big-endian
// (spec.md §3, §8 scenario 1).
func parseCompactPeers(b []byte) ([]Peer, error) {
	if len(b)%compactPeerSize != 0 {
		return nil, fmt.Errorf("tracker: compact peers length %d is not a multiple of %d", len(b), compactPeerSize)
	}
	n := len(b) / compactPeerSize
	peers := make([]Peer, n)
	for i := 0; i < n; i++ {
		off := i * compactPeerSize
		ip := make(net.IP, 4)
		copy(ip, b[off:off+4])
		port := uint16(b[off+4])<<8 | uint16(b[off+5])
		peers[i] = Peer{IP: ip, Port: port}
	}
	return peers, nil
}
