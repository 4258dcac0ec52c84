package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestPercentEncodeInfoHash reproduces spec.md §8 scenario 2's expected
// URL-encoded info hash exactly.
func TestPercentEncodeInfoHash(t *testing.T) {
	hash := []byte{
		0x04, 0x03, 0xFB, 0x47, 0x28, 0xBD, 0x78, 0x8F, 0xBC, 0xB6,
		0x7E, 0x87, 0xD6, 0xFE, 0xB2, 0x41, 0xEF, 0x38, 0xC7, 0x5A,
	}
	want := "%04%03%FBG(%BDx%8F%BC%B6~%87%D6%FE%B2A%EF8%C7Z"
	require.Equal(t, want, percentEncode(hash))
}

// TestParseResponseCompactPeers reproduces spec.md §8 scenario 1: a compact
// peers string of two identical 6-byte (address, port) chunks decodes to
// exactly two peers.
func TestParseResponseCompactPeers(t *testing.T) {
	chunk := []byte{78, 230, 205, 50, 0x19, 0x45} // arbitrary IPv4 + port
	peersField := append(append([]byte{}, chunk...), chunk...)
	body := append([]byte("d8:intervali1800e5:peers12:"), peersField...)
	body = append(body, 'e')

	resp, err := ParseResponse(body)
	require.NoError(t, err)
	require.Len(t, resp.Peers, 2)
	require.Equal(t, resp.Peers[0], resp.Peers[1])
	require.Equal(t, 1800*time.Second, resp.Interval)
}

func TestParseResponseFailure(t *testing.T) {
	body := "d14:failure reason13:not registerede"
	_, err := ParseResponse([]byte(body))
	require.ErrorIs(t, err, ErrTrackerFailure)
}

func TestParseResponseDictPeers(t *testing.T) {
	body := "d5:peersld2:ip9:127.0.0.17:peer id20:aaaaaaaaaaaaaaaaaaaa4:porti6881eeee"
	resp, err := ParseResponse([]byte(body))
	require.NoError(t, err)
	require.Len(t, resp.Peers, 1)
	require.Equal(t, "127.0.0.1", resp.Peers[0].IP.String())
	require.Equal(t, uint16(6881), resp.Peers[0].Port)
}

func TestAnnounceRequestURL(t *testing.T) {
	req := AnnounceRequest{
		Announce: "http://tracker.example/announce",
		Left:     1000,
		Port:     6881,
	}
	u, err := req.URL()
	require.NoError(t, err)
	require.Contains(t, u, "info_hash=")
	require.Contains(t, u, "peer_id=")
	require.Contains(t, u, "left=1000")
	require.Contains(t, u, "compact=0")
}
