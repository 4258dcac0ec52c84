// Package tracker builds the HTTP announce request and decodes the
// bencoded tracker response into peer descriptors (spec.md §4.6).
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"goleech/internal/bencode"
)

// ErrTrackerFailure wraps the tracker's "failure reason" field (spec.md §7).
var ErrTrackerFailure = errors.New("tracker: failure reported")

// AnnounceRequest holds the parameters of a client->tracker GET request
// (spec.md §4.6).
type AnnounceRequest struct {
	Announce   string
	InfoHash   [20]byte
	PeerID     [20]byte
	Port       uint16
	Uploaded   int64
	Downloaded int64
	Left       int64
	Compact    bool
	Event      string
	NumWant    int
}

// isUnreserved reports whether b is in the RFC 3986 unreserved byte set
// that passes through percent-encoding unescaped (spec.md §6).
func isUnreserved(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '-' || b == '_' || b == '.' || b == '~':
		return true
	default:
		return false
	}
}

// percentEncode escapes raw bytes per spec.md §6: unreserved bytes pass
// through verbatim, everything else becomes uppercase-hex "%XX". This is
// deliberately not url.QueryEscape, which escapes space as "+" and treats a
// different byte set as safe — info_hash and peer_id are raw 20-byte
// digests, not text, and must round-trip byte-for-byte.
func percentEncode(b []byte) string {
	const hex = "0123456789ABCDEF"
	out := make([]byte, 0, len(b)*3)
	for _, c := range b {
		if isUnreserved(c) {
			out = append(out, c)
		} else {
			out = append(out, '%', hex[c>>4], hex[c&0x0f])
		}
	}
	return string(out)
}

// URL builds the full announce GET URL for req.
func (req AnnounceRequest) URL() (string, error) {
	base, err := url.Parse(req.Announce)
	if err != nil {
		return "", fmt.Errorf("tracker: invalid announce url: %w", err)
	}

	compact := "0"
	if req.Compact {
		compact = "1"
	}
	numWant := req.NumWant
	if numWant == 0 {
		numWant = 200
	}

	params := url.Values{
		"port":       []string{strconv.Itoa(int(req.Port))},
		"uploaded":   []string{strconv.FormatInt(req.Uploaded, 10)},
		"downloaded": []string{strconv.FormatInt(req.Downloaded, 10)},
		"left":       []string{strconv.FormatInt(req.Left, 10)},
		"compact":    []string{compact},
		"numwant":    []string{strconv.Itoa(numWant)},
	}
	if req.Event != "" {
		params.Set("event", req.Event)
	}
	base.RawQuery = params.Encode()
	base.RawQuery += "&info_hash=" + percentEncode(req.InfoHash[:])
	base.RawQuery += "&peer_id=" + percentEncode(req.PeerID[:])
	return base.String(), nil
}

// Response is the decoded, relevant subset of a tracker's announce
// response (spec.md §4.6).
type Response struct {
	Interval time.Duration
	Peers    []Peer
}

// Announce issues the GET request and decodes the bencoded response.
func Announce(ctx context.Context, httpClient *http.Client, req AnnounceRequest) (*Response, error) {
	reqURL, err := req.URL()
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("tracker: build request: %w", err)
	}

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tracker: announce: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tracker: read response: %w", err)
	}

	return ParseResponse(body)
}

// ParseResponse decodes a bencoded tracker response, accepting both the
// compact (byte-string) and non-compact (list-of-dicts) peer encodings
// (spec.md §4.6, §6).
func ParseResponse(body []byte) (*Response, error) {
	val, _, err := bencode.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bencode.ErrMalformed, err)
	}
	if val.Kind != bencode.KindDict {
		return nil, fmt.Errorf("%w: tracker response is not a dictionary", bencode.ErrMalformed)
	}

	if reason, ok := val.GetString("failure reason"); ok {
		return nil, fmt.Errorf("%w: %s", ErrTrackerFailure, reason)
	}

	interval := 60 * time.Second
	if n, ok := val.GetInt("interval"); ok && n > 0 {
		interval = time.Duration(n) * time.Second
	}

	peersVal, hasPeers := val.Dict["peers"]
	if !hasPeers {
		return &Response{Interval: interval}, nil
	}

	var peers []Peer
	switch peersVal.Kind {
	case bencode.KindString:
		peers, err = parseCompactPeers(peersVal.Str)
		if err != nil {
			return nil, err
		}
	case bencode.KindList:
		peers, err = parseDictPeers(peersVal.List)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: \"peers\" has unexpected shape", bencode.ErrMalformed)
	}

	return &Response{Interval: interval, Peers: peers}, nil
}

func parseDictPeers(list []bencode.Value) ([]Peer, error) {
	peers := make([]Peer, 0, len(list))
	for _, item := range list {
		if item.Kind != bencode.KindDict {
			return nil, fmt.Errorf("%w: peer list entry is not a dictionary", bencode.ErrMalformed)
		}
		ipStr, ok := item.GetString("ip")
		if !ok {
			return nil, fmt.Errorf("%w: peer entry missing \"ip\"", bencode.ErrMalformed)
		}
		port, ok := item.GetInt("port")
		if !ok {
			return nil, fmt.Errorf("%w: peer entry missing \"port\"", bencode.ErrMalformed)
		}
		ip := parseIPString(string(ipStr))
		if ip == nil {
			return nil, fmt.Errorf("%w: peer entry has unparseable ip %q", bencode.ErrMalformed, ipStr)
		}
		peers = append(peers, Peer{IP: ip, Port: uint16(port)})
	}
	return peers, nil
}
