// Package metainfo decodes .torrent files into the typed Metainfo the rest
// of goleech works with, computing the info hash from the exact byte range
// the "info" dictionary occupied in the source file (spec.md §3).
package metainfo

import (
	"crypto/sha1"
	"fmt"
	"io"

	"goleech/internal/bencode"
)

// Info holds the attributes of the metainfo "info" dictionary needed to
// drive a single-file download (spec.md §3).
type Info struct {
	Name        string
	PieceLength int64
	Length      int64
	Pieces      []byte // concatenated 20-byte SHA-1 digests, one per piece
}

// Metainfo is the parsed, hash-stamped form of a .torrent file.
type Metainfo struct {
	Announce string
	Info     Info
	InfoHash [20]byte
}

const digestSize = sha1.Size

// Parse decodes a .torrent file's bytes into a Metainfo, computing InfoHash
// from the raw bytes of the "info" value (never from a re-encoding, per
// spec.md §3's stability invariant).
func Parse(r io.Reader) (*Metainfo, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("metainfo: read: %w", err)
	}

	top, infoStart, infoEnd, ok, err := bencode.ExtractInfoSlice(raw)
	if err != nil {
		return nil, fmt.Errorf("metainfo: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: metainfo has no \"info\" dictionary", bencode.ErrMalformed)
	}

	announce, ok := top.GetString("announce")
	if !ok {
		return nil, fmt.Errorf("%w: metainfo has no \"announce\" string", bencode.ErrMalformed)
	}

	infoVal, ok := top.GetDict("info")
	if !ok {
		return nil, fmt.Errorf("%w: \"info\" is not a dictionary", bencode.ErrMalformed)
	}

	name, _ := infoVal.GetString("name")
	pieceLength, ok := infoVal.GetInt("piece length")
	if !ok || pieceLength <= 0 {
		return nil, fmt.Errorf("%w: \"piece length\" must be a positive integer", bencode.ErrMalformed)
	}
	length, ok := infoVal.GetInt("length")
	if !ok || length < 0 {
		return nil, fmt.Errorf("%w: \"length\" must be a non-negative integer", bencode.ErrMalformed)
	}
	pieces, ok := infoVal.GetString("pieces")
	if !ok || len(pieces)%digestSize != 0 {
		return nil, fmt.Errorf("%w: \"pieces\" must be a multiple of %d bytes", bencode.ErrMalformed, digestSize)
	}

	infoHash := sha1.Sum(raw[infoStart:infoEnd])

	return &Metainfo{
		Announce: string(announce),
		InfoHash: infoHash,
		Info: Info{
			Name:        string(name),
			PieceLength: pieceLength,
			Length:      length,
			Pieces:      append([]byte(nil), pieces...),
		},
	}, nil
}

// PieceCount returns N = ceil(total_length / piece_length) (spec.md §3).
func (m *Metainfo) PieceCount() int {
	if m.Info.PieceLength == 0 {
		return 0
	}
	n := m.Info.Length / m.Info.PieceLength
	if m.Info.Length%m.Info.PieceLength != 0 {
		n++
	}
	return int(n)
}

// PieceHash returns the expected 20-byte SHA-1 digest for piece index,
// sliced from the "pieces" string (spec.md §3).
func (m *Metainfo) PieceHash(index int) ([digestSize]byte, error) {
	var out [digestSize]byte
	start := index * digestSize
	end := start + digestSize
	if index < 0 || end > len(m.Info.Pieces) {
		return out, fmt.Errorf("metainfo: piece index %d out of range", index)
	}
	copy(out[:], m.Info.Pieces[start:end])
	return out, nil
}

// PieceLen returns the expected length of piece index: PieceLength for all
// pieces except possibly the last, which may be shorter (spec.md §3, §9
// open question (a) — resolved by following this rule strictly).
func (m *Metainfo) PieceLen(index int) int64 {
	n := m.PieceCount()
	if index == n-1 {
		remainder := m.Info.Length % m.Info.PieceLength
		if remainder != 0 {
			return remainder
		}
	}
	return m.Info.PieceLength
}
