package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadTorrentPathTrimsWhitespace(t *testing.T) {
	path, err := readTorrentPath(strings.NewReader("  ./example.torrent  \n"))
	require.NoError(t, err)
	require.Equal(t, "./example.torrent", path)
}

func TestReadTorrentPathRejectsEmptyInput(t *testing.T) {
	_, err := readTorrentPath(strings.NewReader(""))
	require.Error(t, err)
}

func TestReadTorrentPathRejectsBlankLine(t *testing.T) {
	_, err := readTorrentPath(strings.NewReader("   \n"))
	require.Error(t, err)
}
