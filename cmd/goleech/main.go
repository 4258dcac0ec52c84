// Command goleech is a headless BitTorrent leecher: it reads a .torrent
// file path from standard input, downloads every piece from the swarm,
// verifies it, and writes the assembled file to disk (spec.md §6 "CLI
// surface").
//
// The teacher (_examples/StupidAfCoder-GoRent/main.go) reads the
// bencoded .torrent bytes themselves from stdin or a file argument and
// panics/log.Fatals on any error. goleech's stdin contract is a path,
// not the file bytes, and failures are distinguished by exit code
// rather than collapsed into log.Fatal, but the open-then-parse-then-run
// shape below is the same one the teacher's main follows.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"goleech/internal/bencode"
	"goleech/internal/engine"
	"goleech/internal/metainfo"
	"goleech/internal/progress"
)

const (
	exitSuccess = iota
	exitMalformedInput
	exitTrackerFailure
	exitAllPeersFailed
	exitVerificationFailed
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		maxPeers     = flag.Int("max-peers", engine.DefaultConfig().MaxPeers, "maximum concurrent peer connections")
		downloadRoot = flag.String("download-root", engine.DefaultConfig().DownloadRoot, "directory to store in-progress and completed downloads")
		verbose      = flag.Bool("verbose", false, "enable debug-level logging")
	)
	flag.Parse()

	runID := uuid.NewString()
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})).With("run_id", runID)

	path, err := readTorrentPath(os.Stdin)
	if err != nil {
		log.Error("failed to read torrent path from stdin", "err", err)
		return exitMalformedInput
	}

	f, err := os.Open(path)
	if err != nil {
		log.Error("failed to open torrent file", "path", path, "err", err)
		return exitMalformedInput
	}
	defer f.Close()

	mi, err := metainfo.Parse(f)
	if err != nil {
		log.Error("failed to parse torrent file", "path", path, "err", err)
		return exitMalformedInput
	}

	cfg := engine.DefaultConfig()
	cfg.MaxPeers = *maxPeers
	cfg.DownloadRoot = *downloadRoot
	cfg.Logger = log
	cfg.Progress = progress.NewSink(256)
	defer cfg.Progress.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go logProgress(log, cfg.Progress)

	eng, err := engine.New(mi, cfg)
	if err != nil {
		log.Error("failed to initialize engine", "err", err)
		return exitMalformedInput
	}

	log.Info("starting download", "name", mi.Info.Name, "pieces", mi.PieceCount())
	outPath, err := eng.Run(ctx)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrTrackerUnreachable):
			log.Error("tracker announce failed", "err", err)
			return exitTrackerFailure
		case errors.Is(err, engine.ErrVerificationFailed):
			log.Error("piece verification failed beyond retry budget", "err", err)
			return exitVerificationFailed
		case errors.Is(err, engine.ErrAllPeersFailed):
			log.Error("no peer could be reached", "err", err)
			return exitAllPeersFailed
		default:
			log.Error("download aborted", "err", err)
			return exitAllPeersFailed
		}
	}

	fmt.Fprintln(os.Stdout, outPath)
	log.Info("download complete", "path", outPath)
	return exitSuccess
}

// readTorrentPath reads a single line from r and returns it trimmed of
// surrounding whitespace and a trailing newline.
func readTorrentPath(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return "", fmt.Errorf("%w: no torrent path on stdin", bencode.ErrMalformed)
	}
	path := strings.TrimSpace(scanner.Text())
	if path == "" {
		return "", fmt.Errorf("%w: empty torrent path", bencode.ErrMalformed)
	}
	return path, nil
}

// logProgress drains the progress sink and logs each event at debug
// level until the sink is closed. Running it in its own goroutine keeps
// the engine from ever blocking on a slow or absent observer
// (SPEC_FULL.md §12).
func logProgress(log *slog.Logger, sink *progress.Sink) {
	for ev := range sink.Events() {
		switch ev.Kind {
		case progress.PeerConnected:
			log.Debug("peer connected", "addr", ev.PeerAddr)
		case progress.PeerDropped:
			log.Debug("peer dropped", "addr", ev.PeerAddr, "err", ev.Err)
		case progress.PieceVerified:
			log.Debug("piece verified", "index", ev.PieceIndex)
		case progress.PieceFailed:
			log.Debug("piece failed digest check", "index", ev.PieceIndex, "attempt", ev.Attempt)
		case progress.Done:
			log.Debug("all pieces verified")
		}
	}
}
