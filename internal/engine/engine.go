// Package engine implements the torrent runtime (spec.md §4.7, C7): peer
// id generation, the tracker announce/re-announce loop, the pool of peer
// session goroutines, and final-file assembly once the scheduler reports
// completion.
//
// The teacher's Torrent.Download (_examples/StupidAfCoder-GoRent/torrent/torrent.go)
// drives this with a shared workQueue channel and len(peers) fixed
// goroutines that never replenish. goleech generalizes that into an
// explicit peer-address queue fed continuously by re-announces, and a
// fixed-size pool of slots supervised with golang.org/x/sync/errgroup, so
// a dropped or never-connecting peer is transparently replaced
// (SPEC_FULL.md §11, spec.md §4.7 "Peer replenishment").
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"goleech/internal/metainfo"
	"goleech/internal/peerconn"
	"goleech/internal/piece"
	"goleech/internal/progress"
	"goleech/internal/scheduler"
	"goleech/internal/tracker"
)

// Engine owns the full event loop for one torrent download.
type Engine struct {
	mi  *metainfo.Metainfo
	cfg Config

	ourID [20]byte
	port  uint16

	store     *piece.Store
	sched     *scheduler.Scheduler
	announcer *tracker.Announcer
	httpc     *http.Client
	log       *slog.Logger

	peerCh  chan string
	seenMu  sync.Mutex
	seen    map[string]bool

	attempted  atomic.Int64
	successful atomic.Int64
	idleRounds atomic.Int64
}

// New prepares an Engine for mi: creates the piece store, scans the
// temporary directory for already-persisted pieces from a previous run,
// and builds the scheduler pre-populated with that completion state
// (spec.md §4.7 steps 1-2, §6 "Persisted state").
func New(mi *metainfo.Metainfo, cfg Config) (*Engine, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "engine", "torrent", mi.Info.Name)

	ourID, err := generatePeerID()
	if err != nil {
		return nil, err
	}

	outputDir := filepath.Join(cfg.DownloadRoot, mi.Info.Name)
	store, err := piece.NewStore(outputDir, log)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	n := mi.PieceCount()
	pieceLen := func(i int) int { return int(mi.PieceLen(i)) }
	digest := func(i int) [20]byte {
		d, _ := mi.PieceHash(i)
		return d
	}

	alreadyDone, err := store.ScanCompleted(n, pieceLen, digest)
	if err != nil {
		return nil, fmt.Errorf("engine: scan persisted pieces: %w", err)
	}
	log.Info("startup scan", "total_pieces", n, "already_done", len(alreadyDone))

	var notifier scheduler.Notifier
	if cfg.Progress != nil {
		notifier = cfg.Progress
	}
	sched := scheduler.New(store, n, pieceLen, digest, cfg.MaxDigestRetries, alreadyDone, notifier, log)

	return &Engine{
		mi:        mi,
		cfg:       cfg,
		ourID:     ourID,
		port:      uint16(cfg.PortRangeLow),
		store:     store,
		sched:     sched,
		announcer: tracker.NewAnnouncer(cfg.TrackerMinBackoff),
		httpc:     &http.Client{Timeout: 30 * time.Second},
		log:       log,
		peerCh:    make(chan string, 4096),
		seen:      make(map[string]bool),
	}, nil
}

// Run issues the initial tracker announce, spawns the peer session pool,
// and blocks until the torrent completes, the context is cancelled, or
// every peer proves unreachable. On success it assembles and returns the
// path to the final output file (spec.md §4.7 step 5).
func (e *Engine) Run(ctx context.Context) (string, error) {
	resp, err := e.announce(ctx, "started")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTrackerUnreachable, err)
	}
	if len(resp.Peers) == 0 {
		return "", ErrAllPeersFailed
	}
	e.announcer.RecordSuccess(time.Now(), resp.Interval)
	e.enqueuePeers(resp.Peers)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// A plain errgroup.Group, not errgroup.WithContext: one slot ending
	// (even on error) must never cancel its siblings, only runCtx's own
	// cancellation (from watchCompletion) should do that.
	var g errgroup.Group

	poolSize := e.cfg.MaxPeers
	for i := 0; i < poolSize; i++ {
		g.Go(func() error {
			e.runSlot(runCtx)
			return nil
		})
	}
	g.Go(func() error {
		e.runAnnounceLoop(runCtx)
		return nil
	})
	g.Go(func() error {
		e.watchCompletion(runCtx, cancel)
		return nil
	})

	if err := g.Wait(); err != nil {
		return "", err
	}

	if e.sched.HasPermanentFailures() {
		return "", fmt.Errorf("%w: %d piece(s)", ErrVerificationFailed, e.sched.PermanentFailureCount())
	}

	if !e.sched.IsDone() {
		if e.successful.Load() == 0 {
			return "", ErrAllPeersFailed
		}
		return "", ctx.Err()
	}

	outPath := filepath.Join(e.cfg.DownloadRoot, e.mi.Info.Name, e.mi.Info.Name)
	if err := e.store.AssembleFinal(e.mi.PieceCount(), outPath); err != nil {
		return "", fmt.Errorf("engine: assemble final file: %w", err)
	}
	return outPath, nil
}

func (e *Engine) announce(ctx context.Context, event string) (*tracker.Response, error) {
	req := tracker.AnnounceRequest{
		Announce: e.mi.Announce,
		InfoHash: e.mi.InfoHash,
		PeerID:   e.ourID,
		Port:     e.port,
		Left:     e.mi.Info.Length - int64(e.sched.CompletedCount())*e.mi.Info.PieceLength,
		Compact:  false,
		Event:    event,
		NumWant:  200,
	}
	return tracker.Announce(ctx, e.httpc, req)
}

func (e *Engine) enqueuePeers(peers []tracker.Peer) int {
	e.seenMu.Lock()
	defer e.seenMu.Unlock()

	added := 0
	for _, p := range peers {
		addr := p.String()
		if e.seen[addr] {
			continue
		}
		e.seen[addr] = true
		select {
		case e.peerCh <- addr:
			added++
		default:
			e.log.Warn("peer queue full, dropping discovered peer", "addr", addr)
		}
	}
	return added
}

// runSlot repeatedly pulls a peer address from the shared queue, dials
// and runs a session against it, and loops until the queue is closed or
// the context is cancelled. It never propagates a single peer's failure
// upward: that peer is simply replaced (spec.md §4.7 "Peer replenishment").
func (e *Engine) runSlot(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case addr, ok := <-e.peerCh:
			if !ok {
				return
			}
			e.attempted.Add(1)
			e.runOneSession(ctx, addr)
		}
	}
}

func (e *Engine) runOneSession(ctx context.Context, addr string) {
	cfg := peerconn.Config{
		BlockSize:         e.cfg.BlockSize,
		RequestWindow:     e.cfg.RequestWindow,
		DeadTimeout:       e.cfg.DeadTimeout,
		KeepAliveInterval: e.cfg.KeepAliveInterval,
		DialTimeout:       5 * time.Second,
		HandshakeTimeout:  5 * time.Second,
	}

	sess, err := peerconn.Dial(ctx, addr, e.mi.InfoHash, e.ourID, e.mi.PieceCount(), e.sched, e.store, cfg, e.log)
	if err != nil {
		e.log.Debug("peer dial/handshake failed", "addr", addr, "err", err)
		e.cfg.Progress.PeerDroppedEvent(addr, err)
		return
	}
	e.successful.Add(1)
	e.cfg.Progress.PeerConnectedEvent(addr)

	err = sess.Run(ctx)
	e.cfg.Progress.PeerDroppedEvent(addr, err)
	e.idleRounds.Store(0)
}

// runAnnounceLoop re-announces on the tracker's reported interval
// (spec.md §4.7 "Peer replenishment ... then it re-announces"), feeding
// newly discovered peers into the shared queue.
func (e *Engine) runAnnounceLoop(ctx context.Context) {
	const pollInterval = 5 * time.Second
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.announcer.ShouldReannounce(time.Now()) {
				continue
			}
			resp, err := e.announce(ctx, "")
			if err != nil {
				e.announcer.RecordFailure(time.Now())
				e.log.Warn("re-announce failed", "err", err)
				continue
			}
			e.announcer.RecordSuccess(time.Now(), resp.Interval)
			added := e.enqueuePeers(resp.Peers)
			if added == 0 {
				e.idleRounds.Add(1)
			} else {
				e.idleRounds.Store(0)
			}
		}
	}
}

// watchCompletion cancels the run once the scheduler reports every piece
// verified, or once repeated announces turn up no new reachable peers
// while nothing has ever connected successfully.
func (e *Engine) watchCompletion(ctx context.Context, cancel context.CancelFunc) {
	const pollInterval = 500 * time.Millisecond
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.sched.IsDone() || e.sched.HasPermanentFailures() {
				cancel()
				return
			}
			if e.successful.Load() == 0 && e.idleRounds.Load() >= int64(e.cfg.MaxAnnounceAttempts) {
				cancel()
				return
			}
		}
	}
}
