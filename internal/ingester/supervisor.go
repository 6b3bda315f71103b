package ingester

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// fatalBackoff is how long the Supervisor waits before re-acquiring the
// cursor and restarting after a round of the run loop returns an error
// that isn't a plain context cancellation (§4.9).
const fatalBackoff = 30 * time.Second

// Supervisor drives the top-level state machine: resolve a starting
// cursor, then alternate between the Parallel Sync Engine and the Tip
// Follower depending on how far behind the tip the cursor is, restarting
// from a freshly re-read cursor whenever a phase returns an error.
type Supervisor struct {
	progress    *Progress
	syncEngine  *SyncEngine
	tipFollower *TipFollower
	logInterval time.Duration
	logger      *zap.Logger
}

// NewSupervisor wires the already-constructed phases together. Init-time
// failures (config, DB connect, RPC connect) happen before this
// constructor is ever called, in main; everything reachable from Run is
// a runtime condition and is never terminal.
func NewSupervisor(progress *Progress, syncEngine *SyncEngine, tipFollower *TipFollower, logIntervalMS uint32, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		progress:    progress,
		syncEngine:  syncEngine,
		tipFollower: tipFollower,
		logInterval: time.Duration(logIntervalMS) * time.Millisecond,
		logger:      logger,
	}
}

// Run resolves the initial cursor and then loops forever, switching
// between Sync and Follow per Threshold, restarting from a re-resolved
// cursor after any error, until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.progress.ResolveStart(ctx); err != nil {
		return err
	}

	heartbeat := newHeartbeat(s.progress, s.logInterval, s.logger)
	defer heartbeat.stop()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var err error
		if s.progress.Remaining() > Threshold {
			err = s.syncEngine.RunRound(ctx)
		} else {
			if refreshErr := s.refreshFinalized(ctx); refreshErr != nil {
				err = refreshErr
			} else {
				err = s.tipFollower.RunOnce(ctx)
			}
		}

		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Error("run loop error, backing off before restart", zap.Duration("backoff", fatalBackoff), zap.Error(err))
		select {
		case <-time.After(fatalBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		if resolveErr := s.progress.ResolveStart(ctx); resolveErr != nil {
			s.logger.Error("failed to re-resolve cursor after error, retrying", zap.Error(resolveErr))
		}
	}
}

func (s *Supervisor) refreshFinalized(ctx context.Context) error {
	return s.progress.refreshFinalized(ctx)
}

// heartbeat emits {last_indexed, finalized, remaining, bps} on
// logInterval, computing bps from the delta since the previous tick.
type heartbeat struct {
	progress *Progress
	logger   *zap.Logger
	ticker   *time.Ticker
	done     chan struct{}

	lastNext uint32
	lastTick time.Time
}

func newHeartbeat(progress *Progress, interval time.Duration, logger *zap.Logger) *heartbeat {
	if interval <= 0 {
		interval = time.Minute
	}
	h := &heartbeat{
		progress: progress,
		logger:   logger,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		lastNext: progress.NextHeight,
		lastTick: time.Now(),
	}
	go h.loop()
	return h
}

func (h *heartbeat) loop() {
	for {
		select {
		case <-h.done:
			return
		case now := <-h.ticker.C:
			next := h.progress.NextHeight
			elapsedMS := now.Sub(h.lastTick).Milliseconds()
			var bps float64
			if elapsedMS > 0 && next >= h.lastNext {
				bps = float64(next-h.lastNext) * 1000 / float64(elapsedMS)
			}
			var lastIndexed uint32
			if next > 0 {
				lastIndexed = next - 1
			}
			h.logger.Info("heartbeat",
				zap.Uint32("last_indexed", lastIndexed),
				zap.Uint32("finalized", h.progress.FinalizedHeight),
				zap.Uint32("remaining", h.progress.Remaining()),
				zap.Float64("bps", bps),
			)
			h.lastNext = next
			h.lastTick = now
		}
	}
}

func (h *heartbeat) stop() {
	h.ticker.Stop()
	close(h.done)
}
