package ingester

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/availproject/greatest-indexer-of-all-times/internal/models"
)

// Threshold is the switch point between the Parallel Sync Engine and the
// Tip Follower (§4.7/§4.8): the sync engine runs while
// next_height <= finalized_height - Threshold.
const Threshold = 10

// roundBackoff is how long the sync engine sleeps before retrying a
// round that hit a fetch or persistence error (§4.7 step 7).
const roundBackoff = 30 * time.Second

// Store is the subset of *repository.Repository the sync engine and tip
// follower need to persist a batch.
type Store interface {
	SaveBatch(ctx context.Context, batch models.BlockBatch) error
}

// SyncEngine is the catch-up phase: a bounded pool of fetcher workers,
// fanned out per round and drained in assignment order so persistence
// stays strictly monotone by height.
type SyncEngine struct {
	fetcher      *Fetcher
	store        Store
	progress     *Progress
	maxTaskCount uint32
	logger       *zap.Logger

	poolSize uint32 // last logged pool size, purely for transition logging
}

// NewSyncEngine builds a sync engine bound to one fetcher, store, and
// progress tracker.
func NewSyncEngine(fetcher *Fetcher, store Store, progress *Progress, maxTaskCount uint32, logger *zap.Logger) *SyncEngine {
	if maxTaskCount == 0 {
		maxTaskCount = 1
	}
	return &SyncEngine{fetcher: fetcher, store: store, progress: progress, maxTaskCount: maxTaskCount, logger: logger}
}

type fetchOutcome struct {
	height uint32
	batch  models.BlockBatch
	err    error
}

// RunRound executes one round of §4.7's algorithm. On a fetch or
// persistence error it logs, sleeps roundBackoff, and returns nil so the
// caller's loop simply tries again on the (unchanged or partially
// advanced) cursor — the spec's "sleep 30s ... retry" is handled here
// rather than escalated, matching the per-round retry described in
// §4.7 step 7. Only a context cancellation is returned as an error.
func (e *SyncEngine) RunRound(ctx context.Context) error {
	remaining := e.progress.Remaining()
	want := remaining
	if want > e.maxTaskCount {
		want = e.maxTaskCount
	}
	if want == 0 {
		return nil
	}

	e.resizePool(want)

	start := e.progress.NextHeight
	outcomes := make([]fetchOutcome, want)

	type assignment struct {
		idx    int
		height uint32
	}
	work := make(chan assignment, want)
	for i := uint32(0); i < want; i++ {
		work <- assignment{idx: int(i), height: start + i}
	}
	close(work)

	results := make(chan fetchOutcome, want)
	for i := uint32(0); i < want; i++ {
		go func() {
			a, ok := <-work
			if !ok {
				return
			}
			batch, err := e.fetcher.Fetch(ctx, a.height)
			results <- fetchOutcome{height: a.height, batch: batch, err: err}
			_ = a.idx
		}()
	}

	byHeight := make(map[uint32]fetchOutcome, want)
	for i := uint32(0); i < want; i++ {
		select {
		case r := <-results:
			byHeight[r.height] = r
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for i := uint32(0); i < want; i++ {
		outcomes[i] = byHeight[start+i]
	}

	lastPersisted := start
	havePersisted := false
	for _, o := range outcomes {
		if o.err != nil {
			e.logger.Error("fetch failed", zap.Uint32("height", o.height), zap.Error(o.err))
			break
		}
		if err := e.store.SaveBatch(ctx, o.batch); err != nil {
			e.logger.Error("persist failed", zap.Uint32("height", o.height), zap.Error(err))
			break
		}
		lastPersisted = o.height
		havePersisted = true
	}

	if havePersisted {
		e.progress.NextHeight = lastPersisted + 1
	}
	if !havePersisted || lastPersisted < start+want-1 {
		select {
		case <-time.After(roundBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (e *SyncEngine) resizePool(want uint32) {
	if want == e.poolSize {
		return
	}
	if want > e.poolSize {
		e.logger.Info("growing fetcher pool", zap.Uint32("from", e.poolSize), zap.Uint32("to", want))
	} else {
		e.logger.Info("shrinking fetcher pool", zap.Uint32("from", e.poolSize), zap.Uint32("to", want))
	}
	e.poolSize = want
	if want < e.maxTaskCount {
		e.logger.Info("running with reduced pool size: approaching finalized tip",
			zap.Uint32("pool_size", want), zap.Uint32("max_task_count", e.maxTaskCount))
	}
}
