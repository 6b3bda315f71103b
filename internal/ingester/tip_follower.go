package ingester

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// tipPollInterval is how long the Tip Follower sleeps when there is
// nothing new to fetch (§4.8).
const tipPollInterval = 60 * time.Second

// TipFollower is the steady-state phase: one height at a time, polling
// the finalized height until a new one appears. It is a degenerate
// Parallel Sync Engine with a pool of exactly one worker, kept as its
// own type because its idle-wait behavior (§4.8's "sleep and repeat")
// has no equivalent in the sync engine's always-busy round loop.
type TipFollower struct {
	fetcher  *Fetcher
	store    Store
	progress *Progress
	rpc      HeightSource
	logger   *zap.Logger
}

// NewTipFollower builds a follower bound to the same fetcher, store, and
// progress tracker the sync engine uses, so the handoff between the two
// phases carries no state translation.
func NewTipFollower(fetcher *Fetcher, store Store, progress *Progress, rpc HeightSource, logger *zap.Logger) *TipFollower {
	return &TipFollower{fetcher: fetcher, store: store, progress: progress, rpc: rpc, logger: logger}
}

// RunOnce executes one iteration: refresh the finalized height; if
// next_height is not yet finalized, sleep and report no progress; else
// fetch, persist, and advance by exactly one height.
func (t *TipFollower) RunOnce(ctx context.Context) error {
	finalized, err := t.rpc.FinalizedHeight(ctx)
	if err != nil {
		return err
	}
	t.progress.FinalizedHeight = finalized

	if t.progress.NextHeight > finalized {
		select {
		case <-time.After(tipPollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	height := t.progress.NextHeight
	batch, err := t.fetcher.Fetch(ctx, height)
	if err != nil {
		t.logger.Error("fetch failed", zap.Uint32("height", height), zap.Error(err))
		select {
		case <-time.After(roundBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}
	if err := t.store.SaveBatch(ctx, batch); err != nil {
		t.logger.Error("persist failed", zap.Uint32("height", height), zap.Error(err))
		select {
		case <-time.After(roundBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	t.progress.NextHeight = height + 1
	return nil
}
