package ingester

import (
	"context"
	"fmt"
)

// HeightSource is the subset of *avail.Client the Progress Tracker needs
// to resolve a cold-start cursor with no DB history.
type HeightSource interface {
	FinalizedHeight(ctx context.Context) (uint32, error)
}

// HeightStore is the subset of *repository.Repository the Progress
// Tracker needs to resolve a resume point.
type HeightStore interface {
	HighestIndexedHeight(ctx context.Context) (height uint32, ok bool, err error)
}

// Progress owns the only two mutable cursors in the system: the next
// height to fetch and the latest known finalized height. It is mutated
// exclusively by the Supervisor; workers receive their assignment by
// value and never see this struct.
type Progress struct {
	explicitStart *uint32
	store         HeightStore
	rpc           HeightSource

	NextHeight      uint32
	FinalizedHeight uint32
}

// NewProgress builds a tracker. explicitStart, when non-nil, pins the
// resume point regardless of DB state (§4.6 step 1).
func NewProgress(store HeightStore, rpc HeightSource, explicitStart *uint32) *Progress {
	return &Progress{explicitStart: explicitStart, store: store, rpc: rpc}
}

// ResolveStart computes NextHeight per §4.6: an explicit configured
// height wins outright; otherwise the highest already-indexed height is
// re-processed (NOT height+1 — see scenario 6, crash recovery mid-batch);
// with no DB history at all, start at the chain's current finalized
// height.
func (p *Progress) ResolveStart(ctx context.Context) error {
	if p.explicitStart != nil {
		p.NextHeight = *p.explicitStart
		return p.refreshFinalized(ctx)
	}

	highest, ok, err := p.store.HighestIndexedHeight(ctx)
	if err != nil {
		return fmt.Errorf("progress: resolving start from db: %w", err)
	}
	if ok {
		p.NextHeight = highest
		return p.refreshFinalized(ctx)
	}

	finalized, err := p.rpc.FinalizedHeight(ctx)
	if err != nil {
		return fmt.Errorf("progress: resolving start from rpc: %w", err)
	}
	p.NextHeight = finalized
	p.FinalizedHeight = finalized
	return nil
}

func (p *Progress) refreshFinalized(ctx context.Context) error {
	finalized, err := p.rpc.FinalizedHeight(ctx)
	if err != nil {
		return fmt.Errorf("progress: refreshing finalized height: %w", err)
	}
	p.FinalizedHeight = finalized
	return nil
}

// Remaining is the number of heights, inclusive, still to index.
func (p *Progress) Remaining() uint32 {
	if p.NextHeight > p.FinalizedHeight {
		return 0
	}
	return p.FinalizedHeight - p.NextHeight + 1
}
