// Package ingester implements the Fetcher Worker, Progress Tracker,
// Parallel Sync Engine, Tip Follower, and Supervisor: the components
// that turn a height into a persisted BlockBatch, and the control loop
// that decides which height to fetch next.
package ingester

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/availproject/greatest-indexer-of-all-times/internal/avail"
	"github.com/availproject/greatest-indexer-of-all-times/internal/codec"
	"github.com/availproject/greatest-indexer-of-all-times/internal/models"
	"github.com/availproject/greatest-indexer-of-all-times/internal/transform"
)

// RPC is the subset of *avail.Client the Fetcher Worker depends on, kept
// as an interface so the sync engine can be tested against a fake.
type RPC interface {
	BlockHash(ctx context.Context, height uint32) (string, error)
	FilteredExtrinsics(ctx context.Context, ref models.BlockRef, allowed []avail.AllowedCall) ([]models.RawExtrinsic, error)
	BlockSideData(ctx context.Context, ref models.BlockRef, headers avail.InherentHeaders) (avail.BlockSideData, error)
	EventsForExtrinsic(ctx context.Context, blockHash string, extIndex uint32) (avail.EventSet, error)
}

// Fetcher composes the RPC Adapter and the Block Transformer into a
// self-contained per-height task. It never retries; any step failing
// surfaces a typed *FetchError carrying the offending height.
type Fetcher struct {
	rpc             RPC
	allowed         []avail.AllowedCall
	inherentHeaders avail.InherentHeaders
	transformer     *transform.Transformer
}

// NewFetcher builds a Fetcher bound to one RPC client and call decoder.
func NewFetcher(rpc RPC, headers codec.Headers, inherents avail.InherentHeaders, decoder *codec.Decoder, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		rpc:             rpc,
		allowed:         []avail.AllowedCall{headers.SendMessage, headers.Execute, headers.AsMulti, headers.Proxy},
		inherentHeaders: inherents,
		transformer:     transform.New(decoder, rpc, logger),
	}
}

// FetchError wraps a failure with the height it was about to process so
// the Supervisor's restart path can log it meaningfully.
type FetchError struct {
	Height uint32
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetcher: height %d: %v", e.Height, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetch runs the Fetcher Worker algorithm for one height (§4.4):
// resolve the block hash (a missing hash is an error), filter extrinsics
// of that block, fetch side data, transform.
// An empty extrinsic set short-circuits to an empty, height-tagged
// batch.
func (f *Fetcher) Fetch(ctx context.Context, height uint32) (models.BlockBatch, error) {
	hash, err := f.rpc.BlockHash(ctx, height)
	if err != nil {
		return models.BlockBatch{}, &FetchError{Height: height, Err: fmt.Errorf("block hash: %w", err)}
	}
	if hash == "" {
		return models.BlockBatch{}, &FetchError{Height: height, Err: fmt.Errorf("block hash not yet available")}
	}
	ref := models.BlockRef{Height: height, Hash: hash}

	exts, err := f.rpc.FilteredExtrinsics(ctx, ref, f.allowed)
	if err != nil {
		return models.BlockBatch{}, &FetchError{Height: height, Err: fmt.Errorf("filtered extrinsics: %w", err)}
	}
	if len(exts) == 0 {
		return models.BlockBatch{Block: ref}, nil
	}

	side, err := f.rpc.BlockSideData(ctx, ref, f.inherentHeaders)
	if err != nil {
		return models.BlockBatch{}, &FetchError{Height: height, Err: fmt.Errorf("side data: %w", err)}
	}

	batch, err := f.transformer.Transform(ctx, ref, side, exts)
	if err != nil {
		return models.BlockBatch{}, &FetchError{Height: height, Err: fmt.Errorf("transform: %w", err)}
	}
	return batch, nil
}
