// Package avail implements the RPC Adapter: a thin, non-retrying surface
// over a single Avail JSON-RPC endpoint exposing finalized-height lookup,
// block-hash lookup, filtered encoded-extrinsic queries, and
// per-extrinsic event queries. It never fails over between nodes and
// never retries — that policy lives entirely at the Supervisor.
package avail

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itering/substrate-api-rpc/metadata"
	"github.com/itering/substrate-api-rpc/model"
	"github.com/itering/substrate-api-rpc/rpc"
	"github.com/itering/substrate-api-rpc/storageKey"
	"github.com/itering/substrate-api-rpc/util"
	"github.com/itering/substrate-api-rpc/websocket"
	"golang.org/x/time/rate"

	"github.com/availproject/greatest-indexer-of-all-times/internal/codec"
	"github.com/availproject/greatest-indexer-of-all-times/internal/models"
)

// MainnetEndpoint is the default Avail RPC endpoint used when AVAIL_URL is
// not configured.
const MainnetEndpoint = "wss://mainnet.avail-rpc.com/"

// AllowedCall is one (pallet, variant) pair the caller wants extrinsics
// filtered down to.
type AllowedCall = codec.Header

// EventSet answers the questions the Block Transformer needs about an
// extrinsic's events without exposing the raw event stream.
type EventSet struct {
	HasExtrinsicSuccess bool
	HasExtrinsicFailed  bool
	MultisigExecutedOk  *bool // tri-state: nil when no MultisigExecuted event was present
	ProxyExecutedOk     *bool
}

// Client is a single, unpooled connection to one Avail node. It never
// retries and never fails over — that policy lives entirely at the
// Supervisor.
type Client struct {
	endpoint string
	limiter  *rate.Limiter

	metaBySpec map[int]*metadata.Instant
}

// NewClient points the shared websocket transport at a single Avail RPC
// endpoint. It opens no connection itself; the websocket package does so
// on the first request.
func NewClient(ctx context.Context, endpoint string) (*Client, error) {
	if endpoint == "" {
		endpoint = MainnetEndpoint
	}
	websocket.SetEndpoint(endpoint)
	return &Client{
		endpoint:   endpoint,
		limiter:    rate.NewLimiter(rate.Limit(50), 50),
		metaBySpec: make(map[int]*metadata.Instant),
	}, nil
}

// Close is a no-op. The websocket package manages a single shared
// connection per endpoint, so a Client holds nothing of its own to
// release.
func (c *Client) Close() error {
	return nil
}

func (c *Client) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// FinalizedHeight returns the latest finalized block height.
func (c *Client) FinalizedHeight(ctx context.Context) (uint32, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	var result model.JsonRpcResult
	if err := websocket.SendWsRequest(nil, &result, rpc.ChainGetFinalizedHead(nil)); err != nil {
		return 0, fmt.Errorf("avail: finalized head: %w", err)
	}
	hash, ok := result.Result.(string)
	if !ok || hash == "" {
		return 0, fmt.Errorf("avail: finalized head: unexpected result %v", result.Result)
	}

	var headerResult model.JsonRpcResult
	if err := websocket.SendWsRequest(nil, &headerResult, rpc.ChainGetHeader(nil, hash)); err != nil {
		return 0, fmt.Errorf("avail: header for finalized head: %w", err)
	}
	height, err := decodeHeaderNumber(headerResult.Result)
	if err != nil {
		return 0, fmt.Errorf("avail: header for finalized head: %w", err)
	}
	return height, nil
}

// BlockHash resolves the canonical hash for a height. A missing height
// (not yet produced) is reported as ("", nil).
func (c *Client) BlockHash(ctx context.Context, height uint32) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	var result model.JsonRpcResult
	if err := websocket.SendWsRequest(nil, &result, rpc.GetChainGetBlockHash(nil, int(height))); err != nil {
		return "", fmt.Errorf("avail: block hash for height %d: %w", height, err)
	}
	hash, _ := result.Result.(string)
	return hash, nil
}

// FilteredExtrinsics fetches a block's extrinsics and returns only those
// whose (pallet,variant) header is in allowed, preserving on-chain index
// order.
func (c *Client) FilteredExtrinsics(ctx context.Context, ref models.BlockRef, allowed []AllowedCall) ([]models.RawExtrinsic, error) {
	block, err := c.getBlock(ctx, ref)
	if err != nil {
		return nil, err
	}

	rawExts, err := decodeBlockExtrinsics(block)
	if err != nil {
		return nil, fmt.Errorf("avail: decoding extrinsics for block %d: %w", ref.Height, err)
	}

	allowedSet := make(map[AllowedCall]struct{}, len(allowed))
	for _, a := range allowed {
		allowedSet[a] = struct{}{}
	}

	out := make([]models.RawExtrinsic, 0, len(rawExts))
	for i, re := range rawExts {
		key := AllowedCall{Pallet: re.PalletID, Variant: re.VariantID}
		if _, ok := allowedSet[key]; !ok {
			continue
		}
		re.Index = uint32(i)
		out = append(out, re)
	}
	return out, nil
}

func (c *Client) getBlock(ctx context.Context, ref models.BlockRef) (*blockRPCResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	var blockResult model.JsonRpcResult
	if err := websocket.SendWsRequest(nil, &blockResult, rpc.ChainGetBlock(nil, ref.Hash)); err != nil {
		return nil, fmt.Errorf("avail: block %d (%s): %w", ref.Height, ref.Hash, err)
	}
	return unmarshalBlock(blockResult.Result)
}

// BlockSideData is the per-block correlation data the Block Transformer
// needs: the authoring timestamp and the set of SendMessage extrinsic
// indices that post-hoc failed validation.
type BlockSideData struct {
	Timestamp time.Time
	FailedTxs map[uint32]struct{}
}

// BlockSideData fetches the block's mandatory Timestamp::Set and
// Vector::FailedSendMessageTxs inherents in a single filtered query.
// Absence of either is a hard error — both are chain-mandated per block.
func (c *Client) BlockSideData(ctx context.Context, ref models.BlockRef, headers InherentHeaders) (BlockSideData, error) {
	block, err := c.getBlock(ctx, ref)
	if err != nil {
		return BlockSideData{}, err
	}
	ts, failed, err := decodeInherents(block, headers)
	if err != nil {
		return BlockSideData{}, fmt.Errorf("avail: side data for block %d: %w", ref.Height, err)
	}
	return BlockSideData{Timestamp: ts, FailedTxs: failed}, nil
}

// EventsForExtrinsic fetches the event set for one extrinsic index via
// System.Events storage at the given block hash.
func (c *Client) EventsForExtrinsic(ctx context.Context, blockHash string, extIndex uint32) (EventSet, error) {
	if err := c.wait(ctx); err != nil {
		return EventSet{}, err
	}
	meta, err := c.metadataAt(ctx, blockHash)
	if err != nil {
		return EventSet{}, fmt.Errorf("avail: metadata at %s: %w", blockHash, err)
	}

	key := storageKey.EncodeStorageKey("System", "Events")
	var result model.JsonRpcResult
	if err := websocket.SendWsRequest(nil, &result, rpc.StateGetStorage(nil, key.EncodeKey, blockHash)); err != nil {
		return EventSet{}, fmt.Errorf("avail: events for ext %d at %s: %w", extIndex, blockHash, err)
	}
	raw, _ := result.Result.(string)

	decoded, err := util.DecodeEvent(raw, meta)
	if err != nil {
		return EventSet{}, fmt.Errorf("avail: decoding events at %s: %w", blockHash, err)
	}
	events, err := toDecodedEvents(decoded)
	if err != nil {
		return EventSet{}, fmt.Errorf("avail: interpreting decoded events at %s: %w", blockHash, err)
	}
	return buildEventSet(events, extIndex), nil
}

// toDecodedEvents normalizes util.DecodeEvent's result into the minimal
// shape this adapter reads, via a JSON round-trip so the exact
// library-side struct (which varies slightly across substrate-api-rpc
// releases) never needs to be named here.
func toDecodedEvents(decoded any) ([]decodedEvent, error) {
	b, err := json.Marshal(decoded)
	if err != nil {
		return nil, err
	}
	var events []decodedEvent
	if err := json.Unmarshal(b, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *Client) metadataAt(ctx context.Context, blockHash string) (*metadata.Instant, error) {
	var runtimeResult model.JsonRpcResult
	if err := websocket.SendWsRequest(nil, &runtimeResult, rpc.ChainGetRuntimeVersion(0, blockHash)); err != nil {
		return nil, fmt.Errorf("runtime version: %w", err)
	}
	b, err := json.Marshal(runtimeResult.Result)
	if err != nil {
		return nil, err
	}
	var runtime struct {
		SpecVersion int `json:"specVersion"`
	}
	if err := json.Unmarshal(b, &runtime); err != nil {
		return nil, err
	}

	if meta, ok := c.metaBySpec[runtime.SpecVersion]; ok {
		return meta, nil
	}

	rawMeta, err := rpc.GetMetadataByHash(nil, blockHash)
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	meta := metadata.RegNewMetadataType(runtime.SpecVersion, rawMeta)
	if meta == nil {
		return nil, fmt.Errorf("metadata: failed to register spec version %d", runtime.SpecVersion)
	}
	c.metaBySpec[runtime.SpecVersion] = meta
	return meta, nil
}

func decodeHeaderNumber(result any) (uint32, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return 0, err
	}
	var header struct {
		Number string `json:"number"`
	}
	if err := json.Unmarshal(b, &header); err != nil {
		return 0, err
	}
	var n uint32
	if _, err := fmt.Sscanf(header.Number, "0x%x", &n); err != nil {
		return 0, fmt.Errorf("parsing header number %q: %w", header.Number, err)
	}
	return n, nil
}
