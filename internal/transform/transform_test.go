package transform

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/availproject/greatest-indexer-of-all-times/internal/avail"
	"github.com/availproject/greatest-indexer-of-all-times/internal/codec"
	"github.com/availproject/greatest-indexer-of-all-times/internal/models"
)

var testHeaders = codec.Headers{
	SendMessage: codec.Header{Pallet: 1, Variant: 0},
	Execute:     codec.Header{Pallet: 1, Variant: 1},
	AsMulti:     codec.Header{Pallet: 2, Variant: 0},
	Proxy:       codec.Header{Pallet: 3, Variant: 0},
}

type fakeEvents struct {
	byIndex map[uint32]avail.EventSet
}

func (f fakeEvents) EventsForExtrinsic(ctx context.Context, blockHash string, extIndex uint32) (avail.EventSet, error) {
	if set, ok := f.byIndex[extIndex]; ok {
		return set, nil
	}
	return avail.EventSet{HasExtrinsicSuccess: true}, nil
}

func sendMessageCallBytes() []byte {
	var to, assetID [32]byte
	to[31] = 0x02
	assetID[31] = 0x01
	amount := make([]byte, 16)
	amount[0] = 0xe8
	amount[1] = 0x03 // 1000 LE

	buf := append([]byte{}, to[:]...)
	buf = append(buf, 2, 0, 0, 0) // domain = 2, LE u32
	buf = append(buf, 1)          // FungibleToken tag
	buf = append(buf, assetID[:]...)
	buf = append(buf, amount...)
	return buf
}

func TestTransformDropsOnExtrinsicFailed(t *testing.T) {
	t.Parallel()

	d := codec.NewDecoder(testHeaders)
	tr := New(d, fakeEvents{byIndex: map[uint32]avail.EventSet{
		2: {HasExtrinsicFailed: true},
	}}, zap.NewNop())

	ref := models.BlockRef{Height: 100, Hash: "0xabc"}
	side := avail.BlockSideData{Timestamp: time.Unix(1000, 0), FailedTxs: map[uint32]struct{}{}}
	exts := []models.RawExtrinsic{
		{Index: 2, Hash: "0xhash", PalletID: 1, VariantID: 0, CallBytes: sendMessageCallBytes()},
	}

	batch, err := tr.Transform(context.Background(), ref, side, exts)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(batch.MainRows) != 0 {
		t.Fatalf("got %d main rows, want 0", len(batch.MainRows))
	}
}

func TestTransformProducesRowWithExpectedID(t *testing.T) {
	t.Parallel()

	d := codec.NewDecoder(testHeaders)
	tr := New(d, fakeEvents{byIndex: map[uint32]avail.EventSet{
		2: {HasExtrinsicSuccess: true},
	}}, zap.NewNop())

	ref := models.BlockRef{Height: 100, Hash: "0xabc"}
	side := avail.BlockSideData{Timestamp: time.Unix(1000, 0), FailedTxs: map[uint32]struct{}{}}
	exts := []models.RawExtrinsic{
		{Index: 2, Hash: "0xhash", PalletID: 1, VariantID: 0, CallBytes: sendMessageCallBytes()},
	}

	batch, err := tr.Transform(context.Background(), ref, side, exts)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(batch.MainRows) != 1 {
		t.Fatalf("got %d main rows, want 1", len(batch.MainRows))
	}
	wantID := models.RowID(100, 2)
	if batch.MainRows[0].ID != wantID {
		t.Errorf("id = %d, want %d", batch.MainRows[0].ID, wantID)
	}
	if len(batch.SendMessages) != 1 {
		t.Fatalf("got %d send_message rows, want 1", len(batch.SendMessages))
	}
}

func TestTransformDropsFailedSendMessageTx(t *testing.T) {
	t.Parallel()

	d := codec.NewDecoder(testHeaders)
	tr := New(d, fakeEvents{byIndex: map[uint32]avail.EventSet{
		2: {HasExtrinsicSuccess: true},
	}}, zap.NewNop())

	ref := models.BlockRef{Height: 100, Hash: "0xabc"}
	side := avail.BlockSideData{Timestamp: time.Unix(1000, 0), FailedTxs: map[uint32]struct{}{2: {}}}
	exts := []models.RawExtrinsic{
		{Index: 2, Hash: "0xhash", PalletID: 1, VariantID: 0, CallBytes: sendMessageCallBytes()},
	}

	batch, err := tr.Transform(context.Background(), ref, side, exts)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(batch.MainRows) != 0 {
		t.Fatalf("got %d main rows, want 0", len(batch.MainRows))
	}
}

func TestTransformDropsOnMultisigExecutedFailure(t *testing.T) {
	t.Parallel()

	failed := false
	d := codec.NewDecoder(testHeaders)
	tr := New(d, fakeEvents{byIndex: map[uint32]avail.EventSet{
		2: {HasExtrinsicSuccess: true, MultisigExecutedOk: &failed},
	}}, zap.NewNop())

	var to, assetID [32]byte
	to[31] = 0x02
	assetID[31] = 0x01
	inner := append([]byte{}, to[:]...)
	inner = append(inner, 2, 0, 0, 0, 1)
	inner = append(inner, assetID[:]...)
	inner = append(inner, make([]byte, 16)...)

	asMulti := []byte{0x02, 0x00, 0x00, 0x00}
	asMulti = append(asMulti, testHeaders.SendMessage.Pallet, testHeaders.SendMessage.Variant)
	asMulti = append(asMulti, inner...)

	ref := models.BlockRef{Height: 100, Hash: "0xabc"}
	side := avail.BlockSideData{Timestamp: time.Unix(1000, 0), FailedTxs: map[uint32]struct{}{}}
	exts := []models.RawExtrinsic{
		{Index: 2, Hash: "0xhash", PalletID: testHeaders.AsMulti.Pallet, VariantID: testHeaders.AsMulti.Variant, CallBytes: asMulti},
	}

	batch, err := tr.Transform(context.Background(), ref, side, exts)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(batch.MainRows) != 0 {
		t.Fatalf("got %d main rows, want 0 (multisig failed)", len(batch.MainRows))
	}
}
