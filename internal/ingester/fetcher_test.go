package ingester

import (
	"context"
	"testing"

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

type fakeRPC struct {
	gotAllowed []avail.AllowedCall
}

func (f *fakeRPC) BlockHash(ctx context.Context, height uint32) (string, error) {
	return "0xabc", nil
}

func (f *fakeRPC) FilteredExtrinsics(ctx context.Context, ref models.BlockRef, allowed []avail.AllowedCall) ([]models.RawExtrinsic, error) {
	f.gotAllowed = allowed
	return nil, nil
}

func (f *fakeRPC) BlockSideData(ctx context.Context, ref models.BlockRef, headers avail.InherentHeaders) (avail.BlockSideData, error) {
	return avail.BlockSideData{}, nil
}

func (f *fakeRPC) EventsForExtrinsic(ctx context.Context, blockHash string, extIndex uint32) (avail.EventSet, error) {
	return avail.EventSet{}, nil
}

// A SendMessage/Execute wrapped in a multisig or proxy carries AsMulti's
// or Proxy's header on the outer extrinsic; the filter must keep those
// headers too, or a wrapped call never reaches the decoder.
func TestFetcherAllowsWrapperHeaders(t *testing.T) {
	t.Parallel()

	rpc := &fakeRPC{}
	decoder := codec.NewDecoder(testHeaders)
	fetcher := NewFetcher(rpc, testHeaders, avail.InherentHeaders{}, decoder, zap.NewNop())

	if _, err := fetcher.Fetch(context.Background(), 100); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	want := map[avail.AllowedCall]bool{
		testHeaders.SendMessage: false,
		testHeaders.Execute:     false,
		testHeaders.AsMulti:     false,
		testHeaders.Proxy:       false,
	}
	for _, a := range rpc.gotAllowed {
		want[a] = true
	}
	for header, seen := range want {
		if !seen {
			t.Errorf("allowed set missing header %+v", header)
		}
	}
}
