// Package transform implements the Block Transformer: it turns the
// extrinsics the RPC Adapter filtered out of one finalized block into the
// rows the Persistence Layer stores, applying the wrapper-success gating
// rules and the SendMessage failed-tx filter along the way.
package transform

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/availproject/greatest-indexer-of-all-times/internal/avail"
	"github.com/availproject/greatest-indexer-of-all-times/internal/codec"
	"github.com/availproject/greatest-indexer-of-all-times/internal/models"
)

// EventFetcher is the subset of *avail.Client the Transformer depends on,
// kept as an interface so tests can supply a fake.
type EventFetcher interface {
	EventsForExtrinsic(ctx context.Context, blockHash string, extIndex uint32) (avail.EventSet, error)
}

// Transformer turns filtered raw extrinsics for one block into a
// models.BlockBatch.
type Transformer struct {
	decoder *codec.Decoder
	events  EventFetcher
	logger  *zap.Logger
}

// New builds a Transformer bound to a call decoder and an event source.
func New(decoder *codec.Decoder, events EventFetcher, logger *zap.Logger) *Transformer {
	return &Transformer{decoder: decoder, events: events, logger: logger}
}

// Transform maps one block's filtered extrinsics into a BlockBatch, in
// extrinsic-index order. An extrinsic is dropped (contributes no rows)
// when:
//   - it decodes to nil (not a call this indexer tracks, or a benign
//     failure underneath a multisig),
//   - ExtrinsicFailed fired for it,
//   - it was wrapped in a multisig whose MultisigExecuted event reported
//     failure,
//   - it was wrapped in a proxy whose ProxyExecuted event reported
//     failure,
//   - it is a SendMessage call whose extrinsic index appears in the
//     block's FailedSendMessageTxs inherent.
//
// A fatal decode error (codec.ErrFatalDecode) aborts the whole block.
func (t *Transformer) Transform(ctx context.Context, ref models.BlockRef, side avail.BlockSideData, exts []models.RawExtrinsic) (models.BlockBatch, error) {
	batch := models.BlockBatch{Block: ref, Timestamp: side.Timestamp}

	for _, ext := range exts {
		header := codec.Header{Pallet: ext.PalletID, Variant: ext.VariantID}
		call, err := t.decoder.Decode(ext.CallBytes, header, models.Wrapped{})
		if err != nil {
			return models.BlockBatch{}, fmt.Errorf("transform: block %d ext %d: %w", ref.Height, ext.Index, err)
		}
		if call == nil {
			continue
		}

		if call.Kind == models.CallSendMessage {
			if _, failed := side.FailedTxs[ext.Index]; failed {
				t.logger.Info("dropping send_message: marked failed by Vector::FailedSendMessageTxs",
					zap.Uint32("height", ref.Height), zap.Uint32("ext_index", ext.Index))
				continue
			}
		}

		var success *bool
		keep := true
		events, err := t.events.EventsForExtrinsic(ctx, ref.Hash, ext.Index)
		if err != nil {
			t.logger.Warn("events fetch failed, leaving ext_success unknown",
				zap.Uint32("height", ref.Height), zap.Uint32("ext_index", ext.Index), zap.Error(err))
		} else {
			success, keep = wrapperSuccess(events, call.Wrapped)
			if !keep {
				continue
			}
		}

		callJSON, err := call.EncodeCallJSON()
		if err != nil {
			return models.BlockBatch{}, fmt.Errorf("transform: encoding call at height %d ext %d: %w", ref.Height, ext.Index, err)
		}

		id := models.RowID(ref.Height, ext.Index)
		batch.MainRows = append(batch.MainRows, models.MainRow{
			ID:               id,
			BlockHeight:      ref.Height,
			BlockHash:        ref.Hash,
			BlockTimestamp:   side.Timestamp,
			ExtIndex:         ext.Index,
			ExtHash:          ext.Hash,
			SignatureAddress: ext.SignatureAddr,
			PalletID:         ext.PalletID,
			VariantID:        ext.VariantID,
			ExtSuccess:       success,
			ExtCall:          callJSON,
		})

		switch call.Kind {
		case models.CallSendMessage:
			batch.SendMessages = append(batch.SendMessages, models.SendMessageRow{
				ID:     id,
				Type:   call.SendMessage.Message.Kind,
				Amount: call.SendMessage.Message.Amount,
				To:     call.SendMessage.To,
			})
		case models.CallExecute:
			batch.Executes = append(batch.Executes, models.ExecuteRow{
				ID:        id,
				Type:      call.Execute.AddrMessage.Message.Kind,
				Amount:    call.Execute.AddrMessage.Message.Amount,
				To:        call.Execute.AddrMessage.To,
				Slot:      call.Execute.Slot,
				MessageID: call.Execute.AddrMessage.ID,
			})
		}
	}

	return batch, nil
}

// wrapperSuccess derives ext_success and whether the row survives, per
// the gating rules: ExtrinsicFailed always drops the row regardless of
// wrapper context; a failing MultisigExecuted/ProxyExecuted drops a
// wrapped call even if the extrinsic itself succeeded. A surviving row's
// ext_success is true iff an ExtrinsicSuccess event was present; absent
// that event (but not dropped), it is null rather than assumed true.
func wrapperSuccess(events avail.EventSet, wrapped models.Wrapped) (*bool, bool) {
	if events.HasExtrinsicFailed {
		return nil, false
	}
	if wrapped.InMultisig && events.MultisigExecutedOk != nil && !*events.MultisigExecutedOk {
		return nil, false
	}
	if wrapped.InProxy && events.ProxyExecutedOk != nil && !*events.ProxyExecutedOk {
		return nil, false
	}
	if events.HasExtrinsicSuccess {
		ok := true
		return &ok, true
	}
	return nil, true
}
