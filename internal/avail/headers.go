package avail

import "github.com/availproject/greatest-indexer-of-all-times/internal/codec"

// DefaultInherentHeaders are the (pallet, variant) pairs for
// Timestamp::set and Vector::failed_send_message_txs on the current
// Avail mainnet runtime. In production these should be confirmed against
// the connected chain's metadata at startup (a runtime upgrade can
// renumber a pallet); config.Load lets an operator override them without
// a rebuild when that happens.
func DefaultInherentHeaders() InherentHeaders {
	return InherentHeaders{
		TimestampSet:         codec.Header{Pallet: 3, Variant: 0},
		FailedSendMessageTxs: codec.Header{Pallet: 39, Variant: 3},
	}
}

// DefaultHeaders are the (pallet, variant) pairs for the call set the
// Block Transformer recognizes on the current Avail mainnet runtime. See
// DefaultInherentHeaders for the same override caveat.
func DefaultHeaders() codec.Headers {
	return codec.Headers{
		SendMessage: codec.Header{Pallet: 39, Variant: 0},
		Execute:     codec.Header{Pallet: 39, Variant: 1},
		AsMulti:     codec.Header{Pallet: 34, Variant: 1},
		Proxy:       codec.Header{Pallet: 40, Variant: 0},
	}
}
