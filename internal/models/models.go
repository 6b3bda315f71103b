// Package models holds the plain data types shared across the ingestion
// pipeline: the shapes that come off the chain, the bridge calls decoded
// from them, and the rows persisted to Postgres.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// BlockRef identifies a finalized block by height and hash.
type BlockRef struct {
	Height uint32
	Hash   string
}

// RawExtrinsic is a single extrinsic as returned by the node, narrowed to
// the fields the decoder and transformer need. CallBytes is the SCALE
// encoded call body, pallet and variant IDs already stripped off by the
// RPC adapter.
type RawExtrinsic struct {
	Index         uint32
	Hash          string
	SignatureAddr string // empty for unsigned / inherent extrinsics
	PalletID      uint8
	VariantID     uint8
	CallBytes     []byte
}

// MessageKind distinguishes the two payload shapes a bridge message can
// carry. The string values match the JSON tags used in the stored
// ext_call column.
type MessageKind string

const (
	MessageArbitrary MessageKind = "ArbitraryMessage"
	MessageFungible  MessageKind = "FungibleToken"
)

// Message is the payload of a bridge call: either an opaque arbitrary
// message or a fungible token transfer. Amount is kept as a decimal
// string throughout the pipeline since it represents a u128 that does
// not fit losslessly into any native Go numeric type.
type Message struct {
	Kind    MessageKind
	Bytes   string // 0x-prefixed hex, set when Kind == MessageArbitrary
	AssetID string // 0x-prefixed hex, set when Kind == MessageFungible
	Amount  string // decimal string, set when Kind == MessageFungible
}

// MarshalJSON renders a Message as the tagged shape
// {"ArbitraryMessage": "0x.."} or {"FungibleToken": {"asset_id":..,"amount":..}}.
func (m Message) MarshalJSON() ([]byte, error) {
	switch m.Kind {
	case MessageArbitrary:
		return json.Marshal(map[string]string{"ArbitraryMessage": m.Bytes})
	case MessageFungible:
		return json.Marshal(map[string]any{
			"FungibleToken": map[string]string{
				"asset_id": m.AssetID,
				"amount":   m.Amount,
			},
		})
	default:
		return nil, fmt.Errorf("models: message has no kind set")
	}
}

// AddressedMessage is the inner payload of an Execute call: a message
// proven to be addressed to this chain, carrying a monotonically
// increasing id scoped to the sending domain.
type AddressedMessage struct {
	ID      string `json:"id"`
	To      string `json:"to"`
	Message Message `json:"message"`
}

// CallKind is the bridge call variant a raw extrinsic decoded to.
type CallKind string

const (
	CallSendMessage CallKind = "send_message"
	CallExecute     CallKind = "execute"
)

// Wrapped records whether a bridge call was found underneath a multisig
// or proxy wrapper.
type Wrapped struct {
	InMultisig bool
	InProxy    bool
}

// SendMessageCall is the decoded form of an outbound bridge call.
type SendMessageCall struct {
	To      string
	Domain  uint32
	Message Message
}

// ExecuteCall is the decoded form of an inbound bridge call.
type ExecuteCall struct {
	Slot          uint64
	AddrMessage   AddressedMessage
	AccountProof  []string // 0x-prefixed hex entries
	StorageProof  []string
}

// DecodedCall is the result of successfully decoding an extrinsic's call
// bytes into one of the two known bridge call shapes, tagged with the
// wrapper context it was found under.
type DecodedCall struct {
	Kind        CallKind
	SendMessage SendMessageCall // set when Kind == CallSendMessage
	Execute     ExecuteCall     // set when Kind == CallExecute
	Wrapped     Wrapped
}

// sendMessageJSON and executeJSON mirror the wire shapes from the
// ext_call encoding table.
type sendMessageJSON struct {
	Message Message `json:"message"`
	To      string  `json:"to"`
	Domain  uint32  `json:"domain"`
}

type executeJSON struct {
	Slot         uint64   `json:"slot"`
	AddrMessage  AddressedMessage `json:"addr_message"`
	AccountProof []string `json:"account_proof"`
	StorageProof []string `json:"storage_proof"`
}

// EncodeCallJSON renders the decoded call as the JSON string stored in
// MainRow.ExtCall.
func (d DecodedCall) EncodeCallJSON() (string, error) {
	var (
		b   []byte
		err error
	)
	switch d.Kind {
	case CallSendMessage:
		b, err = json.Marshal(sendMessageJSON{
			Message: d.SendMessage.Message,
			To:      d.SendMessage.To,
			Domain:  d.SendMessage.Domain,
		})
	case CallExecute:
		b, err = json.Marshal(executeJSON{
			Slot:         d.Execute.Slot,
			AddrMessage:  d.Execute.AddrMessage,
			AccountProof: d.Execute.AccountProof,
			StorageProof: d.Execute.StorageProof,
		})
	default:
		return "", fmt.Errorf("models: cannot encode call of kind %q", d.Kind)
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// MainRow is a row of the primary extrinsic table: one row per extrinsic
// that decoded to a known bridge call.
type MainRow struct {
	ID               int64
	BlockHeight      uint32
	BlockHash        string
	BlockTimestamp   time.Time
	ExtIndex         uint32
	ExtHash          string
	SignatureAddress string // nullable; empty means NULL
	PalletID         uint8
	VariantID        uint8
	ExtSuccess       *bool // nullable
	ExtCall          string
}

// SendMessageRow is a child row of an outbound SendMessage call.
type SendMessageRow struct {
	ID     int64
	Type   MessageKind
	Amount string // nullable, only set for fungible transfers
	To     string
}

// ExecuteRow is a child row of an inbound Execute call.
type ExecuteRow struct {
	ID        int64
	Type      MessageKind
	Amount    string // nullable
	To        string
	Slot      uint64
	MessageID string // decimal string, NUMERIC(78) on the wire
}

// BlockBatch is everything derived from a single finalized block, ready
// to be persisted in one transaction. Rows within each slice preserve
// ext_index order.
type BlockBatch struct {
	Block        BlockRef
	Timestamp    time.Time
	MainRows     []MainRow
	SendMessages []SendMessageRow
	Executes     []ExecuteRow
}

// RowID packs a block height and extrinsic index into the single int64
// identity shared by all three tables.
func RowID(height, extIndex uint32) int64 {
	return int64(uint64(height)<<32 | uint64(extIndex))
}
