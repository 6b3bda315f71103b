package avail

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/availproject/greatest-indexer-of-all-times/internal/codec"
	"github.com/availproject/greatest-indexer-of-all-times/internal/models"
)

// InherentHeaders identifies the pallet/variant headers of the two
// chain-mandated inherents the Block Transformer correlates against. Like
// the bridge call headers in codec.Headers, the values come from
// DefaultInherentHeaders, overridable through the config file's headers
// block. The module/event names used to answer EventSet queries are
// stable pallet identifiers and are kept as constants below.
type InherentHeaders struct {
	TimestampSet         codec.Header
	FailedSendMessageTxs codec.Header
}

const (
	eventModuleSystem   = "System"
	eventModuleMultisig = "Multisig"
	eventModuleProxy    = "Proxy"

	eventExtrinsicSuccess = "ExtrinsicSuccess"
	eventExtrinsicFailed  = "ExtrinsicFailed"
	eventMultisigExecuted = "MultisigExecuted"
	eventProxyExecuted    = "ProxyExecuted"
)

type blockRPCResult struct {
	Block struct {
		Header struct {
			Number string `json:"number"`
		} `json:"header"`
		Extrinsics []string `json:"extrinsics"`
	} `json:"block"`
}

func unmarshalBlock(result any) (*blockRPCResult, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	var out blockRPCResult
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// decodeBlockExtrinsics parses the hex-encoded extrinsics of a
// chain_getBlock RPC result into RawExtrinsics, stripping the
// transaction envelope (version, optional signature) down to the
// pallet/variant header and call bytes.
func decodeBlockExtrinsics(block *blockRPCResult) ([]models.RawExtrinsic, error) {
	out := make([]models.RawExtrinsic, 0, len(block.Block.Extrinsics))
	for _, hexStr := range block.Block.Extrinsics {
		raw, err := hex.DecodeString(strings.TrimPrefix(hexStr, "0x"))
		if err != nil {
			return nil, fmt.Errorf("decoding extrinsic hex: %w", err)
		}
		ext, err := decodeExtrinsicEnvelope(raw)
		if err != nil {
			return nil, fmt.Errorf("decoding extrinsic envelope: %w", err)
		}
		out = append(out, ext)
	}
	return out, nil
}

// decodeExtrinsicEnvelope strips the UncheckedExtrinsic wrapper: a
// compact length prefix, a version byte (top bit set iff signed),
// optionally a MultiAddress signer + MultiSignature + era + nonce + tip,
// then the (pallet, variant) call header and call bytes.
func decodeExtrinsicEnvelope(raw []byte) (models.RawExtrinsic, error) {
	hash := blake2b.Sum256(raw)

	r := codec.NewReader(raw)
	if _, err := r.ReadCompact(); err != nil { // overall length prefix
		return models.RawExtrinsic{}, fmt.Errorf("length prefix: %w", err)
	}
	version, err := r.ReadByte()
	if err != nil {
		return models.RawExtrinsic{}, fmt.Errorf("version: %w", err)
	}

	var signer string
	const signedBit = 0x80
	if version&signedBit != 0 {
		addrTag, err := r.ReadByte()
		if err != nil {
			return models.RawExtrinsic{}, fmt.Errorf("address tag: %w", err)
		}
		if addrTag != 0x00 {
			return models.RawExtrinsic{}, fmt.Errorf("unsupported MultiAddress tag %d", addrTag)
		}
		accountID, err := r.ReadH256()
		if err != nil {
			return models.RawExtrinsic{}, fmt.Errorf("signer account id: %w", err)
		}
		signer = ss58Encode(accountID)

		sigTag, err := r.ReadByte()
		if err != nil {
			return models.RawExtrinsic{}, fmt.Errorf("signature tag: %w", err)
		}
		sigLen := 64
		if sigTag == 2 { // Ecdsa
			sigLen = 65
		}
		if _, err := r.ReadBytes(sigLen); err != nil {
			return models.RawExtrinsic{}, fmt.Errorf("signature: %w", err)
		}

		eraTag, err := r.ReadByte()
		if err != nil {
			return models.RawExtrinsic{}, fmt.Errorf("era tag: %w", err)
		}
		if eraTag != 0 { // mortal era consumes one further byte
			if _, err := r.ReadByte(); err != nil {
				return models.RawExtrinsic{}, fmt.Errorf("era: %w", err)
			}
		}
		if _, err := r.ReadCompact(); err != nil { // nonce
			return models.RawExtrinsic{}, fmt.Errorf("nonce: %w", err)
		}
		if _, err := r.ReadCompact(); err != nil { // tip
			return models.RawExtrinsic{}, fmt.Errorf("tip: %w", err)
		}
	}

	pallet, err := r.ReadByte()
	if err != nil {
		return models.RawExtrinsic{}, fmt.Errorf("pallet id: %w", err)
	}
	variant, err := r.ReadByte()
	if err != nil {
		return models.RawExtrinsic{}, fmt.Errorf("variant id: %w", err)
	}

	return models.RawExtrinsic{
		Hash:          "0x" + hex.EncodeToString(hash[:]),
		SignatureAddr: signer,
		PalletID:      pallet,
		VariantID:     variant,
		CallBytes:     append([]byte(nil), r.Remaining()...),
	}, nil
}

// decodeInherents scans a block's extrinsics for the Timestamp::Set and
// Vector::FailedSendMessageTxs inherents. Both are unsigned and both are
// chain-mandated on every block.
func decodeInherents(block *blockRPCResult, headers InherentHeaders) (time.Time, map[uint32]struct{}, error) {
	var (
		ts        time.Time
		tsFound   bool
		failed    = map[uint32]struct{}{}
		failFound bool
	)
	for _, hexStr := range block.Block.Extrinsics {
		raw, err := hex.DecodeString(strings.TrimPrefix(hexStr, "0x"))
		if err != nil {
			continue
		}
		ext, err := decodeExtrinsicEnvelope(raw)
		if err != nil {
			continue
		}
		header := codec.Header{Pallet: ext.PalletID, Variant: ext.VariantID}
		switch header {
		case headers.TimestampSet:
			r := codec.NewReader(ext.CallBytes)
			millis, err := r.ReadCompact()
			if err != nil {
				return time.Time{}, nil, fmt.Errorf("timestamp::set: %w", err)
			}
			ts = time.UnixMilli(int64(millis)).UTC()
			tsFound = true
		case headers.FailedSendMessageTxs:
			r := codec.NewReader(ext.CallBytes)
			n, err := r.ReadCompact()
			if err != nil {
				return time.Time{}, nil, fmt.Errorf("failed_send_message_txs: %w", err)
			}
			for i := uint64(0); i < n; i++ {
				idx, err := r.ReadCompact()
				if err != nil {
					return time.Time{}, nil, fmt.Errorf("failed_send_message_txs entry: %w", err)
				}
				failed[uint32(idx)] = struct{}{}
			}
			failFound = true
		}
	}

	if !tsFound {
		return time.Time{}, nil, fmt.Errorf("block is missing the mandatory Timestamp::Set inherent")
	}
	if !failFound {
		return time.Time{}, nil, fmt.Errorf("block is missing the mandatory Vector::FailedSendMessageTxs inherent")
	}
	return ts, failed, nil
}

// decodedEvent is the subset of substrate-api-rpc's metadata-driven event
// decode result this adapter reads: the originating extrinsic index, the
// pallet/event names, and — for the two wrapper-executed events — the
// dispatch result embedded in the event's first argument.
type decodedEvent struct {
	ExtrinsicIdx int    `json:"extrinsic_idx"`
	ModuleID     string `json:"module_id"`
	EventID      string `json:"event_id"`
	Params       []struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	} `json:"params"`
}

func (e decodedEvent) dispatchOk() bool {
	for _, p := range e.Params {
		if !strings.Contains(p.Type, "DispatchResult") {
			continue
		}
		var tagged map[string]json.RawMessage
		if err := json.Unmarshal(p.Value, &tagged); err != nil {
			return true
		}
		_, isErr := tagged["Err"]
		return !isErr
	}
	return true
}

// buildEventSet folds the decoded events belonging to one extrinsic into
// the tri-state answers the Block Transformer needs.
func buildEventSet(events []decodedEvent, extIndex uint32) EventSet {
	var set EventSet
	for _, e := range events {
		if e.ExtrinsicIdx != int(extIndex) {
			continue
		}
		switch {
		case e.ModuleID == eventModuleSystem && e.EventID == eventExtrinsicSuccess:
			set.HasExtrinsicSuccess = true
		case e.ModuleID == eventModuleSystem && e.EventID == eventExtrinsicFailed:
			set.HasExtrinsicFailed = true
		case e.ModuleID == eventModuleMultisig && e.EventID == eventMultisigExecuted:
			ok := e.dispatchOk()
			set.MultisigExecutedOk = &ok
		case e.ModuleID == eventModuleProxy && e.EventID == eventProxyExecuted:
			ok := e.dispatchOk()
			set.ProxyExecutedOk = &ok
		}
	}
	return set
}
