package codec

import (
	"errors"
	"fmt"

	"github.com/availproject/greatest-indexer-of-all-times/internal/models"
)

// Header identifies a call by its (pallet id, variant id) pair, the two
// bytes that prefix every encoded call on a Substrate-based chain.
type Header struct {
	Pallet  uint8
	Variant uint8
}

// Headers is the set of call headers the decoder recognizes. The values
// come from avail.DefaultHeaders, overridable through the config file's
// headers block, so a runtime upgrade that renumbers a pallet does not
// require a rebuild.
type Headers struct {
	SendMessage Header
	Execute     Header
	AsMulti     Header
	Proxy       Header
}

// ErrFatalDecode marks a decode failure that must propagate as a hard
// error: either a Proxy call's payload fails to decode, or a bare
// SendMessage/Execute header (the filter already committed to it) fails
// to decode.
var ErrFatalDecode = errors.New("codec: fatal decode failure")

// Decoder turns raw extrinsic call bytes into a DecodedCall. It is pure
// and holds no mutable state beyond the header table it is given at
// construction time.
type Decoder struct {
	headers Headers
}

// NewDecoder builds a Decoder bound to a fixed set of call headers.
func NewDecoder(h Headers) *Decoder {
	return &Decoder{headers: h}
}

// Decode recursively decodes call bytes headed by (pallet, variant),
// carrying the multisig/proxy wrapper context accumulated so far. It
// returns (nil, nil) for an unrecognized call or one this indexer has no
// interest in, a populated *models.DecodedCall on success, or an error
// wrapping ErrFatalDecode.
func (d *Decoder) Decode(callBytes []byte, header Header, wrapped models.Wrapped) (*models.DecodedCall, error) {
	return d.decode(callBytes, header, wrapped, false)
}

// decode is the internal recursive step. viaAsMulti is true only for the
// single hop immediately beneath an AsMulti envelope, where a decode
// failure must be swallowed rather than escalated.
func (d *Decoder) decode(callBytes []byte, header Header, wrapped models.Wrapped, viaAsMulti bool) (*models.DecodedCall, error) {
	switch header {
	case d.headers.SendMessage:
		call, err := decodeSendMessage(callBytes)
		if err != nil {
			if viaAsMulti {
				return nil, nil
			}
			return nil, fmt.Errorf("%w: send_message: %v", ErrFatalDecode, err)
		}
		return &models.DecodedCall{Kind: models.CallSendMessage, SendMessage: *call, Wrapped: wrapped}, nil

	case d.headers.Execute:
		call, err := decodeExecute(callBytes)
		if err != nil {
			if viaAsMulti {
				return nil, nil
			}
			return nil, fmt.Errorf("%w: execute: %v", ErrFatalDecode, err)
		}
		return &models.DecodedCall{Kind: models.CallExecute, Execute: *call, Wrapped: wrapped}, nil

	case d.headers.AsMulti:
		inner, innerHeader, err := unwrapAsMulti(callBytes)
		if err != nil {
			// A malformed AsMulti payload is benign: the multisig most
			// likely wraps a call this indexer has no interest in.
			return nil, nil
		}
		nested := wrapped
		nested.InMultisig = true
		decoded, err := d.decode(inner, innerHeader, nested, true)
		if err != nil {
			// decode never returns a non-nil error when viaAsMulti is
			// true for the SendMessage/Execute legs; an error here can
			// only originate from a further nested Proxy, which keeps
			// its own fatality.
			return nil, err
		}
		return decoded, nil

	case d.headers.Proxy:
		inner, innerHeader, err := unwrapProxy(callBytes)
		if err != nil {
			// The filter already committed to Proxy; a malformed
			// envelope here is a protocol anomaly, not a benign
			// mismatch.
			return nil, fmt.Errorf("%w: proxy envelope: %v", ErrFatalDecode, err)
		}
		nested := wrapped
		nested.InProxy = true
		return d.decode(inner, innerHeader, nested, false)

	default:
		return nil, nil
	}
}

// decodeSendMessage parses {to: H256, domain: u32, message: Message}.
func decodeSendMessage(callBytes []byte) (*models.SendMessageCall, error) {
	r := NewReader(callBytes)
	to, err := r.ReadH256()
	if err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	domain, err := r.ReadU32()
	if err != nil {
		return nil, fmt.Errorf("domain: %w", err)
	}
	msg, err := decodeMessage(r)
	if err != nil {
		return nil, fmt.Errorf("message: %w", err)
	}
	return &models.SendMessageCall{
		To:      hexBytes(to),
		Domain:  domain,
		Message: msg,
	}, nil
}

// decodeExecute parses {slot: u64, addr_message: AddressedMessage,
// account_proof: Vec<H256>, storage_proof: Vec<H256>}.
func decodeExecute(callBytes []byte) (*models.ExecuteCall, error) {
	r := NewReader(callBytes)
	slot, err := r.ReadU64()
	if err != nil {
		return nil, fmt.Errorf("slot: %w", err)
	}
	addrMsg, err := decodeAddressedMessage(r)
	if err != nil {
		return nil, fmt.Errorf("addr_message: %w", err)
	}
	accountProof, err := r.ReadCompactVecOfHashes()
	if err != nil {
		return nil, fmt.Errorf("account_proof: %w", err)
	}
	storageProof, err := r.ReadCompactVecOfHashes()
	if err != nil {
		return nil, fmt.Errorf("storage_proof: %w", err)
	}
	return &models.ExecuteCall{
		Slot:         slot,
		AddrMessage:  addrMsg,
		AccountProof: hexList(accountProof),
		StorageProof: hexList(storageProof),
	}, nil
}

// decodeAddressedMessage parses {id: u64, to: H256, message: Message}.
func decodeAddressedMessage(r *Reader) (models.AddressedMessage, error) {
	id, err := r.ReadU64()
	if err != nil {
		return models.AddressedMessage{}, fmt.Errorf("id: %w", err)
	}
	to, err := r.ReadH256()
	if err != nil {
		return models.AddressedMessage{}, fmt.Errorf("to: %w", err)
	}
	msg, err := decodeMessage(r)
	if err != nil {
		return models.AddressedMessage{}, fmt.Errorf("message: %w", err)
	}
	return models.AddressedMessage{
		ID:      fmt.Sprintf("%d", id),
		To:      hexBytes(to),
		Message: msg,
	}, nil
}

// Message enum tags, as carried on the wire ahead of the payload.
const (
	messageTagArbitrary byte = 0
	messageTagFungible  byte = 1
)

func decodeMessage(r *Reader) (models.Message, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return models.Message{}, fmt.Errorf("tag: %w", err)
	}
	switch tag {
	case messageTagArbitrary:
		payload, err := r.ReadCompactBytes()
		if err != nil {
			return models.Message{}, fmt.Errorf("arbitrary payload: %w", err)
		}
		return models.Message{Kind: models.MessageArbitrary, Bytes: hexBytes(payload)}, nil
	case messageTagFungible:
		assetID, err := r.ReadH256()
		if err != nil {
			return models.Message{}, fmt.Errorf("asset_id: %w", err)
		}
		amount, err := r.ReadU128()
		if err != nil {
			return models.Message{}, fmt.Errorf("amount: %w", err)
		}
		return models.Message{Kind: models.MessageFungible, AssetID: hexBytes(assetID), Amount: amount}, nil
	default:
		return models.Message{}, fmt.Errorf("unknown message tag %d", tag)
	}
}

// unwrapAsMulti strips the AsMulti envelope (threshold, other signatories,
// optional timepoint) down to the inner call's header and bytes.
func unwrapAsMulti(callBytes []byte) ([]byte, Header, error) {
	r := NewReader(callBytes)
	if _, err := r.ReadBytes(2); err != nil { // threshold: u16
		return nil, Header{}, err
	}
	if _, err := r.ReadCompactVecOfHashes(); err != nil { // other_signatories: Vec<AccountId32>
		return nil, Header{}, err
	}
	hasTimepoint, err := r.ReadByte()
	if err != nil {
		return nil, Header{}, err
	}
	if hasTimepoint == 1 {
		if _, err := r.ReadBytes(8); err != nil { // Timepoint{height:u32, index:u32}
			return nil, Header{}, err
		}
	}
	return innerCall(r)
}

// unwrapProxy strips the Proxy envelope (real account, optional
// ProxyType force filter) down to the inner call.
func unwrapProxy(callBytes []byte) ([]byte, Header, error) {
	r := NewReader(callBytes)
	if _, err := r.ReadH256(); err != nil { // real account
		return nil, Header{}, err
	}
	hasForceProxyType, err := r.ReadByte()
	if err != nil {
		return nil, Header{}, err
	}
	if hasForceProxyType == 1 {
		if _, err := r.ReadByte(); err != nil {
			return nil, Header{}, err
		}
	}
	return innerCall(r)
}

func innerCall(r *Reader) ([]byte, Header, error) {
	pallet, err := r.ReadByte()
	if err != nil {
		return nil, Header{}, err
	}
	variant, err := r.ReadByte()
	if err != nil {
		return nil, Header{}, err
	}
	return r.Remaining(), Header{Pallet: pallet, Variant: variant}, nil
}

func hexBytes(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 2+len(b)*2)
	out[0], out[1] = '0', 'x'
	for i, v := range b {
		out[2+i*2] = hexdigits[v>>4]
		out[2+i*2+1] = hexdigits[v&0xf]
	}
	return string(out)
}

func hexList(bs [][]byte) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = hexBytes(b)
	}
	return out
}
