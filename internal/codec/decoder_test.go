package codec

import (
	"bytes"
	"testing"

	"github.com/availproject/greatest-indexer-of-all-times/internal/models"
)

var testHeaders = Headers{
	SendMessage: Header{Pallet: 1, Variant: 0},
	Execute:     Header{Pallet: 1, Variant: 1},
	AsMulti:     Header{Pallet: 2, Variant: 0},
	Proxy:       Header{Pallet: 3, Variant: 0},
}

func encodeCompact(n uint64) []byte {
	if n < 64 {
		return []byte{byte(n << 2)}
	}
	panic("encodeCompact: test helper only supports small values")
}

func buildSendMessageBytes(to [32]byte, domain uint32, assetID [32]byte, amount []byte) []byte {
	var buf bytes.Buffer
	buf.Write(to[:])
	domainLE := []byte{byte(domain), byte(domain >> 8), byte(domain >> 16), byte(domain >> 24)}
	buf.Write(domainLE)
	buf.WriteByte(messageTagFungible)
	buf.Write(assetID[:])
	buf.Write(amount) // 16 bytes LE u128
	return buf.Bytes()
}

func u128LE(v uint64) []byte {
	out := make([]byte, 16)
	for i := 0; i < 8; i++ {
		out[i] = byte(v >> (8 * i))
	}
	return out
}

func TestDecodeSendMessagePlain(t *testing.T) {
	t.Parallel()

	var to, assetID [32]byte
	to[31] = 0x02
	assetID[31] = 0x01

	callBytes := buildSendMessageBytes(to, 2, assetID, u128LE(1000))
	d := NewDecoder(testHeaders)

	got, err := d.Decode(callBytes, testHeaders.SendMessage, models.Wrapped{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got == nil || got.Kind != models.CallSendMessage {
		t.Fatalf("got %+v, want a SendMessage call", got)
	}
	if got.SendMessage.Domain != 2 {
		t.Errorf("domain = %d, want 2", got.SendMessage.Domain)
	}
	if got.SendMessage.Message.Amount != "1000" {
		t.Errorf("amount = %q, want %q", got.SendMessage.Message.Amount, "1000")
	}
	if got.Wrapped.InMultisig || got.Wrapped.InProxy {
		t.Errorf("unexpected wrapper flags: %+v", got.Wrapped)
	}
}

func TestDecodeAsMultiBenignOnUnknownInner(t *testing.T) {
	t.Parallel()

	d := NewDecoder(testHeaders)
	// threshold (2 bytes) + empty signatories (compact 0) + no timepoint +
	// an unrecognized pallet/variant header.
	callBytes := []byte{0x02, 0x00, 0x00, 0x00, 0x09, 0x09}

	got, err := d.Decode(callBytes, testHeaders.AsMulti, models.Wrapped{})
	if err != nil {
		t.Fatalf("Decode returned error, want benign nil: %v", err)
	}
	if got != nil {
		t.Fatalf("got %+v, want nil for an uninteresting inner call", got)
	}
}

func TestDecodeAsMultiWrapsSendMessage(t *testing.T) {
	t.Parallel()

	var to, assetID [32]byte
	to[31] = 0x02
	assetID[31] = 0x01
	inner := buildSendMessageBytes(to, 2, assetID, u128LE(1000))

	var buf bytes.Buffer
	buf.Write([]byte{0x02, 0x00})  // threshold
	buf.WriteByte(0x00)            // empty signatories (compact 0)
	buf.WriteByte(0x00)            // no timepoint
	buf.WriteByte(testHeaders.SendMessage.Pallet)
	buf.WriteByte(testHeaders.SendMessage.Variant)
	buf.Write(inner)

	d := NewDecoder(testHeaders)
	got, err := d.Decode(buf.Bytes(), testHeaders.AsMulti, models.Wrapped{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got == nil || got.Kind != models.CallSendMessage {
		t.Fatalf("got %+v, want a SendMessage call", got)
	}
	if !got.Wrapped.InMultisig {
		t.Errorf("Wrapped.InMultisig = false, want true")
	}
}

func TestDecodeProxyFatalOnMalformedInner(t *testing.T) {
	t.Parallel()

	d := NewDecoder(testHeaders)
	var real [32]byte
	callBytes := append(append([]byte{}, real[:]...), 0x00, testHeaders.SendMessage.Pallet, testHeaders.SendMessage.Variant)
	// Truncate so the inner SendMessage decode fails.

	_, err := d.Decode(callBytes, testHeaders.Proxy, models.Wrapped{})
	if err == nil {
		t.Fatal("Decode returned nil error, want a fatal decode error")
	}
}

func TestDecodeUnknownHeaderReturnsNil(t *testing.T) {
	t.Parallel()

	d := NewDecoder(testHeaders)
	got, err := d.Decode([]byte{0x01}, Header{Pallet: 99, Variant: 99}, models.Wrapped{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != nil {
		t.Fatalf("got %+v, want nil", got)
	}
}
