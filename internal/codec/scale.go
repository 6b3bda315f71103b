// Package codec provides the minimal SCALE primitive decoding the bridge
// call decoder needs: compact integers, fixed-width integers, and byte
// arrays. It does not attempt to be a general purpose SCALE library — the
// pack carries no example with a directly observable API for one, so
// these primitives are hand rolled against the format described in the
// Substrate SCALE codec spec rather than against any single example file.
package codec

import (
	"encoding/binary"
	"errors"
	"math/big"
)

// ErrShortBuffer is returned whenever a read would run past the end of
// the input.
var ErrShortBuffer = errors.New("codec: short buffer")

// Reader decodes SCALE-encoded values from a byte slice, advancing an
// internal cursor. It never mutates the underlying slice.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps raw call bytes for decoding.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return len(r.buf) - r.pos }

// Remaining returns the unread tail of the buffer without advancing the
// cursor.
func (r *Reader) Remaining() []byte { return r.buf[r.pos:] }

func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, ErrShortBuffer
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, ErrShortBuffer
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *Reader) ReadU32() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) ReadU64() (uint64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadU128 decodes a 16-byte little-endian unsigned integer and renders
// it as a base-10 string, since u128 values do not fit any native Go
// integer type.
func (r *Reader) ReadU128() (string, error) {
	b, err := r.ReadBytes(16)
	if err != nil {
		return "", err
	}
	le := make([]byte, 16)
	for i, v := range b {
		le[15-i] = v
	}
	return new(big.Int).SetBytes(le).String(), nil
}

// ReadH256 reads a 32-byte hash/account-id and returns it as raw bytes.
func (r *Reader) ReadH256() ([]byte, error) {
	return r.ReadBytes(32)
}

// ReadCompact decodes a SCALE compact-encoded unsigned integer.
func (r *Reader) ReadCompact() (uint64, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch first & 0b11 {
	case 0b00:
		return uint64(first >> 2), nil
	case 0b01:
		second, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		return uint64(first>>2) | uint64(second)<<6, nil
	case 0b10:
		rest, err := r.ReadBytes(3)
		if err != nil {
			return 0, err
		}
		v := uint64(first >> 2)
		for i, b := range rest {
			v |= uint64(b) << (6 + 8*i)
		}
		return v, nil
	default:
		n := int(first>>2) + 4
		rest, err := r.ReadBytes(n)
		if err != nil {
			return 0, err
		}
		v := new(big.Int)
		for i := len(rest) - 1; i >= 0; i-- {
			v.Lsh(v, 8)
			v.Or(v, big.NewInt(int64(rest[i])))
		}
		return v.Uint64(), nil
	}
}

// ReadCompactBytes decodes a compact length prefix followed by that many
// raw bytes (the SCALE encoding of Vec<u8>).
func (r *Reader) ReadCompactBytes() ([]byte, error) {
	n, err := r.ReadCompact()
	if err != nil {
		return nil, err
	}
	return r.ReadBytes(int(n))
}

// ReadCompactVecOfHashes decodes a Vec<H256>-shaped field: a compact
// length prefix followed by that many 32-byte entries. Used for the
// Merkle proof lists carried by Execute calls.
func (r *Reader) ReadCompactVecOfHashes() ([][]byte, error) {
	n, err := r.ReadCompact()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, n)
	for i := uint64(0); i < n; i++ {
		h, err := r.ReadH256()
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}
