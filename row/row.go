// Package row implements Cryo's on-disk record format: a leaf row carrying
// an opaque value, or an internal row carrying a separator's left/right
// child pointers. Both kinds share an id that orders and identifies them
// within a page.
package row

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Kind distinguishes a leaf record from an internal (separator) pointer.
type Kind uint8

const (
	KindLeaf Kind = iota
	KindInternal
)

func (k Kind) String() string {
	if k == KindLeaf {
		return "leaf"
	}
	return "internal"
}

// Field layout, all fixed-int big-endian:
//
//	kind   byte
//	id     uint64
//	leaf:     valueLen uint64, value []byte
//	internal: left uint64, right uint64
const (
	kindSize     = 1
	idSize       = 8
	valueLenSize = 8
	pointerSize  = 8

	leafHeaderSize     = kindSize + idSize + valueLenSize
	internalRowSize    = kindSize + idSize + pointerSize + pointerSize
)

// ErrKindMismatch is returned when a leaf-only accessor is used on an
// internal row, or vice versa.
var ErrKindMismatch = errors.New("row: kind mismatch")

// ErrCorrupt is returned when decoding finds a field that cannot possibly
// be valid (truncated buffer, unknown kind byte).
var ErrCorrupt = errors.New("row: corrupt encoding")

// Row is a single record, either a leaf value or an internal separator.
type Row struct {
	kind  Kind
	id    uint64
	value []byte
	left  uint64
	right uint64
}

// NewLeaf builds a leaf row with the given id and opaque value.
func NewLeaf(id uint64, value []byte) Row {
	v := make([]byte, len(value))
	copy(v, value)
	return Row{kind: KindLeaf, id: id, value: v}
}

// NewInternal builds an internal separator row: ids under left are < id,
// ids under right are >= id.
func NewInternal(id, left, right uint64) Row {
	return Row{kind: KindInternal, id: id, left: left, right: right}
}

func (r Row) ID() uint64 { return r.id }
func (r Row) Kind() Kind { return r.kind }

// Value returns a leaf row's payload. Fails with ErrKindMismatch on an
// internal row.
func (r Row) Value() ([]byte, error) {
	if r.kind != KindLeaf {
		return nil, fmt.Errorf("row %d: Value: %w", r.id, ErrKindMismatch)
	}
	return r.value, nil
}

// SetValue replaces a leaf row's payload in place.
func (r *Row) SetValue(value []byte) error {
	if r.kind != KindLeaf {
		return fmt.Errorf("row %d: SetValue: %w", r.id, ErrKindMismatch)
	}
	v := make([]byte, len(value))
	copy(v, value)
	r.value = v
	return nil
}

// Left returns an internal row's left child page id.
func (r Row) Left() (uint64, error) {
	if r.kind != KindInternal {
		return 0, fmt.Errorf("row %d: Left: %w", r.id, ErrKindMismatch)
	}
	return r.left, nil
}

// Right returns an internal row's right child page id.
func (r Row) Right() (uint64, error) {
	if r.kind != KindInternal {
		return 0, fmt.Errorf("row %d: Right: %w", r.id, ErrKindMismatch)
	}
	return r.right, nil
}

func (r *Row) SetLeft(pageID uint64) error {
	if r.kind != KindInternal {
		return fmt.Errorf("row %d: SetLeft: %w", r.id, ErrKindMismatch)
	}
	r.left = pageID
	return nil
}

func (r *Row) SetRight(pageID uint64) error {
	if r.kind != KindInternal {
		return fmt.Errorf("row %d: SetRight: %w", r.id, ErrKindMismatch)
	}
	r.right = pageID
	return nil
}

// Size returns the exact number of bytes Encode will produce.
func (r Row) Size() int {
	if r.kind == KindLeaf {
		return leafHeaderSize + len(r.value)
	}
	return internalRowSize
}

// Encode appends the row's wire form to dst and returns the result.
func (r Row) Encode(dst []byte) []byte {
	dst = append(dst, byte(r.kind))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], r.id)
	dst = append(dst, buf[:]...)

	switch r.kind {
	case KindLeaf:
		binary.BigEndian.PutUint64(buf[:], uint64(len(r.value)))
		dst = append(dst, buf[:]...)
		dst = append(dst, r.value...)
	case KindInternal:
		binary.BigEndian.PutUint64(buf[:], r.left)
		dst = append(dst, buf[:]...)
		binary.BigEndian.PutUint64(buf[:], r.right)
		dst = append(dst, buf[:]...)
	}
	return dst
}

// Decode reads one row from the front of src and returns it along with the
// number of bytes consumed.
func Decode(src []byte) (Row, int, error) {
	if len(src) < kindSize+idSize {
		return Row{}, 0, fmt.Errorf("decode header: %w", ErrCorrupt)
	}
	kind := Kind(src[0])
	id := binary.BigEndian.Uint64(src[kindSize : kindSize+idSize])
	off := kindSize + idSize

	switch kind {
	case KindLeaf:
		if len(src) < off+valueLenSize {
			return Row{}, 0, fmt.Errorf("decode leaf length: %w", ErrCorrupt)
		}
		valueLen := binary.BigEndian.Uint64(src[off : off+valueLenSize])
		off += valueLenSize
		if uint64(len(src)-off) < valueLen {
			return Row{}, 0, fmt.Errorf("decode leaf value: %w", ErrCorrupt)
		}
		value := make([]byte, valueLen)
		copy(value, src[off:off+int(valueLen)])
		off += int(valueLen)
		return Row{kind: KindLeaf, id: id, value: value}, off, nil
	case KindInternal:
		if len(src) < off+pointerSize+pointerSize {
			return Row{}, 0, fmt.Errorf("decode internal pointers: %w", ErrCorrupt)
		}
		left := binary.BigEndian.Uint64(src[off : off+pointerSize])
		off += pointerSize
		right := binary.BigEndian.Uint64(src[off : off+pointerSize])
		off += pointerSize
		return Row{kind: KindInternal, id: id, left: left, right: right}, off, nil
	default:
		return Row{}, 0, fmt.Errorf("decode kind byte %d: %w", kind, ErrCorrupt)
	}
}
