// Package page implements Cryo's fixed-size on-disk node: a header plus a
// sorted vector of rows, with insert/update/delete/select operating
// entirely within the page's byte budget.
package page

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/DavisRayM/cryo/row"
)

// Size is the fixed on-disk footprint of every page, including its header.
const Size = 4096

// Kind distinguishes a leaf page (holds application rows) from an
// internal page (holds separator pointer rows).
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

// Header layout: kind(1) + hasParent(1) + parent(8) + numRows(8).
const (
	headerKindOff      = 0
	headerHasParentOff = 1
	headerParentOff    = 2
	headerNumRowsOff   = 10
	HeaderSize         = 18

	// BodySize is the byte budget available to rows on a page.
	BodySize = Size - HeaderSize
)

var (
	// ErrDuplicate is returned by Insert when a row with the same id
	// already exists.
	ErrDuplicate = errors.New("page: duplicate row")
	// ErrMissing is returned by Update/Delete when no row with the given
	// id exists.
	ErrMissing = errors.New("page: missing row")
	// ErrFull is returned by Insert/Update when the row would not fit in
	// the page's remaining body space.
	ErrFull = errors.New("page: full")
	// ErrCorrupt is returned by Decode when the page cannot be parsed.
	ErrCorrupt = errors.New("page: corrupt encoding")
)

// Page is the in-memory, decoded form of one on-disk node.
type Page struct {
	Kind      Kind
	HasParent bool
	Parent    uint64
	rows      []row.Row
	usedBytes int
}

// New returns an empty page of the given kind with no parent.
func New(kind Kind) *Page {
	return &Page{Kind: kind}
}

// NumRows returns the number of rows currently stored.
func (p *Page) NumRows() int { return len(p.rows) }

// UsedBytes returns the body bytes currently occupied by rows.
func (p *Page) UsedBytes() int { return p.usedBytes }

func (p *Page) search(id uint64) (int, bool) {
	n := len(p.rows)
	pos := sort.Search(n, func(i int) bool { return p.rows[i].ID() >= id })
	if pos < n && p.rows[pos].ID() == id {
		return pos, true
	}
	return pos, false
}

// Insert places r into the page in sorted order. Internal pages are
// relinked afterward so the adjacent-pointer invariant holds.
func (p *Page) Insert(r row.Row) error {
	pos, found := p.search(r.ID())
	if found {
		return fmt.Errorf("insert row %d: %w", r.ID(), ErrDuplicate)
	}
	if p.usedBytes+r.Size() > BodySize {
		return fmt.Errorf("insert row %d: %w", r.ID(), ErrFull)
	}

	p.rows = append(p.rows, row.Row{})
	copy(p.rows[pos+1:], p.rows[pos:])
	p.rows[pos] = r
	p.usedBytes += r.Size()

	if p.Kind == KindInternal {
		p.relink(pos)
	}
	return nil
}

// relink restores I2 around the row just inserted/modified at pos: the
// left neighbour's right pointer and the right neighbour's left pointer
// must match this row's pointers.
func (p *Page) relink(pos int) {
	left, err := p.rows[pos].Left()
	if err != nil {
		return
	}
	right, err := p.rows[pos].Right()
	if err != nil {
		return
	}
	if pos > 0 {
		_ = p.rows[pos-1].SetRight(left)
	}
	if pos+1 < len(p.rows) {
		_ = p.rows[pos+1].SetLeft(right)
	}
}

// Update replaces the row with the given id, returning the row it
// replaced. Fails with ErrMissing if absent, ErrFull if the new
// encoding would overflow the page (the caller should fall back to
// delete+insert, which may split).
func (p *Page) Update(r row.Row) (row.Row, error) {
	pos, found := p.search(r.ID())
	if !found {
		return row.Row{}, fmt.Errorf("update row %d: %w", r.ID(), ErrMissing)
	}
	old := p.rows[pos]
	newUsed := p.usedBytes - old.Size() + r.Size()
	if newUsed > BodySize {
		return row.Row{}, fmt.Errorf("update row %d: %w", r.ID(), ErrFull)
	}
	p.rows[pos] = r
	p.usedBytes = newUsed
	if p.Kind == KindInternal {
		p.relink(pos)
	}
	return old, nil
}

// Delete removes the row with the given id.
func (p *Page) Delete(r row.Row) error {
	pos, found := p.search(r.ID())
	if !found {
		return fmt.Errorf("delete row %d: %w", r.ID(), ErrMissing)
	}
	p.usedBytes -= p.rows[pos].Size()
	p.rows = append(p.rows[:pos], p.rows[pos+1:]...)
	return nil
}

// ReplaceAll discards the page's current rows and adopts the given
// rows verbatim, assumed already sorted and internally consistent (I1,
// I2). Used by the B-Tree's split path to redistribute rows between a
// page and its new sibling without going through per-row Insert.
func (p *Page) ReplaceAll(rows []row.Row) error {
	used := 0
	for _, r := range rows {
		used += r.Size()
	}
	if used > BodySize {
		return fmt.Errorf("replace rows: %w", ErrFull)
	}
	p.rows = make([]row.Row, len(rows))
	copy(p.rows, rows)
	p.usedBytes = used
	return nil
}

// Select returns a snapshot of the page's rows in ascending id order.
func (p *Page) Select() []row.Row {
	out := make([]row.Row, len(p.rows))
	copy(out, p.rows)
	return out
}

// Encode serializes the page into a fixed Size-byte buffer.
func (p *Page) Encode() ([]byte, error) {
	buf := make([]byte, Size)
	buf[headerKindOff] = byte(p.Kind)
	if p.HasParent {
		buf[headerHasParentOff] = 1
	}
	binary.BigEndian.PutUint64(buf[headerParentOff:headerParentOff+8], p.Parent)
	binary.BigEndian.PutUint64(buf[headerNumRowsOff:headerNumRowsOff+8], uint64(len(p.rows)))

	off := HeaderSize
	for _, r := range p.rows {
		size := r.Size()
		if off+size > Size {
			return nil, fmt.Errorf("encode page: %w", ErrCorrupt)
		}
		encoded := r.Encode(buf[off:off])
		copy(buf[off:off+size], encoded)
		off += size
	}
	return buf, nil
}

// Decode parses a fixed Size-byte buffer produced by Encode.
func Decode(buf []byte) (*Page, error) {
	if len(buf) != Size {
		return nil, fmt.Errorf("decode page: unexpected length %d: %w", len(buf), ErrCorrupt)
	}

	kind := Kind(buf[headerKindOff])
	if kind != KindLeaf && kind != KindInternal {
		return nil, fmt.Errorf("decode page: unknown kind %d: %w", kind, ErrCorrupt)
	}

	p := &Page{
		Kind:      kind,
		HasParent: buf[headerHasParentOff] != 0,
		Parent:    binary.BigEndian.Uint64(buf[headerParentOff : headerParentOff+8]),
	}
	numRows := binary.BigEndian.Uint64(buf[headerNumRowsOff : headerNumRowsOff+8])

	off := HeaderSize
	for i := uint64(0); i < numRows; i++ {
		r, n, err := row.Decode(buf[off:])
		if err != nil {
			return nil, fmt.Errorf("decode page: row %d: %w", i, err)
		}
		p.rows = append(p.rows, r)
		p.usedBytes += n
		off += n
	}
	return p, nil
}
