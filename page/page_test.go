package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DavisRayM/cryo/row"
)

func TestInsertSelectOrdering(t *testing.T) {
	p := New(KindLeaf)
	require.NoError(t, p.Insert(row.NewLeaf(3, []byte("c"))))
	require.NoError(t, p.Insert(row.NewLeaf(1, []byte("a"))))
	require.NoError(t, p.Insert(row.NewLeaf(2, []byte("b"))))

	rows := p.Select()
	require.Len(t, rows, 3)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{rows[0].ID(), rows[1].ID(), rows[2].ID()})
}

func TestInsertDuplicate(t *testing.T) {
	p := New(KindLeaf)
	require.NoError(t, p.Insert(row.NewLeaf(1, []byte("a"))))
	err := p.Insert(row.NewLeaf(1, []byte("b")))
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestInsertFull(t *testing.T) {
	p := New(KindLeaf)
	big := make([]byte, BodySize)
	err := p.Insert(row.NewLeaf(1, big))
	assert.ErrorIs(t, err, ErrFull)
}

func TestUpdateMissing(t *testing.T) {
	p := New(KindLeaf)
	_, err := p.Update(row.NewLeaf(1, []byte("a")))
	assert.ErrorIs(t, err, ErrMissing)
}

func TestUpdateReplacesValue(t *testing.T) {
	p := New(KindLeaf)
	require.NoError(t, p.Insert(row.NewLeaf(1, []byte("a"))))
	old, err := p.Update(row.NewLeaf(1, []byte("longer")))
	require.NoError(t, err)
	oldVal, _ := old.Value()
	assert.Equal(t, []byte("a"), oldVal)

	rows := p.Select()
	require.Len(t, rows, 1)
	newVal, _ := rows[0].Value()
	assert.Equal(t, []byte("longer"), newVal)
}

func TestDeleteMissing(t *testing.T) {
	p := New(KindLeaf)
	err := p.Delete(row.NewLeaf(1, nil))
	assert.ErrorIs(t, err, ErrMissing)
}

func TestDeleteRemovesRow(t *testing.T) {
	p := New(KindLeaf)
	require.NoError(t, p.Insert(row.NewLeaf(1, []byte("a"))))
	require.NoError(t, p.Insert(row.NewLeaf(2, []byte("b"))))
	require.NoError(t, p.Delete(row.NewLeaf(1, nil)))
	rows := p.Select()
	require.Len(t, rows, 1)
	assert.Equal(t, uint64(2), rows[0].ID())
}

func TestInternalRelinkOnInsert(t *testing.T) {
	p := New(KindInternal)
	require.NoError(t, p.Insert(row.NewInternal(10, 100, 200)))
	require.NoError(t, p.Insert(row.NewInternal(20, 200, 300)))

	// Inserting a new separator between them should relink neighbours.
	require.NoError(t, p.Insert(row.NewInternal(15, 150, 250)))

	rows := p.Select()
	require.Len(t, rows, 3)

	firstRight, _ := rows[0].Right()
	secondLeft, _ := rows[1].Left()
	secondRight, _ := rows[1].Right()
	thirdLeft, _ := rows[2].Left()

	assert.Equal(t, uint64(150), firstRight)
	assert.Equal(t, uint64(150), secondLeft)
	assert.Equal(t, uint64(250), secondRight)
	assert.Equal(t, uint64(250), thirdLeft)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := New(KindLeaf)
	p.HasParent = true
	p.Parent = 7
	require.NoError(t, p.Insert(row.NewLeaf(1, []byte("alice\x00alice@example.com"))))
	require.NoError(t, p.Insert(row.NewLeaf(2, []byte("bob\x00bob@example.com"))))

	buf, err := p.Encode()
	require.NoError(t, err)
	require.Len(t, buf, Size)

	decoded, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, p.Kind, decoded.Kind)
	assert.Equal(t, p.HasParent, decoded.HasParent)
	assert.Equal(t, p.Parent, decoded.Parent)
	assert.Equal(t, p.Select(), decoded.Select())
}

func TestDecodeWrongLength(t *testing.T) {
	_, err := Decode(make([]byte, Size-1))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestDecodeUnknownKind(t *testing.T) {
	buf := make([]byte, Size)
	buf[headerKindOff] = 99
	_, err := Decode(buf)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestEmptyPageRoundTrip(t *testing.T) {
	p := New(KindInternal)
	buf, err := p.Encode()
	require.NoError(t, err)
	decoded, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, 0, decoded.NumRows())
}
