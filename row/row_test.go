package row

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeafRoundTrip(t *testing.T) {
	r := NewLeaf(42, []byte("alice\x00alice@example.com"))

	buf := r.Encode(nil)
	require.Len(t, buf, r.Size())

	decoded, n, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, uint64(42), decoded.ID())
	assert.Equal(t, KindLeaf, decoded.Kind())

	value, err := decoded.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("alice\x00alice@example.com"), value)
}

func TestInternalRoundTrip(t *testing.T) {
	r := NewInternal(7, 1, 2)

	buf := r.Encode(nil)
	decoded, n, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)

	left, err := decoded.Left()
	require.NoError(t, err)
	right, err := decoded.Right()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), left)
	assert.Equal(t, uint64(2), right)
}

func TestKindMismatch(t *testing.T) {
	leaf := NewLeaf(1, nil)
	_, err := leaf.Left()
	assert.ErrorIs(t, err, ErrKindMismatch)

	internal := NewInternal(1, 0, 0)
	_, err = internal.Value()
	assert.ErrorIs(t, err, ErrKindMismatch)
}

func TestSetters(t *testing.T) {
	leaf := NewLeaf(1, []byte("a"))
	require.NoError(t, leaf.SetValue([]byte("longer value")))
	v, err := leaf.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("longer value"), v)

	internal := NewInternal(1, 0, 0)
	require.NoError(t, internal.SetLeft(10))
	require.NoError(t, internal.SetRight(20))
	l, _ := internal.Left()
	r, _ := internal.Right()
	assert.Equal(t, uint64(10), l)
	assert.Equal(t, uint64(20), r)
}

func TestDecodeTruncated(t *testing.T) {
	r := NewLeaf(1, []byte("hello"))
	buf := r.Encode(nil)

	for n := 0; n < len(buf); n++ {
		_, _, err := Decode(buf[:n])
		assert.Error(t, err, "expected error decoding %d of %d bytes", n, len(buf))
	}
}

func TestOrderingByID(t *testing.T) {
	rows := []Row{NewLeaf(3, nil), NewLeaf(1, nil), NewLeaf(2, nil)}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID() < rows[j].ID() })
	ids := make([]uint64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID()
	}
	assert.Equal(t, []uint64{1, 2, 3}, ids)
}
