package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DavisRayM/cryo/row"
)

func TestRequestRoundTripQuery(t *testing.T) {
	r := row.NewLeaf(1, []byte("alice\x00alice@example.com"))
	req := Request{Kind: ReqQuery, QueryKind: QueryInsert, Row: r.Encode(nil)}

	buf := EncodeRequest(req)
	decoded, err := DecodeRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, req, decoded)
}

func TestRequestRoundTripPopulate(t *testing.T) {
	req := Request{Kind: ReqPopulate, Count: 42}
	buf := EncodeRequest(req)
	decoded, err := DecodeRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, req, decoded)
}

func TestRequestRoundTripBareKinds(t *testing.T) {
	for _, kind := range []RequestKind{ReqCloseConnection, ReqPrintStructure, ReqPing} {
		buf := EncodeRequest(Request{Kind: kind})
		decoded, err := DecodeRequest(buf)
		require.NoError(t, err)
		assert.Equal(t, kind, decoded.Kind)
	}
}

func TestResponseRoundTripQuery(t *testing.T) {
	rows := []row.Row{row.NewLeaf(1, []byte("a")), row.NewLeaf(2, []byte("b"))}
	resp := Response{Kind: RespQuery, Rows: EncodeRows(rows)}

	buf := EncodeResponse(resp)
	decoded, err := DecodeResponse(buf)
	require.NoError(t, err)

	gotRows, err := DecodeRows(decoded.Rows)
	require.NoError(t, err)
	require.Len(t, gotRows, 2)
	assert.Equal(t, uint64(1), gotRows[0].ID())
	assert.Equal(t, uint64(2), gotRows[1].ID())
}

func TestResponseRoundTripStructure(t *testing.T) {
	resp := Response{Kind: RespStructure, Structure: "digraph cryo {}"}
	buf := EncodeResponse(resp)
	decoded, err := DecodeResponse(buf)
	require.NoError(t, err)
	assert.Equal(t, resp.Structure, decoded.Structure)
}

func TestResponseRoundTripErr(t *testing.T) {
	resp := Response{Kind: RespErr, ErrorCode: ErrCodeQuery, Description: "duplicate id"}
	buf := EncodeResponse(resp)
	decoded, err := DecodeResponse(buf)
	require.NoError(t, err)
	assert.Equal(t, resp, decoded)
}

func TestResponseRoundTripBareKinds(t *testing.T) {
	for _, kind := range []ResponseKind{RespOk, RespPong, RespStateChanged, RespConnectionClosed} {
		buf := EncodeResponse(Response{Kind: kind})
		decoded, err := DecodeResponse(buf)
		require.NoError(t, err)
		assert.Equal(t, kind, decoded.Kind)
	}
}

func TestFramedRequestOverStream(t *testing.T) {
	var buf bytes.Buffer
	req := Request{Kind: ReqQuery, QueryKind: QuerySelect}
	require.NoError(t, WriteRequest(&buf, req))
	require.NoError(t, WriteRequest(&buf, req))

	got1, err := ReadRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, req, got1)

	got2, err := ReadRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, req, got2)
}

func TestFramedResponseOverStream(t *testing.T) {
	var buf bytes.Buffer
	resp := Response{Kind: RespPong}
	require.NoError(t, WriteResponse(&buf, resp))

	got, err := ReadResponse(&buf)
	require.NoError(t, err)
	assert.Equal(t, resp, got)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	lenBuf[0] = 0xFF
	buf.Write(lenBuf[:])

	_, err := ReadRequest(&buf)
	assert.ErrorIs(t, err, ErrDeserialize)
}

func TestDecodeRequestUnknownKind(t *testing.T) {
	_, err := DecodeRequest([]byte{99})
	assert.ErrorIs(t, err, ErrDeserialize)
}
