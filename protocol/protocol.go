// Package protocol implements Cryo's client/server wire format: typed
// requests and responses framed as length-prefixed, big-endian binary
// messages over any io.Reader/io.Writer.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/DavisRayM/cryo/row"
)

// RequestKind distinguishes the shape of a Request.
type RequestKind uint8

const (
	ReqQuery RequestKind = iota
	ReqCloseConnection
	ReqPopulate
	ReqPrintStructure
	ReqPing
)

// QueryKind is the operation carried by a ReqQuery request.
type QueryKind uint8

const (
	QuerySelect QueryKind = iota
	QueryInsert
	QueryUpdate
	QueryDelete
)

// Request is a single client-to-server message.
type Request struct {
	Kind      RequestKind
	QueryKind QueryKind
	Row       []byte // encoded row.Row, set when Kind == ReqQuery and QueryKind != QuerySelect
	Count     uint64 // set when Kind == ReqPopulate
}

// ResponseKind distinguishes the shape of a Response.
type ResponseKind uint8

const (
	RespOk ResponseKind = iota
	RespPong
	RespStateChanged
	RespQuery
	RespStructure
	RespErr
	RespConnectionClosed
)

// ErrorCode classifies a RespErr response.
type ErrorCode uint8

const (
	ErrCodeQuery ErrorCode = iota
	ErrCodeRead
	ErrCodeCommand
)

// Response is a single server-to-client message.
type Response struct {
	Kind        ResponseKind
	Rows        []byte // set when Kind == RespQuery: concatenated encoded row.Row values
	Structure   string // set when Kind == RespStructure
	ErrorCode   ErrorCode
	Description string // set when Kind == RespErr
}

// MaxFrameSize bounds a single message to guard against a corrupt or
// hostile length prefix requesting an unbounded allocation.
const MaxFrameSize = 64 << 20

var (
	// ErrSerialize is returned when a message cannot be encoded.
	ErrSerialize = errors.New("protocol: serialize error")
	// ErrDeserialize is returned when a frame cannot be parsed.
	ErrDeserialize = errors.New("protocol: deserialize error")
)

func putUint64(dst []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}

func putString(dst []byte, s string) []byte {
	dst = putUint64(dst, uint64(len(s)))
	return append(dst, s...)
}

func takeUint64(buf []byte) (uint64, []byte, error) {
	if len(buf) < 8 {
		return 0, nil, fmt.Errorf("protocol: truncated uint64: %w", ErrDeserialize)
	}
	return binary.BigEndian.Uint64(buf[:8]), buf[8:], nil
}

func takeBytes(buf []byte, n uint64) ([]byte, []byte, error) {
	if uint64(len(buf)) < n {
		return nil, nil, fmt.Errorf("protocol: truncated bytes: %w", ErrDeserialize)
	}
	return buf[:n], buf[n:], nil
}

func takeString(buf []byte) (string, []byte, error) {
	n, rest, err := takeUint64(buf)
	if err != nil {
		return "", nil, err
	}
	s, rest, err := takeBytes(rest, n)
	if err != nil {
		return "", nil, err
	}
	return string(s), rest, nil
}

// EncodeRequest serializes a Request to its wire form (without the
// outer length prefix).
func EncodeRequest(r Request) []byte {
	buf := []byte{byte(r.Kind)}
	switch r.Kind {
	case ReqQuery:
		buf = append(buf, byte(r.QueryKind))
		buf = putUint64(buf, uint64(len(r.Row)))
		buf = append(buf, r.Row...)
	case ReqPopulate:
		buf = putUint64(buf, r.Count)
	case ReqCloseConnection, ReqPrintStructure, ReqPing:
	}
	return buf
}

// DecodeRequest parses a Request from its wire form.
func DecodeRequest(buf []byte) (Request, error) {
	if len(buf) < 1 {
		return Request{}, fmt.Errorf("protocol: empty request: %w", ErrDeserialize)
	}
	kind := RequestKind(buf[0])
	rest := buf[1:]

	switch kind {
	case ReqQuery:
		if len(rest) < 1 {
			return Request{}, fmt.Errorf("protocol: truncated query kind: %w", ErrDeserialize)
		}
		qk := QueryKind(rest[0])
		rest = rest[1:]
		n, rest, err := takeUint64(rest)
		if err != nil {
			return Request{}, err
		}
		rowBytes, _, err := takeBytes(rest, n)
		if err != nil {
			return Request{}, err
		}
		if n == 0 {
			rowBytes = nil
		}
		return Request{Kind: kind, QueryKind: qk, Row: rowBytes}, nil
	case ReqPopulate:
		n, _, err := takeUint64(rest)
		if err != nil {
			return Request{}, err
		}
		return Request{Kind: kind, Count: n}, nil
	case ReqCloseConnection, ReqPrintStructure, ReqPing:
		return Request{Kind: kind}, nil
	default:
		return Request{}, fmt.Errorf("protocol: unknown request kind %d: %w", kind, ErrDeserialize)
	}
}

// EncodeResponse serializes a Response to its wire form.
func EncodeResponse(r Response) []byte {
	buf := []byte{byte(r.Kind)}
	switch r.Kind {
	case RespQuery:
		buf = putUint64(buf, uint64(len(r.Rows)))
		buf = append(buf, r.Rows...)
	case RespStructure:
		buf = putString(buf, r.Structure)
	case RespErr:
		buf = append(buf, byte(r.ErrorCode))
		buf = putString(buf, r.Description)
	case RespOk, RespPong, RespStateChanged, RespConnectionClosed:
	}
	return buf
}

// DecodeResponse parses a Response from its wire form.
func DecodeResponse(buf []byte) (Response, error) {
	if len(buf) < 1 {
		return Response{}, fmt.Errorf("protocol: empty response: %w", ErrDeserialize)
	}
	kind := ResponseKind(buf[0])
	rest := buf[1:]

	switch kind {
	case RespQuery:
		n, rest, err := takeUint64(rest)
		if err != nil {
			return Response{}, err
		}
		rows, _, err := takeBytes(rest, n)
		if err != nil {
			return Response{}, err
		}
		return Response{Kind: kind, Rows: rows}, nil
	case RespStructure:
		s, _, err := takeString(rest)
		if err != nil {
			return Response{}, err
		}
		return Response{Kind: kind, Structure: s}, nil
	case RespErr:
		if len(rest) < 1 {
			return Response{}, fmt.Errorf("protocol: truncated error code: %w", ErrDeserialize)
		}
		code := ErrorCode(rest[0])
		desc, _, err := takeString(rest[1:])
		if err != nil {
			return Response{}, err
		}
		return Response{Kind: kind, ErrorCode: code, Description: desc}, nil
	case RespOk, RespPong, RespStateChanged, RespConnectionClosed:
		return Response{Kind: kind}, nil
	default:
		return Response{}, fmt.Errorf("protocol: unknown response kind %d: %w", kind, ErrDeserialize)
	}
}

func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("protocol: write frame length: %w: %v", ErrSerialize, err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("protocol: write frame body: %w: %v", ErrSerialize, err)
	}
	return nil
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("protocol: read frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("protocol: frame of %d bytes exceeds limit: %w", n, ErrDeserialize)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("protocol: read frame body: %w", err)
	}
	return payload, nil
}

// WriteRequest frames and writes a Request.
func WriteRequest(w io.Writer, r Request) error {
	return writeFrame(w, EncodeRequest(r))
}

// ReadRequest reads and parses one framed Request.
func ReadRequest(r io.Reader) (Request, error) {
	payload, err := readFrame(r)
	if err != nil {
		return Request{}, err
	}
	return DecodeRequest(payload)
}

// WriteResponse frames and writes a Response.
func WriteResponse(w io.Writer, resp Response) error {
	return writeFrame(w, EncodeResponse(resp))
}

// ReadResponse reads and parses one framed Response.
func ReadResponse(r io.Reader) (Response, error) {
	payload, err := readFrame(r)
	if err != nil {
		return Response{}, err
	}
	return DecodeResponse(payload)
}

// EncodeRows concatenates the wire form of each row; a Select response
// packs its result set this way since row.Decode is self-delimiting.
func EncodeRows(rows []row.Row) []byte {
	var buf []byte
	for _, r := range rows {
		buf = r.Encode(buf)
	}
	return buf
}

// DecodeRows parses a buffer produced by EncodeRows.
func DecodeRows(buf []byte) ([]row.Row, error) {
	var rows []row.Row
	for len(buf) > 0 {
		r, n, err := row.Decode(buf)
		if err != nil {
			return nil, fmt.Errorf("protocol: decode rows: %w", err)
		}
		rows = append(rows, r)
		buf = buf[n:]
	}
	return rows, nil
}
