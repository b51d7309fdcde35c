// Package server exposes the storage core over Cryo's TCP wire protocol:
// a bounded pool of worker goroutines drains accepted connections, each
// connection opens with a Ping/Pong handshake and then dispatches
// framed requests against a single shared WAL-backed B-Tree.
package server

import (
	"context"
	"fmt"
	"net"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DavisRayM/cryo/dsl"
	"github.com/DavisRayM/cryo/protocol"
	"github.com/DavisRayM/cryo/row"
	"github.com/DavisRayM/cryo/wal"
)

// Server owns the listener and the shared logger every worker
// dispatches against. Storage mutation is single-writer by construction:
// the logger serializes callers behind its own lock, so the pool here
// only buys concurrency on parsing and I/O, never on the B-Tree itself.
type Server struct {
	logger   *wal.Logger
	log      *zap.Logger
	poolSize int
	listener net.Listener
}

// New returns a Server that will drain connections with poolSize
// worker goroutines (16 if poolSize <= 0).
func New(l *wal.Logger, zapLog *zap.Logger, poolSize int) *Server {
	if poolSize <= 0 {
		poolSize = 16
	}
	if zapLog == nil {
		zapLog = zap.NewNop()
	}
	return &Server{logger: l, log: zapLog, poolSize: poolSize}
}

// Listen binds the TCP address. Call before Serve.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound listener address; only valid after Listen.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve runs the accept loop and worker pool until ctx is canceled,
// then drains in-flight connections and performs a final checkpoint on
// the logger before returning.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return fmt.Errorf("server: Listen must be called before Serve")
	}
	s.log.Info("listening", zap.String("addr", s.listener.Addr().String()))

	connCh := make(chan net.Conn)
	group, gctx := errgroup.WithContext(ctx)

	for i := 0; i < s.poolSize; i++ {
		group.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case conn, ok := <-connCh:
					if !ok {
						return nil
					}
					s.handleConn(gctx, conn)
				}
			}
		})
	}

	group.Go(func() error {
		<-gctx.Done()
		return s.listener.Close()
	})

	group.Go(func() error {
		defer close(connCh)
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-gctx.Done():
					return nil
				default:
					return fmt.Errorf("server: accept: %w", err)
				}
			}
			select {
			case connCh <- conn:
			case <-gctx.Done():
				_ = conn.Close()
				return nil
			}
		}
	})

	serveErr := group.Wait()
	closeErr := s.logger.Close()
	return multierr.Combine(serveErr, closeErr)
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	id := uuid.NewString()
	log := s.log.With(zap.String("conn", id))
	defer conn.Close()
	log.Info("connection opened")
	defer log.Info("connection closed")

	req, err := protocol.ReadRequest(conn)
	if err != nil {
		log.Warn("handshake read failed", zap.Error(err))
		return
	}
	if req.Kind != protocol.ReqPing {
		_ = protocol.WriteResponse(conn, protocol.Response{
			Kind:        protocol.RespErr,
			ErrorCode:   protocol.ErrCodeCommand,
			Description: "first message on a connection must be Ping",
		})
		return
	}
	if err := protocol.WriteResponse(conn, protocol.Response{Kind: protocol.RespPong}); err != nil {
		log.Warn("handshake write failed", zap.Error(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		req, err := protocol.ReadRequest(conn)
		if err != nil {
			return
		}
		resp := s.dispatch(req, log)
		if err := protocol.WriteResponse(conn, resp); err != nil {
			log.Warn("write response failed", zap.Error(err))
			return
		}
		if req.Kind == protocol.ReqCloseConnection {
			return
		}
	}
}

func (s *Server) dispatch(req protocol.Request, log *zap.Logger) protocol.Response {
	switch req.Kind {
	case protocol.ReqPing:
		return protocol.Response{Kind: protocol.RespPong}
	case protocol.ReqCloseConnection:
		return protocol.Response{Kind: protocol.RespConnectionClosed}
	case protocol.ReqPrintStructure:
		out, err := s.logger.Structure()
		if err != nil {
			log.Warn("structure failed", zap.Error(err))
			return errResponse(protocol.ErrCodeRead, err)
		}
		return protocol.Response{Kind: protocol.RespStructure, Structure: out}
	case protocol.ReqPopulate:
		if err := s.populate(req.Count); err != nil {
			log.Warn("populate failed", zap.Error(err))
			return errResponse(protocol.ErrCodeCommand, err)
		}
		return protocol.Response{Kind: protocol.RespStateChanged}
	case protocol.ReqQuery:
		return s.dispatchQuery(req, log)
	default:
		return protocol.Response{Kind: protocol.RespErr, ErrorCode: protocol.ErrCodeCommand, Description: "unknown request kind"}
	}
}

func (s *Server) dispatchQuery(req protocol.Request, log *zap.Logger) protocol.Response {
	switch req.QueryKind {
	case protocol.QuerySelect:
		rows, err := s.logger.Select()
		if err != nil {
			log.Warn("select failed", zap.Error(err))
			return errResponse(protocol.ErrCodeRead, err)
		}
		return protocol.Response{Kind: protocol.RespQuery, Rows: protocol.EncodeRows(rows)}

	case protocol.QueryInsert, protocol.QueryUpdate, protocol.QueryDelete:
		r, _, err := row.Decode(req.Row)
		if err != nil {
			return errResponse(protocol.ErrCodeQuery, err)
		}

		switch req.QueryKind {
		case protocol.QueryInsert:
			value, verr := r.Value()
			if verr != nil {
				return errResponse(protocol.ErrCodeQuery, verr)
			}
			err = s.logger.Insert(r.ID(), value)
		case protocol.QueryUpdate:
			value, verr := r.Value()
			if verr != nil {
				return errResponse(protocol.ErrCodeQuery, verr)
			}
			err = s.logger.Update(r.ID(), value)
		case protocol.QueryDelete:
			err = s.logger.Delete(r.ID())
		}
		if err != nil {
			log.Warn("mutation failed", zap.Error(err))
			return errResponse(protocol.ErrCodeQuery, err)
		}
		return protocol.Response{Kind: protocol.RespStateChanged}

	default:
		return protocol.Response{Kind: protocol.RespErr, ErrorCode: protocol.ErrCodeQuery, Description: "unknown query kind"}
	}
}

func (s *Server) populate(n uint64) error {
	for i := uint64(0); i < n; i++ {
		value := dsl.PackValue(fmt.Sprintf("user%d", i), fmt.Sprintf("user%d@example.com", i))
		if err := s.logger.Insert(i, value); err != nil {
			return fmt.Errorf("server: populate at %d: %w", i, err)
		}
	}
	return nil
}

func errResponse(code protocol.ErrorCode, err error) protocol.Response {
	return protocol.Response{Kind: protocol.RespErr, ErrorCode: code, Description: err.Error()}
}
