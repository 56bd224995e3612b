package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// EndSentinel closes the session; it never reaches the dispatcher.
	EndSentinel = "end"
	EndReply    = "Ended"

	DefaultMaxPayload = 2036
)

// ErrSessionEnded is returned by Serve after a client sent EndSentinel.
var ErrSessionEnded = errors.New("session ended by client")

// Handler answers one query text.
type Handler interface {
	Dispatch(ctx context.Context, text string) string
}

// Server is the TCP front end: one client at a time, one query per read,
// the reply written back whole without framing.
type Server struct {
	addr       string
	maxPayload int
	handler    Handler
	metrics    *Metrics
}

func NewServer(addr string, maxPayload int, h Handler, m *Metrics) *Server {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Server{addr: addr, maxPayload: maxPayload, handler: h, metrics: m}
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done or a client ends the
// session. It closes ln before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		ln.Close()
	}()

	log.Printf("query-svc: listening on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		err = s.ServeConn(ctx, conn)
		if errors.Is(err, ErrSessionEnded) {
			log.Printf("query-svc: session ended, stopping server")
			return err
		}
		if err != nil && ctx.Err() == nil {
			log.Printf("query-svc: connection error: %v", err)
		}
	}
}

// ServeConn runs one client session and closes conn. It returns nil when the
// client disconnects and ErrSessionEnded after the end sentinel.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) error {
	id := uuid.NewString()
	s.metrics.session()
	log.Printf("query-svc: session %s from %s", id, conn.RemoteAddr())

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	buf := make([]byte, s.maxPayload)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			text := string(buf[:n])
			if text == EndSentinel {
				_, werr := conn.Write([]byte(EndReply))
				if werr != nil {
					log.Printf("query-svc: session %s: write %s: %v", id, EndReply, werr)
				}
				return ErrSessionEnded
			}
			reply := s.reply(ctx, id, text)
			if _, werr := conn.Write([]byte(reply)); werr != nil {
				return fmt.Errorf("session %s: write reply: %w", id, werr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Printf("query-svc: session %s closed by client", id)
				return nil
			}
			return fmt.Errorf("session %s: read: %w", id, err)
		}
	}
}

func (s *Server) reply(ctx context.Context, id, text string) string {
	if !utf8.ValidString(text) {
		return "Error processing query: query is not valid UTF-8"
	}
	log.Printf("query-svc: session %s: query %q", id, text)
	return s.handler.Dispatch(ctx, text)
}
