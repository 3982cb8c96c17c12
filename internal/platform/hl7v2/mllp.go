package hl7v2

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// MLLP block characters. A frame is <VT> message <FS><CR>.
const (
	MLLPStartBlock     = 0x0B
	MLLPEndBlock       = 0x1C
	MLLPCarriageReturn = 0x0D
)

// ErrFrameTooLarge is returned by ReadFrame when a frame outgrows the limit.
var ErrFrameTooLarge = errors.New("mllp: frame exceeds maximum size")

// MessageHandler answers one received message. ctx is cancelled when the
// server stops. An empty reply sends nothing back.
type MessageHandler func(ctx context.Context, raw string) string

// MLLPOption configures an MLLPServer.
type MLLPOption func(*MLLPServer)

// WithReadTimeout sets how long a connection may stay idle between frames.
// Zero disables the deadline.
func WithReadTimeout(d time.Duration) MLLPOption {
	return func(s *MLLPServer) { s.readTimeout = d }
}

// WithWriteTimeout bounds writing each reply.
func WithWriteTimeout(d time.Duration) MLLPOption {
	return func(s *MLLPServer) { s.writeTimeout = d }
}

// WithMaxFrameSize caps the payload of a single frame. Zero means no cap.
func WithMaxFrameSize(n int) MLLPOption {
	return func(s *MLLPServer) { s.maxFrame = n }
}

// MLLPServer accepts MLLP connections and hands every frame to a handler.
// Frames on one connection are answered in order.
type MLLPServer struct {
	addr         string
	handler      MessageHandler
	logger       zerolog.Logger
	readTimeout  time.Duration
	writeTimeout time.Duration
	maxFrame     int

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup

	handled atomic.Int64
}

// NewMLLPServer creates a server for addr. Without options, connections idle
// out after 30s and frames are capped at 1 MiB.
func NewMLLPServer(addr string, handler MessageHandler, logger zerolog.Logger, opts ...MLLPOption) *MLLPServer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &MLLPServer{
		addr:         addr,
		handler:      handler,
		logger:       logger.With().Str("component", "mllp").Logger(),
		readTimeout:  30 * time.Second,
		writeTimeout: 10 * time.Second,
		maxFrame:     1 << 20,
		ctx:          ctx,
		cancel:       cancel,
		conns:        make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start listens on the configured address and serves in the background.
func (s *MLLPServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("mllp: listen on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.serve(ln); err != nil {
			s.logger.Error().Err(err).Msg("accept loop stopped")
		}
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("listening")
	return nil
}

// Stop cancels in-flight handlers, closes the listener and every open
// connection, and waits for the connection goroutines to return.
func (s *MLLPServer) Stop() error {
	s.cancel()

	s.mu.Lock()
	var err error
	if s.ln != nil {
		err = s.ln.Close()
		s.ln = nil
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Int64("messages", s.Handled()).Msg("stopped")
	return err
}

// Addr is the bound listener address once started, else the configured one.
func (s *MLLPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Handled is the number of frames passed to the handler so far.
func (s *MLLPServer) Handled() int64 {
	return s.handled.Load()
}

func (s *MLLPServer) serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			return err
		}

		s.mu.Lock()
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)

			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
			conn.Close()
		}()
	}
}

func (s *MLLPServer) serveConn(conn net.Conn) {
	log := s.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
	r := bufio.NewReader(conn)

	for {
		if s.readTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
		frame, err := ReadFrame(r, s.maxFrame)
		if err != nil {
			var ne net.Error
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			case errors.Is(err, ErrFrameTooLarge):
				log.Warn().Int("limit", s.maxFrame).Msg("frame too large, closing connection")
			case errors.As(err, &ne) && ne.Timeout():
				log.Debug().Msg("idle connection closed")
			default:
				log.Debug().Err(err).Msg("read failed")
			}
			return
		}

		reply := s.handler(s.ctx, string(frame))
		s.handled.Add(1)
		if reply == "" {
			continue
		}

		if s.writeTimeout > 0 {
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		}
		if _, err := conn.Write(FrameMessage([]byte(reply))); err != nil {
			log.Error().Err(err).Msg("write reply failed")
			return
		}
	}
}

// FrameMessage wraps data in MLLP block characters.
func FrameMessage(data []byte) []byte {
	frame := make([]byte, 0, len(data)+3)
	frame = append(frame, MLLPStartBlock)
	frame = append(frame, data...)
	return append(frame, MLLPEndBlock, MLLPCarriageReturn)
}

// ReadFrame reads the next frame payload from r. Bytes before a start block
// are skipped, and an end block not followed by CR is kept as payload.
// maxSize limits the payload; zero disables the limit. A stream that ends
// inside a frame fails with io.ErrUnexpectedEOF.
func ReadFrame(r *bufio.Reader, maxSize int) ([]byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == MLLPStartBlock {
			break
		}
	}

	var payload []byte
	for {
		chunk, err := r.ReadSlice(MLLPEndBlock)
		payload = append(payload, chunk...)
		if maxSize > 0 && len(payload) > maxSize+1 {
			return nil, ErrFrameTooLarge
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			return nil, unexpectedEOF(err)
		}

		next, err := r.ReadByte()
		if err != nil {
			return nil, unexpectedEOF(err)
		}
		if next == MLLPCarriageReturn {
			return payload[:len(payload)-1], nil
		}
		r.UnreadByte()
	}
}

func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
