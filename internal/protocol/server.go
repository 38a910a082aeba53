package protocol

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/acoustid-go/fpindex/internal/index"
)

// maxLineSize bounds one command line; a client sending more without a
// terminator is disconnected.
const maxLineSize = 32 * 1024

// Server accepts TCP connections and runs one Session per connection.
type Server struct {
	idx          *index.Index
	logger       *slog.Logger
	readTimeout  time.Duration
	writeTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer creates a Server that answers commands against idx.
func NewServer(idx *index.Index, readTimeout, writeTimeout time.Duration) *Server {
	return &Server{
		idx:          idx,
		logger:       slog.Default().With("component", "protocol-server"),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// Serve listens on addr and handles connections until ctx is cancelled or
// Close is called.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("protocol: listening on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("protocol server listening", "addr", addr)

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("protocol: accept: %w", err)
		}
		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

// Close stops accepting new connections. In-flight connections drain on
// their own.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	s.logger.Debug("connection accepted", "remote", remote)
	session := NewSession(s.idx)
	session.OnKill(func() { s.Close() })
	reader := bufio.NewReaderSize(conn, maxLineSize)

	for {
		if s.readTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("connection closed", "remote", remote, "error", err)
			}
			return
		}
		if len(line) > maxLineSize {
			conn.Write([]byte("ERR line too long\r\n"))
			return
		}
		line = strings.TrimRight(line, "\r\n")

		response, closeConn := session.Execute(ctx, line)

		if s.writeTimeout > 0 {
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		}
		if _, err := conn.Write([]byte(response + "\r\n")); err != nil {
			s.logger.Debug("write failed", "remote", remote, "error", err)
			return
		}
		if closeConn {
			return
		}
	}
}
