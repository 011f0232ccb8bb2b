package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adbtoolkit/agent/pkg/auth"
	"github.com/adbtoolkit/agent/pkg/provider"
	"github.com/pion/logging"
	"golang.org/x/sync/semaphore"
)

// DefaultPort is the default transfer channel port.
const DefaultPort = 15556

// DefaultMaxConcurrent caps simultaneous transfers; further connections
// queue on the semaphore rather than being refused.
const DefaultMaxConcurrent = 4

// DefaultFrameTimeout bounds the wait for a header or trailer frame. A
// client that stalls before completing a frame is disconnected so it
// cannot hold a concurrency slot.
const DefaultFrameTimeout = 30 * time.Second

// Config configures the transfer Server.
type Config struct {
	// Listener is an optional pre-existing listener, used by tests.
	// If nil, a TCP listener is created on Port.
	Listener net.Listener

	// Port is the TCP port to listen on. Defaults to DefaultPort.
	Port int

	// Gate authenticates frames. Required.
	Gate *auth.Gate

	// Files is the sandboxed filesystem backend. Required.
	Files provider.Files

	// MaxConcurrent caps simultaneous transfers.
	MaxConcurrent int

	// FrameTimeout bounds the wait for the request header and the push
	// hash trailer. Defaults to DefaultFrameTimeout. Payload copies are
	// not subject to it.
	FrameTimeout time.Duration

	// LoggerFactory for creating loggers. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Stats is a snapshot of the server's transfer counters.
type Stats struct {
	TotalBytes      int64
	ActiveTransfers int64
}

// Server is the bulk transfer listener.
type Server struct {
	config   Config
	listener net.Listener
	sem      *semaphore.Weighted
	log      logging.LeveledLogger

	totalBytes atomic.Int64
	active     atomic.Int64

	mu      sync.Mutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// NewServer creates the transfer server. Call Start to begin serving.
func NewServer(config Config) (*Server, error) {
	if config.Gate == nil {
		return nil, fmt.Errorf("transfer: Gate is required")
	}
	if config.Files == nil {
		return nil, fmt.Errorf("transfer: Files is required")
	}
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.MaxConcurrent == 0 {
		config.MaxConcurrent = DefaultMaxConcurrent
	}
	if config.FrameTimeout == 0 {
		config.FrameTimeout = DefaultFrameTimeout
	}

	s := &Server{
		config:   config,
		listener: config.Listener,
		sem:      semaphore.NewWeighted(int64(config.MaxConcurrent)),
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("transfer")
	}

	if s.listener == nil {
		l, err := net.Listen("tcp", fmt.Sprintf(":%d", config.Port))
		if err != nil {
			return nil, fmt.Errorf("transfer: listen failed: %w", err)
		}
		s.listener = l
	}
	return s, nil
}

// Start begins accepting transfer connections.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	if s.log != nil {
		s.log.Infof("serving transfer channel on %s", s.listener.Addr())
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and waits for in-flight transfers.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.mu.Unlock()

	err := s.listener.Close()
	s.wg.Wait()
	return err
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Stats returns the current transfer counters.
func (s *Server) Stats() Stats {
	return Stats{
		TotalBytes:      s.totalBytes.Load(),
		ActiveTransfers: s.active.Load(),
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			if s.log != nil {
				s.log.Warnf("accept failed: %v", err)
			}
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	// Queue behind the concurrency cap rather than refusing.
	if err := s.sem.Acquire(context.Background(), 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	s.active.Add(1)
	defer s.active.Add(-1)

	tuneConn(conn)

	// The header must arrive within the frame timeout so a silent client
	// cannot pin a concurrency slot.
	conn.SetReadDeadline(time.Now().Add(s.config.FrameTimeout))
	h, err := readFrame(conn)
	if err != nil {
		writeFrame(conn, &Header{Status: "error", Error: "malformed header"})
		return
	}
	conn.SetReadDeadline(time.Time{})

	verdict, err := s.config.Gate.AuthenticateTransfer(
		h.Op, h.Path, h.Token, h.PeerID, h.Signature, h.Timestamp,
		conn.RemoteAddr().String())
	if err != nil {
		if s.log != nil {
			s.log.Warnf("rejected %s %s from %s: %v", h.Op, h.Path, conn.RemoteAddr(), err)
		}
		writeFrame(conn, &Header{Status: "error", Error: err.Error()})
		// Drain the payload the client may already be sending, so the
		// error frame is not lost to a connection reset.
		if h.Op == "push" && h.Size > 0 {
			io.Copy(io.Discard, io.LimitReader(conn, h.Size+HashSize))
		}
		return
	}

	if s.log != nil {
		s.log.Debugf("%s %s from %s (%s)", h.Op, h.Path, conn.RemoteAddr(), verdict.Scheme)
	}

	switch h.Op {
	case "push":
		s.handlePush(conn, h)
	case "pull":
		s.handlePull(conn, h)
	case "stat":
		s.handleStat(conn, h)
	default:
		writeFrame(conn, &Header{Status: "error", Error: "unknown op"})
	}
}

// handlePush receives size payload bytes into the target file, hashing on
// the fly, then verifies the client's trailer. An all-zero trailer means
// the client did not compute a hash and is accepted.
func (s *Server) handlePush(conn net.Conn, h *Header) {
	if h.Size < 0 {
		writeFrame(conn, &Header{Status: "error", Error: "invalid size"})
		return
	}

	sha := sha256.New()
	payload := io.TeeReader(io.LimitReader(conn, h.Size), sha)
	n, err := s.config.Files.Write(h.Path, payload)
	if err != nil {
		writeFrame(conn, &Header{Status: "error", Error: err.Error(), BytesWritten: n})
		io.Copy(io.Discard, io.LimitReader(conn, h.Size-n+HashSize))
		return
	}
	s.totalBytes.Add(n)

	conn.SetReadDeadline(time.Now().Add(s.config.FrameTimeout))
	trailer := make([]byte, HashSize)
	if _, err := io.ReadFull(conn, trailer); err != nil {
		writeFrame(conn, &Header{Status: "error", Error: "missing hash trailer", BytesWritten: n})
		return
	}

	serverHash := sha.Sum(nil)
	status := "ok"
	if !zeroHash(trailer) && !hashEqual(trailer, serverHash) {
		status = "hash_mismatch"
	}

	writeFrame(conn, &Header{
		Status:       status,
		BytesWritten: n,
		Hash:         hex.EncodeToString(serverHash),
	})
}

// handlePull streams the file to the client: response header with the
// size, the payload, then the server-computed hash trailer.
func (s *Server) handlePull(conn net.Conn, h *Header) {
	rc, info, err := s.config.Files.Open(h.Path)
	if err != nil {
		writeFrame(conn, &Header{Status: "error", Error: err.Error()})
		return
	}
	defer rc.Close()

	if err := writeFrame(conn, &Header{Status: "ok", Size: info.Size}); err != nil {
		return
	}

	sha := sha256.New()
	buf := make([]byte, BufferSize)
	n, err := io.CopyBuffer(io.MultiWriter(conn, sha), rc, buf)
	s.totalBytes.Add(n)
	if err != nil {
		return // connection is unusable mid-payload
	}
	conn.Write(sha.Sum(nil))
}

// handleStat answers with a single header frame, no payload.
func (s *Server) handleStat(conn net.Conn, h *Header) {
	info, err := s.config.Files.Stat(h.Path)
	if errors.Is(err, os.ErrNotExist) {
		// A missing file is a normal stat answer, not a protocol error.
		writeFrame(conn, &Header{Status: "ok", Exists: false, Path: h.Path})
		return
	}
	if err != nil {
		writeFrame(conn, &Header{Status: "error", Error: err.Error()})
		return
	}
	writeFrame(conn, &Header{
		Status:   "ok",
		Path:     h.Path,
		Exists:   true,
		Size:     info.Size,
		IsDir:    info.IsDir,
		Modified: info.Modified,
	})
}

func hashEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// tuneConn applies the transfer tuning contract: no Nagle delay, socket
// buffers raised to the copy-loop chunk size.
func tuneConn(conn net.Conn) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	tcp.SetNoDelay(true)
	tcp.SetReadBuffer(BufferSize)
	tcp.SetWriteBuffer(BufferSize)
}
