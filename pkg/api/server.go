// Package api implements the agent's request/reply HTTP surface: every
// endpoint under /api/, the domain routing, and the auth enforcement rules.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adbtoolkit/agent/pkg/auth"
	"github.com/adbtoolkit/agent/pkg/discovery"
	"github.com/adbtoolkit/agent/pkg/orchestrator"
	"github.com/adbtoolkit/agent/pkg/pairing"
	"github.com/adbtoolkit/agent/pkg/provider"
	"github.com/gorilla/mux"
	"github.com/pion/logging"
)

// DefaultPort is the default HTTP API port.
const DefaultPort = 15555

// Default server timeouts. They guard against slow-client starvation and
// are configuration knobs, not protocol constants.
const (
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
)

// StatusSource supplies the process-wide counters reported by
// orchestrator/status. The lifecycle controller implements it.
type StatusSource interface {
	Status() map[string]interface{}
}

// PeerLister supplies the discovery browser's current peer snapshot.
type PeerLister interface {
	Peers() []discovery.Peer
}

// Config configures the HTTP Server.
type Config struct {
	// Listener is an optional pre-existing listener, used by tests.
	// If nil, a TCP listener is created on Port.
	Listener net.Listener

	// Port is the TCP port to listen on. Defaults to DefaultPort.
	Port int

	// Gate authenticates requests. Required.
	Gate *auth.Gate

	// Store is the pairing store. Required.
	Store *pairing.Store

	// Providers supplies the platform backends for the domain handlers.
	Providers provider.Set

	// Orchestrator performs the outbound mesh operations. Optional; nil
	// disables the orchestrator domain.
	Orchestrator *orchestrator.Orchestrator

	// Status supplies process counters for orchestrator/status. Optional.
	Status StatusSource

	// Discovery supplies the current mDNS browse snapshot for
	// peer/discover. Optional; nil reports an empty mesh.
	Discovery PeerLister

	// Version and Platform are reported by ping and the Server header.
	Version  string
	Platform string

	// OnPairingRequest is invoked when pair-init creates a pending record,
	// so the platform UI can show the confirmation dialog. Optional.
	OnPairingRequest func(p *pairing.PendingPairing)

	// ReadHeaderTimeout and IdleTimeout override the server defaults.
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration

	// ShellTimeout caps shell/exec when the request does not. Default 30s.
	ShellTimeout time.Duration

	// LoggerFactory for creating loggers. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Server is the agent's HTTP API service.
type Server struct {
	config   Config
	listener net.Listener
	httpSrv  *http.Server
	log      logging.LeveledLogger

	connected atomic.Int64

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewServer creates the API server. Call Start to begin serving.
func NewServer(config Config) (*Server, error) {
	if config.Gate == nil {
		return nil, ErrNoGate
	}
	if config.Store == nil {
		return nil, ErrNoStore
	}
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.ReadHeaderTimeout == 0 {
		config.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}
	if config.ShellTimeout == 0 {
		config.ShellTimeout = 30 * time.Second
	}

	s := &Server{
		config:   config,
		listener: config.Listener,
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("api")
	}

	if s.listener == nil {
		l, err := net.Listen("tcp", fmt.Sprintf(":%d", config.Port))
		if err != nil {
			return nil, fmt.Errorf("api: listen failed: %w", err)
		}
		s.listener = l
	}

	s.httpSrv = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		IdleTimeout:       config.IdleTimeout,
		ConnState:         s.trackConn,
	}
	return s, nil
}

// Start begins serving requests.
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
		s.log.Infof("serving HTTP API on %s", s.listener.Addr())
	}

	go func() {
		if err := s.httpSrv.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			if s.log != nil {
				s.log.Errorf("HTTP server stopped: %v", err)
			}
		}
	}()
	return nil
}

// Stop closes the listener and waits briefly for in-flight requests.
// Connections still open after the grace period are closed.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.mu.Unlock()

	if s.log != nil {
		s.log.Info("stopping HTTP API")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return s.httpSrv.Close()
	}
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// ConnectedClients returns the number of currently open client connections.
func (s *Server) ConnectedClients() int64 {
	return s.connected.Load()
}

func (s *Server) trackConn(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.connected.Add(1)
	case http.StateClosed, http.StateHijacked:
		s.connected.Add(-1)
	}
}

// routes builds the router: /api/ping, then /api/{domain}/{action} with an
// optional positional parameter.
func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/ping", s.handlePing)
	r.HandleFunc("/api/{domain}/{action}", s.dispatch)
	r.HandleFunc("/api/{domain}/{action}/{param}", s.dispatch)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "unknown endpoint")
	})
	return s.identify(r)
}

// identify stamps every response with the Server header and closes the
// connection after the response, matching the protocol contract.
func (s *Server) identify(next http.Handler) http.Handler {
	banner := "adbtoolkit-agent/" + s.config.Version
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", banner)
		w.Header().Set("Connection", "close")
		defer func() {
			if rec := recover(); rec != nil {
				if s.log != nil {
					s.log.Errorf("handler panic on %s %s: %v", r.Method, r.URL.Path, rec)
				}
				writeJSON(w, http.StatusInternalServerError,
					J{"error": "internal_error", "message": fmt.Sprint(rec)})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authRequest extracts the credential material the gate inspects.
func authRequest(r *http.Request) auth.Request {
	token := r.Header.Get("X-Agent-Token")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	return auth.Request{
		Method:     r.Method,
		URI:        r.URL.RequestURI(),
		Token:      token,
		PeerID:     r.Header.Get("X-Peer-Id"),
		Signature:  r.Header.Get("X-Peer-Signature"),
		Timestamp:  r.Header.Get("X-Peer-Timestamp"),
		RemoteAddr: r.RemoteAddr,
	}
}

// dispatch routes an authenticated request to its domain handler. The peer
// domain performs its own per-action auth: pairing endpoints are the
// authentication step and must be reachable without credentials.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	domain, action, param := vars["domain"], vars["action"], vars["param"]

	if domain == "peer" {
		s.handlePeer(w, r, action, param)
		return
	}

	verdict, err := s.config.Gate.Authenticate(authRequest(r))
	if err != nil {
		writeAuthError(w, err)
		return
	}

	switch domain {
	case "files":
		s.handleFiles(w, r, action, param)
	case "apps":
		s.handleApps(w, r, action, param)
	case "contacts":
		s.handleContacts(w, r, action)
	case "sms":
		s.handleSMS(w, r, action)
	case "device":
		s.handleDevice(w, r, action)
	case "shell":
		s.handleShell(w, r, action)
	case "orchestrator":
		s.handleOrchestrator(w, r, action, verdict)
	default:
		writeError(w, http.StatusNotFound, "unknown domain")
	}
}

// handlePing is the liveness probe. Never authenticated.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeOK(w, J{
		"service":        "adbtoolkit-agent",
		"version":        s.config.Version,
		"platform":       s.config.Platform,
		"device_id":      s.config.Store.DeviceID(),
		"paired_devices": s.config.Store.Count(),
	})
}
