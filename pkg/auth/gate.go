// Package auth decides whether a request may proceed. Two schemes exist:
// a static controller token (X-Agent-Token header or token query parameter)
// and per-request peer HMAC signatures derived from a pairing's shared
// secret. Peer HMAC takes precedence when a request presents both.
package auth

import (
	"crypto/subtle"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adbtoolkit/agent/pkg/crypto"
	"github.com/adbtoolkit/agent/pkg/pairing"
	"github.com/pion/logging"
)

// ReplayWindow is the maximum clock skew accepted on peer timestamps.
const ReplayWindow = 5 * time.Minute

// Scheme identifies how a request was authenticated.
type Scheme int

const (
	// SchemeNone means the request carried no credentials but was allowed
	// (loopback caller on a fresh install with no token configured).
	SchemeNone Scheme = iota

	// SchemeController means the static token matched.
	SchemeController

	// SchemePeer means a paired peer's HMAC signature verified.
	SchemePeer
)

func (s Scheme) String() string {
	switch s {
	case SchemeController:
		return "controller"
	case SchemePeer:
		return "peer"
	default:
		return "none"
	}
}

// Verdict is the outcome of a successful authentication.
type Verdict struct {
	Scheme Scheme

	// PeerID is set when Scheme is SchemePeer.
	PeerID string
}

// PeerStore is the read view of the pairing store the gate needs.
type PeerStore interface {
	Get(peerID string) *pairing.PairedDevice
	TouchSeen(peerID string)
}

// Request carries the parts of an inbound request the gate inspects.
type Request struct {
	// Method and URI form the signed canonical message. URI is the exact
	// path-and-query as received.
	Method string
	URI    string

	// Token is the controller token, from header or query.
	Token string

	// PeerID, Signature and Timestamp are the raw peer header values.
	PeerID    string
	Signature string
	Timestamp string

	// RemoteAddr is the caller's host:port.
	RemoteAddr string
}

// GateConfig configures the Gate.
type GateConfig struct {
	// Token is the controller token. Empty means fresh install: loopback
	// callers are allowed without credentials.
	Token string

	// Peers is the pairing store view used for HMAC lookups. Required
	// for the peer scheme; a nil store rejects all peer requests.
	Peers PeerStore

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time

	// LoggerFactory for creating loggers. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Gate evaluates authentication for HTTP requests and transfer frames.
type Gate struct {
	peers PeerStore
	now   func() time.Time
	log   logging.LeveledLogger

	mu    sync.RWMutex
	token string
}

// NewGate creates a Gate.
func NewGate(config GateConfig) *Gate {
	g := &Gate{
		peers: config.Peers,
		now:   config.Now,
		token: config.Token,
	}
	if g.now == nil {
		g.now = time.Now
	}
	if config.LoggerFactory != nil {
		g.log = config.LoggerFactory.NewLogger("auth")
	}
	return g
}

// SetToken replaces the controller token. The lifecycle controller calls
// this when the token is rotated.
func (g *Gate) SetToken(token string) {
	g.mu.Lock()
	g.token = token
	g.mu.Unlock()
}

// Token returns the current controller token.
func (g *Gate) Token() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.token
}

// Authenticate evaluates a request against both schemes. Peer headers, when
// present, are checked first and must fully verify.
func (g *Gate) Authenticate(req Request) (Verdict, error) {
	if req.PeerID != "" || req.Signature != "" || req.Timestamp != "" {
		return g.authenticatePeer(req)
	}
	return g.authenticateController(req.Token, req.RemoteAddr)
}

// AuthenticatePeer evaluates only the peer HMAC scheme, rejecting requests
// without peer headers. Peer data-plane endpoints use this mode.
func (g *Gate) AuthenticatePeer(req Request) (Verdict, error) {
	if req.PeerID == "" && req.Signature == "" && req.Timestamp == "" {
		return Verdict{}, ErrMalformedHeaders
	}
	return g.authenticatePeer(req)
}

func (g *Gate) authenticatePeer(req Request) (Verdict, error) {
	if req.PeerID == "" || req.Signature == "" || req.Timestamp == "" {
		return Verdict{}, ErrMalformedHeaders
	}

	ts, err := strconv.ParseInt(req.Timestamp, 10, 64)
	if err != nil {
		return Verdict{}, ErrMalformedHeaders
	}

	skew := g.now().UnixMilli() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > ReplayWindow.Milliseconds() {
		return Verdict{}, ErrStaleTimestamp
	}

	if g.peers == nil {
		return Verdict{}, ErrUnknownPeer
	}
	peer := g.peers.Get(req.PeerID)
	if peer == nil {
		return Verdict{}, ErrUnknownPeer
	}
	if !peer.Trusted {
		return Verdict{}, ErrUntrustedPeer
	}

	message := crypto.CanonicalRequest(req.Method, req.URI, ts)
	if !crypto.VerifyHMAC(peer.SharedSecret, message, req.Signature) {
		if g.log != nil {
			g.log.Warnf("HMAC verification failed for peer %s on %s %s", req.PeerID, req.Method, req.URI)
		}
		return Verdict{}, ErrBadSignature
	}

	g.peers.TouchSeen(req.PeerID)
	return Verdict{Scheme: SchemePeer, PeerID: req.PeerID}, nil
}

func (g *Gate) authenticateController(token, remoteAddr string) (Verdict, error) {
	configured := g.Token()

	if configured == "" {
		if isLoopback(remoteAddr) {
			return Verdict{Scheme: SchemeNone}, nil
		}
		return Verdict{}, ErrNotLoopback
	}

	if token == "" {
		return Verdict{}, ErrMissingToken
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(configured)) != 1 {
		return Verdict{}, ErrInvalidToken
	}
	return Verdict{Scheme: SchemeController}, nil
}

// AuthenticateTransfer evaluates a transfer frame's auth fields. The signed
// message is op|path|timestamp; the token field satisfies controller auth.
func (g *Gate) AuthenticateTransfer(op, path, token, peerID, signature, timestamp, remoteAddr string) (Verdict, error) {
	if peerID != "" || signature != "" || timestamp != "" {
		if peerID == "" || signature == "" || timestamp == "" {
			return Verdict{}, ErrMalformedHeaders
		}
		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return Verdict{}, ErrMalformedHeaders
		}
		skew := g.now().UnixMilli() - ts
		if skew < 0 {
			skew = -skew
		}
		if skew > ReplayWindow.Milliseconds() {
			return Verdict{}, ErrStaleTimestamp
		}
		if g.peers == nil {
			return Verdict{}, ErrUnknownPeer
		}
		peer := g.peers.Get(peerID)
		if peer == nil {
			return Verdict{}, ErrUnknownPeer
		}
		if !peer.Trusted {
			return Verdict{}, ErrUntrustedPeer
		}
		if !crypto.VerifyHMAC(peer.SharedSecret, crypto.CanonicalTransfer(op, path, ts), signature) {
			return Verdict{}, ErrBadSignature
		}
		g.peers.TouchSeen(peerID)
		return Verdict{Scheme: SchemePeer, PeerID: peerID}, nil
	}
	return g.authenticateController(token, remoteAddr)
}

// isLoopback reports whether remoteAddr is a loopback host:port.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	host = strings.Trim(host, "[]")
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
