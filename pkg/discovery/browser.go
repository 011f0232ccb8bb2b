package discovery

import (
	"context"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// Default browse cadence. A round queries the network for RoundTimeout;
// rounds repeat every Interval.
const (
	DefaultBrowseInterval = 15 * time.Second
	DefaultRoundTimeout   = 5 * time.Second

	// DefaultMissThreshold is how many consecutive rounds a peer may be
	// absent before it is considered gone. mDNS answers are lossy, so a
	// single silent round does not evict.
	DefaultMissThreshold = 2
)

// MDNSResolver is the interface for mDNS browsing.
// This allows for dependency injection in tests.
type MDNSResolver interface {
	// Browse returns promptly and delivers results on entries in the
	// background until ctx expires. The resolver owns the channel and
	// closes it when the browse ends; callers must never close it.
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// zeroconfResolver is the production implementation using grandcat/zeroconf.
type zeroconfResolver struct {
	resolver *zeroconf.Resolver
}

func newZeroconfResolver() (*zeroconfResolver, error) {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}
	return &zeroconfResolver{resolver: r}, nil
}

func (z *zeroconfResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	return z.resolver.Browse(ctx, service, domain, entries)
}

// BrowserConfig holds configuration for the Browser.
type BrowserConfig struct {
	// SelfID is the local device identifier. The browser filters out the
	// agent's own advertisement.
	SelfID string

	// Interval is the time between browse rounds.
	Interval time.Duration

	// RoundTimeout bounds a single browse round.
	RoundTimeout time.Duration

	// MissThreshold is the number of consecutive silent rounds before a
	// peer is evicted.
	MissThreshold int

	// Resolver is the underlying mDNS resolver implementation.
	// If nil, the default zeroconf resolver is used.
	Resolver MDNSResolver

	// LoggerFactory for creating loggers. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Browser maintains the peer snapshot by periodically browsing the LAN.
// Changes are published on the Events channel for the orchestrator.
type Browser struct {
	config   BrowserConfig
	resolver MDNSResolver
	log      logging.LeveledLogger
	events   chan Event

	mu    sync.RWMutex
	peers map[string]*trackedPeer

	runMu   sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

type trackedPeer struct {
	peer   Peer
	misses int
}

// NewBrowser creates a Browser. Call Start to begin browsing.
func NewBrowser(config BrowserConfig) (*Browser, error) {
	resolver := config.Resolver
	if resolver == nil {
		zr, err := newZeroconfResolver()
		if err != nil {
			return nil, err
		}
		resolver = zr
	}
	if config.Interval == 0 {
		config.Interval = DefaultBrowseInterval
	}
	if config.RoundTimeout == 0 {
		config.RoundTimeout = DefaultRoundTimeout
	}
	if config.MissThreshold == 0 {
		config.MissThreshold = DefaultMissThreshold
	}

	b := &Browser{
		config:   config,
		resolver: resolver,
		events:   make(chan Event, 16),
		peers:    make(map[string]*trackedPeer),
	}
	if config.LoggerFactory != nil {
		b.log = config.LoggerFactory.NewLogger("discovery")
	}
	return b, nil
}

// Start begins the browse loop.
func (b *Browser) Start() error {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.started {
		return ErrAlreadyStarted
	}
	b.started = true

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.loop(ctx)
	return nil
}

// Stop ends the browse loop and closes the event channel.
func (b *Browser) Stop() error {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	if b.closed {
		return ErrClosed
	}
	b.closed = true
	if b.started {
		b.cancel()
		<-b.done
	}
	close(b.events)
	return nil
}

// Peers returns the current snapshot, sorted by device id.
func (b *Browser) Peers() []Peer {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Peer, 0, len(b.peers))
	for _, tp := range b.peers {
		out = append(out, tp.peer)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Lookup returns the snapshot entry for deviceID.
func (b *Browser) Lookup(deviceID string) (Peer, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tp, ok := b.peers[deviceID]
	if !ok {
		return Peer{}, false
	}
	return tp.peer, true
}

// Events returns the change feed. The channel is buffered; events are
// dropped rather than blocking the browse loop when no one is listening.
func (b *Browser) Events() <-chan Event {
	return b.events
}

func (b *Browser) loop(ctx context.Context) {
	defer close(b.done)

	b.round(ctx)
	ticker := time.NewTicker(b.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.round(ctx)
		}
	}
}

// round performs one browse pass and reconciles the snapshot against it.
func (b *Browser) round(ctx context.Context) {
	roundCtx, cancel := context.WithTimeout(ctx, b.config.RoundTimeout)
	defer cancel()

	// The resolver owns the entries channel: zeroconf delivers results in
	// the background and closes the channel itself once the round context
	// expires. Closing it here as well would panic.
	entries := make(chan *zeroconf.ServiceEntry)
	if err := b.resolver.Browse(roundCtx, Service, DefaultDomain, entries); err != nil {
		if b.log != nil {
			b.log.Warnf("browse round failed: %v", err)
		}
		return
	}

	seen := make(map[string]Peer)
	for entry := range entries {
		p := entryToPeer(entry)
		if p.DeviceID == "" || p.DeviceID == b.config.SelfID {
			continue
		}
		seen[p.DeviceID] = p
	}
	if ctx.Err() != nil {
		return
	}
	b.reconcile(seen)
}

func (b *Browser) reconcile(seen map[string]Peer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, p := range seen {
		tp, ok := b.peers[id]
		if !ok {
			b.peers[id] = &trackedPeer{peer: p}
			b.emit(Event{Type: PeerAdded, Peer: p})
			if b.log != nil {
				b.log.Infof("peer %s appeared at %v:%d", id, p.Addresses, p.Port)
			}
			continue
		}
		changed := tp.peer.Port != p.Port || tp.peer.Label != p.Label ||
			!sameAddresses(tp.peer.Addresses, p.Addresses)
		tp.peer = p
		tp.misses = 0
		if changed {
			b.emit(Event{Type: PeerUpdated, Peer: p})
		}
	}

	for id, tp := range b.peers {
		if _, ok := seen[id]; ok {
			continue
		}
		tp.misses++
		if tp.misses >= b.config.MissThreshold {
			delete(b.peers, id)
			b.emit(Event{Type: PeerRemoved, Peer: tp.peer})
			if b.log != nil {
				b.log.Infof("peer %s disappeared", id)
			}
		}
	}
}

func (b *Browser) emit(e Event) {
	select {
	case b.events <- e:
	default:
	}
}

// entryToPeer converts a zeroconf entry to the snapshot representation.
func entryToPeer(entry *zeroconf.ServiceEntry) Peer {
	txt := ParseTXT(entry.Text)

	var addrs []string
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}

	deviceID := txt["id"]
	if deviceID == "" {
		deviceID = entry.Instance
	}

	return Peer{
		DeviceID:  deviceID,
		Label:     txt["label"],
		Version:   txt["version"],
		Host:      entry.HostName,
		Addresses: addrs,
		Port:      entry.Port,
		LastSeen:  nowMillis(),
	}
}

func sameAddresses(a, b []string) bool {
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

// Addr returns host:port for dialing a peer, preferring the first
// resolved address.
func (p Peer) Addr() string {
	if len(p.Addresses) == 0 {
		return ""
	}
	return net.JoinHostPort(p.Addresses[0], strconv.Itoa(p.Port))
}
