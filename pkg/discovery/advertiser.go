package discovery

import (
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// MDNSServer is the interface for an active mDNS service registration.
// This allows for dependency injection in tests.
type MDNSServer interface {
	// Shutdown stops the server.
	Shutdown()
}

// MDNSServerFactory creates MDNSServer instances.
type MDNSServerFactory interface {
	// Register creates a new mDNS server for the given service.
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)
}

// zeroconfServerFactory is the production implementation using grandcat/zeroconf.
type zeroconfServerFactory struct{}

func (z *zeroconfServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// AdvertiserConfig holds configuration for the Advertiser.
type AdvertiserConfig struct {
	// DeviceID becomes the DNS-SD instance name. Required.
	DeviceID string

	// Label and Version are published in the TXT record.
	Label   string
	Version string

	// Port is the HTTP API port to advertise. Required.
	Port int

	// Interfaces specifies which network interfaces to advertise on.
	// If nil, all interfaces are used.
	Interfaces []net.Interface

	// ServerFactory is the factory for creating mDNS servers.
	// If nil, the default zeroconf factory is used.
	ServerFactory MDNSServerFactory

	// LoggerFactory for creating loggers. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Advertiser publishes the agent's DNS-SD service record.
type Advertiser struct {
	config  AdvertiserConfig
	factory MDNSServerFactory
	log     logging.LeveledLogger

	mu     sync.Mutex
	server MDNSServer
	closed bool
}

// NewAdvertiser creates an Advertiser. Call Start to begin advertising.
func NewAdvertiser(config AdvertiserConfig) (*Advertiser, error) {
	if config.DeviceID == "" {
		return nil, fmt.Errorf("discovery: DeviceID is required")
	}
	if config.Port <= 0 || config.Port > 65535 {
		return nil, ErrInvalidPort
	}

	factory := config.ServerFactory
	if factory == nil {
		factory = &zeroconfServerFactory{}
	}

	a := &Advertiser{
		config:  config,
		factory: factory,
	}
	if config.LoggerFactory != nil {
		a.log = config.LoggerFactory.NewLogger("discovery")
	}
	return a, nil
}

// Start registers the service record.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.server != nil {
		return ErrAlreadyStarted
	}

	txt := EncodeTXT(a.config.DeviceID, a.config.Label, a.config.Version)
	server, err := a.factory.Register(
		a.config.DeviceID,
		Service,
		DefaultDomain,
		a.config.Port,
		txt,
		a.config.Interfaces,
	)
	if err != nil {
		return fmt.Errorf("discovery: mDNS registration failed: %w", err)
	}
	a.server = server

	if a.log != nil {
		a.log.Infof("advertising %s as %q on port %d", Service, a.config.DeviceID, a.config.Port)
	}
	return nil
}

// Stop withdraws the service record. The advertiser can be restarted.
func (a *Advertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.server == nil {
		return ErrNotStarted
	}
	a.server.Shutdown()
	a.server = nil
	return nil
}

// Close stops advertising permanently.
func (a *Advertiser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	a.closed = true
	return nil
}

// IsAdvertising reports whether the service record is currently registered.
func (a *Advertiser) IsAdvertising() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}
