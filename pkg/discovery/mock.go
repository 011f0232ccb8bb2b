package discovery

import (
	"context"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
)

// MockMDNSResolver provides a mock mDNS resolver for testing without real
// network I/O. It allows registering services and simulating browse rounds.
type MockMDNSResolver struct {
	mu       sync.RWMutex
	services map[string][]*zeroconf.ServiceEntry
}

// NewMockMDNSResolver creates a new mock resolver.
func NewMockMDNSResolver() *MockMDNSResolver {
	return &MockMDNSResolver{
		services: make(map[string][]*zeroconf.ServiceEntry),
	}
}

// RegisterService registers a service that will be returned by Browse.
func (m *MockMDNSResolver) RegisterService(service string, entry *zeroconf.ServiceEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[service] = append(m.services[service], entry)
}

// ClearServices removes all registered services.
func (m *MockMDNSResolver) ClearServices() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = make(map[string][]*zeroconf.ServiceEntry)
}

// Browse implements MDNSResolver with the same channel-ownership contract
// as the zeroconf resolver: it returns promptly, delivers entries in the
// background, and closes the channel itself once ctx expires.
func (m *MockMDNSResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	m.mu.RLock()
	svcEntries := make([]*zeroconf.ServiceEntry, len(m.services[service]))
	copy(svcEntries, m.services[service])
	m.mu.RUnlock()

	go func() {
		defer close(entries)
		for _, entry := range svcEntries {
			select {
			case entries <- entry:
			case <-ctx.Done():
				return
			}
		}
		<-ctx.Done()
	}()
	return nil
}

// MockAgentEntry creates a mock agent service entry for testing.
func MockAgentEntry(deviceID, label string, port int, ip net.IP) *zeroconf.ServiceEntry {
	return &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: deviceID,
			Service:  Service,
			Domain:   DefaultDomain,
		},
		HostName: deviceID + ".local.",
		Port:     port,
		AddrIPv4: []net.IP{ip},
		Text:     EncodeTXT(deviceID, label, "test"),
	}
}
