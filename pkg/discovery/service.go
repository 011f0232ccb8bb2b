// Package discovery advertises the agent over mDNS and maintains a live
// snapshot of other agents on the LAN. Discovery is purely advisory:
// knowing a peer's address does not grant it any access, pairing does.
package discovery

import (
	"strings"
	"time"
)

// Service is the DNS-SD service type agents register and browse.
const Service = "_adbtoolkit._tcp"

// DefaultDomain is the mDNS domain.
const DefaultDomain = "local."

// Peer is one discovered agent.
type Peer struct {
	// DeviceID is the instance name, which agents set to their stable
	// device identifier.
	DeviceID string `json:"device_id"`

	// Label is the peer's advertised human-readable name.
	Label string `json:"label"`

	// Version is the peer's advertised agent version.
	Version string `json:"version"`

	// Host is the mDNS host name; Addresses are the resolved IPs.
	Host      string   `json:"host"`
	Addresses []string `json:"addresses"`

	// Port is the peer's HTTP API port.
	Port int `json:"port"`

	// LastSeen is when the peer last appeared in a browse round,
	// epoch milliseconds.
	LastSeen int64 `json:"last_seen"`
}

// EventType classifies a browse event.
type EventType int

const (
	// PeerAdded fires when a peer first appears.
	PeerAdded EventType = iota

	// PeerUpdated fires when a known peer's address or TXT data changes.
	PeerUpdated

	// PeerRemoved fires when a peer stops answering browse rounds.
	PeerRemoved
)

func (e EventType) String() string {
	switch e {
	case PeerAdded:
		return "added"
	case PeerUpdated:
		return "updated"
	case PeerRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is one change in the peer snapshot.
type Event struct {
	Type EventType
	Peer Peer
}

// EncodeTXT renders the advertised TXT records.
func EncodeTXT(deviceID, label, version string) []string {
	return []string{
		"id=" + deviceID,
		"label=" + label,
		"version=" + version,
	}
}

// ParseTXT parses key=value TXT records. Records without '=' are kept with
// an empty value.
func ParseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, rec := range records {
		if rec == "" {
			continue
		}
		k, v, _ := strings.Cut(rec, "=")
		out[k] = v
	}
	return out
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
