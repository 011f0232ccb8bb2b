package pairing

import "time"

// PendingTTL is how long a pending pairing request stays approvable.
const PendingTTL = 5 * time.Minute

// PairedDevice is a persisted record of a cryptographically paired peer.
type PairedDevice struct {
	// PeerID is the peer's stable opaque device identifier.
	PeerID string `json:"peer_id"`

	// Label is the peer's human-readable name.
	Label string `json:"label"`

	// PublicKey is the peer's uncompressed P-256 public key (65 bytes).
	PublicKey []byte `json:"public_key"`

	// SharedSecret is the 32-byte secret derived at approval time.
	// It never leaves the device and is never returned by any endpoint.
	SharedSecret []byte `json:"shared_secret"`

	// Address is the peer's last known host:port. May be empty.
	Address string `json:"address,omitempty"`

	// PairedAt and LastSeen are epoch milliseconds.
	PairedAt int64 `json:"paired_at"`
	LastSeen int64 `json:"last_seen"`

	// Trusted is true for every record currently in the store;
	// revocation removes the record outright.
	Trusted bool `json:"trusted"`
}

// Sanitized returns a copy of the record safe to hand to API clients:
// the shared secret is stripped, the public key kept.
func (d *PairedDevice) Sanitized() *PairedDevice {
	out := *d
	out.SharedSecret = nil
	return &out
}

// PendingPairing is an in-memory pairing request awaiting user approval.
type PendingPairing struct {
	// ChallengeID uniquely identifies this request.
	ChallengeID string `json:"challenge_id"`

	// PeerID, Label, PublicKey and Address describe the initiator.
	PeerID    string `json:"peer_id"`
	Label     string `json:"label"`
	PublicKey []byte `json:"public_key"`
	Address   string `json:"address,omitempty"`

	// ConfirmCode is the 6-digit code both devices display.
	ConfirmCode string `json:"confirm_code"`

	// CreatedAt is when the request arrived.
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the request is past its approval window.
func (p *PendingPairing) Expired(now time.Time) bool {
	return now.Sub(p.CreatedAt) > PendingTTL
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
