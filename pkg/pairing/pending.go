package pairing

import (
	"time"

	"github.com/adbtoolkit/agent/pkg/crypto"
	"github.com/google/uuid"
)

// CreatePending registers an inbound pair-init request and returns the
// pending record, including the confirmation code both devices display.
// Returns ErrAlreadyPaired if the peer already has a trusted record.
func (s *Store) CreatePending(peerID, label string, peerPublicKey []byte, peerAddr string) (*PendingPairing, error) {
	if err := crypto.ValidatePublicKey(peerPublicKey); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	if _, ok := s.devices[peerID]; ok {
		return nil, ErrAlreadyPaired
	}

	p := &PendingPairing{
		ChallengeID: uuid.NewString(),
		PeerID:      peerID,
		Label:       label,
		PublicKey:   append([]byte(nil), peerPublicKey...),
		Address:     peerAddr,
		ConfirmCode: crypto.ConfirmCode(peerPublicKey, s.keyPair.PublicKeyBytes()),
		CreatedAt:   time.Now(),
	}
	s.pending[p.ChallengeID] = p

	if s.log != nil {
		s.log.Infof("pending pairing %s from %s (%s)", p.ChallengeID, peerID, label)
	}
	return p, nil
}

// Approve consumes a pending record, derives the shared secret and stores
// the paired device. Expired or unknown challenges return
// ErrChallengeNotFound; a consumed challenge cannot be approved again.
func (s *Store) Approve(challengeID string) (*PairedDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	p, ok := s.pending[challengeID]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	delete(s.pending, challengeID)

	secret, err := s.keyPair.SharedSecret(p.PublicKey)
	if err != nil {
		return nil, err
	}

	now := nowMillis()
	d := &PairedDevice{
		PeerID:       p.PeerID,
		Label:        p.Label,
		PublicKey:    p.PublicKey,
		SharedSecret: secret,
		Address:      p.Address,
		PairedAt:     now,
		LastSeen:     now,
		Trusted:      true,
	}
	s.devices[d.PeerID] = d

	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	if s.log != nil {
		s.log.Infof("paired with %s (%s)", d.PeerID, d.Label)
	}
	return d, nil
}

// Adopt records a pairing completed as the initiator: the local agent sent
// pair-init, the remote user approved, and the responder's public key came
// back in the reply. Both sides end up holding the same shared secret.
func (s *Store) Adopt(peerID, label string, peerPublicKey []byte, addr string) (*PairedDevice, error) {
	if err := crypto.ValidatePublicKey(peerPublicKey); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[peerID]; ok {
		return nil, ErrAlreadyPaired
	}

	secret, err := s.keyPair.SharedSecret(peerPublicKey)
	if err != nil {
		return nil, err
	}

	now := nowMillis()
	d := &PairedDevice{
		PeerID:       peerID,
		Label:        label,
		PublicKey:    append([]byte(nil), peerPublicKey...),
		SharedSecret: secret,
		Address:      addr,
		PairedAt:     now,
		LastSeen:     now,
		Trusted:      true,
	}
	s.devices[d.PeerID] = d

	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	if s.log != nil {
		s.log.Infof("adopted pairing with %s (%s)", d.PeerID, d.Label)
	}
	return d, nil
}

// Reject drops a pending record. Rejecting an unknown or already consumed
// challenge is a no-op.
func (s *Store) Reject(challengeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	delete(s.pending, challengeID)
}

// Pending lists the currently pending, unexpired requests.
func (s *Store) Pending() []*PendingPairing {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	out := make([]*PendingPairing, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p)
	}
	return out
}

// sweepLocked drops expired pending records. Called on every pending-table
// access; callers hold the write lock.
func (s *Store) sweepLocked() {
	now := time.Now()
	for id, p := range s.pending {
		if p.Expired(now) {
			delete(s.pending, id)
			if s.log != nil {
				s.log.Debugf("expired pending pairing %s", id)
			}
		}
	}
}
