package pairing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/adbtoolkit/agent/pkg/crypto"
	"github.com/google/uuid"
	"github.com/pion/logging"
)

// StateFileName is the file inside the data directory holding pairing state.
const StateFileName = "pairing_state"

// stateFileVersion tags the on-disk format.
const stateFileVersion = 1

// stateFile is the persisted representation of the store.
type stateFile struct {
	Version    int             `json:"version"`
	DeviceID   string          `json:"device_id"`
	PrivateKey []byte          `json:"private_key"`
	Devices    []*PairedDevice `json:"devices"`
}

// StoreConfig configures the pairing Store.
type StoreConfig struct {
	// DataDir is the directory holding the pairing state file. Required.
	DataDir string

	// LoggerFactory for creating loggers. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Store owns the device identity, the local key pair, the paired-device
// records and the pending-pairing table. It is the single writer for all of
// them; every mutation persists the state file atomically.
//
// All methods are safe for concurrent use.
type Store struct {
	path string
	log  logging.LeveledLogger

	mu       sync.RWMutex
	deviceID string
	keyPair  *crypto.KeyPair
	devices  map[string]*PairedDevice
	pending  map[string]*PendingPairing
}

// NewStore loads the pairing state from disk, generating a fresh device
// identity and key pair on first run.
func NewStore(config StoreConfig) (*Store, error) {
	if config.DataDir == "" {
		return nil, fmt.Errorf("pairing: DataDir is required")
	}
	if err := os.MkdirAll(config.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("pairing: failed to create data dir: %w", err)
	}

	s := &Store{
		path:    filepath.Join(config.DataDir, StateFileName),
		devices: make(map[string]*PairedDevice),
		pending: make(map[string]*PendingPairing),
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("pairing")
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load reads the state file, initializing fresh identity state when the file
// does not exist. Malformed device entries are skipped, not fatal.
func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s.initialize()
	}
	if err != nil {
		return fmt.Errorf("pairing: failed to read state file: %w", err)
	}

	var sf stateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("pairing: state file is corrupt: %w", err)
	}

	kp, err := crypto.KeyPairFromPrivateKey(sf.PrivateKey)
	if err != nil {
		return fmt.Errorf("pairing: state file holds an invalid private key: %w", err)
	}

	s.deviceID = sf.DeviceID
	s.keyPair = kp
	for _, d := range sf.Devices {
		if d.PeerID == "" || crypto.ValidatePublicKey(d.PublicKey) != nil ||
			len(d.SharedSecret) != crypto.SharedSecretSizeBytes {
			if s.log != nil {
				s.log.Warnf("skipping malformed paired-device record %q", d.PeerID)
			}
			continue
		}
		s.devices[d.PeerID] = d
	}
	return nil
}

// initialize creates a fresh identity on first run and persists it.
func (s *Store) initialize() error {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	s.deviceID = uuid.NewString()
	s.keyPair = kp
	if s.log != nil {
		s.log.Infof("initialized new device identity %s", s.deviceID)
	}
	return s.persistLocked()
}

// persistLocked writes the state file atomically (temp file then rename).
// Callers must hold at least a read lock; mutators hold the write lock.
func (s *Store) persistLocked() error {
	sf := stateFile{
		Version:    stateFileVersion,
		DeviceID:   s.deviceID,
		PrivateKey: s.keyPair.PrivateKeyBytes(),
	}
	for _, d := range s.devices {
		sf.Devices = append(sf.Devices, d)
	}

	data, err := json.MarshalIndent(&sf, "", "  ")
	if err != nil {
		return fmt.Errorf("pairing: failed to encode state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("pairing: failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("pairing: failed to replace state file: %w", err)
	}
	return nil
}

// DeviceID returns the stable local device identifier.
func (s *Store) DeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceID
}

// PublicKey returns the local uncompressed public key.
func (s *Store) PublicKey() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keyPair.PublicKeyBytes()
}

// KeyPair returns the local identity key pair.
func (s *Store) KeyPair() *crypto.KeyPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keyPair
}

// Get returns the paired record for peerID, or nil if absent.
func (s *Store) Get(peerID string) *PairedDevice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devices[peerID]
}

// List returns all paired records.
func (s *Store) List() []*PairedDevice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*PairedDevice, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	return out
}

// Count returns the number of paired devices.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}

// Revoke removes a paired record. Returns ErrPeerNotFound if absent.
func (s *Store) Revoke(peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[peerID]; !ok {
		return ErrPeerNotFound
	}
	delete(s.devices, peerID)
	return s.persistLocked()
}

// RevokeAll removes every paired record.
func (s *Store) RevokeAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = make(map[string]*PairedDevice)
	return s.persistLocked()
}

// UpdateAddress records a peer's last known host:port.
func (s *Store) UpdateAddress(peerID, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[peerID]
	if !ok {
		return ErrPeerNotFound
	}
	d.Address = addr
	return s.persistLocked()
}

// TouchSeen marks a peer as seen now. Missing peers are ignored.
// The timestamp is advisory and only hits disk with the next mutation,
// so per-request auth does not turn into per-request file writes.
func (s *Store) TouchSeen(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devices[peerID]; ok {
		d.LastSeen = nowMillis()
	}
}
