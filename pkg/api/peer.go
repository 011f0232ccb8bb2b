package api

import (
	"encoding/hex"
	"net/http"

	"github.com/adbtoolkit/agent/pkg/pairing"
)

// handlePeer serves the peer domain. Auth is per-action: the pairing
// handshake endpoints are open (they ARE the authentication bootstrap),
// paired/revoke require normal auth, and the data-plane endpoints accept
// only peer HMAC signatures.
func (s *Server) handlePeer(w http.ResponseWriter, r *http.Request, action, param string) {
	switch action {
	case "identity":
		s.handlePeerIdentity(w)
	case "discover":
		s.handlePeerDiscover(w)
	case "pair-init":
		s.handlePairInit(w, r)
	case "pair-pending":
		s.handlePairPending(w)
	case "pair-approve":
		s.handlePairApprove(w, r)
	case "pair-reject":
		s.handlePairReject(w, r)
	case "paired":
		s.handlePaired(w, r)
	case "revoke", "revoke-all":
		s.handleRevoke(w, r, action, param)
	case "send":
		s.handlePeerSend(w, r, param)
	case "request":
		s.handlePeerRequest(w, r)
	case "relay":
		writeError(w, http.StatusNotImplemented, "not_implemented")
	default:
		writeError(w, http.StatusNotFound, "unknown action")
	}
}

// handlePeerIdentity returns the local identity card. Open: peers need it
// before any pairing exists.
func (s *Server) handlePeerIdentity(w http.ResponseWriter) {
	writeOK(w, J{
		"device_id":  s.config.Store.DeviceID(),
		"public_key": hex.EncodeToString(s.config.Store.PublicKey()),
		"version":    s.config.Version,
		"platform":   s.config.Platform,
	})
}

// handlePeerDiscover returns the current mDNS browse snapshot.
func (s *Server) handlePeerDiscover(w http.ResponseWriter) {
	if s.config.Discovery == nil {
		writeOK(w, J{"count": 0, "peers": []interface{}{}})
		return
	}
	peers := s.config.Discovery.Peers()
	writeOK(w, J{"count": len(peers), "peers": peers})
}

func (s *Server) handlePairInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusBadRequest, "pair-init requires POST")
		return
	}
	var body struct {
		DeviceID  string `json:"device_id"`
		Label     string `json:"label"`
		PublicKey string `json:"public_key"` // hex, 65-byte uncompressed point
	}
	if err := decodeBody(r, &body); err != nil || body.DeviceID == "" || body.PublicKey == "" {
		writeError(w, http.StatusBadRequest, "missing device_id or public_key")
		return
	}
	peerKey, err := hex.DecodeString(body.PublicKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, "public_key is not valid hex")
		return
	}

	ownKey := hex.EncodeToString(s.config.Store.PublicKey())

	p, err := s.config.Store.CreatePending(body.DeviceID, body.Label, peerKey, r.RemoteAddr)
	if err == pairing.ErrAlreadyPaired {
		writeJSON(w, http.StatusOK, J{"status": "already_paired", "public_key": ownKey})
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.config.OnPairingRequest != nil {
		s.config.OnPairingRequest(p)
	}

	writeJSON(w, http.StatusOK, J{
		"status":       "pending_approval",
		"challenge_id": p.ChallengeID,
		"public_key":   ownKey,
		"confirm_code": p.ConfirmCode,
	})
}

// handlePairPending lists pending requests for the approval UI. The confirm
// code is deliberately absent: it is shown only in the pair-init exchange
// and the platform dialog, never retrievable afterwards.
func (s *Server) handlePairPending(w http.ResponseWriter) {
	pending := s.config.Store.Pending()
	out := make([]J, 0, len(pending))
	for _, p := range pending {
		out = append(out, J{
			"challenge_id": p.ChallengeID,
			"peer_id":      p.PeerID,
			"label":        p.Label,
			"address":      p.Address,
			"created_at":   p.CreatedAt.UnixMilli(),
		})
	}
	writeOK(w, J{"count": len(out), "pending": out})
}

func (s *Server) handlePairApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusBadRequest, "pair-approve requires POST")
		return
	}
	var body struct {
		ChallengeID       string `json:"challenge_id"`
		BiometricVerified bool   `json:"biometric_verified"`
	}
	if err := decodeBody(r, &body); err != nil || body.ChallengeID == "" {
		writeError(w, http.StatusBadRequest, "missing challenge_id")
		return
	}
	if !body.BiometricVerified {
		writeError(w, http.StatusForbidden, "biometric verification required")
		return
	}
	if s.config.Providers.Security == nil || !s.config.Providers.Security.ScreenLockEnabled() {
		writeError(w, http.StatusForbidden, "device has no screen lock")
		return
	}

	d, err := s.config.Store.Approve(body.ChallengeID)
	if err != nil {
		writePairingError(w, err)
		return
	}
	writeOK(w, J{
		"public_key": hex.EncodeToString(s.config.Store.PublicKey()),
		"device":     sanitizedJSON(d),
	})
}

func (s *Server) handlePairReject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusBadRequest, "pair-reject requires POST")
		return
	}
	var body struct {
		ChallengeID string `json:"challenge_id"`
	}
	if err := decodeBody(r, &body); err != nil || body.ChallengeID == "" {
		writeError(w, http.StatusBadRequest, "missing challenge_id")
		return
	}
	s.config.Store.Reject(body.ChallengeID)
	writeOK(w, nil)
}

func (s *Server) handlePaired(w http.ResponseWriter, r *http.Request) {
	if _, err := s.config.Gate.Authenticate(authRequest(r)); err != nil {
		writeAuthError(w, err)
		return
	}
	devices := s.config.Store.List()
	out := make([]J, 0, len(devices))
	for _, d := range devices {
		out = append(out, sanitizedJSON(d))
	}
	writeOK(w, J{"count": len(out), "devices": out})
}

// handleRevoke removes one or all pairings. Requires normal auth plus the
// caller's biometric assertion, same bar as approving a pairing.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request, action, param string) {
	if _, err := s.config.Gate.Authenticate(authRequest(r)); err != nil {
		writeAuthError(w, err)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusBadRequest, action+" requires POST")
		return
	}
	var body struct {
		PeerID            string `json:"peer_id"`
		BiometricVerified bool   `json:"biometric_verified"`
	}
	if err := decodeBody(r, &body); err != nil && action == "revoke" && param == "" {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if !body.BiometricVerified {
		writeError(w, http.StatusForbidden, "biometric verification required")
		return
	}

	if action == "revoke-all" {
		if err := s.config.Store.RevokeAll(); err != nil {
			writePairingError(w, err)
			return
		}
		writeOK(w, nil)
		return
	}

	peerID := body.PeerID
	if peerID == "" {
		peerID = param
	}
	if peerID == "" {
		writeError(w, http.StatusBadRequest, "missing peer_id")
		return
	}
	if err := s.config.Store.Revoke(peerID); err != nil {
		writePairingError(w, err)
		return
	}
	writeOK(w, nil)
}

// handlePeerSend receives a streamed body from a paired peer and writes it
// under the files sandbox. HMAC-only: the token scheme is not accepted here.
func (s *Server) handlePeerSend(w http.ResponseWriter, r *http.Request, param string) {
	verdict, err := s.config.Gate.AuthenticatePeer(authRequest(r))
	if err != nil {
		writeAuthError(w, err)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusBadRequest, "send requires POST")
		return
	}
	files := s.config.Providers.Files
	if files == nil {
		writeError(w, http.StatusNotFound, "files provider unavailable")
		return
	}

	path := r.URL.Query().Get("path")
	if path == "" {
		path = param
	}
	if path == "" {
		writeError(w, http.StatusBadRequest, "missing path")
		return
	}

	defer r.Body.Close()
	n, err := files.Write(path, r.Body)
	if err != nil {
		writeProviderError(w, err)
		return
	}
	if s.log != nil {
		s.log.Infof("peer %s sent %d bytes to %s", verdict.PeerID, n, path)
	}
	writeOK(w, J{"path": path, "bytes_written": n})
}

// handlePeerRequest answers a structured resource query from a paired peer.
func (s *Server) handlePeerRequest(w http.ResponseWriter, r *http.Request) {
	if _, err := s.config.Gate.AuthenticatePeer(authRequest(r)); err != nil {
		writeAuthError(w, err)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusBadRequest, "request requires POST")
		return
	}
	var body struct {
		Resource string `json:"resource"`
		Limit    int    `json:"limit"`
		Offset   int    `json:"offset"`
	}
	if err := decodeBody(r, &body); err != nil || body.Resource == "" {
		writeError(w, http.StatusBadRequest, "missing resource")
		return
	}

	switch body.Resource {
	case "contacts":
		if s.config.Providers.Contacts == nil {
			writeError(w, http.StatusNotFound, "contacts provider unavailable")
			return
		}
		list, err := s.config.Providers.Contacts.List()
		if err != nil {
			writeProviderError(w, err)
			return
		}
		writeOK(w, J{"resource": "contacts", "count": len(list), "contacts": list})

	case "sms":
		if s.config.Providers.SMS == nil {
			writeError(w, http.StatusNotFound, "sms provider unavailable")
			return
		}
		msgs, err := s.config.Providers.SMS.List(body.Limit, body.Offset)
		if err != nil {
			writeProviderError(w, err)
			return
		}
		writeOK(w, J{"resource": "sms", "count": len(msgs), "messages": msgs})

	case "device":
		if s.config.Providers.Device == nil {
			writeError(w, http.StatusNotFound, "device provider unavailable")
			return
		}
		info, err := s.config.Providers.Device.Info()
		if err != nil {
			writeProviderError(w, err)
			return
		}
		writeOK(w, J{"resource": "device", "info": info})

	case "apps":
		if s.config.Providers.Apps == nil {
			writeError(w, http.StatusNotFound, "apps provider unavailable")
			return
		}
		apps, err := s.config.Providers.Apps.List(true)
		if err != nil {
			writeProviderError(w, err)
			return
		}
		writeOK(w, J{"resource": "apps", "count": len(apps), "apps": apps})

	default:
		writeError(w, http.StatusBadRequest, "unknown resource")
	}
}

// sanitizedJSON renders a paired record for API responses: public key in
// hex, shared secret never included.
func sanitizedJSON(d *pairing.PairedDevice) J {
	c := d.Sanitized()
	return J{
		"peer_id":    c.PeerID,
		"label":      c.Label,
		"public_key": hex.EncodeToString(c.PublicKey),
		"address":    c.Address,
		"paired_at":  c.PairedAt,
		"last_seen":  c.LastSeen,
		"trusted":    c.Trusted,
	}
}
