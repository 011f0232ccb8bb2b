package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/adbtoolkit/agent/pkg/auth"
	"github.com/adbtoolkit/agent/pkg/orchestrator"
)

// handleOrchestrator serves the mesh domain. Requests reach here already
// authenticated; the verdict is logged so forwarded peer operations remain
// attributable.
func (s *Server) handleOrchestrator(w http.ResponseWriter, r *http.Request, action string, verdict auth.Verdict) {
	orch := s.config.Orchestrator
	if orch == nil {
		writeError(w, http.StatusNotFound, "orchestrator unavailable")
		return
	}

	switch action {
	case "topology":
		peers := orch.Topology(r.Context())
		writeOK(w, J{"count": len(peers), "peers": peers})

	case "dispatch":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusBadRequest, "dispatch requires POST")
			return
		}
		var body struct {
			PeerID   string          `json:"peer_id"`
			Method   string          `json:"method"`
			Endpoint string          `json:"endpoint"`
			Body     json.RawMessage `json:"body,omitempty"`
		}
		if err := decodeBody(r, &body); err != nil || body.PeerID == "" || body.Endpoint == "" {
			writeError(w, http.StatusBadRequest, "missing peer_id or endpoint")
			return
		}
		if body.Method == "" {
			body.Method = http.MethodGet
		}
		resp, err := orch.Dispatch(r.Context(), body.PeerID, body.Method, body.Endpoint, body.Body)
		if err != nil {
			writeOrchestratorError(w, err)
			return
		}
		// The peer's body is relayed verbatim with its status code.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		w.Write(resp.Body)

	case "broadcast":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusBadRequest, "broadcast requires POST")
			return
		}
		var body struct {
			Method   string          `json:"method"`
			Endpoint string          `json:"endpoint"`
			Body     json.RawMessage `json:"body,omitempty"`
		}
		if err := decodeBody(r, &body); err != nil || body.Endpoint == "" {
			writeError(w, http.StatusBadRequest, "missing endpoint")
			return
		}
		if body.Method == "" {
			body.Method = http.MethodGet
		}
		results := orch.Broadcast(r.Context(), body.Method, body.Endpoint, body.Body)
		writeOK(w, J{"count": len(results), "results": results})

	case "transfer":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusBadRequest, "transfer requires POST")
			return
		}
		var req orchestrator.TransferRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed body")
			return
		}
		result, err := orch.Transfer(r.Context(), req)
		if err != nil {
			writeOrchestratorError(w, err)
			return
		}
		if s.log != nil {
			s.log.Infof("transfer initiated by %s scheme", verdict.Scheme)
		}
		writeOK(w, J{"transfer": result})

	case "sync":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusBadRequest, "sync requires POST")
			return
		}
		var req orchestrator.SyncRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed body")
			return
		}
		results, err := orch.Sync(r.Context(), req)
		if err != nil {
			writeOrchestratorError(w, err)
			return
		}
		writeOK(w, J{"count": len(results), "results": results})

	case "deploy-toolkit":
		target := r.URL.Query().Get("target")
		if target == "" {
			var body struct {
				TargetDeviceID string `json:"target_device_id"`
			}
			if r.Method == http.MethodPost {
				if err := decodeBody(r, &body); err == nil {
					target = body.TargetDeviceID
				}
			}
		}
		if target == "" {
			writeError(w, http.StatusBadRequest, "missing target")
			return
		}
		steps := orch.DeployToolkit(target)
		writeOK(w, J{"target": target, "steps": steps})

	case "status":
		status := J{
			"device_id":      s.config.Store.DeviceID(),
			"paired_devices": s.config.Store.Count(),
		}
		if s.config.Status != nil {
			for k, v := range s.config.Status.Status() {
				status[k] = v
			}
		}
		writeOK(w, status)

	default:
		writeError(w, http.StatusNotFound, "unknown action")
	}
}

// writeOrchestratorError maps mesh failures: unknown peers and datasets are
// the caller's fault, unreachable peers are upstream failures.
func writeOrchestratorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrNotPaired),
		errors.Is(err, orchestrator.ErrUnknownDataType):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrNoAddress):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrNoProvider):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}
