package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/adbtoolkit/agent/pkg/auth"
	"github.com/adbtoolkit/agent/pkg/pairing"
	"github.com/adbtoolkit/agent/pkg/provider"
)

// J is shorthand for a JSON object body.
type J map[string]interface{}

// writeJSON writes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		data = []byte(`{"error":"internal_error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// writeOK writes a success envelope, merging extra into {"status":"ok"}.
func writeOK(w http.ResponseWriter, extra J) {
	body := J{"status": "ok"}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

// writeError writes the uniform error envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, J{"error": message})
}

// writeProviderError translates provider and filesystem errors onto the
// error-kind mapping: unsafe paths 403, missing files 404, unsupported
// operations 404, the rest 500.
func writeProviderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, provider.ErrUnsafePath):
		writeError(w, http.StatusForbidden, "path escapes sandbox")
	case errors.Is(err, provider.ErrUnsupported):
		writeError(w, http.StatusNotFound, "not supported on this platform")
	case errors.Is(err, os.ErrNotExist):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, os.ErrPermission):
		writeError(w, http.StatusForbidden, "permission denied")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeAuthError maps auth gate failures onto status codes: token problems
// 401, malformed headers 400, everything else 403.
func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrNotLoopback):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrMalformedHeaders):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusForbidden, err.Error())
	}
}

// writePairingError maps pairing store failures.
func writePairingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pairing.ErrChallengeNotFound),
		errors.Is(err, pairing.ErrPeerNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pairing.ErrAlreadyPaired):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeBody decodes a JSON request body into v.
func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// jsonUnmarshal is json.Unmarshal, aliased so handler files avoid importing
// encoding/json just for one call.
func jsonUnmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
