package api

import (
	"net/http"
	"strconv"

	"github.com/adbtoolkit/agent/pkg/provider"
)

// handleSMS serves the message-store domain.
func (s *Server) handleSMS(w http.ResponseWriter, r *http.Request, action string) {
	sms := s.config.Providers.SMS
	if sms == nil {
		writeError(w, http.StatusNotFound, "sms provider unavailable")
		return
	}

	switch action {
	case "list":
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))
		if limit <= 0 {
			limit = 100
		}
		msgs, err := sms.List(limit, offset)
		if err != nil {
			writeProviderError(w, err)
			return
		}
		writeOK(w, J{"count": len(msgs), "limit": limit, "offset": offset, "messages": msgs})

	case "export":
		// Full export, unpaginated.
		msgs, err := sms.List(0, 0)
		if err != nil {
			writeProviderError(w, err)
			return
		}
		writeOK(w, J{"count": len(msgs), "messages": msgs})

	case "count":
		n, err := sms.Count()
		if err != nil {
			writeProviderError(w, err)
			return
		}
		writeOK(w, J{"count": n})

	case "conversations":
		convs, err := sms.Conversations()
		if err != nil {
			writeProviderError(w, err)
			return
		}
		writeOK(w, J{"count": len(convs), "conversations": convs})

	case "import":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusBadRequest, "import requires POST")
			return
		}
		var body struct {
			Messages []provider.Message `json:"messages"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "malformed body")
			return
		}
		if len(body.Messages) == 0 {
			writeError(w, http.StatusBadRequest, "no messages in body")
			return
		}

		imported := 0
		failed := []importFailure{}
		for i, m := range body.Messages {
			if err := sms.Insert(m); err != nil {
				failed = append(failed, importFailure{Index: i, Error: err.Error()})
				continue
			}
			imported++
		}
		writeOK(w, J{"imported": imported, "failed": failed})

	default:
		writeError(w, http.StatusNotFound, "unknown action")
	}
}
