package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/adbtoolkit/agent/pkg/provider"
)

// importFailure reports one rejected entry of a bulk import.
type importFailure struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// handleContacts serves the address-book domain. Export and import speak
// vCard 3.0; list returns structured JSON.
func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request, action string) {
	contacts := s.config.Providers.Contacts
	if contacts == nil {
		writeError(w, http.StatusNotFound, "contacts provider unavailable")
		return
	}

	switch action {
	case "list":
		list, err := contacts.List()
		if err != nil {
			writeProviderError(w, err)
			return
		}
		writeOK(w, J{"count": len(list), "contacts": list})

	case "count":
		list, err := contacts.List()
		if err != nil {
			writeProviderError(w, err)
			return
		}
		writeOK(w, J{"count": len(list)})

	case "export", "export-vcf":
		list, err := contacts.List()
		if err != nil {
			writeProviderError(w, err)
			return
		}
		vcf := provider.EncodeVCF(list)
		w.Header().Set("Content-Type", "text/vcard")
		w.Header().Set("Content-Length", strconv.Itoa(len(vcf)))
		w.Header().Set("Content-Disposition", `attachment; filename="contacts.vcf"`)
		io.WriteString(w, vcf)

	case "import", "import-vcf":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusBadRequest, "import requires POST")
			return
		}
		vcf, err := readImportBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}
		parsed := provider.ParseVCF(vcf)
		if len(parsed) == 0 {
			writeError(w, http.StatusBadRequest, "no vCard blocks in body")
			return
		}

		imported := 0
		failed := []importFailure{}
		for i, c := range parsed {
			if err := contacts.Insert(c); err != nil {
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

// readImportBody accepts either a raw vCard body or the desktop client's
// JSON wrapper {"vcf": "..."}.
func readImportBody(r *http.Request) (string, error) {
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, 32<<20))
	if err != nil {
		return "", err
	}
	if r.Header.Get("Content-Type") == "application/json" {
		var body struct {
			VCF string `json:"vcf"`
		}
		if err := jsonUnmarshal(data, &body); err == nil && body.VCF != "" {
			return body.VCF, nil
		}
	}
	return string(data), nil
}
