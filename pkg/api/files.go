package api

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
)

// handleFiles serves the files domain. The path comes from the query
// parameter; files/write also accepts a JSON body {"path": ..., "data": ...}
// for small payloads, matching the desktop client.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request, action, param string) {
	files := s.config.Providers.Files
	if files == nil {
		writeError(w, http.StatusNotFound, "files provider unavailable")
		return
	}

	path := r.URL.Query().Get("path")
	if path == "" {
		path = param
	}

	switch action {
	case "list":
		if path == "" {
			writeError(w, http.StatusBadRequest, "missing path")
			return
		}
		entries, err := files.List(path)
		if err != nil {
			writeProviderError(w, err)
			return
		}
		writeOK(w, J{"path": path, "count": len(entries), "files": entries})

	case "stat":
		if path == "" {
			writeError(w, http.StatusBadRequest, "missing path")
			return
		}
		fi, err := files.Stat(path)
		if err != nil {
			writeProviderError(w, err)
			return
		}
		writeOK(w, J{"file": fi})

	case "exists":
		if path == "" {
			writeError(w, http.StatusBadRequest, "missing path")
			return
		}
		ok, err := files.Exists(path)
		if err != nil {
			writeProviderError(w, err)
			return
		}
		writeOK(w, J{"path": path, "exists": ok})

	case "read":
		if path == "" {
			writeError(w, http.StatusBadRequest, "missing path")
			return
		}
		rc, fi, err := files.Open(path)
		if err != nil {
			writeProviderError(w, err)
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.FormatInt(fi.Size, 10))
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", filepath.Base(fi.Path)))
		io.Copy(w, rc)

	case "write":
		s.handleFilesWrite(w, r, files, path)

	case "hash":
		if path == "" {
			writeError(w, http.StatusBadRequest, "missing path")
			return
		}
		sum, err := files.Hash(path)
		if err != nil {
			writeProviderError(w, err)
			return
		}
		writeOK(w, J{"path": path, "algo": "sha256", "hash": sum})

	case "mkdir":
		if path == "" {
			writeError(w, http.StatusBadRequest, "missing path")
			return
		}
		if err := files.Mkdir(path); err != nil {
			writeProviderError(w, err)
			return
		}
		writeOK(w, J{"path": path})

	case "delete":
		if path == "" {
			writeError(w, http.StatusBadRequest, "missing path")
			return
		}
		if err := files.Delete(path); err != nil {
			writeProviderError(w, err)
			return
		}
		writeOK(w, J{"path": path})

	case "search":
		q := r.URL.Query()
		if path == "" {
			writeError(w, http.StatusBadRequest, "missing path")
			return
		}
		pattern := q.Get("pattern")
		regex := false
		if rx := q.Get("regex"); rx != "" {
			pattern = rx
			regex = true
		}
		if pattern == "" {
			writeError(w, http.StatusBadRequest, "missing pattern")
			return
		}
		limit, _ := strconv.Atoi(q.Get("limit"))
		hits, err := files.Search(path, pattern, regex, limit)
		if err != nil {
			writeProviderError(w, err)
			return
		}
		writeOK(w, J{"count": len(hits), "files": hits})

	case "storage":
		volumes, err := files.Storage()
		if err != nil {
			writeProviderError(w, err)
			return
		}
		writeOK(w, J{"volumes": volumes})

	default:
		writeError(w, http.StatusNotFound, "unknown action")
	}
}

type filesWriteBody struct {
	Path string `json:"path"`
	Data string `json:"data"`
}

func (s *Server) handleFilesWrite(w http.ResponseWriter, r *http.Request, files fileWriter, path string) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		writeError(w, http.StatusBadRequest, "write requires POST")
		return
	}

	var src io.Reader = r.Body
	if path == "" {
		// Desktop-client compatibility: JSON body carrying path and data.
		var body filesWriteBody
		if err := decodeBody(r, &body); err != nil || body.Path == "" {
			writeError(w, http.StatusBadRequest, "missing path")
			return
		}
		path = body.Path
		src = strings.NewReader(body.Data)
	}

	n, err := files.Write(path, src)
	if err != nil {
		writeProviderError(w, err)
		return
	}
	writeOK(w, J{"path": path, "written": n})
}

// fileWriter is the slice of the files provider that write needs.
type fileWriter interface {
	Write(path string, r io.Reader) (int64, error)
}
