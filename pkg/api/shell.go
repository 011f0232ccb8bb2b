package api

import (
	"context"
	"net/http"
	"time"
)

// handleShell serves command execution. The exec deadline defaults to the
// configured shell timeout; the caller may shorten or extend it per request.
func (s *Server) handleShell(w http.ResponseWriter, r *http.Request, action string) {
	shell := s.config.Providers.Shell
	if shell == nil {
		writeError(w, http.StatusNotFound, "shell provider unavailable")
		return
	}

	switch action {
	case "exec":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusBadRequest, "exec requires POST")
			return
		}
		var body struct {
			Command string `json:"command"`
			Timeout int    `json:"timeout"` // seconds
		}
		if err := decodeBody(r, &body); err != nil || body.Command == "" {
			writeError(w, http.StatusBadRequest, "missing command")
			return
		}
		timeout := s.config.ShellTimeout
		if body.Timeout > 0 {
			timeout = time.Duration(body.Timeout) * time.Second
		}

		// r.Context() is cancelled when the client disconnects, killing
		// the subprocess rather than leaving it to run unobserved.
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		res, err := shell.Exec(ctx, body.Command)
		if ctx.Err() == context.DeadlineExceeded {
			writeError(w, http.StatusInternalServerError, "command timed out")
			return
		}
		if err != nil {
			writeProviderError(w, err)
			return
		}
		writeOK(w, J{"stdout": res.Stdout, "stderr": res.Stderr, "exit_code": res.ExitCode})

	case "exec-stream":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusBadRequest, "exec-stream requires POST")
			return
		}
		var body struct {
			Command string `json:"command"`
		}
		if err := decodeBody(r, &body); err != nil || body.Command == "" {
			writeError(w, http.StatusBadRequest, "missing command")
			return
		}

		stream, err := shell.ExecStream(r.Context(), body.Command)
		if err != nil {
			writeProviderError(w, err)
			return
		}
		defer stream.Close()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		buf := make([]byte, 4096)
		for {
			n, rerr := stream.Read(buf)
			if n > 0 {
				if _, werr := w.Write(buf[:n]); werr != nil {
					return // client went away
				}
				if flusher != nil {
					flusher.Flush()
				}
			}
			if rerr != nil {
				return
			}
		}

	case "getprop":
		value, err := shell.Getprop(r.URL.Query().Get("prop"))
		if err != nil {
			writeProviderError(w, err)
			return
		}
		writeOK(w, J{"value": value})

	case "settings":
		q := r.URL.Query()
		namespace, key := q.Get("namespace"), q.Get("key")
		if r.Method == http.MethodPost {
			var body struct {
				Namespace string `json:"namespace"`
				Key       string `json:"key"`
				Value     string `json:"value"`
			}
			if err := decodeBody(r, &body); err == nil && body.Namespace != "" {
				namespace, key = body.Namespace, body.Key
			}
			if namespace == "" || key == "" {
				writeError(w, http.StatusBadRequest, "missing namespace or key")
				return
			}
			if err := shell.SettingsPut(namespace, key, body.Value); err != nil {
				writeProviderError(w, err)
				return
			}
			writeOK(w, nil)
			return
		}
		if namespace == "" || key == "" {
			writeError(w, http.StatusBadRequest, "missing namespace or key")
			return
		}
		value, err := shell.SettingsGet(namespace, key)
		if err != nil {
			writeProviderError(w, err)
			return
		}
		writeOK(w, J{"namespace": namespace, "key": key, "value": value})

	default:
		writeError(w, http.StatusNotFound, "unknown action")
	}
}
