package api

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
)

// handleApps serves package-manager operations. The package name comes from
// the query parameter or the positional path parameter.
func (s *Server) handleApps(w http.ResponseWriter, r *http.Request, action, param string) {
	apps := s.config.Providers.Apps
	if apps == nil {
		writeError(w, http.StatusNotFound, "apps provider unavailable")
		return
	}

	pkg := r.URL.Query().Get("package")
	if pkg == "" {
		pkg = param
	}

	switch action {
	case "list":
		thirdParty := r.URL.Query().Get("third_party") != "false"
		list, err := apps.List(thirdParty)
		if err != nil {
			writeProviderError(w, err)
			return
		}
		writeOK(w, J{"count": len(list), "apps": list})

	case "info":
		if pkg == "" {
			writeError(w, http.StatusBadRequest, "missing package")
			return
		}
		info, err := apps.Info(pkg)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeOK(w, J{"app": info, "source_dir": info.SourceDir})

	case "apk":
		// Stream the APK through the files provider so the sandbox rules
		// still apply to the package's source path.
		if pkg == "" {
			writeError(w, http.StatusBadRequest, "missing package")
			return
		}
		info, err := apps.Info(pkg)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		files := s.config.Providers.Files
		if files == nil || info.SourceDir == "" {
			writeError(w, http.StatusNotFound, "apk not accessible")
			return
		}
		rc, fi, err := files.Open(info.SourceDir)
		if err != nil {
			writeProviderError(w, err)
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Type", "application/vnd.android.package-archive")
		w.Header().Set("Content-Length", strconv.FormatInt(fi.Size, 10))
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", filepath.Base(info.SourceDir)))
		io.Copy(w, rc)

	case "data-paths":
		if pkg == "" {
			writeError(w, http.StatusBadRequest, "missing package")
			return
		}
		paths, err := apps.DataPaths(pkg)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeOK(w, J{"package": pkg, "paths": paths})

	case "install":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusBadRequest, "install requires POST")
			return
		}
		defer r.Body.Close()
		if err := apps.Install(r.Body); err != nil {
			writeProviderError(w, err)
			return
		}
		writeOK(w, nil)

	case "uninstall":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusBadRequest, "uninstall requires POST")
			return
		}
		if pkg == "" {
			var body struct {
				Package string `json:"package"`
			}
			if err := decodeBody(r, &body); err == nil {
				pkg = body.Package
			}
		}
		if pkg == "" {
			writeError(w, http.StatusBadRequest, "missing package")
			return
		}
		if err := apps.Uninstall(pkg); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeOK(w, J{"package": pkg})

	default:
		writeError(w, http.StatusNotFound, "unknown action")
	}
}
