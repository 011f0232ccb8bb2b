package api

import (
	"net/http"
	"strconv"
)

// handleDevice serves read-only device introspection.
func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request, action string) {
	dev := s.config.Providers.Device
	if dev == nil {
		writeError(w, http.StatusNotFound, "device provider unavailable")
		return
	}

	switch action {
	case "info":
		info, err := dev.Info()
		if err != nil {
			writeProviderError(w, err)
			return
		}
		writeOK(w, J{"device": info, "device_id": s.config.Store.DeviceID(), "agent_version": s.config.Version})

	case "battery":
		b, err := dev.Battery()
		if err != nil {
			writeProviderError(w, err)
			return
		}
		writeOK(w, J{"level": b.Level, "charging": b.Charging})

	case "network":
		ifaces, err := dev.Network()
		if err != nil {
			writeProviderError(w, err)
			return
		}
		writeOK(w, J{"interfaces": ifaces})

	case "storage":
		volumes, err := dev.Storage()
		if err != nil {
			writeProviderError(w, err)
			return
		}
		writeOK(w, J{"volumes": volumes})

	case "props":
		props, err := dev.Props()
		if err != nil {
			writeProviderError(w, err)
			return
		}
		writeOK(w, J{"props": props})

	case "permissions":
		perms, err := dev.Permissions()
		if err != nil {
			writeProviderError(w, err)
			return
		}
		writeOK(w, J{"permissions": perms})

	case "screen":
		png, err := dev.Screenshot()
		if err != nil {
			writeProviderError(w, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(len(png)))
		w.Write(png)

	default:
		writeError(w, http.StatusNotFound, "unknown action")
	}
}
