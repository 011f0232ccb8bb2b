package provider

import (
	"net"
	"os"
	"runtime"
)

// LocalDevice implements Device with portable introspection. Platform
// builds wrap it and override the fields the OS exposes natively (battery,
// screenshots, permission states).
type LocalDevice struct {
	// Model and Firmware override the reported identifiers.
	Model    string
	Firmware string

	// StorageRoots are the paths reported by Storage. Defaults to "/".
	StorageRoots []string
}

// Info reports static device identifiers.
func (d *LocalDevice) Info() (map[string]string, error) {
	hostname, _ := os.Hostname()
	model := d.Model
	if model == "" {
		model = hostname
	}
	return map[string]string{
		"model":    model,
		"os":       runtime.GOOS,
		"arch":     runtime.GOARCH,
		"hostname": hostname,
		"firmware": d.Firmware,
	}, nil
}

// Battery is unavailable without a platform battery service.
func (d *LocalDevice) Battery() (BatteryInfo, error) {
	return BatteryInfo{}, ErrUnsupported
}

// Network lists interfaces with their addresses.
func (d *LocalDevice) Network() ([]InterfaceInfo, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]InterfaceInfo, 0, len(ifaces))
	for _, iface := range ifaces {
		info := InterfaceInfo{
			Name: iface.Name,
			Up:   iface.Flags&net.FlagUp != 0,
		}
		addrs, err := iface.Addrs()
		if err == nil {
			for _, a := range addrs {
				if ipNet, ok := a.(*net.IPNet); ok && ipNet.IP.To4() != nil {
					info.Addrs = append(info.Addrs, ipNet.IP.String())
				}
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// Storage reports totals for each configured root.
func (d *LocalDevice) Storage() ([]StorageInfo, error) {
	roots := d.StorageRoots
	if len(roots) == 0 {
		roots = []string{"/"}
	}
	out := make([]StorageInfo, 0, len(roots))
	for _, root := range roots {
		info, err := statfs(root)
		if err != nil {
			continue
		}
		info.Label = root
		out = append(out, info)
	}
	return out, nil
}

// Props reports the runtime property map.
func (d *LocalDevice) Props() (map[string]string, error) {
	return map[string]string{
		"go.version": runtime.Version(),
		"go.os":      runtime.GOOS,
		"go.arch":    runtime.GOARCH,
	}, nil
}

// Permissions reports granted platform permissions; none apply here.
func (d *LocalDevice) Permissions() (map[string]bool, error) {
	return map[string]bool{}, nil
}

// Screenshot is unavailable without a platform display service.
func (d *LocalDevice) Screenshot() ([]byte, error) {
	return nil, ErrUnsupported
}

// StaticSecurity is a fixed security posture, used on desktop builds and in
// tests. The platform UI layer supplies the real check on device.
type StaticSecurity struct {
	ScreenLock bool
}

func (s StaticSecurity) ScreenLockEnabled() bool {
	return s.ScreenLock
}
