package agent

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/adbtoolkit/agent/pkg/api"
	"github.com/adbtoolkit/agent/pkg/provider"
	"github.com/adbtoolkit/agent/pkg/transfer"
	"github.com/pion/logging"
	"gopkg.in/yaml.v3"
)

// Version is the agent release version, reported by ping and mDNS.
const Version = "1.0.0"

// Config holds all configuration for the Agent.
type Config struct {
	// HTTPPort and TransferPort are the two listening ports.
	HTTPPort     int `yaml:"http_port"`
	TransferPort int `yaml:"transfer_port"`

	// DataDir holds the pairing state and token files.
	DataDir string `yaml:"data_dir"`

	// FilesRoot is the filesystem sandbox served by the files domain and
	// the transfer channel.
	FilesRoot string `yaml:"files_root"`

	// Label is the human-readable device name shown to peers.
	Label string `yaml:"label"`

	// DisableDiscovery turns off mDNS advertising and browsing.
	DisableDiscovery bool `yaml:"disable_discovery"`

	// LogLevel is one of trace, debug, info, warn, error, disabled.
	LogLevel string `yaml:"log_level"`

	// HTTPListener and TransferListener inject pre-bound listeners,
	// used by tests. Not configurable from file.
	HTTPListener     net.Listener `yaml:"-"`
	TransferListener net.Listener `yaml:"-"`

	// Providers overrides the platform backends. Nil selects the local
	// desktop set rooted at FilesRoot.
	Providers *provider.Set `yaml:"-"`

	// LoggerFactory overrides the logger construction.
	LoggerFactory logging.LoggerFactory `yaml:"-"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	var c Config
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("agent: reading config failed: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("agent: parsing config failed: %w", err)
	}
	return c, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("agent: invalid http_port %d", c.HTTPPort)
	}
	if c.TransferPort < 0 || c.TransferPort > 65535 {
		return fmt.Errorf("agent: invalid transfer_port %d", c.TransferPort)
	}
	if c.HTTPPort != 0 && c.HTTPPort == c.TransferPort {
		return fmt.Errorf("agent: http_port and transfer_port collide on %d", c.HTTPPort)
	}
	return nil
}

// ApplyDefaults fills unset fields. New calls it; the CLI calls it to
// resolve the data directory for store-only commands.
func (c *Config) ApplyDefaults() {
	if c.HTTPPort == 0 {
		c.HTTPPort = api.DefaultPort
	}
	if c.TransferPort == 0 {
		c.TransferPort = transfer.DefaultPort
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir()
	}
	if c.FilesRoot == "" {
		c.FilesRoot = defaultFilesRoot()
	}
	if c.Label == "" {
		if host, err := os.Hostname(); err == nil {
			c.Label = host
		} else {
			c.Label = "agent"
		}
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = newLoggerFactory(c.LogLevel)
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "adbtoolkit-agent")
	}
	return ".adbtoolkit-agent"
}

func defaultFilesRoot() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}

// newLoggerFactory maps the configured level onto the default factory.
func newLoggerFactory(level string) logging.LoggerFactory {
	f := logging.NewDefaultLoggerFactory()
	switch level {
	case "trace":
		f.DefaultLogLevel = logging.LogLevelTrace
	case "debug":
		f.DefaultLogLevel = logging.LogLevelDebug
	case "", "info":
		f.DefaultLogLevel = logging.LogLevelInfo
	case "warn":
		f.DefaultLogLevel = logging.LogLevelWarn
	case "error":
		f.DefaultLogLevel = logging.LogLevelError
	case "disabled":
		f.DefaultLogLevel = logging.LogLevelDisabled
	}
	return f
}
