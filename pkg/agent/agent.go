// Package agent wires the subsystems into one lifecycle: pairing store,
// auth gate, HTTP API, transfer channel, mDNS discovery and the mesh
// orchestrator start and stop together.
package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/adbtoolkit/agent/pkg/api"
	"github.com/adbtoolkit/agent/pkg/auth"
	"github.com/adbtoolkit/agent/pkg/discovery"
	"github.com/adbtoolkit/agent/pkg/orchestrator"
	"github.com/adbtoolkit/agent/pkg/pairing"
	"github.com/adbtoolkit/agent/pkg/provider"
	"github.com/adbtoolkit/agent/pkg/transfer"
	"github.com/google/uuid"
	"github.com/pion/logging"
)

// TokenFileName is the file inside the data directory holding the
// controller token.
const TokenFileName = "auth_token"

// Agent owns every subsystem and runs them as one unit.
type Agent struct {
	config    Config
	log       logging.LeveledLogger
	store     *pairing.Store
	gate      *auth.Gate
	providers provider.Set
	orch      *orchestrator.Orchestrator

	httpSrv     *api.Server
	transferSrv *transfer.Server
	advertiser  *discovery.Advertiser
	browser     *discovery.Browser

	mu        sync.Mutex
	started   bool
	closed    bool
	startedAt time.Time
}

// New creates an Agent from the configuration. Nothing listens until Start.
func New(config Config) (*Agent, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.ApplyDefaults()

	a := &Agent{config: config}
	if config.LoggerFactory != nil {
		a.log = config.LoggerFactory.NewLogger("agent")
	}

	store, err := pairing.NewStore(pairing.StoreConfig{
		DataDir:       config.DataDir,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	a.store = store

	token, err := a.loadOrCreateToken()
	if err != nil {
		return nil, err
	}
	a.gate = auth.NewGate(auth.GateConfig{
		Token:         token,
		Peers:         store,
		LoggerFactory: config.LoggerFactory,
	})

	if config.Providers != nil {
		a.providers = *config.Providers
	} else {
		a.providers = localProviders(config.FilesRoot)
	}

	if !config.DisableDiscovery {
		a.advertiser, err = discovery.NewAdvertiser(discovery.AdvertiserConfig{
			DeviceID:      store.DeviceID(),
			Label:         config.Label,
			Version:       Version,
			Port:          config.HTTPPort,
			LoggerFactory: config.LoggerFactory,
		})
		if err != nil {
			return nil, err
		}
		a.browser, err = discovery.NewBrowser(discovery.BrowserConfig{
			SelfID:        store.DeviceID(),
			LoggerFactory: config.LoggerFactory,
		})
		if err != nil {
			return nil, err
		}
	}

	orchConfig := orchestrator.Config{
		Store:         store,
		Providers:     a.providers,
		LoggerFactory: config.LoggerFactory,
	}
	if a.browser != nil {
		orchConfig.Discovery = a.browser
	}
	a.orch, err = orchestrator.New(orchConfig)
	if err != nil {
		return nil, err
	}

	apiConfig := api.Config{
		Listener:      config.HTTPListener,
		Port:          config.HTTPPort,
		Gate:          a.gate,
		Store:         store,
		Providers:     a.providers,
		Orchestrator:  a.orch,
		Status:        a,
		Version:       Version,
		Platform:      runtime.GOOS,
		LoggerFactory: config.LoggerFactory,
	}
	if a.browser != nil {
		apiConfig.Discovery = a.browser
	}
	a.httpSrv, err = api.NewServer(apiConfig)
	if err != nil {
		return nil, err
	}

	a.transferSrv, err = transfer.NewServer(transfer.Config{
		Listener:      config.TransferListener,
		Port:          config.TransferPort,
		Gate:          a.gate,
		Files:         a.providers.Files,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		a.httpSrv.Stop()
		return nil, err
	}
	return a, nil
}

// localProviders is the desktop provider set: real filesystem and shell,
// in-memory PIM stores, no biometric hardware so the screen lock check
// passes by static assertion.
func localProviders(filesRoot string) provider.Set {
	return provider.Set{
		Files:    &provider.LocalFiles{Root: filesRoot},
		Shell:    &provider.LocalShell{},
		Device:   &provider.LocalDevice{StorageRoots: []string{filesRoot}},
		Contacts: provider.NewMemoryContacts(),
		SMS:      provider.NewMemorySMS(),
		Security: &provider.StaticSecurity{ScreenLock: true},
	}
}

// Start brings up both listeners and discovery.
func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	if a.started {
		return ErrAlreadyStarted
	}

	if err := a.httpSrv.Start(); err != nil {
		return err
	}
	if err := a.transferSrv.Start(); err != nil {
		a.httpSrv.Stop()
		return err
	}
	if a.advertiser != nil {
		if err := a.advertiser.Start(); err != nil {
			// Discovery failures are not fatal: the agent still works
			// for controllers that know the address.
			if a.log != nil {
				a.log.Warnf("mDNS advertising unavailable: %v", err)
			}
		}
	}
	if a.browser != nil {
		if err := a.browser.Start(); err != nil {
			if a.log != nil {
				a.log.Warnf("mDNS browsing unavailable: %v", err)
			}
		}
	}

	a.started = true
	a.startedAt = time.Now()
	if a.log != nil {
		a.log.Infof("agent %s up: http %s, transfer %s",
			a.store.DeviceID(), a.httpSrv.Addr(), a.transferSrv.Addr())
	}
	return nil
}

// Stop shuts everything down in reverse order.
func (a *Agent) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	a.closed = true

	var firstErr error
	if a.browser != nil {
		if err := a.browser.Stop(); err != nil && err != discovery.ErrClosed && firstErr == nil {
			firstErr = err
		}
	}
	if a.advertiser != nil {
		if err := a.advertiser.Close(); err != nil && err != discovery.ErrClosed && firstErr == nil {
			firstErr = err
		}
	}
	if a.started {
		if err := a.transferSrv.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := a.httpSrv.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeviceID returns the stable local device identifier.
func (a *Agent) DeviceID() string {
	return a.store.DeviceID()
}

// Token returns the current controller token.
func (a *Agent) Token() string {
	return a.gate.Token()
}

// SetToken rotates the controller token: the gate sees it immediately and
// the token file is rewritten.
func (a *Agent) SetToken(token string) error {
	if err := a.persistToken(token); err != nil {
		return err
	}
	a.gate.SetToken(token)
	if a.log != nil {
		a.log.Info("controller token rotated")
	}
	return nil
}

// HTTPAddr and TransferAddr return the bound addresses, for tests and CLI
// output.
func (a *Agent) HTTPAddr() string     { return a.httpSrv.Addr().String() }
func (a *Agent) TransferAddr() string { return a.transferSrv.Addr().String() }

// Store exposes the pairing store for CLI inspection.
func (a *Agent) Store() *pairing.Store { return a.store }

// Status implements api.StatusSource with the process-wide counters.
func (a *Agent) Status() map[string]interface{} {
	stats := a.transferSrv.Stats()

	a.mu.Lock()
	var uptime float64
	if a.started {
		uptime = time.Since(a.startedAt).Seconds()
	}
	a.mu.Unlock()

	return map[string]interface{}{
		"version":                 Version,
		"platform":                runtime.GOOS,
		"uptime_seconds":          int64(uptime),
		"connected_clients":       a.httpSrv.ConnectedClients(),
		"total_bytes_transferred": stats.TotalBytes,
		"active_transfers":        stats.ActiveTransfers,
	}
}

// loadOrCreateToken reads the token file, generating a fresh token on
// first run. An existing empty file is honored: it means "no token,
// loopback only".
func (a *Agent) loadOrCreateToken() (string, error) {
	path := filepath.Join(a.config.DataDir, TokenFileName)
	data, err := os.ReadFile(path)
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("agent: reading token file failed: %w", err)
	}

	token := uuid.NewString()
	if err := a.persistToken(token); err != nil {
		return "", err
	}
	if a.log != nil {
		a.log.Info("generated new controller token")
	}
	return token, nil
}

func (a *Agent) persistToken(token string) error {
	path := filepath.Join(a.config.DataDir, TokenFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("agent: writing token file failed: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("agent: replacing token file failed: %w", err)
	}
	return nil
}
