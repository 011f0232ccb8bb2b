package orchestrator

import "github.com/adbtoolkit/agent/pkg/pairing"

// TestConfig exposes the orchestrator's config to external tests.
func (o *Orchestrator) TestConfig() *Config { return &o.config }

// TestResolveAddr exposes resolveAddr to external tests.
func (o *Orchestrator) TestResolveAddr(peer *pairing.PairedDevice) (string, error) {
	return o.resolveAddr(peer)
}
