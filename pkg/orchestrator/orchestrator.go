// Package orchestrator is the outbound half of the peer mesh: it turns the
// local pairing records into signed HTTP requests against other agents,
// probes the mesh topology, fans out broadcasts, and coordinates
// device-to-device data movement.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/adbtoolkit/agent/pkg/discovery"
	"github.com/adbtoolkit/agent/pkg/pairing"
	"github.com/adbtoolkit/agent/pkg/provider"
	"github.com/pion/logging"
)

// DefaultProbeTimeout bounds one topology ping.
const DefaultProbeTimeout = 3 * time.Second

// PeerView is the read view of the discovery browser the orchestrator uses
// for address resolution.
type PeerView interface {
	Lookup(deviceID string) (discovery.Peer, bool)
	Peers() []discovery.Peer
}

// Config configures the Orchestrator.
type Config struct {
	// Store supplies the pairing records and the local identity. Required.
	Store *pairing.Store

	// Discovery resolves current peer addresses. Optional; without it,
	// only addresses remembered in pairing records are used.
	Discovery PeerView

	// Providers back local-source transfer and sync operations. Optional.
	Providers provider.Set

	// Client overrides the signed peer client, for tests.
	Client *Client

	// ProbeTimeout bounds topology pings. Defaults to DefaultProbeTimeout.
	ProbeTimeout time.Duration

	// LoggerFactory for creating loggers. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Orchestrator drives outbound mesh operations.
type Orchestrator struct {
	config Config
	client *Client
	log    logging.LeveledLogger
}

// New creates an Orchestrator.
func New(config Config) (*Orchestrator, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("orchestrator: Store is required")
	}
	if config.ProbeTimeout == 0 {
		config.ProbeTimeout = DefaultProbeTimeout
	}

	o := &Orchestrator{
		config: config,
		client: config.Client,
	}
	if o.client == nil {
		o.client = NewClient(ClientConfig{
			DeviceID:      config.Store.DeviceID(),
			LoggerFactory: config.LoggerFactory,
		})
	}
	if config.LoggerFactory != nil {
		o.log = config.LoggerFactory.NewLogger("orchestrator")
	}
	return o, nil
}

// PeerStatus is one row of the topology report.
type PeerStatus struct {
	PeerID  string                 `json:"peer_id"`
	Label   string                 `json:"label"`
	Address string                 `json:"address,omitempty"`
	Online  bool                   `json:"online"`
	Info    map[string]interface{} `json:"info,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Topology probes every paired peer in parallel and reports reachability.
func (o *Orchestrator) Topology(ctx context.Context) []PeerStatus {
	peers := o.config.Store.List()
	out := make([]PeerStatus, len(peers))

	var wg sync.WaitGroup
	for i, peer := range peers {
		wg.Add(1)
		go func(i int, peer *pairing.PairedDevice) {
			defer wg.Done()
			st := PeerStatus{PeerID: peer.PeerID, Label: peer.Label}

			addr, err := o.resolveAddr(peer)
			if err != nil {
				st.Error = err.Error()
				out[i] = st
				return
			}
			st.Address = addr

			info, err := o.client.Ping(ctx, addr, o.config.ProbeTimeout)
			if err != nil {
				st.Error = err.Error()
				out[i] = st
				return
			}
			st.Online = true
			st.Info = info
			out[i] = st
		}(i, peer)
	}
	wg.Wait()
	return out
}

// Dispatch sends a single signed request to a named peer and returns the
// peer's response verbatim.
func (o *Orchestrator) Dispatch(ctx context.Context, peerID, method, endpoint string, body []byte) (*PeerResponse, error) {
	peer := o.config.Store.Get(peerID)
	if peer == nil {
		return nil, ErrNotPaired
	}
	addr, err := o.resolveAddr(peer)
	if err != nil {
		return nil, err
	}
	return o.client.Do(ctx, peer, addr, method, endpoint, body)
}

// BroadcastResult is one peer's outcome of a broadcast.
type BroadcastResult struct {
	PeerID     string                 `json:"peer_id"`
	StatusCode int                    `json:"status_code,omitempty"`
	Response   map[string]interface{} `json:"response,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// Broadcast sends the same request to every paired peer in parallel. Every
// peer yields exactly one result; failures become error entries and never
// abort the batch.
func (o *Orchestrator) Broadcast(ctx context.Context, method, endpoint string, body []byte) []BroadcastResult {
	peers := o.config.Store.List()
	out := make([]BroadcastResult, len(peers))

	var wg sync.WaitGroup
	for i, peer := range peers {
		wg.Add(1)
		go func(i int, peer *pairing.PairedDevice) {
			defer wg.Done()
			res := BroadcastResult{PeerID: peer.PeerID}

			addr, err := o.resolveAddr(peer)
			if err != nil {
				res.Error = err.Error()
				out[i] = res
				return
			}
			resp, err := o.client.Do(ctx, peer, addr, method, endpoint, body)
			if err != nil {
				res.Error = err.Error()
				out[i] = res
				return
			}
			res.StatusCode = resp.StatusCode
			res.Response = resp.JSON
			out[i] = res
		}(i, peer)
	}
	wg.Wait()
	return out
}

// TransferRequest names a device-to-device file movement.
type TransferRequest struct {
	// SourceDeviceID is the device holding the file. Empty or equal to
	// the local device id means the local agent is the source.
	SourceDeviceID string `json:"source_device_id"`

	// TargetDeviceID is the device receiving the file. Required.
	TargetDeviceID string `json:"target_device_id"`

	// Path is the file on the source; DestPath is where the target
	// stores it. DestPath defaults to Path.
	Path     string `json:"path"`
	DestPath string `json:"dest_path,omitempty"`
}

// Transfer moves a file between two agents. When the local device is the
// source, the file is streamed straight to the target's peer/send endpoint;
// otherwise the request is forwarded to the source peer, which performs the
// local branch itself. The orchestrator only initiates.
func (o *Orchestrator) Transfer(ctx context.Context, req TransferRequest) (map[string]interface{}, error) {
	if req.TargetDeviceID == "" || req.Path == "" {
		return nil, fmt.Errorf("orchestrator: target_device_id and path are required")
	}
	if req.DestPath == "" {
		req.DestPath = req.Path
	}

	if o.isLocal(req.SourceDeviceID) {
		return o.pushLocalFile(ctx, req)
	}

	// Forward to the source peer. The forwarded body names the source as
	// itself, so the receiving agent takes the local branch.
	fwd := req
	fwd.SourceDeviceID = ""
	body, err := json.Marshal(fwd)
	if err != nil {
		return nil, err
	}
	resp, err := o.Dispatch(ctx, req.SourceDeviceID, http.MethodPost, "/api/orchestrator/transfer", body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("orchestrator: source peer returned status %d", resp.StatusCode)
	}
	return resp.JSON, nil
}

func (o *Orchestrator) pushLocalFile(ctx context.Context, req TransferRequest) (map[string]interface{}, error) {
	files := o.config.Providers.Files
	if files == nil {
		return nil, ErrNoProvider
	}
	target := o.config.Store.Get(req.TargetDeviceID)
	if target == nil {
		return nil, ErrNotPaired
	}
	addr, err := o.resolveAddr(target)
	if err != nil {
		return nil, err
	}

	rc, info, err := files.Open(req.Path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	endpoint := "/api/peer/send?path=" + url.QueryEscape(req.DestPath)
	resp, err := o.client.DoStream(ctx, target, addr, http.MethodPost, endpoint, rc)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("orchestrator: target peer returned status %d", resp.StatusCode)
	}

	if o.log != nil {
		o.log.Infof("pushed %s (%d bytes) to %s", req.Path, info.Size, req.TargetDeviceID)
	}
	return map[string]interface{}{
		"source":    o.config.Store.DeviceID(),
		"target":    req.TargetDeviceID,
		"path":      req.Path,
		"dest_path": req.DestPath,
		"size":      info.Size,
	}, nil
}

// SyncRequest names a dataset replication across the mesh.
type SyncRequest struct {
	// SourceDeviceID holds the dataset. Empty means the local device.
	SourceDeviceID string `json:"source_device_id"`

	// TargetDeviceIDs receive the dataset. Required, non-empty.
	TargetDeviceIDs []string `json:"target_device_ids"`

	// DataType is "contacts" or "sms".
	DataType string `json:"data_type"`
}

// SyncResult reports one target's import outcome.
type SyncResult struct {
	PeerID     string                 `json:"peer_id"`
	StatusCode int                    `json:"status_code,omitempty"`
	Response   map[string]interface{} `json:"response,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// Sync pulls a dataset from the source and dispatches an import to every
// target. The local agent is the hub: data flows source -> here -> targets.
func (o *Orchestrator) Sync(ctx context.Context, req SyncRequest) ([]SyncResult, error) {
	if len(req.TargetDeviceIDs) == 0 {
		return nil, fmt.Errorf("orchestrator: target_device_ids is required")
	}

	endpoint, body, err := o.exportDataset(ctx, req.SourceDeviceID, req.DataType)
	if err != nil {
		return nil, err
	}

	out := make([]SyncResult, len(req.TargetDeviceIDs))
	var wg sync.WaitGroup
	for i, targetID := range req.TargetDeviceIDs {
		wg.Add(1)
		go func(i int, targetID string) {
			defer wg.Done()
			res := SyncResult{PeerID: targetID}
			resp, err := o.Dispatch(ctx, targetID, http.MethodPost, endpoint, body)
			if err != nil {
				res.Error = err.Error()
				out[i] = res
				return
			}
			res.StatusCode = resp.StatusCode
			res.Response = resp.JSON
			out[i] = res
		}(i, targetID)
	}
	wg.Wait()
	return out, nil
}

// exportDataset materializes the dataset as the import-endpoint body the
// targets expect.
func (o *Orchestrator) exportDataset(ctx context.Context, sourceID, dataType string) (endpoint string, body []byte, err error) {
	switch dataType {
	case "contacts":
		endpoint = "/api/contacts/import"
	case "sms":
		endpoint = "/api/sms/import"
	default:
		return "", nil, ErrUnknownDataType
	}

	if o.isLocal(sourceID) {
		body, err = o.exportLocal(dataType)
		return endpoint, body, err
	}

	reqBody, _ := json.Marshal(map[string]string{"resource": dataType})
	resp, err := o.Dispatch(ctx, sourceID, http.MethodPost, "/api/peer/request", reqBody)
	if err != nil {
		return "", nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("orchestrator: source peer returned status %d", resp.StatusCode)
	}

	// peer/request returns structured records; re-encode them as the
	// import endpoint's body format.
	switch dataType {
	case "contacts":
		var parsed struct {
			Contacts []provider.Contact `json:"contacts"`
		}
		if err := json.Unmarshal(resp.Body, &parsed); err != nil {
			return "", nil, fmt.Errorf("orchestrator: malformed contacts export: %w", err)
		}
		body, err = json.Marshal(map[string]string{"vcf": provider.EncodeVCF(parsed.Contacts)})
	case "sms":
		body, err = json.Marshal(map[string]interface{}{"messages": resp.JSON["messages"]})
	}
	return endpoint, body, err
}

func (o *Orchestrator) exportLocal(dataType string) ([]byte, error) {
	switch dataType {
	case "contacts":
		if o.config.Providers.Contacts == nil {
			return nil, ErrNoProvider
		}
		list, err := o.config.Providers.Contacts.List()
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"vcf": provider.EncodeVCF(list)})
	case "sms":
		if o.config.Providers.SMS == nil {
			return nil, ErrNoProvider
		}
		msgs, err := o.config.Providers.SMS.List(0, 0)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]interface{}{"messages": msgs})
	}
	return nil, ErrUnknownDataType
}

// DeployStep is one client-driven step of a toolkit deployment.
type DeployStep struct {
	Order       int    `json:"order"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

// DeployToolkit returns the step plan for pushing the agent to another
// peer. Execution is client-driven; the orchestrator only describes it.
func (o *Orchestrator) DeployToolkit(targetID string) []DeployStep {
	return []DeployStep{
		{Order: 1, Action: "download", Description: "download the agent package to the controller"},
		{Order: 2, Action: "send", Description: "push the package to " + targetID + " via the transfer channel"},
		{Order: 3, Action: "install", Description: "invoke the platform installer on " + targetID},
		{Order: 4, Action: "pair", Description: "run the pairing exchange with the new agent"},
	}
}

// Discovered returns the current discovery snapshot, or nil without a
// browser.
func (o *Orchestrator) Discovered() []discovery.Peer {
	if o.config.Discovery == nil {
		return nil
	}
	return o.config.Discovery.Peers()
}

func (o *Orchestrator) isLocal(deviceID string) bool {
	return deviceID == "" || deviceID == o.config.Store.DeviceID()
}

// resolveAddr finds a peer's current host:port, preferring the live
// discovery snapshot over the address remembered at pairing time.
func (o *Orchestrator) resolveAddr(peer *pairing.PairedDevice) (string, error) {
	if o.config.Discovery != nil {
		if p, ok := o.config.Discovery.Lookup(peer.PeerID); ok {
			if addr := p.Addr(); addr != "" {
				return addr, nil
			}
		}
	}
	if peer.Address != "" {
		return peer.Address, nil
	}
	return "", ErrNoAddress
}
