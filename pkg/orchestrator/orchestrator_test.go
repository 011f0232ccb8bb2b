package orchestrator_test

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adbtoolkit/agent/pkg/api"
	"github.com/adbtoolkit/agent/pkg/auth"
	. "github.com/adbtoolkit/agent/pkg/orchestrator"
	"github.com/adbtoolkit/agent/pkg/pairing"
	"github.com/adbtoolkit/agent/pkg/provider"
)

// meshAgent is one remote agent in a test mesh: a real API server over a
// loopback listener, backed by its own pairing store and providers.
type meshAgent struct {
	store *pairing.Store
	srv   *api.Server
	addr  string
	root  string

	contacts *provider.MemoryContacts
	sms      *provider.MemorySMS
}

func newMeshAgent(t *testing.T) *meshAgent {
	t.Helper()

	store, err := pairing.NewStore(pairing.StoreConfig{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	gate := auth.NewGate(auth.GateConfig{Peers: store})

	root := t.TempDir()
	contacts := provider.NewMemoryContacts()
	sms := provider.NewMemorySMS()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv, err := api.NewServer(api.Config{
		Listener: l,
		Gate:     gate,
		Store:    store,
		Providers: provider.Set{
			Files:    &provider.LocalFiles{Root: root},
			Contacts: contacts,
			SMS:      sms,
			Device:   &provider.LocalDevice{StorageRoots: []string{root}},
			Security: &provider.StaticSecurity{ScreenLock: true},
		},
		Version:  "test",
		Platform: "test",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Stop() })

	return &meshAgent{
		store:    store,
		srv:      srv,
		addr:     l.Addr().String(),
		root:     root,
		contacts: contacts,
		sms:      sms,
	}
}

// newHub builds the local orchestrator side: a pairing store with no server
// of its own, plus providers for local-source operations.
func newHub(t *testing.T) (*Orchestrator, *pairing.Store, string) {
	t.Helper()
	store, err := pairing.NewStore(pairing.StoreConfig{DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	root := t.TempDir()
	o, err := New(Config{
		Store: store,
		Providers: provider.Set{
			Files:    &provider.LocalFiles{Root: root},
			Contacts: provider.NewMemoryContacts(),
			SMS:      provider.NewMemorySMS(),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return o, store, root
}

// pairWith records the pairing on both sides, the way a completed handshake
// would: each store adopts the other's public key and derives the same
// shared secret.
func pairWith(t *testing.T, hub *pairing.Store, agent *meshAgent, addr string) {
	t.Helper()
	if _, err := hub.Adopt(agent.store.DeviceID(), "agent", agent.store.PublicKey(), addr); err != nil {
		t.Fatalf("hub adopt: %v", err)
	}
	if _, err := agent.store.Adopt(hub.DeviceID(), "hub", hub.PublicKey(), ""); err != nil {
		t.Fatalf("agent adopt: %v", err)
	}
}

func TestTopology(t *testing.T) {
	o, store, _ := newHub(t)
	agent := newMeshAgent(t)
	pairWith(t, store, agent, agent.addr)

	// Second record points at a closed port: resolvable but offline.
	ghost, err := pairing.NewStore(pairing.StoreConfig{DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Adopt(ghost.DeviceID(), "ghost", ghost.PublicKey(), "127.0.0.1:1"); err != nil {
		t.Fatal(err)
	}

	rows := o.Topology(context.Background())
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	byID := map[string]PeerStatus{}
	for _, row := range rows {
		byID[row.PeerID] = row
	}

	live := byID[agent.store.DeviceID()]
	if !live.Online {
		t.Errorf("live peer offline: %+v", live)
	}
	if live.Info["device_id"] != agent.store.DeviceID() {
		t.Errorf("live info = %v", live.Info)
	}

	down := byID[ghost.DeviceID()]
	if down.Online || down.Error == "" {
		t.Errorf("ghost peer = %+v", down)
	}
}

func TestDispatch(t *testing.T) {
	o, store, _ := newHub(t)
	agent := newMeshAgent(t)
	pairWith(t, store, agent, agent.addr)

	t.Run("signed request lands", func(t *testing.T) {
		body := []byte(`{"messages":[{"address":"+1","body":"hi","date":1,"thread_id":1}]}`)
		resp, err := o.Dispatch(context.Background(), agent.store.DeviceID(),
			http.MethodPost, "/api/sms/import", body)
		if err != nil {
			t.Fatalf("Dispatch() error = %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d body = %s", resp.StatusCode, resp.Body)
		}
		if resp.JSON["imported"] != float64(1) {
			t.Errorf("imported = %v", resp.JSON["imported"])
		}
		msgs, _ := agent.sms.List(0, 0)
		if len(msgs) != 1 || msgs[0].Body != "hi" {
			t.Errorf("remote store = %+v", msgs)
		}
	})

	t.Run("unpaired peer", func(t *testing.T) {
		if _, err := o.Dispatch(context.Background(), "nobody", http.MethodGet, "/api/ping", nil); err != ErrNotPaired {
			t.Errorf("err = %v, want ErrNotPaired", err)
		}
	})

	t.Run("peer error status passes through", func(t *testing.T) {
		resp, err := o.Dispatch(context.Background(), agent.store.DeviceID(),
			http.MethodGet, "/api/files/read?path=no-such-file", nil)
		if err != nil {
			t.Fatalf("Dispatch() error = %v", err)
		}
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})
}

func TestBroadcast(t *testing.T) {
	o, store, _ := newHub(t)
	agent := newMeshAgent(t)
	pairWith(t, store, agent, agent.addr)

	unreachable, err := pairing.NewStore(pairing.StoreConfig{DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Adopt(unreachable.DeviceID(), "down", unreachable.PublicKey(), "127.0.0.1:1"); err != nil {
		t.Fatal(err)
	}

	results := o.Broadcast(context.Background(), http.MethodGet, "/api/device/info", nil)
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want one entry per peer", len(results))
	}

	var ok, failed int
	for _, res := range results {
		switch {
		case res.StatusCode == http.StatusOK && res.Error == "":
			ok++
		case res.Error != "":
			failed++
		}
	}
	if ok != 1 || failed != 1 {
		t.Errorf("ok = %d failed = %d (%+v)", ok, failed, results)
	}
}

func TestTransferLocalSource(t *testing.T) {
	o, store, root := newHub(t)
	agent := newMeshAgent(t)
	pairWith(t, store, agent, agent.addr)

	payload := []byte("transfer payload\n")
	if err := os.WriteFile(filepath.Join(root, "report.txt"), payload, 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := o.Transfer(context.Background(), TransferRequest{
		TargetDeviceID: agent.store.DeviceID(),
		Path:           "report.txt",
		DestPath:       "incoming/report.txt",
	})
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	if res["size"] != int64(len(payload)) {
		t.Errorf("size = %v", res["size"])
	}

	got, err := os.ReadFile(filepath.Join(agent.root, "incoming", "report.txt"))
	if err != nil {
		t.Fatalf("target file missing: %v", err)
	}
	if string(got) != string(payload) {
		t.Error("target content differs")
	}
}

func TestTransferValidation(t *testing.T) {
	o, _, _ := newHub(t)

	if _, err := o.Transfer(context.Background(), TransferRequest{Path: "x"}); err == nil {
		t.Error("missing target accepted")
	}
	if _, err := o.Transfer(context.Background(), TransferRequest{TargetDeviceID: "t"}); err == nil {
		t.Error("missing path accepted")
	}
	_, err := o.Transfer(context.Background(), TransferRequest{
		SourceDeviceID: "elsewhere",
		TargetDeviceID: "t",
		Path:           "x",
	})
	if err != ErrNotPaired {
		t.Errorf("err = %v, want ErrNotPaired for unknown source", err)
	}
}

func TestSyncFromRemoteSource(t *testing.T) {
	o, store, _ := newHub(t)
	source := newMeshAgent(t)
	target := newMeshAgent(t)
	pairWith(t, store, source, source.addr)
	pairWith(t, store, target, target.addr)

	source.contacts.Insert(provider.Contact{
		Name:   "Ada Lovelace",
		Phones: []provider.LabeledValue{{Value: "+44123", Label: "CELL"}},
	})

	results, err := o.Sync(context.Background(), SyncRequest{
		SourceDeviceID:  source.store.DeviceID(),
		TargetDeviceIDs: []string{target.store.DeviceID()},
		DataType:        "contacts",
	})
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if len(results) != 1 || results[0].StatusCode != http.StatusOK {
		t.Fatalf("results = %+v", results)
	}

	list, _ := target.contacts.List()
	if len(list) != 1 || list[0].Name != "Ada Lovelace" {
		t.Fatalf("target contacts = %+v", list)
	}
	if len(list[0].Phones) != 1 || list[0].Phones[0].Value != "+44123" {
		t.Errorf("phones = %+v", list[0].Phones)
	}
}

func TestSyncLocalSource(t *testing.T) {
	o, store, _ := newHub(t)
	target := newMeshAgent(t)
	pairWith(t, store, target, target.addr)

	o.TestConfig().Providers.SMS.Insert(provider.Message{
		ThreadID: 7, Address: "+1555", Body: "local message", Date: 42,
	})

	results, err := o.Sync(context.Background(), SyncRequest{
		TargetDeviceIDs: []string{target.store.DeviceID()},
		DataType:        "sms",
	})
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if results[0].StatusCode != http.StatusOK {
		t.Fatalf("results = %+v", results)
	}
	msgs, _ := target.sms.List(0, 0)
	if len(msgs) != 1 || msgs[0].Body != "local message" {
		t.Errorf("target sms = %+v", msgs)
	}
}

func TestSyncValidation(t *testing.T) {
	o, _, _ := newHub(t)

	if _, err := o.Sync(context.Background(), SyncRequest{DataType: "contacts"}); err == nil {
		t.Error("empty target list accepted")
	}
	_, err := o.Sync(context.Background(), SyncRequest{
		TargetDeviceIDs: []string{"t"},
		DataType:        "calendar",
	})
	if err != ErrUnknownDataType {
		t.Errorf("err = %v, want ErrUnknownDataType", err)
	}
}

func TestDeployToolkit(t *testing.T) {
	o, _, _ := newHub(t)
	steps := o.DeployToolkit("peer-z")
	if len(steps) != 4 {
		t.Fatalf("len(steps) = %d, want 4", len(steps))
	}
	for i, step := range steps {
		if step.Order != i+1 {
			t.Errorf("step %d order = %d", i, step.Order)
		}
	}
	if !strings.Contains(steps[1].Description, "peer-z") {
		t.Errorf("send step does not name the target: %q", steps[1].Description)
	}
}

func TestResolveAddrPrecedence(t *testing.T) {
	o, store, _ := newHub(t)

	other, err := pairing.NewStore(pairing.StoreConfig{DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}

	t.Run("no address anywhere", func(t *testing.T) {
		d, err := store.Adopt(other.DeviceID(), "x", other.PublicKey(), "")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := o.TestResolveAddr(d); err != ErrNoAddress {
			t.Errorf("err = %v, want ErrNoAddress", err)
		}
	})

	t.Run("falls back to pairing record", func(t *testing.T) {
		d := store.Get(other.DeviceID())
		d.Address = "10.0.0.9:15555"
		addr, err := o.TestResolveAddr(d)
		if err != nil || addr != "10.0.0.9:15555" {
			t.Errorf("addr = %q err = %v", addr, err)
		}
	})
}
