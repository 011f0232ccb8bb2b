package api

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/adbtoolkit/agent/pkg/auth"
	"github.com/adbtoolkit/agent/pkg/crypto"
	"github.com/adbtoolkit/agent/pkg/pairing"
	"github.com/adbtoolkit/agent/pkg/provider"
)

type testEnv struct {
	srv   *Server
	store *pairing.Store
	base  string
	root  string
	token string
}

func newTestEnv(t *testing.T, token string) *testEnv {
	t.Helper()

	store, err := pairing.NewStore(pairing.StoreConfig{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	gate := auth.NewGate(auth.GateConfig{Token: token, Peers: store})

	root := t.TempDir()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	srv, err := NewServer(Config{
		Listener: l,
		Gate:     gate,
		Store:    store,
		Providers: provider.Set{
			Files:    &provider.LocalFiles{Root: root},
			Contacts: provider.NewMemoryContacts(),
			SMS:      provider.NewMemorySMS(),
			Device:   &provider.LocalDevice{StorageRoots: []string{root}},
			Shell:    &provider.LocalShell{},
			Security: &provider.StaticSecurity{ScreenLock: true},
		},
		Version:  "test",
		Platform: "test",
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return &testEnv{
		srv:   srv,
		store: store,
		base:  "http://" + l.Addr().String(),
		root:  root,
		token: token,
	}
}

// call performs a request with the controller token attached.
func (e *testEnv) call(t *testing.T, method, path string, body io.Reader) (int, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, e.base+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if e.token != "" {
		req.Header.Set("X-Agent-Token", e.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return doJSON(t, req)
}

func doJSON(t *testing.T, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	var obj map[string]interface{}
	json.Unmarshal(data, &obj)
	return resp.StatusCode, obj
}

func TestPing(t *testing.T) {
	env := newTestEnv(t, "tok")

	// No token on purpose: ping is open.
	req, _ := http.NewRequest(http.MethodGet, env.base+"/api/ping", nil)
	status, body := doJSON(t, req)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["service"] != "adbtoolkit-agent" || body["device_id"] == "" {
		t.Errorf("ping body = %v", body)
	}
}

func TestTokenEnforcement(t *testing.T) {
	env := newTestEnv(t, "secret-token")

	t.Run("missing token", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, env.base+"/api/files/list?path=.", nil)
		status, body := doJSON(t, req)
		if status != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401 (%v)", status, body)
		}
	})

	t.Run("wrong token", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, env.base+"/api/files/list?path=.", nil)
		req.Header.Set("X-Agent-Token", "wrong")
		status, _ := doJSON(t, req)
		if status != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", status)
		}
	})

	t.Run("token via query parameter", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, env.base+"/api/files/list?path=.&token=secret-token", nil)
		status, _ := doJSON(t, req)
		if status != http.StatusOK {
			t.Errorf("status = %d, want 200", status)
		}
	})

	t.Run("valid header token", func(t *testing.T) {
		status, body := env.call(t, http.MethodGet, "/api/files/list?path=.", nil)
		if status != http.StatusOK {
			t.Errorf("status = %d, want 200 (%v)", status, body)
		}
		if _, ok := body["files"]; !ok {
			t.Errorf("body missing files: %v", body)
		}
	})
}

func TestFilesFlow(t *testing.T) {
	env := newTestEnv(t, "tok")

	content := []byte("file body for the api round trip")
	status, body := env.call(t, http.MethodPost, "/api/files/write?path=sub/hello.txt", bytes.NewReader(content))
	if status != http.StatusOK {
		t.Fatalf("write status = %d (%v)", status, body)
	}

	t.Run("read", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, env.base+"/api/files/read?path=sub/hello.txt", nil)
		req.Header.Set("X-Agent-Token", "tok")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "hello.txt") {
			t.Errorf("Content-Disposition = %q", cd)
		}
		data, _ := io.ReadAll(resp.Body)
		if !bytes.Equal(data, content) {
			t.Error("read body differs from written content")
		}
	})

	t.Run("stat and hash", func(t *testing.T) {
		status, body := env.call(t, http.MethodGet, "/api/files/stat?path=sub/hello.txt", nil)
		if status != http.StatusOK {
			t.Fatalf("stat = %d %v", status, body)
		}
		fi, _ := body["file"].(map[string]interface{})
		if fi["size"] != float64(len(content)) {
			t.Errorf("stat file = %v", fi)
		}
		status, body = env.call(t, http.MethodGet, "/api/files/hash?path=sub/hello.txt", nil)
		if status != http.StatusOK || body["hash"] == "" {
			t.Errorf("hash = %d %v", status, body)
		}
	})

	t.Run("traversal is refused", func(t *testing.T) {
		status, _ := env.call(t, http.MethodGet, "/api/files/read?path=../../etc/passwd", nil)
		if status != http.StatusForbidden {
			t.Errorf("status = %d, want 403", status)
		}
		if _, err := os.Stat(filepath.Join(env.root, "..", "etc")); err == nil {
			t.Error("traversal had side effects")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		status, _ := env.call(t, http.MethodGet, "/api/files/read?path=absent.bin", nil)
		if status != http.StatusNotFound {
			t.Errorf("status = %d, want 404", status)
		}
	})
}

func TestUnknownRoutes(t *testing.T) {
	env := newTestEnv(t, "tok")

	status, body := env.call(t, http.MethodGet, "/api/nosuch/list", nil)
	if status != http.StatusNotFound || body["error"] == "" {
		t.Errorf("unknown domain = %d %v", status, body)
	}
	status, body = env.call(t, http.MethodGet, "/nothing", nil)
	if status != http.StatusNotFound || body["error"] == "" {
		t.Errorf("unknown path = %d %v", status, body)
	}
}

func TestPairingFlow(t *testing.T) {
	env := newTestEnv(t, "tok")

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	initBody := func() io.Reader {
		return strings.NewReader(fmt.Sprintf(
			`{"device_id":"peer-x","label":"Peer X","public_key":"%s"}`,
			hex.EncodeToString(kp.PublicKeyBytes())))
	}

	// pair-init is open: no token attached anywhere in this flow.
	req, _ := http.NewRequest(http.MethodPost, env.base+"/api/peer/pair-init", initBody())
	req.Header.Set("Content-Type", "application/json")
	status, body := doJSON(t, req)
	if status != http.StatusOK {
		t.Fatalf("pair-init status = %d (%v)", status, body)
	}
	if body["status"] != "pending_approval" {
		t.Fatalf("pair-init status field = %v", body["status"])
	}
	challengeID, _ := body["challenge_id"].(string)
	confirmCode, _ := body["confirm_code"].(string)
	responderKeyHex, _ := body["public_key"].(string)
	responderKey, err := hex.DecodeString(responderKeyHex)
	if err != nil {
		t.Fatalf("responder key is not hex: %v", err)
	}

	t.Run("confirm code matches on both sides", func(t *testing.T) {
		if own := crypto.ConfirmCode(kp.PublicKeyBytes(), responderKey); own != confirmCode {
			t.Errorf("initiator code %s != responder code %s", own, confirmCode)
		}
	})

	t.Run("approve requires biometric assertion", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, env.base+"/api/peer/pair-approve",
			strings.NewReader(fmt.Sprintf(`{"challenge_id":"%s"}`, challengeID)))
		status, _ := doJSON(t, req)
		if status != http.StatusForbidden {
			t.Errorf("status = %d, want 403", status)
		}
	})

	t.Run("approve", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, env.base+"/api/peer/pair-approve",
			strings.NewReader(fmt.Sprintf(`{"challenge_id":"%s","biometric_verified":true}`, challengeID)))
		status, body := doJSON(t, req)
		if status != http.StatusOK {
			t.Fatalf("status = %d (%v)", status, body)
		}
		device, _ := body["device"].(map[string]interface{})
		if device["peer_id"] != "peer-x" {
			t.Errorf("device = %v", device)
		}
		if _, leaked := device["shared_secret"]; leaked && device["shared_secret"] != nil {
			t.Error("shared secret leaked in approve response")
		}
	})

	t.Run("second approve fails", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, env.base+"/api/peer/pair-approve",
			strings.NewReader(fmt.Sprintf(`{"challenge_id":"%s","biometric_verified":true}`, challengeID)))
		status, _ := doJSON(t, req)
		if status != http.StatusNotFound {
			t.Errorf("status = %d, want 404", status)
		}
	})

	// The initiator derives the same secret from the responder's key.
	secret, err := kp.SharedSecret(responderKey)
	if err != nil {
		t.Fatal(err)
	}

	signedReq := func(method, uri string, body io.Reader) *http.Request {
		ts := time.Now().UnixMilli()
		req, _ := http.NewRequest(method, env.base+uri, body)
		req.Header.Set("X-Peer-Id", "peer-x")
		req.Header.Set("X-Peer-Timestamp", strconv.FormatInt(ts, 10))
		req.Header.Set("X-Peer-Signature",
			crypto.SignHMAC(secret, crypto.CanonicalRequest(method, uri, ts)))
		return req
	}

	t.Run("signed request is accepted", func(t *testing.T) {
		status, body := doJSON(t, signedReq(http.MethodGet, "/api/device/info", nil))
		if status != http.StatusOK {
			t.Fatalf("status = %d (%v)", status, body)
		}
	})

	t.Run("stale timestamp is rejected", func(t *testing.T) {
		ts := time.Now().Add(-10 * time.Minute).UnixMilli()
		uri := "/api/device/info"
		req, _ := http.NewRequest(http.MethodGet, env.base+uri, nil)
		req.Header.Set("X-Peer-Id", "peer-x")
		req.Header.Set("X-Peer-Timestamp", strconv.FormatInt(ts, 10))
		req.Header.Set("X-Peer-Signature",
			crypto.SignHMAC(secret, crypto.CanonicalRequest(http.MethodGet, uri, ts)))
		status, _ := doJSON(t, req)
		if status != http.StatusForbidden {
			t.Errorf("status = %d, want 403", status)
		}
	})

	t.Run("peer send writes into the sandbox", func(t *testing.T) {
		uri := "/api/peer/send?path=from-peer.bin"
		payload := []byte("pushed by a paired peer")
		ts := time.Now().UnixMilli()
		req, _ := http.NewRequest(http.MethodPost, env.base+uri, bytes.NewReader(payload))
		req.Header.Set("X-Peer-Id", "peer-x")
		req.Header.Set("X-Peer-Timestamp", strconv.FormatInt(ts, 10))
		req.Header.Set("X-Peer-Signature",
			crypto.SignHMAC(secret, crypto.CanonicalRequest(http.MethodPost, uri, ts)))
		status, body := doJSON(t, req)
		if status != http.StatusOK {
			t.Fatalf("status = %d (%v)", status, body)
		}
		onDisk, err := os.ReadFile(filepath.Join(env.root, "from-peer.bin"))
		if err != nil || !bytes.Equal(onDisk, payload) {
			t.Errorf("stored file mismatch: %v", err)
		}
	})

	t.Run("peer send refuses token auth", func(t *testing.T) {
		status, _ := env.call(t, http.MethodPost, "/api/peer/send?path=x.bin", strings.NewReader("nope"))
		if status != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", status)
		}
	})

	t.Run("peer request returns a dataset", func(t *testing.T) {
		status, body := doJSON(t, signedReq(http.MethodPost, "/api/peer/request",
			strings.NewReader(`{"resource":"device"}`)))
		if status != http.StatusOK || body["resource"] != "device" {
			t.Errorf("status = %d body = %v", status, body)
		}
	})

	t.Run("paired list hides the secret", func(t *testing.T) {
		status, body := env.call(t, http.MethodGet, "/api/peer/paired", nil)
		if status != http.StatusOK {
			t.Fatalf("status = %d", status)
		}
		devices, _ := body["devices"].([]interface{})
		if len(devices) != 1 {
			t.Fatalf("devices = %v", devices)
		}
		d := devices[0].(map[string]interface{})
		if _, ok := d["shared_secret"]; ok {
			t.Error("shared secret leaked in paired list")
		}
	})

	t.Run("revoke requires biometric assertion", func(t *testing.T) {
		status, _ := env.call(t, http.MethodPost, "/api/peer/revoke",
			strings.NewReader(`{"peer_id":"peer-x"}`))
		if status != http.StatusForbidden {
			t.Errorf("status = %d, want 403", status)
		}
	})

	t.Run("revoke", func(t *testing.T) {
		status, _ := env.call(t, http.MethodPost, "/api/peer/revoke",
			strings.NewReader(`{"peer_id":"peer-x","biometric_verified":true}`))
		if status != http.StatusOK {
			t.Errorf("status = %d", status)
		}
		if env.store.Get("peer-x") != nil {
			t.Error("record still present after revoke")
		}
	})
}

func TestPairApproveInsecureDevice(t *testing.T) {
	env := newTestEnv(t, "tok")
	env.srv.config.Providers.Security = &provider.StaticSecurity{ScreenLock: false}

	kp, _ := crypto.GenerateKeyPair()
	req, _ := http.NewRequest(http.MethodPost, env.base+"/api/peer/pair-init",
		strings.NewReader(fmt.Sprintf(`{"device_id":"peer-w","label":"W","public_key":"%s"}`,
			hex.EncodeToString(kp.PublicKeyBytes()))))
	status, body := doJSON(t, req)
	if status != http.StatusOK {
		t.Fatalf("pair-init = %d (%v)", status, body)
	}
	challengeID, _ := body["challenge_id"].(string)

	req, _ = http.NewRequest(http.MethodPost, env.base+"/api/peer/pair-approve",
		strings.NewReader(fmt.Sprintf(`{"challenge_id":"%s","biometric_verified":true}`, challengeID)))
	status, _ = doJSON(t, req)
	if status != http.StatusForbidden {
		t.Errorf("status = %d, want 403 without a screen lock", status)
	}
	if env.store.Get("peer-w") != nil {
		t.Error("pairing stored despite the insecure-device rejection")
	}
}

func TestPairInitAlreadyPaired(t *testing.T) {
	env := newTestEnv(t, "tok")

	kp, _ := crypto.GenerateKeyPair()
	if _, err := env.store.Adopt("peer-y", "Y", kp.PublicKeyBytes(), ""); err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest(http.MethodPost, env.base+"/api/peer/pair-init",
		strings.NewReader(fmt.Sprintf(`{"device_id":"peer-y","label":"Y","public_key":"%s"}`,
			hex.EncodeToString(kp.PublicKeyBytes()))))
	status, body := doJSON(t, req)
	if status != http.StatusOK || body["status"] != "already_paired" {
		t.Fatalf("status = %d body = %v", status, body)
	}
	if body["public_key"] == "" {
		t.Error("already_paired reply lacks the responder key")
	}
}

func TestRelayNotImplemented(t *testing.T) {
	env := newTestEnv(t, "tok")
	status, body := env.call(t, http.MethodPost, "/api/peer/relay", nil)
	if status != http.StatusNotImplemented || body["error"] != "not_implemented" {
		t.Errorf("status = %d body = %v", status, body)
	}
}

func TestContactsImport(t *testing.T) {
	env := newTestEnv(t, "tok")

	vcf := "BEGIN:VCARD\r\nVERSION:3.0\r\nFN:Ada Lovelace\r\nTEL;TYPE=CELL:+44123\r\nEND:VCARD\r\n" +
		"BEGIN:VCARD\r\nVERSION:3.0\r\nTEL:+1555\r\nEND:VCARD\r\n"

	req, _ := http.NewRequest(http.MethodPost, env.base+"/api/contacts/import", strings.NewReader(vcf))
	req.Header.Set("X-Agent-Token", "tok")
	status, body := doJSON(t, req)
	if status != http.StatusOK {
		t.Fatalf("status = %d (%v)", status, body)
	}
	if body["imported"] != float64(1) {
		t.Errorf("imported = %v, want 1", body["imported"])
	}
	failed, _ := body["failed"].([]interface{})
	if len(failed) != 1 {
		t.Fatalf("failed = %v, want one nameless entry", failed)
	}
	entry := failed[0].(map[string]interface{})
	if entry["index"] != float64(1) {
		t.Errorf("failed index = %v", entry["index"])
	}

	t.Run("export round trips", func(t *testing.T) {
		status, _ := env.call(t, http.MethodGet, "/api/contacts/count", nil)
		if status != http.StatusOK {
			t.Fatal("count failed")
		}
		req, _ := http.NewRequest(http.MethodGet, env.base+"/api/contacts/export-vcf", nil)
		req.Header.Set("X-Agent-Token", "tok")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		if !strings.Contains(string(data), "Ada Lovelace") {
			t.Errorf("export missing imported contact: %s", data)
		}
	})
}

func TestSMSImportAndPagination(t *testing.T) {
	env := newTestEnv(t, "tok")

	msgs := `{"messages":[
		{"address":"+1","body":"one","date":1,"thread_id":1},
		{"address":"","body":"no address","date":2,"thread_id":1},
		{"address":"+1","body":"two","date":3,"thread_id":1}
	]}`
	status, body := env.call(t, http.MethodPost, "/api/sms/import", strings.NewReader(msgs))
	if status != http.StatusOK || body["imported"] != float64(2) {
		t.Fatalf("import = %d %v", status, body)
	}
	failed, _ := body["failed"].([]interface{})
	if len(failed) != 1 {
		t.Errorf("failed = %v", failed)
	}

	status, body = env.call(t, http.MethodGet, "/api/sms/list?limit=1&offset=1", nil)
	if status != http.StatusOK || body["count"] != float64(1) {
		t.Errorf("list = %d %v", status, body)
	}

	status, body = env.call(t, http.MethodGet, "/api/sms/conversations", nil)
	if status != http.StatusOK || body["count"] != float64(1) {
		t.Errorf("conversations = %d %v", status, body)
	}
}

func TestShellExec(t *testing.T) {
	env := newTestEnv(t, "tok")

	status, body := env.call(t, http.MethodPost, "/api/shell/exec",
		strings.NewReader(`{"command":"echo shell-roundtrip"}`))
	if status != http.StatusOK {
		t.Fatalf("status = %d (%v)", status, body)
	}
	if out, _ := body["stdout"].(string); !strings.Contains(out, "shell-roundtrip") {
		t.Errorf("stdout = %q", out)
	}
	if body["exit_code"] != float64(0) {
		t.Errorf("exit_code = %v", body["exit_code"])
	}
}

func TestServerHeaderAndConnClose(t *testing.T) {
	env := newTestEnv(t, "")

	req, _ := http.NewRequest(http.MethodGet, env.base+"/api/ping", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if got := resp.Header.Get("Server"); !strings.HasPrefix(got, "adbtoolkit-agent/") {
		t.Errorf("Server header = %q", got)
	}
}

func TestLoopbackWithoutToken(t *testing.T) {
	env := newTestEnv(t, "")

	// Empty configured token: loopback callers need no credentials.
	req, _ := http.NewRequest(http.MethodGet, env.base+"/api/device/info", nil)
	status, body := doJSON(t, req)
	if status != http.StatusOK {
		t.Errorf("status = %d (%v)", status, body)
	}
}
