package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adbtoolkit/agent/pkg/crypto"
	"github.com/adbtoolkit/agent/pkg/pairing"
	"github.com/cenkalti/backoff"
	"github.com/pion/logging"
)

// DefaultRequestTimeout bounds one outbound peer request.
const DefaultRequestTimeout = 15 * time.Second

// maxRetries is how many times a failed dial is retried before the error
// is reported. Only transport errors retry; any HTTP response is final.
const maxRetries = 2

// ClientConfig configures the signed peer Client.
type ClientConfig struct {
	// DeviceID is the local device identifier, sent as X-Peer-Id so the
	// remote agent can look up the shared secret.
	DeviceID string

	// Timeout bounds each request. Defaults to DefaultRequestTimeout.
	Timeout time.Duration

	// HTTPClient overrides the underlying client, for tests.
	HTTPClient *http.Client

	// LoggerFactory for creating loggers. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Client issues HMAC-signed HTTP requests to paired peers. Each request is
// signed over method|uri|timestamp with the pairing's shared secret.
type Client struct {
	config ClientConfig
	http   *http.Client
	log    logging.LeveledLogger
}

// PeerResponse is the outcome of a peer request that produced an HTTP
// response, regardless of status code.
type PeerResponse struct {
	StatusCode int
	Body       []byte

	// JSON is the decoded body when it parses as a JSON object, else nil.
	JSON map[string]interface{}
}

// NewClient creates a Client.
func NewClient(config ClientConfig) *Client {
	if config.Timeout == 0 {
		config.Timeout = DefaultRequestTimeout
	}
	c := &Client{
		config: config,
		http:   config.HTTPClient,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: config.Timeout}
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("orchestrator")
	}
	return c
}

// Do sends a signed request to the peer at addr. endpoint is the exact
// path-and-query; it is covered by the signature, so the remote must see it
// byte for byte. Transport failures retry with exponential backoff; any
// HTTP response, including non-2xx, is returned without retry.
func (c *Client) Do(ctx context.Context, peer *pairing.PairedDevice, addr, method, endpoint string, body []byte) (*PeerResponse, error) {
	var resp *http.Response

	op := func() error {
		req, err := c.newSignedRequest(ctx, peer, addr, method, endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		if len(body) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err = c.http.Do(req)
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("orchestrator: request to %s failed: %w", addr, err)
	}
	return readPeerResponse(resp)
}

// DoStream sends a signed request with a streaming body. No retries: the
// body cannot be replayed.
func (c *Client) DoStream(ctx context.Context, peer *pairing.PairedDevice, addr, method, endpoint string, body io.Reader) (*PeerResponse, error) {
	req, err := c.newSignedRequest(ctx, peer, addr, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: request to %s failed: %w", addr, err)
	}
	return readPeerResponse(resp)
}

// Ping probes an agent without credentials. The ping endpoint is open, so
// this works against unpaired peers too.
func (c *Client) Ping(ctx context.Context, addr string, timeout time.Duration) (map[string]interface{}, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/api/ping", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	pr, err := readPeerResponse(resp)
	if err != nil {
		return nil, err
	}
	if pr.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("orchestrator: ping returned status %d", pr.StatusCode)
	}
	return pr.JSON, nil
}

func (c *Client) newSignedRequest(ctx context.Context, peer *pairing.PairedDevice, addr, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, "http://"+addr+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: bad request for %s: %w", endpoint, err)
	}

	ts := time.Now().UnixMilli()
	signature := crypto.SignHMAC(peer.SharedSecret, crypto.CanonicalRequest(method, endpoint, ts))
	req.Header.Set("X-Peer-Id", c.config.DeviceID)
	req.Header.Set("X-Peer-Signature", signature)
	req.Header.Set("X-Peer-Timestamp", fmt.Sprintf("%d", ts))
	return req, nil
}

func readPeerResponse(resp *http.Response) (*PeerResponse, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: reading response failed: %w", err)
	}

	pr := &PeerResponse{StatusCode: resp.StatusCode, Body: data}
	var obj map[string]interface{}
	if json.Unmarshal(data, &obj) == nil {
		pr.JSON = obj
	}
	return pr, nil
}
