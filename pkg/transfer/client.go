package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/adbtoolkit/agent/pkg/crypto"
)

// Client speaks the transfer protocol against a remote agent. Either Token
// (controller auth) or PeerID+Secret (peer HMAC auth) must be set unless
// the remote accepts unauthenticated loopback callers.
type Client struct {
	// Addr is the remote host:port.
	Addr string

	// Token is the controller token, if used.
	Token string

	// PeerID and Secret enable peer HMAC auth. PeerID is the LOCAL
	// device id; Secret is the pairing's shared secret.
	PeerID string
	Secret []byte

	// Timeout bounds the dial and each frame exchange. Zero means no
	// deadline.
	Timeout time.Duration
}

// PushResult reports a completed push.
type PushResult struct {
	Status       string
	BytesWritten int64
	LocalHash    string
	ServerHash   string
}

// PullResult reports a completed pull.
type PullResult struct {
	BytesRead  int64
	LocalHash  string
	RemoteHash string
	HashMatch  bool
}

// Push streams size bytes from r into the remote path, sending the local
// SHA-256 as the trailer.
func (c *Client) Push(ctx context.Context, remotePath string, r io.Reader, size int64) (*PushResult, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := writeFrame(conn, c.authedHeader("push", remotePath, size)); err != nil {
		return nil, err
	}

	sha := sha256.New()
	buf := make([]byte, BufferSize)
	n, err := io.CopyBuffer(io.MultiWriter(conn, sha), io.LimitReader(r, size), buf)
	if err != nil {
		return nil, fmt.Errorf("transfer: push stream failed after %d bytes: %w", n, err)
	}
	if n != size {
		return nil, fmt.Errorf("transfer: short push: %d of %d bytes", n, size)
	}
	localHash := sha.Sum(nil)
	if _, err := conn.Write(localHash); err != nil {
		return nil, fmt.Errorf("transfer: sending hash trailer failed: %w", err)
	}

	resp, err := readFrame(conn)
	if err != nil {
		return nil, err
	}
	if resp.Status == "error" {
		return nil, fmt.Errorf("%w: %s", ErrRejected, resp.Error)
	}
	return &PushResult{
		Status:       resp.Status,
		BytesWritten: resp.BytesWritten,
		LocalHash:    hex.EncodeToString(localHash),
		ServerHash:   resp.Hash,
	}, nil
}

// Pull streams the remote path into w, verifying the server's hash trailer
// against a locally computed one.
func (c *Client) Pull(ctx context.Context, remotePath string, w io.Writer) (*PullResult, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := writeFrame(conn, c.authedHeader("pull", remotePath, 0)); err != nil {
		return nil, err
	}

	resp, err := readFrame(conn)
	if err != nil {
		return nil, err
	}
	if resp.Status == "error" {
		return nil, fmt.Errorf("%w: %s", ErrRejected, resp.Error)
	}

	sha := sha256.New()
	buf := make([]byte, BufferSize)
	n, err := io.CopyBuffer(io.MultiWriter(w, sha), io.LimitReader(conn, resp.Size), buf)
	if err != nil {
		return nil, fmt.Errorf("transfer: pull stream failed after %d bytes: %w", n, err)
	}

	trailer := make([]byte, HashSize)
	if _, err := io.ReadFull(conn, trailer); err != nil {
		return nil, fmt.Errorf("transfer: reading hash trailer failed: %w", err)
	}

	localHash := hex.EncodeToString(sha.Sum(nil))
	remoteHash := hex.EncodeToString(trailer)
	return &PullResult{
		BytesRead:  n,
		LocalHash:  localHash,
		RemoteHash: remoteHash,
		HashMatch:  localHash == remoteHash,
	}, nil
}

// Stat queries the remote path. No payload follows the response frame.
func (c *Client) Stat(ctx context.Context, remotePath string) (*Header, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := writeFrame(conn, c.authedHeader("stat", remotePath, 0)); err != nil {
		return nil, err
	}
	resp, err := readFrame(conn)
	if err != nil {
		return nil, err
	}
	if resp.Status == "error" {
		return nil, fmt.Errorf("%w: %s", ErrRejected, resp.Error)
	}
	return resp, nil
}

// authedHeader builds the request frame with whichever credentials the
// client holds. Peer HMAC signs op|path|timestamp.
func (c *Client) authedHeader(op, path string, size int64) *Header {
	h := &Header{Op: op, Path: path, Size: size, Token: c.Token}
	if len(c.Secret) > 0 && c.PeerID != "" {
		ts := time.Now().UnixMilli()
		h.PeerID = c.PeerID
		h.Signature = crypto.SignHMAC(c.Secret, crypto.CanonicalTransfer(op, path, ts))
		h.Timestamp = strconv.FormatInt(ts, 10)
	}
	return h
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.Timeout}
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("transfer: dial %s failed: %w", c.Addr, err)
	}
	if c.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(c.Timeout))
	}
	tuneConn(conn)
	return conn, nil
}
