// Package transfer implements the bulk binary channel: a framed TCP
// protocol on its own port for push/pull/stat of large files, with
// streaming SHA-256 integrity on both directions.
package transfer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Frame geometry. The header is a JSON object padded with NUL bytes to a
// fixed 512-byte frame; the payload trailer is a raw SHA-256 digest.
const (
	HeaderSize = 512
	HashSize   = 32

	// BufferSize is the copy-loop chunk size and the socket buffer size.
	BufferSize = 256 * 1024
)

// Header is the JSON frame exchanged on the transfer channel. Requests
// carry op/path/auth; responses carry status and result fields.
type Header struct {
	Op   string `json:"op,omitempty"`
	Path string `json:"path,omitempty"`
	Size int64  `json:"size,omitempty"`

	// Auth fields, request direction only.
	Token     string `json:"token,omitempty"`
	PeerID    string `json:"peer_id,omitempty"`
	Signature string `json:"signature,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`

	// Response fields.
	Status       string `json:"status,omitempty"`
	Error        string `json:"error,omitempty"`
	Hash         string `json:"hash,omitempty"` // lowercase hex SHA-256
	BytesWritten int64  `json:"bytes_written,omitempty"`

	// Stat response fields.
	Exists   bool  `json:"exists,omitempty"`
	IsDir    bool  `json:"is_dir,omitempty"`
	Modified int64 `json:"modified,omitempty"` // epoch milliseconds
}

// EncodeHeader renders h as a NUL-padded 512-byte frame.
func EncodeHeader(h *Header) ([]byte, error) {
	data, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("transfer: header encode failed: %w", err)
	}
	if len(data) > HeaderSize {
		return nil, ErrHeaderTooLarge
	}
	frame := make([]byte, HeaderSize)
	copy(frame, data)
	return frame, nil
}

// DecodeHeader parses a 512-byte frame.
func DecodeHeader(frame []byte) (*Header, error) {
	if len(frame) != HeaderSize {
		return nil, ErrBadFrame
	}
	data := bytes.TrimRight(frame, "\x00")
	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("transfer: header decode failed: %w", err)
	}
	return &h, nil
}

// writeFrame sends one header frame.
func writeFrame(w io.Writer, h *Header) error {
	frame, err := EncodeHeader(h)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// readFrame receives one header frame.
func readFrame(r io.Reader) (*Header, error) {
	frame := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, fmt.Errorf("transfer: reading header failed: %w", err)
	}
	return DecodeHeader(frame)
}

// zeroHash reports whether the trailer is all zero, the client's way of
// saying it did not compute a hash.
func zeroHash(digest []byte) bool {
	for _, b := range digest {
		if b != 0 {
			return false
		}
	}
	return true
}
