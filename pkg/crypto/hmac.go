package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// SignHMAC computes the HMAC-SHA256 of a message under the given secret and
// returns it as a lowercase hex string, the encoding used in the
// X-Peer-Signature header and the transfer frame signature field.
func SignHMAC(secret, message []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(message)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyHMAC checks a lowercase hex signature against the expected
// HMAC-SHA256 of message. The comparison is constant time.
func VerifyHMAC(secret, message []byte, signature string) bool {
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, secret)
	h.Write(message)
	return hmac.Equal(sig, h.Sum(nil))
}

// CanonicalRequest builds the message a peer signs for an HTTP request:
// METHOD|uri|timestamp, where uri is the exact path-and-query as sent.
func CanonicalRequest(method, uri string, timestampMillis int64) []byte {
	return []byte(fmt.Sprintf("%s|%s|%d", method, uri, timestampMillis))
}

// CanonicalTransfer builds the message a peer signs for a transfer frame:
// op|path|timestamp.
func CanonicalTransfer(op, path string, timestampMillis int64) []byte {
	return []byte(fmt.Sprintf("%s|%s|%d", op, path, timestampMillis))
}
