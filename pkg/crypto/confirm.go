package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// ConfirmCode derives the 6-digit decimal confirmation code both devices
// display during pairing. The two public keys are ordered lexicographically
// so both sides compute the same code regardless of who initiated; a
// man-in-the-middle that substitutes either key changes the code on one side.
func ConfirmCode(pubA, pubB []byte) string {
	lo, hi := pubA, pubB
	if bytes.Compare(lo, hi) > 0 {
		lo, hi = hi, lo
	}

	h := sha256.New()
	h.Write(lo)
	h.Write([]byte("|"))
	h.Write(hi)
	digest := h.Sum(nil)

	code := binary.BigEndian.Uint32(digest[:4]) % 1000000
	return fmt.Sprintf("%06d", code)
}
