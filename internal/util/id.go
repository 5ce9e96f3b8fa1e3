package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a short random hex token. Used to correlate requests in
// logs when the client did not supply an X-Request-Id.
func NewID() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
