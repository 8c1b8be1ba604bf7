package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewToken returns an opaque random credential (auth_id, OAuth state).
func NewToken() string {
	bytes := make([]byte, 32)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
