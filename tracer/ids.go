package tracer

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// newTraceID returns a 128-bit hex-encoded trace identifier.
func newTraceID() string {
	return randomHex(16)
}

// newSpanID returns a 64-bit hex-encoded span identifier.
func newSpanID() string {
	return randomHex(8)
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// Fall back to a time-based ID if crypto/rand fails.
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(b)
}

// NewConversationID returns a fresh identifier for correlating all spans of
// one logical conversation, carried in the AttrConversationID attribute.
func NewConversationID() string {
	return uuid.NewString()
}
