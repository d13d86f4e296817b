// Package util provides utility functions for the LeadPipe application.
package util

import (
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Uses math/rand; not for cryptographic purposes.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.Intn(16)])
	}

	return builder.String()
}

// GenerateMessageID generates a unique client-side message ID with "m_" prefix.
func GenerateMessageID() string {
	return GenerateRandomID("m_", 32)
}

// GenerateSessionID generates a unique session ID with "s_" prefix.
// Session IDs appear in logs across process restarts, so they use UUIDs
// rather than the seeded hex generator.
func GenerateSessionID() string {
	return "s_" + uuid.NewString()
}

// RandomDelayBetween returns a uniformly distributed duration in [min, max].
// If max <= min, min is returned unchanged.
func RandomDelayBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min) + 1))
}
