package verify

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// TokenBytes is the amount of entropy in a challenge token. Tokens are
// rendered as lowercase hex, so they are twice as many characters long.
const TokenBytes = 16

// Challenge is a pending proof-of-control request. It is replaced wholesale
// on reissue and removed once consumed or expired, never edited in place.
type Challenge struct {
	ID        string `json:"id"`        // UUIDv7 of this issuance, for logs
	AgentID   string `json:"agentId"`   // Decimal agent identifier
	Domain    string `json:"domain"`    // Domain the owner claims
	Method    Method `json:"method"`    // How the proof is published
	Token     string `json:"token"`     // 32 lowercase hex characters
	CreatedAt int64  `json:"createdAt"` // Issuance time in milliseconds since the epoch
}

// IssuedAt returns CreatedAt as a time.Time.
func (c *Challenge) IssuedAt() time.Time {
	return time.UnixMilli(c.CreatedAt)
}

// Expired reports whether more than window has passed between issuance and now.
func (c *Challenge) Expired(now time.Time, window time.Duration) bool {
	return now.Sub(c.IssuedAt()) > window
}

// NewToken returns TokenBytes of crypto/rand entropy as lowercase hex.
func NewToken() (string, error) {
	buf := make([]byte, TokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("verify: can't read random bytes: %w", err)
	}

	return hex.EncodeToString(buf), nil
}

func storeKey(agentID string, method Method) string {
	return agentID + ":" + string(method)
}
