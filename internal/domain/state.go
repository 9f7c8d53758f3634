package domain

import "time"

// StateTTL is how long an issued OAuth state nonce stays consumable.
const StateTTL = 10 * time.Minute

// OAuthState is the stored half of a CSRF state nonce. Only the SHA-256
// digest of the raw value is persisted; the raw value travels in the
// authorize redirect and comes back on the callback.
type OAuthState struct {
	StateHash string
	Mode      Mode
	ExpiresAt time.Time
	CreatedAt time.Time
}
