package domain

import "time"

// Connection holds the encrypted OAuth tokens for one (tenant, livemode) pair.
// Token fields are ciphertext envelopes; plaintext only ever exists in memory
// around an outbound call.
type Connection struct {
	TenantID              string
	Livemode              bool
	Scope                 string
	PublishableKey        string // may be empty; stored as NULL
	AccessTokenCiphertext []byte
	AccessTokenExpiresAt  time.Time
	RefreshTokenCiphertext []byte
	RefreshTokenRotatedAt time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Mode returns the credential mode the connection was made under.
func (c *Connection) Mode() Mode {
	return ModeFromLivemode(c.Livemode)
}
