package ports

import (
	"context"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/domain"
)

// TokenGrant is a successful response from the platform token endpoint.
type TokenGrant struct {
	AccessToken    string
	RefreshToken   string
	Scope          string
	Livemode       bool
	StripeUserID   string
	PublishableKey string
	ExpiresIn      int64 // seconds; defaulted to 3600 when upstream omits it
}

// TokenExchanger talks to the platform's OAuth token endpoint.
type TokenExchanger interface {
	ExchangeCode(ctx context.Context, code string, mode domain.Mode) (*TokenGrant, error)
	Refresh(ctx context.Context, refreshToken string, mode domain.Mode) (*TokenGrant, error)
}

// SecretCipher is the authenticated-encryption contract for short secrets.
// The envelope format is shared between the online backend and the sweeper.
type SecretCipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(blob []byte) ([]byte, error)
}

// AccessTokenSource returns a currently-valid plaintext access token for a
// tenant, refreshing with rotation when the stored one is near expiry.
type AccessTokenSource interface {
	FreshAccessToken(ctx context.Context, tenantID string, livemode bool) (string, error)
}
