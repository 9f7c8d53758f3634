package errors

import "errors"

// Sentinel errors for handlers to map to HTTP status.
var (
	// OAuth flow
	ErrInvalidState  = errors.New("invalid or expired oauth state")
	ErrNotConnected  = errors.New("no oauth connection for this account")
	ErrModeMismatch  = errors.New("account is connected in a different mode")
	ErrRefreshFailed = errors.New("token refresh failed")

	// Request signature
	ErrMissingHeader      = errors.New("missing signature header")
	ErrMissingIdentifiers = errors.New("missing user_id or account_id")
	ErrInvalidSignature   = errors.New("invalid request signature")
	ErrMisconfigured      = errors.New("no signing secret configured")

	// Upstream (Stripe token endpoint, Supabase control plane, installer)
	ErrUpstreamAuth      = errors.New("upstream rejected credentials")
	ErrUpstreamTransient = errors.New("upstream temporarily unavailable")
	ErrUpstreamMalformed = errors.New("upstream returned a malformed response")

	// Crypto: one kind, no detail.
	ErrCorrupt = errors.New("corrupt ciphertext")

	// Provisioning
	ErrNotProvisioned = errors.New("no provisioned database for this account")
	ErrLockBusy       = errors.New("another operation holds the tenant lock")
)
