package oauth

import (
	"context"
	"net/url"
	"time"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/ports"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/domain"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/infrastructure/crypto"
)

const stateNonceBytes = 32

// InstallResult is the redirect target for the authorize handoff.
type InstallResult struct {
	AuthorizeURL string
}

// Install issues a single-use CSRF state nonce and builds the platform
// authorize URL. Only the SHA-256 digest of the nonce is stored; the raw
// value travels in the redirect and is never logged.
type Install struct {
	states       ports.StateStore
	authorizeURL string
	redirectURL  string
	clientIDs    map[domain.Mode]string
}

func NewInstall(states ports.StateStore, authorizeURL, redirectURL string, clientIDs map[domain.Mode]string) *Install {
	return &Install{
		states:       states,
		authorizeURL: authorizeURL,
		redirectURL:  redirectURL,
		clientIDs:    clientIDs,
	}
}

func (uc *Install) Execute(ctx context.Context, mode domain.Mode) (*InstallResult, error) {
	clientID := uc.clientIDs[mode]
	if clientID == "" {
		return nil, &MisconfiguredModeError{Mode: mode}
	}
	nonce, err := crypto.RandomToken(stateNonceBytes)
	if err != nil {
		return nil, err
	}
	expiresAt := time.Now().Add(domain.StateTTL)
	if err := uc.states.Create(ctx, crypto.Digest(nonce), mode, expiresAt); err != nil {
		return nil, err
	}

	u, err := url.Parse(uc.authorizeURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("client_id", clientID)
	q.Set("redirect_uri", uc.redirectURL)
	q.Set("state", nonce)
	u.RawQuery = q.Encode()
	return &InstallResult{AuthorizeURL: u.String()}, nil
}

// MisconfiguredModeError means no client id is configured for the mode.
type MisconfiguredModeError struct {
	Mode domain.Mode
}

func (e *MisconfiguredModeError) Error() string {
	return "no app client id configured for " + e.Mode.String() + " mode"
}
