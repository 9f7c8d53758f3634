package oauth

import (
	"context"
	"strings"
	"time"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/ports"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/domain"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/infrastructure/crypto"
)

// CallbackInput is what the platform sends back after authorization.
type CallbackInput struct {
	Code string
	// State is present on flows we initiated; empty on platform-initiated
	// direct installs.
	State string
	// AccountHint is the platform's account identifier hint on direct
	// installs, used only to pick a credential mode.
	AccountHint string
}

// CallbackResult identifies the stored connection.
type CallbackResult struct {
	TenantID string
	Livemode bool
	Scope    string
}

// Callback consumes the state nonce (or applies the direct-install mode
// heuristic), exchanges the authorization code, and stores the first token
// pair encrypted.
type Callback struct {
	states    ports.StateStore
	conns     ports.ConnectionStore
	exchanger ports.TokenExchanger
	cipher    ports.SecretCipher
}

func NewCallback(states ports.StateStore, conns ports.ConnectionStore, exchanger ports.TokenExchanger, cipher ports.SecretCipher) *Callback {
	return &Callback{states: states, conns: conns, exchanger: exchanger, cipher: cipher}
}

func (uc *Callback) Execute(ctx context.Context, input CallbackInput) (*CallbackResult, error) {
	mode, err := uc.resolveMode(ctx, input)
	if err != nil {
		return nil, err
	}
	grant, err := uc.exchanger.ExchangeCode(ctx, input.Code, mode)
	if err != nil {
		return nil, err
	}
	accessCT, err := uc.cipher.Encrypt([]byte(grant.AccessToken))
	if err != nil {
		return nil, err
	}
	refreshCT, err := uc.cipher.Encrypt([]byte(grant.RefreshToken))
	if err != nil {
		return nil, err
	}
	conn := &domain.Connection{
		TenantID:               grant.StripeUserID,
		Livemode:               grant.Livemode,
		Scope:                  grant.Scope,
		PublishableKey:         grant.PublishableKey,
		AccessTokenCiphertext:  accessCT,
		AccessTokenExpiresAt:   time.Now().Add(time.Duration(grant.ExpiresIn) * time.Second),
		RefreshTokenCiphertext: refreshCT,
	}
	if err := uc.conns.Upsert(ctx, conn); err != nil {
		return nil, err
	}
	return &CallbackResult{
		TenantID: grant.StripeUserID,
		Livemode: grant.Livemode,
		Scope:    grant.Scope,
	}, nil
}

func (uc *Callback) resolveMode(ctx context.Context, input CallbackInput) (domain.Mode, error) {
	if input.State != "" {
		// State branch: atomic single-use consumption; the stored mode
		// dictates which credentials exchange the code.
		return uc.states.Consume(ctx, crypto.Digest(input.State))
	}
	// Direct-install branch: the platform initiated the handoff without our
	// state. Mode comes from a substring heuristic on the account hint.
	if strings.Contains(strings.ToLower(input.AccountHint), "test") {
		return domain.ModeTest, nil
	}
	return domain.ModeLive, nil
}
