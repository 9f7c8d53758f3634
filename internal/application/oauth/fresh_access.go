package oauth

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/ports"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/domain"
	domerrors "github.com/stripe-experiments/sync-data-stripe-app/internal/domain/errors"
)

// ExpirySkew keeps us from handing out tokens that would expire mid-call.
const ExpirySkew = 5 * time.Minute

// FreshAccess returns a currently-valid access token for a tenant, refreshing
// with rotation when the stored one is near expiry. The rotated refresh
// ciphertext is persisted before the new access token reaches any caller.
type FreshAccess struct {
	conns     ports.ConnectionStore
	exchanger ports.TokenExchanger
	cipher    ports.SecretCipher
	now       func() time.Time
}

func NewFreshAccess(conns ports.ConnectionStore, exchanger ports.TokenExchanger, cipher ports.SecretCipher) *FreshAccess {
	return &FreshAccess{conns: conns, exchanger: exchanger, cipher: cipher, now: time.Now}
}

func (uc *FreshAccess) FreshAccessToken(ctx context.Context, tenantID string, livemode bool) (string, error) {
	conn, err := uc.conns.Get(ctx, tenantID, livemode)
	if err != nil {
		return "", err
	}
	if conn == nil {
		return "", domerrors.ErrNotConnected
	}
	if conn.AccessTokenExpiresAt.After(uc.now().Add(ExpirySkew)) {
		access, err := uc.cipher.Decrypt(conn.AccessTokenCiphertext)
		if err != nil {
			return "", err
		}
		return string(access), nil
	}

	// Near expiry: refresh with rotation. Any failure in here leaves the
	// stored row untouched.
	refreshPlain, err := uc.cipher.Decrypt(conn.RefreshTokenCiphertext)
	if err != nil {
		return "", err
	}
	grant, err := uc.exchanger.Refresh(ctx, string(refreshPlain), domain.ModeFromLivemode(livemode))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domerrors.ErrRefreshFailed, err)
	}
	accessCT, err := uc.cipher.Encrypt([]byte(grant.AccessToken))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domerrors.ErrRefreshFailed, err)
	}
	refreshCT, err := uc.cipher.Encrypt([]byte(grant.RefreshToken))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domerrors.ErrRefreshFailed, err)
	}
	expiresAt := uc.now().Add(time.Duration(grant.ExpiresIn) * time.Second)
	// The platform already invalidated the old refresh token. Persist the
	// rotated pair before anyone sees the new access token.
	if err := uc.conns.UpdateRotatedTokens(ctx, tenantID, livemode, accessCT, expiresAt, refreshCT); err != nil {
		return "", fmt.Errorf("%w: persisting rotated tokens: %v", domerrors.ErrRefreshFailed, err)
	}
	return grant.AccessToken, nil
}

var _ ports.AccessTokenSource = (*FreshAccess)(nil)
