package oauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/ports"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/domain"
	domerrors "github.com/stripe-experiments/sync-data-stripe-app/internal/domain/errors"
)

func seedConnection(t *testing.T, conns *fakeConnStore, expiresAt time.Time) {
	t.Helper()
	cipher := newTestCipher()
	accessCT, err := cipher.Encrypt([]byte("at_old"))
	require.NoError(t, err)
	refreshCT, err := cipher.Encrypt([]byte("rt_old"))
	require.NoError(t, err)
	require.NoError(t, conns.Upsert(context.Background(), &domain.Connection{
		TenantID:               "acct_X",
		Livemode:               false,
		AccessTokenCiphertext:  accessCT,
		AccessTokenExpiresAt:   expiresAt,
		RefreshTokenCiphertext: refreshCT,
	}))
}

func TestFreshAccessReturnsStoredTokenWhenNotNearExpiry(t *testing.T) {
	conns := newFakeConnStore()
	seedConnection(t, conns, time.Now().Add(time.Hour))
	exchanger := &fakeExchanger{}

	uc := NewFreshAccess(conns, exchanger, newTestCipher())
	token, err := uc.FreshAccessToken(context.Background(), "acct_X", false)
	require.NoError(t, err)
	assert.Equal(t, "at_old", token)
	assert.Zero(t, exchanger.calls, "no refresh inside the skew window")
}

func TestFreshAccessMissingConnection(t *testing.T) {
	uc := NewFreshAccess(newFakeConnStore(), &fakeExchanger{}, newTestCipher())
	_, err := uc.FreshAccessToken(context.Background(), "acct_missing", false)
	assert.ErrorIs(t, err, domerrors.ErrNotConnected)
}

func TestFreshAccessRefreshesNearExpiry(t *testing.T) {
	conns := newFakeConnStore()
	seedConnection(t, conns, time.Now().Add(2*time.Minute))
	cipher := newTestCipher()
	exchanger := &fakeExchanger{grant: &ports.TokenGrant{
		AccessToken:  "at_new",
		RefreshToken: "rt_new",
		StripeUserID: "acct_X",
		ExpiresIn:    3600,
	}}

	uc := NewFreshAccess(conns, exchanger, cipher)
	token, err := uc.FreshAccessToken(context.Background(), "acct_X", false)
	require.NoError(t, err)
	assert.Equal(t, "at_new", token)
	assert.Equal(t, "rt_old", exchanger.lastToken, "refresh used the stored refresh token")

	// Refresh atomicity: the stored pair is the new one and rotated_at moved.
	conn, err := conns.Get(context.Background(), "acct_X", false)
	require.NoError(t, err)
	access, err := cipher.Decrypt(conn.AccessTokenCiphertext)
	require.NoError(t, err)
	assert.Equal(t, "at_new", string(access))
	refresh, err := cipher.Decrypt(conn.RefreshTokenCiphertext)
	require.NoError(t, err)
	assert.Equal(t, "rt_new", string(refresh))
	assert.WithinDuration(t, time.Now().Add(time.Hour), conn.AccessTokenExpiresAt, 5*time.Second)
	assert.Equal(t, 1, conns.updateCalls)
}

func TestFreshAccessUpstreamFailureLeavesRowUntouched(t *testing.T) {
	conns := newFakeConnStore()
	seedConnection(t, conns, time.Now().Add(2*time.Minute))
	cipher := newTestCipher()
	exchanger := &fakeExchanger{err: domerrors.ErrUpstreamTransient}

	uc := NewFreshAccess(conns, exchanger, cipher)
	_, err := uc.FreshAccessToken(context.Background(), "acct_X", false)
	assert.ErrorIs(t, err, domerrors.ErrRefreshFailed)

	conn, err := conns.Get(context.Background(), "acct_X", false)
	require.NoError(t, err)
	refresh, err := cipher.Decrypt(conn.RefreshTokenCiphertext)
	require.NoError(t, err)
	assert.Equal(t, "rt_old", string(refresh))
	assert.Zero(t, conns.updateCalls)
}

func TestFreshAccessPersistFailureDoesNotHandOutToken(t *testing.T) {
	conns := newFakeConnStore()
	seedConnection(t, conns, time.Now().Add(2*time.Minute))
	conns.updateErr = errors.New("connection reset")
	exchanger := &fakeExchanger{grant: &ports.TokenGrant{
		AccessToken:  "at_new",
		RefreshToken: "rt_new",
		StripeUserID: "acct_X",
		ExpiresIn:    3600,
	}}

	uc := NewFreshAccess(conns, exchanger, newTestCipher())
	token, err := uc.FreshAccessToken(context.Background(), "acct_X", false)
	assert.ErrorIs(t, err, domerrors.ErrRefreshFailed)
	assert.Empty(t, token, "rotated refresh ciphertext must persist before any caller sees the access token")
}
