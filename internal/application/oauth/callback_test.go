package oauth

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/ports"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/domain"
	domerrors "github.com/stripe-experiments/sync-data-stripe-app/internal/domain/errors"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/infrastructure/crypto"
)

func testGrant() *ports.TokenGrant {
	return &ports.TokenGrant{
		AccessToken:    "at_1",
		RefreshToken:   "rt_1",
		Scope:          "read_only",
		Livemode:       false,
		StripeUserID:   "acct_X",
		PublishableKey: "pk_test_1",
		ExpiresIn:      3600,
	}
}

func TestInstallIssuesStateAndAuthorizeURL(t *testing.T) {
	states := newFakeStateStore()
	install := NewInstall(states, "https://marketplace.stripe.com/oauth/v2/authorize", "https://app.example.com/oauth/callback", map[domain.Mode]string{
		domain.ModeTest: "CID_T",
		domain.ModeLive: "CID_L",
	})

	result, err := install.Execute(context.Background(), domain.ModeTest)
	require.NoError(t, err)

	u, err := url.Parse(result.AuthorizeURL)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.AuthorizeURL, "https://marketplace.stripe.com/oauth/v2/authorize?"))
	assert.Equal(t, "CID_T", u.Query().Get("client_id"))
	assert.Equal(t, "https://app.example.com/oauth/callback", u.Query().Get("redirect_uri"))

	nonce := u.Query().Get("state")
	require.NotEmpty(t, nonce)
	assert.Len(t, nonce, 64, "raw nonce is 32 random bytes hex-encoded")

	// Only the digest is stored.
	_, ok := states.states[nonce]
	assert.False(t, ok)
	stored, ok := states.states[crypto.Digest(nonce)]
	require.True(t, ok)
	assert.Equal(t, domain.ModeTest, stored.mode)
	assert.WithinDuration(t, time.Now().Add(domain.StateTTL), stored.expiresAt, 5*time.Second)
}

func TestInstallWithoutClientIDFails(t *testing.T) {
	install := NewInstall(newFakeStateStore(), "https://x", "https://y", map[domain.Mode]string{})
	_, err := install.Execute(context.Background(), domain.ModeLive)
	var misconfigured *MisconfiguredModeError
	assert.ErrorAs(t, err, &misconfigured)
}

func TestCallbackStateBranchStoresConnection(t *testing.T) {
	states := newFakeStateStore()
	conns := newFakeConnStore()
	exchanger := &fakeExchanger{grant: testGrant()}
	cipher := newTestCipher()

	nonce := "5ca1ab1e"
	require.NoError(t, states.Create(context.Background(), crypto.Digest(nonce), domain.ModeTest, time.Now().Add(domain.StateTTL)))

	cb := NewCallback(states, conns, exchanger, cipher)
	result, err := cb.Execute(context.Background(), CallbackInput{Code: "ac_1", State: nonce})
	require.NoError(t, err)
	assert.Equal(t, "acct_X", result.TenantID)
	assert.False(t, result.Livemode)
	assert.Equal(t, domain.ModeTest, exchanger.lastMode, "stored mode dictates the exchange credentials")

	conn, err := conns.Get(context.Background(), "acct_X", false)
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, "read_only", conn.Scope)
	assert.Equal(t, "pk_test_1", conn.PublishableKey)
	assert.WithinDuration(t, time.Now().Add(time.Hour), conn.AccessTokenExpiresAt, 5*time.Second)

	access, err := cipher.Decrypt(conn.AccessTokenCiphertext)
	require.NoError(t, err)
	assert.Equal(t, "at_1", string(access))
	refresh, err := cipher.Decrypt(conn.RefreshTokenCiphertext)
	require.NoError(t, err)
	assert.Equal(t, "rt_1", string(refresh))
}

func TestCallbackStateReplayIsRejected(t *testing.T) {
	states := newFakeStateStore()
	conns := newFakeConnStore()
	exchanger := &fakeExchanger{grant: testGrant()}
	cb := NewCallback(states, conns, exchanger, newTestCipher())

	nonce := "f00dfeed"
	require.NoError(t, states.Create(context.Background(), crypto.Digest(nonce), domain.ModeTest, time.Now().Add(domain.StateTTL)))

	_, err := cb.Execute(context.Background(), CallbackInput{Code: "ac_1", State: nonce})
	require.NoError(t, err)

	_, err = cb.Execute(context.Background(), CallbackInput{Code: "ac_1", State: nonce})
	assert.ErrorIs(t, err, domerrors.ErrInvalidState)
	assert.Equal(t, 1, exchanger.calls, "no exchange on a replayed state")
}

func TestCallbackExpiredStateIsRejected(t *testing.T) {
	states := newFakeStateStore()
	cb := NewCallback(states, newFakeConnStore(), &fakeExchanger{grant: testGrant()}, newTestCipher())

	nonce := "01dca7"
	require.NoError(t, states.Create(context.Background(), crypto.Digest(nonce), domain.ModeTest, time.Now().Add(-time.Minute)))

	_, err := cb.Execute(context.Background(), CallbackInput{Code: "ac_1", State: nonce})
	assert.ErrorIs(t, err, domerrors.ErrInvalidState)
}

func TestCallbackDirectInstallModeHeuristic(t *testing.T) {
	cases := []struct {
		hint string
		want domain.Mode
	}{
		{"acct_test_123", domain.ModeTest},
		{"TEST-sandbox", domain.ModeTest},
		{"acct_live_123", domain.ModeLive},
		{"", domain.ModeLive},
	}
	for _, tc := range cases {
		exchanger := &fakeExchanger{grant: testGrant()}
		cb := NewCallback(newFakeStateStore(), newFakeConnStore(), exchanger, newTestCipher())
		_, err := cb.Execute(context.Background(), CallbackInput{Code: "ac_1", AccountHint: tc.hint})
		require.NoError(t, err)
		assert.Equal(t, tc.want, exchanger.lastMode, "hint %q", tc.hint)
	}
}

func TestCallbackExchangeFailureStoresNothing(t *testing.T) {
	conns := newFakeConnStore()
	exchanger := &fakeExchanger{err: domerrors.ErrUpstreamAuth}
	cb := NewCallback(newFakeStateStore(), conns, exchanger, newTestCipher())

	_, err := cb.Execute(context.Background(), CallbackInput{Code: "ac_1", AccountHint: "acct_live"})
	assert.ErrorIs(t, err, domerrors.ErrUpstreamAuth)
	assert.Empty(t, conns.conns)
}

func TestDisconnect(t *testing.T) {
	conns := newFakeConnStore()
	require.NoError(t, conns.Upsert(context.Background(), &domain.Connection{TenantID: "acct_X", Livemode: true}))

	uc := NewDisconnect(conns)
	assert.ErrorIs(t, uc.Execute(context.Background(), "acct_X", false), domerrors.ErrNotConnected)
	assert.NoError(t, uc.Execute(context.Background(), "acct_X", true))
	conn, _ := conns.Get(context.Background(), "acct_X", true)
	assert.Nil(t, conn)
}
