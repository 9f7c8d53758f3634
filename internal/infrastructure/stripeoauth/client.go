package stripeoauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/ports"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/domain"
	domerrors "github.com/stripe-experiments/sync-data-stripe-app/internal/domain/errors"
)

// DefaultTokenURL is Stripe's OAuth token endpoint.
const DefaultTokenURL = "https://api.stripe.com/v1/oauth/token"

// DefaultAccessTokenExpiry applies when upstream omits expires_in.
const DefaultAccessTokenExpiry = 3600

// Credentials is one mode's secret key.
type Credentials struct {
	SecretKey string
	ClientID  string
}

// Client exchanges and refreshes OAuth tokens against the platform token
// endpoint. Authentication is HTTP Basic with the per-mode secret key as
// username and an empty password.
type Client struct {
	tokenURL string
	creds    map[domain.Mode]Credentials
	http     *http.Client
	log      zerolog.Logger
}

func NewClient(tokenURL string, creds map[domain.Mode]Credentials, log zerolog.Logger) *Client {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &Client{
		tokenURL: tokenURL,
		creds:    creds,
		http:     &http.Client{Timeout: 15 * time.Second},
		log:      log,
	}
}

// tokenResponse is the union of the success and error envelopes.
type tokenResponse struct {
	AccessToken          string `json:"access_token"`
	RefreshToken         string `json:"refresh_token"`
	TokenType            string `json:"token_type"`
	Scope                string `json:"scope"`
	Livemode             bool   `json:"livemode"`
	StripeUserID         string `json:"stripe_user_id"`
	StripePublishableKey string `json:"stripe_publishable_key"`
	ExpiresIn            int64  `json:"expires_in"`
	Error                string `json:"error"`
	ErrorDescription     string `json:"error_description"`
}

func (c *Client) ExchangeCode(ctx context.Context, code string, mode domain.Mode) (*ports.TokenGrant, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	return c.post(ctx, form, mode)
}

func (c *Client) Refresh(ctx context.Context, refreshToken string, mode domain.Mode) (*ports.TokenGrant, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.post(ctx, form, mode)
}

func (c *Client) post(ctx context.Context, form url.Values, mode domain.Mode) (*ports.TokenGrant, error) {
	creds, ok := c.creds[mode]
	if !ok || creds.SecretKey == "" {
		return nil, fmt.Errorf("%w: no %s-mode credentials configured", domerrors.ErrUpstreamAuth, mode)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(creds.SecretKey, "")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domerrors.ErrUpstreamTransient, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domerrors.ErrUpstreamTransient, err)
	}
	requestID := resp.Header.Get("Request-Id")

	var tr tokenResponse
	if len(body) > 0 {
		// Upstream 500s sometimes carry "{}" or garbage. A decode failure is
		// classified below, not surfaced raw.
		_ = json.Unmarshal(body, &tr)
	}
	return c.classify(resp.StatusCode, requestID, mode, &tr)
}

// classify treats the response as an error if the error envelope is present
// or any of access_token, refresh_token, stripe_user_id is missing. A 500
// with an empty body is a failure, never a silent success.
func (c *Client) classify(status int, requestID string, mode domain.Mode, tr *tokenResponse) (*ports.TokenGrant, error) {
	logEvent := func(kind string) *zerolog.Event {
		// Only structural flags and the upstream request id; never tokens,
		// codes, or bodies.
		return c.log.Warn().
			Str("kind", kind).
			Str("mode", mode.String()).
			Str("upstream_request_id", requestID).
			Int("status", status)
	}
	switch {
	case tr.Error != "":
		if status == http.StatusUnauthorized || status == http.StatusForbidden || tr.Error == "invalid_client" || tr.Error == "invalid_grant" {
			logEvent("upstream_auth").Str("error_code", tr.Error).Msg("token endpoint rejected request")
			return nil, fmt.Errorf("%w: %s", domerrors.ErrUpstreamAuth, tr.Error)
		}
		logEvent("upstream_error").Str("error_code", tr.Error).Msg("token endpoint returned error envelope")
		return nil, fmt.Errorf("%w: %s", domerrors.ErrUpstreamMalformed, tr.Error)
	case status >= 500:
		logEvent("upstream_transient").Msg("token endpoint unavailable")
		return nil, fmt.Errorf("%w: status %d", domerrors.ErrUpstreamTransient, status)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		logEvent("upstream_auth").Msg("token endpoint rejected credentials")
		return nil, fmt.Errorf("%w: status %d", domerrors.ErrUpstreamAuth, status)
	case tr.AccessToken == "" || tr.RefreshToken == "" || tr.StripeUserID == "":
		logEvent("upstream_malformed").
			Bool("has_access_token", tr.AccessToken != "").
			Bool("has_refresh_token", tr.RefreshToken != "").
			Bool("has_stripe_user_id", tr.StripeUserID != "").
			Msg("token endpoint response incomplete")
		return nil, fmt.Errorf("%w: incomplete grant", domerrors.ErrUpstreamMalformed)
	}
	expiresIn := tr.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = DefaultAccessTokenExpiry
	}
	return &ports.TokenGrant{
		AccessToken:    tr.AccessToken,
		RefreshToken:   tr.RefreshToken,
		Scope:          tr.Scope,
		Livemode:       tr.Livemode,
		StripeUserID:   tr.StripeUserID,
		PublishableKey: tr.StripePublishableKey,
		ExpiresIn:      expiresIn,
	}, nil
}

var _ ports.TokenExchanger = (*Client)(nil)
