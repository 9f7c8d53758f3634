package syncinstaller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/ports"
	domerrors "github.com/stripe-experiments/sync-data-stripe-app/internal/domain/errors"
)

// Installer installs the sync artifacts (webhook endpoint for event delivery)
// on a connected tenant by calling the platform API directly with the
// tenant's access token. The API version is an explicit option here rather
// than anything patched into a client library: the webhook it creates must
// pin a version the sync pipeline understands.
type Installer struct {
	apiURL      string
	apiVersion  string
	webhookURL  string
	maxAttempts int
	http        *http.Client
	log         zerolog.Logger
}

// Config for the installer adapter.
type Config struct {
	// APIURL defaults to the live platform API.
	APIURL string
	// APIVersion is sent as Stripe-Version on every call and pinned on the
	// created webhook endpoint.
	APIVersion string
	// WebhookURL is where tenant events are delivered.
	WebhookURL string
	// MaxAttempts bounds internal retries on transient errors. The FSM calls
	// Install at most once per tick regardless.
	MaxAttempts int
}

func New(cfg Config, log zerolog.Logger) *Installer {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.stripe.com"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Installer{
		apiURL:      cfg.APIURL,
		apiVersion:  cfg.APIVersion,
		webhookURL:  cfg.WebhookURL,
		maxAttempts: cfg.MaxAttempts,
		http:        &http.Client{Timeout: 30 * time.Second},
		log:         log,
	}
}

// Install creates the webhook endpoint on the connected tenant. Transient
// failures back off exponentially (5 s, 10 s, ...) up to maxAttempts; auth
// failures abort immediately.
func (i *Installer) Install(ctx context.Context, accessToken string) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 80 * time.Second
	bo.RandomizationFactor = 0

	op := func() error {
		err := i.createWebhookEndpoint(ctx, accessToken)
		if err == nil {
			return nil
		}
		if errors.Is(err, domerrors.ErrUpstreamAuth) {
			return backoff.Permanent(err)
		}
		i.log.Warn().Err(err).Msg("sync install attempt failed; backing off")
		return err
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(i.maxAttempts-1)), ctx))
}

func (i *Installer) createWebhookEndpoint(ctx context.Context, accessToken string) error {
	form := url.Values{}
	form.Set("url", i.webhookURL)
	form.Set("enabled_events[]", "*")
	if i.apiVersion != "" {
		form.Set("api_version", i.apiVersion)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.apiURL+"/v1/webhook_endpoints", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if i.apiVersion != "" {
		req.Header.Set("Stripe-Version", i.apiVersion)
	}
	resp, err := i.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domerrors.ErrUpstreamTransient, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", domerrors.ErrUpstreamAuth, resp.StatusCode)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", domerrors.ErrUpstreamTransient, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", domerrors.ErrUpstreamMalformed, resp.StatusCode)
	}
}

var _ ports.SyncInstaller = (*Installer)(nil)
