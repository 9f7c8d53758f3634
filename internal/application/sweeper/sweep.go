package sweeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/ports"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/domain"
	domerrors "github.com/stripe-experiments/sync-data-stripe-app/internal/domain/errors"
)

const (
	// DefaultBatchLimit caps how many rows one sweep touches.
	DefaultBatchLimit = 200
	// DefaultExpiryWindow selects tokens expiring within the window. The
	// window exceeds the 30-minute schedule so no token falls between runs.
	DefaultExpiryWindow = 35 * time.Minute
	// DefaultConcurrency bounds parallel refreshes per run.
	DefaultConcurrency = 5
)

// Options for one sweep run.
type Options struct {
	// ForceAll refreshes every stored connection regardless of expiry.
	ForceAll bool
	// DryRun logs intended actions without calling upstream or writing back.
	DryRun bool
}

// Failure is one redacted entry in the sweep summary: enough to find the
// tenant, nothing that identifies it outright.
type Failure struct {
	TenantSuffix string `json:"tenant_suffix"`
	Livemode     bool   `json:"livemode"`
	Kind         string `json:"kind"`
}

// Summary of a sweep run.
type Summary struct {
	Total     int       `json:"total"`
	Refreshed int       `json:"refreshed"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Failures  []Failure `json:"failures,omitempty"`
}

// Sweeper bulk-refreshes connections nearing access-token expiry. It shares
// the AEAD envelope with the online backend, so ciphertexts it writes are
// readable by both sides.
type Sweeper struct {
	conns        ports.ConnectionStore
	exchanger    ports.TokenExchanger
	cipher       ports.SecretCipher
	batchLimit   int
	expiryWindow time.Duration
	concurrency  int
	now          func() time.Time
	log          zerolog.Logger
}

func New(conns ports.ConnectionStore, exchanger ports.TokenExchanger, cipher ports.SecretCipher, batchLimit int, expiryWindow time.Duration, concurrency int, log zerolog.Logger) *Sweeper {
	if batchLimit <= 0 {
		batchLimit = DefaultBatchLimit
	}
	if expiryWindow <= 0 {
		expiryWindow = DefaultExpiryWindow
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Sweeper{
		conns:        conns,
		exchanger:    exchanger,
		cipher:       cipher,
		batchLimit:   batchLimit,
		expiryWindow: expiryWindow,
		concurrency:  concurrency,
		now:          time.Now,
		log:          log,
	}
}

// Run selects the batch and refreshes it with bounded parallelism.
func (s *Sweeper) Run(ctx context.Context, opts Options) (*Summary, error) {
	before := s.now().Add(s.expiryWindow)
	if opts.ForceAll {
		before = time.Time{}
	}
	batch, err := s.conns.ListExpiring(ctx, before, s.batchLimit)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Total: len(batch)}
	var mu sync.Mutex
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup

	for i := range batch {
		conn := batch[i]
		if opts.DryRun {
			s.log.Info().
				Str("tenant_suffix", tenantSuffix(conn.TenantID)).
				Bool("livemode", conn.Livemode).
				Time("access_token_expires_at", conn.AccessTokenExpiresAt).
				Msg("dry run: would refresh")
			summary.Skipped++
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			err := s.refreshOne(ctx, &conn)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				summary.Failures = append(summary.Failures, Failure{
					TenantSuffix: tenantSuffix(conn.TenantID),
					Livemode:     conn.Livemode,
					Kind:         errorKind(err),
				})
				return
			}
			summary.Refreshed++
		}()
	}
	wg.Wait()

	s.log.Info().
		Int("total", summary.Total).
		Int("refreshed", summary.Refreshed).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Bool("dry_run", opts.DryRun).
		Bool("force_all", opts.ForceAll).
		Msg("token sweep complete")
	return summary, nil
}

func (s *Sweeper) refreshOne(ctx context.Context, conn *domain.Connection) error {
	refreshPlain, err := s.cipher.Decrypt(conn.RefreshTokenCiphertext)
	if err != nil {
		return err
	}
	grant, err := s.exchanger.Refresh(ctx, string(refreshPlain), conn.Mode())
	if err != nil {
		return err
	}
	accessCT, err := s.cipher.Encrypt([]byte(grant.AccessToken))
	if err != nil {
		return err
	}
	refreshCT, err := s.cipher.Encrypt([]byte(grant.RefreshToken))
	if err != nil {
		return err
	}
	expiresAt := s.now().Add(time.Duration(grant.ExpiresIn) * time.Second)
	return s.conns.UpdateRotatedTokens(ctx, conn.TenantID, conn.Livemode, accessCT, expiresAt, refreshCT)
}

func tenantSuffix(tenantID string) string {
	if len(tenantID) <= 6 {
		return tenantID
	}
	return tenantID[len(tenantID)-6:]
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, domerrors.ErrUpstreamAuth):
		return "upstream_auth"
	case errors.Is(err, domerrors.ErrUpstreamTransient):
		return "upstream_transient"
	case errors.Is(err, domerrors.ErrUpstreamMalformed):
		return "upstream_malformed"
	case errors.Is(err, domerrors.ErrCorrupt):
		return "corrupt"
	default:
		return "internal"
	}
}
