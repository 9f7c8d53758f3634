// Command sweeper runs one bulk token refresh pass and exits. The scheduled
// path runs in-process of the server via asynq; this binary covers manual and
// forced sweeps.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/sweeper"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/config"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/domain"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/infrastructure/crypto"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/infrastructure/persistence/postgres"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/infrastructure/stripeoauth"
)

func main() {
	forceAll := flag.Bool("force-all", false, "refresh every connection regardless of expiry")
	dryRun := flag.Bool("dry-run", false, "log intended actions without refreshing or writing")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Minute)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to database")
	}
	defer pool.Close()

	cipher, err := crypto.NewCipher(cfg.Crypto.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("load ENCRYPTION_KEY")
	}

	connRepo := postgres.NewConnectionRepository(pool)
	exchanger := stripeoauth.NewClient(cfg.Stripe.TokenURL, map[domain.Mode]stripeoauth.Credentials{
		domain.ModeTest: {SecretKey: cfg.Stripe.SecretKeyTest, ClientID: cfg.Stripe.ClientIDTest},
		domain.ModeLive: {SecretKey: cfg.Stripe.SecretKeyLive, ClientID: cfg.Stripe.ClientIDLive},
	}, log)

	sw := sweeper.New(connRepo, exchanger, cipher, cfg.Sweep.BatchLimit, cfg.Sweep.ExpiryWindow, cfg.Sweep.Concurrency, log)
	summary, err := sw.Run(ctx, sweeper.Options{ForceAll: *forceAll, DryRun: *dryRun})
	if err != nil {
		log.Fatal().Err(err).Msg("sweep failed")
	}
	_ = json.NewEncoder(os.Stdout).Encode(summary)
	if summary.Failed > 0 {
		os.Exit(1)
	}
}
