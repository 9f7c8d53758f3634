package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/oauth"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/ports"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/provision"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/sweeper"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/config"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/domain"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/infrastructure/crypto"
	httprouter "github.com/stripe-experiments/sync-data-stripe-app/internal/infrastructure/http"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/infrastructure/http/handlers"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/infrastructure/http/middleware"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/infrastructure/persistence/postgres"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/infrastructure/queue"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/infrastructure/stripeoauth"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/infrastructure/supabase"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/infrastructure/syncinstaller"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/infrastructure/webhook"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to database")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("ping database")
	}
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("parse REDIS_URL")
		}
		redisClient = redis.NewClient(opt)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis ping failed; continuing without redis")
			redisClient = nil
		}
	}

	cipher, err := crypto.NewCipher(cfg.Crypto.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("load ENCRYPTION_KEY")
	}

	stateRepo := postgres.NewStateRepository(pool)
	connRepo := postgres.NewConnectionRepository(pool)
	provisionRepo := postgres.NewProvisionRepository(pool)
	locker := postgres.NewLocker(pool)

	exchanger := stripeoauth.NewClient(cfg.Stripe.TokenURL, map[domain.Mode]stripeoauth.Credentials{
		domain.ModeTest: {SecretKey: cfg.Stripe.SecretKeyTest, ClientID: cfg.Stripe.ClientIDTest},
		domain.ModeLive: {SecretKey: cfg.Stripe.SecretKeyLive, ClientID: cfg.Stripe.ClientIDLive},
	}, log)
	controlPlane := supabase.NewClient(cfg.Supabase.APIURL, cfg.Supabase.AccessToken, cfg.Supabase.OrganizationID, log)
	installer := syncinstaller.New(syncinstaller.Config{
		APIVersion: cfg.Stripe.APIVersion,
		WebhookURL: cfg.Server.BaseURL + "/webhooks/stripe",
	}, log)

	freshAccess := oauth.NewFreshAccess(connRepo, exchanger, cipher)
	ticker := provision.NewTicker(provisionRepo, locker, controlPlane, installer, freshAccess, cfg.Provision.WaitDatabaseReadyTimeout, log)
	startUC := provision.NewStart(provisionRepo, controlPlane, cipher, cfg.Supabase.Region, log)
	provisionUC := provision.NewProvision(provisionRepo, startUC)
	statusUC := provision.NewStatus(provisionRepo, ticker, cipher, log)
	deprovisionUC := provision.NewDeprovision(provisionRepo, locker, controlPlane, log)
	sweepUC := sweeper.New(connRepo, exchanger, cipher, cfg.Sweep.BatchLimit, cfg.Sweep.ExpiryWindow, cfg.Sweep.Concurrency, log)

	var taskEnqueuer ports.TaskEnqueuer
	var asynqWorker *queue.Worker
	var scheduler *asynq.Scheduler
	if redisClient != nil {
		redisOpt, _ := redis.ParseURL(cfg.Redis.URL)
		asynqOpt := asynq.RedisClientOpt{Addr: redisOpt.Addr, Password: redisOpt.Password, DB: redisOpt.DB}
		asynqEnq, err := queue.NewAsynqEnqueuer(asynqOpt, log)
		if err != nil {
			log.Fatal().Err(err).Msg("create asynq enqueuer")
		}
		defer asynqEnq.Close()
		taskEnqueuer = asynqEnq
		asynqWorker = queue.NewWorker(asynqOpt, ticker, sweepUC, stateRepo, asynqEnq, log)
		go func() {
			if err := asynqWorker.Run(); err != nil {
				log.Warn().Err(err).Msg("asynq worker stopped")
			}
		}()
		scheduler, err = queue.NewScheduler(asynqOpt, log)
		if err != nil {
			log.Fatal().Err(err).Msg("create scheduler")
		}
		go func() {
			if err := scheduler.Run(); err != nil {
				log.Warn().Err(err).Msg("scheduler stopped")
			}
		}()
	} else {
		taskEnqueuer = queue.NewNoopEnqueuer()
	}

	var emitter ports.WebhookEmitter
	if cfg.Audit.WebhookURL != "" {
		emitter = webhook.NewHTTPEmitter(cfg.Audit.WebhookURL)
	}

	installUC := oauth.NewInstall(stateRepo, cfg.Stripe.AuthorizeURL, cfg.Server.BaseURL+"/oauth/callback", map[domain.Mode]string{
		domain.ModeTest: cfg.Stripe.ClientIDTest,
		domain.ModeLive: cfg.Stripe.ClientIDLive,
	})
	callbackUC := oauth.NewCallback(stateRepo, connRepo, exchanger, cipher)
	disconnectUC := oauth.NewDisconnect(connRepo)

	oauthHandler := handlers.NewOAuthHandler(installUC, callbackUC, disconnectUC, emitter, log)
	provisionHandler := handlers.NewProvisionHandler(statusUC, provisionUC, deprovisionUC, connRepo, taskEnqueuer, emitter, log)
	healthHandler := handlers.NewHealthHandler(pool, redisClient)

	verifier := middleware.NewSignatureVerifier(cfg.Stripe.SigningSecrets, crypto.DefaultSignatureTolerance)
	ipLimit, err := middleware.NewIPRateLimiter(cfg.RateLimit.RatePerIP)
	if err != nil {
		log.Fatal().Err(err).Msg("create IP rate limiter")
	}

	router := httprouter.NewRouter(httprouter.RouterConfig{
		OAuthHandler:     oauthHandler,
		ProvisionHandler: provisionHandler,
		HealthHandler:    healthHandler,
		RequireSignature: verifier.Handler,
		Log:              log,
		Secure:           middleware.NewSecure(cfg.Secure.IsDevelopment),
		IPRateLimit:      ipLimit,
		Metrics:          true,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	if scheduler != nil {
		scheduler.Shutdown()
	}
	if asynqWorker != nil {
		asynqWorker.Shutdown()
	}
	log.Info().Msg("server stopped")
}
