package queue

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/ports"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/provision"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/sweeper"
)

// Worker runs Asynq task handlers: background FSM ticks, the periodic token
// sweep, and oauth_states garbage collection.
type Worker struct {
	srv      *asynq.Server
	mux      *asynq.ServeMux
	ticker   *provision.Ticker
	sweeper  *sweeper.Sweeper
	states   ports.StateStore
	enqueuer ports.TaskEnqueuer
	log      zerolog.Logger
}

// NewWorker creates an Asynq server and registers handlers. Call Run() to start.
func NewWorker(redisOpt asynq.RedisClientOpt, ticker *provision.Ticker, sw *sweeper.Sweeper, states ports.StateStore, enqueuer ports.TaskEnqueuer, log zerolog.Logger) *Worker {
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 2,
		LogLevel:    asynq.InfoLevel,
	})
	mux := asynq.NewServeMux()
	w := &Worker{srv: srv, mux: mux, ticker: ticker, sweeper: sw, states: states, enqueuer: enqueuer, log: log}
	mux.HandleFunc(TypeProvisionTick, w.handleProvisionTick)
	mux.HandleFunc(TypeTokenSweep, w.handleTokenSweep)
	mux.HandleFunc(TypeStateGC, w.handleStateGC)
	return w
}

// handleProvisionTick runs one FSM tick and re-kicks itself while the row is
// non-terminal, so provisioning advances even when the dashboard stops
// polling. Lock contention is fine; the poll that holds it makes the
// progress instead.
func (w *Worker) handleProvisionTick(ctx context.Context, t *asynq.Task) error {
	var p provisionTickPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		w.log.Error().Err(err).Msg("provision tick payload invalid")
		return err
	}
	row, err := w.ticker.Tick(ctx, p.TenantID, p.Livemode)
	if err != nil {
		w.log.Warn().Err(err).Str("tenant_id", p.TenantID).Msg("background tick failed")
		return nil // persisted error state is authoritative; no asynq retry
	}
	if !row.InstallStatus.Terminal() && w.enqueuer != nil {
		if err := w.enqueuer.EnqueueProvisionTick(ctx, p.TenantID, p.Livemode, tickRequeueDelay); err != nil {
			w.log.Warn().Err(err).Str("tenant_id", p.TenantID).Msg("re-enqueue provision tick failed")
		}
	}
	return nil
}

func (w *Worker) handleTokenSweep(ctx context.Context, t *asynq.Task) error {
	var p tokenSweepPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		w.log.Error().Err(err).Msg("token sweep payload invalid")
		return err
	}
	summary, err := w.sweeper.Run(ctx, sweeper.Options{ForceAll: p.ForceAll, DryRun: p.DryRun})
	if err != nil {
		return err
	}
	w.log.Info().
		Int("total", summary.Total).
		Int("refreshed", summary.Refreshed).
		Int("failed", summary.Failed).
		Msg("scheduled token sweep finished")
	return nil
}

func (w *Worker) handleStateGC(ctx context.Context, t *asynq.Task) error {
	deleted, err := w.states.DeleteExpired(ctx)
	if err != nil {
		return err
	}
	if deleted > 0 {
		w.log.Info().Int64("deleted", deleted).Msg("expired oauth states collected")
	}
	return nil
}

// Run blocks until shutdown. Use Shutdown for graceful stop.
func (w *Worker) Run() error {
	return w.srv.Run(w.mux)
}

// Shutdown stops the worker.
func (w *Worker) Shutdown() {
	w.srv.Shutdown()
}
