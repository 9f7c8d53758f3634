package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/ports"
)

const (
	TypeProvisionTick = "provision:tick"
	TypeTokenSweep    = "tokens:sweep"
	TypeStateGC       = "oauth:state_gc"
)

// provisionTickPayload drives one background FSM tick.
type provisionTickPayload struct {
	TenantID string `json:"tenant_id"`
	Livemode bool   `json:"livemode"`
}

// tokenSweepPayload configures one bulk refresh run.
type tokenSweepPayload struct {
	ForceAll bool `json:"force_all"`
	DryRun   bool `json:"dry_run"`
}

// TaskEnqueuer enqueues background work (provision ticks, token sweeps).
type TaskEnqueuer struct {
	client *asynq.Client
	log    zerolog.Logger
}

func NewAsynqEnqueuer(redisOpt asynq.RedisClientOpt, log zerolog.Logger) (*TaskEnqueuer, error) {
	client := asynq.NewClient(redisOpt)
	return &TaskEnqueuer{client: client, log: log}, nil
}

func (q *TaskEnqueuer) Close() error {
	return q.client.Close()
}

func (q *TaskEnqueuer) EnqueueProvisionTick(ctx context.Context, tenantID string, livemode bool, delay time.Duration) error {
	payload, _ := json.Marshal(provisionTickPayload{TenantID: tenantID, Livemode: livemode})
	task := asynq.NewTask(TypeProvisionTick, payload)
	_, err := q.client.EnqueueContext(ctx, task, asynq.ProcessIn(delay))
	if err != nil {
		q.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("enqueue provision tick failed")
		return err
	}
	return nil
}

func (q *TaskEnqueuer) EnqueueTokenSweep(ctx context.Context, forceAll, dryRun bool) error {
	payload, _ := json.Marshal(tokenSweepPayload{ForceAll: forceAll, DryRun: dryRun})
	task := asynq.NewTask(TypeTokenSweep, payload)
	_, err := q.client.EnqueueContext(ctx, task)
	if err != nil {
		q.log.Warn().Err(err).Msg("enqueue token sweep failed")
		return err
	}
	return nil
}

var _ ports.TaskEnqueuer = (*TaskEnqueuer)(nil)
