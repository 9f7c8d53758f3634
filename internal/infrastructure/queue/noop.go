package queue

import (
	"context"
	"time"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/ports"
)

// NoopEnqueuer is a no-op enqueuer when Redis/Asynq is not configured.
// Provisioning then advances only on dashboard polls, which is sufficient.
type NoopEnqueuer struct{}

func NewNoopEnqueuer() *NoopEnqueuer {
	return &NoopEnqueuer{}
}

func (q *NoopEnqueuer) EnqueueProvisionTick(ctx context.Context, tenantID string, livemode bool, delay time.Duration) error {
	return nil
}

func (q *NoopEnqueuer) EnqueueTokenSweep(ctx context.Context, forceAll, dryRun bool) error {
	return nil
}

var _ ports.TaskEnqueuer = (*NoopEnqueuer)(nil)
