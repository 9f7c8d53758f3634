package ports

import (
	"context"
	"time"
)

// TaskEnqueuer enqueues async tasks (provision ticks, token sweeps).
type TaskEnqueuer interface {
	// EnqueueProvisionTick schedules a background FSM tick for a tenant.
	EnqueueProvisionTick(ctx context.Context, tenantID string, livemode bool, delay time.Duration) error
	// EnqueueTokenSweep schedules a bulk refresh run.
	EnqueueTokenSweep(ctx context.Context, forceAll, dryRun bool) error
}
