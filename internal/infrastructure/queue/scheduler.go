package queue

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

const (
	// sweepInterval matches the sweeper's 35-minute expiry window: every
	// token is seen by at least one run before it lapses.
	sweepInterval = "@every 30m"
	stateGCInterval = "@every 15m"

	tickRequeueDelay = 10 * time.Second
)

// NewScheduler registers the periodic token sweep and oauth_states GC.
// Call Run() to start; it blocks.
func NewScheduler(redisOpt asynq.RedisClientOpt, log zerolog.Logger) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})

	sweepPayload, _ := json.Marshal(tokenSweepPayload{})
	if _, err := scheduler.Register(sweepInterval, asynq.NewTask(TypeTokenSweep, sweepPayload)); err != nil {
		return nil, err
	}
	if _, err := scheduler.Register(stateGCInterval, asynq.NewTask(TypeStateGC, nil)); err != nil {
		return nil, err
	}
	log.Info().Str("sweep", sweepInterval).Str("state_gc", stateGCInterval).Msg("periodic tasks registered")
	return scheduler, nil
}
