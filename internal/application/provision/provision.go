package provision

import (
	"context"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/ports"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/domain"
)

// Provision is the POST /provision semantics: idempotent for rows in flight,
// retry-by-restart for rows in error, fresh start otherwise.
type Provision struct {
	store ports.ProvisionStore
	start *Start
}

func NewProvision(store ports.ProvisionStore, start *Start) *Provision {
	return &Provision{store: store, start: start}
}

// Execute returns the authoritative row and whether it was newly created.
func (uc *Provision) Execute(ctx context.Context, tenantID string) (*domain.ProvisionedDatabase, bool, error) {
	row, err := uc.store.Get(ctx, tenantID)
	if err != nil {
		return nil, false, err
	}
	if row != nil {
		if row.InstallStatus != domain.StatusError {
			return row, false, nil
		}
		// Explicit retry: delete the errored row and restart from scratch.
		if err := uc.store.Delete(ctx, tenantID); err != nil {
			return nil, false, err
		}
	}
	created, err := uc.start.Execute(ctx, tenantID)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}
