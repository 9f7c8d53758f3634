package provision

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/ports"
	domerrors "github.com/stripe-experiments/sync-data-stripe-app/internal/domain/errors"
)

// Deprovision deletes the external project and then the local row, under the
// per-tenant advisory lock. The local row survives any failure to confirm the
// external delete.
type Deprovision struct {
	store   ports.ProvisionStore
	locker  ports.TenantLocker
	control ports.ControlPlane
	log     zerolog.Logger
}

func NewDeprovision(store ports.ProvisionStore, locker ports.TenantLocker, control ports.ControlPlane, log zerolog.Logger) *Deprovision {
	return &Deprovision{store: store, locker: locker, control: control, log: log}
}

func (uc *Deprovision) Execute(ctx context.Context, tenantID string) error {
	acquired, err := uc.locker.WithTenantLock(ctx, tenantID, func(ctx context.Context) error {
		row, err := uc.store.Get(ctx, tenantID)
		if err != nil {
			return err
		}
		if row == nil {
			return domerrors.ErrNotProvisioned
		}
		// External delete first. Any non-2xx, 404 included, keeps the row:
		// an orphaned local row is worse than a loud error.
		if err := uc.control.DeleteProject(ctx, row.ProjectRef); err != nil {
			return err
		}
		if err := uc.store.Delete(ctx, tenantID); err != nil {
			return err
		}
		uc.log.Info().Str("tenant_id", tenantID).Str("project_ref", row.ProjectRef).Msg("deprovisioned")
		return nil
	})
	if err != nil {
		return err
	}
	if !acquired {
		return domerrors.ErrLockBusy
	}
	return nil
}
