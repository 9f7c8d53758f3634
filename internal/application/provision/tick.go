package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/ports"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/domain"
	domerrors "github.com/stripe-experiments/sync-data-stripe-app/internal/domain/errors"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/infrastructure/supabase"
)

const (
	// DefaultWaitTimeout bounds wall-clock time in wait_database_ready.
	DefaultWaitTimeout = 10 * time.Minute
	// verifySyncDwell is the minimum settle time before declaring ready.
	verifySyncDwell = 3 * time.Second

	schemaName = "stripe"

	probePingSQL         = `SELECT 1`
	probeEnsureSchemaSQL = `CREATE SCHEMA IF NOT EXISTS ` + schemaName
	probeSchemaVisibleSQL = `SELECT schema_name FROM information_schema.schemata WHERE schema_name = '` + schemaName + `'`
)

// Ticker advances a tenant's provisioning FSM one bounded step per
// invocation, under the per-tenant advisory lock. At most one external
// side-effect happens per tick.
type Ticker struct {
	store       ports.ProvisionStore
	locker      ports.TenantLocker
	control     ports.ControlPlane
	installer   ports.SyncInstaller
	tokens      ports.AccessTokenSource
	waitTimeout time.Duration
	now         func() time.Time
	log         zerolog.Logger
}

func NewTicker(store ports.ProvisionStore, locker ports.TenantLocker, control ports.ControlPlane, installer ports.SyncInstaller, tokens ports.AccessTokenSource, waitTimeout time.Duration, log zerolog.Logger) *Ticker {
	if waitTimeout <= 0 {
		waitTimeout = DefaultWaitTimeout
	}
	return &Ticker{
		store:       store,
		locker:      locker,
		control:     control,
		installer:   installer,
		tokens:      tokens,
		waitTimeout: waitTimeout,
		now:         time.Now,
		log:         log,
	}
}

// Tick runs one step for the tenant and returns the latest row. If another
// invocation holds the lock the tick is a no-op and the current row is
// returned as-is; the next poll retries.
func (t *Ticker) Tick(ctx context.Context, tenantID string, livemode bool) (*domain.ProvisionedDatabase, error) {
	var tickErr error
	acquired, err := t.locker.WithTenantLock(ctx, tenantID, func(ctx context.Context) error {
		row, err := t.store.Get(ctx, tenantID)
		if err != nil {
			return err
		}
		if row == nil {
			return domerrors.ErrNotProvisioned
		}
		if row.InstallStatus.Terminal() {
			return nil
		}
		tickErr = t.advance(ctx, row, livemode)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !acquired {
		t.log.Debug().Str("tenant_id", tenantID).Msg("tick skipped, lock busy")
	}
	row, err := t.store.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, domerrors.ErrNotProvisioned
	}
	return row, tickErr
}

// advance applies the transition table. Returning nil with no row update
// means "stay"; persisted transitions always move updated_at.
func (t *Ticker) advance(ctx context.Context, row *domain.ProvisionedDatabase, livemode bool) error {
	switch {
	case row.InstallStatus == domain.StatusPending,
		row.InstallStep == domain.StepCreateProject,
		row.InstallStep == domain.StepCreateDatabase,
		row.InstallStep == domain.StepNone:
		// Project creation already happened at start; normalize into the
		// readiness wait.
		return t.transition(ctx, row, domain.StatusProvisioning, domain.StepWaitDatabaseReady)

	case row.InstallStep == domain.StepWaitDatabaseReady:
		return t.tickWaitDatabaseReady(ctx, row)

	case row.InstallStep == domain.StepApplySchema:
		// Reserved for schema work beyond the namespace the probe created.
		return t.transition(ctx, row, domain.StatusInstalling, domain.StepVerifyConnection)

	case row.InstallStep == domain.StepVerifyConnection:
		// Reserved for a dedicated health check.
		return t.transition(ctx, row, domain.StatusSyncing, domain.StepStartSync)

	case row.InstallStep == domain.StepStartSync:
		return t.tickStartSync(ctx, row, livemode)

	case row.InstallStep == domain.StepVerifySync:
		if t.now().Sub(row.UpdatedAt) < verifySyncDwell {
			return nil
		}
		return t.transition(ctx, row, domain.StatusReady, domain.StepDone)

	default:
		t.log.Warn().
			Str("tenant_id", row.TenantID).
			Str("install_step", string(row.InstallStep)).
			Msg("unknown install step, resetting")
		return t.transition(ctx, row, domain.StatusProvisioning, domain.StepWaitDatabaseReady)
	}
}

func (t *Ticker) tickWaitDatabaseReady(ctx context.Context, row *domain.ProvisionedDatabase) error {
	// Wall-clock budget, measured from entry into this state. The overrun is
	// observed by whichever tick runs next, not by any in-flight timer.
	if t.now().Sub(row.UpdatedAt) > t.waitTimeout {
		return t.fail(ctx, row, fmt.Sprintf("database was not ready after %s", t.waitTimeout))
	}
	if err := t.probeDatabase(ctx, row.ProjectRef); err != nil {
		var upstream *supabase.UpstreamError
		if errors.As(err, &upstream) && (upstream.Status == 401 || upstream.Status == 403) {
			return t.fail(ctx, row, "control plane rejected credentials while waiting for database")
		}
		// Not ready yet; stay and let the next poll retry.
		t.log.Debug().Str("tenant_id", row.TenantID).Str("project_ref", row.ProjectRef).Msg("database not ready yet")
		return nil
	}
	return t.transition(ctx, row, domain.StatusInstalling, domain.StepApplySchema)
}

// probeDatabase is the single readiness probe: the database answers, the sync
// namespace exists, and it is visible in the catalog.
func (t *Ticker) probeDatabase(ctx context.Context, projectRef string) error {
	if _, err := t.control.RunQuery(ctx, projectRef, probePingSQL); err != nil {
		return err
	}
	if _, err := t.control.RunQuery(ctx, projectRef, probeEnsureSchemaSQL); err != nil {
		return err
	}
	rows, err := t.control.RunQuery(ctx, projectRef, probeSchemaVisibleSQL)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("schema %q not visible", schemaName)
	}
	return nil
}

func (t *Ticker) tickStartSync(ctx context.Context, row *domain.ProvisionedDatabase, livemode bool) error {
	access, err := t.tokens.FreshAccessToken(ctx, row.TenantID, livemode)
	if err != nil {
		return t.fail(ctx, row, "could not obtain an access token: "+err.Error())
	}
	// Single attempt per tick; the installer may back off internally but a
	// failure here is terminal until the user explicitly retries.
	if err := t.installer.Install(ctx, access); err != nil {
		return t.fail(ctx, row, "sync install failed: "+err.Error())
	}
	return t.transition(ctx, row, domain.StatusSyncing, domain.StepVerifySync)
}

func (t *Ticker) transition(ctx context.Context, row *domain.ProvisionedDatabase, status domain.InstallStatus, step domain.InstallStep) error {
	if err := t.store.UpdateState(ctx, row.TenantID, status, step, ""); err != nil {
		return err
	}
	t.log.Info().
		Str("tenant_id", row.TenantID).
		Str("from", string(row.InstallStep)).
		Str("to", string(step)).
		Str("status", string(status)).
		Msg("provisioning advanced")
	recordTransition(string(status), string(step))
	return nil
}

func (t *Ticker) fail(ctx context.Context, row *domain.ProvisionedDatabase, message string) error {
	message = Redact(message)
	if err := t.store.UpdateState(ctx, row.TenantID, domain.StatusError, row.InstallStep, message); err != nil {
		return err
	}
	t.log.Warn().
		Str("tenant_id", row.TenantID).
		Str("install_step", string(row.InstallStep)).
		Str("error", message).
		Msg("provisioning failed")
	recordTransition(string(domain.StatusError), string(row.InstallStep))
	return nil
}
