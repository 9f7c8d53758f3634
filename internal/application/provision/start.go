package provision

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/ports"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/domain"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/infrastructure/crypto"
)

const dbPasswordLength = 24

// Start provisions the external project and inserts the pending FSM row.
//
// provisioned_databases is keyed by tenant_id alone: a tenant gets one
// database total, not one per mode.
type Start struct {
	store   ports.ProvisionStore
	control ports.ControlPlane
	cipher  ports.SecretCipher
	region  string
	log     zerolog.Logger
}

func NewStart(store ports.ProvisionStore, control ports.ControlPlane, cipher ports.SecretCipher, region string, log zerolog.Logger) *Start {
	return &Start{store: store, control: control, cipher: cipher, region: region, log: log}
}

func (uc *Start) Execute(ctx context.Context, tenantID string) (*domain.ProvisionedDatabase, error) {
	password, err := crypto.RandomPassword(dbPasswordLength)
	if err != nil {
		return nil, err
	}
	passwordCT, err := uc.cipher.Encrypt([]byte(password))
	if err != nil {
		return nil, err
	}
	// The only moment the password is transmitted in plaintext.
	project, err := uc.control.CreateProject(ctx, "stripe-sync-"+tenantID, password, uc.region)
	if err != nil {
		return nil, err
	}
	row := &domain.ProvisionedDatabase{
		TenantID:             tenantID,
		ProjectRef:           project.Ref,
		DBPasswordCiphertext: passwordCT,
		ConnectionHost:       PoolerHost(project.Region),
		Region:               project.Region,
		InstallStatus:        domain.StatusPending,
		InstallStep:          domain.StepCreateProject,
	}
	if err := uc.store.Create(ctx, row); err != nil {
		return nil, err
	}
	uc.log.Info().
		Str("tenant_id", tenantID).
		Str("project_ref", project.Ref).
		Str("region", project.Region).
		Msg("provisioning started")
	return row, nil
}

// PoolerHost derives the connection pooler hostname from a region. The
// pattern is part of the persisted contract.
func PoolerHost(region string) string {
	return fmt.Sprintf("aws-1-%s.pooler.supabase.com", region)
}

// ConnectionString formats the dashboard-facing Postgres URL for a ready row.
func ConnectionString(projectRef, password, host string) string {
	return fmt.Sprintf("postgresql://postgres.%s:%s@%s:5432/postgres", projectRef, password, host)
}
