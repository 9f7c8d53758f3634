package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/ports"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/domain"
)

const (
	createProvisionSQL = `
INSERT INTO provisioned_databases
    (tenant_id, project_ref, db_password_ct, connection_host, region,
     install_status, install_step, error_message, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), now(), now())`

	getProvisionSQL = `
SELECT tenant_id, project_ref, db_password_ct, connection_host, region,
       install_status, COALESCE(install_step, ''), COALESCE(error_message, ''),
       created_at, updated_at
FROM provisioned_databases
WHERE tenant_id = $1`

	updateProvisionStateSQL = `
UPDATE provisioned_databases
SET install_status = $2,
    install_step = NULLIF($3, ''),
    error_message = NULLIF($4, ''),
    updated_at = now()
WHERE tenant_id = $1`

	deleteProvisionSQL = `DELETE FROM provisioned_databases WHERE tenant_id = $1`
)

// ProvisionRepository persists the provisioning FSM rows.
type ProvisionRepository struct {
	pool *pgxpool.Pool
}

func NewProvisionRepository(pool *pgxpool.Pool) *ProvisionRepository {
	return &ProvisionRepository{pool: pool}
}

func (r *ProvisionRepository) Create(ctx context.Context, row *domain.ProvisionedDatabase) error {
	_, err := r.pool.Exec(ctx, createProvisionSQL,
		row.TenantID, row.ProjectRef, row.DBPasswordCiphertext,
		row.ConnectionHost, row.Region,
		string(row.InstallStatus), string(row.InstallStep), row.ErrorMessage)
	return err
}

func (r *ProvisionRepository) Get(ctx context.Context, tenantID string) (*domain.ProvisionedDatabase, error) {
	var (
		row    domain.ProvisionedDatabase
		status string
		step   string
	)
	err := r.pool.QueryRow(ctx, getProvisionSQL, tenantID).Scan(
		&row.TenantID, &row.ProjectRef, &row.DBPasswordCiphertext,
		&row.ConnectionHost, &row.Region, &status, &step, &row.ErrorMessage,
		&row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	row.InstallStatus = domain.InstallStatus(status)
	row.InstallStep = domain.InstallStep(step)
	return &row, nil
}

func (r *ProvisionRepository) UpdateState(ctx context.Context, tenantID string, status domain.InstallStatus, step domain.InstallStep, errorMessage string) error {
	_, err := r.pool.Exec(ctx, updateProvisionStateSQL,
		tenantID, string(status), string(step), errorMessage)
	return err
}

func (r *ProvisionRepository) Delete(ctx context.Context, tenantID string) error {
	_, err := r.pool.Exec(ctx, deleteProvisionSQL, tenantID)
	return err
}

var _ ports.ProvisionStore = (*ProvisionRepository)(nil)
