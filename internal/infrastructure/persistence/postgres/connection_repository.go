package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/ports"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/domain"
)

const (
	upsertConnectionSQL = `
INSERT INTO oauth_connections
    (tenant_id, livemode, scope, publishable_identifier,
     access_token_ct, access_token_expires_at,
     refresh_token_ct, refresh_token_rotated_at, created_at, updated_at)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, now(), now(), now())
ON CONFLICT (tenant_id, livemode) DO UPDATE SET
    scope = EXCLUDED.scope,
    publishable_identifier = EXCLUDED.publishable_identifier,
    access_token_ct = EXCLUDED.access_token_ct,
    access_token_expires_at = EXCLUDED.access_token_expires_at,
    refresh_token_ct = EXCLUDED.refresh_token_ct,
    refresh_token_rotated_at = now(),
    updated_at = now()`

	getConnectionSQL = `
SELECT tenant_id, livemode, scope, COALESCE(publishable_identifier, ''),
       access_token_ct, access_token_expires_at,
       refresh_token_ct, refresh_token_rotated_at, created_at, updated_at
FROM oauth_connections
WHERE tenant_id = $1 AND livemode = $2`

	listConnectionsSQL = `
SELECT tenant_id, livemode, scope, COALESCE(publishable_identifier, ''),
       access_token_ct, access_token_expires_at,
       refresh_token_ct, refresh_token_rotated_at, created_at, updated_at
FROM oauth_connections
WHERE tenant_id = $1
ORDER BY livemode`

	// Single statement: both ciphertexts and the expiry land together or not
	// at all.
	updateRotatedTokensSQL = `
UPDATE oauth_connections
SET access_token_ct = $3,
    access_token_expires_at = $4,
    refresh_token_ct = $5,
    refresh_token_rotated_at = now(),
    updated_at = now()
WHERE tenant_id = $1 AND livemode = $2`

	listExpiringSQL = `
SELECT tenant_id, livemode, scope, COALESCE(publishable_identifier, ''),
       access_token_ct, access_token_expires_at,
       refresh_token_ct, refresh_token_rotated_at, created_at, updated_at
FROM oauth_connections
WHERE access_token_expires_at <= $1
ORDER BY access_token_expires_at
LIMIT $2`

	listAllConnectionsSQL = `
SELECT tenant_id, livemode, scope, COALESCE(publishable_identifier, ''),
       access_token_ct, access_token_expires_at,
       refresh_token_ct, refresh_token_rotated_at, created_at, updated_at
FROM oauth_connections
ORDER BY access_token_expires_at
LIMIT $1`

	deleteConnectionSQL = `
DELETE FROM oauth_connections WHERE tenant_id = $1 AND livemode = $2`
)

// ConnectionRepository is the token vault over oauth_connections.
type ConnectionRepository struct {
	pool *pgxpool.Pool
}

func NewConnectionRepository(pool *pgxpool.Pool) *ConnectionRepository {
	return &ConnectionRepository{pool: pool}
}

func (r *ConnectionRepository) Upsert(ctx context.Context, conn *domain.Connection) error {
	_, err := r.pool.Exec(ctx, upsertConnectionSQL,
		conn.TenantID, conn.Livemode, conn.Scope, conn.PublishableKey,
		conn.AccessTokenCiphertext, conn.AccessTokenExpiresAt,
		conn.RefreshTokenCiphertext)
	return err
}

func (r *ConnectionRepository) Get(ctx context.Context, tenantID string, livemode bool) (*domain.Connection, error) {
	row := r.pool.QueryRow(ctx, getConnectionSQL, tenantID, livemode)
	conn, err := scanConnection(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return conn, nil
}

func (r *ConnectionRepository) List(ctx context.Context, tenantID string) ([]domain.Connection, error) {
	rows, err := r.pool.Query(ctx, listConnectionsSQL, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectConnections(rows)
}

func (r *ConnectionRepository) UpdateRotatedTokens(ctx context.Context, tenantID string, livemode bool, accessCT []byte, expiresAt time.Time, refreshCT []byte) error {
	_, err := r.pool.Exec(ctx, updateRotatedTokensSQL,
		tenantID, livemode, accessCT, expiresAt, refreshCT)
	return err
}

func (r *ConnectionRepository) ListExpiring(ctx context.Context, before time.Time, limit int) ([]domain.Connection, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if before.IsZero() {
		rows, err = r.pool.Query(ctx, listAllConnectionsSQL, limit)
	} else {
		rows, err = r.pool.Query(ctx, listExpiringSQL, before, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectConnections(rows)
}

func (r *ConnectionRepository) Delete(ctx context.Context, tenantID string, livemode bool) error {
	_, err := r.pool.Exec(ctx, deleteConnectionSQL, tenantID, livemode)
	return err
}

func scanConnection(row pgx.Row) (*domain.Connection, error) {
	var c domain.Connection
	err := row.Scan(&c.TenantID, &c.Livemode, &c.Scope, &c.PublishableKey,
		&c.AccessTokenCiphertext, &c.AccessTokenExpiresAt,
		&c.RefreshTokenCiphertext, &c.RefreshTokenRotatedAt,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func collectConnections(rows pgx.Rows) ([]domain.Connection, error) {
	var out []domain.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

var _ ports.ConnectionStore = (*ConnectionRepository)(nil)
