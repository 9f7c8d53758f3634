package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/ports"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/domain"
	domerrors "github.com/stripe-experiments/sync-data-stripe-app/internal/domain/errors"
)

const (
	createStateSQL = `
INSERT INTO oauth_states (state_hash, mode, expires_at, created_at)
VALUES ($1, $2, $3, now())`

	// DELETE ... RETURNING makes lookup atomic with consumption: two
	// concurrent callers can succeed for at most one of them.
	consumeStateSQL = `
DELETE FROM oauth_states
WHERE state_hash = $1 AND expires_at > now()
RETURNING mode`

	deleteExpiredStatesSQL = `DELETE FROM oauth_states WHERE expires_at < now()`
)

// StateRepository stores hashed single-use OAuth state nonces.
type StateRepository struct {
	pool *pgxpool.Pool
}

func NewStateRepository(pool *pgxpool.Pool) *StateRepository {
	return &StateRepository{pool: pool}
}

func (r *StateRepository) Create(ctx context.Context, stateHash string, mode domain.Mode, expiresAt time.Time) error {
	_, err := r.pool.Exec(ctx, createStateSQL, stateHash, string(mode), expiresAt)
	return err
}

func (r *StateRepository) Consume(ctx context.Context, stateHash string) (domain.Mode, error) {
	var mode string
	err := r.pool.QueryRow(ctx, consumeStateSQL, stateHash).Scan(&mode)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", domerrors.ErrInvalidState
		}
		return "", err
	}
	return domain.Mode(mode), nil
}

func (r *StateRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, deleteExpiredStatesSQL)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var _ ports.StateStore = (*StateRepository)(nil)
