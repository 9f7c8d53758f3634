package ports

import (
	"context"
	"time"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/domain"
)

// StateStore persists hashed OAuth CSRF state nonces.
type StateStore interface {
	Create(ctx context.Context, stateHash string, mode domain.Mode, expiresAt time.Time) error
	// Consume atomically deletes the row and returns its mode. A miss or an
	// expired row returns errors.ErrInvalidState; at most one concurrent
	// caller can succeed for a given hash.
	Consume(ctx context.Context, stateHash string) (domain.Mode, error)
	// DeleteExpired garbage-collects rows past their deadline.
	DeleteExpired(ctx context.Context) (int64, error)
}

// ConnectionStore is the token vault: encrypted OAuth token records keyed by
// (tenant_id, livemode).
type ConnectionStore interface {
	Upsert(ctx context.Context, conn *domain.Connection) error
	Get(ctx context.Context, tenantID string, livemode bool) (*domain.Connection, error)
	List(ctx context.Context, tenantID string) ([]domain.Connection, error)
	// UpdateRotatedTokens writes both ciphertexts and the access expiry in a
	// single statement and bumps refresh_token_rotated_at. The platform has
	// already invalidated the old refresh token by the time this runs, so a
	// lost write here orphans the tenant.
	UpdateRotatedTokens(ctx context.Context, tenantID string, livemode bool, accessCT []byte, expiresAt time.Time, refreshCT []byte) error
	// ListExpiring returns up to limit connections whose access token expires
	// before the given deadline, oldest expiry first. Zero deadline means all.
	ListExpiring(ctx context.Context, before time.Time, limit int) ([]domain.Connection, error)
	Delete(ctx context.Context, tenantID string, livemode bool) error
}

// ProvisionStore persists the per-tenant provisioning FSM row.
type ProvisionStore interface {
	Create(ctx context.Context, row *domain.ProvisionedDatabase) error
	Get(ctx context.Context, tenantID string) (*domain.ProvisionedDatabase, error)
	// UpdateState persists a transition and sets updated_at = now().
	UpdateState(ctx context.Context, tenantID string, status domain.InstallStatus, step domain.InstallStep, errorMessage string) error
	Delete(ctx context.Context, tenantID string) error
}

// TenantLocker serializes mutation of a tenant's provisioning row across
// stateless handler invocations.
type TenantLocker interface {
	// WithTenantLock runs fn while holding a session-scoped nonblocking
	// advisory lock keyed by a stable hash of the tenant id. If the lock is
	// busy it returns acquired=false without calling fn. The lock is released
	// on every exit path.
	WithTenantLock(ctx context.Context, tenantID string, fn func(ctx context.Context) error) (acquired bool, err error)
}
