package postgres

import (
	"context"
	"hash/fnv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/ports"
)

const (
	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1)`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1)`
)

// Locker serializes per-tenant work with session-scoped advisory locks. The
// lock key is a stable hash of the tenant id, and the lock lives on a single
// pooled connection pinned for the duration of fn.
type Locker struct {
	pool *pgxpool.Pool
}

func NewLocker(pool *pgxpool.Pool) *Locker {
	return &Locker{pool: pool}
}

// LockKey maps a tenant id onto the bigint keyspace pg_advisory_lock expects.
func LockKey(tenantID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(tenantID))
	return int64(h.Sum64())
}

func (l *Locker) WithTenantLock(ctx context.Context, tenantID string, fn func(ctx context.Context) error) (bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Release()

	key := LockKey(tenantID)
	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}
	// Unlock before the connection goes back to the pool. Session scope means
	// a dropped connection releases the lock anyway; this keeps the healthy
	// path deterministic.
	defer func() {
		_, _ = conn.Exec(context.WithoutCancel(ctx), advisoryUnlockSQL, key)
	}()
	return true, fn(ctx)
}

var _ ports.TenantLocker = (*Locker)(nil)
