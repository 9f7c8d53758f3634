package oauth

import (
	"context"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/ports"
	domerrors "github.com/stripe-experiments/sync-data-stripe-app/internal/domain/errors"
)

// Disconnect removes a tenant's stored connection for one mode.
type Disconnect struct {
	conns ports.ConnectionStore
}

func NewDisconnect(conns ports.ConnectionStore) *Disconnect {
	return &Disconnect{conns: conns}
}

func (uc *Disconnect) Execute(ctx context.Context, tenantID string, livemode bool) error {
	conn, err := uc.conns.Get(ctx, tenantID, livemode)
	if err != nil {
		return err
	}
	if conn == nil {
		return domerrors.ErrNotConnected
	}
	return uc.conns.Delete(ctx, tenantID, livemode)
}
