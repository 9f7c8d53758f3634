package provision

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/ports"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/domain"
	domerrors "github.com/stripe-experiments/sync-data-stripe-app/internal/domain/errors"
)

// StatusView is the normalized progress record the dashboard polls for.
type StatusView struct {
	Status           domain.InstallStatus `json:"status"`
	Step             domain.InstallStep   `json:"step"`
	ErrorMessage     string               `json:"error_message,omitempty"`
	ProjectRef       string               `json:"project_ref"`
	CreatedAt        time.Time            `json:"created_at"`
	ConnectionString string               `json:"connection_string,omitempty"`
}

// Status loads the FSM row, contributes one tick when non-terminal, and
// materializes the connection string on demand once ready.
type Status struct {
	store  ports.ProvisionStore
	ticker *Ticker
	cipher ports.SecretCipher
	log    zerolog.Logger
}

func NewStatus(store ports.ProvisionStore, ticker *Ticker, cipher ports.SecretCipher, log zerolog.Logger) *Status {
	return &Status{store: store, ticker: ticker, cipher: cipher, log: log}
}

func (uc *Status) Execute(ctx context.Context, tenantID string, livemode bool) (*StatusView, error) {
	row, err := uc.store.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, domerrors.ErrNotProvisioned
	}
	if !row.InstallStatus.Terminal() {
		// A tick failure must not fail the poll: log it and serve the state
		// the last durable write left behind.
		latest, tickErr := uc.ticker.Tick(ctx, tenantID, livemode)
		if tickErr != nil {
			uc.log.Warn().Err(tickErr).Str("tenant_id", tenantID).Msg("status tick failed")
		}
		if latest != nil {
			row = latest
		}
	}
	view := &StatusView{
		Status:       row.InstallStatus,
		Step:         row.InstallStep,
		ErrorMessage: row.ErrorMessage,
		ProjectRef:   row.ProjectRef,
		CreatedAt:    row.CreatedAt,
	}
	if row.InstallStatus == domain.StatusReady {
		password, err := uc.cipher.Decrypt(row.DBPasswordCiphertext)
		if err != nil {
			return nil, err
		}
		view.ConnectionString = ConnectionString(row.ProjectRef, string(password), row.ConnectionHost)
	}
	return view, nil
}
