package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/ports"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/provision"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/domain"
	domerrors "github.com/stripe-experiments/sync-data-stripe-app/internal/domain/errors"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/infrastructure/http/middleware"
)

// tickKickDelay spaces worker-driven ticks so the UI polls stay the primary
// driver.
const tickKickDelay = 5 * time.Second

// ProvisionHandler serves the dashboard's status/provision/deprovision calls.
// Every route is behind the signature middleware; the tenant id always comes
// from the verified identity, never from client-supplied values.
type ProvisionHandler struct {
	status      *provision.Status
	provision   *provision.Provision
	deprovision *provision.Deprovision
	conns       ports.ConnectionStore
	enqueuer    ports.TaskEnqueuer
	emitter     ports.WebhookEmitter
	log         zerolog.Logger
}

func NewProvisionHandler(status *provision.Status, prov *provision.Provision, deprovision *provision.Deprovision, conns ports.ConnectionStore, enqueuer ports.TaskEnqueuer, emitter ports.WebhookEmitter, log zerolog.Logger) *ProvisionHandler {
	return &ProvisionHandler{
		status:      status,
		provision:   prov,
		deprovision: deprovision,
		conns:       conns,
		enqueuer:    enqueuer,
		emitter:     emitter,
		log:         log,
	}
}

// requireConnection resolves the caller's mode and confirms an OAuth
// connection exists for it, distinguishing "mode mismatch" from "never
// connected" for UI messaging.
func (h *ProvisionHandler) requireConnection(w http.ResponseWriter, r *http.Request, identity *middleware.Identity) (domain.Mode, bool) {
	modeParam := r.URL.Query().Get("mode")
	if modeParam == "" {
		modeParam = string(domain.ModeLive)
	}
	mode, err := domain.ParseMode(modeParam)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "", "mode must be test or live")
		return "", false
	}
	conn, err := h.conns.Get(r.Context(), identity.TenantID, mode.Livemode())
	if err != nil {
		h.log.Error().Err(err).Msg("load connection failed")
		writeErr(w, http.StatusInternalServerError, "", "internal error")
		return "", false
	}
	if conn == nil {
		others, err := h.conns.List(r.Context(), identity.TenantID)
		if err != nil {
			h.log.Error().Err(err).Msg("list connections failed")
			writeErr(w, http.StatusInternalServerError, "", "internal error")
			return "", false
		}
		if len(others) > 0 {
			writeErr(w, http.StatusUnauthorized, ErrCodeModeMismatch, "account is connected, but not in "+mode.String()+" mode")
		} else {
			writeErr(w, http.StatusUnauthorized, ErrCodeNeverConnected, "account has not connected yet")
		}
		return "", false
	}
	return mode, true
}

// Status handles GET /status. When the row is non-terminal the status use
// case contributes one tick; a tick failure is logged, never surfaced.
func (h *ProvisionHandler) Status(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFromContext(r.Context())
	if identity == nil {
		writeErr(w, http.StatusUnauthorized, "", "unauthorized")
		return
	}
	mode, ok := h.requireConnection(w, r, identity)
	if !ok {
		return
	}
	view, err := h.status.Execute(r.Context(), identity.TenantID, mode.Livemode())
	if err != nil {
		if errors.Is(err, domerrors.ErrNotProvisioned) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "not_provisioned"})
			return
		}
		h.log.Error().Err(err).Msg("status failed")
		writeErr(w, http.StatusInternalServerError, "", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Provision handles POST /provision: 202 with the new pending row, or 200
// with the current one (idempotent). An errored row is deleted first so the
// user's retry restarts from scratch.
func (h *ProvisionHandler) Provision(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFromContext(r.Context())
	if identity == nil {
		writeErr(w, http.StatusUnauthorized, "", "unauthorized")
		return
	}
	mode, ok := h.requireConnection(w, r, identity)
	if !ok {
		return
	}
	row, created, err := h.provision.Execute(r.Context(), identity.TenantID)
	if err != nil {
		AuditEmit(h.log, r, h.emitter, "provision.start", identity.TenantID, identity.UserID, false, "start failed")
		h.log.Error().Err(err).Msg("provision failed")
		writeErr(w, http.StatusInternalServerError, "", "internal error")
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusAccepted
		AuditEmit(h.log, r, h.emitter, "provision.start", identity.TenantID, identity.UserID, true, "")
		if h.enqueuer != nil {
			if err := h.enqueuer.EnqueueProvisionTick(r.Context(), identity.TenantID, mode.Livemode(), tickKickDelay); err != nil {
				h.log.Warn().Err(err).Msg("enqueue provision tick failed")
			}
		}
	}
	writeJSON(w, code, map[string]any{
		"status":      row.InstallStatus,
		"step":        row.InstallStep,
		"project_ref": row.ProjectRef,
		"created_at":  row.CreatedAt,
	})
}

// Deprovision handles DELETE /provision under the tenant lock.
func (h *ProvisionHandler) Deprovision(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFromContext(r.Context())
	if identity == nil {
		writeErr(w, http.StatusUnauthorized, "", "unauthorized")
		return
	}
	err := h.deprovision.Execute(r.Context(), identity.TenantID)
	switch {
	case err == nil:
		AuditEmit(h.log, r, h.emitter, "provision.delete", identity.TenantID, identity.UserID, true, "")
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	case errors.Is(err, domerrors.ErrLockBusy):
		writeErr(w, http.StatusConflict, ErrCodeLockBusy, "another operation is in progress; retry shortly")
	case errors.Is(err, domerrors.ErrNotProvisioned):
		writeJSON(w, http.StatusOK, map[string]string{"status": "not_provisioned"})
	default:
		AuditEmit(h.log, r, h.emitter, "provision.delete", identity.TenantID, identity.UserID, false, "delete failed")
		h.log.Error().Err(err).Msg("deprovision failed")
		writeErr(w, http.StatusInternalServerError, "", "internal error")
	}
}
