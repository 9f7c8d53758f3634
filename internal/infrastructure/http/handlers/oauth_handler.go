package handlers

import (
	"errors"
	"html/template"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/oauth"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/ports"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/domain"
	domerrors "github.com/stripe-experiments/sync-data-stripe-app/internal/domain/errors"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/infrastructure/http/middleware"
)

var successTemplate = template.Must(template.New("success").Parse(`<!doctype html>
<html><head><title>Connected</title></head>
<body><h1>Connected</h1><p>Your {{.Mode}} account is connected. You can close this tab and return to the dashboard.</p></body></html>`))

var failureTemplate = template.Must(template.New("failure").Parse(`<!doctype html>
<html><head><title>Connection failed</title></head>
<body><h1>Connection failed</h1><p>{{.Message}}</p></body></html>`))

// OAuthHandler serves the install redirect and the authorization callback.
type OAuthHandler struct {
	install    *oauth.Install
	callback   *oauth.Callback
	disconnect *oauth.Disconnect
	emitter    ports.WebhookEmitter
	log        zerolog.Logger
}

func NewOAuthHandler(install *oauth.Install, callback *oauth.Callback, disconnect *oauth.Disconnect, emitter ports.WebhookEmitter, log zerolog.Logger) *OAuthHandler {
	return &OAuthHandler{install: install, callback: callback, disconnect: disconnect, emitter: emitter, log: log}
}

// Install handles GET /oauth/install?mode=… with a 302 to the platform
// authorize URL.
func (h *OAuthHandler) Install(w http.ResponseWriter, r *http.Request) {
	mode, err := domain.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "", "mode must be test or live")
		return
	}
	result, err := h.install.Execute(r.Context(), mode)
	if err != nil {
		var misconfigured *oauth.MisconfiguredModeError
		if errors.As(err, &misconfigured) {
			writeErr(w, http.StatusInternalServerError, "", misconfigured.Error())
			return
		}
		h.log.Error().Err(err).Msg("install failed")
		writeErr(w, http.StatusInternalServerError, "", "internal error")
		return
	}
	http.Redirect(w, r, result.AuthorizeURL, http.StatusFound)
}

// Callback handles GET /oauth/callback?code=…&state=…. The code and tokens
// never appear in the response or the logs.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	if code == "" {
		h.renderFailure(w, http.StatusBadRequest, "The authorization response was malformed.")
		return
	}
	result, err := h.callback.Execute(r.Context(), oauth.CallbackInput{
		Code:        code,
		State:       q.Get("state"),
		AccountHint: q.Get("account"),
	})
	if err != nil {
		middleware.RecordTokenOperation("exchange", false)
		switch {
		case errors.Is(err, domerrors.ErrInvalidState):
			AuditEmit(h.log, r, h.emitter, "oauth.callback", "", "", false, "invalid state")
			h.renderFailure(w, http.StatusForbidden, "This installation link has expired or was already used. Please start over from the install page.")
		case errors.Is(err, domerrors.ErrUpstreamAuth), errors.Is(err, domerrors.ErrUpstreamMalformed), errors.Is(err, domerrors.ErrUpstreamTransient):
			AuditEmit(h.log, r, h.emitter, "oauth.callback", "", "", false, "token exchange failed")
			h.renderFailure(w, http.StatusBadGateway, "We could not complete the connection with Stripe. Please try again.")
		default:
			h.log.Error().Err(err).Msg("oauth callback failed")
			h.renderFailure(w, http.StatusInternalServerError, "Something went wrong on our side. Please try again.")
		}
		return
	}
	middleware.RecordTokenOperation("exchange", true)
	AuditEmit(h.log, r, h.emitter, "oauth.callback", result.TenantID, "", true, "")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = successTemplate.Execute(w, map[string]string{
		"Mode": domain.ModeFromLivemode(result.Livemode).String(),
	})
}

// Disconnect handles DELETE /connection?mode=… for a signed dashboard call.
func (h *OAuthHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFromContext(r.Context())
	if identity == nil {
		writeErr(w, http.StatusUnauthorized, "", "unauthorized")
		return
	}
	mode, err := domain.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "", "mode must be test or live")
		return
	}
	if err := h.disconnect.Execute(r.Context(), identity.TenantID, mode.Livemode()); err != nil {
		if errors.Is(err, domerrors.ErrNotConnected) {
			writeErr(w, http.StatusNotFound, ErrCodeNeverConnected, "no connection for this mode")
			return
		}
		h.log.Error().Err(err).Msg("disconnect failed")
		writeErr(w, http.StatusInternalServerError, "", "internal error")
		return
	}
	AuditEmit(h.log, r, h.emitter, "oauth.disconnect", identity.TenantID, identity.UserID, true, "")
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected", "mode": mode.String()})
}

func (h *OAuthHandler) renderFailure(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_ = failureTemplate.Execute(w, map[string]string{"Message": message})
}
