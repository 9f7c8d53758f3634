package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/infrastructure/crypto"

	domerrors "github.com/stripe-experiments/sync-data-stripe-app/internal/domain/errors"
)

// SignatureHeader carries the dashboard request signature.
const SignatureHeader = "Stripe-Signature"

const maxSignedBodyBytes = 1 << 20

// SignatureVerifier authenticates dashboard-to-backend calls: it parses the
// signature header, reconstructs the canonical payload from the request, and
// verifies the HMAC against every configured secret (rotation-safe).
type SignatureVerifier struct {
	secrets   []string
	tolerance time.Duration
	now       func() time.Time
}

func NewSignatureVerifier(secrets []string, tolerance time.Duration) *SignatureVerifier {
	if tolerance <= 0 {
		tolerance = crypto.DefaultSignatureTolerance
	}
	return &SignatureVerifier{secrets: secrets, tolerance: tolerance, now: time.Now}
}

func (m *SignatureVerifier) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, accountID, err := extractIdentifiers(r)
		if err != nil {
			writeErrSig(w, http.StatusBadRequest, "invalid_request", "user_id and account_id are required")
			return
		}
		payload := canonicalPayload(userID, accountID)
		err = crypto.VerifySignature(r.Header.Get(SignatureHeader), payload, m.secrets, m.tolerance, m.now())
		switch {
		case err == nil:
		case errors.Is(err, domerrors.ErrMisconfigured):
			writeErrSig(w, http.StatusInternalServerError, "internal_error", "signature verification unavailable")
			return
		case errors.Is(err, domerrors.ErrMissingHeader):
			writeErrSig(w, http.StatusUnauthorized, "unauthorized", "missing signature header")
			return
		default:
			writeErrSig(w, http.StatusUnauthorized, "unauthorized", "invalid signature")
			return
		}
		ctx := WithIdentity(r.Context(), &Identity{UserID: userID, TenantID: accountID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// canonicalPayload is the exact byte sequence the dashboard signed: the two
// fields in this order, no whitespace.
func canonicalPayload(userID, accountID string) []byte {
	return []byte(fmt.Sprintf(`{"user_id":%q,"account_id":%q}`, userID, accountID))
}

// extractIdentifiers pulls user_id/account_id from the query string for
// bodyless methods, from the JSON body otherwise. The body is restored so
// handlers can re-read it.
func extractIdentifiers(r *http.Request) (userID, accountID string, err error) {
	if r.Method == http.MethodGet || r.Method == http.MethodDelete {
		q := r.URL.Query()
		userID, accountID = q.Get("user_id"), q.Get("account_id")
		if userID == "" || accountID == "" {
			return "", "", domerrors.ErrMissingIdentifiers
		}
		return userID, accountID, nil
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBodyBytes))
	if err != nil {
		return "", "", err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))

	var body struct {
		UserID    any `json:"user_id"`
		AccountID any `json:"account_id"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", "", domerrors.ErrMissingIdentifiers
	}
	u, uok := body.UserID.(string)
	a, aok := body.AccountID.(string)
	if !uok || !aok || u == "" || a == "" {
		// Missing or non-string fields are a 400, not a signature failure.
		return "", "", domerrors.ErrMissingIdentifiers
	}
	return u, a, nil
}

func writeErrSig(w http.ResponseWriter, code int, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": errCode})
}
