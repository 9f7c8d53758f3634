package middleware

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/infrastructure/crypto"
)

func signedHeader(userID, accountID, secret string) string {
	payload := []byte(fmt.Sprintf(`{"user_id":%q,"account_id":%q}`, userID, accountID))
	return crypto.SignPayload(payload, secret, time.Now())
}

func verifiedIdentity(t *testing.T, verifier *SignatureVerifier, r *http.Request) (*Identity, *httptest.ResponseRecorder) {
	t.Helper()
	var got *Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	verifier.Handler(next).ServeHTTP(rec, r)
	return got, rec
}

func TestSignatureMiddlewareGETFromQuery(t *testing.T) {
	verifier := NewSignatureVerifier([]string{"whsec_a"}, 0)
	r := httptest.NewRequest(http.MethodGet, "/status?user_id=usr_1&account_id=acct_X&mode=test", nil)
	r.Header.Set(SignatureHeader, signedHeader("usr_1", "acct_X", "whsec_a"))

	id, rec := verifiedIdentity(t, verifier, r)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, id)
	assert.Equal(t, "usr_1", id.UserID)
	assert.Equal(t, "acct_X", id.TenantID)
}

func TestSignatureMiddlewarePOSTFromBody(t *testing.T) {
	verifier := NewSignatureVerifier([]string{"whsec_a"}, 0)
	body := `{"user_id":"usr_1","account_id":"acct_X","extra":"ok"}`
	r := httptest.NewRequest(http.MethodPost, "/provision", strings.NewReader(body))
	r.Header.Set(SignatureHeader, signedHeader("usr_1", "acct_X", "whsec_a"))

	var handlerBody string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		handlerBody = string(raw)
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	verifier.Handler(next).ServeHTTP(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, handlerBody, "body is restored for the handler")
}

func TestSignatureMiddlewareRotatedSecret(t *testing.T) {
	verifier := NewSignatureVerifier([]string{"whsec_new", "whsec_old"}, 0)
	r := httptest.NewRequest(http.MethodGet, "/status?user_id=u&account_id=a", nil)
	r.Header.Set(SignatureHeader, signedHeader("u", "a", "whsec_old"))

	_, rec := verifiedIdentity(t, verifier, r)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSignatureMiddlewareMissingIdentifiersIs400(t *testing.T) {
	verifier := NewSignatureVerifier([]string{"whsec_a"}, 0)

	r := httptest.NewRequest(http.MethodGet, "/status?user_id=u", nil)
	r.Header.Set(SignatureHeader, signedHeader("u", "", "whsec_a"))
	_, rec := verifiedIdentity(t, verifier, r)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Non-string field in a JSON body is also a 400.
	r = httptest.NewRequest(http.MethodPost, "/provision", strings.NewReader(`{"user_id":42,"account_id":"acct_X"}`))
	r.Header.Set(SignatureHeader, signedHeader("42", "acct_X", "whsec_a"))
	_, rec = verifiedIdentity(t, verifier, r)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignatureMiddlewareMissingHeaderIs401(t *testing.T) {
	verifier := NewSignatureVerifier([]string{"whsec_a"}, 0)
	r := httptest.NewRequest(http.MethodGet, "/status?user_id=u&account_id=a", nil)
	_, rec := verifiedIdentity(t, verifier, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignatureMiddlewareWrongSecretIs401(t *testing.T) {
	verifier := NewSignatureVerifier([]string{"whsec_a"}, 0)
	r := httptest.NewRequest(http.MethodGet, "/status?user_id=u&account_id=a", nil)
	r.Header.Set(SignatureHeader, signedHeader("u", "a", "whsec_other"))
	id, rec := verifiedIdentity(t, verifier, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, id)
}

func TestSignatureMiddlewareTamperedIdentifiersIs401(t *testing.T) {
	verifier := NewSignatureVerifier([]string{"whsec_a"}, 0)
	// Signed for acct_X, replayed against acct_Y.
	r := httptest.NewRequest(http.MethodGet, "/status?user_id=u&account_id=acct_Y", nil)
	r.Header.Set(SignatureHeader, signedHeader("u", "acct_X", "whsec_a"))
	_, rec := verifiedIdentity(t, verifier, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignatureMiddlewareNoSecretsIs500(t *testing.T) {
	verifier := NewSignatureVerifier(nil, 0)
	r := httptest.NewRequest(http.MethodGet, "/status?user_id=u&account_id=a", nil)
	r.Header.Set(SignatureHeader, signedHeader("u", "a", "whsec_a"))
	_, rec := verifiedIdentity(t, verifier, r)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSignatureMiddlewareStaleTimestampIs401(t *testing.T) {
	verifier := NewSignatureVerifier([]string{"whsec_a"}, 0)
	payload := []byte(`{"user_id":"u","account_id":"a"}`)
	stale := crypto.SignPayload(payload, "whsec_a", time.Now().Add(-10*time.Minute))
	r := httptest.NewRequest(http.MethodGet, "/status?user_id=u&account_id=a", nil)
	r.Header.Set(SignatureHeader, stale)
	_, rec := verifiedIdentity(t, verifier, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
