package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	domerrors "github.com/stripe-experiments/sync-data-stripe-app/internal/domain/errors"
)

// DefaultSignatureTolerance bounds the replay window for signed dashboard requests.
const DefaultSignatureTolerance = 300 * time.Second

// signatureHeader is the parsed form of "t=<unix>,v1=<hex>". Extra keys are ignored.
type signatureHeader struct {
	timestamp int64
	v1        []string
}

func parseSignatureHeader(header string) (*signatureHeader, error) {
	parsed := &signatureHeader{timestamp: -1}
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return nil, domerrors.ErrInvalidSignature
			}
			parsed.timestamp = ts
		case "v1":
			parsed.v1 = append(parsed.v1, kv[1])
		}
	}
	if parsed.timestamp == -1 || len(parsed.v1) == 0 {
		return nil, domerrors.ErrInvalidSignature
	}
	return parsed, nil
}

// VerifySignature checks an HMAC-SHA256 signature header over <t>.<payload>.
// Each configured secret is tried in order so secrets can rotate without
// invalidating in-flight dashboards. Comparison is constant-time; no error
// reveals which secret, if any, was close.
func VerifySignature(header string, payload []byte, secrets []string, tolerance time.Duration, now time.Time) error {
	if len(secrets) == 0 {
		return domerrors.ErrMisconfigured
	}
	if header == "" {
		return domerrors.ErrMissingHeader
	}
	parsed, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}
	diff := now.Unix() - parsed.timestamp
	if diff < 0 {
		diff = -diff
	}
	if diff > int64(tolerance/time.Second) {
		return domerrors.ErrInvalidSignature
	}
	signed := append([]byte(strconv.FormatInt(parsed.timestamp, 10)+"."), payload...)
	for _, secret := range secrets {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(signed)
		expected := hex.EncodeToString(mac.Sum(nil))
		for _, got := range parsed.v1 {
			if hmac.Equal([]byte(expected), []byte(got)) {
				return nil
			}
		}
	}
	return domerrors.ErrInvalidSignature
}

// SignPayload produces a "t=...,v1=..." header for the given payload. Used by
// tests and local tooling; the dashboard side normally signs.
func SignPayload(payload []byte, secret string, now time.Time) string {
	ts := strconv.FormatInt(now.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "."))
	mac.Write(payload)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}
