package provision

import "regexp"

// Fixed patterns for secret material that must never be persisted in an
// error_message: platform secret/restricted/publishable keys, rotating
// refresh tokens, JWTs, bearer headers.
var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(?:sk|rk|pk)_(?:live|test)_[A-Za-z0-9]+`),
	regexp.MustCompile(`\brt_[A-Za-z0-9]+`),
	regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+(?:\.[A-Za-z0-9_-]+)?`),
	regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._\-]+`),
}

// Redact replaces embedded secrets with [REDACTED] before a message is
// persisted or returned to the dashboard.
func Redact(message string) string {
	for _, p := range redactPatterns {
		message = p.ReplaceAllString(message, "[REDACTED]")
	}
	return message
}
