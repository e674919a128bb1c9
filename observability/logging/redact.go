package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// safeKeys may be logged verbatim through MaskField.
var safeKeys = map[string]bool{
	"service":     true,
	"env":         true,
	"component":   true,
	"error":       true,
	"reason":      true,
	"participant": true,
	"token_id":    true,
	"epoch":       true,
	"amount":      true,
	"request_id":  true,
	"method":      true,
	"path":        true,
	"status":      true,
}

// secretMarkers flag attribute keys whose values never reach the log,
// whichever call site produced them.
var secretMarkers = []string{"authorization", "secret", "password", "bearer", "jwt"}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// IsAllowlisted reports whether key may be logged without masking.
func IsAllowlisted(key string) bool {
	return safeKeys[normalizeKey(key)]
}

func isSecretKey(key string) bool {
	k := normalizeKey(key)
	for _, marker := range secretMarkers {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return false
}

// MaskField returns value under key unless the key is unknown, in which case
// the value is replaced. Empty values pass through.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// scrubSecrets is installed in the handler so a secret logged by mistake is
// still masked.
func scrubSecrets(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindString && attr.Value.String() != "" && isSecretKey(attr.Key) {
		return slog.String(attr.Key, RedactedValue)
	}
	return attr
}
