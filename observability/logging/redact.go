package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces secrets in log output.
const RedactedValue = "[REDACTED]"

// secretKeys name attributes that carry credentials. The JSON handler masks
// them wherever they appear, including inside groups.
var secretKeys = map[string]struct{}{
	"authorization":  {},
	"bearer":         {},
	"dsn":            {},
	"hmac_secret":    {},
	"passphrase":     {},
	"private_key":    {},
	"secret":         {},
	"token":          {},
	"x-escrow-token": {},
}

// IsSecretKey reports whether values logged under key are always masked.
func IsSecretKey(key string) bool {
	_, ok := secretKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskValue returns RedactedValue for non-empty values. Empty values pass
// through so a missing credential is still visible.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField returns an attribute whose value is masked when non-empty,
// whatever the key.
func MaskField(key, value string) slog.Attr {
	return slog.String(key, MaskValue(value))
}

func redactAttr(attr slog.Attr) slog.Attr {
	if !IsSecretKey(attr.Key) || attr.Value.Kind() == slog.KindGroup {
		return attr
	}
	return slog.String(attr.Key, MaskValue(attr.Value.String()))
}
