package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces credentials in log output.
const RedactedValue = "[REDACTED]"

// plainKeys carry addresses or settings and are logged verbatim.
var plainKeys = map[string]struct{}{
	"admin":    {},
	"caller":   {},
	"driver":   {},
	"endpoint": {},
	"period":   {},
	"updater":  {},
}

// MaskField returns an attribute whose value is replaced by RedactedValue
// unless key is a plain key. Empty values pass through.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" {
		return slog.String(key, value)
	}
	if _, ok := plainKeys[strings.ToLower(strings.TrimSpace(key))]; ok {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
