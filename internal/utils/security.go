package contextutils

import (
	"net/url"
	"strings"
)

// MaskAPIKey keeps the first and last four characters of a provider key for log output
func MaskAPIKey(apiKey string) string {
	if apiKey == "" {
		return "[EMPTY]"
	}

	if len(apiKey) <= 8 {
		return strings.Repeat("*", len(apiKey))
	}

	return apiKey[:4] + strings.Repeat("*", len(apiKey)-8) + apiKey[len(apiKey)-4:]
}

// MaskDatabaseURL replaces the user and password of a postgres URL with ***.
// Keyword/value connection strings without credentials are returned unchanged.
func MaskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err == nil && u.User != nil {
		u.User = url.UserPassword("***", "***")
		return strings.ReplaceAll(u.String(), "%2A%2A%2A", "***")
	}
	if i := strings.LastIndex(raw, "@"); i >= 0 {
		return "postgres://***:***@" + raw[i+1:]
	}
	return raw
}
