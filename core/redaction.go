package core

import (
	"regexp"
	"strings"
)

// RedactedValue replaces secret material in log fields.
const RedactedValue = "[REDACTED]"

// secretFields always carry token, password or grant material.
var secretFields = map[string]struct{}{
	"access_token":     {},
	"refresh_token":    {},
	"id_token":         {},
	"code":             {},
	"state":            {},
	"password":         {},
	"current_password": {},
	"new_password":     {},
	"client_secret":    {},
	"authorization":    {},
	"credential":       {},
}

// secretSuffixes catch prefixed spellings such as youtube_refresh_token.
var secretSuffixes = []string{"_token", "_secret", "_password", "_nonce"}

var bearerPattern = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9\-._~+/]+=*`)

// ScrubLogFields copies fields with secret values replaced. Nested maps and
// slices are walked, and bearer tokens are masked inside any string, so an
// error message that echoes a header does not leak it.
func ScrubLogFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		if isSecretField(key) {
			out[key] = RedactedValue
			continue
		}
		out[key] = scrubValue(value)
	}
	return out
}

func scrubValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return ScrubLogFields(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = scrubValue(item)
		}
		return out
	case string:
		return bearerPattern.ReplaceAllString(v, "Bearer "+RedactedValue)
	default:
		return value
	}
}

func isSecretField(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if _, ok := secretFields[key]; ok {
		return true
	}
	for _, suffix := range secretSuffixes {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}
