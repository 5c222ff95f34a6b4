package logger

import (
	"regexp"
	"strings"
)

var (
	bearerRe = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._\-]+`)
	skRe     = regexp.MustCompile(`sk-[A-Za-z0-9\-_]{8,}`)
	dsnRe    = regexp.MustCompile(`://([^:@/]+):([^@/]+)@`)
)

var secretKeyHints = []string{"key", "token", "secret", "password", "dsn"}

// redactValue masks credential material. Fields whose key suggests a secret
// are fully masked; other fields have embedded bearer tokens, provider keys,
// and DSN passwords scrubbed.
func redactValue(key, val string) string {
	lower := strings.ToLower(key)
	for _, hint := range secretKeyHints {
		if strings.Contains(lower, hint) {
			return Mask(val)
		}
	}
	val = bearerRe.ReplaceAllString(val, "Bearer ***")
	val = skRe.ReplaceAllString(val, "sk-***")
	val = dsnRe.ReplaceAllString(val, "://$1:***@")
	return val
}

// Mask keeps the first four characters of a secret for correlation and hides
// the rest. Short secrets are fully hidden.
func Mask(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "***"
}
