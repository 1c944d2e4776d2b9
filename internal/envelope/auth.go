package envelope

import (
	"encoding/base64"
	"strings"
)

// ParseSentryAuth pulls the sentry_key value out of an X-Sentry-Auth header
// of the form "Sentry sentry_version=7, sentry_key=abc, ...". Returns ""
// when the header does not carry a key.
func ParseSentryAuth(header string) string {
	header = strings.TrimSpace(header)
	if rest, ok := cutPrefixFold(header, "Sentry "); ok {
		header = rest
	}
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		if strings.TrimSpace(k) == "sentry_key" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// ParseBasicKey decodes an HTTP Basic Authorization value and returns the
// username portion, which SDKs populate with the public key.
func ParseBasicKey(header string) string {
	rest, ok := cutPrefixFold(strings.TrimSpace(header), "Basic ")
	if !ok {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(rest))
	if err != nil {
		return ""
	}
	key, _, _ := strings.Cut(string(decoded), ":")
	return key
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}
