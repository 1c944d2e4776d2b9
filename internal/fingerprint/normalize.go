package fingerprint

import (
	"regexp"
	"strings"
)

// The normalizer strips the volatile parts out of log messages so that
// "request 123456 failed" and "request 654321 failed" group together.
// Replacement order matters: UUIDs before generic hex runs, hex before
// decimal runs.
var (
	uuidRe      = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	hexRunRe    = regexp.MustCompile(`\b[0-9a-fA-F]{24,}\b`)
	numRunRe    = regexp.MustCompile(`\b\d{6,}\b`)
	timestampRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?`)
	ipv4Re      = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	emailRe     = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

const maxNormalized = 500

// Normalize collapses identifiers, timestamps, addresses, and whitespace in
// a message down to stable placeholders.
func Normalize(msg string) string {
	s := uuidRe.ReplaceAllString(msg, "<uuid>")
	s = hexRunRe.ReplaceAllString(s, "<id>")
	s = numRunRe.ReplaceAllString(s, "<num>")
	s = timestampRe.ReplaceAllString(s, "<timestamp>")
	s = ipv4Re.ReplaceAllString(s, "<ip>")
	s = emailRe.ReplaceAllString(s, "<email>")
	s = spaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	return truncate(s, maxNormalized)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
