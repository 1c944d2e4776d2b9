// Package event wraps one decoded SDK event payload. The underlying map is
// kept verbatim so the stored blob matches what the SDK sent; accessors pull
// out the handful of fields the grouping and storage layers care about.
package event

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimeLayout is the fixed-width UTC encoding used for every indexed
// timestamp. Fixed width keeps lexicographic order equal to chronological
// order, which the keyset cursors rely on.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Payload is a single event as decoded from an envelope item or a legacy
// store body.
type Payload struct {
	raw map[string]any
}

// FromMap wraps an already-decoded JSON object.
func FromMap(m map[string]any) Payload {
	if m == nil {
		m = map[string]any{}
	}
	return Payload{raw: m}
}

// Raw returns the underlying map. Mutations through SetEventID and
// SetTimestamp are visible here, which is intentional: generated ids must
// end up in the stored blob.
func (p Payload) Raw() map[string]any { return p.raw }

func (p Payload) str(key string) string {
	return asString(p.raw[key])
}

func (p Payload) EventID() string     { return p.str("event_id") }
func (p Payload) Level() string       { return p.str("level") }
func (p Payload) Platform() string    { return p.str("platform") }
func (p Payload) Environment() string { return p.str("environment") }
func (p Payload) Release() string     { return p.str("release") }
func (p Payload) Transaction() string { return p.str("transaction") }

func (p Payload) SetEventID(id string) { p.raw["event_id"] = id }

// SetTimestamp stores a server-side timestamp for payloads that arrived
// without one.
func (p Payload) SetTimestamp(t time.Time) { p.raw["timestamp"] = FormatTime(t) }

// Timestamp parses the SDK-supplied timestamp, accepting RFC3339 strings and
// numeric epoch seconds. ok is false when the field is absent or unreadable.
func (p Payload) Timestamp() (time.Time, bool) {
	switch v := p.raw["timestamp"].(type) {
	case string:
		return ParseTime(v)
	case float64:
		sec := int64(v)
		nsec := int64((v - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC(), true
	case int64:
		return time.Unix(v, 0).UTC(), true
	}
	return time.Time{}, false
}

// Message returns the log message, accepting both the bare-string form and
// the interface form {"message": {"formatted": ..., "message": ...}}.
func (p Payload) Message() string {
	switch v := p.raw["message"].(type) {
	case string:
		return v
	case map[string]any:
		if s := asString(v["formatted"]); s != "" {
			return s
		}
		return asString(v["message"])
	}
	return ""
}

// FingerprintTokens returns the SDK-supplied fingerprint list, stringified.
func (p Payload) FingerprintTokens() []string {
	list, ok := p.raw["fingerprint"].([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	toks := make([]string, 0, len(list))
	for _, v := range list {
		toks = append(toks, asString(v))
	}
	return toks
}

// User identifies the end user an event was reported for.
type User struct {
	ID        string
	Email     string
	IPAddress string
	Username  string
}

// Identifier returns the first non-empty identifying field, the value unique
// user counting hashes over.
func (u User) Identifier() string {
	for _, s := range []string{u.ID, u.Email, u.IPAddress, u.Username} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (p Payload) User() User {
	m, ok := p.raw["user"].(map[string]any)
	if !ok {
		return User{}
	}
	return User{
		ID:        asString(m["id"]),
		Email:     asString(m["email"]),
		IPAddress: asString(m["ip_address"]),
		Username:  asString(m["username"]),
	}
}

// Tags returns event tags. Both the object form and the older
// array-of-pairs form are accepted.
func (p Payload) Tags() map[string]string {
	out := map[string]string{}
	switch v := p.raw["tags"].(type) {
	case map[string]any:
		for k, val := range v {
			out[k] = asString(val)
		}
	case []any:
		for _, pair := range v {
			kv, ok := pair.([]any)
			if !ok || len(kv) != 2 {
				continue
			}
			out[asString(kv[0])] = asString(kv[1])
		}
	}
	return out
}

// Frame is one stack frame as reported by the SDK, oldest-first in the
// original slice order.
type Frame struct {
	Filename string
	Function string
	Lineno   int
	InApp    bool
}

// Exception is the primary exception value of an event.
type Exception struct {
	Type   string
	Value  string
	Frames []Frame
}

// Exception extracts the first exception value. SDKs wrap values in
// {"values": [...]}, older ones send a bare list or a single object; all
// three forms are accepted.
func (p Payload) Exception() (Exception, bool) {
	var val map[string]any
	switch v := p.raw["exception"].(type) {
	case map[string]any:
		if list, ok := v["values"].([]any); ok {
			val = firstObject(list)
		} else {
			val = v
		}
	case []any:
		val = firstObject(v)
	}
	if val == nil {
		return Exception{}, false
	}
	exc := Exception{
		Type:  asString(val["type"]),
		Value: asString(val["value"]),
	}
	if st, ok := val["stacktrace"].(map[string]any); ok {
		if frames, ok := st["frames"].([]any); ok {
			for _, f := range frames {
				fm, ok := f.(map[string]any)
				if !ok {
					continue
				}
				fr := Frame{
					Filename: asString(fm["filename"]),
					Function: asString(fm["function"]),
				}
				if fr.Filename == "" {
					fr.Filename = asString(fm["abs_path"])
				}
				if n, ok := fm["lineno"].(float64); ok {
					fr.Lineno = int(n)
				}
				if b, ok := fm["in_app"].(bool); ok {
					fr.InApp = b
				}
				exc.Frames = append(exc.Frames, fr)
			}
		}
	}
	if exc.Type == "" && exc.Value == "" && len(exc.Frames) == 0 {
		return Exception{}, false
	}
	return exc, true
}

func firstObject(list []any) map[string]any {
	for _, v := range list {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return nil
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	case int64:
		return strconv.FormatInt(s, 10)
	}
	return ""
}

// NewID returns a fresh 32-character lowercase hex identifier, the same
// shape SDKs use for event_id.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// FormatTime renders t in the fixed-width UTC layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts the fixed layout plus the RFC3339 variants SDKs send.
// Zone-less timestamps are taken as UTC.
func ParseTime(s string) (time.Time, bool) {
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.UTC); err == nil {
		return t, true
	}
	return time.Time{}, false
}
