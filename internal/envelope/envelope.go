// Package envelope implements the newline-delimited wire format Sentry SDKs
// send, plus the DSN and auth-header parsing that goes with it. Parsing is
// deliberately lenient: SDKs in the wild disagree on details, and a single
// bad item must never cost the rest of the envelope.
package envelope

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/tracelight/tracelight/internal/event"
)

var (
	ErrEmptyBody = errors.New("empty body")
	ErrBadHeader = errors.New("malformed envelope header")
)

// Envelope is the decoded wire form: one header object followed by a
// sequence of (item header, payload) pairs.
type Envelope struct {
	Header map[string]any
	Items  []Item
}

// Item is a single envelope item. Payload is a map[string]any when the
// payload line held a JSON object, otherwise the raw line as a string.
type Item struct {
	Header  map[string]any
	Payload any
}

// Type returns the item's declared type, or "" when absent.
func (i Item) Type() string {
	t, _ := i.Header["type"].(string)
	return t
}

// Parse decodes an envelope body. The first line must be a JSON object; a
// failure there aborts the whole envelope. After that, each item is a JSON
// header line followed by one payload line. A malformed item header is
// skipped, blank lines between items are tolerated, and an item truncated
// before its payload line yields an empty payload.
func Parse(body []byte) (*Envelope, error) {
	text := strings.ReplaceAll(string(body), "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyBody
	}
	lines := strings.Split(text, "\n")

	var header map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &header); err != nil {
		return nil, ErrBadHeader
	}
	env := &Envelope{Header: header}

	for i := 1; i < len(lines); i++ {
		line := lines[i]
		if strings.TrimSpace(line) == "" {
			continue
		}
		var itemHeader map[string]any
		if err := json.Unmarshal([]byte(line), &itemHeader); err != nil {
			continue
		}
		payloadLine := ""
		if i+1 < len(lines) {
			payloadLine = lines[i+1]
		}
		if n, ok := itemHeader["length"].(float64); ok {
			if ln := int(n); ln >= 0 && ln <= len(payloadLine) {
				payloadLine = payloadLine[:ln]
			}
		}
		env.Items = append(env.Items, Item{Header: itemHeader, Payload: decodePayload(payloadLine)})
		i++
	}
	return env, nil
}

func decodePayload(line string) any {
	if strings.TrimSpace(line) == "" {
		return ""
	}
	var v any
	if err := json.Unmarshal([]byte(line), &v); err != nil {
		return line
	}
	return v
}

// Events extracts the items that carry event payloads (type event or
// transaction) and fills in the fields the rest of the pipeline requires:
// a 32-hex event_id and a timestamp.
func Events(env *Envelope, now func() time.Time) []event.Payload {
	var out []event.Payload
	for _, item := range env.Items {
		switch item.Type() {
		case "event", "transaction":
		default:
			continue
		}
		m, ok := item.Payload.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, fill(event.FromMap(m), now))
	}
	return out
}

// ParseSingle decodes the legacy store body: one JSON event, no envelope
// wrapper.
func ParseSingle(body []byte, now func() time.Time) (event.Payload, error) {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return event.Payload{}, ErrBadHeader
	}
	return fill(event.FromMap(m), now), nil
}

func fill(p event.Payload, now func() time.Time) event.Payload {
	if p.EventID() == "" {
		p.SetEventID(event.NewID())
	}
	if _, ok := p.Timestamp(); !ok {
		p.SetTimestamp(now())
	}
	return p
}
