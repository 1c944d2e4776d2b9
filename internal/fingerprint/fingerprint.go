// Package fingerprint derives the stable grouping key for an event, plus
// the human-facing title, culprit, and metadata shown on the issue. The key
// must be deterministic across restarts: a randomized hasher would split
// every issue on redeploy.
package fingerprint

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/tracelight/tracelight/internal/event"
)

const defaultToken = "{{ default }}"

// Metadata is the small summary object stored on an issue.
type Metadata struct {
	Type     string `json:"type,omitempty"`
	Value    string `json:"value,omitempty"`
	Filename string `json:"filename,omitempty"`
	Function string `json:"function,omitempty"`
}

// Grouping is everything the storage layer derives from event content when
// an issue is created.
type Grouping struct {
	Fingerprint string
	Title       string
	Culprit     string
	Metadata    Metadata
}

// Compute maps an event to its grouping. Priority: explicit SDK fingerprint
// tokens, then the exception tuple, then level+message, then the event id
// (which effectively disables grouping for that event).
func Compute(p event.Payload) Grouping {
	exc, hasExc := p.Exception()
	msg := p.Message()
	return Grouping{
		Fingerprint: groupingKey(p, exc, hasExc, msg),
		Title:       title(exc, hasExc, msg),
		Culprit:     culprit(p, exc, hasExc),
		Metadata:    metadata(exc, hasExc, msg),
	}
}

func groupingKey(p event.Payload, exc event.Exception, hasExc bool, msg string) string {
	if toks := p.FingerprintTokens(); explicit(toks) {
		return hashTuple(toks)
	}
	if hasExc {
		typ := exc.Type
		if typ == "" {
			typ = "Error"
		}
		parts := []string{typ, Normalize(exc.Value)}
		for _, f := range topFrames(exc.Frames, 3) {
			parts = append(parts, frameKey(f))
		}
		return hashTuple(parts)
	}
	if msg != "" {
		level := p.Level()
		if level == "" {
			level = "error"
		}
		return hashTuple([]string{level, Normalize(msg)})
	}
	return hashTuple([]string{p.EventID()})
}

// explicit reports whether the SDK pinned the grouping itself. A list that
// only repeats the default placeholder means "group as usual".
func explicit(toks []string) bool {
	if len(toks) == 0 {
		return false
	}
	for _, t := range toks {
		if t != defaultToken {
			return true
		}
	}
	return false
}

// topFrames picks the frames that enter the grouping tuple. SDKs send
// frames oldest-first, so the slice is reversed before selecting up to n
// in-app frames, falling back to any frames when nothing is marked in-app.
func topFrames(frames []event.Frame, n int) []event.Frame {
	if len(frames) == 0 {
		return nil
	}
	rev := make([]event.Frame, 0, len(frames))
	for i := len(frames) - 1; i >= 0; i-- {
		rev = append(rev, frames[i])
	}
	pick := rev
	var inApp []event.Frame
	for _, f := range rev {
		if f.InApp {
			inApp = append(inApp, f)
		}
	}
	if len(inApp) > 0 {
		pick = inApp
	}
	if len(pick) > n {
		pick = pick[:n]
	}
	return pick
}

func frameKey(f event.Frame) string {
	parts := make([]string, 0, 3)
	if fn := stripQuery(f.Filename); fn != "" {
		parts = append(parts, fn)
	}
	if f.Function != "" {
		parts = append(parts, f.Function)
	}
	if f.Lineno > 0 {
		parts = append(parts, strconv.Itoa(f.Lineno))
	}
	return strings.Join(parts, ":")
}

func stripQuery(filename string) string {
	if i := strings.IndexAny(filename, "?#"); i >= 0 {
		return filename[:i]
	}
	return filename
}

func hashTuple(parts []string) string {
	h := fnv.New32a()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte("||"))
		}
		h.Write([]byte(p))
	}
	return fmt.Sprintf("%08x", h.Sum32())
}

func title(exc event.Exception, hasExc bool, msg string) string {
	if hasExc {
		typ := exc.Type
		if typ == "" {
			typ = "Error"
		}
		val := exc.Value
		if len([]rune(val)) > 97 {
			val = truncate(val, 97) + "..."
		}
		if val == "" {
			return typ
		}
		return typ + ": " + val
	}
	if msg != "" {
		if len([]rune(msg)) > 125 {
			return truncate(msg, 125) + "..."
		}
		return msg
	}
	return "Unknown Error"
}

func culprit(p event.Payload, exc event.Exception, hasExc bool) string {
	if tx := p.Transaction(); tx != "" {
		return tx
	}
	if !hasExc || len(exc.Frames) == 0 {
		return ""
	}
	top := exc.Frames[len(exc.Frames)-1]
	parts := make([]string, 0, 3)
	if fn := stripQuery(top.Filename); fn != "" {
		parts = append(parts, fn)
	}
	if top.Function != "" {
		parts = append(parts, "in "+top.Function)
	}
	if top.Lineno > 0 {
		parts = append(parts, "at line "+strconv.Itoa(top.Lineno))
	}
	return strings.Join(parts, " ")
}

func metadata(exc event.Exception, hasExc bool, msg string) Metadata {
	if hasExc {
		typ := exc.Type
		if typ == "" {
			typ = "Error"
		}
		m := Metadata{Type: typ, Value: truncate(exc.Value, 200)}
		if len(exc.Frames) > 0 {
			top := exc.Frames[len(exc.Frames)-1]
			m.Filename = stripQuery(top.Filename)
			m.Function = top.Function
		}
		return m
	}
	if msg != "" {
		return Metadata{Value: truncate(msg, 200)}
	}
	return Metadata{}
}
