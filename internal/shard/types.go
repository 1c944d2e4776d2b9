package shard

import (
	"encoding/json"

	"github.com/tracelight/tracelight/internal/fingerprint"
)

// Issue is one grouped error, the unit of triage.
type Issue struct {
	ID          string               `json:"id"`
	Fingerprint string               `json:"fingerprint"`
	Title       string               `json:"title"`
	Culprit     string               `json:"culprit,omitempty"`
	Level       string               `json:"level"`
	Platform    string               `json:"platform,omitempty"`
	FirstSeen   string               `json:"first_seen"`
	LastSeen    string               `json:"last_seen"`
	Count       int64                `json:"count"`
	UserCount   int64                `json:"user_count"`
	Status      string               `json:"status"`
	Metadata    fingerprint.Metadata `json:"metadata"`
}

// Bucket is one hourly aggregation point.
type Bucket struct {
	Bucket string `json:"bucket"`
	Count  int64  `json:"count"`
}

// IssueDetail is an issue plus its recent hourly history (up to 7 days,
// oldest first).
type IssueDetail struct {
	Issue
	Stats []Bucket `json:"stats"`
}

// EventRecord is one stored event. Data carries the SDK payload exactly as
// it was ingested.
type EventRecord struct {
	ID          string            `json:"id"`
	IssueID     string            `json:"issue_id"`
	Timestamp   string            `json:"timestamp"`
	ReceivedAt  string            `json:"received_at"`
	Level       string            `json:"level,omitempty"`
	Platform    string            `json:"platform,omitempty"`
	Environment string            `json:"environment,omitempty"`
	Release     string            `json:"release,omitempty"`
	Transaction string            `json:"transaction,omitempty"`
	UserID      string            `json:"user_id,omitempty"`
	UserEmail   string            `json:"user_email,omitempty"`
	UserIP      string            `json:"user_ip,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	Data        json.RawMessage   `json:"data"`
}

// IssueFilter narrows and orders an issue listing.
type IssueFilter struct {
	Status      string
	Level       string
	Query       string
	Environment string
	Sort        string
	Cursor      string
	Limit       int
}

// IssuePage is one keyset page of issues.
type IssuePage struct {
	Issues     []Issue `json:"issues"`
	NextCursor string  `json:"next_cursor,omitempty"`
	HasMore    bool    `json:"has_more"`
}

// EventPage is one keyset page of events.
type EventPage struct {
	Events     []EventRecord `json:"events"`
	NextCursor string        `json:"next_cursor,omitempty"`
	HasMore    bool          `json:"has_more"`
}

// StatsQuery selects the aggregation window. Interval only picks the
// default window size when start/end are omitted.
type StatsQuery struct {
	Interval string
	Start    string
	End      string
}

// StatsResult is the project-wide event volume over a window.
type StatsResult struct {
	Total  int64    `json:"total"`
	Series []Bucket `json:"series"`
}

// UpdateRequest carries the mutable issue fields.
type UpdateRequest struct {
	Status *string `json:"status"`
}

// IngestResult reports where an event landed. Duplicate marks an event_id
// retry that was dropped without touching any counters.
type IngestResult struct {
	EventID   string
	IssueID   string
	Title     string
	Level     string
	Timestamp string
	Duplicate bool
}

func validStatus(s string) bool {
	switch s {
	case "unresolved", "resolved", "ignored":
		return true
	}
	return false
}

const (
	defaultLimit = 25
	maxLimit     = 100
)

func clampLimit(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}
