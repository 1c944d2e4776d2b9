package shard

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tracelight/tracelight/internal/event"
)

const issueCols = `id, fingerprint, title, culprit, level, platform, first_seen, last_seen, count, user_count, status, metadata`

const eventCols = `id, issue_id, timestamp, received_at, level, platform, environment, "release", transaction_name, user_id, user_email, user_ip, tags, data`

var sortColumns = map[string]string{
	"":           "last_seen",
	"last_seen":  "last_seen",
	"first_seen": "first_seen",
	"count":      "count",
	"user_count": "user_count",
}

// Issues lists issues matching the filter, newest on the sort field first.
// Pagination is keyset-based: one row beyond the limit is fetched to decide
// has_more, and the cursor is the sort-field value of the last row returned.
func (s *Shard) Issues(ctx context.Context, f IssueFilter) (IssuePage, error) {
	limit := clampLimit(f.Limit)
	col, ok := sortColumns[f.Sort]
	if !ok {
		col = "last_seen"
	}

	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Level != "" {
		where = append(where, "level = ?")
		args = append(args, f.Level)
	}
	if f.Query != "" {
		where = append(where, "(instr(lower(title), lower(?)) > 0 OR instr(lower(coalesce(culprit, '')), lower(?)) > 0)")
		args = append(args, f.Query, f.Query)
	}
	if f.Environment != "" {
		where = append(where, "id IN (SELECT DISTINCT issue_id FROM events WHERE environment = ?)")
		args = append(args, f.Environment)
	}
	if f.Cursor != "" {
		if cv, ok := cursorValue(col, f.Cursor); ok {
			where = append(where, col+" < ?")
			args = append(args, cv)
		}
	}

	q := "SELECT " + issueCols + " FROM issues"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY " + col + " DESC LIMIT ?"
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return IssuePage{}, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	issues := make([]Issue, 0, limit)
	for rows.Next() {
		it, err := scanIssue(rows)
		if err != nil {
			return IssuePage{}, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, it)
	}
	if err := rows.Err(); err != nil {
		return IssuePage{}, fmt.Errorf("list issues: %w", err)
	}

	page := IssuePage{Issues: issues}
	if len(issues) > limit {
		page.Issues = issues[:limit]
		page.HasMore = true
		page.NextCursor = sortValue(page.Issues[limit-1], col)
	}
	return page, nil
}

// cursorValue binds the cursor with the type the sort column compares
// against. An unparseable numeric cursor is ignored rather than erroring,
// which simply restarts the listing from the top.
func cursorValue(col, cursor string) (any, bool) {
	if col == "count" || col == "user_count" {
		n, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, false
		}
		return n, true
	}
	return cursor, true
}

func sortValue(it Issue, col string) string {
	switch col {
	case "first_seen":
		return it.FirstSeen
	case "count":
		return strconv.FormatInt(it.Count, 10)
	case "user_count":
		return strconv.FormatInt(it.UserCount, 10)
	default:
		return it.LastSeen
	}
}

// Issue returns one issue plus up to 168 most recent hourly buckets (a full
// week), oldest first.
func (s *Shard) Issue(ctx context.Context, id string) (IssueDetail, error) {
	it, err := s.issueByID(ctx, id)
	if err != nil {
		return IssueDetail{}, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT bucket_start, count FROM issue_stats WHERE issue_id = ? ORDER BY bucket_start DESC LIMIT 168`, id)
	if err != nil {
		return IssueDetail{}, fmt.Errorf("issue stats: %w", err)
	}
	defer rows.Close()

	var buckets []Bucket
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.Bucket, &b.Count); err != nil {
			return IssueDetail{}, fmt.Errorf("scan bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return IssueDetail{}, fmt.Errorf("issue stats: %w", err)
	}
	for i, j := 0, len(buckets)-1; i < j; i, j = i+1, j-1 {
		buckets[i], buckets[j] = buckets[j], buckets[i]
	}
	return IssueDetail{Issue: it, Stats: buckets}, nil
}

func (s *Shard) issueByID(ctx context.Context, id string) (Issue, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+issueCols+" FROM issues WHERE id = ?", id)
	it, err := scanIssue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Issue{}, ErrIssueNotFound
	}
	if err != nil {
		return Issue{}, fmt.Errorf("get issue: %w", err)
	}
	return it, nil
}

// UpdateIssue applies a status transition and returns the updated issue.
func (s *Shard) UpdateIssue(ctx context.Context, id string, upd UpdateRequest) (Issue, error) {
	if upd.Status == nil {
		return Issue{}, ErrNoUpdates
	}
	if !validStatus(*upd.Status) {
		return Issue{}, ErrBadStatus
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `UPDATE issues SET status = ? WHERE id = ?`, *upd.Status, id)
	if err != nil {
		return Issue{}, fmt.Errorf("update issue: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Issue{}, ErrIssueNotFound
	}
	return s.issueByID(ctx, id)
}

// DeleteIssue removes the issue and everything hanging off it: events,
// hourly buckets, and the user set.
func (s *Shard) DeleteIssue(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM issues WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete issue: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrIssueNotFound
	}
	for _, stmt := range []string{
		`DELETE FROM events WHERE issue_id = ?`,
		`DELETE FROM issue_stats WHERE issue_id = ?`,
		`DELETE FROM issue_users WHERE issue_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("cascade delete: %w", err)
		}
	}
	return tx.Commit()
}

// IssueEvents pages through one issue's events, newest first.
func (s *Shard) IssueEvents(ctx context.Context, issueID, cursor string, limit int) (EventPage, error) {
	if _, err := s.issueByID(ctx, issueID); err != nil {
		return EventPage{}, err
	}
	limit = clampLimit(limit)

	q := "SELECT " + eventCols + " FROM events WHERE issue_id = ?"
	args := []any{issueID}
	if cursor != "" {
		q += " AND timestamp < ?"
		args = append(args, cursor)
	}
	q += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return EventPage{}, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events, err := collectEvents(rows, limit)
	if err != nil {
		return EventPage{}, err
	}
	page := EventPage{Events: events}
	if len(events) > limit {
		page.Events = events[:limit]
		page.HasMore = true
		page.NextCursor = page.Events[limit-1].Timestamp
	}
	return page, nil
}

// Event looks up a single event by id.
func (s *Shard) Event(ctx context.Context, eventID string) (EventRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+eventCols+" FROM events WHERE id = ?", eventID)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return EventRecord{}, ErrEventNotFound
	}
	if err != nil {
		return EventRecord{}, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// LatestEvents returns the newest events across every issue in the shard.
func (s *Shard) LatestEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	limit = clampLimit(limit)
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+eventCols+" FROM events ORDER BY timestamp DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("latest events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows, limit)
}

// Stats aggregates hourly buckets across the whole project. With no
// explicit window, 1h and 1d intervals cover the last day and 1w the last
// week.
func (s *Shard) Stats(ctx context.Context, q StatsQuery) (StatsResult, error) {
	end := time.Now().UTC()
	if t, ok := event.ParseTime(q.End); ok {
		end = t
	}
	window := 24 * time.Hour
	if q.Interval == "1w" {
		window = 7 * 24 * time.Hour
	}
	start := end.Add(-window)
	if t, ok := event.ParseTime(q.Start); ok {
		start = t
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT bucket_start, SUM(count) FROM issue_stats
		 WHERE bucket_start >= ? AND bucket_start <= ?
		 GROUP BY bucket_start ORDER BY bucket_start ASC`,
		event.FormatTime(start), event.FormatTime(end))
	if err != nil {
		return StatsResult{}, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()

	out := StatsResult{Series: []Bucket{}}
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.Bucket, &b.Count); err != nil {
			return StatsResult{}, fmt.Errorf("scan stats: %w", err)
		}
		out.Series = append(out.Series, b)
		out.Total += b.Count
	}
	if err := rows.Err(); err != nil {
		return StatsResult{}, fmt.Errorf("stats: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIssue(row scanner) (Issue, error) {
	var it Issue
	var culprit sql.NullString
	var meta string
	if err := row.Scan(
		&it.ID, &it.Fingerprint, &it.Title, &culprit, &it.Level, &it.Platform,
		&it.FirstSeen, &it.LastSeen, &it.Count, &it.UserCount, &it.Status, &meta,
	); err != nil {
		return Issue{}, err
	}
	it.Culprit = culprit.String
	if meta != "" {
		_ = json.Unmarshal([]byte(meta), &it.Metadata)
	}
	return it, nil
}

func scanEvent(row scanner) (EventRecord, error) {
	var ev EventRecord
	var tags, data string
	if err := row.Scan(
		&ev.ID, &ev.IssueID, &ev.Timestamp, &ev.ReceivedAt, &ev.Level, &ev.Platform,
		&ev.Environment, &ev.Release, &ev.Transaction, &ev.UserID, &ev.UserEmail,
		&ev.UserIP, &tags, &data,
	); err != nil {
		return EventRecord{}, err
	}
	if tags != "" {
		_ = json.Unmarshal([]byte(tags), &ev.Tags)
	}
	ev.Data = json.RawMessage(data)
	return ev, nil
}

func collectEvents(rows *sql.Rows, capHint int) ([]EventRecord, error) {
	events := make([]EventRecord, 0, capHint)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}
