package shard

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tracelight/tracelight/internal/event"
	"github.com/tracelight/tracelight/internal/fingerprint"
)

// Ingest stores one event: it resolves the owning issue by fingerprint
// (creating it on first sight), appends the event with its payload kept
// verbatim, bumps the hourly bucket, and maintains the unique-user set. The
// whole sequence commits atomically; a retry with an already-stored
// event_id is dropped without touching any counters.
func (s *Shard) Ingest(ctx context.Context, p event.Payload) (IngestResult, error) {
	now := time.Now().UTC()
	eventID := p.EventID()
	if eventID == "" {
		eventID = event.NewID()
		p.SetEventID(eventID)
	}
	ts := now
	if t, ok := p.Timestamp(); ok {
		ts = t.UTC()
	}
	tsStr := event.FormatTime(ts)
	nowStr := event.FormatTime(now)

	g := fingerprint.Compute(p)
	raw, err := json.Marshal(p.Raw())
	if err != nil {
		return IngestResult{}, fmt.Errorf("encode payload: %w", err)
	}
	tags, err := json.Marshal(p.Tags())
	if err != nil {
		return IngestResult{}, fmt.Errorf("encode tags: %w", err)
	}
	level := p.Level()
	if level == "" {
		level = "error"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return IngestResult{}, fmt.Errorf("begin ingest: %w", err)
	}
	defer tx.Rollback()

	// Retried deliveries of the same event_id are idempotent.
	var existing string
	err = tx.QueryRowContext(ctx, `SELECT issue_id FROM events WHERE id = ?`, eventID).Scan(&existing)
	if err == nil {
		return IngestResult{EventID: eventID, IssueID: existing, Duplicate: true}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return IngestResult{}, fmt.Errorf("lookup event: %w", err)
	}

	var issueID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM issues WHERE fingerprint = ?`, g.Fingerprint).Scan(&issueID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		issueID = uuid.NewString()
		meta, merr := json.Marshal(g.Metadata)
		if merr != nil {
			return IngestResult{}, fmt.Errorf("encode metadata: %w", merr)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO issues (id, fingerprint, title, culprit, level, platform, first_seen, last_seen, count, user_count, status, metadata)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, 0, 'unresolved', ?)`,
			issueID, g.Fingerprint, g.Title, nullIfEmpty(g.Culprit), level, p.Platform(), nowStr, nowStr, string(meta),
		); err != nil {
			return IngestResult{}, fmt.Errorf("insert issue: %w", err)
		}
	case err == nil:
		// last_seen tracks arrival on the server clock, not the SDK
		// timestamp, so freshness reflects arrival order.
		if _, err := tx.ExecContext(ctx,
			`UPDATE issues SET last_seen = ?, count = count + 1 WHERE id = ?`, nowStr, issueID,
		); err != nil {
			return IngestResult{}, fmt.Errorf("bump issue: %w", err)
		}
	default:
		return IngestResult{}, fmt.Errorf("lookup issue: %w", err)
	}

	u := p.User()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (id, issue_id, timestamp, received_at, level, platform, environment, "release", transaction_name, user_id, user_email, user_ip, tags, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		eventID, issueID, tsStr, nowStr, p.Level(), p.Platform(), p.Environment(), p.Release(), p.Transaction(),
		u.ID, u.Email, u.IPAddress, string(tags), string(raw),
	); err != nil {
		return IngestResult{}, fmt.Errorf("insert event: %w", err)
	}

	bucket := event.FormatTime(ts.Truncate(time.Hour))
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO issue_stats (issue_id, bucket_start, count) VALUES (?, ?, 1)
		 ON CONFLICT(issue_id, bucket_start) DO UPDATE SET count = count + 1`,
		issueID, bucket,
	); err != nil {
		return IngestResult{}, fmt.Errorf("bump bucket: %w", err)
	}

	if ident := u.Identifier(); ident != "" {
		hash := userHash(ident)
		res, err := tx.ExecContext(ctx,
			`UPDATE issue_users SET last_seen = ? WHERE issue_id = ? AND user_hash = ?`,
			nowStr, issueID, hash,
		)
		if err != nil {
			return IngestResult{}, fmt.Errorf("touch user: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO issue_users (issue_id, user_hash, first_seen, last_seen) VALUES (?, ?, ?, ?)`,
				issueID, hash, nowStr, nowStr,
			); err != nil {
				return IngestResult{}, fmt.Errorf("insert user: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE issues SET user_count = user_count + 1 WHERE id = ?`, issueID,
			); err != nil {
				return IngestResult{}, fmt.Errorf("bump user count: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return IngestResult{}, fmt.Errorf("commit ingest: %w", err)
	}
	return IngestResult{
		EventID:   eventID,
		IssueID:   issueID,
		Title:     g.Title,
		Level:     level,
		Timestamp: tsStr,
	}, nil
}

// userHash condenses a user identifier for unique counting. The 128-bit
// prefix is plenty for a per-issue set and keeps raw identifiers out of the
// stats table.
func userHash(identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return hex.EncodeToString(sum[:])[:32]
}
