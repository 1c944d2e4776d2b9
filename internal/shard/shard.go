// Package shard implements the per-project storage engine. Each project
// owns one SQLite file holding its issues, events, hourly stat buckets, and
// unique-user sets; nothing in here ever reaches across projects. Writes on
// a shard are serialized, so one noisy project cannot block the others.
package shard

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrIssueNotFound = errors.New("issue not found")
	ErrEventNotFound = errors.New("event not found")
	ErrNoUpdates     = errors.New("no updates")
	ErrBadStatus     = errors.New("invalid status")
)

// writeTimeout bounds a single shard write transaction.
const writeTimeout = 5 * time.Second

// Shard is the storage handle for one project.
type Shard struct {
	db   *sql.DB
	path string

	// mu serializes write transactions; reads go through the same
	// single-connection handle and see committed state under WAL.
	mu sync.Mutex
}

// Open opens (creating if needed) the shard database at path and applies
// the schema. Schema creation is idempotent, so reopening an evicted shard
// is always safe.
func Open(path string) (*Shard, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=ON", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open shard %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init shard schema %s: %w", path, err)
	}
	return &Shard{db: db, path: path}, nil
}

func (s *Shard) Close() error {
	return s.db.Close()
}

// Path returns the database file location, used when a project deletion
// destroys the shard.
func (s *Shard) Path() string { return s.path }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS issues (
		id TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		culprit TEXT,
		level TEXT NOT NULL DEFAULT 'error',
		platform TEXT NOT NULL DEFAULT '',
		first_seen TEXT NOT NULL,
		last_seen TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 1,
		user_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'unresolved',
		metadata TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_issues_last_seen ON issues(last_seen DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_issues_status ON issues(status)`,
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		issue_id TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		received_at TEXT NOT NULL,
		level TEXT NOT NULL DEFAULT '',
		platform TEXT NOT NULL DEFAULT '',
		environment TEXT NOT NULL DEFAULT '',
		"release" TEXT NOT NULL DEFAULT '',
		transaction_name TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		user_email TEXT NOT NULL DEFAULT '',
		user_ip TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '{}',
		data TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_issue ON events(issue_id)`,
	`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_events_environment ON events(environment)`,
	`CREATE INDEX IF NOT EXISTS idx_events_release ON events("release")`,
	`CREATE TABLE IF NOT EXISTS issue_stats (
		issue_id TEXT NOT NULL,
		bucket_start TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (issue_id, bucket_start)
	)`,
	`CREATE TABLE IF NOT EXISTS issue_users (
		issue_id TEXT NOT NULL,
		user_hash TEXT NOT NULL,
		first_seen TEXT NOT NULL,
		last_seen TEXT NOT NULL,
		PRIMARY KEY (issue_id, user_hash)
	)`,
}

func initSchema(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
