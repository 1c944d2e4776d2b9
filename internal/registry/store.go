package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tracelight/tracelight/internal/event"
)

// The statements below stick to the $N placeholder form, which both
// lib/pq and go-sqlite3 accept, so one store serves both drivers.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		slug       TEXT NOT NULL UNIQUE,
		platform   TEXT NOT NULL DEFAULT '',
		public_key TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS project_members (
		project_id TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		role       TEXT NOT NULL DEFAULT 'owner',
		created_at TEXT NOT NULL,
		PRIMARY KEY (project_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_members_user ON project_members(user_id)`,
}

// Store implements Registry on database/sql.
type Store struct {
	db *sql.DB
}

// Open connects the registry database and applies the schema. For the
// sqlite3 driver dsn is a filesystem path; for postgres it is a lib/pq
// connection string.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case "sqlite3":
		if !strings.HasPrefix(dsn, "file:") {
			dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=ON", dsn)
		}
	case "postgres":
	default:
		return nil, fmt.Errorf("unsupported registry driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	if driver == "sqlite3" {
		// Single writer; avoids SQLITE_BUSY under concurrent management calls.
		db.SetMaxOpenConns(1)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply registry schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ProjectByKey(ctx context.Context, publicKey string) (Project, error) {
	if publicKey == "" {
		return Project{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, slug, platform, public_key, created_at FROM projects WHERE public_key = $1`,
		publicKey)
	return scanProject(row)
}

func (s *Store) ProjectBySlug(ctx context.Context, slug, userID string) (Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT p.id, p.name, p.slug, p.platform, p.public_key, p.created_at
		 FROM projects p
		 JOIN project_members m ON m.project_id = p.id
		 WHERE p.slug = $1 AND m.user_id = $2`,
		slug, userID)
	return scanProject(row)
}

func (s *Store) ProjectsForUser(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.name, p.slug, p.platform, p.public_key, p.created_at
		 FROM projects p
		 JOIN project_members m ON m.project_id = p.id
		 WHERE m.user_id = $1
		 ORDER BY p.created_at DESC, p.id DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := []Project{}
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Slug, &p.Platform, &p.PublicKey, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *Store) CreateProject(ctx context.Context, name, platform, userID string) (Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Project{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if userID == "" {
		return Project{}, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}

	slug, err := s.uniqueSlug(ctx, name)
	if err != nil {
		return Project{}, err
	}
	p := Project{
		ID:        uuid.NewString(),
		Name:      name,
		Slug:      slug,
		Platform:  strings.TrimSpace(platform),
		PublicKey: newPublicKey(),
		CreatedAt: event.FormatTime(time.Now()),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Project{}, fmt.Errorf("begin create project: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO projects (id, name, slug, platform, public_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.Name, p.Slug, p.Platform, p.PublicKey, p.CreatedAt); err != nil {
		return Project{}, fmt.Errorf("insert project: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO project_members (project_id, user_id, role, created_at)
		 VALUES ($1, $2, 'owner', $3)`,
		p.ID, userID, p.CreatedAt); err != nil {
		return Project{}, fmt.Errorf("insert membership: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Project{}, fmt.Errorf("commit create project: %w", err)
	}
	return p, nil
}

func (s *Store) DeleteProject(ctx context.Context, projectID, userID string) error {
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM project_members WHERE project_id = $1 AND user_id = $2`,
		projectID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if role != "owner" {
		return ErrForbidden
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete project: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM project_members WHERE project_id = $1`, projectID); err != nil {
		return fmt.Errorf("delete memberships: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// uniqueSlug lowercases the name, folds runs of non-alphanumerics into
// single dashes and appends -2, -3, ... until the slug is free.
func (s *Store) uniqueSlug(ctx context.Context, name string) (string, error) {
	base := slugify(name)
	slug := base
	for i := 2; ; i++ {
		var one int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE slug = $1`, slug).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return slug, nil
		}
		if err != nil {
			return "", fmt.Errorf("check slug: %w", err)
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
}

func slugify(name string) string {
	var b strings.Builder
	lastDash := true // suppress a leading dash
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if slug == "" {
		return "project"
	}
	return slug
}

// newPublicKey returns 32 hex characters, the shape Sentry SDK keys have.
func newPublicKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func scanProject(row *sql.Row) (Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.Platform, &p.PublicKey, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, fmt.Errorf("scan project: %w", err)
	}
	return p, nil
}
