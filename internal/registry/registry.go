// Package registry is the project directory: it maps SDK public keys to
// projects on the ingestion path and enforces per-user access on the
// management path. Backed by SQL (SQLite by default, Postgres optionally);
// event payloads never land here, only project metadata.
package registry

import (
	"context"
	"errors"
)

var (
	// ErrNotFound covers unknown keys, slugs and project ids. Management
	// lookups also return it when the caller has no access to the slug,
	// so the API cannot be used to probe which slugs exist.
	ErrNotFound = errors.New("project not found")
	// ErrForbidden is returned when a known member lacks the role an
	// operation requires.
	ErrForbidden = errors.New("operation not permitted")
	// ErrInvalidInput flags create requests with missing required fields.
	ErrInvalidInput = errors.New("invalid input")
)

// Project is one registered project. CreatedAt uses the same fixed-width
// UTC layout the event store uses.
type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	Platform  string `json:"platform,omitempty"`
	PublicKey string `json:"public_key"`
	CreatedAt string `json:"created_at"`
}

// Registry is what the HTTP layer depends on.
type Registry interface {
	// ProjectByKey resolves an SDK public key. No user check: possession
	// of the key is the ingestion credential.
	ProjectByKey(ctx context.Context, publicKey string) (Project, error)
	// ProjectBySlug resolves a slug for a user. Unknown slug and
	// no-access both come back as ErrNotFound.
	ProjectBySlug(ctx context.Context, slug, userID string) (Project, error)
	// ProjectsForUser lists the projects the user is a member of, newest
	// first.
	ProjectsForUser(ctx context.Context, userID string) ([]Project, error)
	// CreateProject registers a project and makes userID its owner.
	CreateProject(ctx context.Context, name, platform, userID string) (Project, error)
	// DeleteProject removes a project and its memberships. Only owners
	// may delete.
	DeleteProject(ctx context.Context, projectID, userID string) error
	Close() error
}
