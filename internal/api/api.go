// Package api is the HTTP surface: Sentry-compatible ingestion on one side,
// the token-authenticated management/query API plus the live event stream on
// the other.
package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tracelight/tracelight/internal/registry"
	"github.com/tracelight/tracelight/internal/shard"
	"github.com/tracelight/tracelight/internal/stream"
)

// Options wires the handlers to the rest of the server.
type Options struct {
	Registry registry.Registry
	Shards   *shard.Pool
	Hub      *stream.Hub
	Auth     *registry.TokenAuth
	// PublicURL is the base URL DSNs are rendered against.
	PublicURL string
	// MaxBodyBytes caps ingestion bodies; <= 0 falls back to 8 MiB.
	MaxBodyBytes int64
}

type API struct {
	registry registry.Registry
	shards   *shard.Pool
	hub      *stream.Hub
	auth     *registry.TokenAuth
	dsnBase  *url.URL
	maxBody  int64
}

func newAPI(opts Options) *API {
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 8 << 20
	}
	base, err := url.Parse(opts.PublicURL)
	if err != nil || base.Host == "" {
		base = &url.URL{Scheme: "http", Host: "localhost:8080"}
	}
	return &API{
		registry: opts.Registry,
		shards:   opts.Shards,
		hub:      opts.Hub,
		auth:     opts.Auth,
		dsnBase:  base,
		maxBody:  maxBody,
	}
}

// dsnFor renders the DSN an SDK needs to reach this project.
func (a *API) dsnFor(p registry.Project) string {
	return fmt.Sprintf("%s://%s@%s/%s", a.dsnBase.Scheme, p.PublicKey, a.dsnBase.Host, p.ID)
}

// userHandler is a handler that runs with a resolved management user.
type userHandler func(w http.ResponseWriter, r *http.Request, userID string)

// withUser authenticates the management surface: a static bearer token
// resolved to a user id.
func (a *API) withUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authz := strings.TrimSpace(r.Header.Get("Authorization"))
		if authz == "" {
			writeErr(w, http.StatusUnauthorized, errMissingAuth, "missing bearer token")
			return
		}
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			writeErr(w, http.StatusUnauthorized, errInvalidAuth, "authorization must be a bearer token")
			return
		}
		token := strings.TrimSpace(authz[len("bearer "):])
		userID, ok := a.auth.UserForToken(token)
		if !ok {
			writeErr(w, http.StatusUnauthorized, errInvalidAuth, "unrecognized token")
			return
		}
		next(w, r, userID)
	}
}

// projectShard resolves a slug for the user and opens its shard. On failure
// the response has already been written.
func (a *API) projectShard(w http.ResponseWriter, r *http.Request, slug, userID string) (registry.Project, *shard.Shard, bool) {
	project, err := a.registry.ProjectBySlug(r.Context(), slug, userID)
	if err != nil {
		writeRegistryErr(w, err)
		return registry.Project{}, nil, false
	}
	sh, err := a.shards.Get(project.ID)
	if err != nil {
		writeStoreErr(w, err)
		return registry.Project{}, nil, false
	}
	return project, sh, true
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
