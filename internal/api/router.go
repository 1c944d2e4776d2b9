package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the full HTTP handler: SDK ingestion, management API,
// live stream, health and metrics.
func NewRouter(opts Options) http.Handler {
	a := newAPI(opts)
	r := mux.NewRouter()

	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// SDK ingestion. SDKs disagree about the trailing slash, so both
	// spellings are routed.
	r.HandleFunc("/api/{project_id}/envelope", a.handleEnvelope).Methods(http.MethodPost)
	r.HandleFunc("/api/{project_id}/envelope/", a.handleEnvelope).Methods(http.MethodPost)
	r.HandleFunc("/api/{project_id}/store", a.handleStore).Methods(http.MethodPost)
	r.HandleFunc("/api/{project_id}/store/", a.handleStore).Methods(http.MethodPost)

	// Management and query API.
	r.HandleFunc("/api/projects", a.withUser(a.handleProjectList)).Methods(http.MethodGet)
	r.HandleFunc("/api/projects", a.withUser(a.handleProjectCreate)).Methods(http.MethodPost)
	r.HandleFunc("/api/projects/{slug}", a.withUser(a.handleProjectGet)).Methods(http.MethodGet)
	r.HandleFunc("/api/projects/{slug}", a.withUser(a.handleProjectDelete)).Methods(http.MethodDelete)
	r.HandleFunc("/api/projects/{slug}/issues", a.withUser(a.handleIssueList)).Methods(http.MethodGet)
	r.HandleFunc("/api/projects/{slug}/issues/{issue_id}", a.withUser(a.handleIssueGet)).Methods(http.MethodGet)
	r.HandleFunc("/api/projects/{slug}/issues/{issue_id}", a.withUser(a.handleIssueUpdate)).Methods(http.MethodPatch, http.MethodPut)
	r.HandleFunc("/api/projects/{slug}/issues/{issue_id}", a.withUser(a.handleIssueDelete)).Methods(http.MethodDelete)
	r.HandleFunc("/api/projects/{slug}/issues/{issue_id}/events", a.withUser(a.handleIssueEvents)).Methods(http.MethodGet)
	r.HandleFunc("/api/projects/{slug}/stats", a.withUser(a.handleStats)).Methods(http.MethodGet)

	// Fixed segments must be routed before the {event_id} catch-all. The
	// stream does its own auth: browser WebSocket clients cannot set an
	// Authorization header.
	r.HandleFunc("/api/projects/{slug}/events/latest", a.withUser(a.handleLatestEvents)).Methods(http.MethodGet)
	r.HandleFunc("/api/projects/{slug}/events/stream", a.handleEventStream).Methods(http.MethodGet)
	r.HandleFunc("/api/projects/{slug}/events/{event_id}", a.withUser(a.handleEventGet)).Methods(http.MethodGet)

	return requestLogging(withCORS(recoverer(r)))
}
