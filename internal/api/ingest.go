package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/tracelight/tracelight/internal/envelope"
	"github.com/tracelight/tracelight/internal/event"
	"github.com/tracelight/tracelight/internal/registry"
	"github.com/tracelight/tracelight/internal/stream"
)

// handleEnvelope accepts the modern envelope endpoint; handleStore keeps the
// legacy single-event contract alive. Both funnel into ingest.
func (a *API) handleEnvelope(w http.ResponseWriter, r *http.Request) {
	a.ingest(w, r, false)
}

func (a *API) handleStore(w http.ResponseWriter, r *http.Request) {
	a.ingest(w, r, true)
}

// resolveKey extracts the SDK public key, in priority order: sentry_key
// query parameter, X-Sentry-Auth header, then HTTP Basic username.
func resolveKey(r *http.Request) string {
	if k := r.URL.Query().Get("sentry_key"); k != "" {
		return k
	}
	if k := envelope.ParseSentryAuth(r.Header.Get("X-Sentry-Auth")); k != "" {
		return k
	}
	return envelope.ParseBasicKey(r.Header.Get("Authorization"))
}

func (a *API) ingest(w http.ResponseWriter, r *http.Request, legacy bool) {
	ctx := r.Context()
	projectID := mux.Vars(r)["project_id"]

	key := resolveKey(r)
	if key == "" {
		ingestRejected.WithLabelValues("missing_auth").Inc()
		writeErr(w, http.StatusUnauthorized, errMissingAuth, "no sentry key supplied")
		return
	}
	project, err := a.registry.ProjectByKey(ctx, key)
	if errors.Is(err, registry.ErrNotFound) {
		ingestRejected.WithLabelValues("invalid_auth").Inc()
		writeErr(w, http.StatusUnauthorized, errInvalidAuth, "unknown sentry key")
		return
	}
	if err != nil {
		writeRegistryErr(w, err)
		return
	}
	if project.ID != projectID {
		ingestRejected.WithLabelValues("project_mismatch").Inc()
		writeErr(w, http.StatusBadRequest, errProjectMismatch, "key does not belong to this project")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.maxBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			ingestRejected.WithLabelValues("too_large").Inc()
			writeErr(w, http.StatusRequestEntityTooLarge, errParseFailed, "request body too large")
			return
		}
		writeErr(w, http.StatusBadRequest, errParseFailed, "could not read request body")
		return
	}

	body, err = envelope.Decompress(body, r.Header.Get("Content-Encoding"), a.maxBody)
	if err != nil {
		if errors.Is(err, envelope.ErrTooLarge) {
			ingestRejected.WithLabelValues("too_large").Inc()
			writeErr(w, http.StatusRequestEntityTooLarge, errDecompression, "decompressed body too large")
			return
		}
		ingestRejected.WithLabelValues("bad_gzip").Inc()
		writeErr(w, http.StatusBadRequest, errDecompression, "could not decompress request body")
		return
	}

	events, err := decodeEvents(body, r.Header.Get("Content-Type"), legacy)
	if err != nil {
		ingestRejected.WithLabelValues("parse_failed").Inc()
		writeErr(w, http.StatusBadRequest, errParseFailed, "could not parse event payload")
		return
	}
	if len(events) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"id": nil})
		return
	}

	sh, err := a.shards.Get(project.ID)
	if err != nil {
		writeStoreErr(w, err)
		return
	}

	// Per-event failures are swallowed so one bad event cannot sink its
	// envelope siblings; a dead client context stops further work.
	var firstStored string
	fallback := events[0].EventID()
	for i, p := range events {
		if i > 0 && ctx.Err() != nil {
			break
		}
		res, err := sh.Ingest(ctx, p)
		if err != nil {
			ingestedEvents.WithLabelValues("error").Inc()
			log.WithFields(log.Fields{
				"project": project.ID,
				"event":   p.EventID(),
			}).WithError(err).Warn("ingest failed")
			continue
		}
		if res.Duplicate {
			ingestedEvents.WithLabelValues("duplicate").Inc()
		} else {
			ingestedEvents.WithLabelValues("stored").Inc()
			a.hub.Publish(project.ID, stream.Notice{
				EventID:   res.EventID,
				IssueID:   res.IssueID,
				Title:     res.Title,
				Level:     res.Level,
				Timestamp: res.Timestamp,
			})
		}
		if firstStored == "" {
			firstStored = res.EventID
		}
	}

	id := firstStored
	if id == "" {
		id = fallback
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id})
}

// decodeEvents turns a request body into event payloads. The legacy store
// contract is one JSON document; the envelope endpoint also accepts that
// shape when the content type and body say so.
func decodeEvents(body []byte, contentType string, legacy bool) ([]event.Payload, error) {
	if legacy || singleJSONBody(body, contentType) {
		if p, err := envelope.ParseSingle(body, time.Now); err == nil {
			return []event.Payload{p}, nil
		}
	}
	env, err := envelope.Parse(body)
	if err != nil {
		return nil, err
	}
	return envelope.Events(env, time.Now), nil
}

// singleJSONBody reports whether the body is a lone JSON document rather
// than an envelope: declared JSON content type and no later line opening a
// new object, which is what envelope item headers look like.
func singleJSONBody(body []byte, contentType string) bool {
	if !strings.Contains(strings.ToLower(contentType), "application/json") {
		return false
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	rest := trimmed
	for {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			return true
		}
		rest = rest[i+1:]
		next := bytes.TrimLeft(rest, " \t\r")
		if len(next) > 0 && next[0] == '{' {
			return false
		}
	}
}
