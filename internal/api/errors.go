package api

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/tracelight/tracelight/internal/registry"
	"github.com/tracelight/tracelight/internal/shard"
)

// Error kinds are part of the wire contract; clients switch on them.
const (
	errMissingAuth     = "missing_auth"
	errInvalidAuth     = "invalid_auth"
	errProjectMismatch = "project_mismatch"
	errParseFailed     = "parse_failed"
	errDecompression   = "decompression_failed"
	errProjectNotFound = "project_not_found"
	errIssueNotFound   = "issue_not_found"
	errEventNotFound   = "event_not_found"
	errMissingFields   = "missing_fields"
	errNoUpdates       = "no_updates"
	errForbidden       = "forbidden"
	errInternal        = "internal_error"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		log.WithError(err).Warn("write response")
	}
}

func writeErr(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorBody{Error: kind, Message: msg})
}

// writeStoreErr maps shard-level failures onto the wire contract.
func writeStoreErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shard.ErrIssueNotFound):
		writeErr(w, http.StatusNotFound, errIssueNotFound, "issue not found")
	case errors.Is(err, shard.ErrEventNotFound):
		writeErr(w, http.StatusNotFound, errEventNotFound, "event not found")
	case errors.Is(err, shard.ErrNoUpdates):
		writeErr(w, http.StatusBadRequest, errNoUpdates, "no recognized fields to update")
	case errors.Is(err, shard.ErrBadStatus):
		writeErr(w, http.StatusBadRequest, errMissingFields, "status must be unresolved, resolved or ignored")
	default:
		log.WithError(err).Error("shard query failed")
		writeErr(w, http.StatusInternalServerError, errInternal, "internal server error")
	}
}

// writeRegistryErr maps registry failures. Unknown slug and no-access are
// the same 404 on purpose, so slugs cannot be enumerated.
func writeRegistryErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeErr(w, http.StatusNotFound, errProjectNotFound, "project not found")
	case errors.Is(err, registry.ErrForbidden):
		writeErr(w, http.StatusForbidden, errForbidden, "only project owners may do this")
	case errors.Is(err, registry.ErrInvalidInput):
		writeErr(w, http.StatusBadRequest, errMissingFields, err.Error())
	default:
		log.WithError(err).Error("registry lookup failed")
		writeErr(w, http.StatusInternalServerError, errInternal, "internal server error")
	}
}
