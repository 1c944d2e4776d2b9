package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/tracelight/tracelight/internal/shard"
)

// intParam parses a numeric query parameter; absent or junk values fall
// back to 0 and the store applies its defaults.
func intParam(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return n
}

func (a *API) handleIssueList(w http.ResponseWriter, r *http.Request, userID string) {
	_, sh, ok := a.projectShard(w, r, mux.Vars(r)["slug"], userID)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, err := sh.Issues(r.Context(), shard.IssueFilter{
		Status:      q.Get("status"),
		Level:       q.Get("level"),
		Query:       q.Get("query"),
		Environment: q.Get("environment"),
		Sort:        q.Get("sort"),
		Cursor:      q.Get("cursor"),
		Limit:       intParam(r, "limit"),
	})
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) handleIssueGet(w http.ResponseWriter, r *http.Request, userID string) {
	vars := mux.Vars(r)
	_, sh, ok := a.projectShard(w, r, vars["slug"], userID)
	if !ok {
		return
	}
	detail, err := sh.Issue(r.Context(), vars["issue_id"])
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) handleIssueUpdate(w http.ResponseWriter, r *http.Request, userID string) {
	vars := mux.Vars(r)
	_, sh, ok := a.projectShard(w, r, vars["slug"], userID)
	if !ok {
		return
	}
	var upd shard.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeErr(w, http.StatusBadRequest, errMissingFields, "body must be a JSON object")
		return
	}
	issue, err := sh.UpdateIssue(r.Context(), vars["issue_id"], upd)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (a *API) handleIssueDelete(w http.ResponseWriter, r *http.Request, userID string) {
	vars := mux.Vars(r)
	_, sh, ok := a.projectShard(w, r, vars["slug"], userID)
	if !ok {
		return
	}
	if err := sh.DeleteIssue(r.Context(), vars["issue_id"]); err != nil {
		writeStoreErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleIssueEvents(w http.ResponseWriter, r *http.Request, userID string) {
	vars := mux.Vars(r)
	_, sh, ok := a.projectShard(w, r, vars["slug"], userID)
	if !ok {
		return
	}
	page, err := sh.IssueEvents(r.Context(), vars["issue_id"], r.URL.Query().Get("cursor"), intParam(r, "limit"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) handleEventGet(w http.ResponseWriter, r *http.Request, userID string) {
	vars := mux.Vars(r)
	_, sh, ok := a.projectShard(w, r, vars["slug"], userID)
	if !ok {
		return
	}
	rec, err := sh.Event(r.Context(), vars["event_id"])
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleLatestEvents(w http.ResponseWriter, r *http.Request, userID string) {
	_, sh, ok := a.projectShard(w, r, mux.Vars(r)["slug"], userID)
	if !ok {
		return
	}
	events, err := sh.LatestEvents(r.Context(), intParam(r, "limit"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request, userID string) {
	_, sh, ok := a.projectShard(w, r, mux.Vars(r)["slug"], userID)
	if !ok {
		return
	}
	q := r.URL.Query()
	stats, err := sh.Stats(r.Context(), shard.StatsQuery{
		Interval: q.Get("interval"),
		Start:    q.Get("start"),
		End:      q.Get("end"),
	})
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
