package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/tracelight/tracelight/internal/registry"
)

// projectView is a registry project plus its rendered DSN.
type projectView struct {
	registry.Project
	DSN string `json:"dsn"`
}

func (a *API) view(p registry.Project) projectView {
	return projectView{Project: p, DSN: a.dsnFor(p)}
}

func (a *API) handleProjectList(w http.ResponseWriter, r *http.Request, userID string) {
	projects, err := a.registry.ProjectsForUser(r.Context(), userID)
	if err != nil {
		writeRegistryErr(w, err)
		return
	}
	views := make([]projectView, 0, len(projects))
	for _, p := range projects {
		views = append(views, a.view(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": views})
}

func (a *API) handleProjectCreate(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Name     string `json:"name"`
		Platform string `json:"platform"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, errMissingFields, "body must be a JSON object with name and optional platform")
		return
	}
	project, err := a.registry.CreateProject(r.Context(), req.Name, req.Platform, userID)
	if err != nil {
		writeRegistryErr(w, err)
		return
	}
	log.WithFields(log.Fields{
		"project": project.ID,
		"slug":    project.Slug,
		"user":    userID,
	}).Info("project created")
	writeJSON(w, http.StatusCreated, a.view(project))
}

func (a *API) handleProjectGet(w http.ResponseWriter, r *http.Request, userID string) {
	project, err := a.registry.ProjectBySlug(r.Context(), mux.Vars(r)["slug"], userID)
	if err != nil {
		writeRegistryErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.view(project))
}

// handleProjectDelete removes the project record, then its shard file.
// Losing the registry row first means a half-failed delete cannot leave an
// orphaned project that still accepts events.
func (a *API) handleProjectDelete(w http.ResponseWriter, r *http.Request, userID string) {
	project, err := a.registry.ProjectBySlug(r.Context(), mux.Vars(r)["slug"], userID)
	if err != nil {
		writeRegistryErr(w, err)
		return
	}
	if err := a.registry.DeleteProject(r.Context(), project.ID, userID); err != nil {
		writeRegistryErr(w, err)
		return
	}
	if err := a.shards.Destroy(project.ID); err != nil {
		log.WithFields(log.Fields{"project": project.ID}).WithError(err).Warn("shard cleanup failed")
	}
	log.WithFields(log.Fields{
		"project": project.ID,
		"slug":    project.Slug,
		"user":    userID,
	}).Info("project deleted")
	w.WriteHeader(http.StatusNoContent)
}
