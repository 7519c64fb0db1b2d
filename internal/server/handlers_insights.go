package server

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/stackwatch/stackwatch-ai/internal/models"
	"github.com/stackwatch/stackwatch-ai/internal/store"
)

// maxListLimit caps how many records one list request may return.
const maxListLimit = 500

// listParams extracts the shared limit/offset pagination parameters.
func listParams(r *http.Request) (limit, offset int) {
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
		if limit > maxListLimit {
			limit = maxListLimit
		}
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

// pathID extracts the id segment of /api/v1/<collection>/<id>[/<verb>],
// returning the id and any trailing verb.
func pathID(path, prefix string) (id, verb string) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return "", ""
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}

// notFound reports whether err means the record does not exist.
func notFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// handleInsights lists insights. Filters: container_id, category,
// severity, plus limit/offset.
func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit, offset := listParams(r)
	q := store.InsightQuery{
		ContainerID: r.URL.Query().Get("container_id"),
		Category:    r.URL.Query().Get("category"),
		Severity:    models.Severity(r.URL.Query().Get("severity")),
		Limit:       limit,
		Offset:      offset,
	}
	list, err := s.store.ListInsights(r.Context(), q)
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"insights": list, "count": len(list)})
}

// handleInsightByID serves GET /api/v1/insights/{id}.
func (s *Server) handleInsightByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, verb := pathID(r.URL.Path, "/api/v1/insights/")
	if id == "" || verb != "" {
		errorJSON(w, http.StatusBadRequest, "insight id required")
		return
	}

	in, err := s.store.GetInsight(r.Context(), id)
	if notFound(err) {
		errorJSON(w, http.StatusNotFound, "insight not found")
		return
	}
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, in)
}

// handleIncidents lists incidents. Filters: status, plus limit/offset.
func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit, offset := listParams(r)
	q := store.IncidentQuery{
		Status: models.IncidentStatus(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	}
	list, err := s.store.ListIncidents(r.Context(), q)
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"incidents": list, "count": len(list)})
}

// handleIncidentByID serves GET /api/v1/incidents/{id} and
// POST /api/v1/incidents/{id}/resolve.
func (s *Server) handleIncidentByID(w http.ResponseWriter, r *http.Request) {
	id, verb := pathID(r.URL.Path, "/api/v1/incidents/")
	if id == "" {
		errorJSON(w, http.StatusBadRequest, "incident id required")
		return
	}

	switch {
	case verb == "" && r.Method == http.MethodGet:
		s.handleGetIncident(w, r, id)
	case verb == "resolve" && r.Method == http.MethodPost:
		s.handleResolveIncident(w, r, id)
	default:
		errorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request, id string) {
	inc, err := s.store.GetIncident(r.Context(), id)
	if notFound(err) {
		errorJSON(w, http.StatusNotFound, "incident not found")
		return
	}
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (s *Server) handleResolveIncident(w http.ResponseWriter, r *http.Request, id string) {
	if s.correlator == nil {
		errorJSON(w, http.StatusServiceUnavailable, "correlation is disabled")
		return
	}
	inc, err := s.correlator.Resolve(r.Context(), id)
	if notFound(err) {
		errorJSON(w, http.StatusNotFound, "incident not found")
		return
	}
	if err != nil {
		errorJSON(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, inc)
}
