package server

import (
	"net/http"

	"github.com/stackwatch/stackwatch-ai/internal/models"
	"github.com/stackwatch/stackwatch-ai/internal/store"
)

// handleInvestigations lists investigations. Filters: container_id,
// status, plus limit/offset. Investigations are only ever created by
// the trigger policy, so there is no POST here.
func (s *Server) handleInvestigations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit, offset := listParams(r)
	q := store.InvestigationQuery{
		ContainerID: r.URL.Query().Get("container_id"),
		Status:      models.InvestigationStatus(r.URL.Query().Get("status")),
		Limit:       limit,
		Offset:      offset,
	}
	list, err := s.store.ListInvestigations(r.Context(), q)
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"investigations": list, "count": len(list)})
}

// handleInvestigationByID serves GET /api/v1/investigations/{id}.
func (s *Server) handleInvestigationByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, verb := pathID(r.URL.Path, "/api/v1/investigations/")
	if id == "" || verb != "" {
		errorJSON(w, http.StatusBadRequest, "investigation id required")
		return
	}

	inv, err := s.store.GetInvestigation(r.Context(), id)
	if notFound(err) {
		errorJSON(w, http.StatusNotFound, "investigation not found")
		return
	}
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, inv)
}
