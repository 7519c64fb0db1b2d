package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stackwatch/stackwatch-ai/internal/models"
	"github.com/stackwatch/stackwatch-ai/internal/remediation"
	"github.com/stackwatch/stackwatch-ai/internal/store"
)

// handleActions lists remediation actions. Filters: container_id,
// status, type, plus limit/offset.
func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit, offset := listParams(r)
	q := store.ActionQuery{
		ContainerID: r.URL.Query().Get("container_id"),
		Status:      models.ActionStatus(r.URL.Query().Get("status")),
		Type:        models.ActionType(r.URL.Query().Get("type")),
		Limit:       limit,
		Offset:      offset,
	}
	list, err := s.store.ListActions(r.Context(), q)
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"actions": list, "count": len(list)})
}

// handleActionByID serves GET /api/v1/actions/{id} and the lifecycle
// verbs POST /{id}/approve, /{id}/reject and /{id}/execute.
func (s *Server) handleActionByID(w http.ResponseWriter, r *http.Request) {
	id, verb := pathID(r.URL.Path, "/api/v1/actions/")
	if id == "" {
		errorJSON(w, http.StatusBadRequest, "action id required")
		return
	}

	switch {
	case verb == "" && r.Method == http.MethodGet:
		s.handleGetAction(w, r, id)
	case verb == "approve" && r.Method == http.MethodPost:
		s.handleApproveAction(w, r, id)
	case verb == "reject" && r.Method == http.MethodPost:
		s.handleRejectAction(w, r, id)
	case verb == "execute" && r.Method == http.MethodPost:
		s.handleExecuteAction(w, r, id)
	default:
		errorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request, id string) {
	a, err := s.store.GetAction(r.Context(), id)
	if notFound(err) {
		errorJSON(w, http.StatusNotFound, "action not found")
		return
	}
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// writeActionResult maps the gate's error taxonomy onto status codes:
// a refused transition is a conflict, a missing record a 404.
func writeActionResult(w http.ResponseWriter, a *models.Action, err error) {
	switch {
	case notFound(err):
		errorJSON(w, http.StatusNotFound, "action not found")
	case errors.Is(err, remediation.ErrInvalidTransition):
		errorJSON(w, http.StatusConflict, err.Error())
	case err != nil:
		errorJSON(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, a)
	}
}

func (s *Server) handleApproveAction(w http.ResponseWriter, r *http.Request, id string) {
	if s.actions == nil {
		errorJSON(w, http.StatusServiceUnavailable, "remediation is disabled")
		return
	}

	var req struct {
		ApprovedBy string `json:"approved_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ApprovedBy == "" {
		errorJSON(w, http.StatusBadRequest, "approved_by is required")
		return
	}

	a, err := s.actions.Approve(r.Context(), id, req.ApprovedBy)
	writeActionResult(w, a, err)
}

func (s *Server) handleRejectAction(w http.ResponseWriter, r *http.Request, id string) {
	if s.actions == nil {
		errorJSON(w, http.StatusServiceUnavailable, "remediation is disabled")
		return
	}

	var req struct {
		RejectedBy string `json:"rejected_by"`
		Reason     string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.RejectedBy == "" {
		errorJSON(w, http.StatusBadRequest, "rejected_by is required")
		return
	}

	a, err := s.actions.Reject(r.Context(), id, req.RejectedBy, req.Reason)
	writeActionResult(w, a, err)
}

// handleExecuteAction runs an approved action. An execution whose
// platform call fails still answers 200: the state machine did its
// job and the outcome is on the record.
func (s *Server) handleExecuteAction(w http.ResponseWriter, r *http.Request, id string) {
	if s.actions == nil {
		errorJSON(w, http.StatusServiceUnavailable, "remediation is disabled")
		return
	}
	a, err := s.actions.Execute(r.Context(), id)
	writeActionResult(w, a, err)
}
