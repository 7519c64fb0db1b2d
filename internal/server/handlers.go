package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/stackwatch/stackwatch-ai/internal/metrics"
)

const version = "0.3.0"

// writeJSON writes v as the JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorJSON writes a structured error body so callers never have to
// parse a plain-text message.
func errorJSON(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}

// statusRecorder captures the response code for the request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records request counts and latencies. Resource ids are
// collapsed out of the path label to keep cardinality bounded.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		path := normalizePath(r.URL.Path)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath replaces the id segment of /api/v1/<collection>/<id>[/<verb>]
// with a placeholder.
func normalizePath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 4 && parts[0] == "api" && parts[1] == "v1" {
		parts[3] = ":id"
		return "/" + strings.Join(parts, "/")
	}
	return path
}

// handleHealth reports process liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady reports readiness: the store must answer and, when a
// platform adapter is wired, so must the container engine.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{}
	ready := true
	if err := s.store.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		ready = false
	} else {
		checks["store"] = "ok"
	}
	if s.platform != nil {
		if err := s.platform.Ping(ctx); err != nil {
			checks["platform"] = err.Error()
			ready = false
		} else {
			checks["platform"] = "ok"
		}
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not_ready"
		s.logger.Warn("readiness check failed", zap.Any("checks", checks))
	}
	writeJSON(w, status, map[string]interface{}{"status": state, "checks": checks})
}

// handleInfo describes this instance's configuration surface.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":                   "stackwatch-ai",
		"version":                version,
		"llm_provider":           s.cfg.LLM.Provider,
		"llm_configured":         s.cfg.LLM.Configured,
		"monitoring_enabled":     s.cfg.Monitoring.Enabled,
		"correlation_enabled":    s.cfg.Correlation.Enabled,
		"investigations_enabled": s.cfg.Investigations.Enabled,
		"remediation_enabled":    s.cfg.Remediation.Enabled,
	})
}

// handleRunCycle triggers one monitoring cycle on demand. A cycle
// already in flight answers 409 rather than queueing a second one.
func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.scheduler == nil {
		errorJSON(w, http.StatusServiceUnavailable, "monitoring is disabled")
		return
	}
	if err := s.scheduler.RunCycleNow(r.Context()); err != nil {
		errorJSON(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.scheduler.LastCycle())
}

// handleMonitorStatus reports the pipeline's live diagnostic state:
// the last cycle, the cooldown suppression table and the
// investigation backlog.
func (s *Server) handleMonitorStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.scheduler == nil {
		errorJSON(w, http.StatusServiceUnavailable, "monitoring is disabled")
		return
	}

	entries, err := s.scheduler.CooldownEntries(r.Context())
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]interface{}{
		"last_cycle": s.scheduler.LastCycle(),
		"cooldowns":  entries,
	}
	if s.investigations != nil {
		resp["investigations_in_flight"] = s.investigations.InFlight()
	}
	if s.hub != nil {
		resp["websocket_clients"] = s.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, resp)
}
