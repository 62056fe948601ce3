package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/vrlab/classroom-monitor/internal/application/command"
	"github.com/vrlab/classroom-monitor/internal/domain/activity"
	"github.com/vrlab/classroom-monitor/internal/domain/shared"
	"github.com/vrlab/classroom-monitor/internal/infrastructure/scheduler"
	"github.com/vrlab/classroom-monitor/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"name":    "VR Classroom Monitor API",
		"version": s.config.Version,
		"endpoints": map[string]string{
			"health":    "/health",
			"logs":      "/api/v1/logs",
			"students":  "/api/v1/students",
			"help_dots": "/api/v1/help-dots",
			"jobs":      "/api/v1/jobs",
			"realtime":  "/ws",
		},
	})
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]interface{}{
			"status":  "healthy",
			"uptime":  s.Uptime().String(),
			"version": s.config.Version,
		})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

// handleReady handles the readiness probe endpoint.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// LOG INGESTION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleIngestLogs handles POST /api/v1/logs. Routers expect the bare
// {success, processed, errors} body, so the response is not enveloped.
func (s *Server) handleIngestLogs(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
			return
		}
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "Failed to read request body")
		return
	}

	result, err := s.deps.Ingest.Handle(r.Context(), command.IngestLogsCommand{
		ContentType: r.Header.Get("Content-Type"),
		Body:        body,
		ReceivedAt:  time.Now().UTC(),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}

// handleLogStatistics handles GET /api/v1/logs/statistics?source=
func (s *Server) handleLogStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Statistics.Statistics(r.Context(), getQueryParam(r, "source", ""))
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to read interaction statistics", logger.Err(err))
		writeJSONError(w, r, http.StatusServiceUnavailable, "statistics_unavailable", "Failed to read interaction statistics")
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, stats, &ResponseMeta{TotalCount: len(stats)})
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleListStudents handles GET /api/v1/students
func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	snapshots := s.deps.Engine.Snapshots(s.deps.Engine.Now())
	writeJSONWithMeta(w, r, http.StatusOK, snapshots, &ResponseMeta{TotalCount: len(snapshots)})
}

// handleGetStudent handles GET /api/v1/students/{key}
func (s *Server) handleGetStudent(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.deps.Engine.Snapshot(r.PathValue("key"), s.deps.Engine.Now())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, snapshot)
}

// handleObserve handles PUT /api/v1/students/{key}/observe
func (s *Server) handleObserve(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := s.deps.Engine.Observe(r.Context(), key); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	logger.FromContext(r.Context()).Info("student observed", logger.StudentKey(key))
	snapshot, err := s.deps.Engine.Snapshot(key, s.deps.Engine.Now())
	if err != nil {
		// Unobserved concurrently.
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, snapshot)
}

// handleUnobserve handles DELETE /api/v1/students/{key}/observe
func (s *Server) handleUnobserve(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := s.deps.Engine.Unobserve(key); err != nil {
		logger.FromContext(r.Context()).Warn("unsubscribe failed", logger.StudentKey(key), logger.Err(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

// InteractionRequest is the body of POST /api/v1/students/{key}/interactions.
type InteractionRequest struct {
	Kind  string `json:"kind"`
	Label string `json:"label,omitempty"`
}

// handleRecordInteraction handles POST /api/v1/students/{key}/interactions
func (s *Server) handleRecordInteraction(w http.ResponseWriter, r *http.Request) {
	var req InteractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONErrorWithDetails(w, r, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}
	if req.Kind == "" {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "kind is required")
		return
	}

	key := r.PathValue("key")
	kind := activity.ParseKind(req.Kind)
	if err := s.deps.Engine.RecordInteraction(r.Context(), key, kind, req.Label); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	snapshot, err := s.deps.Engine.Snapshot(key, s.deps.Engine.Now())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, snapshot)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELP HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// HelpView is the raised-hand state of one student.
type HelpView struct {
	StudentID     string             `json:"student_id"`
	Phase         activity.HelpPhase `json:"phase"`
	RaisedAt      *time.Time         `json:"raised_at,omitempty"`
	HelpRequested bool               `json:"help_requested"`
	DotPersisted  bool               `json:"dot_persisted"`
}

func newHelpView(studentID string, h activity.HelpState) HelpView {
	v := HelpView{
		StudentID:     studentID,
		Phase:         h.Phase,
		HelpRequested: h.HelpRequested(),
		DotPersisted:  h.DotPersisted(),
	}
	if !h.RaisedAt.IsZero() {
		at := h.RaisedAt
		v.RaisedAt = &at
	}
	return v
}

// handleListHelpDots handles GET /api/v1/help-dots
func (s *Server) handleListHelpDots(w http.ResponseWriter, r *http.Request) {
	ids := s.deps.Engine.HelpDotIDs()
	if ids == nil {
		ids = []string{}
	}
	writeJSONWithMeta(w, r, http.StatusOK, ids, &ResponseMeta{TotalCount: len(ids)})
}

// handleGetHelp handles GET /api/v1/students/{id}/help
func (s *Server) handleGetHelp(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	writeJSON(w, r, http.StatusOK, newHelpView(id, s.deps.Engine.HelpState(id)))
}

// handleAcknowledgeHelp handles POST /api/v1/students/{id}/help/acknowledge
func (s *Server) handleAcknowledgeHelp(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Engine.Acknowledge(id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newHelpView(id, s.deps.Engine.HelpState(id)))
}

// handleDismissHelpDot handles DELETE /api/v1/students/{id}/help-dot
func (s *Server) handleDismissHelpDot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Engine.DismissDot(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════════════════════
// JOB HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.deps.Jobs.ListJobs()
	writeJSONWithMeta(w, r, http.StatusOK, jobs, &ResponseMeta{TotalCount: len(jobs)})
}

// handleRunJob handles POST /api/v1/jobs/{name}/run
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	result, err := s.deps.Jobs.RunNow(r.Context(), name)
	if errors.Is(err, scheduler.ErrJobNotFound) {
		writeJSONError(w, r, http.StatusNotFound, "not_found", "Job not found")
		return
	}
	if err != nil {
		// The result still describes the failed run.
		logger.FromContext(r.Context()).Warn("manual job run failed", logger.String("job", name), logger.Err(err))
	}
	writeJSON(w, r, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// writeDomainError maps domain errors to HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		status int
		code   string
	)
	switch {
	case errors.Is(err, shared.ErrUnsupportedContentType):
		status, code = http.StatusUnsupportedMediaType, "unsupported_content_type"
	case shared.IsValidation(err):
		status, code = http.StatusBadRequest, "invalid_request"
	case shared.IsNotFound(err):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, shared.ErrAlreadyExists):
		status, code = http.StatusConflict, "already_exists"
	case shared.IsStateTransition(err):
		status, code = http.StatusConflict, "invalid_state_transition"
	case errors.Is(err, shared.ErrInvalidState), shared.IsExternalService(err):
		status, code = http.StatusServiceUnavailable, "service_unavailable"
	default:
		status, code = http.StatusInternalServerError, "internal_error"
	}

	log := logger.FromContext(r.Context())
	if status >= 500 {
		log.Error("request failed", logger.String("path", r.URL.Path), logger.Err(err))
	} else {
		log.Debug("request rejected", logger.String("path", r.URL.Path), logger.Err(err))
	}

	message := err.Error()
	var de *shared.DomainError
	if errors.As(err, &de) && de.Message != "" {
		message = de.Message
	}
	writeJSONError(w, r, status, code, message)
}
