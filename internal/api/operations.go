package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/samijaber1/cellguard/internal/controlplane"
	"github.com/samijaber1/cellguard/internal/storage"
)

// TokenHeader carries the ingest token.
const TokenHeader = "X-CELLGUARD-TOKEN"

func serviceOrDefault(name string) string {
	if name == "" {
		return controlplane.DefaultService
	}
	return name
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

// handleIngest handles POST /api/ingest/job-stat
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.ControlPlane.Authorize(r.Header.Get(TokenHeader)); err != nil {
		s.respondErr(w, r, err)
		return
	}
	var req JobStatRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}

	stat, err := s.deps.ControlPlane.IngestJobStat(r.Context(), controlplane.JobStatInput{
		Service:        req.Service,
		QueueNamespace: req.QueueNamespace,
		PeriodStart:    req.PeriodStart,
		PeriodEnd:      req.PeriodEnd,
		JobCount:       req.JobCount,
		ErrorCount:     req.ErrorCount,
		LatencyP95Ms:   req.LatencyP95Ms,
		Meta:           req.Meta,
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, stat)
}

// handleEvaluate handles POST /api/evaluate
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	res, err := s.deps.ControlPlane.Evaluate(r.Context(), serviceOrDefault(req.Service), req.WindowMinutes)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleInject handles POST /api/inject-failures
func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	var req InjectRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	stat, err := s.deps.ControlPlane.InjectFailures(r.Context(), controlplane.InjectRequest{
		Service:      serviceOrDefault(req.Service),
		Queue:        req.Queue,
		Minutes:      req.Minutes,
		ErrorRate:    req.ErrorRate,
		Total:        req.Total,
		P95LatencyMs: req.P95LatencyMs,
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, stat)
}

// handleChaosPartition handles POST /api/chaos/partition. A command that ran
// but failed answers 422 with the command result.
func (s *Server) handleChaosPartition(w http.ResponseWriter, r *http.Request) {
	var req PartitionRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	res, err := s.deps.ControlPlane.ChaosPartition(r.Context(), controlplane.PartitionRequest{
		Mode:            req.Mode,
		DurationSeconds: req.DurationSeconds,
		DelayMs:         req.DelayMs,
		LossPercent:     req.LossPercent,
	})
	if errors.Is(err, controlplane.ErrChaosFailed) && res != nil {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   "chaos_failed",
			"message": err.Error(),
			"result":  res,
		})
		return
	}
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleChaosHeal handles POST /api/chaos/heal
func (s *Server) handleChaosHeal(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.ControlPlane.ChaosHeal(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleChaosSchedule handles POST /api/chaos/schedule
func (s *Server) handleChaosSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	res, err := s.deps.ControlPlane.ScheduleDrill(r.Context(), serviceOrDefault(req.Service), req.At)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleAuditLogs handles GET /api/audit-logs
func (s *Server) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.deps.ControlPlane.AuditLogs(r.Context(),
		serviceOrDefault(r.URL.Query().Get("service")), queryInt(r, "limit"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"audit_logs": logs, "total": len(logs)})
}

// handleIncidents handles GET /api/incidents
func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	incidents, err := s.deps.ControlPlane.ListIncidents(r.Context(),
		q.Get("service"), storage.IncidentStatus(q.Get("status")), queryInt(r, "limit"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"incidents": incidents, "total": len(incidents)})
}

// handleIncidentStatus handles POST /api/incidents/{id}/status
func (s *Server) handleIncidentStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "validation_failed", "incident id must be a positive integer")
		return
	}
	var req IncidentStatusRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	inc, err := s.deps.ControlPlane.SetIncidentStatus(r.Context(), id, storage.IncidentStatus(req.Status))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, inc)
}

// handleScorecard handles GET /api/scorecard
func (s *Server) handleScorecard(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Scorecards.Snapshot(r.Context(), serviceOrDefault(r.URL.Query().Get("service")))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}
