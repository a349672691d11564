package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/samijaber1/cellguard/internal/broadcast"
	"github.com/samijaber1/cellguard/internal/scheduler"
)

// handleAgentStatus handles GET /api/agents/status
func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Scheduler.Status(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// handleAgentActivity handles GET /api/agents/activity
func (s *Server) handleAgentActivity(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit")
	if limit <= 0 {
		limit = scheduler.DefaultActivityLimit
	}
	activity, err := s.deps.Scheduler.RecentActivity(r.Context(), limit)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"activity": activity})
}

// handleRunAll handles POST /api/agents/run-all. Runs are dispatched unless
// async=false, in which case the request waits for every run.
func (s *Server) handleRunAll(w http.ResponseWriter, r *http.Request) {
	async := true
	if v := r.URL.Query().Get("async"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "validation_failed", "async must be a boolean")
			return
		}
		async = b
	}

	if async {
		jobs, err := s.deps.Scheduler.RunAllParallel(r.Context())
		if err != nil {
			s.respondErr(w, r, err)
			return
		}
		respondJSON(w, http.StatusAccepted, RunAllResponse{Async: true, Jobs: jobs})
		return
	}

	outcomes, err := s.deps.Scheduler.RunAll(r.Context())
	resp := RunAllResponse{Outcomes: outcomes}
	if err != nil {
		if outcomes == nil {
			s.respondErr(w, r, err)
			return
		}
		resp.Errors = err.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleRunAgent handles POST /api/agents/{name}/run
func (s *Server) handleRunAgent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	out, err := s.deps.Scheduler.RunAgentOnService(r.Context(), name, serviceOrDefault(r.URL.Query().Get("service")))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if out == nil {
		respondError(w, http.StatusUnprocessableEntity, "agent_not_run", "Agent disabled or service not found")
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// handleToggleAgent handles POST /api/agents/{name}/toggle
func (s *Server) handleToggleAgent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req ToggleRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := s.deps.Scheduler.ToggleAgent(r.Context(), name, *req.Enabled); err != nil {
		s.respondErr(w, r, err)
		return
	}

	evt := broadcast.NewEvent(broadcast.TypeAgentToggled)
	evt.Agent = name
	evt.Payload = map[string]any{"enabled": *req.Enabled}
	broadcast.Notify(r.Context(), s.deps.Broadcaster, s.logger, evt)

	respondJSON(w, http.StatusOK, ToggleResponse{Agent: name, Enabled: *req.Enabled})
}
