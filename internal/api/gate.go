package api

import (
	"net/http"

	"github.com/samijaber1/cellguard/internal/controlplane"
)

// handleGateCheck handles GET /api/release-gate/check. A locked gate answers
// 423 with the same body.
func (s *Server) handleGateCheck(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.ControlPlane.CheckGate(r.Context(), r.URL.Query().Get("service"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	status := http.StatusOK
	if !st.Allowed {
		status = http.StatusLocked
	}
	respondJSON(w, status, st)
}

// handleGateOverride handles POST /api/release-gate/override
func (s *Server) handleGateOverride(w http.ResponseWriter, r *http.Request) {
	var req OverrideRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}

	entry, err := s.deps.ControlPlane.OverrideGate(r.Context(), controlplane.OverrideRequest{
		Service:       req.Service,
		Actor:         req.Actor,
		Justification: req.Justification,
		IP:            r.RemoteAddr,
		UserAgent:     r.UserAgent(),
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, OverrideResponse{Success: true, AuditID: entry.ID, Audit: *entry})
}
