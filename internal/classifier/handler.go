package classifier

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/samijaber1/cellguard/internal/metrics"
)

// Handler serves the classifier over HTTP.
type Handler struct {
	Engine *Engine
	Logger *slog.Logger
}

// Routes returns the classifier router: POST /classify and GET /healthz.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/classify", h.Classify)
	r.Get("/healthz", Healthz)
	return r
}

// Classify decodes a Request, rejecting unknown fields, and answers with the
// engine's decision.
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	var req Request
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	resp := h.Engine.Decide(req)
	metrics.ObserveDecision(resp.Action)
	if h.Logger != nil {
		h.Logger.Debug("classified window",
			"shard", req.ShardID,
			"action", resp.Action,
			"decision_id", resp.DecisionTrace.DecisionID)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// Healthz answers liveness checks.
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
