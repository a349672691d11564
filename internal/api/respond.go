package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/samijaber1/cellguard/internal/controlplane"
	"github.com/samijaber1/cellguard/internal/scheduler"
	"github.com/samijaber1/cellguard/internal/storage"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// respondErr maps an operation error onto a status code.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		respondError(w, http.StatusBadRequest, "validation_failed", describe(verrs))
	case errors.Is(err, controlplane.ErrValidation):
		respondError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, controlplane.ErrForbidden):
		respondError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, scheduler.ErrUnknownAgent):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, controlplane.ErrChaosFailed):
		respondError(w, http.StatusUnprocessableEntity, "chaos_failed", err.Error())
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

// decode reads a JSON body into dst and validates it. An empty body leaves
// dst at its zero value.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid JSON body: %v", controlplane.ErrValidation, err)
	}
	return s.validate.Struct(dst)
}

func describe(verrs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
