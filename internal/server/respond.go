package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/headline-goat/article-goat/internal/assign"
	"github.com/headline-goat/article-goat/internal/events"
	"github.com/headline-goat/article-goat/internal/experiment"
	"github.com/headline-goat/article-goat/internal/publish"
	"github.com/headline-goat/article-goat/internal/render"
	"github.com/headline-goat/article-goat/internal/store"
)

type apiResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Rule    string `json:"rule,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	writeError(w, status, &apiError{Code: code, Message: message})
}

func writeError(w http.ResponseWriter, status int, apiErr *apiError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(apiResponse{Error: apiErr}); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// respondErr maps domain errors onto HTTP statuses.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	var verr *experiment.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusUnprocessableEntity, &apiError{
			Code: "validation_error", Message: verr.Message, Rule: verr.Rule,
		})
	case errors.Is(err, events.ErrInvalidEvent):
		respondError(w, http.StatusBadRequest, "invalid_event", err.Error())
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, store.ErrConflict):
		respondError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, assign.ErrNoVariants):
		respondError(w, http.StatusConflict, "no_variants", err.Error())
	case errors.Is(err, render.ErrTemplateMismatch):
		respondError(w, http.StatusConflict, "template_mismatch", err.Error())
	case errors.Is(err, publish.ErrPublish):
		s.logger.Error("publish failed", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusBadGateway, "publish_failed", "artifact upload failed")
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}
