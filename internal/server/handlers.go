package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/headline-goat/article-goat/internal/assign"
	"github.com/headline-goat/article-goat/internal/events"
	"github.com/headline-goat/article-goat/internal/render"
	"github.com/headline-goat/article-goat/internal/store"
)

type HealthResponse struct {
	Status        string `json:"status"`
	TestsCount    int    `json:"testsCount"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
	Time          string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	tests, err := s.deps.Store.ListTests(r.Context(), store.TestFilter{})
	if err != nil {
		s.logger.Error("health check failed", "error", err)
		respondError(w, http.StatusServiceUnavailable, "not_ready", "store unavailable")
		return
	}

	respondJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		TestsCount:    len(tests),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Time:          time.Now().UTC().Format(time.RFC3339),
	})
}

// handleEvent ingests one tracking call. Storage failures are absorbed by the
// recorder so the client always gets 204 for a well-formed event.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	err := s.deps.Recorder.Record(r.Context(), events.Input{
		Context: assign.ExperimentContext{
			TestID:    chi.URLParam(r, "testID"),
			VariantID: req.VariantID,
			SessionID: req.SessionID,
		},
		Type:      store.EventType(req.EventType),
		Payload:   req.EventData,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignResponse struct {
	Context assign.ExperimentContext `json:"context"`
	Source  assign.Source            `json:"source"`
	Variant struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		IsControl bool   `json:"isControl"`
	} `json:"variant"`
	Content render.Content `json:"content"`
}

// handleAssign assigns a session server-side and returns the rendered
// variant. Remaining query params are treated as the page query for CTA
// attribution. A missing session gets a fresh id.
func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	testID := chi.URLParam(r, "testID")

	test, err := s.deps.Store.GetTest(ctx, testID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if test.Status != store.StatusRunning {
		respondError(w, http.StatusConflict, "test_not_running", "test "+testID+" is "+string(test.Status))
		return
	}

	variants, err := s.deps.Store.ListVariants(ctx, testID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	query := r.URL.Query()
	sessionID := query.Get("session")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	query.Del("session")

	a, err := s.deps.Assigner.Assign(ctx, sessionID, testID, variants)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	var tmpl *store.Template
	if a.Variant.Content.Kind == store.ContentTemplate {
		if tmpl, err = s.deps.Store.GetTemplate(ctx, a.Variant.Content.TemplateID); err != nil {
			s.respondErr(w, r, err)
			return
		}
	}

	var opts []render.Option
	if s.deps.Redirector != nil {
		opts = append(opts, render.WithRedirector(s.deps.Redirector, query))
	}
	content, err := render.RenderVariant(a.Variant, tmpl, nil, opts...)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	resp := assignResponse{Context: a.ExperimentContext, Source: a.Source, Content: content}
	resp.Variant.ID = a.Variant.ID
	resp.Variant.Name = a.Variant.Name
	resp.Variant.IsControl = a.Variant.IsControl
	respondJSON(w, http.StatusOK, resp)
}
