package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/headline-goat/article-goat/internal/experiment"
	"github.com/headline-goat/article-goat/internal/stats"
	"github.com/headline-goat/article-goat/internal/store"
)

func (s *Server) handleListTests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tests, err := s.deps.Experiments.ListTests(r.Context(), store.TestFilter{
		Status:       store.TestStatus(q.Get("status")),
		Distribution: store.Distribution(q.Get("distribution")),
		ArticleID:    q.Get("articleId"),
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	resp := make([]testResponse, 0, len(tests))
	for _, t := range tests {
		resp = append(resp, toTestResponse(t, nil))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateTest(w http.ResponseWriter, r *http.Request) {
	var req createTestRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	test, control, err := s.deps.Experiments.CreateTest(r.Context(), experiment.CreateTestInput{
		ArticleID:       req.ArticleID,
		ArticleSlug:     req.ArticleSlug,
		Name:            req.Name,
		Type:            req.TestType,
		Distribution:    req.Distribution,
		Goal:            req.Goal,
		MinSampleSize:   req.MinSampleSize,
		ConfidenceLevel: req.ConfidenceLevel,
		Control: experiment.VariantInput{
			Name:        req.Control.Name,
			Description: req.Control.Description,
			Content:     req.Control.content(),
		},
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toTestResponse(test, []*store.Variant{control}))
}

func (s *Server) handleGetTest(w http.ResponseWriter, r *http.Request) {
	test, variants, err := s.deps.Experiments.GetTest(r.Context(), chi.URLParam(r, "testID"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toTestResponse(test, variants))
}

func (s *Server) handleDeleteTest(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Experiments.DeleteTest(r.Context(), chi.URLParam(r, "testID")); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddVariant(w http.ResponseWriter, r *http.Request) {
	var req variantRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	v, err := s.deps.Experiments.AddVariant(r.Context(), chi.URLParam(r, "testID"), experiment.VariantInput{
		Name:        req.Name,
		Description: req.Description,
		Content:     req.content(),
	}, req.TrafficPercent)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toVariantResponse(v))
}

func (s *Server) handleUpdateVariant(w http.ResponseWriter, r *http.Request) {
	var req updateVariantRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	upd := experiment.VariantUpdate{Name: req.Name, Description: req.Description}
	switch {
	case req.TemplateID != nil:
		c := store.TemplateContent(*req.TemplateID, req.Data)
		upd.Content = &c
	case req.Changes != nil:
		c := store.OverrideContent(req.Changes)
		upd.Content = &c
	}

	v, err := s.deps.Experiments.UpdateVariant(r.Context(), chi.URLParam(r, "variantID"), upd)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toVariantResponse(v))
}

func (s *Server) handleRemoveVariant(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Experiments.RemoveVariant(r.Context(), chi.URLParam(r, "variantID")); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetTraffic(w http.ResponseWriter, r *http.Request) {
	var req trafficRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	testID := chi.URLParam(r, "testID")
	if err := s.deps.Experiments.SetTraffic(r.Context(), testID, req.Traffic); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondTest(w, r, testID)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if _, err := s.deps.Experiments.Start(r.Context(), chi.URLParam(r, "testID")); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondTest(w, r, chi.URLParam(r, "testID"))
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if _, err := s.deps.Experiments.Pause(r.Context(), chi.URLParam(r, "testID")); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondTest(w, r, chi.URLParam(r, "testID"))
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if _, err := s.deps.Experiments.Resume(r.Context(), chi.URLParam(r, "testID")); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondTest(w, r, chi.URLParam(r, "testID"))
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	if _, err := s.deps.Experiments.Complete(r.Context(), chi.URLParam(r, "testID"), req.WinnerID); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondTest(w, r, chi.URLParam(r, "testID"))
}

type optimizeResponse struct {
	Skipped     string             `json:"skipped,omitempty"`
	TotalViews  int                `json:"totalViews"`
	WinnerID    string             `json:"winnerId,omitempty"`
	Reallocated bool               `json:"reallocated"`
	Traffic     map[string]float64 `json:"traffic,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// handleOptimize runs auto-pilot for one test now. Partial failures are
// reported alongside the outcome.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Optimizer.Optimize(r.Context(), chi.URLParam(r, "testID"))
	if out == nil {
		s.respondErr(w, r, err)
		return
	}

	resp := optimizeResponse{
		Skipped:     out.Skipped,
		TotalViews:  out.TotalViews,
		WinnerID:    out.WinnerID,
		Reallocated: out.Reallocated,
		Traffic:     out.Traffic,
	}
	if err != nil {
		s.logger.Warn("optimization finished with errors", "test_id", out.TestID, "error", err)
		resp.Error = err.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	ref, err := s.deps.Publisher.Publish(r.Context(), chi.URLParam(r, "testID"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ref)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	testID := chi.URLParam(r, "testID")
	if err := s.deps.Recorder.Rebuild(r.Context(), testID); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondTest(w, r, testID)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	test, variants, err := s.deps.Experiments.GetTest(r.Context(), chi.URLParam(r, "testID"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toResultsResponse(test.ID, stats.Analyze(test, variants)))
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.deps.Experiments.ListTemplates(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	resp := make([]templateResponse, 0, len(templates))
	for _, t := range templates {
		resp = append(resp, toTemplateResponse(t))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	tmpl, err := s.deps.Experiments.CreateTemplate(r.Context(), experiment.TemplateInput{
		Name:     req.Name,
		Category: req.Category,
		Body:     req.Body,
		Kinds:    req.Kinds,
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toTemplateResponse(tmpl))
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := s.deps.Experiments.GetTemplate(r.Context(), chi.URLParam(r, "templateID"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toTemplateResponse(tmpl))
}

func (s *Server) respondTest(w http.ResponseWriter, r *http.Request, testID string) {
	test, variants, err := s.deps.Experiments.GetTest(r.Context(), testID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toTestResponse(test, variants))
}
