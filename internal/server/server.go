package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/headline-goat/article-goat/internal/assign"
	"github.com/headline-goat/article-goat/internal/autopilot"
	"github.com/headline-goat/article-goat/internal/config"
	"github.com/headline-goat/article-goat/internal/events"
	"github.com/headline-goat/article-goat/internal/experiment"
	"github.com/headline-goat/article-goat/internal/render"
	"github.com/headline-goat/article-goat/internal/store"
)

// Deps are the collaborators the HTTP surface delegates to.
type Deps struct {
	Store       store.Store
	Experiments *experiment.Service
	Assigner    *assign.Assigner
	Recorder    *events.Recorder
	Optimizer   *autopilot.Optimizer
	Publisher   experiment.Publisher
	Redirector  *render.Redirector
	Logger      *slog.Logger
}

type Server struct {
	config    config.ServerConfig
	deps      Deps
	token     string
	router    *chi.Mux
	logger    *slog.Logger
	startTime time.Time
}

// New creates the server. When cfg.AdminToken is empty a random token is
// generated for this process.
func New(cfg config.ServerConfig, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	token := cfg.AdminToken
	if token == "" {
		token = generateToken()
	}

	s := &Server{
		config:    cfg,
		deps:      deps,
		token:     token,
		logger:    logger,
		startTime: time.Now(),
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// Client runtime endpoints
	r.Route("/api/tests/{testID}", func(r chi.Router) {
		r.Post("/events", s.handleEvent)
		r.Get("/assign", s.handleAssign)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/tests", func(r chi.Router) {
			r.Get("/", s.handleListTests)
			r.Post("/", s.handleCreateTest)

			r.Route("/{testID}", func(r chi.Router) {
				r.Get("/", s.handleGetTest)
				r.Delete("/", s.handleDeleteTest)
				r.Post("/variants", s.handleAddVariant)
				r.Put("/traffic", s.handleSetTraffic)
				r.Post("/start", s.handleStart)
				r.Post("/pause", s.handlePause)
				r.Post("/resume", s.handleResume)
				r.Post("/complete", s.handleComplete)
				r.Post("/optimize", s.handleOptimize)
				r.Post("/publish", s.handlePublish)
				r.Post("/rebuild", s.handleRebuild)
				r.Get("/results", s.handleResults)
			})
		})

		r.Route("/variants/{variantID}", func(r chi.Router) {
			r.Patch("/", s.handleUpdateVariant)
			r.Delete("/", s.handleRemoveVariant)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", s.handleListTemplates)
			r.Post("/", s.handleCreateTemplate)
			r.Get("/{templateID}", s.handleGetTemplate)
		})
	})

	s.router = r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("shutting down http server")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) Token() string {
	return s.token
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// loggingMiddleware logs HTTP requests using slog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func generateToken() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(bytes)
}
