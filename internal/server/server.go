// Package server provides the HTTP API for yvan.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/yvan/internal/app"
	"github.com/hyperjump/yvan/internal/config"
	"github.com/hyperjump/yvan/internal/ledger"
	"github.com/hyperjump/yvan/internal/models"
	"github.com/hyperjump/yvan/pkg/utils"
)

// requestTimeout bounds a request; uploads wait for the whole ingestion.
const requestTimeout = 5 * time.Minute

// Service is what the HTTP API needs from the application. *app.App implements it.
type Service interface {
	Upload(ctx context.Context, filename string, r io.Reader) (*models.IngestResult, error)
	AnswerQuestion(ctx context.Context, question string) (*models.Answer, error)
	Diagnose(ctx context.Context, symptoms string) (*models.Answer, error)
	Status(ctx context.Context) (*app.Status, error)
	ListDocuments(ctx context.Context, offset, limit int) ([]ledger.Record, error)
}

// Server is the HTTP server for the yvan API.
type Server struct {
	svc    Service
	config *config.ServerConfig
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(svc Service, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	s := &Server{
		svc:    svc,
		config: cfg,
		logger: utils.OrNop(logger),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(middleware.Compress(5))

	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Post("/chat", s.handleChat)
		r.Post("/diagnose", s.handleDiagnose)
		r.Get("/status", s.handleStatus)
		r.Get("/documents", s.handleListDocuments)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
// It returns http.ErrServerClosed after Stop.
func (s *Server) Start() error {
	s.logger.Info("Starting server", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
