// Package api exposes drops, accounts, boards and scans over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/MJE43/plinko-engine/internal/board"
	"github.com/MJE43/plinko-engine/internal/drop"
	"github.com/MJE43/plinko-engine/internal/metrics"
	"github.com/MJE43/plinko-engine/internal/scan"
	"github.com/MJE43/plinko-engine/internal/store"
)

const defaultRequestTimeout = 60 * time.Second

// Deps are the components the server routes to.
type Deps struct {
	DB      store.DB
	Boards  *board.Registry
	Scanner *scan.Scanner
	Drops   *drop.Service
	Settler *drop.Settler

	// StartingBalance is credited to accounts created without a balance.
	StartingBalance int64
	RequestTimeout  time.Duration
	// DropTimeout bounds how long a drop request waits for its landing.
	DropTimeout time.Duration
	// AllowedOrigins lists CORS origins; empty allows any.
	AllowedOrigins []string
}

// Server handles HTTP requests
type Server struct {
	db      store.DB
	boards  *board.Registry
	scanner *scan.Scanner
	drops   *drop.Service
	settler *drop.Settler

	startingBalance int64
	requestTimeout  time.Duration
	dropTimeout     time.Duration
	allowedOrigins  []string

	validator    *Validator
	errorHandler *ErrorHandler
	log          *logrus.Entry
	startTime    time.Time
}

// NewServer creates a new API server
func NewServer(deps Deps, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "api")

	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	s := &Server{
		db:              deps.DB,
		boards:          deps.Boards,
		scanner:         deps.Scanner,
		drops:           deps.Drops,
		settler:         deps.Settler,
		startingBalance: deps.StartingBalance,
		requestTimeout:  timeout,
		dropTimeout:     deps.DropTimeout,
		allowedOrigins:  deps.AllowedOrigins,
		validator:       NewValidator(),
		errorHandler:    NewErrorHandler(log),
		log:             log,
		startTime:       time.Now(),
	}

	log.WithFields(logrus.Fields{
		"version":  EngineVersion,
		"commit":   GitCommit,
		"database": s.db != nil,
		"drops":    s.drops != nil,
	}).Info("api server created")

	return s
}

// Routes sets up the HTTP routes with proper middleware
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(s.corsHandler())
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.LoggingMiddleware)
	r.Use(metrics.Middleware)
	r.Use(s.errorHandler.RecoveryHandler)
	r.Use(middleware.Timeout(s.requestTimeout))

	r.Get("/health", s.handleHealthCheck)
	r.Get("/health/ready", s.handleReadiness)
	r.Get("/health/live", s.handleLiveness)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/version", s.handleVersion)
		r.Get("/board", s.handleBoard)
		r.Get("/snapshot", s.handleSnapshot)

		r.Post("/drops", s.handleDrop)
		r.Get("/drops/{id}", s.handleGetDrop)

		r.Post("/users", s.handleCreateUser)
		r.Get("/users/{id}", s.handleGetUser)
		r.Get("/users/{id}/drops", s.handleListDrops)

		r.Post("/scans", s.handleScan)
		r.Get("/scans", s.handleListScans)
		r.Get("/scans/{id}", s.handleGetScan)
	})

	return r
}

// writeJSON writes a JSON response with proper headers
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Engine-Version", EngineVersion)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.WithError(err).Error("encode response")
	}
}
