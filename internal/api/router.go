// Package api exposes the analyzer over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/calai/calai/internal/analyzer"
)

// Options configures the router.
type Options struct {
	CORSOrigins []string
	// Timeout bounds each request; zero disables it.
	Timeout time.Duration
}

// NewRouter wires HTTP routes to the orchestrator.
func NewRouter(orch *analyzer.Orchestrator, log logrus.FieldLogger, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors(opts.CORSOrigins))
	if opts.Timeout > 0 {
		r.Use(middleware.Timeout(opts.Timeout))
	}

	h := New(orch, log)
	r.Route("/api", func(api chi.Router) {
		h.RegisterRoutes(api)
	})
	return r
}
