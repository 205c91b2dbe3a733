// Package api serves the rating engine, the tower namer, and the quote
// store over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/sells-group/cyber-rating/internal/quote"
	"github.com/sells-group/cyber-rating/internal/rating"
	"github.com/sells-group/cyber-rating/internal/resilience"
	"github.com/sells-group/cyber-rating/internal/tower"
)

// Config tunes the HTTP layer.
type Config struct {
	CORSOrigins []string
	// RateLimitRPS of zero disables the request limiter.
	RateLimitRPS   float64
	RateLimitBurst int
	Retry          resilience.Policy
	RequestTimeout time.Duration
}

// Server holds the shared dependencies of every handler.
type Server struct {
	engine   *rating.Engine
	namer    *tower.Namer
	store    quote.Store // nil disables the quote routes
	cfg      Config
	limiter  *rate.Limiter
	metrics  *Metrics
	gatherer prometheus.Gatherer
}

// NewServer wires a Server. Metrics are registered on and served from reg;
// a nil reg gets a fresh registry.
func NewServer(engine *rating.Engine, namer *tower.Namer, store quote.Store, cfg Config, reg *prometheus.Registry) *Server {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{
		engine:   engine,
		namer:    namer,
		store:    store,
		cfg:      cfg,
		metrics:  NewMetrics(reg),
		gatherer: reg,
	}
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}
	return s
}

// Handler returns the routed http.Handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.limit)
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))

		r.Post("/rate", s.handleRate)
		r.Post("/rate/options", s.handleRateOptions)
		r.Post("/towers/name", s.handleNameTower)

		r.Post("/quotes", s.handleSaveQuote)
		r.Post("/quotes/{id}/bind", s.handleBindQuote)
		r.Get("/submissions/{id}/quotes", s.handleListQuotes)
	})

	return r
}
