// Package api exposes the query engine over read-only HTTP JSON endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/sells-group/enrollment-insight/internal/query"
)

// Options configures the HTTP surface.
type Options struct {
	CORSOrigins    []string
	RateLimitRPS   float64 // 0 disables rate limiting
	RateLimitBurst int
}

// Server routes HTTP requests to the query engine.
type Server struct {
	router *chi.Mux
	engine *query.Engine
}

// NewServer builds the router.
func NewServer(engine *query.Engine, opts Options) *Server {
	s := &Server{router: chi.NewRouter(), engine: engine}
	s.setupMiddleware(opts)
	s.setupRoutes(opts)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupMiddleware(opts Options) {
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(requestID)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{headerCache, headerGeneration, headerInsufficient, headerMessage, middleware.RequestIDHeader},
		MaxAge:         int((5 * time.Minute).Seconds()),
	}))
}

func (s *Server) setupRoutes(opts Options) {
	s.router.Get("/health", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		if opts.RateLimitRPS > 0 {
			burst := opts.RateLimitBurst
			if burst < 1 {
				burst = 1
			}
			r.Use(rateLimit(rate.NewLimiter(rate.Limit(opts.RateLimitRPS), burst)))
		}

		r.Get("/", s.handleHome)
		r.Get("/metrics", s.handleCatalog)
		r.Get("/metrics/{slug}", s.handleMetric)
		r.Get("/enrollments_by_state", s.handleEnrollmentsByState)
		r.Get("/api/entities/{level}/{name}", s.handleEntity)

		r.Route("/api/trends", func(r chi.Router) {
			r.Get("/summary", s.handleSummary)
			r.Get("/forecast", s.handleForecast)
			r.Get("/enrollment-by-age", s.handleEnrollmentByAge)
			r.Get("/state-performance", s.handleStatePerformance)
			r.Get("/bottleneck-districts", s.handleBottlenecks)
			r.Get("/daily-volume", s.handleDailyVolume)
			r.Get("/high-volume-pincodes", s.handleHighVolume)
			r.Get("/fraud/anomalies", s.handleFraud)
		})

		r.Route("/map", func(r chi.Router) {
			r.Get("/states", s.handleMapStates)
			r.Get("/districts/{state}", s.handleMapDistricts)
			r.Get("/pincodes/{district}", s.handleMapPincodes)
			r.Get("/clusters/{kind}", s.handleMapClusters)
		})
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{
			Error:   string(query.KindNotFound),
			Message: "no such endpoint",
			Context: r.URL.Path,
		})
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{
			Error:   "method_not_allowed",
			Message: "endpoints are read-only",
			Context: r.Method + " " + r.URL.Path,
		})
	})
}
