package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/lazypower/retain/internal/engine"
	"github.com/lazypower/retain/internal/logging"
)

// Options configures a Server. The zero value serves the API without
// metrics, with reinforcement off, and without a tracker health check.
type Options struct {
	Version string
	// Backend names the tracker backend in health output.
	Backend string
	// Ping checks tracker reachability for /api/health. Nil means always up.
	Ping func(context.Context) error
	// Reinforce is the default for rank requests that do not say.
	Reinforce bool
	// Sweep holds the default cleanup cutoffs. Zero means
	// engine.DefaultSweepThresholds.
	Sweep  engine.SweepThresholds
	Logger *zap.Logger
	// Metrics is mounted at MetricsPath when non-nil.
	Metrics     http.Handler
	MetricsPath string
	// Now overrides the clock for tests.
	Now func() time.Time
}

// Server is the retain HTTP API server.
type Server struct {
	pipeline *engine.Pipeline
	opts     Options
	logger   *zap.Logger
	router   chi.Router
	started  time.Time
}

// New creates a Server ranking through p.
func New(p *engine.Pipeline, opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sweep == (engine.SweepThresholds{}) {
		opts.Sweep = engine.DefaultSweepThresholds()
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	s := &Server{
		pipeline: p,
		opts:     opts,
		logger:   logging.OrNop(opts.Logger),
		started:  time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/rank", s.handleRank)
		r.Post("/sweep", s.handleSweep)

		r.Get("/memories/{id}", s.handleGetMemory)
		r.Delete("/memories/{id}", s.handleForget)
		r.Post("/memories/{id}/reinforce", s.handleReinforce)
	})

	if s.opts.Metrics != nil {
		r.Handle(s.opts.MetricsPath, s.opts.Metrics)
	}

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	trackerOK := true
	if s.opts.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Ping(ctx); err != nil {
			trackerOK = false
			s.logger.Warn("tracker health check failed", zap.Error(err))
		}
	}

	status := "ok"
	if !trackerOK {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    s.opts.Version,
		"uptime":     time.Since(s.started).Seconds(),
		"tracker":    s.opts.Backend,
		"tracker_ok": trackerOK,
	})
}

func requestLogger(l *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			l.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
