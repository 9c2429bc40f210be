package leaderboardd

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"emojiboard/gateway/middleware"
	board "emojiboard/native/leaderboard"
)

// Ingester accepts activity records on behalf of the data source.
type Ingester interface {
	Ingest(ctx context.Context, records []board.ActivityRecord) ([]uuid.UUID, error)
}

// ServerConfig wires the HTTP API.
type ServerConfig struct {
	Gate          *board.Gate
	Activity      Ingester
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
}

// Server exposes the gate over HTTP and websocket.
type Server struct {
	gate     *board.Gate
	activity Ingester
	logger   *slog.Logger
	handler  http.Handler
}

const (
	rateKeyPublic = "public"
	rateKeyStream = "stream"
)

// NewServer builds the router.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	auth := cfg.Authenticator
	if auth == nil {
		auth = middleware.NewAuthenticator(middleware.AuthConfig{}, logger)
	}
	s := &Server{gate: cfg.Gate, activity: cfg.Activity, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	obs := cfg.Observability
	route := func(name string) func(http.Handler) http.Handler {
		if obs == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return obs.Middleware(name)
	}
	limit := func(key string) func(http.Handler) http.Handler {
		if cfg.RateLimiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return cfg.RateLimiter.Middleware(key)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(public chi.Router) {
			public.Use(limit(rateKeyPublic), route("public"))
			public.Get("/gate", s.handleGate)
			public.Get("/gate/can-update", s.handleCanUpdate)
			public.Get("/gate/current-day", s.handleCurrentDay)
			public.Get("/gate/last-update-day", s.handleLastUpdateDay)
			public.Get("/leaderboard", s.handleLeaderboard)
			public.Get("/leaderboard/export.parquet", s.handleExport)
			public.Get("/rewards/supply", s.handleSupply)
			public.Get("/rewards/{address}", s.handleBalance)
			public.Get("/events", s.handleEvents)
		})
		v1.Group(func(stream chi.Router) {
			stream.Use(limit(rateKeyStream), route("stream"))
			stream.Get("/events/stream", s.handleEventStream)
		})
		v1.Group(func(private chi.Router) {
			private.Use(route("update"), auth.Middleware())
			private.Post("/leaderboard/update", s.handleUpdate)
		})
		v1.Group(func(admin chi.Router) {
			admin.Use(route("admin"), auth.Middleware())
			admin.Post("/admin/force-update-day", s.handleForceUpdateDay)
			admin.Post("/admin/force-reset", s.handleForceReset)
			admin.Post("/admin/fund", s.handleFund)
		})
		v1.Group(func(ingest chi.Router) {
			ingest.Use(route("activity"), auth.Middleware(middleware.ScopeActivityWrite))
			ingest.Post("/activity", s.handleIngest)
		})
	})

	s.handler = otelhttp.NewHandler(r, "leaderboardd")
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// RateLimits returns the per-group limits used by NewServer's route groups.
func RateLimits(cfg RateLimitConfig) map[string]middleware.RateLimit {
	public := middleware.RateLimit{RequestsPerMinute: cfg.RequestsPerMinute, Burst: cfg.Burst}
	stream := middleware.RateLimit{RequestsPerMinute: cfg.RequestsPerMinute / 10, Burst: max(1, cfg.Burst/10)}
	return map[string]middleware.RateLimit{rateKeyPublic: public, rateKeyStream: stream}
}
