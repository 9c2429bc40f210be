package leaderboardd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"emojiboard/core/events"
	"emojiboard/gateway/middleware"
	board "emojiboard/native/leaderboard"
	"emojiboard/observability/logging"
	telemetry "emojiboard/observability/otel"
	"emojiboard/services/leaderboardd/activity"
	stateboard "emojiboard/state/leaderboard"
	"emojiboard/storage"
)

// Main initialises and runs the leaderboard daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/leaderboardd/config.yaml", "path to leaderboardd configuration")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv("EMOJIBOARD_ENV"))
	logger := logging.Setup("leaderboardd", env,
		logging.WithLevel(cfg.Logging.Level),
		logging.WithFile(logging.FileConfig{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   true,
		}))

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryConfig(env))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	params, err := cfg.Params()
	if err != nil {
		return fmt.Errorf("gate params: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "gate"))
	if err != nil {
		return fmt.Errorf("open gate database: %w", err)
	}
	defer db.Close()
	store, err := stateboard.NewStore(db, stateboard.WithEventRetention(cfg.Gate.EventHistory))
	if err != nil {
		return err
	}

	dsn := cfg.Activity.DSN
	if cfg.Activity.Driver == "sqlite" && dsn == "" {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", filepath.Join(cfg.DataDir, "activity.db"))
	}
	activityDB, err := activity.Open(cfg.Activity.Driver, dsn)
	if err != nil {
		return err
	}
	if sqlDB, err := activityDB.DB(); err == nil {
		defer sqlDB.Close()
	}
	kinds := make([]string, 0, len(params.Aggregation.KindWeights))
	for kind := range params.Aggregation.KindWeights {
		kinds = append(kinds, kind)
	}
	activityStore := activity.NewStore(activityDB, kinds)
	logger.Info("activity store opened",
		slog.String("driver", cfg.Activity.Driver),
		logging.MaskField("dsn", dsn))
	janitor := NewJanitor(activityStore, cfg.Activity.Retention.Duration, cfg.Activity.PruneInterval.Duration,
		logger.With(slog.String("component", "janitor")))

	gate, err := board.NewGate(params, board.NewStaticAuthority(cfg.AdminAddresses()...), activityStore,
		board.WithStore(store),
		board.WithLogger(logger.With(slog.String("component", "gate"))),
		board.WithEventHistory(cfg.Gate.EventHistory),
		board.WithEmitter(events.MultiEmitter{
			NewAuditLog(logger.With(slog.String("component", "audit"))),
			janitor,
		}),
	)
	if err != nil {
		return fmt.Errorf("init gate: %w", err)
	}

	server := NewServer(ServerConfig{
		Gate:     gate,
		Activity: activityStore,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    !cfg.Auth.Disabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew.Duration,
		}, logger),
		RateLimiter:   middleware.NewRateLimiter(RateLimits(cfg.RateLimit), logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{ServiceName: "leaderboardd", Enabled: true, LogRequests: true}, logger),
		CORS:          middleware.CORSConfig{AllowedOrigins: cfg.CORS.AllowedOrigins},
		Logger:        logger,
	})
	if cfg.Auth.Disabled {
		logger.Warn("authentication disabled; callers are taken from X-Caller-Address")
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Keeper.Enabled {
		keeper := NewKeeper(gate, common.HexToAddress(cfg.Keeper.Address), cfg.Keeper.Interval.Duration,
			params.DefaultCeiling, cfg.Keeper.MaxCeiling, logger.With(slog.String("component", "keeper")))
		go keeper.Run(stopCtx)
	}

	if cfg.Activity.Retention.Duration > 0 {
		go janitor.Run(stopCtx)
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("leaderboardd listening",
			slog.String("address", cfg.ListenAddress),
			slog.Int64("currentDay", gate.CurrentDay()),
			slog.Int64("lastUpdateDay", gate.LastUpdateDay()))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func telemetryConfig(env string) telemetry.Config {
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	return telemetry.Config{
		ServiceName: "leaderboardd",
		Environment: env,
		Endpoint:    endpoint,
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     endpoint != "",
		Traces:      endpoint != "",
	}
}
