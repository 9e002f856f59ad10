package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"rewardskit/adapters/jsonfile"
	mem "rewardskit/adapters/memory"
	redisAdapter "rewardskit/adapters/redis"
	sqlxAdapter "rewardskit/adapters/sqlx"
	"rewardskit/api/httpapi"
	"rewardskit/config"
	"rewardskit/engine"
	"rewardskit/integrations/webhook"
	"rewardskit/leaderboard"
	"rewardskit/realtime"
	"rewardskit/rewards"
	"rewardskit/telemetry"
)

// App aggregates the assembled server components.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Telemetry telemetry.Shutdown
	Kit       *rewards.Kit
	Handler   http.Handler
	Server    *http.Server
}

// provideConfig loads REWARDSKIT_CONFIG_FILE when set, otherwise the
// environment alone.
func provideConfig() (*config.Config, error) {
	if path := os.Getenv("REWARDSKIT_CONFIG_FILE"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg, os.Stdout, os.Stderr)
}

func provideTelemetry(ctx context.Context, cfg *config.Config) (telemetry.Shutdown, error) {
	return telemetry.Setup(ctx, cfg.Telemetry)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideBoard() leaderboard.Board {
	return leaderboard.NewSkipList()
}

func provideStorage(cfg *config.Config, logger *slog.Logger) (engine.Storage, func(), error) {
	storage, closer, err := setupStorage(cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if closer == nil {
			return
		}
		if err := closer.Close(); err != nil {
			logger.Error("close storage", "adapter", cfg.Storage.Adapter, "error", err)
		}
	}
	return storage, cleanup, nil
}

func provideKit(cfg *config.Config, logger *slog.Logger, storage engine.Storage, hub *realtime.Hub, board leaderboard.Board) (*rewards.Kit, func(), error) {
	loc, err := cfg.Ledger.Location()
	if err != nil {
		return nil, nil, fmt.Errorf("ledger timezone: %w", err)
	}
	opts := []rewards.Option{
		rewards.WithStorage(storage),
		rewards.WithDispatchMode(cfg.Ledger.DispatchMode()),
		rewards.WithRealtime(hub),
		rewards.WithLeaderboard(board),
		rewards.WithRecorderOptions(
			engine.WithLocation(loc),
			engine.WithMaxHistory(cfg.Ledger.MaxHistory),
			engine.WithLogger(logger),
		),
	}
	if len(cfg.Webhook.Endpoints) > 0 {
		sinkOpts := []webhook.Option{
			webhook.WithClient(&http.Client{Timeout: cfg.Webhook.EffectiveTimeout()}),
			webhook.WithLogger(logger),
		}
		if cfg.Webhook.OnlyForced {
			sinkOpts = append(sinkOpts, webhook.OnlyForced())
		}
		if cfg.Webhook.Secret != "" {
			sinkOpts = append(sinkOpts, webhook.WithSecret(cfg.Webhook.Secret))
		}
		opts = append(opts, rewards.WithWebhook(webhook.New(cfg.Webhook.Endpoints, sinkOpts...)))
	}
	kit := rewards.New(opts...)
	return kit, kit.Close, nil
}

func provideHandler(cfg *config.Config, logger *slog.Logger, kit *rewards.Kit) (http.Handler, error) {
	loc, err := cfg.Ledger.Location()
	if err != nil {
		return nil, fmt.Errorf("ledger timezone: %w", err)
	}
	return httpapi.NewMux(kit.Registry, kit.Board, kit.Hub, httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		Location:         loc,
		Logger:           logger,
	}), nil
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config, stdout, stderr io.Writer) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	out := stdout
	if cfg.Logging.Output == "stderr" {
		out = stderr
	}

	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// convertAttributes converts map[string]string to []slog.Attr.
func convertAttributes(attrs map[string]string) []slog.Attr {
	var result []slog.Attr
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}

// setupStorage creates the storage adapter named by the configuration.
// The returned closer is nil for adapters without resources to release.
func setupStorage(cfg *config.Config) (engine.Storage, io.Closer, error) {
	switch cfg.Storage.Adapter {
	case "memory":
		return mem.New(), nil, nil
	case "redis":
		s, err := redisAdapter.New(cfg.Storage.Redis)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "sql":
		s, err := sqlxAdapter.New(cfg.Storage.SQL)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "file":
		if dir := filepath.Dir(cfg.Storage.File.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, nil, fmt.Errorf("create storage dir: %w", err)
			}
		}
		s, err := jsonfile.New(cfg.Storage.File.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}
