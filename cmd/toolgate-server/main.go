package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/toolgate-ai/toolgate/internal/auth"
	"github.com/toolgate-ai/toolgate/internal/catalog"
	"github.com/toolgate-ai/toolgate/internal/registry"
	"github.com/toolgate-ai/toolgate/internal/server"
	"github.com/toolgate-ai/toolgate/internal/storage"
)

const healthServiceName = "toolgate.v1.ToolGate"

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("TOOLGATE_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	mode := envOrDefault("TOOLGATE_MODE", "stdio") // "stdio" or "http"
	port := envOrDefault("TOOLGATE_PORT", "8080")
	grpcHealthPort := envOrDefault("TOOLGATE_GRPC_HEALTH_PORT", "50054")
	serverName := envOrDefault("TOOLGATE_SERVER_NAME", "toolgate")
	duplicatePolicy := envOrDefault("TOOLGATE_DUPLICATE_POLICY", "warn")
	postgresDSN := os.Getenv("POSTGRES_DSN")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	authCacheTTL := envOrDefaultInt("TOOLGATE_AUTH_CACHE_TTL_S", 30)
	catalogRefreshS := envOrDefaultInt("TOOLGATE_CATALOG_REFRESH_S", 0)

	logger.Info("starting toolgate server",
		zap.String("mode", mode),
		zap.String("port", port),
		zap.String("duplicate_policy", duplicatePolicy),
	)

	// Registry
	behavior, err := registry.ParseDuplicateBehavior(duplicatePolicy)
	if err != nil {
		logger.Fatal("invalid duplicate policy", zap.Error(err))
	}
	reg := registry.New(behavior, logger)

	// Storage — ClickHouse or LogWriter fallback
	var writer storage.EventWriter
	if clickhouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres — one pool shared by the catalog and the authenticator
	var db *sql.DB
	if postgresDSN != "" {
		var err error
		db, err = sql.Open("pgx", postgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
	}

	// Catalog
	if db != nil {
		loader := catalog.NewLoader(catalog.Config{DB: db, Logger: logger})
		if _, err := loader.Load(ctx, reg); err != nil {
			logger.Fatal("catalog load failed", zap.Error(err))
		}
		if catalogRefreshS > 0 {
			go loader.Run(ctx, reg, time.Duration(catalogRefreshS)*time.Second)
		}
	} else {
		logger.Info("no POSTGRES_DSN set, catalog disabled")
	}

	// Server
	srv, err := server.New(server.Config{
		Name:     serverName,
		Version:  version,
		Registry: reg,
		Writer:   writer,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("failed to build server", zap.Error(err))
	}

	switch mode {
	case "stdio":
		if err := srv.RunStdio(ctx); err != nil && ctx.Err() == nil {
			logger.Fatal("stdio session failed", zap.Error(err))
		}
		logger.Info("stdio session closed")

	case "http":
		// Auth — Postgres if available, otherwise static
		var authenticator auth.Authenticator
		if db != nil {
			authenticator = auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
				DB:       db,
				CacheTTL: time.Duration(authCacheTTL) * time.Second,
				FailOpen: true,
				Logger:   logger,
			})
			logger.Info("postgres authenticator connected")
		} else {
			authenticator = auth.NewStaticAuthenticator()
			logger.Info("using static authenticator (no POSTGRES_DSN)")
		}

		runHTTP(ctx, srv, authenticator, port, grpcHealthPort, logger)

	default:
		logger.Fatal("unknown mode", zap.String("mode", mode))
	}
}

func runHTTP(ctx context.Context, srv *server.Server, authenticator auth.Authenticator, port, grpcHealthPort string, logger *zap.Logger) {
	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Handler(authenticator),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// gRPC health service for orchestrator health checks
	grpcServer := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 5 * time.Minute,
			Time:              30 * time.Second,
			Timeout:           5 * time.Second,
		}),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	healthLis, err := net.Listen("tcp", ":"+grpcHealthPort)
	if err != nil {
		logger.Fatal("failed to listen for grpc health", zap.String("port", grpcHealthPort), zap.Error(err))
	}
	go func() {
		if err := grpcServer.Serve(healthLis); err != nil {
			logger.Error("grpc health server failed", zap.Error(err))
		}
	}()
	healthServer.SetServingStatus(healthServiceName, healthpb.HealthCheckResponse_SERVING)

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		healthServer.SetServingStatus(healthServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown failed", zap.Error(err))
		}
		grpcServer.GracefulStop()
	}()

	logger.Info("toolgate listening",
		zap.String("addr", httpServer.Addr),
		zap.String("grpc_health_addr", healthLis.Addr().String()),
	)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
