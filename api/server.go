package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"synscope/config"
	_ "synscope/docs"
	"synscope/geo"
	"synscope/logging"
	"synscope/scanner"
)

const shutdownTimeout = 10 * time.Second

// Run initializes dependencies and serves the API until SIGINT or SIGTERM.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Configure(os.Stdout, cfg.LogLevel)
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}

	store := NewRedisStore(redisClient)

	services, err := scanner.LoadServiceTable(cfg.ServicesFile)
	if err != nil {
		return fmt.Errorf("failed to load services: %w", err)
	}
	runner := NewSynRunner(cfg.Capture, services)
	defer runner.Close()
	_ = prepareTransport(runner, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workers := StartWorkers(ctx, store, runner, cfg.APIWorkers)

	hosts := NewCachedLookup(geo.NewClient(cfg.GeoAPIURL, nil), store, cfg.HostInfoTTL)
	server := NewServer(store, hosts, ScanDefaults{
		TimeoutSeconds: cfg.ScanTimeout.Seconds(),
		Workers:        cfg.ScanWorkers,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewRouter(cfg, redisClient, store, server, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting synscope API server", "addr", cfg.HTTPAddr, "workers", cfg.APIWorkers)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		stop()
		workers.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	workers.Wait()
	return nil
}

// prepareTransport opens the runner's packet transport before any task
// arrives, so a missing privilege is reported at startup. The server keeps
// serving; scan tasks then fail with the same error.
func prepareTransport(runner *SynRunner, logger *slog.Logger) error {
	err := runner.Open()
	switch {
	case errors.Is(err, scanner.ErrPrivilege):
		logger.Warn("SYN scanning unavailable, scan tasks will fail", "capture", runner.capture, "error", err)
	case err != nil:
		logger.Error("packet transport unavailable, scan tasks will fail", "capture", runner.capture, "error", err)
	default:
		logger.Info("packet transport ready", "capture", runner.capture)
	}
	return err
}

// NewRouter wires middleware, the versioned API and the auxiliary endpoints.
func NewRouter(cfg *config.Config, redisClient *redis.Client, store TaskStore, server *Server, logger *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLoggingMiddleware(logger), SecurityHeadersMiddleware())

	router.GET("/healthz", HealthHandler(store))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := router.Group("/api/v1")
	if cfg.APIKey != "" {
		v1.Use(AuthMiddleware(cfg.APIKey, logger))
	}
	if cfg.RateLimit > 0 {
		v1.Use(RateLimitMiddleware(redisClient, cfg.RateLimit, cfg.RateLimitWindow, logger))
	}
	server.RegisterRoutes(v1)

	return router
}
