package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kkkkikiki/stampcard/internal/api"
	"github.com/kkkkikiki/stampcard/internal/cache"
	"github.com/kkkkikiki/stampcard/internal/config"
	"github.com/kkkkikiki/stampcard/internal/database"
	"github.com/kkkkikiki/stampcard/internal/engine"
	"github.com/kkkkikiki/stampcard/internal/logging"
	"github.com/kkkkikiki/stampcard/internal/repository"
	"github.com/kkkkikiki/stampcard/internal/service"
)

// store is what the server needs from a persistence backend
type store interface {
	engine.Store
	service.BusinessRegistry
	Ping(ctx context.Context) error
}

func main() {
	ctx := context.Background()

	// Load configuration from environment variables
	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.App)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting stamp card service",
		zap.String("environment", cfg.App.Environment), zap.String("store", cfg.App.Store))

	// Initialize persistence
	var (
		st      store
		backend cache.Backend = cache.NewMemoryBackend(nil)
	)
	if cfg.App.UsesMemoryStore() {
		st = repository.NewMemoryStore()
		if cfg.Redis.Addr != "" {
			client, err := database.NewRedis(ctx, cfg.Redis)
			if err != nil {
				logger.Fatal("Failed to connect to Redis", zap.Error(err))
			}
			defer client.Close()
			backend = cache.NewRedisBackend(client)
		}
	} else {
		db, err := database.NewDB(ctx, cfg, logger)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer func() {
			if err := db.Close(); err != nil {
				logger.Error("Error closing database connections", zap.Error(err))
			}
		}()
		st = repository.NewPostgresStore(db.Postgres)
		if db.Redis != nil {
			backend = cache.NewRedisBackend(db.Redis)
		}
	}

	eng := engine.New(st, logger,
		engine.WithStatsCache(cache.NewStatsCache(backend, cfg.Engine.StatsTTL, logger)))
	stampService := service.NewStampServer(eng, st, logger)

	limiter := service.NewIPRateLimiter(cfg.Server.ScanRPS, cfg.Server.ScanBurst)
	limiter.TrustProxy = cfg.Server.TrustProxy
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go limiter.Run(sweepCtx, 10*time.Minute)

	// Create HTTP mux
	mux := http.NewServeMux()

	// Register stamp service handler
	path, handler := api.NewStampServiceHandler(stampService,
		connect.WithInterceptors(limiter.Interceptor(logger, api.StampServiceScanProcedure)))
	mux.Handle(path, handler)

	// Add health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		hostname, _ := os.Hostname()
		w.WriteHeader(http.StatusOK)
		response := fmt.Sprintf(`{"status":"ok","service":"stampcard","hostname":"%s"}`, hostname)
		w.Write([]byte(response))
	})

	// Add store health check endpoint
	mux.HandleFunc("/health/db", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","message":"store unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(fmt.Sprintf(`{"status":"ok","store":"%s"}`, cfg.App.Store)))
	})

	// Add Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:           cfg.Server.GetServerAddr(),
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
		// Use h2c so we can serve HTTP/2 without TLS
		Handler: h2c.NewHandler(mux, &http2.Server{
			MaxConcurrentStreams: 1000,
		}),
	}

	// Start server in goroutine
	go func() {
		logger.Info("Listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return
	}

	logger.Info("Server exited gracefully")
}
