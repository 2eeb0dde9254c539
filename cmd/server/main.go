/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the voicestock server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, then environment)
  2. Build the logger
  3. Open the SQLite tenant registry
  4. Build the document backend selected by BACKEND
  5. Pick tenant locks: Redis when REDIS_ADDRESS is set, in-process otherwise
  6. Wire resolver, service, handler and router
  7. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close Redis and the database
  4. Exit

EXAMPLES:
  # Local workbooks, no Google account needed
  BACKEND=xlsx XLSX_DIR=./books ./server

  # Throwaway in-memory documents
  BACKEND=memory DATABASE_PATH=:memory: ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - service/service.go: Operation boundary
*/
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/warp/voicestock/api"
	"github.com/warp/voicestock/books"
	"github.com/warp/voicestock/config"
	"github.com/warp/voicestock/service"
	"github.com/warp/voicestock/sheet"
	"github.com/warp/voicestock/sheet/gsheets"
	"github.com/warp/voicestock/sheet/memory"
	"github.com/warp/voicestock/sheet/xlsx"
	"github.com/warp/voicestock/store/sqlite"
	"github.com/warp/voicestock/tenant"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Configuration invalid: %v", err)
	}
	logg := config.NewLogger(cfg.LogLevel, cfg.LogFormat)

	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		logg.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	backend, err := newBackend(context.Background(), cfg)
	if err != nil {
		logg.Fatalf("Failed to initialize %s backend: %v", cfg.Backend, err)
	}

	var locks tenant.Locker = tenant.NewLocalLocks()
	if cfg.RedisAddress != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
		defer rdb.Close()
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logg.Fatalf("Failed to reach Redis at %s: %v", cfg.RedisAddress, err)
		}
		locks = tenant.NewRedisLocks(rdb, cfg.LockTTL, logg)
		logg.WithField("addr", cfg.RedisAddress).Info("using shared tenant locks")
	}

	loc := cfg.Location()
	resolver := tenant.NewResolver(backend, store, books.Options{
		Now:         func() time.Time { return time.Now().In(loc) },
		PhoneRegion: cfg.PhoneRegion,
	}, logg)

	svc := service.New(resolver, locks, logg)
	handler := api.NewHandler(svc, cfg.ServiceAccountEmail(), store, logg)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logg.WithFields(logrus.Fields{"addr": cfg.Addr, "backend": cfg.Backend}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logg.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logg.Errorf("Server forced to shutdown: %v", err)
	}

	logg.Info("server stopped")
}

func newBackend(ctx context.Context, cfg *config.Config) (sheet.Backend, error) {
	switch cfg.Backend {
	case "xlsx":
		return xlsx.New(cfg.XLSXDir), nil
	case "memory":
		return memory.New(), nil
	default:
		creds, err := cfg.Credentials()
		if err != nil {
			return nil, err
		}
		return gsheets.NewFromCredentials(ctx, creds)
	}
}
