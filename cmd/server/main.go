package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/maneesh/commonfiles/internal/chunker"
	"github.com/maneesh/commonfiles/internal/config"
	"github.com/maneesh/commonfiles/internal/handlers"
	"github.com/maneesh/commonfiles/internal/logging"
	"github.com/maneesh/commonfiles/internal/metrics"
	"github.com/maneesh/commonfiles/internal/service"
	"github.com/maneesh/commonfiles/internal/storage"
	"github.com/maneesh/commonfiles/internal/storage/memory"
	"github.com/maneesh/commonfiles/internal/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	log := logger.With("service", cfg.ServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info(ctx, "starting", "port", cfg.ServicePort, "storage_backend", cfg.StorageBackend)

	shutdownTracer, err := tracing.InitTracer(ctx, cfg.ServiceName, cfg.JaegerEndpoint, cfg.TracingEnabled, log)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Warn(ctx, "error shutting down tracer", "error", err)
		}
	}()

	stores, closeStores, err := buildStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStores()

	svc := service.New(stores, log, service.Options{
		StrictParents:  cfg.StrictParents,
		RecentEvents:   cfg.RecentEvents,
		MaxDepth:       cfg.MaxFolderDepth,
		MaxUploadBytes: cfg.GetMaxUploadBytes(),
	})

	router := mux.NewRouter()
	router.Use(metrics.Middleware())

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	handlers.Register(router, svc, log)

	// No write timeout: downloads stream for as long as the file takes.
	srv := &http.Server{
		Addr:              ":" + cfg.ServicePort,
		Handler:           otelhttp.NewHandler(router, "commonfiles"),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "server listening", "port", cfg.ServicePort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "server forced to shutdown", "error", err)
	}

	log.Info(shutdownCtx, "server exited")
	return nil
}

// buildStores wires the configured backend. The returned func releases
// connections and is safe to call once.
func buildStores(ctx context.Context, cfg *config.Config, log logging.Logger) (storage.Stores, func(), error) {
	compression, err := chunker.ParseCompression(cfg.BlobCompression)
	if err != nil {
		return storage.Stores{}, nil, err
	}
	chunks := chunker.NewChunker(cfg.GetChunkSizeBytes())

	if cfg.StorageBackend == config.BackendMemory {
		log.Warn(ctx, "using in-memory storage; nothing survives a restart")
		store := memory.NewStore()
		return storage.Stores{
			Folders: store,
			Files:   store,
			Audit:   store,
			Blobs:   storage.NewChunkedBlobs(memory.NewObjectStore(), chunks, compression, cfg.ReadParallelism),
		}, func() {}, nil
	}

	log.Info(ctx, "connecting to MinIO", "endpoint", cfg.MinIOEndpoint)
	minioClient, created, err := storage.NewMinioClient(ctx,
		cfg.MinIOEndpoint,
		cfg.MinIOAccessKey,
		cfg.MinIOSecretKey,
		cfg.MinIOBucketName,
		cfg.MinIOUseSSL,
	)
	if err != nil {
		return storage.Stores{}, nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}
	if created {
		log.Info(ctx, "created bucket", "bucket", cfg.MinIOBucketName)
	}

	log.Info(ctx, "connecting to TiDB", "host", cfg.TiDBHost, "database", cfg.TiDBDatabase)
	tidbClient, err := storage.NewTiDBClient(ctx, cfg.GetDSN())
	if err != nil {
		return storage.Stores{}, nil, fmt.Errorf("failed to initialize TiDB client: %w", err)
	}
	if err := tidbClient.Migrate(ctx); err != nil {
		tidbClient.Close()
		return storage.Stores{}, nil, err
	}

	closers := []func() error{tidbClient.Close}
	var files storage.FileStore = tidbClient
	if cfg.RedisEnabled {
		log.Info(ctx, "connecting to Redis", "addr", cfg.GetRedisAddr())
		redisClient, err := storage.NewRedisClient(ctx, cfg.GetRedisAddr(), cfg.RedisPassword, cfg.RedisDB, cfg.CacheTTL)
		if err != nil {
			tidbClient.Close()
			return storage.Stores{}, nil, fmt.Errorf("failed to initialize Redis client: %w", err)
		}
		closers = append(closers, redisClient.Close)
		files = storage.NewCachedFiles(tidbClient, redisClient, log)
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Warn(context.Background(), "error closing storage", "error", err)
			}
		}
	}

	return storage.Stores{
		Folders: tidbClient,
		Files:   files,
		Audit:   tidbClient,
		Blobs:   storage.NewChunkedBlobs(minioClient, chunks, compression, cfg.ReadParallelism),
	}, closeAll, nil
}
