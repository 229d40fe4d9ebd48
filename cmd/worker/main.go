// The execution worker consumes submission jobs from the shared priority
// queue, judges each one inside a fresh sandbox container, and records the
// verdict for downstream consumers.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"arena-worker/internal/config"
	"arena-worker/internal/db"
	"arena-worker/internal/judge"
	"arena-worker/internal/logging"
	"arena-worker/internal/metrics"
	"arena-worker/internal/queue"
	"arena-worker/internal/recorder"
	"arena-worker/internal/runtime"
	"arena-worker/internal/worker"
)

func main() {
	// Load .env file; fall through to real environment variables otherwise.
	if err := godotenv.Load(); err != nil {
		_ = godotenv.Load("../.env")
	}

	logging.Init()
	defer logging.Sync()
	log := logging.L()

	cfg := config.Load()
	log.Info("starting execution worker",
		zap.Int("concurrency", cfg.Concurrency),
		zap.Duration("timeout", cfg.ExecutionTimeout),
		zap.Int("max_memory_mb", cfg.MaxMemoryMB),
		zap.String("container_prefix", cfg.ContainerPrefix))

	execCfg := runtime.DefaultExecutionConfig()
	execCfg.MemoryBytes = int64(cfg.MaxMemoryMB) * 1024 * 1024
	execCfg.Timeout = cfg.ExecutionTimeout

	dockerRT, err := runtime.NewDockerRuntime(execCfg)
	if err != nil {
		log.Fatal("container daemon client init failed", zap.Error(err))
	}
	defer dockerRT.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The worker is useless without the daemon; refuse to start.
	if err := dockerRT.Ping(ctx); err != nil {
		log.Fatal("container daemon is not accessible", zap.Error(err))
	}

	engine := runtime.NewEngine(dockerRT, execCfg, cfg.ContainerPrefix)

	// Reap containers stranded by a previous crash.
	if n := engine.Reap(ctx); n > 0 {
		metrics.Get().OrphansReapedTotal.Add(float64(n))
	}

	rdb, err := db.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal("queue store connection failed", zap.Error(err))
	}
	defer rdb.Close()

	gormDB, err := db.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("relational store connection failed", zap.Error(err))
	}
	defer func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	queueClient := queue.New(rdb, cfg.QueueName)
	rec := recorder.New(gormDB, rdb)
	adjudicator := judge.NewAdjudicator(engine)

	opts := worker.DefaultOptions()
	opts.Concurrency = cfg.Concurrency
	w := worker.New(queueClient, rec, adjudicator, opts)

	httpServer := startOpsServer(cfg.HTTPAddr, w, engine, queueClient, gormDB)

	// Termination only flips the shutdown flag; in-flight work finishes.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
		w.RequestShutdown()
	}()

	w.Run(ctx)

	log.Info("shutting down worker")
	if n := engine.Reap(context.Background()); n > 0 {
		metrics.Get().OrphansReapedTotal.Add(float64(n))
	}
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	log.Info("worker shutdown complete")
}

// startOpsServer exposes /health and /metrics. Returns nil when disabled.
func startOpsServer(addr string, w *worker.Worker, engine *runtime.Engine, q *queue.Client, gormDB *gorm.DB) *http.Server {
	if addr == "" {
		return nil
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		health := gin.H{
			"shutting_down": w.ShuttingDown(),
			"docker":        "ok",
			"redis":         "ok",
			"database":      "ok",
		}
		status := http.StatusOK
		if err := engine.Ping(ctx); err != nil {
			health["docker"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if err := q.Ping(ctx); err != nil {
			health["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if sqlDB, err := gormDB.DB(); err == nil {
			if err := sqlDB.PingContext(ctx); err != nil {
				health["database"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		c.JSON(status, health)
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("ops listener failed", zap.Error(err))
		}
	}()
	logging.L().Info("ops listener started", zap.String("addr", addr))
	return server
}
