package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"qrattend/internal/attendance"
	"qrattend/internal/config"
	"qrattend/internal/directory"
	"qrattend/internal/handler"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/logger"
	"qrattend/internal/queue"
	"qrattend/internal/session"
	"qrattend/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}
	log := logger.New(cfg.LogLevel, cfg.Env)
	defer func() { _ = log.Sync() }()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		redisClient *store.Redis
		err         error
	)
	if cfg.SessionBackend == config.BackendRedis || usesRedisQueue(cfg) {
		if redisClient, err = store.NewRedis(cfg.RedisAddr); err != nil {
			return err
		}
		defer func() { _ = redisClient.Close() }()
		if !redisClient.Healthy(ctx) {
			log.Warn("redis not reachable at startup", zap.String("addr", cfg.RedisAddr))
		}
	}

	var repo session.Repository = session.NewMemoryRepository()
	if cfg.SessionBackend == config.BackendRedis {
		repo = session.NewRedisRepository(redisClient.Client, cfg.RedisPrefix)
	}
	sessions := session.NewStore(repo, logger.WithComponent(log, "sessions"))

	dir, dirCloser, err := directory.Open(ctx, cfg)
	if err != nil {
		// attendance still works without a directory; reconciliation is best-effort
		log.Warn("student directory unavailable", zap.Error(err))
		dir = nil
	} else {
		defer func() { _ = dirCloser.Close() }()
	}

	reconciler, err := buildReconciler(ctx, cfg, log, dir, redisClient)
	if err != nil {
		return err
	}
	recorder := attendance.NewRecorder(sessions, reconciler, logger.WithComponent(log, "recorder"))

	h := handler.New(sessions, recorder, dir, cfg.PublicBaseURL, logger.WithComponent(log, "http"))
	if redisClient != nil {
		h.AddHealthCheck("redis", redisClient.Healthy)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger.WithComponent(log, "access"), "/healthz", "/metrics"))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	r.Use(httpmiddleware.SecurityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	h.Register(r, limiter.GinMiddleware())

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", srv.Addr),
			zap.String("session_backend", cfg.SessionBackend),
			zap.String("directory_backend", cfg.DirectoryBackend),
			zap.String("reconcile_mode", cfg.ReconcileMode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}
	log.Info("server exited")
	return nil
}

func usesRedisQueue(cfg config.App) bool {
	return cfg.ReconcileMode == config.ReconcileQueue && cfg.QueueBackend == config.BackendRedis
}

// buildReconciler picks inline or queued reconciliation. The Redis queue only
// publishes, so it needs no local directory; cmd/worker applies the jobs. With
// the memory queue the worker runs in this process until ctx is cancelled.
func buildReconciler(ctx context.Context, cfg config.App, log *zap.Logger, dir directory.Directory, redisClient *store.Redis) (attendance.Reconciler, error) {
	reconcileLog := logger.WithComponent(log, "reconcile")
	if usesRedisQueue(cfg) {
		if redisClient == nil {
			return nil, errors.New("redis queue selected but no redis client configured")
		}
		q := queue.NewRedisQueue(redisClient.Client, cfg.RedisPrefix+":jobs")
		return attendance.NewQueueReconciler(q, reconcileLog, 0), nil
	}

	if dir == nil {
		return nil, nil
	}
	if cfg.ReconcileMode == config.ReconcileInline {
		return attendance.NewInlineReconciler(dir, reconcileLog, cfg.ReconcileTimeout), nil
	}

	q := queue.NewInMemory(256)
	worker := attendance.NewWorker(q, dir, reconcileLog, cfg.ReconcileTimeout)
	go func() {
		if err := worker.Run(ctx); err != nil {
			reconcileLog.Error("in-process worker stopped", zap.Error(err))
		}
	}()
	return attendance.NewQueueReconciler(q, reconcileLog, 0), nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       24 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
