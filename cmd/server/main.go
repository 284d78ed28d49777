package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"lotledger/backend/internal/cache"
	"lotledger/backend/internal/config"
	"lotledger/backend/internal/finance"
	"lotledger/backend/internal/httpapi"
	"lotledger/backend/internal/logger"
	"lotledger/backend/internal/metrics"
	"lotledger/backend/internal/pricing"
	"lotledger/backend/internal/service"
	"lotledger/backend/internal/store"
	"lotledger/backend/internal/store/memory"
	pgstore "lotledger/backend/internal/store/postgres"
)

func main() {
	// Missing .env is fine, real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()
	logger.InitLogger(cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	log := logger.GetLogger()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("postgres unavailable and DATABASE_URL is set, refusing to start with in-memory fallback", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Info("repository: in-memory")
	}

	summaries := cache.SummaryCache(cache.NoopSummaryCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSummaryCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using noop summary cache", zap.Error(err))
		} else {
			summaries = redisCache
			closers = append(closers, redisCache.Close)
			log.Info("summary cache: redis")
		}
	} else {
		log.Info("summary cache: noop")
	}

	engine := finance.NewEngine(repo, cfg.TaxRatePercent, nil)
	svc := service.New(repo, pricing.RandomRateSource{}, engine, summaries,
		time.Duration(cfg.SummaryTTLSeconds)*time.Second,
		time.Duration(cfg.UnderwritingMaxDays)*24*time.Hour)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, metrics.NewHTTPMetrics("lotledger"), cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()
	go runDaily(schedCtx, cfg.SnapshotHour, "finance snapshot", func(ctx context.Context) error {
		_, err := svc.RunScheduledSnapshot(ctx)
		return err
	})
	go runDaily(schedCtx, cfg.ServiceSweepHour, "service sweep", func(ctx context.Context) error {
		_, err := svc.CompleteDueServices(ctx)
		return err
	})

	go func() {
		log.Info("dealership backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	schedCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Warn("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
}

// runDaily invokes job once per day at the given UTC hour until ctx ends.
func runDaily(ctx context.Context, hour int, name string, job func(context.Context) error) {
	log := logger.GetLogger().With(zap.String("job", name))
	for {
		wait := untilNextHour(time.Now().UTC(), hour)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		jobCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		if err := job(jobCtx); err != nil {
			log.Error("scheduled job failed", zap.Error(err))
		} else {
			log.Info("scheduled job completed")
		}
		cancel()
	}
}

// untilNextHour returns the duration from now until the next occurrence
// of the given hour, always at least one minute to avoid double fires.
func untilNextHour(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now.Add(time.Minute)) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
