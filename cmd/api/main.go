package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"habitloop/internal/achievements"
	"habitloop/internal/api"
	"habitloop/internal/config"
	"habitloop/internal/events"
	"habitloop/internal/logging"
	"habitloop/internal/notify"
	"habitloop/internal/queue"
	"habitloop/internal/ratelimit"
	"habitloop/internal/store"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logger.Fatal("migrations", zap.Error(err))
	}

	q := queue.New(st.Pool())

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewTokenBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	notifier := notify.NewLogNotifier(logger)
	bus := events.NewBus(logger)
	evaluator := achievements.NewEvaluator(st, bus, logger)
	bus.Register(events.TaskCompleted, "achievements", evaluator.HandleTaskCompleted)
	bus.Register(events.TaskCompleted, "audit", events.AuditRecorder(st))
	bus.Register(events.CreditConsumed, "audit", events.AuditRecorder(st))
	bus.Register(events.AchievementUnlocked, "audit", events.AuditRecorder(st))
	bus.Register(events.AchievementUnlocked, "toast", events.AchievementToast(notifier))

	server := api.New(cfg, st, q, limiter, bus, logger)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	logger.Info("api listening", zap.String("port", cfg.HTTPPort))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
