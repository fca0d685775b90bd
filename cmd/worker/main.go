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

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"habitloop/internal/achievements"
	"habitloop/internal/config"
	"habitloop/internal/events"
	"habitloop/internal/logging"
	"habitloop/internal/models"
	"habitloop/internal/notify"
	"habitloop/internal/queue"
	"habitloop/internal/store"
	"habitloop/internal/streaks"
	"habitloop/internal/telemetry"
	workerproc "habitloop/internal/worker"
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
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
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

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}

	notifier := notify.NewLogNotifier(logger)
	bus := events.NewBus(logger)
	evaluator := achievements.NewEvaluator(st, bus, logger)
	bus.Register(events.TaskCompleted, "achievements", evaluator.HandleTaskCompleted)
	bus.Register(events.TaskCompleted, "audit", events.AuditRecorder(st))
	bus.Register(events.CreditConsumed, "audit", events.AuditRecorder(st))
	bus.Register(events.AchievementUnlocked, "audit", events.AuditRecorder(st))
	bus.Register(events.AchievementUnlocked, "toast", events.AchievementToast(notifier))

	pool := workerproc.NewPool(cfg, q, logger, workerID, cfg.WorkerCount)
	pool.RegisterHandler(models.JobReminderFire,
		workerproc.NewReminderHandler(st, notifier, cfg.DeliverTimeout, logger).Handle)
	pool.RegisterHandler(models.JobStreakCalculate,
		workerproc.NewStreakHandler(st, logger).Handle)
	pool.RegisterHandler(models.JobCreditExpire,
		workerproc.NewCreditExpireHandler(st, logger).Handle)
	pool.RegisterHandler(models.JobSubscriptionCheck,
		workerproc.NewSubscriptionHandler(st, cfg.GracePeriod, logger).Handle)
	pool.RegisterHandler(models.JobRecurringTaskGenerate,
		workerproc.NewRecurringHandler(st, logger).Handle)

	schedule := startProducers(ctx, cfg, q, logger)
	defer schedule.Stop()

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	logger.Info("worker pool started",
		zap.String("worker_id", workerID),
		zap.Int("count", cfg.WorkerCount),
		zap.Duration("lease", cfg.LeaseTimeout),
	)
	pool.Run(ctx)
}

// startProducers schedules the periodic maintenance jobs. Idempotency
// keys are derived from the period, so several worker processes running
// the same schedule enqueue each period's job exactly once.
func startProducers(ctx context.Context, cfg config.Config, q *queue.Queue, logger *zap.Logger) *cron.Cron {
	c := cron.New()

	enqueue := func(jobType, key string) {
		_, idempotent, err := q.Enqueue(ctx, queue.EnqueueParams{
			Type:           jobType,
			MaxAttempts:    cfg.MaxAttempts,
			IdempotencyKey: key,
			IdempotencyTTL: cfg.IdempotencyTTL,
		})
		if err != nil {
			logger.Error("periodic enqueue failed", zap.String("type", jobType), zap.Error(err))
			return
		}
		if !idempotent {
			logger.Info("periodic job enqueued", zap.String("type", jobType), zap.String("key", key))
		}
	}

	_, _ = c.AddFunc("@hourly", func() {
		hour := time.Now().UTC().Format("2006-01-02T15")
		enqueue(models.JobCreditExpire, "credit_expire:"+hour)
		enqueue(models.JobSubscriptionCheck, "subscription_check:"+hour)
	})
	_, _ = c.AddFunc("5 0 * * *", func() {
		day := streaks.Day(time.Now().UTC()).Format("2006-01-02")
		enqueue(models.JobStreakCalculate, "streak_sweep:"+day)
	})

	c.Start()
	return c
}
