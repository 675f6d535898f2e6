package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hackgods/practicum-scheduling/internal/appointment"
	"github.com/hackgods/practicum-scheduling/internal/authz"
	"github.com/hackgods/practicum-scheduling/internal/config"
	"github.com/hackgods/practicum-scheduling/internal/db"
	"github.com/hackgods/practicum-scheduling/internal/directory"
	"github.com/hackgods/practicum-scheduling/internal/logging"
	"github.com/hackgods/practicum-scheduling/internal/metrics"
	"github.com/hackgods/practicum-scheduling/internal/notify"
	redisclient "github.com/hackgods/practicum-scheduling/internal/redis"
	"github.com/hackgods/practicum-scheduling/internal/reminder"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logging.Must(cfg.Log.Level, cfg.Log.Format).Named("reminder-worker")
	defer func() { _ = log.Sync() }()

	log.Info("starting up", zap.String("env", cfg.Env), zap.Duration("interval", cfg.WorkerInterval))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policy, err := appointment.PolicyFromConfig(cfg.Clinic)
	if err != nil {
		log.Fatal("clinic policy", zap.Error(err))
	}

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection", zap.Error(err))
	}
	defer pgPool.Close()

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.ClientOptions{
		Addr:            cfg.RedisAddr,
		Username:        cfg.RedisUsername,
		Password:        cfg.RedisPassword,
		ConnectAttempts: 5,
	})
	if err != nil {
		log.Fatal("redis connection", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("closing redis", zap.Error(err))
		}
	}()

	collector := metrics.New(prometheus.DefaultRegisterer)

	people := directory.NewPgDirectory(pgPool)
	dispatcher, err := notify.NewDispatcher(notify.NewSender(rootCtx, cfg.Email, log), people, log, notify.Options{
		Workers:     cfg.Email.Workers,
		QueueSize:   cfg.Email.QueueSize,
		SendTimeout: cfg.Email.SendTimeout,
		NoticeHours: int(policy.CancellationNotice.Hours()),
		Metrics:     collector,
	})
	if err != nil {
		log.Fatal("notification dispatcher", zap.Error(err))
	}

	// The worker only reads appointments; it never takes the booking lock.
	svc := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		people,
		authz.NewResolver(people),
		nil,
		dispatcher,
		policy,
		log,
		appointment.WithMetrics(collector),
	)

	runner := reminder.NewRunner(
		svc,
		dispatcher,
		redisclient.NewMarker(rdb, reminder.MarkPrefix, reminder.MarkTTL),
		policy,
		log,
		collector,
	)

	runOnce(rootCtx, runner, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping reminder worker")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			if err := dispatcher.Shutdown(shutdownCtx); err != nil {
				log.Warn("notification queue not drained", zap.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			runOnce(rootCtx, runner, log)
		}
	}
}

func runOnce(ctx context.Context, runner *reminder.Runner, log *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	start := time.Now()
	res, err := runner.Run(runCtx, start)
	if err != nil {
		log.Error("reminder run", zap.Error(err))
		return
	}
	log.Info("reminder run complete",
		zap.String("day", res.Day),
		zap.Int("due", res.Due),
		zap.Int("published", res.Published),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		zap.Duration("elapsed", time.Since(start)),
	)
}
