package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hackgods/practicum-scheduling/internal/api"
	"github.com/hackgods/practicum-scheduling/internal/appointment"
	"github.com/hackgods/practicum-scheduling/internal/auth"
	"github.com/hackgods/practicum-scheduling/internal/authz"
	"github.com/hackgods/practicum-scheduling/internal/config"
	"github.com/hackgods/practicum-scheduling/internal/db"
	"github.com/hackgods/practicum-scheduling/internal/directory"
	"github.com/hackgods/practicum-scheduling/internal/logging"
	"github.com/hackgods/practicum-scheduling/internal/metrics"
	"github.com/hackgods/practicum-scheduling/internal/notify"
	redisclient "github.com/hackgods/practicum-scheduling/internal/redis"
	"github.com/hackgods/practicum-scheduling/internal/reminder"
	"github.com/hackgods/practicum-scheduling/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logging.Must(cfg.Log.Level, cfg.Log.Format).Named("api-server")
	defer func() { _ = log.Sync() }()

	log.Info("starting up", zap.String("env", cfg.Env), zap.String("http_port", cfg.HTTPPort))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(rootCtx, cfg.Tracing, cfg.Version)
	if err != nil {
		log.Fatal("tracing init", zap.Error(err))
	}

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
	log.Info("connected to postgres")

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
	log.Info("connected to redis")

	collector := metrics.New(prometheus.DefaultRegisterer)

	people := directory.NewPgDirectory(pgPool)
	sender := notify.NewSender(rootCtx, cfg.Email, log)
	dispatcher, err := notify.NewDispatcher(sender, people, log, notify.Options{
		Workers:     cfg.Email.Workers,
		QueueSize:   cfg.Email.QueueSize,
		SendTimeout: cfg.Email.SendTimeout,
		NoticeHours: int(policy.CancellationNotice.Hours()),
		Metrics:     collector,
	})
	if err != nil {
		log.Fatal("notification dispatcher", zap.Error(err))
	}

	marks := redisclient.NewMarker(rdb, reminder.MarkPrefix, reminder.MarkTTL)
	events := appointment.MultiPublisher{dispatcher, reminder.NewInvalidator(marks, log)}

	resolver := authz.NewResolver(people)

	svc := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		people,
		resolver,
		redisclient.NewRedisClinicianLocker(rdb, cfg.LockTTL, cfg.LockWait),
		events,
		policy,
		log,
		appointment.WithMetrics(collector),
	)

	router := api.NewRouter(api.RouterConfig{
		Service:  svc,
		Notifier: dispatcher,
		Notices:  resolver,
		Tokens:   auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Health: api.NewHealthHandler(
			pgPool,
			api.PingerFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
			cfg.Env, cfg.Version,
		),
		Metrics:   collector,
		Gatherer:  prometheus.DefaultGatherer,
		RateLimit: cfg.Limits,
		Log:       log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", zap.Error(err))
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		log.Warn("notification queue not drained", zap.Error(err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warn("tracer shutdown", zap.Error(err))
	}
}
