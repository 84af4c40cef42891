package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ofair/referrals/internal/api"
	"github.com/ofair/referrals/internal/config"
	"github.com/ofair/referrals/internal/leads"
	"github.com/ofair/referrals/internal/logging"
	"github.com/ofair/referrals/internal/notify"
	"github.com/ofair/referrals/internal/queue"
	"github.com/ofair/referrals/internal/rules"
	"github.com/ofair/referrals/internal/service"
	"github.com/ofair/referrals/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	notificationChannel = "ofair:notifications"
	taskQueueName       = "ofair:referrals:tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.NewLoggerFromEnv(os.Getenv("ENVIRONMENT")).Fatal("could not load config", zap.Error(err))
	}
	log := logging.NewLoggerFromEnv(cfg.Env)
	defer log.AtExit()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewStore(ctx, cfg.DBSource)
	if err != nil {
		log.Fatal("unable to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := store.MigrateToLatestSchema(log, db.Db); err != nil {
		log.Fatal("could not migrate schema", zap.Error(err))
	}

	table := rules.Default()
	if cfg.RulesFile != "" {
		if table, err = rules.LoadFile(cfg.RulesFile); err != nil {
			log.Fatal("could not load commission rules", zap.String("path", cfg.RulesFile), zap.Error(err))
		}
	}

	var leadSource leads.Provider = leads.NewStatic()
	if cfg.LeadsServiceURL != "" {
		leadSource = leads.NewHTTPClient(cfg.LeadsServiceURL, &http.Client{Timeout: 5 * time.Second})
	} else {
		log.Warn("LEADS_SERVICE_URL not set, lead lookups will fail")
	}
	leadSource = leads.NewRetrying(log, leadSource, 3, 2*time.Second)

	var (
		tasks    queue.Queue
		notifier notify.Notifier
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("unable to reach redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		tasks = queue.NewRedisQueue(log, rdb, taskQueueName, cfg.QueueMaxAttempts)
		notifier = notify.NewRedisNotifier(log, rdb, notificationChannel)
	} else {
		tasks = queue.NewMemoryQueue(log, 1024, 4, cfg.QueueMaxAttempts)
		notifier = notify.NewLogNotifier(log)
	}

	retries := uint64(cfg.ConflictRetryAttempts)
	graph := service.NewReferralGraph(db)
	referrals := service.NewReferralService(log, db, graph, leadSource, table, tasks, notifier,
		service.NewBasicContentGate(), cfg.Commission.MaxChainDepth, retries)
	calc := service.NewCommissionCalculator(log, db, db, graph, leadSource, table, notifier, cfg.Commission)
	payments := service.NewPaymentProcessor(log, db, notifier, retries)
	stats := service.NewStatsAggregator(db, db)
	worker := service.NewChainWorker(log, calc)

	handler := api.NewHandler(log, referrals, calc, payments, stats)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return tasks.Run(gctx, worker.Handle)
	})
	g.Go(func() error {
		log.Info("server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server stopped", zap.Error(err))
	}
}
