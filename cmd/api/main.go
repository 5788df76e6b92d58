package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/homeprojects/lead-auction-exchange/internal/api/rest"
	"github.com/homeprojects/lead-auction-exchange/internal/infrastructure/buyerclient"
	"github.com/homeprojects/lead-auction-exchange/internal/infrastructure/cache"
	"github.com/homeprojects/lead-auction-exchange/internal/infrastructure/config"
	"github.com/homeprojects/lead-auction-exchange/internal/infrastructure/database"
	"github.com/homeprojects/lead-auction-exchange/internal/infrastructure/queue"
	"github.com/homeprojects/lead-auction-exchange/internal/infrastructure/repository"
	"github.com/homeprojects/lead-auction-exchange/internal/infrastructure/telemetry"
	"github.com/homeprojects/lead-auction-exchange/internal/metrics"
	"github.com/homeprojects/lead-auction-exchange/internal/service/auction"
	"github.com/homeprojects/lead-auction-exchange/internal/service/eligibility"
	"github.com/homeprojects/lead-auction-exchange/internal/service/submission"
	"github.com/homeprojects/lead-auction-exchange/internal/service/webhook"
	"github.com/homeprojects/lead-auction-exchange/internal/workers"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("Fatal: %v", err)
	}
}

func run(cfg *config.Config) error {
	slogger := telemetry.SetupLogger(cfg.LogLevel)

	zlog, err := newZapLogger(cfg.Environment)
	if err != nil {
		return err
	}
	defer zlog.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPool(ctx, &cfg.Database, zlog)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := cache.NewClient(&cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	c := cache.NewRedisCacheFromClient(redisClient, zlog)

	loc, err := time.LoadLocation(cfg.Auction.DailyCounterTimezone)
	if err != nil {
		return err
	}

	buyerRepo := repository.NewBuyerRepository(db.Pgx())
	txRepo := repository.NewTransactionRepository(db.Pgx(), loc)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	eligCache := cache.NewEligibilityCache(c, cfg.Cache.EligibilityTTL, zlog)
	resolver := eligibility.NewService(buyerRepo, txRepo, eligCache, cfg.Auction.MaxParticipants, zlog)

	client := buyerclient.NewHTTPClient(zlog, cfg.Auction.PostMaxAttempts, cfg.Auction.PostBackoff()).WithMetrics(m)
	engine := auction.NewEngine(auction.NewStore(db), resolver, client, cfg.Auction.Slack(), zlog)

	q := queue.NewLeadQueue(redisClient, zlog,
		cfg.Queue.PollTimeout, cfg.Queue.MaxAttempts, cfg.Queue.DeadletterCap)
	submissions := submission.NewService(submission.NewStore(db), q, cfg.Queue.HighWater, zlog)
	webhooks := webhook.NewService(webhook.NewStore(db), c, loc, zlog)

	pool := workers.NewPool(q, engine, m, cfg.Queue.WorkerCount, zlog)
	pool.Start(ctx)

	handler := rest.NewHandler(submissions, webhooks, db, m,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), slogger)
	server := rest.NewServer(cfg.Server, handler, slogger)

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	select {
	case err := <-serverErr:
		stop()
		pool.Wait()
		return err
	case <-ctx.Done():
	}

	slogger.Info("shutting down")
	if err := server.Shutdown(context.Background()); err != nil {
		slogger.Error("http shutdown failed", "error", err.Error())
	}
	// Workers drain once the signal context cancels; in-flight auctions
	// complete before Wait returns.
	pool.Wait()
	return nil
}

func newZapLogger(environment string) (*zap.Logger, error) {
	if environment == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
