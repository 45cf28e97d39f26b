package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"feedbackd/internal/amqp"
	"feedbackd/internal/cache"
	"feedbackd/internal/cli"
	"feedbackd/internal/feedback"
	apphttp "feedbackd/internal/http"
	"feedbackd/internal/log"
	"feedbackd/internal/metrics"
	"feedbackd/internal/middleware/ratelimit"
)

func main() {
	cli.LoadEnvFile()

	cfg := cli.LoadAndValidateConfig(log.New(log.DefaultConfig()))
	logger := cli.SetupLogger(os.Stdout, cfg.LogLevel)

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	store, err := cli.BuildStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize feedback store", log.FieldError, err, log.FieldBackend, cfg.QueueBackend)
		os.Exit(1)
	}
	defer store.Close()

	m := metrics.New(metrics.StatsFunc(store.Len), logger)
	queue := feedback.NewQueue(store,
		feedback.WithLogger(logger),
		feedback.WithObserver(m),
	)

	serverOpts := []apphttp.Option{
		apphttp.WithLogger(logger),
		apphttp.WithMetricsHandler(m.Handler()),
		apphttp.WithRateLimit(ratelimit.Config{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		}),
	}

	if cfg.ArchiveEnabled {
		archive := cli.InitSQLite(logger, cfg.SQLiteDBPath)
		defer archive.Close()
		queue.AddListener(archive)
		serverOpts = append(serverOpts, apphttp.WithHistory(archive))
		logger.Info("Feedback archive enabled", "path", cfg.SQLiteDBPath)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.AMQPEnabled() {
		amqpClient, err := amqp.NewClient(amqp.Config{
			URL:                cfg.AMQPURL,
			Exchange:           cfg.AMQPExchange,
			RequestQueue:       cfg.AMQPRequestQueue,
			ResolvedRoutingKey: cfg.AMQPResolvedRoutingKey,
		}, logger)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		queue.AddListener(amqpClient)

		g.Go(func() error {
			err := amqpClient.ConsumeFeedbackRequests(gctx, amqp.EnqueueHandler(queue))
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
		logger.Info("AMQP intake enabled", "queue", cfg.AMQPRequestQueue, "exchange", cfg.AMQPExchange)
	}

	if cfg.ExpiryEnabled() {
		sweeper := cache.NewManager(logger)
		sweeper.Register(queue)
		sweeper.StartCleanup(gctx, cfg.SweepInterval)
		defer sweeper.Stop()
		logger.Info("Expiry sweeper started",
			"interval", cfg.SweepInterval,
			"pending_ttl", cfg.PendingTTL,
			"result_ttl", cfg.ResultTTL)
	}

	srv := apphttp.NewServer(":"+cfg.Port, queue, serverOpts...)
	m.RegisterHTTP(srv)

	g.Go(func() error {
		logger.Info("Starting feedbackd", "port", cfg.Port, log.FieldBackend, cfg.QueueBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
