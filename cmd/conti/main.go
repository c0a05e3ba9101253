package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"conti/internal/amqp"
	"conti/internal/cli"
	"conti/internal/config"
	"conti/internal/currency"
	apphttp "conti/internal/http"
	"conti/internal/log"
	"conti/internal/notify"
	"conti/internal/scheduler"
	"conti/internal/services"
	"conti/internal/storage"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig(cli.BootstrapLogger())
	logger := cli.SetupLogger(cfg, log.ComponentApp)
	loc := cfg.Location()

	logger.Info("Starting conti", "port", cfg.Port, "timezone", loc.String())

	shutdownTracing := cli.SetupTelemetry(context.Background(), logger, "conti", cfg.OTelEndpoint)

	sqliteRepo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	readiness := map[string]apphttp.Pinger{"database": sqliteRepo}

	rates, err := newRatesProvider(cfg)
	if err != nil {
		logger.Error("Failed to initialize exchange rates", log.FieldError, err)
		sqliteRepo.Close()
		return
	}

	// Ledger events feed the sheet mirror; the ledger works without them.
	var publisher services.EventPublisher
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without ledger events", log.FieldError, err)
		} else {
			publisher = amqpClient
			readiness["broker"] = amqpClient
			logger.Info("AMQP client initialized - transactions will be mirrored by conti-worker")
		}
	} else {
		logger.Info("AMQP disabled - transactions will not be mirrored")
	}

	mailer, err := newMailer(cfg)
	if err != nil {
		logger.Error("Failed to initialize mailer", log.FieldError, err)
		sqliteRepo.Close()
		return
	}
	notifier := notify.NewNotifier(mailer, sqliteRepo, cfg.MailFrom, loc)

	ledger := services.NewLedgerService(sqliteRepo, rates, publisher)
	engine := services.NewRecurringEngine(sqliteRepo, ledger, notifier, services.EngineConfig{
		Location:    loc,
		Concurrency: cfg.EngineConcurrency,
		MailTimeout: cfg.MailTimeout,
	})
	reminders := services.NewReminderService(sqliteRepo, notifier, loc, cfg.ReminderSendDelay)

	executeJob := serialized(func(ctx context.Context, now time.Time) (any, error) {
		report, err := engine.RunOnce(ctx, now)
		if err != nil {
			return nil, err
		}
		logger.WithComponent(log.ComponentEngine).InfoContext(ctx, "Recurring schedules processed",
			"processed", report.Processed,
			"failed", report.Failed,
			"skipped", report.Skipped)
		return report, nil
	})
	remindJob := serialized(func(ctx context.Context, now time.Time) (any, error) {
		report, err := reminders.RunOnce(ctx, now)
		if err != nil {
			return nil, err
		}
		return report, nil
	})

	jobs := map[string]apphttp.JobFunc{
		"execute": executeJob,
		"remind":  remindJob,
	}
	// A live feed can be refreshed ahead of its TTL.
	if cached, ok := rates.(*currency.CachedProvider); ok {
		jobs["rates"] = serialized(func(ctx context.Context, _ time.Time) (any, error) {
			cached.Invalidate()
			table, err := cached.Rates(ctx)
			if err != nil {
				return nil, err
			}
			logger.WithComponent(log.ComponentRates).InfoContext(ctx, "Exchange rates refreshed",
				"base", table.Base,
				"currencies", len(table.Rates))
			return map[string]any{
				"base":       table.Base,
				"currencies": len(table.Rates),
				"fetched_at": table.FetchedAt,
			}, nil
		})
	}

	var dailies []*scheduler.Daily
	if cfg.SchedulerEnabled {
		for _, d := range []struct {
			name  string
			clock string
			job   apphttp.JobFunc
		}{
			{"execute", cfg.ExecutionTime, executeJob},
			{"remind", cfg.ReminderTime, remindJob},
		} {
			job := d.job
			daily, err := scheduler.NewDaily(d.name, d.clock, loc, func(ctx context.Context, now time.Time) error {
				_, err := job(ctx, now)
				return err
			})
			if err != nil {
				logger.Error("Failed to configure scheduler", log.FieldJob, d.name, log.FieldError, err)
				sqliteRepo.Close()
				return
			}
			dailies = append(dailies, daily)
		}
	} else {
		logger.Info("Scheduler disabled - use POST /api/ops/run/{job} to run jobs")
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Dependencies{
		Accounts:  services.NewAccountService(sqliteRepo),
		Ledger:    ledger,
		Budgets:   services.NewBudgetService(sqliteRepo, rates),
		Schedules: services.NewRecurringService(sqliteRepo, loc),
		Jobs:              jobs,
		Readiness:         readiness,
		Logger:            logger,
		RequestsPerMinute: cfg.RateLimit,
	})

	ctx, stop, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		for _, d := range dailies {
			if err := d.Stop(ctx); err != nil {
				logger.Warn("Scheduler stop error", log.FieldError, err)
			}
		}
		if amqpClient != nil {
			amqpClient.Close()
		}
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("Tracing shutdown error", log.FieldError, err)
		}
		sqliteRepo.Close()
	})

	for _, d := range dailies {
		if err := d.Start(ctx); err != nil {
			logger.Error("Failed to start scheduler", log.FieldError, err)
			stop()
		}
	}

	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
			stop()
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}

// serialized makes concurrent calls of job wait for each other, so a manual
// run never overlaps the scheduled one.
func serialized(job apphttp.JobFunc) apphttp.JobFunc {
	var mu sync.Mutex
	return func(ctx context.Context, now time.Time) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		return job(ctx, now)
	}
}

// newRatesProvider prefers a live feed cached for RATES_TTL and falls back
// to the static table.
func newRatesProvider(cfg *config.Config) (currency.Provider, error) {
	if cfg.RatesURL != "" {
		live := currency.NewHTTPProvider(currency.HTTPConfig{
			URL:       cfg.RatesURL,
			BasePath:  cfg.RatesBasePath,
			RatesPath: cfg.RatesPath,
		}, nil)
		return currency.NewCachedProvider(live, cfg.RatesTTL), nil
	}
	table, err := currency.ParseStaticQuotes(cfg.RatesBase, cfg.RatesStatic)
	if err != nil {
		return nil, err
	}
	return currency.NewStaticProvider(table), nil
}

func newMailer(cfg *config.Config) (notify.Mailer, error) {
	if cfg.MailAPIKey == "" {
		return notify.LogMailer{}, nil
	}
	return notify.NewHTTPMailer(notify.HTTPConfig{
		Endpoint: cfg.MailEndpoint,
		APIKey:   cfg.MailAPIKey,
		Timeout:  cfg.MailTimeout,
	}, nil)
}

var (
	_ notify.UserDirectory = (*storage.SQLiteRepository)(nil)
	_ services.Notifier    = (*notify.Notifier)(nil)
)
