package main

import (
	"context"
	"errors"
	"time"

	"conti/internal/amqp"
	"conti/internal/cli"
	"conti/internal/log"
	gsheet "conti/internal/sheets/google"
	"conti/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig(cli.BootstrapLogger())
	logger := cli.SetupLogger(cfg, log.ComponentWorker)

	logger.Info("Starting conti-worker")

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required by the worker")
		return
	}

	shutdownTracing := cli.SetupTelemetry(context.Background(), logger, "conti-worker", cfg.OTelEndpoint)

	// The worker reads transactions from the same database the API writes.
	sqliteRepo := cli.InitSQLite(logger, cfg.SQLiteDBPath)

	// Without a spreadsheet, events are acknowledged and dropped.
	var sheetsClient *gsheet.Client
	if cfg.GoogleSpreadsheetID != "" {
		var err error
		sheetsClient, err = gsheet.New(context.Background(), gsheet.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
			OAuthClientJSON: cfg.GoogleOAuthClientJSON,
			OAuthClientFile: cfg.GoogleOAuthClientFile,
			OAuthTokenFile:  cfg.GoogleOAuthTokenFile,
		}, cfg.Location())
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
			sqliteRepo.Close()
			return
		}
		logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		sqliteRepo.Close()
		return
	}

	var mirror *worker.MirrorWorker
	if sheetsClient != nil {
		mirror = worker.NewMirrorWorker(sqliteRepo, sheetsClient)
	} else {
		mirror = worker.NewMirrorWorker(sqliteRepo, nil)
	}

	ctx, stop, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		amqpClient.Close()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("Tracing shutdown error", log.FieldError, err)
		}
		sqliteRepo.Close()
	})

	go func() {
		err := amqpClient.ConsumeTransactionEvents(ctx, mirror.HandleTransactionEvent)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.WithComponent(log.ComponentAMQP).Error("Message consumption failed", log.FieldError, err)
		}
		stop()
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}
