package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"vetrefill/jobs/internal/config"
	"vetrefill/jobs/internal/database"
	"vetrefill/jobs/internal/fetch"
	importfeeds "vetrefill/jobs/internal/import"
	"vetrefill/jobs/internal/mail"
	"vetrefill/jobs/internal/process"
	"vetrefill/jobs/internal/reminder"
	"vetrefill/jobs/internal/rewrite"
	"vetrefill/jobs/internal/server"
	"vetrefill/jobs/internal/sources"
	"vetrefill/jobs/internal/storage"
)

// app holds the wired components shared by every command.
type app struct {
	db        *database.DB
	news      *storage.NewsRepository
	registry  *sources.Registry
	processor *process.NewsProcessor
	reminders *reminder.Service
}

func openDB(cfg *config.Config) (*database.DB, error) {
	db, err := database.NewDB(database.NewConfig(cfg.DBPath))
	if err != nil {
		log.Error().Err(err).Str("path", cfg.DBPath).Msg("Failed to initialize database")
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

func newApp(cfg *config.Config) (*app, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	news := storage.NewNewsRepository(db)
	registry := sources.NewRegistry(storage.NewSourceRepository(db))

	fetcher := fetch.New(fetch.Config{
		UserAgent:      cfg.News.UserAgent,
		Timeout:        cfg.News.FetchTimeout,
		ItemsPerSource: cfg.News.ItemsPerSource,
		Concurrency:    cfg.News.FetchConcurrency,
	}, nil)

	rewriter := rewrite.New(rewrite.Config{
		BaseURL:    cfg.Rewrite.BaseURL,
		Model:      cfg.Rewrite.Model,
		APIKey:     cfg.Rewrite.APIKey,
		Timeout:    cfg.Rewrite.Timeout,
		MaxRetries: cfg.Rewrite.MaxRetries,
		RetryDelay: cfg.Rewrite.RetryDelay,
	}, nil)

	processor, err := process.NewNewsProcessor(news, registry, fetcher, rewriter, process.Options{
		MaxPerRun:    cfg.News.MaxPerRun,
		PaceDelay:    cfg.News.PaceDelay,
		WriteTimeout: cfg.News.WriteTimeout,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create news processor: %w", err)
	}

	mailer := mail.NewClient(mail.Config{
		Endpoint: cfg.Mail.Endpoint,
		APIKey:   cfg.Mail.APIKey,
		Timeout:  cfg.Mail.Timeout,
	})

	reminders, err := reminder.NewService(storage.NewReminderRepository(db), mailer, reminder.Options{
		OffsetDays:    cfg.Reminders.OffsetDays,
		FreePlanLimit: cfg.Reminders.FreePlanLimit,
		SenderDomain:  cfg.Mail.SenderDomain,
		SenderName:    cfg.Mail.SenderName,
		WriteTimeout:  cfg.Reminders.WriteTimeout,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create reminder service: %w", err)
	}

	return &app{
		db:        db,
		news:      news,
		registry:  registry,
		processor: processor,
		reminders: reminders,
	}, nil
}

// runImport loads feed sources from a CSV file into the database. Rows whose
// URL is already registered are reported and skipped.
func runImport(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signalContext()
	defer cancel()

	importer := importfeeds.NewImporter(storage.NewSourceRepository(db))
	res, err := importer.ImportSources(ctx, cfg.SourcesCSVPath)
	if err != nil {
		return err
	}
	for _, msg := range res.Errors {
		log.Warn().Str("detail", msg).Msg("Source row not imported")
	}
	log.Info().
		Int("imported", res.Imported).
		Int("rejected", len(res.Errors)).
		Msg("Source import completed")
	return nil
}

// runFetchNews runs the news pipeline once or periodically.
func runFetchNews(cfg *config.Config) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.db.Close()

	return runJob(cfg.Interval, "fetch-news", func(ctx context.Context) (any, error) {
		return a.processor.Run(ctx)
	})
}

// runSendReminders runs the reminder pipeline once or periodically.
func runSendReminders(cfg *config.Config) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.db.Close()

	return runJob(cfg.Interval, "send-reminders", func(ctx context.Context) (any, error) {
		return a.reminders.RunDue(ctx)
	})
}

// runServer serves the read API and the HTTP job triggers.
func runServer(cfg *config.Config) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.db.Close()

	h := server.NewHandler(log.Logger, server.Services{
		News:      a.processor,
		Reminders: a.reminders,
		Articles:  a.news,
		Sources:   a.registry,
		DB:        a.news,
	}, cfg.CronSecret)
	return server.RunServer(cfg.ListenAddr(), log.Logger, h)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-shutdown:
			log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(shutdown)
	}()

	return ctx, cancel
}

// runJob executes cycle once, printing its summary, or every interval until a
// shutdown signal arrives.
func runJob(interval time.Duration, name string, cycle func(context.Context) (any, error)) error {
	if interval <= 0 {
		log.Info().Str("job", name).Msg("Running in one-shot mode")
	} else {
		log.Info().
			Str("job", name).
			Int64("interval_minutes", int64(interval.Minutes())).
			Msg("Running in periodic mode")
	}

	ctx, cancel := signalContext()
	defer cancel()

	summary, err := cycle(ctx)
	if interval <= 0 {
		if err != nil {
			return err
		}
		return printSummary(summary)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info().Msg("Run canceled by shutdown signal")
			return nil
		}
		log.Error().Err(err).Str("job", name).Msg("Run failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", interval).
		Time("next_run", time.Now().Add(interval)).
		Msg("Waiting for next run")

	for {
		select {
		case <-ticker.C:
			log.Info().Str("job", name).Msg("Starting scheduled run")

			if _, err := cycle(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					log.Info().Msg("Run canceled by shutdown signal")
					return nil
				}
				log.Error().Err(err).Str("job", name).Msg("Run failed")
				// Continue to the next run rather than exiting
			}

			log.Info().
				Time("next_run", time.Now().Add(interval)).
				Msg("Waiting for next run")

		case <-ctx.Done():
			log.Info().Str("job", name).Msg("Shutting down periodic runs")
			return nil
		}
	}
}

func printSummary(summary any) error {
	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
