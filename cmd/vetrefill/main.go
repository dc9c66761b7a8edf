package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vetrefill/jobs/internal/config"
)

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

const usage = `Usage: vetrefill [command] [options]
Commands: import, fetch-news, send-reminders, server

For command-specific options, use: vetrefill [command] -h`

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	var logLevelStr string
	addCommon := func(fs *flag.FlagSet) {
		fs.StringVar(&cfg.DBPath, "db", cfg.DBPath,
			"Path to the SQLite database file (env: VETREFILL_DB_PATH)")
		fs.StringVar(&logLevelStr, "log-level", cfg.LogLevel.String(),
			"Log level: debug, info, warn, error (env: VETREFILL_LOG_LEVEL)")
	}

	intervalMinutes := int(cfg.Interval / time.Minute)

	importCmd := flag.NewFlagSet("import", flag.ExitOnError)
	addCommon(importCmd)
	importCmd.StringVar(&cfg.SourcesCSVPath, "csv", cfg.SourcesCSVPath,
		"Path or http(s) URL of the sources CSV file (env: VETREFILL_SOURCES_CSV)")

	fetchCmd := flag.NewFlagSet("fetch-news", flag.ExitOnError)
	addCommon(fetchCmd)
	fetchCmd.IntVar(&intervalMinutes, "interval", intervalMinutes,
		"Interval in minutes between runs, 0 for one-shot mode (env: VETREFILL_INTERVAL)")
	fetchCmd.IntVar(&cfg.News.MaxPerRun, "max-per-run", cfg.News.MaxPerRun,
		"Maximum items sent to the rewriter per run (env: VETREFILL_MAX_PER_RUN)")
	fetchCmd.DurationVar(&cfg.News.PaceDelay, "pace", cfg.News.PaceDelay,
		"Minimum delay between rewriter calls (env: VETREFILL_PACE_DELAY)")
	fetchCmd.IntVar(&cfg.News.ItemsPerSource, "items-per-source", cfg.News.ItemsPerSource,
		"Items taken from each feed (env: VETREFILL_ITEMS_PER_SOURCE)")
	fetchCmd.IntVar(&cfg.News.FetchConcurrency, "fetch-concurrency", cfg.News.FetchConcurrency,
		"Feeds downloaded in parallel (env: VETREFILL_FETCH_CONCURRENCY)")

	remindCmd := flag.NewFlagSet("send-reminders", flag.ExitOnError)
	addCommon(remindCmd)
	remindCmd.IntVar(&intervalMinutes, "interval", intervalMinutes,
		"Interval in minutes between runs, 0 for one-shot mode (env: VETREFILL_INTERVAL)")
	remindCmd.IntVar(&cfg.Reminders.OffsetDays, "offset-days", cfg.Reminders.OffsetDays,
		"Days ahead of the refill date to remind (env: VETREFILL_REMINDER_OFFSET_DAYS)")

	serverCmd := flag.NewFlagSet("server", flag.ExitOnError)
	addCommon(serverCmd)
	serverCmd.StringVar(&cfg.ServerHost, "host", cfg.ServerHost,
		"Host to bind the server to (env: VETREFILL_HOST)")
	serverCmd.IntVar(&cfg.ServerPort, "port", cfg.ServerPort,
		"Port to listen on (env: VETREFILL_PORT)")

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	var run func(*config.Config) error
	switch os.Args[1] {
	case "import":
		importCmd.Parse(os.Args[2:])
		run = runImport
	case "fetch-news":
		fetchCmd.Parse(os.Args[2:])
		run = runFetchNews
	case "send-reminders":
		remindCmd.Parse(os.Args[2:])
		run = runSendReminders
	case "server":
		serverCmd.Parse(os.Args[2:])
		run = runServer
	case "-h", "--help", "help":
		fmt.Println(usage)
		os.Exit(0)
	default:
		log.Error().Str("command", os.Args[1]).Msg("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}

	// Handle log level parsing separately since it needs conversion
	if level, err := zerolog.ParseLevel(logLevelStr); err == nil {
		cfg.LogLevel = level
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)
	cfg.Interval = time.Duration(intervalMinutes) * time.Minute

	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("Configuration rejected")
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		log.Error().Err(err).Str("command", os.Args[1]).Msg("Command failed")
		os.Exit(1)
	}
}
