package server

import (
	"context"
	"crypto/subtle"
	"encoding/csv"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"vetrefill/jobs/internal/models"
	"vetrefill/jobs/internal/server/api"
)

// SourceLister returns the configured feed sources.
type SourceLister interface {
	All(ctx context.Context) ([]models.FeedSource, error)
}

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the components the HTTP surface exposes.
type Services struct {
	News      api.NewsRunner
	Reminders api.ReminderRunner
	Articles  api.ArticleStore
	Sources   SourceLister
	DB        Pinger
}

// bearerAuthMiddleware only lets through requests carrying
// "Authorization: Bearer <secret>". An empty secret rejects everything.
func bearerAuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				hlog.FromRequest(r).Warn().Msg("Rejected job request: CRON_SECRET is not configured")
				api.WriteUnauthorized(w, r)
				return
			}

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				hlog.FromRequest(r).Warn().Msg("Rejected job request: bad bearer token")
				api.WriteUnauthorized(w, r)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NewHandler builds the routed and instrumented HTTP handler.
func NewHandler(logger zerolog.Logger, svc Services, cronSecret string) http.Handler {
	newsHandler := api.NewNewsHandler(svc.Articles)
	cronHandler := api.NewCronHandler(svc.News, svc.Reminders)
	reminderHandler := api.NewReminderHandler(svc.Reminders)
	auth := bearerAuthMiddleware(cronSecret)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/news", newsHandler.ListNews)
	mux.HandleFunc("GET /v1/news/{slug}", newsHandler.GetNews)
	mux.HandleFunc("GET /v1/sources", exportSourcesHandler(svc.Sources))
	mux.HandleFunc("GET /health", healthCheckHandler(svc.DB))
	mux.Handle("GET /metrics", promhttp.Handler())

	fetchNews := auth(http.HandlerFunc(cronHandler.FetchNews))
	sendReminders := auth(http.HandlerFunc(cronHandler.SendReminders))
	mux.Handle("GET /api/cron/fetch-news", fetchNews)
	mux.Handle("POST /api/cron/fetch-news", fetchNews)
	mux.Handle("GET /api/cron/send-reminders", sendReminders)
	mux.Handle("POST /api/cron/send-reminders", sendReminders)
	mux.Handle("POST /api/reminders/{id}/send", auth(http.HandlerFunc(reminderHandler.SendReminder)))

	if cronSecret == "" {
		logger.Warn().Msg("CRON_SECRET is not set, job endpoints will reject every request")
	}

	// Set up middleware chain for logging and request tracking
	h := hlog.NewHandler(logger)(mux)
	h = hlog.MethodHandler("method")(h)
	h = hlog.URLHandler("url")(h)
	h = hlog.RemoteAddrHandler("remote_addr")(h)
	h = hlog.UserAgentHandler("user_agent")(h)
	h = hlog.RequestIDHandler("req_id", "Request-Id")(h)
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		idReq, _ := hlog.IDFromRequest(r)

		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Str("req_id", idReq.String()).
			Msg("HTTP Request")
	})(h)

	return h
}

// RunServer serves h on listenAddr until SIGINT or SIGTERM, then shuts down
// gracefully.
func RunServer(listenAddr string, logger zerolog.Logger, h http.Handler) error {
	logger = logger.With().Str("service", "vetrefill-api").Logger()

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Minute, // a paced news run holds the response open
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("address", listenAddr).Msg("API Server starting")
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErr:
		logger.Error().Err(err).Msg("Server failed to start")
		return err

	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown error")
			if err := httpServer.Close(); err != nil {
				logger.Error().Err(err).Msg("HTTP server force close error")
			}
		} else {
			logger.Info().Msg("HTTP server shutdown complete.")
		}
		if err := <-serverErr; err != nil {
			logger.Error().Err(err).Msg("ListenAndServe error during shutdown")
		}
	}

	logger.Info().Msg("Server exiting.")
	return nil
}

// healthCheckHandler answers 200 OK while the database is reachable and 503
// otherwise.
func healthCheckHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := hlog.FromRequest(r)
		log.Debug().Msg("Health check request received")

		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				log.Error().Err(err).Msg("Health check database ping failed")
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
		}

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("Error writing health check response")
		}
	}
}

// exportSourcesHandler returns the feed sources as a CSV file in the same
// layout the import command reads.
func exportSourcesHandler(sources SourceLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := hlog.FromRequest(r)
		log.Debug().Msg("Export sources request received")

		list, err := sources.All(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("Failed to list sources")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=sources.csv")

		csvWriter := csv.NewWriter(w)
		if err := csvWriter.Write([]string{"url", "name", "default_category", "enabled"}); err != nil {
			log.Error().Err(err).Msg("Failed to write CSV header")
			return
		}

		for _, src := range list {
			record := []string{
				src.URL,
				src.Name,
				string(src.DefaultCategory),
				strconv.FormatBool(src.Enabled),
			}
			if err := csvWriter.Write(record); err != nil {
				log.Error().Err(err).Msg("Failed to write CSV record")
				return
			}
		}

		csvWriter.Flush()
		if err := csvWriter.Error(); err != nil {
			log.Error().Err(err).Msg("Error flushing CSV data")
			return
		}

		log.Info().Int("source_count", len(list)).Msg("Exported sources as CSV")
	}
}
