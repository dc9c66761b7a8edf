package api

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"vetrefill/jobs/internal/process"
	"vetrefill/jobs/internal/reminder"
)

// NewsRunner runs one news ingestion pass.
type NewsRunner interface {
	Run(ctx context.Context) (process.Summary, error)
}

// ReminderRunner runs the reminder pipeline.
type ReminderRunner interface {
	RunDue(ctx context.Context) (reminder.Summary, error)
	SendOne(ctx context.Context, prescriptionID, clinicID string) error
}

// CronHandler exposes the scheduled jobs as HTTP triggers.
type CronHandler struct {
	news      NewsRunner
	reminders ReminderRunner
}

// NewCronHandler creates a new handler instance.
func NewCronHandler(news NewsRunner, reminders ReminderRunner) *CronHandler {
	return &CronHandler{news: news, reminders: reminders}
}

// FetchNews handles /api/cron/fetch-news.
func (h *CronHandler) FetchNews(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	summary, err := h.news.Run(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("News run failed")
		writeJSON(w, r, http.StatusInternalServerError, ErrorResponse{
			Error:   "Internal server error",
			Details: err.Error(),
		})
		return
	}

	log.Info().
		Int("processed", summary.Processed).
		Int("skipped", summary.Skipped).
		Int("errors", summary.Errors).
		Int("deferred", summary.Deferred).
		Msg("News run triggered over HTTP")
	writeJSON(w, r, http.StatusOK, summary)
}

// SendReminders handles /api/cron/send-reminders.
func (h *CronHandler) SendReminders(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	summary, err := h.reminders.RunDue(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Reminder run failed")
		writeJSON(w, r, http.StatusInternalServerError, ErrorResponse{
			Error:   "Internal server error",
			Details: err.Error(),
		})
		return
	}

	log.Info().
		Str("date", summary.Date).
		Int("sent", summary.Sent).
		Int("failed", summary.Failed).
		Int("skipped_quota", summary.SkippedQuota).
		Msg("Reminder run triggered over HTTP")
	writeJSON(w, r, http.StatusOK, summary)
}
