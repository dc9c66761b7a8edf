// Package reminder sends refill reminder emails for prescriptions that are
// about to run out.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"vetrefill/jobs/internal/mail"
	"vetrefill/jobs/internal/metrics"
	"vetrefill/jobs/internal/models"
	"vetrefill/jobs/internal/storage"
)

var (
	// ErrNotFound is returned when the prescription does not exist.
	ErrNotFound = errors.New("prescription not found")
	// ErrQuotaExceeded is returned when a metered clinic used its monthly allowance.
	ErrQuotaExceeded = errors.New("monthly reminder limit reached")
	// ErrSendFailed is returned when the email could not be delivered.
	ErrSendFailed = errors.New("failed to send email")
)

// Store is the persistence the reminder pipeline needs.
type Store interface {
	DueCandidates(ctx context.Context, date string) ([]models.ReminderCandidate, error)
	Candidate(ctx context.Context, prescriptionID string) (*models.ReminderCandidate, error)
	ResetQuota(ctx context.Context, clinicID string, monthStart time.Time) (bool, error)
	MarkSent(ctx context.Context, prescriptionID, clinicID string, metered bool) (bool, error)
}

// Mailer delivers one email.
type Mailer interface {
	Send(ctx context.Context, msg mail.Message) (string, error)
}

// Options tunes the reminder pipeline.
type Options struct {
	OffsetDays    int
	FreePlanLimit int
	SenderDomain  string
	SenderName    string // used when the clinic has no name
	WriteTimeout  time.Duration
	Now           func() time.Time
}

// Summary is the result of one reminder run.
type Summary struct {
	Success      bool   `json:"success"`
	Processed    int    `json:"processed"`
	Sent         int    `json:"sent"`
	Failed       int    `json:"failed"`
	SkippedQuota int    `json:"skipped_quota"`
	Date         string `json:"date"`
}

// Service runs the reminder pipeline.
type Service struct {
	store  Store
	mailer Mailer
	opts   Options
}

// NewService creates a reminder service.
func NewService(store Store, mailer Mailer, opts Options) (*Service, error) {
	if store == nil || mailer == nil {
		return nil, fmt.Errorf("reminder service dependencies cannot be nil")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.SenderName == "" {
		opts.SenderName = "VetRefill"
	}
	return &Service{store: store, mailer: mailer, opts: opts}, nil
}

// TargetDate returns the refill date reminders are sent for today.
func (s *Service) TargetDate() string {
	today := s.opts.Now().UTC()
	return today.AddDate(0, 0, s.opts.OffsetDays).Format(models.DateLayout)
}

func (s *Service) monthStart() time.Time {
	now := s.opts.Now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// quota tracks per-clinic usage within one run.
type quota struct {
	svc   *Service
	used  map[string]int
	start time.Time
}

func (s *Service) newQuota() *quota {
	return &quota{svc: s, used: map[string]int{}, start: s.monthStart()}
}

// usage returns the clinic's count for the current month, resetting a
// stale counter the first time the clinic is seen.
func (q *quota) usage(ctx context.Context, c models.ReminderCandidate) (int, error) {
	if n, ok := q.used[c.ClinicID]; ok {
		return n, nil
	}
	n := c.RefillsUsedThisMonth
	if c.RefillsResetAt.Before(q.start) {
		reset, err := q.svc.store.ResetQuota(ctx, c.ClinicID, q.start)
		if err != nil {
			return 0, err
		}
		if reset {
			log.Info().
				Str("clinic_id", c.ClinicID).
				Time("month", q.start).
				Msg("Reset monthly reminder quota")
			n = 0
		}
	}
	q.used[c.ClinicID] = n
	return n, nil
}

func (q *quota) exhausted(ctx context.Context, c models.ReminderCandidate) (bool, error) {
	if !c.Metered() {
		return false, nil
	}
	n, err := q.usage(ctx, c)
	if err != nil {
		return false, err
	}
	return n >= q.svc.opts.FreePlanLimit, nil
}

func (q *quota) record(c models.ReminderCandidate) {
	if c.Metered() {
		q.used[c.ClinicID]++
	}
}

// RunDue sends reminders for every active, unreminded prescription due on
// TargetDate. It only returns an error when the candidates cannot be loaded.
func (s *Service) RunDue(ctx context.Context) (Summary, error) {
	start := time.Now()
	runID := uuid.NewString()
	summary := Summary{Date: s.TargetDate()}

	candidates, err := s.store.DueCandidates(ctx, summary.Date)
	if err != nil {
		metrics.RecordRun("send-reminders", "failed", time.Since(start).Seconds())
		return summary, fmt.Errorf("failed to load due prescriptions: %w", err)
	}
	summary.Processed = len(candidates)

	log.Info().
		Str("run_id", runID).
		Str("date", summary.Date).
		Int("candidates", len(candidates)).
		Msg("Loaded due prescriptions")

	q := s.newQuota()
	dueIn := fmt.Sprintf("in %d days", s.opts.OffsetDays)

	for _, c := range candidates {
		if ctx.Err() != nil {
			log.Info().Err(ctx.Err()).Msg("Reminder run cancelled")
			break
		}

		logger := log.With().
			Str("prescription_id", c.PrescriptionID).
			Str("clinic_id", c.ClinicID).
			Logger()

		exhausted, err := q.exhausted(ctx, c)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to check quota")
			summary.Failed++
			metrics.RecordReminder(metrics.ReminderFailed)
			continue
		}
		if exhausted {
			logger.Info().Msg("Clinic reached its monthly limit, skipping")
			summary.SkippedQuota++
			metrics.RecordReminder(metrics.ReminderSkippedQuota)
			continue
		}

		if err := s.deliver(ctx, c, dueIn); err != nil {
			logger.Warn().Err(err).Msg("Failed to send reminder")
			summary.Failed++
			metrics.RecordReminder(metrics.ReminderFailed)
			continue
		}

		// Delivered mail counts against the quota even if recording it fails.
		q.record(c)
		s.markSent(ctx, c)
		summary.Sent++
		metrics.RecordReminder(metrics.ReminderSent)
		logger.Info().Msg("Reminder sent")
	}

	summary.Success = true
	metrics.RecordRun("send-reminders", "ok", time.Since(start).Seconds())
	log.Info().
		Str("run_id", runID).
		Str("date", summary.Date).
		Int("processed", summary.Processed).
		Int("sent", summary.Sent).
		Int("failed", summary.Failed).
		Int("skipped_quota", summary.SkippedQuota).
		Msg("Reminder run finished")
	return summary, nil
}

// SendOne sends a reminder for a single prescription on demand, whatever its
// due date. clinicID, when set, must own the prescription.
func (s *Service) SendOne(ctx context.Context, prescriptionID, clinicID string) error {
	c, err := s.store.Candidate(ctx, prescriptionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if clinicID != "" && c.ClinicID != clinicID {
		return ErrNotFound
	}

	exhausted, err := s.newQuota().exhausted(ctx, *c)
	if err != nil {
		return err
	}
	if exhausted {
		metrics.RecordReminder(metrics.ReminderSkippedQuota)
		return ErrQuotaExceeded
	}

	if err := s.deliver(ctx, *c, "soon"); err != nil {
		log.Warn().
			Err(err).
			Str("prescription_id", c.PrescriptionID).
			Msg("Failed to send reminder")
		metrics.RecordReminder(metrics.ReminderFailed)
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	s.markSent(ctx, *c)
	metrics.RecordReminder(metrics.ReminderSent)
	return nil
}

// Message builds the email for a candidate.
func (s *Service) Message(c models.ReminderCandidate, dueIn string) (mail.Message, error) {
	body, err := Render(NewEmailData(c, dueIn))
	if err != nil {
		return mail.Message{}, err
	}
	from := c.ClinicName
	if from == "" {
		from = s.opts.SenderName
	}
	return mail.Message{
		From:    fmt.Sprintf("%s <reminders@%s>", from, s.opts.SenderDomain),
		To:      []string{c.OwnerEmail},
		Subject: fmt.Sprintf("Reminder: %s's %s refill is due %s", c.PetName, c.MedicationName, dueIn),
		HTML:    body,
	}, nil
}

func (s *Service) deliver(ctx context.Context, c models.ReminderCandidate, dueIn string) error {
	msg, err := s.Message(c, dueIn)
	if err != nil {
		return err
	}
	_, err = s.mailer.Send(ctx, msg)
	return err
}

// markSent records a delivered reminder. The email is already out, so a
// failure here is logged rather than reported as a failed send.
func (s *Service) markSent(ctx context.Context, c models.ReminderCandidate) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.WriteTimeout)
	defer cancel()

	changed, err := s.store.MarkSent(writeCtx, c.PrescriptionID, c.ClinicID, c.Metered())
	if err != nil {
		log.Error().
			Err(err).
			Str("prescription_id", c.PrescriptionID).
			Msg("Reminder sent but could not be recorded")
		return
	}
	if !changed {
		log.Debug().
			Str("prescription_id", c.PrescriptionID).
			Msg("Reminder was already recorded")
	}
}
