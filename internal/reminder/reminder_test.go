package reminder

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vetrefill/jobs/internal/database"
	"vetrefill/jobs/internal/mail"
	"vetrefill/jobs/internal/models"
	"vetrefill/jobs/internal/storage"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	fail func(msg mail.Message) bool
}

func (m *fakeMailer) Send(_ context.Context, msg mail.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil && m.fail(msg) {
		return "", errors.New("provider rejected message")
	}
	m.sent = append(m.sent, msg)
	return "msg", nil
}

var testNow = time.Date(2025, 10, 6, 10, 0, 0, 0, time.UTC)

type fixture struct {
	repo   *storage.ReminderRepository
	mailer *fakeMailer
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.NewDB(database.NewConfig(filepath.Join(t.TempDir(), "vetrefill.db")))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := storage.NewReminderRepository(db)
	mailer := &fakeMailer{}
	svc, err := NewService(repo, mailer, Options{
		OffsetDays:    3,
		FreePlanLimit: 10,
		SenderDomain:  "vetrefill.com",
		Now:           func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return &fixture{repo: repo, mailer: mailer, svc: svc}
}

func (f *fixture) clinic(t *testing.T, name, plan string, used int, resetAt time.Time) *models.Clinic {
	t.Helper()
	c := &models.Clinic{
		Name:                 name,
		Email:                "clinic@example.org",
		SubscriptionStatus:   plan,
		RefillsUsedThisMonth: used,
		RefillsResetAt:       resetAt,
	}
	require.NoError(t, f.repo.CreateClinic(context.Background(), c))
	return c
}

func (f *fixture) prescription(t *testing.T, clinic *models.Clinic, pet, date string) *models.Prescription {
	t.Helper()
	ctx := context.Background()
	p := &models.Patient{
		ClinicID:   clinic.ID,
		PetName:    pet,
		Species:    "dog",
		OwnerName:  "Owner of " + pet,
		OwnerEmail: strings.ToLower(pet) + "@example.org",
	}
	require.NoError(t, f.repo.CreatePatient(ctx, p))

	rx := &models.Prescription{
		ClinicID:       clinic.ID,
		PatientID:      p.ID,
		MedicationName: "Apoquel",
		Dosage:         "16mg",
		Frequency:      "daily",
		RefillDate:     date,
	}
	require.NoError(t, f.repo.CreatePrescription(ctx, rx))
	return rx
}

func (f *fixture) usedThisMonth(t *testing.T, clinicID string) int {
	t.Helper()
	c, err := f.repo.Clinic(context.Background(), clinicID)
	require.NoError(t, err)
	return c.RefillsUsedThisMonth
}

var thisMonth = time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)

func TestTargetDate(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "2025-10-09", f.svc.TargetDate())

	late := time.Date(2025, 12, 30, 23, 59, 0, 0, time.FixedZone("PST", -8*3600))
	f.svc.opts.Now = func() time.Time { return late }
	assert.Equal(t, "2026-01-03", f.svc.TargetDate(), "dates are computed in UTC")
}

func TestRunDueSendsAndFlags(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	clinic := f.clinic(t, "Happy Paws", models.PlanFree, 0, thisMonth)
	due := f.prescription(t, clinic, "Rex", "2025-10-09")
	f.prescription(t, clinic, "Later", "2025-10-10")

	summary, err := f.svc.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Success: true, Processed: 1, Sent: 1, Date: "2025-10-09"}, summary)

	require.Len(t, f.mailer.sent, 1)
	msg := f.mailer.sent[0]
	assert.Equal(t, "Happy Paws <reminders@vetrefill.com>", msg.From)
	assert.Equal(t, []string{"rex@example.org"}, msg.To)
	assert.Equal(t, "Reminder: Rex's Apoquel refill is due in 3 days", msg.Subject)
	assert.Contains(t, msg.HTML, "Thursday, October 9, 2025")

	rx, err := f.repo.Prescription(ctx, due.ID)
	require.NoError(t, err)
	assert.True(t, rx.ReminderSent)
	assert.Equal(t, 1, f.usedThisMonth(t, clinic.ID))

	// same day again: nothing left to send
	summary, err = f.svc.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
	assert.Len(t, f.mailer.sent, 1)
}

func TestRunDueQuota(t *testing.T) {
	f := newFixture(t)

	free := f.clinic(t, "Free Clinic", models.PlanFree, 9, thisMonth)
	pro := f.clinic(t, "Pro Clinic", models.PlanPro, 500, thisMonth)
	f.prescription(t, free, "A", "2025-10-09")
	f.prescription(t, free, "B", "2025-10-09")
	f.prescription(t, pro, "C", "2025-10-09")

	summary, err := f.svc.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 2, summary.Sent)
	assert.Equal(t, 1, summary.SkippedQuota)
	assert.Equal(t, 0, summary.Failed)

	assert.Equal(t, 10, f.usedThisMonth(t, free.ID))
	assert.Equal(t, 500, f.usedThisMonth(t, pro.ID), "unmetered plans are not counted")
}

// unrecordedStore delivers candidates but cannot persist the sent flag.
type unrecordedStore struct{ Store }

func (unrecordedStore) MarkSent(context.Context, string, string, bool) (bool, error) {
	return false, errors.New("database is locked")
}

func TestRunDueQuotaHoldsWhenRecordingFails(t *testing.T) {
	f := newFixture(t)

	free := f.clinic(t, "Free Clinic", models.PlanFree, 9, thisMonth)
	f.prescription(t, free, "A", "2025-10-09")
	f.prescription(t, free, "B", "2025-10-09")
	f.prescription(t, free, "C", "2025-10-09")

	svc, err := NewService(unrecordedStore{f.repo}, f.mailer, f.svc.opts)
	require.NoError(t, err)

	summary, err := svc.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, 2, summary.SkippedQuota)
	assert.Len(t, f.mailer.sent, 1)
}

func TestRunDueResetsStaleQuota(t *testing.T) {
	f := newFixture(t)

	clinic := f.clinic(t, "Happy Paws", models.PlanFree, 10, time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC))
	f.prescription(t, clinic, "Rex", "2025-10-09")

	summary, err := f.svc.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, 1, f.usedThisMonth(t, clinic.ID))

	c, err := f.repo.Clinic(context.Background(), clinic.ID)
	require.NoError(t, err)
	assert.True(t, c.RefillsResetAt.Equal(thisMonth))
}

func TestRunDueSendFailureLeavesFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	clinic := f.clinic(t, "Happy Paws", models.PlanFree, 0, thisMonth)
	rx := f.prescription(t, clinic, "Rex", "2025-10-09")

	f.mailer.fail = func(mail.Message) bool { return true }
	summary, err := f.svc.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Sent)

	got, err := f.repo.Prescription(ctx, rx.ID)
	require.NoError(t, err)
	assert.False(t, got.ReminderSent)
	assert.Equal(t, 0, f.usedThisMonth(t, clinic.ID))

	f.mailer.fail = nil
	summary, err = f.svc.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
}

func TestRunDueUsesDefaultSenderName(t *testing.T) {
	f := newFixture(t)
	clinic := f.clinic(t, "", models.PlanPro, 0, thisMonth)
	f.prescription(t, clinic, "Rex", "2025-10-09")

	_, err := f.svc.RunDue(context.Background())
	require.NoError(t, err)
	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "VetRefill <reminders@vetrefill.com>", f.mailer.sent[0].From)
	assert.Contains(t, f.mailer.sent[0].HTML, "Your Veterinary Clinic")
}

type brokenStore struct{ Store }

func (brokenStore) DueCandidates(context.Context, string) ([]models.ReminderCandidate, error) {
	return nil, errors.New("no such table: prescriptions")
}

func TestRunDueQueryFailure(t *testing.T) {
	svc, err := NewService(brokenStore{}, &fakeMailer{}, Options{OffsetDays: 3})
	require.NoError(t, err)

	_, err = svc.RunDue(context.Background())
	assert.ErrorContains(t, err, "no such table")
}

func TestSendOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	clinic := f.clinic(t, "Happy Paws", models.PlanFree, 0, thisMonth)
	rx := f.prescription(t, clinic, "Rex", "2025-11-20")

	assert.ErrorIs(t, f.svc.SendOne(ctx, "missing", ""), ErrNotFound)
	assert.ErrorIs(t, f.svc.SendOne(ctx, rx.ID, "other-clinic"), ErrNotFound)

	f.mailer.fail = func(mail.Message) bool { return true }
	assert.ErrorIs(t, f.svc.SendOne(ctx, rx.ID, clinic.ID), ErrSendFailed)
	f.mailer.fail = nil

	require.NoError(t, f.svc.SendOne(ctx, rx.ID, clinic.ID))
	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "Reminder: Rex's Apoquel refill is due soon", f.mailer.sent[0].Subject)
	assert.Equal(t, 1, f.usedThisMonth(t, clinic.ID))

	// already flagged: the email goes out again but is not counted twice
	require.NoError(t, f.svc.SendOne(ctx, rx.ID, ""))
	assert.Equal(t, 1, f.usedThisMonth(t, clinic.ID))
}

func TestSendOneQuotaExceeded(t *testing.T) {
	f := newFixture(t)
	clinic := f.clinic(t, "Happy Paws", models.PlanFree, 10, thisMonth)
	rx := f.prescription(t, clinic, "Rex", "2025-10-09")

	assert.ErrorIs(t, f.svc.SendOne(context.Background(), rx.ID, ""), ErrQuotaExceeded)
	assert.Empty(t, f.mailer.sent)
}

func TestRenderEscapesFields(t *testing.T) {
	body, err := Render(NewEmailData(models.ReminderCandidate{
		PetName:        `<script>alert("x")</script>`,
		OwnerName:      "Sam & Alex",
		MedicationName: "Apoquel",
		RefillDate:     "2025-10-09",
		ClinicName:     "Happy Paws",
		ClinicPhone:    sql.NullString{String: "+1 (555) 010-0100", Valid: true},
	}, "in 3 days"))
	require.NoError(t, err)

	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, "&lt;script&gt;")
	assert.Contains(t, body, "Sam &amp; Alex")
	assert.Contains(t, body, `href="tel:&#43;15550100100"`)
	assert.Contains(t, body, "Call Us: &#43;1 (555) 010-0100")
	assert.Contains(t, body, "Thursday, October 9, 2025")
	assert.Contains(t, body, "in 3 days")
}

func TestRenderWithoutPhone(t *testing.T) {
	body, err := Render(NewEmailData(models.ReminderCandidate{PetName: "Rex", RefillDate: "not-a-date"}, "soon"))
	require.NoError(t, err)
	assert.NotContains(t, body, "tel:")
	assert.Contains(t, body, "not-a-date")
}
