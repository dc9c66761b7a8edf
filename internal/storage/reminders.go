package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"vetrefill/jobs/internal/database"
	"vetrefill/jobs/internal/models"
)

// ReminderRepository reads refill candidates and records sent reminders.
type ReminderRepository struct {
	db *database.DB
}

// NewReminderRepository creates a new repository instance.
func NewReminderRepository(db *database.DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

func candidateQuery() sq.SelectBuilder {
	return psql.Select(
		"p.id AS prescription_id",
		"p.medication_name",
		"p.dosage",
		"p.frequency",
		"p.refill_date",
		"p.status",
		"p.reminder_sent",
		"pt.pet_name",
		"pt.species",
		"pt.owner_name",
		"pt.owner_email",
		"c.id AS clinic_id",
		"c.name AS clinic_name",
		"c.phone AS clinic_phone",
		"c.subscription_status",
		"c.refills_used_this_month",
		"c.refills_reset_at",
	).
		From("prescriptions p").
		Join("patients pt ON pt.id = p.patient_id").
		Join("clinics c ON c.id = p.clinic_id")
}

// DueCandidates returns active prescriptions due on date (YYYY-MM-DD) that
// have not been reminded yet.
func (r *ReminderRepository) DueCandidates(ctx context.Context, date string) ([]models.ReminderCandidate, error) {
	query, args, err := candidateQuery().
		Where(sq.Eq{
			"p.refill_date":   date,
			"p.status":        models.PrescriptionActive,
			"p.reminder_sent": false,
		}).
		OrderBy("c.id", "p.created_at", "p.id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	out := []models.ReminderCandidate{}
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return out, nil
}

// Candidate returns one prescription with its patient and clinic,
// regardless of due date or reminder state.
func (r *ReminderRepository) Candidate(ctx context.Context, prescriptionID string) (*models.ReminderCandidate, error) {
	query, args, err := candidateQuery().Where(sq.Eq{"p.id": prescriptionID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var c models.ReminderCandidate
	if err := r.db.GetContext(ctx, &c, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return &c, nil
}

// ResetQuota zeroes the clinic's monthly counter when its last reset is
// before monthStart. It reports whether a reset happened.
func (r *ReminderRepository) ResetQuota(ctx context.Context, clinicID string, monthStart time.Time) (bool, error) {
	monthStart = monthStart.UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE clinics
		SET refills_used_this_month = 0, refills_reset_at = ?
		WHERE id = ? AND refills_reset_at < ?`,
		monthStart, clinicID, monthStart)
	if err != nil {
		return false, fmt.Errorf("failed to reset quota for clinic %s: %w", clinicID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// MarkSent flags the prescription as reminded and, for metered clinics,
// counts it against the monthly quota. Both happen in one transaction and
// only when the flag was not already set, so a reminder is never counted
// twice. It reports whether the flag changed.
func (r *ReminderRepository) MarkSent(ctx context.Context, prescriptionID, clinicID string, metered bool) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE prescriptions SET reminder_sent = 1 WHERE id = ? AND reminder_sent = 0`, prescriptionID)
	if err != nil {
		return false, fmt.Errorf("failed to flag prescription %s: %w", prescriptionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if metered {
		_, err = tx.ExecContext(ctx,
			`UPDATE clinics SET refills_used_this_month = refills_used_this_month + 1 WHERE id = ?`, clinicID)
		if err != nil {
			return false, fmt.Errorf("failed to count reminder for clinic %s: %w", clinicID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit reminder: %w", err)
	}
	return true, nil
}

// Clinic returns a clinic by id.
func (r *ReminderRepository) Clinic(ctx context.Context, id string) (*models.Clinic, error) {
	var c models.Clinic
	if err := r.db.GetContext(ctx, &c, `SELECT * FROM clinics WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return &c, nil
}

// Prescription returns a prescription by id.
func (r *ReminderRepository) Prescription(ctx context.Context, id string) (*models.Prescription, error) {
	var p models.Prescription
	if err := r.db.GetContext(ctx, &p, `SELECT * FROM prescriptions WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return &p, nil
}

// CreateClinic inserts c, assigning an id when empty.
func (r *ReminderRepository) CreateClinic(ctx context.Context, c *models.Clinic) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.SubscriptionStatus == "" {
		c.SubscriptionStatus = models.PlanFree
	}
	now := time.Now().UTC().Truncate(time.Second)
	if c.RefillsResetAt.IsZero() {
		c.RefillsResetAt = now
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.RefillsResetAt = c.RefillsResetAt.UTC()
	c.CreatedAt = c.CreatedAt.UTC()

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO clinics (id, name, email, phone, subscription_status,
			refills_used_this_month, refills_reset_at, created_at)
		VALUES (:id, :name, :email, :phone, :subscription_status,
			:refills_used_this_month, :refills_reset_at, :created_at)`, c)
	if err != nil {
		return fmt.Errorf("failed to insert clinic: %w", err)
	}
	return nil
}

// CreatePatient inserts p, assigning an id when empty.
func (r *ReminderRepository) CreatePatient(ctx context.Context, p *models.Patient) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO patients (id, clinic_id, pet_name, species, owner_name, owner_email,
			owner_phone, created_at)
		VALUES (:id, :clinic_id, :pet_name, :species, :owner_name, :owner_email,
			:owner_phone, :created_at)`, p)
	if err != nil {
		return fmt.Errorf("failed to insert patient: %w", err)
	}
	return nil
}

// CreatePrescription inserts p, assigning an id when empty.
func (r *ReminderRepository) CreatePrescription(ctx context.Context, p *models.Prescription) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = models.PrescriptionActive
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	if _, err := time.Parse(models.DateLayout, p.RefillDate); err != nil {
		return fmt.Errorf("invalid refill date %q: %w", p.RefillDate, err)
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO prescriptions (id, clinic_id, patient_id, medication_name, dosage,
			frequency, refill_date, status, reminder_sent, notes, created_at)
		VALUES (:id, :clinic_id, :patient_id, :medication_name, :dosage,
			:frequency, :refill_date, :status, :reminder_sent, :notes, :created_at)`, p)
	if err != nil {
		return fmt.Errorf("failed to insert prescription: %w", err)
	}
	return nil
}
