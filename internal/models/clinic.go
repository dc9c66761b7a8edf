package models

import (
	"database/sql"
	"time"
)

// Subscription plans. Only the free plan is metered.
const (
	PlanFree = "free"
	PlanPro  = "pro"
)

// Prescription statuses.
const (
	PrescriptionActive   = "active"
	PrescriptionRefilled = "refilled"
	PrescriptionExpired  = "expired"
)

// DateLayout is the storage format of prescription refill dates.
const DateLayout = "2006-01-02"

// Clinic represents a row in the 'clinics' table
type Clinic struct {
	ID                   string         `db:"id"`
	Name                 string         `db:"name"`
	Email                string         `db:"email"`
	Phone                sql.NullString `db:"phone"`
	SubscriptionStatus   string         `db:"subscription_status"`
	RefillsUsedThisMonth int            `db:"refills_used_this_month"`
	RefillsResetAt       time.Time      `db:"refills_reset_at"`
	CreatedAt            time.Time      `db:"created_at"`
}

// Metered reports whether reminders sent by the clinic count against a quota.
func (c Clinic) Metered() bool {
	return c.SubscriptionStatus == PlanFree
}

// Patient represents a row in the 'patients' table
type Patient struct {
	ID         string         `db:"id"`
	ClinicID   string         `db:"clinic_id"`
	PetName    string         `db:"pet_name"`
	Species    string         `db:"species"`
	OwnerName  string         `db:"owner_name"`
	OwnerEmail string         `db:"owner_email"`
	OwnerPhone sql.NullString `db:"owner_phone"`
	CreatedAt  time.Time      `db:"created_at"`
}

// Prescription represents a row in the 'prescriptions' table
type Prescription struct {
	ID             string         `db:"id"`
	ClinicID       string         `db:"clinic_id"`
	PatientID      string         `db:"patient_id"`
	MedicationName string         `db:"medication_name"`
	Dosage         string         `db:"dosage"`
	Frequency      string         `db:"frequency"`
	RefillDate     string         `db:"refill_date"` // YYYY-MM-DD
	Status         string         `db:"status"`
	ReminderSent   bool           `db:"reminder_sent"`
	Notes          sql.NullString `db:"notes"`
	CreatedAt      time.Time      `db:"created_at"`
}

// ReminderCandidate is a prescription joined with its patient and clinic.
type ReminderCandidate struct {
	PrescriptionID string `db:"prescription_id"`
	MedicationName string `db:"medication_name"`
	Dosage         string `db:"dosage"`
	Frequency      string `db:"frequency"`
	RefillDate     string `db:"refill_date"`
	Status         string `db:"status"`
	ReminderSent   bool   `db:"reminder_sent"`

	PetName    string `db:"pet_name"`
	Species    string `db:"species"`
	OwnerName  string `db:"owner_name"`
	OwnerEmail string `db:"owner_email"`

	ClinicID             string         `db:"clinic_id"`
	ClinicName           string         `db:"clinic_name"`
	ClinicPhone          sql.NullString `db:"clinic_phone"`
	SubscriptionStatus   string         `db:"subscription_status"`
	RefillsUsedThisMonth int            `db:"refills_used_this_month"`
	RefillsResetAt       time.Time      `db:"refills_reset_at"`
}

// Metered reports whether the owning clinic is on a capped plan.
func (c ReminderCandidate) Metered() bool {
	return c.SubscriptionStatus == PlanFree
}
