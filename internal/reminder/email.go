package reminder

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"vetrefill/jobs/internal/models"
)

//go:embed templates/reminder.html
var templateFS embed.FS

var reminderTemplate = template.Must(template.ParseFS(templateFS, "templates/reminder.html"))

const defaultClinicName = "Your Veterinary Clinic"

// EmailData holds the fields rendered into a reminder email.
type EmailData struct {
	PetName        string
	OwnerName      string
	MedicationName string
	Dosage         string
	Frequency      string
	RefillDate     string
	ClinicName     string
	ClinicPhone    string
	PhoneURL       template.URL
	DueIn          string
}

// NewEmailData builds the template fields for a candidate. dueIn completes
// the sentence "refill is due ...".
func NewEmailData(c models.ReminderCandidate, dueIn string) EmailData {
	data := EmailData{
		PetName:        c.PetName,
		OwnerName:      c.OwnerName,
		MedicationName: c.MedicationName,
		Dosage:         c.Dosage,
		Frequency:      c.Frequency,
		RefillDate:     formatRefillDate(c.RefillDate),
		ClinicName:     c.ClinicName,
		DueIn:          dueIn,
	}
	if data.ClinicName == "" {
		data.ClinicName = defaultClinicName
	}
	if c.ClinicPhone.Valid && strings.TrimSpace(c.ClinicPhone.String) != "" {
		data.ClinicPhone = strings.TrimSpace(c.ClinicPhone.String)
		data.PhoneURL = template.URL("tel:" + dialable(data.ClinicPhone))
	}
	return data
}

// Render produces the HTML body of a reminder email. All fields are escaped.
func Render(data EmailData) (string, error) {
	var buf bytes.Buffer
	if err := reminderTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render reminder email: %w", err)
	}
	return buf.String(), nil
}

// formatRefillDate renders YYYY-MM-DD as e.g. "Thursday, October 9, 2025".
func formatRefillDate(date string) string {
	t, err := time.Parse(models.DateLayout, date)
	if err != nil {
		return date
	}
	return t.Format("Monday, January 2, 2006")
}

// dialable keeps the characters a tel: URI may carry.
func dialable(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
