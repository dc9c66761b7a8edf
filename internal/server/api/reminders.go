package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/hlog"

	"vetrefill/jobs/internal/reminder"
)

const maxSendBody = 1 << 12

// SendReminderRequest is the optional body of a manual send. ClinicID scopes
// the lookup to one clinic's prescriptions.
type SendReminderRequest struct {
	ClinicID string `json:"clinic_id" validate:"omitempty,uuid"`
}

// ReminderHandler sends single reminders on demand.
type ReminderHandler struct {
	reminders ReminderRunner
	validate  *validator.Validate
}

// NewReminderHandler creates a new handler instance.
func NewReminderHandler(reminders ReminderRunner) *ReminderHandler {
	return &ReminderHandler{reminders: reminders, validate: validator.New()}
}

// SendReminder handles POST /api/reminders/{id}/send.
func (h *ReminderHandler) SendReminder(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	prescriptionID := r.PathValue("id")
	if prescriptionID == "" {
		writeError(w, r, http.StatusBadRequest, "Missing prescription id")
		return
	}

	var req SendReminderRequest
	err := json.NewDecoder(io.LimitReader(r.Body, maxSendBody)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		log.Warn().Err(err).Msg("Malformed send reminder body")
		writeError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Warn().Err(err).Msg("Invalid send reminder body")
		writeError(w, r, http.StatusBadRequest, "Invalid clinic_id")
		return
	}

	err = h.reminders.SendOne(r.Context(), prescriptionID, req.ClinicID)
	switch {
	case err == nil:
		writeJSON(w, r, http.StatusOK, map[string]bool{"success": true})
	case errors.Is(err, reminder.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "Prescription not found")
	case errors.Is(err, reminder.ErrQuotaExceeded):
		writeError(w, r, http.StatusForbidden, "Monthly reminder limit reached. Upgrade to Pro.")
	case errors.Is(err, reminder.ErrSendFailed):
		log.Error().Err(err).Str("prescription_id", prescriptionID).Msg("Manual reminder delivery failed")
		writeError(w, r, http.StatusInternalServerError, "Failed to send email")
	default:
		log.Error().Err(err).Str("prescription_id", prescriptionID).Msg("Manual reminder failed")
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
	}
}
