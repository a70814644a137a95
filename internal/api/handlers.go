package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/servigo/booking-engine/internal/schedule"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.New("could not parse JSON body")
	}
	return validate.Struct(dst)
}

func createRuleHandler(svc *schedule.Service, repo schedule.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateRuleRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		rule, err := ruleFromRequest(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_rule", err.Error())
			return
		}

		if err := repo.CreateRule(r.Context(), rule); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusCreated, RuleResponse{
			ID:             rule.ID,
			ProfessionalID: rule.ProfessionalID,
			Recurrence:     string(rule.Recurrence),
			Timezone:       rule.Timezone,
		})
	}
}

func ruleFromRequest(req CreateRuleRequest) (*schedule.AvailabilityRule, error) {
	profID, err := uuid.Parse(req.ProfessionalID)
	if err != nil {
		return nil, errors.New("professional_id must be a valid UUID")
	}
	start, err := schedule.ParseTimeOfDay(req.Start)
	if err != nil {
		return nil, err
	}
	end, err := schedule.ParseTimeOfDay(req.End)
	if err != nil {
		return nil, err
	}
	validFrom, err := time.Parse("2006-01-02", req.ValidFrom)
	if err != nil {
		return nil, err
	}

	rule := &schedule.AvailabilityRule{
		ID:             uuid.New(),
		ProfessionalID: profID,
		Start:          start,
		End:            end,
		SlotDuration:   time.Duration(req.SlotMinutes) * time.Minute,
		Buffer:         time.Duration(req.BufferMinutes) * time.Minute,
		Recurrence:     schedule.RecurrenceKind(req.Recurrence),
		ValidFrom:      validFrom,
		Timezone:       req.Timezone,
		DSTPolicy:      schedule.PreserveLocalTime,
		Active:         true,
	}
	if req.DSTPolicy != "" {
		rule.DSTPolicy = schedule.DSTPolicy(req.DSTPolicy)
	}
	if req.ValidUntil != "" {
		until, err := time.Parse("2006-01-02", req.ValidUntil)
		if err != nil {
			return nil, err
		}
		rule.ValidUntil = &until
	}
	for _, wd := range req.Weekdays {
		rule.Weekdays = append(rule.Weekdays, time.Weekday(wd))
	}
	for _, d := range req.IncludeDates {
		date, err := time.Parse("2006-01-02", d)
		if err != nil {
			return nil, err
		}
		rule.IncludeDates = append(rule.IncludeDates, date)
	}
	for _, d := range req.ExcludeDates {
		date, err := time.Parse("2006-01-02", d)
		if err != nil {
			return nil, err
		}
		rule.ExcludeDates = append(rule.ExcludeDates, date)
	}
	return rule, nil
}

func expandRuleHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ruleID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_rule_id", "id must be a valid UUID")
			return
		}

		var req ExpandRuleRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		start, _ := time.Parse("2006-01-02", req.StartDate)
		end, _ := time.Parse("2006-01-02", req.EndDate)

		slots, err := svc.ExpandAndPersist(r.Context(), ruleID, start, end)
		if err != nil {
			handleScheduleError(w, err)
			return
		}

		out := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			out = append(out, slotResponse(s))
		}
		writeJSON(w, http.StatusCreated, out)
	}
}

func listSlotsHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profID, err := uuid.Parse(r.URL.Query().Get("professional_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "professional_id must be a valid UUID")
			return
		}

		from := time.Now()
		to := from.AddDate(0, 0, 30)
		if v := r.URL.Query().Get("from"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				from = t
			}
		}
		if v := r.URL.Query().Get("to"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				to = t
			}
		}

		slots, err := svc.ListOpenSlots(r.Context(), profID, from, to)
		if err != nil {
			handleScheduleError(w, err)
			return
		}

		out := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			out = append(out, slotResponse(s))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func bookSlotHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slotID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "id must be a valid UUID")
			return
		}

		var req BookSlotRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}
		clientID, _ := uuid.Parse(req.ClientID)

		appt, err := svc.BookSlot(r.Context(), slotID, clientID, schedule.BookingRequest{
			Notes:                req.Notes,
			CheckClientConflicts: req.CheckClientConflicts,
		})
		if err != nil {
			handleScheduleError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, appointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.CancelAppointment(r.Context(), id)
		if err != nil {
			handleScheduleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, appointmentResponse(appt))
	}
}

func createBlockHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBlockRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}
		profID, _ := uuid.Parse(req.ProfessionalID)

		block := &schedule.BlockedPeriod{
			ProfessionalID: profID,
			StartTime:      req.Start.UTC(),
			EndTime:        req.End.UTC(),
			Reason:         req.Reason,
		}
		opts := schedule.ValidateOptions{
			Strategy:                   schedule.Strategy(req.Strategy),
			AllowBlockOverAppointments: req.AllowOverAppts,
			AllowCriticalConflicts:     req.AllowCritical,
		}

		created, warnings, err := svc.CreateBlockedPeriod(r.Context(), block, opts)
		if err != nil {
			handleScheduleError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, BlockResponse{
			ID:             created.ID,
			ProfessionalID: created.ProfessionalID,
			Start:          created.StartTime,
			End:            created.EndTime,
			Reason:         created.Reason,
			Warnings:       warnings,
		})
	}
}

func validateHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ValidateRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		entity, kind, err := entityFromRequest(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_entity", err.Error())
			return
		}

		res, err := svc.ValidateEntity(r.Context(), entity, kind, schedule.ValidateOptions{
			Strategy:                   schedule.Strategy(req.Options.Strategy),
			CheckClientConflicts:       req.Options.CheckClientConflicts,
			AllowBlockOverAppointments: req.Options.AllowOverAppts,
			AllowCriticalConflicts:     req.Options.AllowCritical,
		})
		if err != nil {
			handleScheduleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, ValidationResponse{
			Valid:             res.Valid,
			CanProceed:        res.CanProceed,
			Conflicts:         res.Conflicts,
			CriticalConflicts: res.CriticalConflicts,
			SlotsToRemove:     res.SlotsToRemove,
		})
	}
}

func entityFromRequest(req ValidateRequest) (any, schedule.EntityKind, error) {
	switch req.Kind {
	case "slot":
		if req.Slot == nil {
			return nil, "", errors.New("slot payload required")
		}
		profID, err := uuid.Parse(req.Slot.ProfessionalID)
		if err != nil {
			return nil, "", err
		}
		return &schedule.Slot{
			ProfessionalID: profID,
			StartTime:      req.Slot.Start.UTC(),
			EndTime:        req.Slot.End.UTC(),
			Status:         schedule.SlotAvailable,
		}, schedule.KindSlot, nil
	case "appointment":
		if req.Appt == nil {
			return nil, "", errors.New("appointment payload required")
		}
		profID, err := uuid.Parse(req.Appt.ProfessionalID)
		if err != nil {
			return nil, "", err
		}
		clientID, err := uuid.Parse(req.Appt.ClientID)
		if err != nil {
			return nil, "", err
		}
		appt := &schedule.Appointment{
			ProfessionalID: profID,
			ClientID:       clientID,
			StartTime:      req.Appt.Start.UTC(),
			EndTime:        req.Appt.End.UTC(),
			Status:         schedule.ApptScheduled,
		}
		if req.Appt.SlotID != "" {
			slotID, err := uuid.Parse(req.Appt.SlotID)
			if err != nil {
				return nil, "", err
			}
			appt.SlotID = slotID
		}
		return appt, schedule.KindAppointment, nil
	case "block":
		if req.Block == nil {
			return nil, "", errors.New("block payload required")
		}
		profID, err := uuid.Parse(req.Block.ProfessionalID)
		if err != nil {
			return nil, "", err
		}
		return &schedule.BlockedPeriod{
			ProfessionalID: profID,
			StartTime:      req.Block.Start.UTC(),
			EndTime:        req.Block.End.UTC(),
		}, schedule.KindBlock, nil
	}
	return nil, "", errors.New("unknown entity kind")
}

func handleScheduleError(w http.ResponseWriter, err error) {
	var cfgErr *schedule.ConfigError
	var conflictErr *schedule.ConflictError

	switch {
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusBadRequest, "invalid_configuration", cfgErr.Error())
	case errors.As(err, &conflictErr):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:     "scheduling_conflict",
			Details:   conflictErr.Error(),
			Conflicts: conflictErr.Conflicts,
		})
	case errors.Is(err, schedule.ErrBookingContended):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, schedule.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, schedule.ErrRuleNotFound),
		errors.Is(err, schedule.ErrSlotNotFound),
		errors.Is(err, schedule.ErrClientNotFound),
		errors.Is(err, schedule.ErrProfessionalNotFound),
		errors.Is(err, schedule.ErrAppointmentNotFound),
		errors.Is(err, schedule.ErrBlockNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
