package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/booking-queue-engine/internal/appointment"
)

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := decodeJSON(r, &req, false); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		in := appointment.CreateInput{StartAt: req.StartAt}
		for _, f := range []struct {
			name string
			raw  string
			dst  *uuid.UUID
		}{
			{"establishment_id", req.EstablishmentID, &in.EstablishmentID},
			{"professional_id", req.ProfessionalID, &in.ProfessionalID},
			{"service_id", req.ServiceID, &in.ServiceID},
			{"user_id", req.UserID, &in.UserID},
		} {
			id, err := parseUUID(f.name, f.raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_"+f.name, err.Error())
				return
			}
			*f.dst = id
		}

		appt, err := svc.Create(r.Context(), in)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUID("id", chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", err.Error())
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseListFilter(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
			return
		}

		appts, err := svc.List(r.Context(), filter)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func parseListFilter(r *http.Request) (appointment.ListFilter, error) {
	q := r.URL.Query()
	var filter appointment.ListFilter
	var err error

	if filter.EstablishmentID, err = parseOptionalUUID("establishment_id", q.Get("establishment_id")); err != nil {
		return filter, err
	}
	if filter.ProfessionalID, err = parseOptionalUUID("professional_id", q.Get("professional_id")); err != nil {
		return filter, err
	}
	if filter.UserID, err = parseOptionalUUID("user_id", q.Get("user_id")); err != nil {
		return filter, err
	}
	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			filter.Status = append(filter.Status, appointment.AppointmentStatus(strings.TrimSpace(s)))
		}
	}
	for _, t := range []struct {
		name string
		dst  **time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		raw := q.Get(t.name)
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("%s must be RFC3339", t.name)
		}
		*t.dst = &parsed
	}
	if filter.Limit, err = parseIntParam(q.Get("limit")); err != nil {
		return filter, errors.New("limit must be an integer")
	}
	if filter.Offset, err = parseIntParam(q.Get("offset")); err != nil {
		return filter, errors.New("offset must be an integer")
	}
	return filter, nil
}

func parseIntParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func checkInHandler(svc *appointment.Service) http.HandlerFunc {
	return ownerActionHandler(svc.CheckIn)
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return ownerActionHandler(svc.Cancel)
}

func ownerActionHandler(action func(ctx context.Context, id, userID uuid.UUID) (*appointment.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUID("id", chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", err.Error())
			return
		}

		var req UserRequest
		if err := decodeJSON(r, &req, false); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		userID, err := parseUUID("user_id", req.UserID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_user_id", err.Error())
			return
		}

		appt, err := action(r.Context(), id, userID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func staffTransitionHandler(action func(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUID("id", chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", err.Error())
			return
		}

		appt, err := action(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func availableSlotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profID, err := parseUUID("id", chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", err.Error())
			return
		}
		q := r.URL.Query()
		serviceID, err := parseUUID("service_id", q.Get("service_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_service_id", err.Error())
			return
		}

		query := appointment.SlotsQuery{
			ProfessionalID: profID,
			ServiceID:      serviceID,
			Date:           q.Get("date"),
		}
		if open, closing := q.Get("open"), q.Get("close"); open != "" || closing != "" {
			query.Hours = &appointment.BusinessHours{Open: open, Close: closing}
		}

		slots, err := svc.AvailableSlots(r.Context(), query)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, SlotResponse{StartAt: s.StartAt, EndAt: s.EndAt})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
