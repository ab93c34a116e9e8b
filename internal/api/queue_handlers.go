package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/booking-queue-engine/internal/queue"
)

func joinQueueHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queueID, err := parseUUID("id", chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_queue_id", err.Error())
			return
		}

		var req JoinQueueRequest
		if err := decodeJSON(r, &req, true); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		userID, err := parseOptionalUUID("user_id", req.UserID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_user_id", err.Error())
			return
		}

		res, err := svc.Join(r.Context(), queue.JoinInput{QueueID: queueID, UserID: userID, Priority: req.Priority})
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := toEntryResponse(&res.Entry)
		resp.EstimatedWaitMinutes = &res.EstimatedWaitMinutes
		writeJSON(w, http.StatusCreated, resp)
	}
}

func callNextHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queueID, err := parseUUID("id", chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_queue_id", err.Error())
			return
		}

		var req CallNextRequest
		if err := decodeJSON(r, &req, true); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		in := queue.CallNextInput{QueueID: queueID}
		if in.EstablishmentID, err = parseOptionalUUID("establishment_id", req.EstablishmentID); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_establishment_id", err.Error())
			return
		}
		if in.ProfessionalID, err = parseOptionalUUID("professional_id", req.ProfessionalID); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", err.Error())
			return
		}

		res, err := svc.CallNext(r.Context(), in)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		if res == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		resp := CallNextResponse{Kind: string(res.Kind)}
		switch res.Kind {
		case queue.CallAppointment:
			appt := toAppointmentResponse(res.Appointment)
			resp.Appointment = &appt
		case queue.CallQueueEntry:
			entry := toEntryResponse(res.Entry)
			resp.Entry = &entry
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func setQueueStatusHandler(svc *queue.Service, status queue.QueueStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queueID, err := parseUUID("id", chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_queue_id", err.Error())
			return
		}

		var q *queue.Queue
		if status == queue.QueueOpen {
			q, err = svc.Open(r.Context(), queueID)
		} else {
			q, err = svc.Close(r.Context(), queueID)
		}
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toQueueResponse(q))
	}
}

func queueStatusHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queueID, err := parseUUID("id", chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_queue_id", err.Error())
			return
		}
		userID, err := parseOptionalUUID("user_id", r.URL.Query().Get("user_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_user_id", err.Error())
			return
		}

		view, err := svc.Status(r.Context(), queueID, userID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, QueueStatusResponse{
			QueueID:              view.QueueID,
			QueueStatus:          string(view.QueueStatus),
			TotalWaiting:         view.TotalWaiting,
			UserPosition:         view.UserPosition,
			EstimatedWaitMinutes: view.EstimatedWaitMinutes,
		})
	}
}

func listWaitingHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queueID, err := parseUUID("id", chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_queue_id", err.Error())
			return
		}

		entries, err := svc.ListWaiting(r.Context(), queueID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := make([]EntryResponse, 0, len(entries))
		for i := range entries {
			resp = append(resp, toEntryResponse(&entries[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getEntryHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUID("id", chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_entry_id", err.Error())
			return
		}

		entry, err := svc.GetEntry(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toEntryResponse(entry))
	}
}

func leaveQueueHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUID("id", chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_entry_id", err.Error())
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

		entry, err := svc.Leave(r.Context(), id, userID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toEntryResponse(entry))
	}
}

func entryTransitionHandler(action func(ctx context.Context, id uuid.UUID) (*queue.Entry, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUID("id", chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_entry_id", err.Error())
			return
		}

		entry, err := action(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toEntryResponse(entry))
	}
}
