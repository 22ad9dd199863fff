package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/careport/chamber-booking/internal/booking"
	"github.com/careport/chamber-booking/internal/schedule"
)

func createChamberHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerIdentity(r.Context())
		if !ok || caller.Role != booking.RolePharmacy {
			writeError(w, http.StatusForbidden, "forbidden", "only pharmacies can create chambers")
			return
		}

		var req CreateChamberRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		start, err := schedule.ParseClock(req.StartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_time", "start_time must be HH:MM")
			return
		}
		end, err := schedule.ParseClock(req.EndTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end_time", "end_time must be HH:MM")
			return
		}

		c := &booking.Chamber{
			PharmacyID: caller.UserID,
			DoctorID:   doctorID,
			Rule: schedule.Rule{
				Week:    schedule.WeekOfMonth(req.WeekOfMonth),
				Weekday: time.Weekday(req.Weekday),
			},
			StartClock:  start,
			EndClock:    end,
			Fee:         req.Fee,
			SlotMinutes: req.SlotMinutes,
			MaxSlots:    req.MaxSlots,
		}

		created, err := svc.CreateChamber(r.Context(), c)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_chamber", err.Error())
			return
		}

		writeJSON(w, http.StatusCreated, toChamberResponse(created))
	}
}

func deactivateChamberHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerIdentity(r.Context())
		if !ok || caller.Role != booking.RolePharmacy {
			writeError(w, http.StatusForbidden, "forbidden", "only pharmacies can deactivate chambers")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_chamber_id", "id must be a valid UUID")
			return
		}

		if err := svc.DeactivateChamber(r.Context(), id, caller.UserID); err != nil {
			switch {
			case errors.Is(err, booking.ErrChamberNotFound):
				writeError(w, http.StatusNotFound, "chamber_not_found", err.Error())
			case errors.Is(err, booking.ErrNotOwner):
				writeError(w, http.StatusForbidden, "forbidden", "chamber belongs to another pharmacy")
			default:
				writeError(w, http.StatusInternalServerError, "internal_error", "could not deactivate chamber")
			}
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func availabilityHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_chamber_id", "id must be a valid UUID")
			return
		}
		date, err := time.Parse(dateLayout, r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		av, err := svc.Availability(r.Context(), id, date)
		if err != nil {
			switch {
			case errors.Is(err, booking.ErrChamberNotFound):
				writeError(w, http.StatusNotFound, "chamber_not_found", err.Error())
			case errors.Is(err, booking.ErrScheduleMismatch):
				writeError(w, http.StatusBadRequest, "schedule_mismatch", err.Error())
			default:
				writeError(w, http.StatusInternalServerError, "internal_error", "could not load availability")
			}
			return
		}

		writeJSON(w, http.StatusOK, AvailabilityResponse{
			ChamberID:  av.ChamberID,
			Date:       av.Date.Format(dateLayout),
			MaxSlots:   av.MaxSlots,
			Booked:     av.Booked,
			Remaining:  av.Remaining,
			TakenSlots: av.TakenSlots,
		})
	}
}

func nextVisitDateHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_chamber_id", "id must be a valid UUID")
			return
		}

		next, err := svc.NextVisitDate(r.Context(), id)
		if err != nil {
			switch {
			case errors.Is(err, booking.ErrChamberNotFound):
				writeError(w, http.StatusNotFound, "chamber_not_found", err.Error())
			case errors.Is(err, schedule.ErrRecurrenceUnsatisfiable):
				writeError(w, http.StatusConflict, "recurrence_unsatisfiable", err.Error())
			default:
				writeError(w, http.StatusInternalServerError, "internal_error", "could not resolve next date")
			}
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"next_date": next.Format(dateLayout)})
	}
}

func bookAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerIdentity(r.Context())
		if !ok || caller.Role != booking.RolePatient {
			writeError(w, http.StatusForbidden, "forbidden", "only patients can book appointments")
			return
		}

		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		chamberID, err := uuid.Parse(req.ChamberID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_chamber_id", "chamber_id must be a valid UUID")
			return
		}
		date, err := time.Parse(dateLayout, req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		appt, err := svc.Book(r.Context(), caller.UserID, booking.BookRequest{
			ChamberID:     chamberID,
			Date:          date,
			SlotNo:        req.SlotNo,
			PaymentMethod: booking.PaymentMethod(req.PaymentMethod),
			ReferralCode:  req.ReferralCode,
		})
		if err != nil {
			handleBookError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func handleBookError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrChamberNotFound):
		writeError(w, http.StatusNotFound, "chamber_not_found", err.Error())
	case errors.Is(err, booking.ErrChamberInactive):
		writeError(w, http.StatusConflict, "chamber_inactive", err.Error())
	case errors.Is(err, booking.ErrScheduleMismatch):
		writeError(w, http.StatusBadRequest, "schedule_mismatch", err.Error())
	case errors.Is(err, booking.ErrSlotOutOfRange):
		writeError(w, http.StatusBadRequest, "slot_out_of_range", err.Error())
	case errors.Is(err, booking.ErrInvalidPaymentMethod):
		writeError(w, http.StatusBadRequest, "invalid_payment_method", err.Error())
	case errors.Is(err, booking.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, booking.ErrBookingContended):
		writeError(w, http.StatusConflict, "booking_contended", "chamber day is currently being booked, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func cancelAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerIdentity(r.Context())
		if !ok || caller.Role != booking.RolePatient {
			writeError(w, http.StatusForbidden, "forbidden", "only the booking patient can cancel")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.Cancel(r.Context(), id, caller.UserID)
		if err != nil {
			handleTransitionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func completeAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerIdentity(r.Context())
		if !ok || caller.Role != booking.RoleDoctor {
			writeError(w, http.StatusForbidden, "forbidden", "only the treating doctor can complete")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req CompleteAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.Complete(r.Context(), id, caller.UserID, booking.MedicalRecordInput{
			Diagnosis:    req.Diagnosis,
			Prescription: req.Prescription,
			Notes:        req.Notes,
		})
		if err != nil {
			handleTransitionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func handleTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrNotOwner):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, booking.ErrInvalidStateTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func getAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerIdentity(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "identity headers required")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		view, err := svc.GetAppointment(r.Context(), id, caller.UserID, caller.Role)
		if err != nil {
			handleTransitionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toViewResponse(*view))
	}
}

func listAppointmentsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerIdentity(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "identity headers required")
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		views, err := svc.ListForCaller(r.Context(), caller.UserID, caller.Role, limit, offset)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "could not list appointments")
			return
		}

		out := make([]any, 0, len(views))
		for _, v := range views {
			out = append(out, toViewResponse(v))
		}
		writeJSON(w, http.StatusOK, out)
	}
}
