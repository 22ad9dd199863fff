package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/careport/chamber-booking/internal/booking"
	"github.com/careport/chamber-booking/internal/referral"
)

func myReferralCodeHandler(svc *referral.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerIdentity(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "identity headers required")
			return
		}

		code, err := svc.MyCode(r.Context(), caller.UserID, caller.Role)
		if err != nil {
			handleReferralError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, ReferralCodeResponse{
			Code:          code.Code,
			Active:        code.Active,
			UsedCount:     code.UsedCount,
			TotalEarnings: code.TotalEarnings,
		})
	}
}

func applyReferralHandler(svc *referral.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerIdentity(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "identity headers required")
			return
		}

		var req ApplyReferralRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		code, err := svc.Apply(r.Context(), req.Code, caller.UserID, caller.Role)
		if err != nil {
			handleReferralError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"code":     code.Code,
			"referrer": code.OwnerID.String(),
		})
	}
}

func referralStatsHandler(svc *referral.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerIdentity(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "identity headers required")
			return
		}

		stats, err := svc.Stats(r.Context(), caller.UserID)
		if err != nil {
			handleReferralError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toStatsResponse(stats))
	}
}

// settleReferralHandler re-runs settlement for one appointment. Settlement
// is idempotent, so operators can safely poke this after a partial failure.
func settleReferralHandler(svc *referral.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointmentID must be a valid UUID")
			return
		}

		if err := svc.Settle(r.Context(), id); err != nil {
			handleReferralError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "settled"})
	}
}

func handleReferralError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, referral.ErrCodeNotFound):
		writeError(w, http.StatusNotFound, "code_not_found", err.Error())
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, referral.ErrCodeInactive):
		writeError(w, http.StatusConflict, "code_inactive", err.Error())
	case errors.Is(err, referral.ErrSelfReferral):
		writeError(w, http.StatusBadRequest, "self_referral", err.Error())
	case errors.Is(err, referral.ErrInvalidReferralPairing):
		writeError(w, http.StatusBadRequest, "invalid_referral_pairing", err.Error())
	case errors.Is(err, referral.ErrCodeGenerationExhausted):
		writeError(w, http.StatusServiceUnavailable, "code_generation_exhausted", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
