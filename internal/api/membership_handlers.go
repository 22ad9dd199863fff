package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/careport/chamber-booking/internal/booking"
	"github.com/careport/chamber-booking/internal/membership"
)

func requirePatient(w http.ResponseWriter, r *http.Request) (Identity, bool) {
	caller, ok := callerIdentity(r.Context())
	if !ok || caller.Role != booking.RolePatient {
		writeError(w, http.StatusForbidden, "forbidden", "memberships are for patients")
		return Identity{}, false
	}
	return caller, true
}

func purchaseMembershipHandler(svc *membership.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := requirePatient(w, r)
		if !ok {
			return
		}

		var req PurchaseMembershipRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		m, err := svc.Purchase(r.Context(), caller.UserID, membership.Plan(req.Plan), booking.PaymentMethod(req.PaymentMethod))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_purchase", err.Error())
			return
		}

		writeJSON(w, http.StatusCreated, toMembershipResponse(m, time.Now()))
	}
}

func getMembershipHandler(svc *membership.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := requirePatient(w, r)
		if !ok {
			return
		}

		m, err := svc.Get(r.Context(), caller.UserID)
		if err != nil {
			handleMembershipError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toMembershipResponse(m, time.Now()))
	}
}

func renewMembershipHandler(svc *membership.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := requirePatient(w, r)
		if !ok {
			return
		}

		m, err := svc.Renew(r.Context(), caller.UserID)
		if err != nil {
			handleMembershipError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toMembershipResponse(m, time.Now()))
	}
}

func cancelMembershipHandler(svc *membership.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := requirePatient(w, r)
		if !ok {
			return
		}

		var req CancelMembershipRequest
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}

		m, err := svc.Cancel(r.Context(), caller.UserID, req.Reason)
		if err != nil {
			handleMembershipError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toMembershipResponse(m, time.Now()))
	}
}

func handleMembershipError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, membership.ErrNoMembership):
		writeError(w, http.StatusNotFound, "no_membership", err.Error())
	case errors.Is(err, membership.ErrRenewalNotApplicable):
		writeError(w, http.StatusConflict, "renewal_not_applicable", err.Error())
	case errors.Is(err, membership.ErrAlreadyCancelled):
		writeError(w, http.StatusConflict, "already_cancelled", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
