package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/printloop/printloop-backend/api/responses"
	"github.com/printloop/printloop-backend/api/validators"
	"github.com/printloop/printloop-backend/internal/attribution"
	"github.com/printloop/printloop-backend/internal/ledger"
	"github.com/printloop/printloop-backend/internal/payouts"
	pkgerrors "github.com/printloop/printloop-backend/pkg/errors"
	"github.com/printloop/printloop-backend/pkg/logger"
)

// AffiliateBalance returns the marketer's commission ledger closure.
func AffiliateBalance(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		marketerID, err := parseMarketerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		balance, err := svc.BalanceFor(r.Context(), marketerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, balance)
	}
}

// AffiliatePayoutRequest opens a payout against the marketer's available
// balance.
func AffiliatePayoutRequest(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payouts service unavailable"))
			return
		}

		var payload payoutRequestBody
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Request(r.Context(), payload.MarketerID, payload.AmountCents)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// AffiliateClick records a referral link hit for conversion reporting.
func AffiliateClick(svc attribution.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "attribution service unavailable"))
			return
		}

		var payload clickBody
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.RecordClick(r.Context(), payload.Code); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"status": "recorded"})
	}
}

type payoutRequestBody struct {
	MarketerID  uuid.UUID `json:"marketer_id" validate:"required"`
	AmountCents int       `json:"amount_cents" validate:"required"`
}

type clickBody struct {
	Code string `json:"code" validate:"required,max=32"`
}

func parseMarketerID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "marketerId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "marketer id is required")
	}
	marketerID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid marketer id")
	}
	return marketerID, nil
}
