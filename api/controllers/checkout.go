package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/printloop/printloop-backend/api/responses"
	"github.com/printloop/printloop-backend/api/validators"
	checkoutsvc "github.com/printloop/printloop-backend/internal/checkout"
	"github.com/printloop/printloop-backend/pkg/enums"
	pkgerrors "github.com/printloop/printloop-backend/pkg/errors"
	"github.com/printloop/printloop-backend/pkg/logger"
	"github.com/printloop/printloop-backend/pkg/types"
)

// Checkout opens an order from the submitted cart and returns the payment
// intent the storefront needs to collect payment.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		lines := make([]checkoutsvc.CartLine, 0, len(payload.Lines))
		for _, line := range payload.Lines {
			lines = append(lines, checkoutsvc.CartLine{
				ProductID: line.ProductID,
				Qty:       line.Qty,
			})
		}

		result, err := svc.Begin(r.Context(), checkoutsvc.BeginInput{
			CustomerID:      payload.CustomerID,
			Lines:           lines,
			Currency:        enums.Currency(payload.Currency),
			ShippingAddress: payload.ShippingAddress,
			ShippingMethod:  enums.ShippingMethod(payload.ShippingMethod),
			ReferralCode:    payload.ReferralCode,
			IdempotencyKey:  r.Header.Get("Idempotency-Key"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

type checkoutRequest struct {
	CustomerID      uuid.UUID          `json:"customer_id" validate:"required"`
	Lines           []checkoutLine     `json:"lines" validate:"required,dive"`
	Currency        string             `json:"currency" validate:"required"`
	ShippingAddress types.Address      `json:"shipping_address" validate:"required"`
	ShippingMethod  string             `json:"shipping_method" validate:"required"`
	ReferralCode    *string            `json:"referral_code,omitempty" validate:"omitempty,max=32"`
}

type checkoutLine struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Qty       int       `json:"qty" validate:"required,min=1"`
}
