package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/printloop/printloop-backend/api/responses"
	"github.com/printloop/printloop-backend/internal/attribution"
	pkgerrors "github.com/printloop/printloop-backend/pkg/errors"
	"github.com/printloop/printloop-backend/pkg/logger"
)

// AdminTransactionComplete settles a pending commission once the order
// clears its dispute window.
func AdminTransactionComplete(svc attribution.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "attribution service unavailable"))
			return
		}

		raw := strings.TrimSpace(chi.URLParam(r, "transactionId"))
		if raw == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required"))
			return
		}
		transactionID, err := uuid.Parse(raw)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transaction id"))
			return
		}

		if err := svc.Complete(r.Context(), transactionID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "completed"})
	}
}
