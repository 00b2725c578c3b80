package controllers

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/relaycrm-backend/api/responses"
	"github.com/angelmondragon/relaycrm-backend/api/validators"
	"github.com/angelmondragon/relaycrm-backend/internal/autorecharge"
	pkgerrors "github.com/angelmondragon/relaycrm-backend/pkg/errors"
	"github.com/angelmondragon/relaycrm-backend/pkg/logger"
)

// RechargeSweeper is the part of autorecharge.Sweeper the HTTP trigger uses.
type RechargeSweeper interface {
	SweepTenant(ctx context.Context, tenantID uuid.UUID) (*autorecharge.Evaluation, error)
	SweepAll(ctx context.Context) (autorecharge.SweepSummary, error)
}

type sweepRequest struct {
	TenantID *string `json:"tenant_id,omitempty" validate:"omitempty,uuid"`
}

type sweepTenantResponse struct {
	Triggered   bool   `json:"triggered"`
	AmountAdded int64  `json:"amount_added"`
	Outcome     string `json:"outcome"`
	Balance     int64  `json:"balance"`
}

// RechargeSweep evaluates one tenant when tenant_id is given, otherwise every
// enabled tenant. Safe to call repeatedly.
func RechargeSweep(sweeper RechargeSweeper, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sweeper == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sweeper unavailable"))
			return
		}

		var req sweepRequest
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
			return
		}
		if len(bytes.TrimSpace(body)) > 0 {
			r.Body = io.NopCloser(bytes.NewReader(body))
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		if req.TenantID == nil || *req.TenantID == "" {
			summary, err := sweeper.SweepAll(r.Context())
			if err != nil {
				if summary.Evaluated == 0 {
					responses.WriteError(r.Context(), logg, w, err)
					return
				}
				if logg != nil {
					logg.Warn(logg.WithFields(r.Context(), pkgerrors.Dump(err).Fields()), "auto-recharge sweep finished with failures")
				}
			}
			responses.WriteSuccess(w, summary)
			return
		}

		tenantID, err := uuid.Parse(*req.TenantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid tenant_id"))
			return
		}
		eval, err := sweeper.SweepTenant(r.Context(), tenantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sweepTenantResponse{
			Triggered:   eval.Triggered(),
			AmountAdded: eval.AmountAdded,
			Outcome:     string(eval.Outcome),
			Balance:     eval.Balance,
		})
	}
}
