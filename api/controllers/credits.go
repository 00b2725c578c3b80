package controllers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/relaycrm-backend/api/middleware"
	"github.com/angelmondragon/relaycrm-backend/api/responses"
	"github.com/angelmondragon/relaycrm-backend/api/validators"
	"github.com/angelmondragon/relaycrm-backend/internal/credits"
	"github.com/angelmondragon/relaycrm-backend/pkg/db/models"
	"github.com/angelmondragon/relaycrm-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/relaycrm-backend/pkg/errors"
	"github.com/angelmondragon/relaycrm-backend/pkg/logger"
	"github.com/angelmondragon/relaycrm-backend/pkg/pagination"
)

type applyCreditRequest struct {
	TenantID        string          `json:"tenant_id" validate:"required,uuid"`
	Amount          json.RawMessage `json:"amount"`
	TransactionType string          `json:"transaction_type" validate:"required"`
	Description     string          `json:"description"`
	ReferenceID     *string         `json:"reference_id,omitempty"`
}

type creditTransactionDTO struct {
	ID              uuid.UUID `json:"id"`
	TenantID        uuid.UUID `json:"tenant_id"`
	Sequence        int64     `json:"sequence"`
	Amount          int64     `json:"amount"`
	BalanceAfter    int64     `json:"balance_after"`
	TransactionType string    `json:"transaction_type"`
	Description     string    `json:"description"`
	ReferenceID     *string   `json:"reference_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type applyCreditResponse struct {
	Success     bool                 `json:"success"`
	Balance     int64                `json:"balance"`
	Transaction creditTransactionDTO `json:"transaction"`
}

type creditSummaryResponse struct {
	Balance            int64                  `json:"balance"`
	RecentTransactions []creditTransactionDTO `json:"recent_transactions"`
	NextCursor         string                 `json:"next_cursor,omitempty"`
}

// ApplyCredit appends one signed movement to a tenant's ledger. Internal callers
// only; the route sits behind the service token.
func ApplyCredit(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
			return
		}

		var req applyCreditRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		tenantID, err := uuid.Parse(req.TenantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid tenant_id"))
			return
		}
		amount, err := credits.ParseAmount(req.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		txType, err := enums.ParseCreditTransactionType(strings.TrimSpace(req.TransactionType))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transaction_type").
				WithDetails(map[string]any{"field": "transaction_type"}))
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithTenantID(ctx, tenantID.String())
		}

		result, err := svc.Apply(ctx, credits.ApplyInput{
			TenantID:    tenantID,
			Amount:      amount,
			Type:        txType,
			Description: req.Description,
			ReferenceID: req.ReferenceID,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, applyCreditResponse{
			Success:     true,
			Balance:     result.Balance,
			Transaction: toCreditTransactionDTO(result.Transaction),
		})
	}
}

// CreditSummary returns the caller's balance and most recent movements. limit and
// cursor page further back through the history.
func CreditSummary(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
			return
		}

		tokenTenant, ok := middleware.TenantIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "tenant context missing"))
			return
		}

		requested, err := validators.ParseQueryUUID(r, "tenant_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if requested != uuid.Nil && requested != tokenTenant {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "tenant mismatch"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		balance, err := svc.GetBalance(r.Context(), tokenTenant)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListPage(r.Context(), tokenTenant, pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]creditTransactionDTO, 0, len(page.Transactions))
		for _, txn := range page.Transactions {
			out = append(out, toCreditTransactionDTO(txn))
		}
		responses.WriteSuccess(w, creditSummaryResponse{
			Balance:            balance,
			RecentTransactions: out,
			NextCursor:         page.NextCursor,
		})
	}
}

func toCreditTransactionDTO(txn models.CreditTransaction) creditTransactionDTO {
	return creditTransactionDTO{
		ID:              txn.ID,
		TenantID:        txn.TenantID,
		Sequence:        txn.Sequence,
		Amount:          txn.Amount,
		BalanceAfter:    txn.BalanceAfter,
		TransactionType: string(txn.Type),
		Description:     txn.Description,
		ReferenceID:     txn.ReferenceID,
		CreatedAt:       txn.CreatedAt.UTC(),
	}
}
