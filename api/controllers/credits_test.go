package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/relaycrm-backend/internal/credits"
	"github.com/angelmondragon/relaycrm-backend/pkg/db/models"
	"github.com/angelmondragon/relaycrm-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/relaycrm-backend/pkg/errors"
	"github.com/angelmondragon/relaycrm-backend/pkg/pagination"
)

func TestApplyCreditSuccess(t *testing.T) {
	tenantID := uuid.New()
	var got credits.ApplyInput
	svc := &testCreditsService{
		applyFn: func(ctx context.Context, input credits.ApplyInput) (*credits.ApplyResult, error) {
			got = input
			return &credits.ApplyResult{
				Balance: 95,
				Transaction: models.CreditTransaction{
					ID:           uuid.New(),
					TenantID:     input.TenantID,
					Sequence:     2,
					Amount:       input.Amount,
					BalanceAfter: 95,
					Type:         input.Type,
					Description:  input.Description,
					CreatedAt:    time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
				},
			}, nil
		},
	}

	body := `{"tenant_id":"` + tenantID.String() + `","amount":"-5.9","transaction_type":"usage_debit","description":"SMS sent"}`
	resp := httptest.NewRecorder()
	ApplyCredit(svc, testLogger())(resp, jsonRequest(http.MethodPost, "/internal/v1/credits", body))

	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.Equal(t, tenantID, got.TenantID)
	assert.Equal(t, int64(-5), got.Amount)
	assert.Equal(t, enums.CreditTransactionUsageDebit, got.Type)
	assert.Nil(t, got.ReferenceID)

	var payload struct {
		Success     bool  `json:"success"`
		Balance     int64 `json:"balance"`
		Transaction struct {
			Sequence        int64  `json:"sequence"`
			Amount          int64  `json:"amount"`
			BalanceAfter    int64  `json:"balance_after"`
			TransactionType string `json:"transaction_type"`
		} `json:"transaction"`
	}
	decodeData(t, resp, &payload)
	assert.True(t, payload.Success)
	assert.Equal(t, int64(95), payload.Balance)
	assert.Equal(t, int64(2), payload.Transaction.Sequence)
	assert.Equal(t, int64(-5), payload.Transaction.Amount)
	assert.Equal(t, "usage_debit", payload.Transaction.TransactionType)
}

func TestApplyCreditRejectsBadInput(t *testing.T) {
	tenant := uuid.NewString()
	cases := map[string]string{
		"zero amount":       `{"tenant_id":"` + tenant + `","amount":0,"transaction_type":"usage_debit","description":"x"}`,
		"non numeric":       `{"tenant_id":"` + tenant + `","amount":"ten","transaction_type":"usage_debit","description":"x"}`,
		"missing amount":    `{"tenant_id":"` + tenant + `","transaction_type":"usage_debit","description":"x"}`,
		"unknown type":      `{"tenant_id":"` + tenant + `","amount":1,"transaction_type":"gift","description":"x"}`,
		"bad tenant":        `{"tenant_id":"nope","amount":1,"transaction_type":"usage_debit","description":"x"}`,
		"unknown field":     `{"tenant_id":"` + tenant + `","amount":1,"transaction_type":"usage_debit","description":"x","extra":true}`,
		"malformed payload": `{"tenant_id":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			called := false
			svc := &testCreditsService{
				applyFn: func(context.Context, credits.ApplyInput) (*credits.ApplyResult, error) {
					called = true
					return nil, nil
				},
			}
			resp := httptest.NewRecorder()
			ApplyCredit(svc, testLogger())(resp, jsonRequest(http.MethodPost, "/internal/v1/credits", body))
			assert.Equal(t, http.StatusBadRequest, resp.Code)
			assert.Equal(t, string(pkgerrors.CodeValidation), decodeError(t, resp).Error.Code)
			assert.False(t, called, "service must not be reached")
		})
	}
}

func TestApplyCreditMapsServiceErrors(t *testing.T) {
	svc := &testCreditsService{
		applyFn: func(context.Context, credits.ApplyInput) (*credits.ApplyResult, error) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "tenant not found")
		},
	}
	body := `{"tenant_id":"` + uuid.NewString() + `","amount":5,"transaction_type":"manual_credit","description":"goodwill"}`
	resp := httptest.NewRecorder()
	ApplyCredit(svc, testLogger())(resp, jsonRequest(http.MethodPost, "/internal/v1/credits", body))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestCreditSummaryUsesTokenTenant(t *testing.T) {
	tenantID := uuid.New()
	var params pagination.Params
	svc := &testCreditsService{
		balanceFn: func(_ context.Context, id uuid.UUID) (int64, error) {
			require.Equal(t, tenantID, id)
			return 42, nil
		},
		listPageFn: func(_ context.Context, id uuid.UUID, p pagination.Params) (*credits.TransactionPage, error) {
			require.Equal(t, tenantID, id)
			params = p
			return &credits.TransactionPage{Transactions: []models.CreditTransaction{
				{ID: uuid.New(), TenantID: id, Sequence: 2, Amount: -8, BalanceAfter: 42, Type: enums.CreditTransactionUsageDebit},
				{ID: uuid.New(), TenantID: id, Sequence: 1, Amount: 50, BalanceAfter: 50, Type: enums.CreditTransactionManualCredit},
			}}, nil
		},
	}

	req := withTenant(httptest.NewRequest(http.MethodGet, "/api/v1/credits?tenant_id="+tenantID.String(), nil), tenantID, enums.TenantRoleMember)
	resp := httptest.NewRecorder()
	CreditSummary(svc, testLogger())(resp, req)

	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, pagination.DefaultLimit, params.Limit)
	assert.Empty(t, params.Cursor)

	var payload struct {
		Balance            int64 `json:"balance"`
		RecentTransactions []struct {
			Sequence int64 `json:"sequence"`
		} `json:"recent_transactions"`
		NextCursor *string `json:"next_cursor"`
	}
	decodeData(t, resp, &payload)
	assert.Equal(t, int64(42), payload.Balance)
	require.Len(t, payload.RecentTransactions, 2)
	assert.Equal(t, int64(2), payload.RecentTransactions[0].Sequence)
	assert.Nil(t, payload.NextCursor)
}

func TestCreditSummaryPassesLimitAndCursor(t *testing.T) {
	tenantID := uuid.New()
	var params pagination.Params
	svc := &testCreditsService{
		listPageFn: func(_ context.Context, _ uuid.UUID, p pagination.Params) (*credits.TransactionPage, error) {
			params = p
			return &credits.TransactionPage{NextCursor: "next-page"}, nil
		},
	}
	req := withTenant(httptest.NewRequest(http.MethodGet, "/api/v1/credits?limit=25&cursor=abc", nil), tenantID, enums.TenantRoleMember)
	resp := httptest.NewRecorder()
	CreditSummary(svc, testLogger())(resp, req)

	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, pagination.Params{Limit: 25, Cursor: "abc"}, params)

	var payload struct {
		NextCursor string `json:"next_cursor"`
	}
	decodeData(t, resp, &payload)
	assert.Equal(t, "next-page", payload.NextCursor)
}

func TestCreditSummaryRejectsBadLimit(t *testing.T) {
	for _, limit := range []string{"0", "101", "ten"} {
		req := withTenant(httptest.NewRequest(http.MethodGet, "/api/v1/credits?limit="+limit, nil), uuid.New(), enums.TenantRoleMember)
		resp := httptest.NewRecorder()
		CreditSummary(&testCreditsService{}, testLogger())(resp, req)
		assert.Equal(t, http.StatusBadRequest, resp.Code, limit)
	}
}

func TestCreditSummaryRejectsOtherTenant(t *testing.T) {
	req := withTenant(httptest.NewRequest(http.MethodGet, "/api/v1/credits?tenant_id="+uuid.NewString(), nil), uuid.New(), enums.TenantRoleOwner)
	resp := httptest.NewRecorder()
	CreditSummary(&testCreditsService{}, testLogger())(resp, req)
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestCreditSummaryRequiresTenantContext(t *testing.T) {
	resp := httptest.NewRecorder()
	CreditSummary(&testCreditsService{}, testLogger())(resp, httptest.NewRequest(http.MethodGet, "/api/v1/credits", nil))
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestCreditSummaryRejectsMalformedTenantID(t *testing.T) {
	req := withTenant(httptest.NewRequest(http.MethodGet, "/api/v1/credits?tenant_id=abc", nil), uuid.New(), enums.TenantRoleOwner)
	resp := httptest.NewRecorder()
	CreditSummary(&testCreditsService{}, testLogger())(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
