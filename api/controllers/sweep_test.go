package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/angelmondragon/relaycrm-backend/internal/autorecharge"
	"github.com/angelmondragon/relaycrm-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/relaycrm-backend/pkg/errors"
)

func TestRechargeSweepSingleTenant(t *testing.T) {
	tenantID := uuid.New()
	sweeper := &testSweeper{
		tenantFn: func(_ context.Context, id uuid.UUID) (*autorecharge.Evaluation, error) {
			require.Equal(t, tenantID, id)
			return &autorecharge.Evaluation{
				TenantID:    id,
				Outcome:     enums.RechargeOutcomeCharged,
				Balance:     510,
				AmountAdded: 500,
			}, nil
		},
	}
	resp := httptest.NewRecorder()
	RechargeSweep(sweeper, testLogger())(resp, jsonRequest(http.MethodPost, "/internal/v1/auto-recharge/sweep", `{"tenant_id":"`+tenantID.String()+`"}`))

	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var payload sweepTenantResponse
	decodeData(t, resp, &payload)
	assert.Equal(t, sweepTenantResponse{Triggered: true, AmountAdded: 500, Outcome: "charged", Balance: 510}, payload)
}

func TestRechargeSweepAllWithEmptyBody(t *testing.T) {
	sweeper := &testSweeper{
		allFn: func(context.Context) (autorecharge.SweepSummary, error) {
			return autorecharge.SweepSummary{Evaluated: 4, Triggered: 1, AmountAdded: 300}, nil
		},
	}
	for _, body := range []string{"", "{}"} {
		resp := httptest.NewRecorder()
		RechargeSweep(sweeper, testLogger())(resp, jsonRequest(http.MethodPost, "/internal/v1/auto-recharge/sweep", body))
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

		var payload autorecharge.SweepSummary
		decodeData(t, resp, &payload)
		assert.Equal(t, 4, payload.Evaluated)
		assert.Equal(t, int64(300), payload.AmountAdded)
	}
}

func TestRechargeSweepAllPartialFailureStillReportsSummary(t *testing.T) {
	sweeper := &testSweeper{
		allFn: func(context.Context) (autorecharge.SweepSummary, error) {
			return autorecharge.SweepSummary{Evaluated: 2, Failed: 1}, multierr.Append(nil, errors.New("tenant x: gateway down"))
		},
	}
	resp := httptest.NewRecorder()
	RechargeSweep(sweeper, testLogger())(resp, jsonRequest(http.MethodPost, "/internal/v1/auto-recharge/sweep", ""))
	require.Equal(t, http.StatusOK, resp.Code)

	var payload autorecharge.SweepSummary
	decodeData(t, resp, &payload)
	assert.Equal(t, 1, payload.Failed)
}

func TestRechargeSweepAllListFailure(t *testing.T) {
	sweeper := &testSweeper{
		allFn: func(context.Context) (autorecharge.SweepSummary, error) {
			return autorecharge.SweepSummary{}, pkgerrors.Wrap(pkgerrors.CodePersistence, errors.New("db down"), "list sweep candidates")
		},
	}
	resp := httptest.NewRecorder()
	RechargeSweep(sweeper, testLogger())(resp, jsonRequest(http.MethodPost, "/internal/v1/auto-recharge/sweep", ""))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestRechargeSweepRejectsBadTenantID(t *testing.T) {
	resp := httptest.NewRecorder()
	RechargeSweep(&testSweeper{}, testLogger())(resp, jsonRequest(http.MethodPost, "/internal/v1/auto-recharge/sweep", `{"tenant_id":"nope"}`))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestRechargeSweepSurfacesGatewayFailure(t *testing.T) {
	sweeper := &testSweeper{
		tenantFn: func(_ context.Context, id uuid.UUID) (*autorecharge.Evaluation, error) {
			return &autorecharge.Evaluation{TenantID: id, Outcome: enums.RechargeOutcomeChargeFailed},
				pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("card declined"), "payment gateway charge failed")
		},
	}
	resp := httptest.NewRecorder()
	RechargeSweep(sweeper, testLogger())(resp, jsonRequest(http.MethodPost, "/internal/v1/auto-recharge/sweep", `{"tenant_id":"`+uuid.NewString()+`"}`))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}
