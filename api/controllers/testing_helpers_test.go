package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/relaycrm-backend/api/middleware"
	"github.com/angelmondragon/relaycrm-backend/internal/autorecharge"
	"github.com/angelmondragon/relaycrm-backend/internal/credits"
	"github.com/angelmondragon/relaycrm-backend/pkg/db/models"
	"github.com/angelmondragon/relaycrm-backend/pkg/enums"
	"github.com/angelmondragon/relaycrm-backend/pkg/logger"
	"github.com/angelmondragon/relaycrm-backend/pkg/pagination"
)

type testCreditsService struct {
	applyFn      func(ctx context.Context, input credits.ApplyInput) (*credits.ApplyResult, error)
	balanceFn    func(ctx context.Context, tenantID uuid.UUID) (int64, error)
	listRecentFn func(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.CreditTransaction, error)
	listPageFn   func(ctx context.Context, tenantID uuid.UUID, params pagination.Params) (*credits.TransactionPage, error)
}

func (s *testCreditsService) Apply(ctx context.Context, input credits.ApplyInput) (*credits.ApplyResult, error) {
	if s.applyFn != nil {
		return s.applyFn(ctx, input)
	}
	return &credits.ApplyResult{}, nil
}

func (s *testCreditsService) GetBalance(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	if s.balanceFn != nil {
		return s.balanceFn(ctx, tenantID)
	}
	return 0, nil
}

func (s *testCreditsService) ListRecent(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.CreditTransaction, error) {
	if s.listRecentFn != nil {
		return s.listRecentFn(ctx, tenantID, limit)
	}
	return nil, nil
}

func (s *testCreditsService) ListPage(ctx context.Context, tenantID uuid.UUID, params pagination.Params) (*credits.TransactionPage, error) {
	if s.listPageFn != nil {
		return s.listPageFn(ctx, tenantID, params)
	}
	return &credits.TransactionPage{}, nil
}

func (s *testCreditsService) VerifyLedger(context.Context, uuid.UUID) (*credits.LedgerAudit, error) {
	return nil, nil
}

func (s *testCreditsService) FindRecharge(context.Context, uuid.UUID, string) (*models.CreditTransaction, error) {
	return nil, nil
}

func (s *testCreditsService) SetRechargeNotifier(credits.RechargeNotifier) {}

type testAutoRechargeService struct {
	configureFn   func(ctx context.Context, tenantID uuid.UUID, input autorecharge.SettingsInput) (*models.AutoRechargeSettings, error)
	getSettingsFn func(ctx context.Context, tenantID uuid.UUID) (*models.AutoRechargeSettings, error)
}

func (s *testAutoRechargeService) Evaluate(ctx context.Context, tenantID uuid.UUID, source enums.RechargeSource) (*autorecharge.Evaluation, error) {
	return &autorecharge.Evaluation{TenantID: tenantID, Source: source, Outcome: enums.RechargeOutcomeNotNeeded}, nil
}

func (s *testAutoRechargeService) Configure(ctx context.Context, tenantID uuid.UUID, input autorecharge.SettingsInput) (*models.AutoRechargeSettings, error) {
	if s.configureFn != nil {
		return s.configureFn(ctx, tenantID, input)
	}
	return &models.AutoRechargeSettings{TenantID: tenantID}, nil
}

func (s *testAutoRechargeService) GetSettings(ctx context.Context, tenantID uuid.UUID) (*models.AutoRechargeSettings, error) {
	if s.getSettingsFn != nil {
		return s.getSettingsFn(ctx, tenantID)
	}
	return &models.AutoRechargeSettings{TenantID: tenantID}, nil
}

type testSweeper struct {
	tenantFn func(ctx context.Context, tenantID uuid.UUID) (*autorecharge.Evaluation, error)
	allFn    func(ctx context.Context) (autorecharge.SweepSummary, error)
}

func (s *testSweeper) SweepTenant(ctx context.Context, tenantID uuid.UUID) (*autorecharge.Evaluation, error) {
	return s.tenantFn(ctx, tenantID)
}

func (s *testSweeper) SweepAll(ctx context.Context) (autorecharge.SweepSummary, error) {
	return s.allFn(ctx)
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func withTenant(req *http.Request, tenantID uuid.UUID, role enums.TenantRole) *http.Request {
	return req.WithContext(middleware.WithTenant(req.Context(), uuid.New(), tenantID, role))
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeData(t *testing.T, resp *httptest.ResponseRecorder, dest any) {
	t.Helper()
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v (%s)", err, resp.Body.String())
	}
	if err := json.Unmarshal(envelope.Data, dest); err != nil {
		t.Fatalf("unmarshal data: %v (%s)", err, string(envelope.Data))
	}
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(resp.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, resp.Body.String())
	}
	return env
}
