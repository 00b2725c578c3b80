package autorecharge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/relaycrm-backend/internal/credits"
	"github.com/angelmondragon/relaycrm-backend/pkg/db"
	"github.com/angelmondragon/relaycrm-backend/pkg/db/models"
	"github.com/angelmondragon/relaycrm-backend/pkg/enums"
	"github.com/angelmondragon/relaycrm-backend/pkg/logger"
	"github.com/angelmondragon/relaycrm-backend/pkg/migrate"
)

var baseTime = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newTestConn(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:recharge_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Discard,
	})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, migrate.SyncModels(conn))
	return conn
}

func seedTenant(t *testing.T, conn *gorm.DB, active, withCard bool) models.Tenant {
	t.Helper()
	tenant := models.Tenant{Name: "tenant-" + uuid.NewString()[:8], IsActive: active}
	if withCard {
		customer, card := "cust_"+uuid.NewString()[:8], "ccof_"+uuid.NewString()[:8]
		tenant.SquareCustomerID = &customer
		tenant.SquareCardID = &card
	}
	require.NoError(t, conn.Create(&tenant).Error)
	return tenant
}

func seedSettings(t *testing.T, conn *gorm.DB, tenantID uuid.UUID, minimum, amount int64, enabled bool) {
	t.Helper()
	require.NoError(t, conn.Create(&models.AutoRechargeSettings{
		TenantID:        tenantID,
		MinimumBalance:  minimum,
		RechargeAmount:  amount,
		IsEnabled:       enabled,
		CooldownSeconds: 3600,
	}).Error)
}

type fakeGateway struct {
	mu       sync.Mutex
	requests []ChargeRequest
	err      error
	status   string
}

func (g *fakeGateway) Charge(_ context.Context, req ChargeRequest) (*Charge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	status := g.status
	if status == "" {
		status = "COMPLETED"
	}
	return &Charge{ID: fmt.Sprintf("pay-%d", len(g.requests)), Status: status, AmountCents: req.AmountCents}, nil
}

func (g *fakeGateway) GetCharge(_ context.Context, chargeID string) (*Charge, error) {
	return &Charge{ID: chargeID, Status: "COMPLETED"}, nil
}

func (g *fakeGateway) calls() []ChargeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ChargeRequest(nil), g.requests...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []RechargeEvent
	err    error
}

func (p *recordingPublisher) PublishRecharge(_ context.Context, event RechargeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

var errGatewayDown = errors.New("gateway unavailable")

type harness struct {
	conn      *gorm.DB
	ledger    credits.Service
	repo      Repository
	svc       Service
	gateway   *fakeGateway
	publisher *recordingPublisher
	clock     *time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := newTestConn(t)
	ledger, err := credits.NewService(credits.ServiceParams{
		Repo: credits.NewRepository(conn),
		DB:   db.FromConn(conn),
	})
	require.NoError(t, err)

	h := &harness{
		conn:      conn,
		ledger:    ledger,
		repo:      NewRepository(conn),
		gateway:   &fakeGateway{},
		publisher: &recordingPublisher{},
	}
	clock := baseTime
	h.clock = &clock

	pricer, err := NewPricer("1.5")
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Repo:      h.repo,
		Ledger:    ledger,
		Gateway:   h.gateway,
		Publisher: h.publisher,
		Pricer:    pricer,
		Logger:    logger.Nop(),
		Now:       func() time.Time { return *h.clock },
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) credit(t *testing.T, tenantID uuid.UUID, amount int64) {
	t.Helper()
	txType := enums.CreditTransactionManualCredit
	if amount < 0 {
		txType = enums.CreditTransactionUsageDebit
	}
	_, err := h.ledger.Apply(context.Background(), credits.ApplyInput{
		TenantID:    tenantID,
		Amount:      amount,
		Type:        txType,
		Description: "test movement",
	})
	require.NoError(t, err)
}
