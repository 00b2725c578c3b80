package credits

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/relaycrm-backend/pkg/db"
	"github.com/angelmondragon/relaycrm-backend/pkg/db/models"
	"github.com/angelmondragon/relaycrm-backend/pkg/migrate"
)

func newTestConn(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:credits_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
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

func seedTenant(t *testing.T, conn *gorm.DB, active bool) models.Tenant {
	t.Helper()
	tenant := models.Tenant{Name: "tenant-" + uuid.NewString()[:8], IsActive: active}
	require.NoError(t, conn.Create(&tenant).Error)
	return tenant
}

type recordingNotifier struct {
	tenants []uuid.UUID
}

func (n *recordingNotifier) NotifyDebit(_ context.Context, tenantID uuid.UUID) {
	n.tenants = append(n.tenants, tenantID)
}

func newTestService(t *testing.T, conn *gorm.DB) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo: NewRepository(conn),
		DB:   db.FromConn(conn),
	})
	require.NoError(t, err)
	return svc
}
