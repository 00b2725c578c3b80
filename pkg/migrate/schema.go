package migrate

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/relaycrm-backend/pkg/db/models"
)

// sqliteIndexes mirror the constraints the goose migrations create that gorm tags
// cannot express.
var sqliteIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_credit_transactions_recharge_reference
		ON credit_transactions (tenant_id, reference_id)
		WHERE transaction_type = 'recharge_credit'`,
	`CREATE INDEX IF NOT EXISTS idx_credit_transactions_tenant_created
		ON credit_transactions (tenant_id, created_at DESC, sequence DESC)`,
}

// SyncModels builds the schema from the gorm models. It is used for SQLite (local
// dev and tests); Postgres environments run the goose migrations instead.
func SyncModels(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db is required")
	}
	if err := conn.AutoMigrate(
		&models.Tenant{},
		&models.CreditTransaction{},
		&models.AutoRechargeSettings{},
	); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	for _, stmt := range sqliteIndexes {
		if err := conn.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}
