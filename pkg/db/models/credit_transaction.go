package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/relaycrm-backend/pkg/enums"
)

// CreditTransaction is one immutable, signed movement in a tenant's credit ledger.
// Sequence is gapless per tenant and BalanceAfter is the running sum up to and
// including this row; both are assigned while the tenant row is locked.
type CreditTransaction struct {
	ID           uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	TenantID     uuid.UUID                   `gorm:"column:tenant_id;type:uuid;not null;uniqueIndex:ux_credit_transactions_tenant_sequence,priority:1"`
	Sequence     int64                       `gorm:"column:sequence;not null;uniqueIndex:ux_credit_transactions_tenant_sequence,priority:2"`
	Amount       int64                       `gorm:"column:amount;not null"`
	BalanceAfter int64                       `gorm:"column:balance_after;not null"`
	Type         enums.CreditTransactionType `gorm:"column:transaction_type;type:text;not null;index"`
	Description  string                      `gorm:"column:description;not null"`
	ReferenceID  *string                     `gorm:"column:reference_id;index"`
	CreatedAt    time.Time                   `gorm:"column:created_at;not null"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }

func (t *CreditTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	return nil
}
