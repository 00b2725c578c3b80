package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Tenant is the organization that owns a credit ledger. Rows are created at signup
// and soft-deactivated, never deleted.
type Tenant struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name             string    `gorm:"column:name;not null"`
	IsActive         bool      `gorm:"column:is_active;not null"`
	SquareCustomerID *string   `gorm:"column:square_customer_id"`
	SquareCardID     *string   `gorm:"column:square_card_id"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Tenant) TableName() string { return "tenants" }

func (t *Tenant) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// HasPaymentSource reports whether a card on file is available for recharges.
func (t *Tenant) HasPaymentSource() bool {
	return t != nil && t.SquareCardID != nil && *t.SquareCardID != ""
}
