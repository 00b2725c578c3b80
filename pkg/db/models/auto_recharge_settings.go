package models

import (
	"time"

	"github.com/google/uuid"
)

// AutoRechargeSettings holds one tenant's threshold/top-up configuration.
// LastTriggeredAt is the single serialization point for recharge claims.
type AutoRechargeSettings struct {
	TenantID        uuid.UUID  `gorm:"column:tenant_id;type:uuid;primaryKey"`
	MinimumBalance  int64      `gorm:"column:minimum_balance;not null"`
	RechargeAmount  int64      `gorm:"column:recharge_amount;not null"`
	IsEnabled       bool       `gorm:"column:is_enabled;not null"`
	LastTriggeredAt *time.Time `gorm:"column:last_triggered_at"`
	CooldownSeconds int64      `gorm:"column:cooldown_seconds;not null"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (AutoRechargeSettings) TableName() string { return "auto_recharge_settings" }

func (s AutoRechargeSettings) Cooldown() time.Duration {
	return time.Duration(s.CooldownSeconds) * time.Second
}

// CoolingAt reports whether a previous trigger is still inside the cooldown window.
func (s AutoRechargeSettings) CoolingAt(now time.Time) bool {
	if s.LastTriggeredAt == nil {
		return false
	}
	return now.Sub(*s.LastTriggeredAt) < s.Cooldown()
}

// NeedsRecharge reports whether balance is at or below the configured threshold.
func (s AutoRechargeSettings) NeedsRecharge(balance int64) bool {
	return balance <= s.MinimumBalance
}
