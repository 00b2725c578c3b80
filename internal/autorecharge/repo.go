package autorecharge

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/relaycrm-backend/pkg/db/models"
)

// Repository persists auto-recharge settings and the cooldown claim.
type Repository interface {
	FindTenant(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error)
	GetSettings(ctx context.Context, tenantID uuid.UUID) (*models.AutoRechargeSettings, error)
	UpsertSettings(ctx context.Context, settings *models.AutoRechargeSettings) error
	Claim(ctx context.Context, tenantID uuid.UUID, cooldownSeconds int64, now time.Time) (bool, error)
	ListSweepCandidates(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindTenant(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := r.db.WithContext(ctx).Where("id = ?", tenantID).First(&tenant).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (r *repository) GetSettings(ctx context.Context, tenantID uuid.UUID) (*models.AutoRechargeSettings, error) {
	var settings models.AutoRechargeSettings
	if err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&settings).Error; err != nil {
		return nil, err
	}
	return &settings, nil
}

// UpsertSettings writes the tenant-editable columns. last_triggered_at is owned by
// Claim and is never overwritten here.
func (r *repository) UpsertSettings(ctx context.Context, settings *models.AutoRechargeSettings) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "tenant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"minimum_balance",
				"recharge_amount",
				"is_enabled",
				"cooldown_seconds",
				"updated_at",
			}),
		}).
		Omit("last_triggered_at").
		Create(settings).Error
}

// Claim is the compare-and-swap on last_triggered_at. It succeeds only when the
// row is still enabled, the cooldown has not changed since it was read, and the
// previous trigger is outside the window. Exactly one concurrent caller wins.
func (r *repository) Claim(ctx context.Context, tenantID uuid.UUID, cooldownSeconds int64, now time.Time) (bool, error) {
	now = now.UTC()
	cutoff := now.Add(-time.Duration(cooldownSeconds) * time.Second)
	res := r.db.WithContext(ctx).
		Model(&models.AutoRechargeSettings{}).
		Where("tenant_id = ? AND is_enabled = ? AND cooldown_seconds = ?", tenantID, true, cooldownSeconds).
		Where("(last_triggered_at IS NULL OR last_triggered_at <= ?)", cutoff).
		Updates(map[string]any{
			"last_triggered_at": now,
			"updated_at":        now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListSweepCandidates pages enabled settings of active tenants by tenant id.
func (r *repository) ListSweepCandidates(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.AutoRechargeSettings{}).
		Joins("JOIN tenants ON tenants.id = auto_recharge_settings.tenant_id").
		Where("auto_recharge_settings.is_enabled = ? AND tenants.is_active = ?", true, true).
		Where("auto_recharge_settings.tenant_id > ?", after).
		Order("auto_recharge_settings.tenant_id ASC").
		Limit(limit).
		Pluck("auto_recharge_settings.tenant_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
