package credits

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/relaycrm-backend/pkg/db/models"
	"github.com/angelmondragon/relaycrm-backend/pkg/enums"
)

// Position is the tail of a tenant's ledger.
type Position struct {
	Sequence     int64
	BalanceAfter int64
}

// Repository persists credit transactions. Writes are append-only; there is no
// update or delete path for ledger rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindTenant(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error)
	LockTenant(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error)
	LatestPosition(ctx context.Context, tenantID uuid.UUID) (Position, error)
	Insert(ctx context.Context, txn *models.CreditTransaction) error
	FindByReference(ctx context.Context, tenantID uuid.UUID, txType enums.CreditTransactionType, referenceID string) (*models.CreditTransaction, error)
	SumBalance(ctx context.Context, tenantID uuid.UUID) (int64, error)
	ListPage(ctx context.Context, tenantID uuid.UUID, beforeSequence int64, limit int) ([]models.CreditTransaction, error)
	ListHistory(ctx context.Context, tenantID uuid.UUID, afterSequence int64, limit int) ([]models.CreditTransaction, error)
	ListTenantIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
	ListByTypeSince(ctx context.Context, txType enums.CreditTransactionType, since time.Time, afterID uuid.UUID, limit int) ([]models.CreditTransaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a credits repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindTenant(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := r.db.WithContext(ctx).Where("id = ?", tenantID).First(&tenant).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

// LockTenant takes a row lock on the tenant for the rest of the transaction. SQLite
// ignores the locking clause; its single writer gives the same ordering.
func (r *repository) LockTenant(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", tenantID).
		First(&tenant).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (r *repository) LatestPosition(ctx context.Context, tenantID uuid.UUID) (Position, error) {
	var last models.CreditTransaction
	err := r.db.WithContext(ctx).
		Select("sequence", "balance_after").
		Where("tenant_id = ?", tenantID).
		Order("sequence DESC").
		Take(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Position{}, nil
	}
	if err != nil {
		return Position{}, err
	}
	return Position{Sequence: last.Sequence, BalanceAfter: last.BalanceAfter}, nil
}

func (r *repository) Insert(ctx context.Context, txn *models.CreditTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) FindByReference(ctx context.Context, tenantID uuid.UUID, txType enums.CreditTransactionType, referenceID string) (*models.CreditTransaction, error) {
	var txn models.CreditTransaction
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND transaction_type = ? AND reference_id = ?", tenantID, txType, referenceID).
		Take(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) SumBalance(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.CreditTransaction{}).
		Select("CAST(COALESCE(SUM(amount), 0) AS BIGINT)").
		Where("tenant_id = ?", tenantID).
		Scan(&total).Error
	return total, err
}

// ListPage returns rows newest first. beforeSequence of zero starts at the tail.
func (r *repository) ListPage(ctx context.Context, tenantID uuid.UUID, beforeSequence int64, limit int) ([]models.CreditTransaction, error) {
	query := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if beforeSequence > 0 {
		query = query.Where("sequence < ?", beforeSequence)
	}
	var rows []models.CreditTransaction
	if err := query.
		Order("sequence DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListHistory(ctx context.Context, tenantID uuid.UUID, afterSequence int64, limit int) ([]models.CreditTransaction, error) {
	var rows []models.CreditTransaction
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND sequence > ?", tenantID, afterSequence).
		Order("sequence ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListTenantIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.Tenant{}).
		Where("id > ?", after).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repository) ListByTypeSince(ctx context.Context, txType enums.CreditTransactionType, since time.Time, afterID uuid.UUID, limit int) ([]models.CreditTransaction, error) {
	var rows []models.CreditTransaction
	if err := r.db.WithContext(ctx).
		Where("transaction_type = ? AND created_at >= ? AND id > ?", txType, since.UTC(), afterID).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
