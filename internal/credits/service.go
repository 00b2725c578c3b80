package credits

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/relaycrm-backend/pkg/db"
	"github.com/angelmondragon/relaycrm-backend/pkg/db/models"
	"github.com/angelmondragon/relaycrm-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/relaycrm-backend/pkg/errors"
	"github.com/angelmondragon/relaycrm-backend/pkg/logger"
	"github.com/angelmondragon/relaycrm-backend/pkg/metrics"
	"github.com/angelmondragon/relaycrm-backend/pkg/pagination"
)

const (
	maxDescriptionLength = 500
	maxReferenceLength   = 255
	historyPageSize      = 500
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// RechargeNotifier is told about every committed debit so the auto-recharge
// controller can re-evaluate the tenant. Implementations must not block.
type RechargeNotifier interface {
	NotifyDebit(ctx context.Context, tenantID uuid.UUID)
}

// Service is the ledger engine and balance projection.
type Service interface {
	Apply(ctx context.Context, input ApplyInput) (*ApplyResult, error)
	GetBalance(ctx context.Context, tenantID uuid.UUID) (int64, error)
	ListRecent(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.CreditTransaction, error)
	ListPage(ctx context.Context, tenantID uuid.UUID, params pagination.Params) (*TransactionPage, error)
	VerifyLedger(ctx context.Context, tenantID uuid.UUID) (*LedgerAudit, error)
	FindRecharge(ctx context.Context, tenantID uuid.UUID, referenceID string) (*models.CreditTransaction, error)
	SetRechargeNotifier(n RechargeNotifier)
}

// ApplyInput is one signed balance movement.
type ApplyInput struct {
	TenantID    uuid.UUID
	Amount      int64
	Type        enums.CreditTransactionType
	Description string
	ReferenceID *string
}

// ApplyResult carries the appended row and the balance immediately after it.
type ApplyResult struct {
	Transaction models.CreditTransaction
	Balance     int64
}

// TransactionPage is one newest-first slice of a tenant's history. NextCursor is
// empty on the last page.
type TransactionPage struct {
	Transactions []models.CreditTransaction
	NextCursor   string
}

// LedgerAudit reports whether a tenant's stored running balances agree with the log.
type LedgerAudit struct {
	TenantID            uuid.UUID
	Transactions        int64
	Sum                 int64
	LastBalanceAfter    int64
	FirstBrokenSequence *int64
	Reason              string
}

func (a *LedgerAudit) OK() bool {
	return a != nil && a.FirstBrokenSequence == nil
}

// ServiceParams wires the ledger service.
type ServiceParams struct {
	Repo     Repository
	DB       txRunner
	Logger   *logger.Logger
	Metrics  *metrics.LedgerMetrics
	Notifier RechargeNotifier
	Now      func() time.Time
}

type service struct {
	repo     Repository
	db       txRunner
	logg     *logger.Logger
	metrics  *metrics.LedgerMetrics
	notifier RechargeNotifier
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("credits repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:     params.Repo,
		db:       params.DB,
		logg:     logg,
		metrics:  params.Metrics,
		notifier: params.Notifier,
		now:      now,
	}, nil
}

func (s *service) SetRechargeNotifier(n RechargeNotifier) {
	s.notifier = n
}

func (s *service) Apply(ctx context.Context, input ApplyInput) (*ApplyResult, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	var result ApplyResult
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		if _, err := repo.LockTenant(ctx, input.TenantID); err != nil {
			if db.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "tenant not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "lock tenant")
		}

		if input.Type == enums.CreditTransactionRechargeCredit {
			existing, err := repo.FindByReference(ctx, input.TenantID, input.Type, *input.ReferenceID)
			if err == nil && existing != nil {
				return pkgerrors.New(pkgerrors.CodeConflict, "recharge already credited").
					WithDetails(map[string]any{"reference_id": *input.ReferenceID, "transaction_id": existing.ID})
			}
			if err != nil && !db.IsNotFound(err) {
				return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "check recharge reference")
			}
		}

		pos, err := repo.LatestPosition(ctx, input.TenantID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "read ledger position")
		}
		if addOverflows(pos.BalanceAfter, input.Amount) {
			return pkgerrors.New(pkgerrors.CodeValidation, "amount would overflow the balance")
		}

		row := models.CreditTransaction{
			TenantID:     input.TenantID,
			Sequence:     pos.Sequence + 1,
			Amount:       input.Amount,
			BalanceAfter: pos.BalanceAfter + input.Amount,
			Type:         input.Type,
			Description:  strings.TrimSpace(input.Description),
			ReferenceID:  input.ReferenceID,
			CreatedAt:    s.now().UTC(),
		}
		if err := repo.Insert(ctx, &row); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "concurrent ledger write")
			}
			return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "append credit transaction")
		}

		result = ApplyResult{Transaction: row, Balance: row.BalanceAfter}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveTransaction(string(input.Type), input.Amount)
	s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
		"tenant_id":        input.TenantID.String(),
		"transaction_id":   result.Transaction.ID.String(),
		"transaction_type": string(input.Type),
		"amount":           input.Amount,
		"balance":          result.Balance,
		"sequence":         result.Transaction.Sequence,
	}), "credit transaction applied")

	if input.Amount < 0 && s.notifier != nil {
		s.notifier.NotifyDebit(ctx, input.TenantID)
	}
	return &result, nil
}

func (s *service) GetBalance(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	if err := s.ensureTenant(ctx, tenantID); err != nil {
		return 0, err
	}
	total, err := s.repo.SumBalance(ctx, tenantID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "sum credit transactions")
	}
	return total, nil
}

// ListRecent returns the newest rows; limit is normalized by pagination.NormalizeLimit.
func (s *service) ListRecent(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.CreditTransaction, error) {
	page, err := s.ListPage(ctx, tenantID, pagination.Params{Limit: limit})
	if err != nil {
		return nil, err
	}
	return page.Transactions, nil
}

func (s *service) ListPage(ctx context.Context, tenantID uuid.UUID, params pagination.Params) (*TransactionPage, error) {
	if err := s.ensureTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor").
			WithDetails(map[string]any{"field": "cursor"})
	}
	var before int64
	if cursor != nil {
		before = cursor.Sequence
	}

	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.repo.ListPage(ctx, tenantID, before, pagination.LimitWithBuffer(limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "list credit transactions")
	}

	page := &TransactionPage{Transactions: rows}
	if len(rows) > limit {
		page.Transactions = rows[:limit]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{Sequence: rows[limit-1].Sequence})
	}
	return page, nil
}

func (s *service) VerifyLedger(ctx context.Context, tenantID uuid.UUID) (*LedgerAudit, error) {
	if err := s.ensureTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	audit := &LedgerAudit{TenantID: tenantID}
	var cursor int64
	for {
		page, err := s.repo.ListHistory(ctx, tenantID, cursor, historyPageSize)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "read ledger history")
		}
		for _, row := range page {
			audit.Transactions++
			audit.Sum += row.Amount
			audit.LastBalanceAfter = row.BalanceAfter
			if audit.FirstBrokenSequence != nil {
				continue
			}
			switch {
			case row.Sequence != cursor+1:
				audit.markBroken(row.Sequence, fmt.Sprintf("sequence gap: expected %d", cursor+1))
			case row.BalanceAfter != audit.Sum:
				audit.markBroken(row.Sequence, fmt.Sprintf("balance_after %d does not match running sum %d", row.BalanceAfter, audit.Sum))
			}
			cursor = row.Sequence
		}
		if len(page) < historyPageSize {
			break
		}
		cursor = page[len(page)-1].Sequence
	}
	return audit, nil
}

func (a *LedgerAudit) markBroken(sequence int64, reason string) {
	seq := sequence
	a.FirstBrokenSequence = &seq
	a.Reason = reason
}

func (s *service) FindRecharge(ctx context.Context, tenantID uuid.UUID, referenceID string) (*models.CreditTransaction, error) {
	row, err := s.repo.FindByReference(ctx, tenantID, enums.CreditTransactionRechargeCredit, referenceID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "recharge credit not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "find recharge credit")
	}
	return row, nil
}

func (s *service) ensureTenant(ctx context.Context, tenantID uuid.UUID) error {
	if tenantID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	if _, err := s.repo.FindTenant(ctx, tenantID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "tenant not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "load tenant")
	}
	return nil
}

func (in *ApplyInput) validate() error {
	if in.TenantID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	if in.Amount == 0 {
		return amountError("amount must be a non-zero integer")
	}
	if !in.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid transaction type").
			WithDetails(map[string]any{"field": "transaction_type", "value": string(in.Type)})
	}
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "description required").WithDetails(map[string]any{"field": "description"})
	}
	if len(desc) > maxDescriptionLength {
		return pkgerrors.New(pkgerrors.CodeValidation, "description too long").WithDetails(map[string]any{"field": "description"})
	}
	if in.ReferenceID != nil {
		ref := strings.TrimSpace(*in.ReferenceID)
		if ref == "" {
			in.ReferenceID = nil
		} else if len(ref) > maxReferenceLength {
			return pkgerrors.New(pkgerrors.CodeValidation, "reference id too long").WithDetails(map[string]any{"field": "reference_id"})
		} else {
			in.ReferenceID = &ref
		}
	}
	if in.Type == enums.CreditTransactionRechargeCredit {
		if in.Amount < 0 {
			return amountError("recharge credits must be positive")
		}
		if in.ReferenceID == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "recharge credits require a reference id").
				WithDetails(map[string]any{"field": "reference_id"})
		}
	}
	return nil
}

func addOverflows(a, b int64) bool {
	if b > 0 {
		return a > math.MaxInt64-b
	}
	return a < math.MinInt64-b
}
