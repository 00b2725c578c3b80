package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/relaycrm-backend/internal/autorecharge"
	"github.com/angelmondragon/relaycrm-backend/pkg/db/models"
	"github.com/angelmondragon/relaycrm-backend/pkg/enums"
	"github.com/angelmondragon/relaycrm-backend/pkg/logger"
)

const (
	defaultReconcileBatch    = 250
	defaultReconcileLookback = 72 * time.Hour
)

type rechargeCredits interface {
	ListByTypeSince(ctx context.Context, txType enums.CreditTransactionType, since time.Time, afterID uuid.UUID, limit int) ([]models.CreditTransaction, error)
}

type chargeLookup interface {
	GetCharge(ctx context.Context, chargeID string) (*autorecharge.Charge, error)
}

// RechargeReconcileJobParams configures the check of recent recharge credits
// against the payment gateway.
type RechargeReconcileJobParams struct {
	Logger    *logger.Logger
	Credits   rechargeCredits
	Gateway   chargeLookup
	BatchSize int
	Lookback  time.Duration
	Now       func() time.Time
}

func NewRechargeReconcileJob(params RechargeReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Credits == nil {
		return nil, fmt.Errorf("credit repository required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultReconcileLookback
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	return &rechargeReconcileJob{
		logg:     params.Logger,
		credits:  params.Credits,
		gateway:  params.Gateway,
		batch:    batch,
		lookback: lookback,
		now:      now,
	}, nil
}

type rechargeReconcileJob struct {
	logg     *logger.Logger
	credits  rechargeCredits
	gateway  chargeLookup
	batch    int
	lookback time.Duration
	now      func() time.Time
}

func (j *rechargeReconcileJob) Name() string { return "recharge-reconcile" }

// Run confirms that every recharge credit in the lookback window points at a
// settled charge. Mismatches are reported, never auto-corrected.
func (j *rechargeReconcileJob) Run(ctx context.Context) error {
	since := j.now().UTC().Add(-j.lookback)
	var (
		errs     error
		cursor   = uuid.Nil
		checked  int
		mismatch int
	)
	for {
		rows, err := j.credits.ListByTypeSince(ctx, enums.CreditTransactionRechargeCredit, since, cursor, j.batch)
		if err != nil {
			return multierr.Append(errs, fmt.Errorf("list recharge credits: %w", err))
		}
		for i := range rows {
			checked++
			if err := j.reconcile(ctx, &rows[i]); err != nil {
				mismatch++
				errs = multierr.Append(errs, err)
			}
		}
		if len(rows) < j.batch {
			break
		}
		cursor = rows[len(rows)-1].ID
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"checked":    checked,
		"mismatched": mismatch,
		"since":      since.Format(time.RFC3339),
	}), "recharge reconcile loop complete")
	return errs
}

func (j *rechargeReconcileJob) reconcile(ctx context.Context, row *models.CreditTransaction) error {
	if row.ReferenceID == nil || *row.ReferenceID == "" {
		return fmt.Errorf("recharge credit %s has no charge reference", row.ID)
	}
	chargeID := *row.ReferenceID
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"tenant_id":      row.TenantID.String(),
		"transaction_id": row.ID.String(),
		"charge_id":      chargeID,
	})
	charge, err := j.gateway.GetCharge(logCtx, chargeID)
	if err != nil {
		return fmt.Errorf("fetch charge %s: %w", chargeID, err)
	}
	if !charge.Settled() {
		j.logg.Warn(j.logg.WithField(logCtx, "charge_status", charge.Status), "recharge credit backed by an unsettled charge")
		return fmt.Errorf("charge %s for transaction %s is %s", chargeID, row.ID, charge.Status)
	}
	return nil
}
