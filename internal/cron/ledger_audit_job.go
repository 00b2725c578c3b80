package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/relaycrm-backend/internal/credits"
	"github.com/angelmondragon/relaycrm-backend/pkg/logger"
	"github.com/angelmondragon/relaycrm-backend/pkg/metrics"
)

const defaultAuditBatch = 500

type tenantLister interface {
	ListTenantIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

type ledgerVerifier interface {
	VerifyLedger(ctx context.Context, tenantID uuid.UUID) (*credits.LedgerAudit, error)
}

type LedgerAuditJobParams struct {
	Logger    *logger.Logger
	Tenants   tenantLister
	Ledger    ledgerVerifier
	Metrics   *metrics.LedgerMetrics
	BatchSize int
}

func NewLedgerAuditJob(params LedgerAuditJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Tenants == nil {
		return nil, fmt.Errorf("tenant lister required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultAuditBatch
	}
	return &ledgerAuditJob{
		logg:    params.Logger,
		tenants: params.Tenants,
		ledger:  params.Ledger,
		metrics: params.Metrics,
		batch:   batch,
	}, nil
}

type ledgerAuditJob struct {
	logg    *logger.Logger
	tenants tenantLister
	ledger  ledgerVerifier
	metrics *metrics.LedgerMetrics
	batch   int
}

func (j *ledgerAuditJob) Name() string { return "ledger-audit" }

func (j *ledgerAuditJob) Run(ctx context.Context) error {
	var (
		errs    error
		cursor  = uuid.Nil
		audited int
		broken  int
	)
	for {
		ids, err := j.tenants.ListTenantIDs(ctx, cursor, j.batch)
		if err != nil {
			return multierr.Append(errs, fmt.Errorf("list tenants: %w", err))
		}
		for _, id := range ids {
			audit, err := j.ledger.VerifyLedger(ctx, id)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("verify tenant %s: %w", id, err))
				continue
			}
			audited++
			if audit.OK() {
				continue
			}
			broken++
			j.metrics.IncAuditFailure()
			j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
				"tenant_id":          id.String(),
				"broken_sequence":    *audit.FirstBrokenSequence,
				"reason":             audit.Reason,
				"sum":                audit.Sum,
				"last_balance_after": audit.LastBalanceAfter,
			}), "ledger audit mismatch")
			errs = multierr.Append(errs, fmt.Errorf("tenant %s ledger broken at sequence %d: %s", id, *audit.FirstBrokenSequence, audit.Reason))
		}
		if len(ids) < j.batch {
			break
		}
		cursor = ids[len(ids)-1]
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"audited": audited,
		"broken":  broken,
	}), "ledger audit complete")
	return errs
}
