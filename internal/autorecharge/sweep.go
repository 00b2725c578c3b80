package autorecharge

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/angelmondragon/relaycrm-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/relaycrm-backend/pkg/errors"
	"github.com/angelmondragon/relaycrm-backend/pkg/logger"
)

const (
	defaultSweepBatchSize = 200
	defaultSweepRate      = 5
)

// SweepSummary aggregates one pass over every enabled tenant.
type SweepSummary struct {
	Evaluated   int   `json:"evaluated"`
	Triggered   int   `json:"triggered"`
	AmountAdded int64 `json:"amount_added"`
	Failed      int   `json:"failed"`
}

type sweepCandidates interface {
	ListSweepCandidates(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

// Sweeper re-evaluates tenants on a schedule or on demand. Evaluate is safe to
// repeat, so a sweep may run any number of times.
type Sweeper struct {
	candidates sweepCandidates
	eval       evaluator
	limiter    *rate.Limiter
	batchSize  int
	logg       *logger.Logger
}

type SweeperParams struct {
	Candidates sweepCandidates
	Evaluator  evaluator
	BatchSize  int
	RatePerSec float64
	Logger     *logger.Logger
}

func NewSweeper(params SweeperParams) (*Sweeper, error) {
	if params.Candidates == nil {
		return nil, fmt.Errorf("sweep candidate source required")
	}
	if params.Evaluator == nil {
		return nil, fmt.Errorf("evaluator required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}
	perSec := params.RatePerSec
	if perSec <= 0 {
		perSec = defaultSweepRate
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Sweeper{
		candidates: params.Candidates,
		eval:       params.Evaluator,
		limiter:    rate.NewLimiter(rate.Limit(perSec), 1),
		batchSize:  batch,
		logg:       logg,
	}, nil
}

// SweepTenant evaluates a single tenant.
func (s *Sweeper) SweepTenant(ctx context.Context, tenantID uuid.UUID) (*Evaluation, error) {
	return s.eval.Evaluate(ctx, tenantID, enums.RechargeSourceSweep)
}

// SweepAll walks enabled settings in tenant id order. Per-tenant failures are
// collected and do not stop the pass.
func (s *Sweeper) SweepAll(ctx context.Context) (SweepSummary, error) {
	var (
		summary SweepSummary
		errs    error
		cursor  = uuid.Nil
	)
	for {
		ids, err := s.candidates.ListSweepCandidates(ctx, cursor, s.batchSize)
		if err != nil {
			return summary, multierr.Append(errs, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "list sweep candidates"))
		}
		for _, id := range ids {
			if err := s.limiter.Wait(ctx); err != nil {
				return summary, multierr.Append(errs, err)
			}
			summary.Evaluated++
			eval, err := s.eval.Evaluate(ctx, id, enums.RechargeSourceSweep)
			if eval.Triggered() {
				summary.Triggered++
				summary.AmountAdded += eval.AmountAdded
			}
			if err != nil {
				summary.Failed++
				errs = multierr.Append(errs, fmt.Errorf("tenant %s: %w", id, err))
			}
		}
		if len(ids) < s.batchSize {
			break
		}
		cursor = ids[len(ids)-1]
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"evaluated":    summary.Evaluated,
		"triggered":    summary.Triggered,
		"amount_added": summary.AmountAdded,
		"failed":       summary.Failed,
	}), "auto-recharge sweep finished")
	return summary, errs
}
