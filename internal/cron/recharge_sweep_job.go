package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/relaycrm-backend/internal/autorecharge"
	"github.com/angelmondragon/relaycrm-backend/pkg/logger"
)

type sweeper interface {
	SweepAll(ctx context.Context) (autorecharge.SweepSummary, error)
}

// RechargeSweepJobParams configures the periodic auto-recharge sweep.
type RechargeSweepJobParams struct {
	Logger  *logger.Logger
	Sweeper sweeper
}

func NewRechargeSweepJob(params RechargeSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("sweeper required")
	}
	return &rechargeSweepJob{logg: params.Logger, sweeper: params.Sweeper}, nil
}

type rechargeSweepJob struct {
	logg    *logger.Logger
	sweeper sweeper
}

func (j *rechargeSweepJob) Name() string { return "recharge-sweep" }

func (j *rechargeSweepJob) Run(ctx context.Context) error {
	summary, err := j.sweeper.SweepAll(ctx)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"evaluated":    summary.Evaluated,
		"triggered":    summary.Triggered,
		"amount_added": summary.AmountAdded,
		"failed":       summary.Failed,
	}), "recharge sweep summary")
	if err != nil {
		return fmt.Errorf("recharge sweep: %w", err)
	}
	return nil
}
