package autorecharge

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/angelmondragon/relaycrm-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/relaycrm-backend/pkg/errors"
	"github.com/angelmondragon/relaycrm-backend/pkg/logger"
	"github.com/angelmondragon/relaycrm-backend/pkg/metrics"
)

type evaluator interface {
	Evaluate(ctx context.Context, tenantID uuid.UUID, source enums.RechargeSource) (*Evaluation, error)
}

// AsyncTrigger evaluates a tenant in the background after each committed debit.
// When every slot is busy the evaluation is dropped and left for the sweep.
type AsyncTrigger struct {
	eval    evaluator
	sem     *semaphore.Weighted
	timeout time.Duration
	logg    *logger.Logger
	metrics *metrics.LedgerMetrics
	wg      sync.WaitGroup
}

type TriggerParams struct {
	Evaluator   evaluator
	Concurrency int64
	Timeout     time.Duration
	Logger      *logger.Logger
	Metrics     *metrics.LedgerMetrics
}

func NewAsyncTrigger(params TriggerParams) *AsyncTrigger {
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = 16
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &AsyncTrigger{
		eval:    params.Evaluator,
		sem:     semaphore.NewWeighted(concurrency),
		timeout: timeout,
		logg:    logg,
		metrics: params.Metrics,
	}
}

// NotifyDebit never blocks the caller.
func (t *AsyncTrigger) NotifyDebit(ctx context.Context, tenantID uuid.UUID) {
	if t == nil || t.eval == nil {
		return
	}
	if !t.sem.TryAcquire(1) {
		t.metrics.IncTriggerDropped()
		t.logg.Warn(t.logg.WithTenantID(ctx, tenantID.String()), "auto-recharge inline pool full; deferring to sweep")
		return
	}

	// The request that caused the debit is about to finish; keep its values, not its deadline.
	detached := context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.sem.Release(1)

		evalCtx, cancel := context.WithTimeout(detached, t.timeout)
		defer cancel()

		if _, err := t.eval.Evaluate(evalCtx, tenantID, enums.RechargeSourceDebit); err != nil {
			fields := pkgerrors.Dump(err).Fields()
			fields["tenant_id"] = tenantID.String()
			t.logg.Error(t.logg.WithFields(evalCtx, fields), "post-debit auto-recharge evaluation failed", err)
		}
	}()
}

// Wait blocks until every in-flight evaluation has returned.
func (t *AsyncTrigger) Wait() {
	if t == nil {
		return
	}
	t.wg.Wait()
}
