package autorecharge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/relaycrm-backend/internal/credits"
	"github.com/angelmondragon/relaycrm-backend/pkg/config"
	"github.com/angelmondragon/relaycrm-backend/pkg/db"
	"github.com/angelmondragon/relaycrm-backend/pkg/db/models"
	"github.com/angelmondragon/relaycrm-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/relaycrm-backend/pkg/errors"
	"github.com/angelmondragon/relaycrm-backend/pkg/logger"
	"github.com/angelmondragon/relaycrm-backend/pkg/metrics"
)

const (
	defaultGatewayTimeout = 30 * time.Second
	creditAppendRetries   = 3
	creditAppendBackoff   = 100 * time.Millisecond
	rechargeDescription   = "Auto-recharge"
)

// Ledger is the subset of the credits service the controller needs.
type Ledger interface {
	Apply(ctx context.Context, input credits.ApplyInput) (*credits.ApplyResult, error)
	GetBalance(ctx context.Context, tenantID uuid.UUID) (int64, error)
}

// Evaluation is the result of one pass of the controller for one tenant.
type Evaluation struct {
	TenantID    uuid.UUID
	Source      enums.RechargeSource
	Outcome     enums.RechargeOutcome
	Balance     int64
	AmountAdded int64
	ChargeID    string
}

// Triggered reports whether this evaluation won the claim.
func (e *Evaluation) Triggered() bool {
	return e != nil && e.Outcome.Triggered()
}

// SettingsInput is a tenant's requested configuration. A nil Cooldown keeps the
// existing value, or the default for new rows.
type SettingsInput struct {
	MinimumBalance int64
	RechargeAmount int64
	IsEnabled      bool
	Cooldown       *time.Duration
}

// Service is the auto-recharge controller.
type Service interface {
	Evaluate(ctx context.Context, tenantID uuid.UUID, source enums.RechargeSource) (*Evaluation, error)
	Configure(ctx context.Context, tenantID uuid.UUID, input SettingsInput) (*models.AutoRechargeSettings, error)
	GetSettings(ctx context.Context, tenantID uuid.UUID) (*models.AutoRechargeSettings, error)
}

type ServiceParams struct {
	Repo            Repository
	Ledger          Ledger
	Gateway         Gateway
	Publisher       EventPublisher
	Pricer          Pricer
	Logger          *logger.Logger
	Metrics         *metrics.LedgerMetrics
	DefaultCooldown time.Duration
	GatewayTimeout  time.Duration
	Now             func() time.Time
}

type service struct {
	repo            Repository
	ledger          Ledger
	gateway         Gateway
	publisher       EventPublisher
	pricer          Pricer
	logg            *logger.Logger
	metrics         *metrics.LedgerMetrics
	defaultCooldown time.Duration
	gatewayTimeout  time.Duration
	now             func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("auto-recharge repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	cooldown := params.DefaultCooldown
	if cooldown <= 0 {
		cooldown = time.Hour
	}
	if cooldown < config.MinRechargeCooldown {
		return nil, fmt.Errorf("default cooldown must be at least %s", config.MinRechargeCooldown)
	}
	if cooldown > config.MaxRechargeCooldown {
		return nil, fmt.Errorf("default cooldown must be at most %s", config.MaxRechargeCooldown)
	}
	timeout := params.GatewayTimeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	pricer := params.Pricer
	if pricer.perCredit.IsZero() {
		pricer, _ = NewPricer("1")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:            params.Repo,
		ledger:          params.Ledger,
		gateway:         params.Gateway,
		publisher:       params.Publisher,
		pricer:          pricer,
		logg:            params.Logger,
		metrics:         params.Metrics,
		defaultCooldown: cooldown,
		gatewayTimeout:  timeout,
		now:             now,
	}, nil
}

func (s *service) Evaluate(ctx context.Context, tenantID uuid.UUID, source enums.RechargeSource) (*Evaluation, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"tenant_id": tenantID.String(), "recharge_source": string(source)})
	eval := &Evaluation{TenantID: tenantID, Source: source, Outcome: enums.RechargeOutcomeNotNeeded}

	tenant, err := s.repo.FindTenant(ctx, tenantID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "tenant not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "load tenant")
	}

	balance, err := s.ledger.GetBalance(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	eval.Balance = balance

	if !tenant.IsActive {
		return s.finish(ctx, eval), nil
	}

	settings, err := s.repo.GetSettings(ctx, tenantID)
	if err != nil {
		if db.IsNotFound(err) {
			return s.finish(ctx, eval), nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "load auto-recharge settings")
	}
	if !settings.IsEnabled || !settings.NeedsRecharge(balance) {
		return s.finish(ctx, eval), nil
	}

	now := s.now().UTC()
	if settings.CoolingAt(now) {
		eval.Outcome = enums.RechargeOutcomeCooling
		return s.finish(ctx, eval), nil
	}

	if s.gateway == nil {
		s.logg.Warn(ctx, "auto-recharge needed but no payment gateway is configured")
		return s.finish(ctx, eval), nil
	}

	won, err := s.repo.Claim(ctx, tenantID, settings.CooldownSeconds, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "claim auto-recharge")
	}
	if !won {
		eval.Outcome = enums.RechargeOutcomeConflict
		return s.finish(ctx, eval), nil
	}

	rechargeCredits := settings.RechargeAmount
	amountCents := s.pricer.AmountCents(rechargeCredits)
	charge, err := s.charge(ctx, ChargeRequest{
		TenantID:       tenantID,
		Credits:        rechargeCredits,
		AmountCents:    amountCents,
		IdempotencyKey: idempotencyKey(tenantID, now),
		CustomerID:     stringValue(tenant.SquareCustomerID),
		SourceID:       stringValue(tenant.SquareCardID),
	})
	if err != nil {
		eval.Outcome = enums.RechargeOutcomeChargeFailed
		if charge != nil {
			eval.ChargeID = charge.ID
		}
		s.logg.Error(s.logg.WithFields(ctx, pkgerrors.Dump(err).Fields()), "auto-recharge charge failed; claim kept until cooldown expires", err)
		s.publish(ctx, eval, rechargeCredits, amountCents, err)
		s.finish(ctx, eval)
		return eval, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment gateway charge failed")
	}

	eval.ChargeID = charge.ID
	eval.Outcome = enums.RechargeOutcomeCharged
	result, err := s.appendCredit(ctx, tenantID, rechargeCredits, charge.ID)
	if err != nil {
		// The card was charged; the reconcile job and the event below let ops repair it.
		s.logg.Error(s.logg.WithFields(ctx, map[string]any{"charge_id": charge.ID, "credits": rechargeCredits}), "auto-recharge credit append failed after successful charge", err)
		s.publish(ctx, eval, rechargeCredits, amountCents, err)
		s.finish(ctx, eval)
		return eval, err
	}

	eval.AmountAdded = rechargeCredits
	eval.Balance = result.Balance
	s.publish(ctx, eval, rechargeCredits, amountCents, nil)
	return s.finish(ctx, eval), nil
}

func (s *service) charge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	chargeCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	return s.gateway.Charge(chargeCtx, req)
}

// appendCredit records the recharge. Only persistence failures are retried; a
// conflict means an earlier attempt already committed the same charge.
func (s *service) appendCredit(ctx context.Context, tenantID uuid.UUID, amount int64, chargeID string) (*credits.ApplyResult, error) {
	ref := chargeID
	input := credits.ApplyInput{
		TenantID:    tenantID,
		Amount:      amount,
		Type:        enums.CreditTransactionRechargeCredit,
		Description: rechargeDescription,
		ReferenceID: &ref,
	}

	var result *credits.ApplyResult
	backoff := retry.WithMaxRetries(creditAppendRetries, retry.NewExponential(creditAppendBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		res, err := s.ledger.Apply(ctx, input)
		if err == nil {
			result = res
			return nil
		}
		if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
			balance, balErr := s.ledger.GetBalance(ctx, tenantID)
			if balErr != nil {
				return balErr
			}
			result = &credits.ApplyResult{Balance: balance}
			return nil
		}
		if pkgerrors.IsCode(err, pkgerrors.CodePersistence) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) publish(ctx context.Context, eval *Evaluation, amount, amountCents int64, cause error) {
	if s.publisher == nil {
		return
	}
	event := RechargeEvent{
		Version:     1,
		EventID:     uuid.NewString(),
		EventType:   EventRechargeCharged,
		OccurredAt:  s.now().UTC(),
		TenantID:    eval.TenantID,
		Source:      eval.Source,
		Outcome:     eval.Outcome,
		Credits:     amount,
		AmountCents: amountCents,
		ChargeID:    eval.ChargeID,
		Balance:     eval.Balance,
	}
	if cause != nil {
		event.EventType = EventRechargeFailed
		event.Error = cause.Error()
	}
	if err := s.publisher.PublishRecharge(ctx, event); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "failed to publish recharge event")
	}
}

func (s *service) finish(ctx context.Context, eval *Evaluation) *Evaluation {
	s.metrics.ObserveRecharge(string(eval.Outcome), string(eval.Source), eval.AmountAdded)
	s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
		"outcome":      string(eval.Outcome),
		"balance":      eval.Balance,
		"amount_added": eval.AmountAdded,
	}), "auto-recharge evaluated")
	return eval
}

func (s *service) Configure(ctx context.Context, tenantID uuid.UUID, input SettingsInput) (*models.AutoRechargeSettings, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	if input.MinimumBalance < 0 {
		return nil, fieldError("minimum_balance", "minimum balance must not be negative")
	}
	if input.RechargeAmount <= 0 {
		return nil, fieldError("recharge_amount", "recharge amount must be positive")
	}

	tenant, err := s.repo.FindTenant(ctx, tenantID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "tenant not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "load tenant")
	}
	if input.IsEnabled && !tenant.HasPaymentSource() {
		return nil, fieldError("is_enabled", "a card on file is required to enable auto-recharge")
	}

	cooldown := s.defaultCooldown
	existing, err := s.repo.GetSettings(ctx, tenantID)
	switch {
	case err == nil:
		cooldown = existing.Cooldown()
	case !db.IsNotFound(err):
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "load auto-recharge settings")
	}
	if input.Cooldown != nil {
		cooldown = *input.Cooldown
	}
	if cooldown < config.MinRechargeCooldown {
		return nil, fieldError("cooldown_seconds", fmt.Sprintf("cooldown must be at least %s", config.MinRechargeCooldown))
	}
	if cooldown > config.MaxRechargeCooldown {
		return nil, fieldError("cooldown_seconds", fmt.Sprintf("cooldown must be at most %s", config.MaxRechargeCooldown))
	}

	settings := &models.AutoRechargeSettings{
		TenantID:        tenantID,
		MinimumBalance:  input.MinimumBalance,
		RechargeAmount:  input.RechargeAmount,
		IsEnabled:       input.IsEnabled,
		CooldownSeconds: int64(cooldown / time.Second),
	}
	if err := s.repo.UpsertSettings(ctx, settings); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "save auto-recharge settings")
	}
	return s.GetSettings(ctx, tenantID)
}

func (s *service) GetSettings(ctx context.Context, tenantID uuid.UUID) (*models.AutoRechargeSettings, error) {
	settings, err := s.repo.GetSettings(ctx, tenantID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "auto-recharge not configured")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "load auto-recharge settings")
	}
	return settings, nil
}

func fieldError(field, msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(map[string]any{"field": field})
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
