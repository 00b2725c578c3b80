package autorecharge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	sq "github.com/square/square-go-sdk"

	pkgerrors "github.com/angelmondragon/relaycrm-backend/pkg/errors"
	"github.com/angelmondragon/relaycrm-backend/pkg/square"
)

// ChargeRequest asks the gateway to charge the tenant's card on file.
type ChargeRequest struct {
	TenantID       uuid.UUID
	Credits        int64
	AmountCents    int64
	IdempotencyKey string
	CustomerID     string
	SourceID       string
}

// Charge is the gateway's confirmation of a payment.
type Charge struct {
	ID          string
	Status      string
	AmountCents int64
}

// Settled reports whether the payment was captured. APPROVED is only an
// authorization and does not count.
func (c *Charge) Settled() bool {
	return c != nil && strings.EqualFold(c.Status, "COMPLETED")
}

// Gateway is the charge-and-confirm contract. Charge must be idempotent on
// IdempotencyKey: replays return the original charge.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*Charge, error)
	GetCharge(ctx context.Context, chargeID string) (*Charge, error)
}

type squarePayments interface {
	CreatePayment(ctx context.Context, params square.PaymentCreateParams) (*sq.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*sq.Payment, error)
}

// SquareGateway charges stored cards through the Square Payments API.
type SquareGateway struct {
	client squarePayments
}

func NewSquareGateway(client squarePayments) (*SquareGateway, error) {
	if client == nil {
		return nil, fmt.Errorf("square client required")
	}
	return &SquareGateway{client: client}, nil
}

func (g *SquareGateway) Charge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	if req.SourceID == "" || req.CustomerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant has no card on file")
	}
	if req.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "charge amount must be positive")
	}
	payment, err := g.client.CreatePayment(ctx, square.PaymentCreateParams{
		AmountCents:    req.AmountCents,
		CustomerID:     req.CustomerID,
		SourceID:       req.SourceID,
		IdempotencyKey: req.IdempotencyKey,
		ReferenceID:    req.TenantID.String(),
		Note:           fmt.Sprintf("Auto-recharge of %d credits", req.Credits),
	})
	if err != nil {
		return nil, err
	}
	charge := chargeFromPayment(payment)
	if charge.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square returned a payment without id")
	}
	if !charge.Settled() {
		return charge, pkgerrors.New(pkgerrors.CodeDependency, "payment not completed").
			WithDetails(map[string]any{"status": charge.Status})
	}
	return charge, nil
}

func (g *SquareGateway) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	payment, err := g.client.GetPayment(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	return chargeFromPayment(payment), nil
}

func chargeFromPayment(p *sq.Payment) *Charge {
	if p == nil {
		return &Charge{}
	}
	charge := &Charge{}
	if id := p.GetID(); id != nil {
		charge.ID = *id
	}
	if status := p.GetStatus(); status != nil {
		charge.Status = *status
	}
	if money := p.GetAmountMoney(); money != nil && money.GetAmount() != nil {
		charge.AmountCents = *money.GetAmount()
	}
	return charge
}

// Pricer converts credits to the money amount charged for them.
type Pricer struct {
	perCredit decimal.Decimal
}

// NewPricer parses the per-credit price in cents ("1", "0.5", ...).
func NewPricer(centsPerCredit string) (Pricer, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(centsPerCredit))
	if err != nil {
		return Pricer{}, fmt.Errorf("parse credit price %q: %w", centsPerCredit, err)
	}
	if !d.IsPositive() {
		return Pricer{}, fmt.Errorf("credit price must be positive, got %s", d)
	}
	return Pricer{perCredit: d}, nil
}

// AmountCents rounds partial cents up so a recharge is never undercharged.
func (p Pricer) AmountCents(credits int64) int64 {
	return decimal.NewFromInt(credits).Mul(p.perCredit).Ceil().IntPart()
}

// idempotencyKey is stable for one claim so gateway retries within that claim
// cannot produce a second payment. Square caps keys at 45 characters.
func idempotencyKey(tenantID uuid.UUID, claimedAt time.Time) string {
	compact := strings.ReplaceAll(tenantID.String(), "-", "")
	return "rc-" + compact + "-" + strconv.FormatInt(claimedAt.UTC().Unix(), 36)
}
