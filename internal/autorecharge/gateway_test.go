package autorecharge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/relaycrm-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/relaycrm-backend/pkg/errors"
	"github.com/angelmondragon/relaycrm-backend/pkg/square"
)

type fakeSquarePayments struct {
	created []square.PaymentCreateParams
	status  string
	err     error
}

func (f *fakeSquarePayments) CreatePayment(_ context.Context, params square.PaymentCreateParams) (*sq.Payment, error) {
	f.created = append(f.created, params)
	if f.err != nil {
		return nil, f.err
	}
	id, status, amount := "sq-pay-1", f.status, params.AmountCents
	return &sq.Payment{ID: &id, Status: &status, AmountMoney: &sq.Money{Amount: &amount}}, nil
}

func (f *fakeSquarePayments) GetPayment(_ context.Context, paymentID string) (*sq.Payment, error) {
	status := "COMPLETED"
	return &sq.Payment{ID: &paymentID, Status: &status}, nil
}

func TestSquareGatewayCharge(t *testing.T) {
	client := &fakeSquarePayments{status: "COMPLETED"}
	gw, err := NewSquareGateway(client)
	require.NoError(t, err)

	tenantID := uuid.New()
	charge, err := gw.Charge(context.Background(), ChargeRequest{
		TenantID:       tenantID,
		Credits:        500,
		AmountCents:    750,
		IdempotencyKey: "rc-key",
		CustomerID:     "cust_1",
		SourceID:       "ccof_1",
	})
	require.NoError(t, err)
	assert.Equal(t, "sq-pay-1", charge.ID)
	assert.Equal(t, int64(750), charge.AmountCents)
	assert.True(t, charge.Settled())

	require.Len(t, client.created, 1)
	params := client.created[0]
	assert.Equal(t, "rc-key", params.IdempotencyKey)
	assert.Equal(t, tenantID.String(), params.ReferenceID)
	assert.Equal(t, "ccof_1", params.SourceID)
	assert.Equal(t, "cust_1", params.CustomerID)
}

func TestSquareGatewayChargeNotSettled(t *testing.T) {
	gw, err := NewSquareGateway(&fakeSquarePayments{status: "FAILED"})
	require.NoError(t, err)

	charge, err := gw.Charge(context.Background(), ChargeRequest{TenantID: uuid.New(), AmountCents: 100, CustomerID: "c", SourceID: "s"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	require.NotNil(t, charge)
	assert.Equal(t, "sq-pay-1", charge.ID)
}

func TestChargeSettledOnlyWhenCompleted(t *testing.T) {
	cases := map[string]bool{
		"COMPLETED": true,
		"completed": true,
		"APPROVED":  false,
		"PENDING":   false,
		"FAILED":    false,
		"":          false,
	}
	for status, want := range cases {
		assert.Equal(t, want, (&Charge{ID: "p", Status: status}).Settled(), status)
	}
	var missing *Charge
	assert.False(t, missing.Settled())
}

func TestSquareGatewayChargeApprovedIsNotSettled(t *testing.T) {
	gw, err := NewSquareGateway(&fakeSquarePayments{status: "APPROVED"})
	require.NoError(t, err)

	_, err = gw.Charge(context.Background(), ChargeRequest{TenantID: uuid.New(), AmountCents: 100, CustomerID: "c", SourceID: "s"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestSquareGatewayRequiresCard(t *testing.T) {
	client := &fakeSquarePayments{}
	gw, err := NewSquareGateway(client)
	require.NoError(t, err)

	_, err = gw.Charge(context.Background(), ChargeRequest{TenantID: uuid.New(), AmountCents: 100})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Empty(t, client.created)
}

func TestSquareGatewayGetCharge(t *testing.T) {
	gw, err := NewSquareGateway(&fakeSquarePayments{})
	require.NoError(t, err)

	charge, err := gw.GetCharge(context.Background(), "sq-pay-9")
	require.NoError(t, err)
	assert.Equal(t, "sq-pay-9", charge.ID)
	assert.True(t, charge.Settled())
}

func TestPricerRoundsUp(t *testing.T) {
	p, err := NewPricer("0.35")
	require.NoError(t, err)
	assert.Equal(t, int64(4), p.AmountCents(10))
	assert.Equal(t, int64(35), p.AmountCents(100))

	_, err = NewPricer("0")
	assert.Error(t, err)
	_, err = NewPricer("abc")
	assert.Error(t, err)
}

func TestIdempotencyKeyIsStableAndShort(t *testing.T) {
	tenantID := uuid.New()
	key := idempotencyKey(tenantID, baseTime)
	assert.Equal(t, key, idempotencyKey(tenantID, baseTime))
	assert.NotEqual(t, key, idempotencyKey(tenantID, baseTime.Add(1e9)))
	assert.LessOrEqual(t, len(key), 45)
}

type fakeResult struct {
	err error
}

func (r fakeResult) Get(context.Context) (string, error) { return "srv-1", r.err }

type fakeTopic struct {
	msgs []*gcppubsub.Message
	err  error
}

func (f *fakeTopic) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.msgs = append(f.msgs, msg)
	return fakeResult{err: f.err}
}

func TestPubSubPublisherEncodesEvent(t *testing.T) {
	topic := &fakeTopic{}
	pub := &PubSubPublisher{pub: topic}
	tenantID := uuid.New()

	err := pub.PublishRecharge(context.Background(), RechargeEvent{
		EventType:   EventRechargeCharged,
		OccurredAt:  baseTime,
		TenantID:    tenantID,
		Source:      enums.RechargeSourceSweep,
		Outcome:     enums.RechargeOutcomeCharged,
		Credits:     500,
		AmountCents: 500,
		ChargeID:    "pay-1",
	})
	require.NoError(t, err)
	require.Len(t, topic.msgs, 1)

	msg := topic.msgs[0]
	assert.Equal(t, EventRechargeCharged, msg.Attributes["event_type"])
	assert.Equal(t, tenantID.String(), msg.Attributes["tenant_id"])
	assert.NotEmpty(t, msg.Attributes["event_id"])

	var decoded RechargeEvent
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, 1, decoded.Version)
	assert.Equal(t, "pay-1", decoded.ChargeID)
}

func TestPubSubPublisherSurfacesPublishError(t *testing.T) {
	pub := &PubSubPublisher{pub: &fakeTopic{err: errors.New("deadline exceeded")}}
	err := pub.PublishRecharge(context.Background(), RechargeEvent{EventType: EventRechargeFailed, TenantID: uuid.New()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadline exceeded")
}
