package event

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/LoyaltyGo/internal/domain"
	"github.com/utafrali/LoyaltyGo/internal/points"
	"github.com/utafrali/LoyaltyGo/pkg/idempotency"
	pkgkafka "github.com/utafrali/LoyaltyGo/pkg/kafka"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingPublisher struct {
	topics []string
	events []*pkgkafka.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, event *pkgkafka.Event) error {
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return nil
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Earn(ctx context.Context, t points.Transfer) error {
	return m.Called(ctx, t).Error(0)
}

func (m *mockGateway) Redeem(ctx context.Context, t points.Transfer) error {
	return m.Called(ctx, t).Error(0)
}

func sampleVoucher() *domain.Voucher {
	return &domain.Voucher{
		ID:                "v-1",
		MerchantID:        "m-1",
		Kind:              domain.KindCoupon,
		Name:              "Welcome",
		ValueType:         domain.ValuePoints,
		Value:             500,
		Status:            domain.StatusActive,
		TotalQuantity:     2,
		RemainingQuantity: 1,
	}
}

// ============================================================================
// Producer
// ============================================================================

func TestTopics(t *testing.T) {
	assert.Equal(t, "loyalty.voucher.created", TopicVoucherCreated)
	assert.Equal(t, "loyalty.voucher.credit_pending", TopicCreditPending)
	assert.Equal(t, "loyalty.notification.requested", TopicNotificationRequested)
}

func TestProducer_PublishVoucherRedeemed(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewProducer(pub, testLogger())

	usedAt := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	usage := &domain.VoucherUsage{ID: "u-1", CodeID: "c-1", CustomerID: "cust-a", AttemptID: "a-1", GrantedAmount: 500, UsedAt: usedAt}

	require.NoError(t, p.PublishVoucherRedeemed(context.Background(), sampleVoucher(), usage))
	require.Len(t, pub.events, 1)
	assert.Equal(t, TopicVoucherRedeemed, pub.topics[0])

	ev := pub.events[0]
	assert.Equal(t, "v-1", ev.AggregateID)
	assert.Equal(t, AggregateTypeVoucher, ev.AggregateType)
	assert.Equal(t, SourceVoucherService, ev.Source)

	var data RedeemedData
	require.NoError(t, ev.UnmarshalData(&data))
	assert.Equal(t, "u-1", data.UsageID)
	assert.Equal(t, int64(500), data.GrantedAmount)
	assert.Equal(t, domain.KindCoupon, data.Kind)
}

func TestProducer_RequestNotification(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewProducer(pub, testLogger())

	req := &domain.NotificationRequest{VoucherID: "v-1", Code: "GC1A2B3C4D", Value: 1000, RecipientPhone: "+79990000000"}
	require.NoError(t, p.RequestNotification(context.Background(), req))

	assert.Equal(t, TopicNotificationRequested, pub.topics[0])
	var got domain.NotificationRequest
	require.NoError(t, pub.events[0].UnmarshalData(&got))
	assert.Equal(t, *req, got)
}

func TestProducer_PublishError(t *testing.T) {
	p := NewProducer(&recordingPublisher{err: errors.New("broker down")}, testLogger())

	err := p.PublishVoucherCreated(context.Background(), sampleVoucher())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish loyalty.voucher.created event")
}

// ============================================================================
// CreditReconciler
// ============================================================================

func pendingEvent(t *testing.T, credit *domain.PendingCredit) *pkgkafka.Event {
	t.Helper()
	ev, err := pkgkafka.NewEvent(TopicCreditPending, credit.VoucherID, AggregateTypeVoucher, SourceVoucherService, credit)
	require.NoError(t, err)
	return ev
}

func sampleCredit() *domain.PendingCredit {
	return &domain.PendingCredit{
		VoucherID:      "v-1",
		CodeID:         "c-1",
		UsageID:        "u-1",
		CustomerID:     "cust-a",
		MerchantID:     "m-1",
		AttemptID:      "a-1",
		Amount:         500,
		IdempotencyKey: "credit:v-1:c-1:cust-a:a-1",
	}
}

func TestCreditReconciler_CreditsWithOriginalKey(t *testing.T) {
	gw := new(mockGateway)
	gw.On("Earn", mock.Anything, points.Transfer{
		CustomerID:     "cust-a",
		MerchantID:     "m-1",
		Amount:         500,
		IdempotencyKey: "credit:v-1:c-1:cust-a:a-1",
		Reason:         "voucher:v-1",
	}).Return(nil).Once()

	r := NewCreditReconciler(gw, testLogger())
	require.NoError(t, r.Handle(context.Background(), pendingEvent(t, sampleCredit())))
	gw.AssertExpectations(t)
}

func TestCreditReconciler_GatewayErrorIsRetried(t *testing.T) {
	gw := new(mockGateway)
	gw.On("Earn", mock.Anything, mock.Anything).Return(errors.New("ledger down"))

	r := NewCreditReconciler(gw, testLogger())
	err := r.Handle(context.Background(), pendingEvent(t, sampleCredit()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usage u-1")
}

func TestCreditReconciler_UnusablePayloadIsPermanent(t *testing.T) {
	gw := new(mockGateway)
	r := NewCreditReconciler(gw, testLogger())

	credit := sampleCredit()
	credit.IdempotencyKey = ""
	err := r.Handle(context.Background(), pendingEvent(t, credit))
	require.Error(t, err)
	assert.True(t, pkgkafka.IsPermanent(err))

	bad := &pkgkafka.Event{EventID: "e-1", Data: []byte(`"not an object"`)}
	err = r.Handle(context.Background(), bad)
	require.Error(t, err)
	assert.True(t, pkgkafka.IsPermanent(err))

	gw.AssertNotCalled(t, "Earn", mock.Anything, mock.Anything)
}

func TestCreditReconciler_DuplicateEventSkipped(t *testing.T) {
	gw := new(mockGateway)
	gw.On("Earn", mock.Anything, mock.Anything).Return(nil).Once()

	h := NewCreditReconciler(gw, testLogger()).Handler(idempotency.NewMemoryStore(time.Hour))
	ev := pendingEvent(t, sampleCredit())

	require.NoError(t, h(context.Background(), ev))
	require.NoError(t, h(context.Background(), ev))
	gw.AssertNumberOfCalls(t, "Earn", 1)
}
