package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/utafrali/LoyaltyGo/internal/domain"
	pkgkafka "github.com/utafrali/LoyaltyGo/pkg/kafka"
)

// Kafka topics for voucher domain events.
var (
	TopicVoucherCreated        = pkgkafka.Topic("voucher", "created")
	TopicVoucherUpdated        = pkgkafka.Topic("voucher", "updated")
	TopicVoucherRedeemed       = pkgkafka.Topic("voucher", "redeemed")
	TopicCreditPending         = pkgkafka.Topic("voucher", "credit_pending")
	TopicGiftCardIssued        = pkgkafka.Topic("giftcard", "issued")
	TopicNotificationRequested = pkgkafka.Topic("notification", "requested")
)

// Aggregate type constants.
const (
	AggregateTypeVoucher      = "voucher"
	AggregateTypeNotification = "notification"
)

// SourceVoucherService identifies events originating from this service.
const SourceVoucherService = "voucher-service"

// VoucherData is the payload for voucher.created and voucher.updated events.
type VoucherData struct {
	ID            string           `json:"id"`
	MerchantID    string           `json:"merchant_id"`
	Kind          domain.Kind      `json:"kind"`
	Name          string           `json:"name"`
	ValueType     domain.ValueType `json:"value_type"`
	Value         int64            `json:"value"`
	Status        domain.Status    `json:"status"`
	TotalQuantity int              `json:"total_quantity"`
	Remaining     int              `json:"remaining_quantity"`
}

// RedeemedData is the payload for a voucher.redeemed event.
type RedeemedData struct {
	VoucherID     string           `json:"voucher_id"`
	MerchantID    string           `json:"merchant_id"`
	CodeID        string           `json:"code_id"`
	UsageID       string           `json:"usage_id"`
	CustomerID    string           `json:"customer_id"`
	AttemptID     string           `json:"attempt_id"`
	Kind          domain.Kind      `json:"kind"`
	ValueType     domain.ValueType `json:"value_type"`
	GrantedAmount int64            `json:"granted_amount"`
	UsedAt        time.Time        `json:"used_at"`
}

// GiftCardIssuedData is the payload for a giftcard.issued event.
type GiftCardIssuedData struct {
	VoucherID   string    `json:"voucher_id"`
	MerchantID  string    `json:"merchant_id"`
	PurchaserID string    `json:"purchaser_id"`
	Value       int64     `json:"value"`
	ValidUntil  time.Time `json:"valid_until"`
}

// Publisher is the subset of pkgkafka.Producer used here.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes voucher domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the voucher service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

func voucherData(v *domain.Voucher) VoucherData {
	return VoucherData{
		ID:            v.ID,
		MerchantID:    v.MerchantID,
		Kind:          v.Kind,
		Name:          v.Name,
		ValueType:     v.ValueType,
		Value:         v.Value,
		Status:        v.Status,
		TotalQuantity: v.TotalQuantity,
		Remaining:     v.RemainingQuantity,
	}
}

// PublishVoucherCreated publishes a voucher.created event.
func (p *Producer) PublishVoucherCreated(ctx context.Context, v *domain.Voucher) error {
	return p.publish(ctx, TopicVoucherCreated, v.ID, AggregateTypeVoucher, voucherData(v))
}

// PublishVoucherUpdated publishes a voucher.updated event.
func (p *Producer) PublishVoucherUpdated(ctx context.Context, v *domain.Voucher) error {
	return p.publish(ctx, TopicVoucherUpdated, v.ID, AggregateTypeVoucher, voucherData(v))
}

// PublishVoucherRedeemed publishes a voucher.redeemed event.
func (p *Producer) PublishVoucherRedeemed(ctx context.Context, v *domain.Voucher, usage *domain.VoucherUsage) error {
	data := RedeemedData{
		VoucherID:     v.ID,
		MerchantID:    v.MerchantID,
		CodeID:        usage.CodeID,
		UsageID:       usage.ID,
		CustomerID:    usage.CustomerID,
		AttemptID:     usage.AttemptID,
		Kind:          v.Kind,
		ValueType:     v.ValueType,
		GrantedAmount: usage.GrantedAmount,
		UsedAt:        usage.UsedAt,
	}
	return p.publish(ctx, TopicVoucherRedeemed, v.ID, AggregateTypeVoucher, data)
}

// PublishGiftCardIssued publishes a giftcard.issued event.
func (p *Producer) PublishGiftCardIssued(ctx context.Context, v *domain.Voucher, purchaserID string) error {
	data := GiftCardIssuedData{
		VoucherID:   v.ID,
		MerchantID:  v.MerchantID,
		PurchaserID: purchaserID,
		Value:       v.Value,
	}
	if v.ValidUntil != nil {
		data.ValidUntil = *v.ValidUntil
	}
	return p.publish(ctx, TopicGiftCardIssued, v.ID, AggregateTypeVoucher, data)
}

// PublishCreditPending publishes a points credit that must be retried.
func (p *Producer) PublishCreditPending(ctx context.Context, credit *domain.PendingCredit) error {
	return p.publish(ctx, TopicCreditPending, credit.VoucherID, AggregateTypeVoucher, credit)
}

// RequestNotification asks the notification dispatcher to deliver a gift
// card code to its recipient.
func (p *Producer) RequestNotification(ctx context.Context, req *domain.NotificationRequest) error {
	return p.publish(ctx, TopicNotificationRequested, req.VoucherID, AggregateTypeNotification, req)
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	event, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, SourceVoucherService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("aggregate_id", aggregateID),
	)

	return nil
}
