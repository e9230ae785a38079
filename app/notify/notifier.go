package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-carwash-payments/app/entity"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/factory"
)

// PaymentFinalizedEvent is published once per applied terminal transition.
type PaymentFinalizedEvent struct {
	IntentID          string    `json:"intent_id"`
	ExternalID        string    `json:"external_id"`
	EntityType        string    `json:"entity_type"`
	EntityID          string    `json:"entity_id"`
	Status            string    `json:"status"`
	Cause             string    `json:"cause,omitempty"`
	AmountCents       int64     `json:"amount_cents"`
	Currency          string    `json:"currency"`
	ProviderInvoiceID string    `json:"provider_invoice_id,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

func NewPaymentFinalizedEvent(intent *entity.PaymentIntent) PaymentFinalizedEvent {
	event := PaymentFinalizedEvent{
		IntentID:    intent.ID,
		ExternalID:  intent.ExternalID,
		EntityType:  string(intent.EntityType),
		EntityID:    intent.EntityID,
		Status:      string(intent.Status),
		AmountCents: intent.AmountCents,
		Currency:    intent.Currency,
		OccurredAt:  intent.LastTransitionAt.UTC(),
	}
	if intent.Cause != nil {
		event.Cause = *intent.Cause
	}
	if intent.ProviderInvoiceID != nil {
		event.ProviderInvoiceID = *intent.ProviderInvoiceID
	}
	return event
}

// RoutingKey is payment.<status>, so consumers can bind to payment.paid only.
func RoutingKey(status entity.IntentStatus) string {
	return "payment." + string(status)
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPNotifier publishes finalized payments to a topic exchange.
type AMQPNotifier struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       channel
	exchange string
	logger   logrus.FieldLogger
}

func DialAMQP(url, exchange string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	n := newAMQPNotifier(ch, exchange)
	n.conn = conn
	return n, nil
}

func newAMQPNotifier(ch channel, exchange string) *AMQPNotifier {
	return &AMQPNotifier{
		ch:       ch,
		exchange: exchange,
		logger:   factory.NewModuleLogger("payments-notifier"),
	}
}

func (n *AMQPNotifier) PaymentFinalized(ctx context.Context, intent *entity.PaymentIntent) error {
	if intent == nil {
		return nil
	}
	body, err := json.Marshal(NewPaymentFinalizedEvent(intent))
	if err != nil {
		return err
	}

	key := RoutingKey(intent.Status)
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.ch.PublishWithContext(ctx, n.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    intent.ID,
		Timestamp:    intent.LastTransitionAt.UTC(),
		Body:         body,
	}); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}

	n.logger.WithFields(logrus.Fields{
		"intent_id":   intent.ID,
		"routing_key": key,
	}).Debug("payment_finalized_published")
	return nil
}

func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	var firstErr error
	if n.ch != nil {
		firstErr = n.ch.Close()
	}
	if n.conn != nil {
		if err := n.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LogNotifier only logs finalized payments, used when no broker is configured.
type LogNotifier struct {
	logger logrus.FieldLogger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: factory.NewModuleLogger("payments-notifier")}
}

func (n *LogNotifier) PaymentFinalized(_ context.Context, intent *entity.PaymentIntent) error {
	if intent == nil {
		return nil
	}
	event := NewPaymentFinalizedEvent(intent)
	n.logger.WithFields(logrus.Fields{
		"intent_id":   event.IntentID,
		"entity_type": event.EntityType,
		"entity_id":   event.EntityID,
		"status":      event.Status,
		"cause":       event.Cause,
	}).Info("payment_finalized")
	return nil
}
