package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mansoorceksport/storefront/internal/domain"
	"github.com/segmentio/kafka-go"
)

// EventTypeInvoiceSettled is the event_type header of settlement events
const EventTypeInvoiceSettled = "invoice.settled"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SettlementPublisher emits settlement events keyed by invoice id so that
// consumers see the events of one invoice in order.
type SettlementPublisher struct {
	writer messageWriter
}

func NewSettlementPublisher(brokers []string, topic string) *SettlementPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
	return &SettlementPublisher{writer: w}
}

// PublishSettled writes one event for a settled invoice.
func (p *SettlementPublisher) PublishSettled(ctx context.Context, event *domain.SettlementEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal settlement event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.InvoiceID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventTypeInvoiceSettled)},
		},
		Time: event.SettledAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish settlement event: %w", err)
	}
	return nil
}

func (p *SettlementPublisher) Close() error {
	return p.writer.Close()
}
