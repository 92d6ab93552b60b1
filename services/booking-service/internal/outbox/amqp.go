package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeName is the topic exchange that receives schedule events; the routing key is the
// event type.
const ExchangeName = "salonbook.schedule.events"

type AMQPSink struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
	mu      sync.Mutex
}

func NewAMQPSink(url string, logger *slog.Logger) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	logger.Info("rabbitmq sink connected", "exchange", ExchangeName)
	return &AMQPSink{conn: conn, channel: ch, logger: logger}, nil
}

func (s *AMQPSink) Publish(ctx context.Context, rec storage.OutboxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel.PublishWithContext(ctx, ExchangeName, rec.EventType, false, false, Publishing(rec))
}

func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.channel.Close(); err != nil {
		s.logger.Warn("error closing channel", "err", err)
	}
	return s.conn.Close()
}

// Publishing maps rec onto a persistent AMQP message; the trace context travels as headers
// so consumers can continue the trace.
func Publishing(rec storage.OutboxRecord) amqp.Publishing {
	headers := amqp.Table{}
	if rec.Traceparent != "" {
		headers["traceparent"] = rec.Traceparent
	}
	if rec.Tracestate != "" {
		headers["tracestate"] = rec.Tracestate
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    rec.EventID,
		Type:         rec.EventType,
		Timestamp:    rec.CreatedAt,
		Headers:      headers,
		Body:         rec.Payload,
	}
}
