package outbox

import (
	"context"

	"github.com/md-rashed-zaman/salonbook/libs/kafkax"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
	"github.com/segmentio/kafka-go"
)

// KafkaSink writes each event to the topic named after its event type, keyed by aggregate
// id so a booking's events stay ordered within a partition.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}}
}

func (s *KafkaSink) Publish(ctx context.Context, rec storage.OutboxRecord) error {
	msg := Message(ctx, rec)
	return s.writer.WriteMessages(ctx, msg)
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// Message builds the kafka message for rec, carrying event metadata and the trace context
// in headers.
func Message(ctx context.Context, rec storage.OutboxRecord) kafka.Message {
	msg := kafka.Message{
		Topic:   rec.EventType,
		Key:     []byte(rec.AggregateID),
		Value:   rec.Payload,
		Headers: kafkax.EventHeaders(rec.EventID, rec.EventType),
	}
	msg.Headers = kafkax.InjectTraceHeaders(ctx, msg.Headers)
	return msg
}
