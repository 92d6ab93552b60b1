package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/salonbook/libs/kafkax"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage/storagetest"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	got    []storage.OutboxRecord
	failAt int
}

func (s *recordingSink) Publish(_ context.Context, rec storage.OutboxRecord) error {
	if s.failAt > 0 && len(s.got)+1 == s.failAt {
		return errors.New("broker unavailable")
	}
	s.got = append(s.got, rec)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func appendBookingEvents(t *testing.T, store storage.Store, ids ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
		for _, id := range ids {
			b := model.Booking{ID: id, EmployeeID: "E1", ClientID: "C1", Date: time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC), Slot: 540, DurationMinutes: 60, Status: model.StatusPending}
			if err := Append(ctx, tx, AggregateBooking, id, TypeBookingReserved, BookingEvent(b)); err != nil {
				return err
			}
		}
		return nil
	}))
}

func TestRelayPublishesInOrder(t *testing.T) {
	store := storagetest.New(t)
	appendBookingEvents(t, store, "k1", "k2", "k3")
	sink := &recordingSink{}
	relay := NewRelay(store, sink, slog.New(slog.NewTextHandler(io.Discard, nil)), RelayConfig{})

	n, err := relay.PublishBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, sink.got, 3)
	assert.Equal(t, "k1", sink.got[0].AggregateID)
	assert.Equal(t, TypeBookingReserved, sink.got[2].EventType)

	var payload BookingPayload
	require.NoError(t, json.Unmarshal(sink.got[0].Payload, &payload))
	assert.Equal(t, "09:00", payload.Slot)
	assert.Equal(t, "2025-06-10", payload.Date)
	assert.Equal(t, "active", payload.Outcome)

	n, err = relay.PublishBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelayRetriesFromFailure(t *testing.T) {
	store := storagetest.New(t)
	appendBookingEvents(t, store, "k1", "k2", "k3")
	sink := &recordingSink{failAt: 2}
	relay := NewRelay(store, sink, slog.New(slog.NewTextHandler(io.Discard, nil)), RelayConfig{})

	n, err := relay.PublishBatch(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, n)

	sink.failAt = 0
	n, err = relay.PublishBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var ids []string
	for _, rec := range sink.got {
		ids = append(ids, rec.AggregateID)
	}
	assert.Equal(t, []string{"k1", "k2", "k3"}, ids)
}

func TestKafkaMessage(t *testing.T) {
	rec := storage.OutboxRecord{ID: 7, EventID: "ev-1", AggregateID: "k1", EventType: TypeBookingCancelled, Payload: []byte(`{}`)}
	msg := Message(context.Background(), rec)

	assert.Equal(t, TypeBookingCancelled, msg.Topic)
	assert.Equal(t, []byte("k1"), msg.Key)
	assert.Equal(t, "ev-1", kafkax.HeaderValue(msg.Headers, kafkax.HeaderEventID))
	assert.Equal(t, TypeBookingCancelled, kafkax.HeaderValue(msg.Headers, kafkax.HeaderEventType))
}

func TestAMQPPublishing(t *testing.T) {
	created := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	rec := storage.OutboxRecord{EventID: "ev-2", EventType: TypeWorkBlockCreated, Payload: []byte(`{"block_id":"b1"}`), Traceparent: "00-abc-def-01", CreatedAt: created}
	p := Publishing(rec)

	assert.Equal(t, amqp.Persistent, p.DeliveryMode)
	assert.Equal(t, "ev-2", p.MessageId)
	assert.Equal(t, TypeWorkBlockCreated, p.Type)
	assert.Equal(t, created, p.Timestamp)
	assert.Equal(t, "00-abc-def-01", p.Headers["traceparent"])
	assert.NotContains(t, p.Headers, "tracestate")
}

func TestWorkBlockEvent(t *testing.T) {
	p := WorkBlockEvent(model.WorkBlock{ID: "b1", EmployeeID: "E1", Date: time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC), Start: 540, End: 660, Active: true})
	assert.Equal(t, WorkBlockPayload{BlockID: "b1", EmployeeID: "E1", Date: "2025-06-10", StartTime: "09:00", EndTime: "11:00", Active: true}, p)
}
