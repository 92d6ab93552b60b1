package outbox

import (
	"context"
	"log/slog"
	"time"

	otelx "github.com/md-rashed-zaman/salonbook/libs/otel"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
)

// Sink delivers one outbox record to a broker.
type Sink interface {
	Publish(ctx context.Context, rec storage.OutboxRecord) error
	Close() error
}

type Claimer interface {
	ClaimOutbox(ctx context.Context, limit int, publish func([]storage.OutboxRecord) ([]int64, error)) (int, error)
}

type Relay struct {
	store     Claimer
	sink      Sink
	logger    *slog.Logger
	pollEvery time.Duration
	batchSize int
}

type RelayConfig struct {
	PollEvery time.Duration
	BatchSize int
}

func NewRelay(store Claimer, sink Sink, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Relay{
		store:     store,
		sink:      sink,
		logger:    logger,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

func (r *Relay) Run(ctx context.Context) {
	if r.sink == nil {
		r.logger.Warn("outbox relay disabled (no broker configured)")
		return
	}
	defer func() {
		if err := r.sink.Close(); err != nil {
			r.logger.Warn("outbox sink close failed", "err", err)
		}
	}()

	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.PublishBatch(ctx); err != nil {
				r.logger.Error("outbox publish failed", "err", err)
			}
		}
	}
}

// PublishBatch publishes pending events in id order, stopping at the first failure so
// later events are not delivered ahead of an earlier one.
func (r *Relay) PublishBatch(ctx context.Context) (int, error) {
	return r.store.ClaimOutbox(ctx, r.batchSize, func(records []storage.OutboxRecord) ([]int64, error) {
		var published []int64
		for _, rec := range records {
			msgCtx := otelx.TraceContext{Parent: rec.Traceparent, State: rec.Tracestate}.Attach(ctx)
			if err := r.sink.Publish(msgCtx, rec); err != nil {
				return published, err
			}
			published = append(published, rec.ID)
		}
		if len(published) > 0 {
			r.logger.Debug("outbox events published", "count", len(published))
		}
		return published, nil
	})
}
