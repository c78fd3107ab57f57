package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"daraja-payments/internal/domain/model"
	"daraja-payments/internal/domain/ports/repository"
	"daraja-payments/internal/infra/metrics"
)

// EventPublisher delivers an encoded event to the broker.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey, messageID string, body []byte) error
}

// OutboxDispatcher drains event_outbox to the broker. It polls on an
// interval and also runs as soon as Wake is called after a commit.
type OutboxDispatcher struct {
	outbox     repository.OutboxRepository
	pub        EventPublisher
	interval   time.Duration
	batch      int
	staleAfter time.Duration
	wake       chan struct{}
	log        *zerolog.Logger
}

func NewOutboxDispatcher(outbox repository.OutboxRepository, pub EventPublisher, interval time.Duration, batch int, staleAfter time.Duration, logger *zerolog.Logger) *OutboxDispatcher {
	if interval <= 0 {
		interval = 1200 * time.Millisecond
	}
	if batch <= 0 {
		batch = 50
	}
	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}
	compLog := logger.With().Str("component", "OutboxDispatcher").Logger()
	return &OutboxDispatcher{
		outbox:     outbox,
		pub:        pub,
		interval:   interval,
		batch:      batch,
		staleAfter: staleAfter,
		wake:       make(chan struct{}, 1),
		log:        &compLog,
	}
}

// Wake asks the dispatcher to flush now. It never blocks.
func (d *OutboxDispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) error {
	d.log.Info().Dur("interval", d.interval).Msg("Starting outbox dispatcher")
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("Stopping outbox dispatcher")
			return ctx.Err()
		case <-ticker.C:
		case <-d.wake:
		}
		if _, err := d.FlushOnce(ctx); err != nil && ctx.Err() == nil {
			d.log.Error().Err(err).Msg("outbox flush failed")
		}
	}
}

// FlushOnce claims one batch and publishes it, returning how many were delivered.
func (d *OutboxDispatcher) FlushOnce(ctx context.Context) (int, error) {
	msgs, err := d.outbox.Claim(ctx, d.batch, d.staleAfter)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, m := range msgs {
		log := d.log.With().Str("event_id", m.ID).Str("routing_key", m.RoutingKey).Int("attempts", m.Attempts).Logger()
		if err := d.pub.Publish(ctx, m.Exchange, m.RoutingKey, m.ID, m.Payload); err != nil {
			metrics.IncOutboxEvent(m.RoutingKey, "failed")
			retry := model.RetryDelay(m.Attempts)
			log.Warn().Err(err).Dur("retry_after", retry).Msg("publish failed")
			if merr := d.outbox.MarkFailed(ctx, m.ID, retry, err.Error()); merr != nil {
				log.Error().Err(merr).Msg("failed to record publish failure")
			}
			continue
		}
		if err := d.outbox.MarkPublished(ctx, m.ID); err != nil {
			// the row is reclaimed once stale and published again
			log.Error().Err(err).Msg("failed to mark event published")
			continue
		}
		metrics.IncOutboxEvent(m.RoutingKey, "published")
		sent++
	}
	if sent > 0 {
		d.log.Debug().Int("count", sent).Msg("outbox events published")
	}
	return sent, nil
}
