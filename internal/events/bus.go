// Package events fans registry change events out to in-process
// subscribers and mirrors them to the store's pub/sub channel for
// external consumers. Delivery is best-effort everywhere: a failed or
// slow delivery is logged and counted, never surfaced to the mutation
// that triggered the event.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/blackmichael/tweetwall/internal/domain"
	"github.com/blackmichael/tweetwall/internal/metrics"
)

// subscriberBuffer bounds each subscriber channel. A subscriber that
// falls this far behind starts losing events; the polling-diff transport
// resynchronizes such clients on its next snapshot.
const subscriberBuffer = 64

// mirrorTimeout bounds the pub/sub mirror write so a stalled store can't
// slow down mutations.
const mirrorTimeout = 2 * time.Second

// Bus is the single logical event channel for the tweet registry.
type Bus struct {
	store   domain.Store
	channel string
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu   sync.RWMutex
	subs map[chan domain.Event]struct{}
}

// NewBus creates a bus that mirrors events to the given store channel.
func NewBus(store domain.Store, channel string, logger *slog.Logger, m *metrics.Metrics) *Bus {
	return &Bus{
		store:   store,
		channel: channel,
		logger:  logger,
		metrics: m,
		subs:    make(map[chan domain.Event]struct{}),
	}
}

// Subscribe registers a new subscriber and returns its event channel plus
// a cancel function. Cancel must be called when the subscriber goes away;
// it closes the channel.
func (b *Bus) Subscribe() (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, subscriberBuffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers an event to every subscriber and mirrors it to the
// store's pub/sub channel. It never blocks on a slow subscriber and never
// returns an error.
func (b *Bus) Publish(ctx context.Context, ev domain.Event) {
	b.metrics.EventsPublishedTotal.WithLabelValues(string(ev.Kind())).Inc()

	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.metrics.PublishErrorsTotal.Inc()
			b.logger.Warn("dropping event for slow subscriber", "kind", ev.Kind())
		}
	}
	b.mu.RUnlock()

	b.mirror(ctx, ev)
}

func (b *Bus) mirror(ctx context.Context, ev domain.Event) {
	payload, err := domain.EncodeEvent(ev)
	if err != nil {
		b.metrics.PublishErrorsTotal.Inc()
		b.logger.Error("failed to encode event for pub/sub mirror", "kind", ev.Kind(), "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()

	if err := b.store.Publish(ctx, b.channel, payload); err != nil {
		b.metrics.PublishErrorsTotal.Inc()
		b.logger.Error("failed to mirror event to pub/sub channel", "kind", ev.Kind(), "error", err)
	}
}
