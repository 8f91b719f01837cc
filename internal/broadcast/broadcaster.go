// Package broadcast fans published events out to every configured channel.
// Delivery is best effort per channel: a broadcast succeeds when at least
// one channel accepts the payload.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/agrisense/crop-fusion-service/internal/observability"
)

// Kind classifies broadcast payloads and selects the destination topic on
// topic-based channels.
type Kind string

const (
	KindSensorData   Kind = "sensor_data"
	KindAlert        Kind = "alert"
	KindSystemStatus Kind = "system_status"
	KindCommand      Kind = "command"
)

// ErrNoChannels is returned when a broadcaster has nothing to deliver to.
var ErrNoChannels = errors.New("no broadcast channels configured")

// Channel is one delivery mechanism. Publish must be safe for concurrent use.
type Channel interface {
	Name() string
	// Kinds lists the payload kinds the channel accepts.
	Kinds() []Kind
	Publish(ctx context.Context, kind Kind, payload []byte) error
	Close() error
}

// Broadcaster delivers payloads to all registered channels concurrently.
type Broadcaster struct {
	channels []Channel
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// New creates a broadcaster over the given channels. At least one channel
// is required.
func New(channels []Channel, metrics *observability.Metrics, logger *slog.Logger) (*Broadcaster, error) {
	if len(channels) == 0 {
		return nil, ErrNoChannels
	}
	return &Broadcaster{channels: channels, metrics: metrics, logger: logger}, nil
}

// Broadcast sends the payload to every channel accepting the kind. It
// returns nil when at least one channel delivered; it returns an error only
// when every eligible channel failed or none accepts the kind.
func (b *Broadcaster) Broadcast(ctx context.Context, kind Kind, payload []byte) error {
	eligible := make([]Channel, 0, len(b.channels))
	for _, ch := range b.channels {
		if accepts(ch, kind) {
			eligible = append(eligible, ch)
		}
	}
	if len(eligible) == 0 {
		return fmt.Errorf("no channel accepts kind %q", kind)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []error
	)
	for _, ch := range eligible {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			if err := ch.Publish(ctx, kind, payload); err != nil {
				b.metrics.BroadcastDeliveries.WithLabelValues(ch.Name(), "error").Inc()
				b.logger.Warn("broadcast delivery failed",
					"channel", ch.Name(), "kind", kind, "error", err)
				mu.Lock()
				failures = append(failures, fmt.Errorf("%s: %w", ch.Name(), err))
				mu.Unlock()
				return
			}
			b.metrics.BroadcastDeliveries.WithLabelValues(ch.Name(), "success").Inc()
		}(ch)
	}
	wg.Wait()

	if len(failures) == len(eligible) {
		return fmt.Errorf("all channels failed for kind %q: %w", kind, errors.Join(failures...))
	}
	return nil
}

// Close closes every channel, returning the first error encountered.
func (b *Broadcaster) Close() error {
	var first error
	for _, ch := range b.channels {
		if err := ch.Close(); err != nil && first == nil {
			first = fmt.Errorf("close %s: %w", ch.Name(), err)
		}
	}
	return first
}

func accepts(ch Channel, kind Kind) bool {
	for _, k := range ch.Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}
