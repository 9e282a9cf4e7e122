package dashboard

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Broadcaster accepts updates for fan-out to dashboard subscribers.
// Broadcasting has no failure mode; follow-up work triggered by an update
// fails independently and is never surfaced to the producer.
type Broadcaster interface {
	Broadcast(ctx context.Context, update DashboardUpdate)
}

// UpdateStream provides subscriptions to the fanned-out update stream.
type UpdateStream interface {
	// Subscribe returns a subscription scoped to one audience channel.
	Subscribe(ctx context.Context, audience Audience) *Subscription

	// SubscribeAll returns a subscription to the cross-audience channel.
	SubscribeAll(ctx context.Context) *Subscription
}

// UpdatePublisher publishes dashboard updates to an external transport for
// consumers outside the process.
type UpdatePublisher interface {
	PublishUpdate(ctx context.Context, update DashboardUpdate, opts ...PublishOption) error
}

// Subscription is a live feed of dashboard updates. The channel is closed on
// cancellation; Cancel must be called when the consumer is done to release
// the subscriber slot.
type Subscription struct {
	id uuid.UUID
	c  <-chan DashboardUpdate

	cancelOnce sync.Once
	cancel     func()
}

// NewSubscription wraps a delivery channel and its deregistration func.
func NewSubscription(id uuid.UUID, c <-chan DashboardUpdate, cancel func()) *Subscription {
	return &Subscription{id: id, c: c, cancel: cancel}
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() uuid.UUID { return s.id }

// Updates returns the delivery channel. Entries arrive in publish order;
// slow consumers may miss updates rather than block publishers.
func (s *Subscription) Updates() <-chan DashboardUpdate { return s.c }

// Cancel deregisters the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Cancel() {
	s.cancelOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// PublishOption is a function type that modifies PublishParams. It enables
// flexible configuration of publishing behavior through functional options.
type PublishOption func(*PublishParams)

// PublishParams contains configuration options for publishing updates to an
// external transport.
type PublishParams struct {
	// Key is used as a partition key to control routing and ordering.
	Key string
	// Headers contain metadata key-value pairs attached to the message.
	Headers map[string]string
}

// WithKey returns a PublishOption that sets the partition key for routing.
// The key keeps related updates in order on the same partition.
func WithKey(key string) PublishOption {
	return func(p *PublishParams) { p.Key = key }
}

// WithHeaders returns a PublishOption that attaches metadata headers.
func WithHeaders(headers map[string]string) PublishOption {
	return func(p *PublishParams) { p.Headers = headers }
}
