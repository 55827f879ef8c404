// Package bus provides the pub/sub channel layer used for job progress and
// token streams.
//
// Channels are flat strings ("job:<uuid>", "stream:<uuid>"). Subscriptions are
// pattern-based with redis-style globs, where '*' matches any run of
// characters ("job:*"). Delivery is best-effort fan-out: ordering is preserved
// per channel, and a subscriber that cannot drain its buffer loses messages
// rather than blocking publishers.
package bus

import "context"

// Message is one published payload together with the channel it arrived on.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription is an active pattern subscription.
type Subscription interface {
	// Messages returns the channel delivering matched payloads. It is closed
	// when the subscription is closed or the bus shuts down.
	Messages() <-chan Message

	// Close tears down the subscription.
	Close() error
}

// Bus is the pub/sub interface backed by the shared cache (Redis) in
// production and by an in-process implementation in tests and single-node
// deployments.
type Bus interface {
	// Publish sends a payload to a channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// PSubscribe creates a subscription matching the given glob patterns.
	PSubscribe(ctx context.Context, patterns ...string) (Subscription, error)

	// Close closes the bus and all subscriptions.
	Close()
}
