// Package bus defines the outbound publish/subscribe contract spec.md §6
// calls out as pluggable: "publish(subject, bytes) and subscribe(subject,
// handler)... the default binding targets a JetStream-style durable
// queue." Memory is an in-process implementation for tests; NATS is the
// default production binding.
package bus

import "context"

// Bus is the shard-facing publish contract. Per-subject FIFO delivery of
// outputs from a single shard is the only ordering guarantee required —
// there is no global ordering requirement on the wire beyond engine_seq,
// which is embedded in every payload by internal/wire.
type Bus interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	Subscribe(subject string, handler func([]byte)) (Subscription, error)
	Close() error
}

// Subscription is a live subscribe() registration; Unsubscribe stops
// delivery.
type Subscription interface {
	Unsubscribe() error
}
