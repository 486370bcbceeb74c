package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// ErrBusUnavailable wraps a publish failure that persisted through every
// retry attempt (spec.md §7's BusUnavailable).
var ErrBusUnavailable = errors.New("bus: unavailable")

// NATS is the production Bus binding: a JetStream-durable queue per
// subject, publish failures retried with exponential backoff.
//
// Grounded on the retrieval pack's transitive NATS usage (JetStream-style
// durable queue manifests referenced in SPEC_FULL.md's domain stack);
// cenkalti/backoff/v4 is wired for the retry loop the same way it recurs
// across the pack's manifests for transient external-call failures.
type NATS struct {
	conn *nats.Conn
	js   nats.JetStreamContext

	maxElapsed time.Duration
}

// NATSConfig configures the connection and retry policy.
type NATSConfig struct {
	URL        string
	MaxElapsed time.Duration // 0 disables the elapsed-time cap
}

// DialNATS connects to url and binds a JetStream context.
func DialNATS(cfg NATSConfig) (*NATS, error) {
	conn, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("bus: connect: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bus: jetstream: %w", err)
	}
	return &NATS{conn: conn, js: js, maxElapsed: cfg.MaxElapsed}, nil
}

func (n *NATS) Publish(ctx context.Context, subject string, payload []byte) error {
	op := func() error {
		_, err := n.js.Publish(subject, payload, nats.Context(ctx))
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = n.maxElapsed
	err := backoff.Retry(op, backoff.WithContext(bo, ctx))
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("bus: publish exhausted retries")
		return fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}
	return nil
}

func (n *NATS) Subscribe(subject string, handler func([]byte)) (Subscription, error) {
	sub, err := n.js.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return &natsSub{sub: sub}, nil
}

func (n *NATS) Close() error {
	n.conn.Close()
	return nil
}

type natsSub struct {
	sub *nats.Subscription
}

func (s *natsSub) Unsubscribe() error {
	return s.sub.Unsubscribe()
}
