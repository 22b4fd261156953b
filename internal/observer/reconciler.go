package observer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Refresher re-derives local state from the authoritative store.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// envelope is the slice of the broadcast message the reconciler looks at. The
// payload body is deliberately ignored.
type envelope struct {
	EventType string `json:"event_type"`
}

// Reconciler treats every inbound room broadcast as a wake-up hint, never as
// data. Any event, whatever its type or payload, triggers one full
// authoritative re-read; payload fields are never applied to local state.
// Delivery may be unordered, duplicated or lost entirely; correctness rests
// on the periodic resync, this path only shortens the latency.
type Reconciler struct {
	nc        *nats.Conn
	subject   string
	refresher Refresher

	// Coalescing signal channel: a burst of notifications costs one refresh.
	kickCh chan struct{}
	sub    *nats.Subscription
}

// NewReconciler creates a reconciler for one room's broadcast subject.
func NewReconciler(nc *nats.Conn, subject string, refresher Refresher) *Reconciler {
	return &Reconciler{
		nc:        nc,
		subject:   subject,
		refresher: refresher,
		kickCh:    make(chan struct{}, 1),
	}
}

// Run subscribes and processes hints until ctx is cancelled. The subscription
// callback never blocks and never performs I/O; refreshes run serialized on
// this goroutine.
func (r *Reconciler) Run(ctx context.Context) error {
	sub, err := r.nc.Subscribe(r.subject, func(msg *nats.Msg) {
		var env envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("unparseable broadcast, refreshing anyway")
		}
		log.Debug().Str("subject", msg.Subject).Str("event_type", env.EventType).Msg("broadcast hint received")
		select {
		case r.kickCh <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.subject, err)
	}
	r.sub = sub
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Str("subject", r.subject).Msg("failed to unsubscribe")
		}
	}()

	log.Info().Str("subject", r.subject).Msg("broadcast reconciler started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("subject", r.subject).Msg("broadcast reconciler stopped")
			return nil
		case <-r.kickCh:
			if err := r.refresher.Refresh(ctx); err != nil {
				log.Warn().Err(err).Str("subject", r.subject).Msg("hint-triggered refresh failed, awaiting periodic resync")
			}
		}
	}
}
