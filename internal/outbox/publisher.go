package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// Publisher is an interface that defines our publisher.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NATSPublisherConfig holds configuration for the NATS JetStream publisher.
type NATSPublisherConfig struct {
	StreamName    string
	SubjectPrefix string
	MaxAge        time.Duration
}

// DefaultNATSPublisherConfig returns default publisher configuration.
func DefaultNATSPublisherConfig() NATSPublisherConfig {
	return NATSPublisherConfig{
		StreamName:    "CURIO_EVENTS",
		SubjectPrefix: "curio.rooms",
		MaxAge:        time.Hour,
	}
}

// NATSPublisher relays outbox events to NATS JetStream. Subjects are
// "curio.rooms.<room_id>.<event_type>" so gateways and observers can filter
// per room.
type NATSPublisher struct {
	js  jetstream.JetStream
	cfg NATSPublisherConfig
}

// NewNATSPublisher creates the publisher and ensures the stream exists.
func NewNATSPublisher(nc *nats.Conn, cfg NATSPublisherConfig) (*NATSPublisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.StreamName,
		Subjects:  []string{cfg.SubjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    cfg.MaxAge,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream: %w", err)
	}

	log.Info().Str("stream", cfg.StreamName).Msg("JetStream stream ready")
	return &NATSPublisher{js: js, cfg: cfg}, nil
}

// Publish sends one event. The envelope repeats id/type/room so consumers
// can route without touching the payload.
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	subject := fmt.Sprintf("%s.%s.%s", p.cfg.SubjectPrefix, event.RoomID, event.EventType)

	envelope := map[string]interface{}{
		"event_id":   event.ID.String(),
		"event_type": event.EventType,
		"room_id":    event.RoomID.String(),
		"timestamp":  event.CreatedAt,
		"payload":    json.RawMessage(event.Payload),
	}
	messageBytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := p.js.Publish(ctx, subject, messageBytes)
	if err != nil {
		return fmt.Errorf("failed to publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Uint64("seq", ack.Sequence).
		Msg("outbox event published")
	return nil
}

// LogPublisher logs instead of publishing. Used in development and tests.
type LogPublisher struct{}

// Publish implements Publisher.
func (LogPublisher) Publish(ctx context.Context, event Event) error {
	log.Info().
		Str("event_id", event.ID.String()).
		Str("event_type", event.EventType).
		Str("room_id", event.RoomID.String()).
		Msg("publishing event")
	return nil
}
