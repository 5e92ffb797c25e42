package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// JetStreamPublisher is the subset of nats.JetStreamContext used for publishing
type JetStreamPublisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher JSON-encodes values onto JetStream subjects
type Publisher struct {
	js     JetStreamPublisher
	logger zerolog.Logger
}

// NewPublisher creates a publisher over js
func NewPublisher(js JetStreamPublisher, logger zerolog.Logger) *Publisher {
	return &Publisher{
		js:     js,
		logger: logger.With().Str("component", "publisher").Logger(),
	}
}

// PublishJSON encodes v and publishes it on subject. msgID, when set, is used
// for JetStream de-duplication.
func (p *Publisher) PublishJSON(subject, msgID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", subject, err)
	}

	var opts []nats.PubOpt
	if msgID != "" {
		opts = append(opts, nats.MsgId(msgID))
	}

	ack, err := p.js.Publish(subject, data, opts...)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	p.logger.Debug().
		Str("subject", subject).
		Str("stream", ack.Stream).
		Uint64("seq", ack.Sequence).
		Bool("duplicate", ack.Duplicate).
		Msg("Published message")

	return nil
}

// Handler processes one message payload; a non-nil error requests redelivery
type Handler func(data []byte) error

// SubscribeDurable attaches a durable, manually-acked consumer to subject
func SubscribeDurable(js nats.JetStreamContext, subject, durable string, handle Handler, logger zerolog.Logger) (*nats.Subscription, error) {
	sub, err := js.Subscribe(subject, func(msg *nats.Msg) {
		if err := handle(msg.Data); err != nil {
			logger.Error().Err(err).Str("subject", msg.Subject).Msg("Message handling failed")
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	}, nats.Durable(durable), nats.ManualAck(), nats.DeliverAll())
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	logger.Info().Str("subject", subject).Str("durable", durable).Msg("Subscribed")
	return sub, nil
}
