package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"PerpMarket/internal/event"
)

// Publisher drains the publish channel onto NATS for downstream
// consumers. Subjects follow perp.market.events.{event_type}. Publish
// failures are non-fatal: the audit log in Postgres stays authoritative.
type Publisher struct {
	js    jetstream.JetStream
	input <-chan event.Envelope
	log   zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, input <-chan event.Envelope, log zerolog.Logger) *Publisher {
	return &Publisher{js: js, input: input, log: log}
}

func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-p.input:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, env); err != nil {
				p.log.Warn().
					Err(err).
					Int64("sequence", env.Sequence).
					Str("event_type", env.Type.String()).
					Msg("outbound publish failed")
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, env event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	subject := fmt.Sprintf("perp.market.events.%s", env.Type)
	_, err = p.js.Publish(ctx, subject, data)
	return err
}
