package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"PerpMarket/internal/fixedpoint"
	"PerpMarket/internal/observability"
	"PerpMarket/internal/vamm"
)

// OracleReading is the wire format on perp.oracle.prices.>. Price is a
// base-10 wad-scaled integer; string form keeps full precision through
// JSON.
type OracleReading struct {
	Price     string    `json:"price"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// OracleSubscriber consumes pushed oracle prices and feeds them to the
// pricing engine. Bad readings are acked and dropped; the vAMM keeps
// its staleness gate regardless of what arrives here.
type OracleSubscriber struct {
	js       jetstream.JetStream
	amm      *vamm.VAMM
	metrics  *observability.Metrics
	log      zerolog.Logger
	consumer jetstream.ConsumeContext
}

func NewOracleSubscriber(js jetstream.JetStream, amm *vamm.VAMM, metrics *observability.Metrics, log zerolog.Logger) *OracleSubscriber {
	return &OracleSubscriber{js: js, amm: amm, metrics: metrics, log: log}
}

// Subscribe creates the durable consumer and starts delivery. New
// deliveries only: a restarted service wants the freshest price, not
// the backlog.
func (s *OracleSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, OracleStream, jetstream.ConsumerConfig{
		Durable:       "market-oracle",
		FilterSubject: oracleSubjects,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create oracle consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := s.handle(msg.Data()); err != nil {
			s.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("oracle reading rejected")
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume oracle: %w", err)
	}
	s.consumer = cc

	s.log.Info().Str("stream", OracleStream).Msg("oracle subscriber started")
	return nil
}

func (s *OracleSubscriber) handle(data []byte) error {
	var reading OracleReading
	if err := json.Unmarshal(data, &reading); err != nil {
		return fmt.Errorf("decode reading: %w", err)
	}
	price, err := fixedpoint.Parse(reading.Price)
	if err != nil {
		return err
	}
	if err := s.amm.SetOraclePrice(price); err != nil {
		return err
	}

	s.metrics.OracleUpdates.Inc()
	s.metrics.OraclePrice.Set(wadFloat(price))
	return nil
}

func (s *OracleSubscriber) Stop() {
	if s.consumer != nil {
		s.consumer.Stop()
	}
}

func wadFloat(x *big.Int) float64 {
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(x),
		new(big.Float).SetInt(fixedpoint.Wad),
	).Float64()
	return f
}
