package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATS wiring for the price feed. Ticks arrive on margin.ticks.{SYMBOL};
// the subscriber delivers them into a channel the engine's consumption loop
// drains, acking after the channel send so backpressure propagates to
// JetStream instead of expiring ack waits mid-sweep.

const (
	TickStreamName   = "MARGIN_TICKS"
	TickSubjects     = "margin.ticks.>"
	TickConsumerName = "margin-engine-ticks"
)

// RawTick is a tick as received from NATS, not yet parsed or validated.
type RawTick struct {
	Subject  string
	Data     []byte
	Received time.Time
}

// Subscriber consumes the tick stream and forwards raw messages.
type Subscriber struct {
	js       jetstream.JetStream
	tickChan chan<- RawTick
	log      zerolog.Logger
	consumer jetstream.ConsumeContext
}

func NewSubscriber(js jetstream.JetStream, tickChan chan<- RawTick, log zerolog.Logger) *Subscriber {
	return &Subscriber{
		js:       js,
		tickChan: tickChan,
		log:      log,
	}
}

// Subscribe creates the durable tick consumer. Explicit ACK, max_deliver=5,
// ack_wait=30s, matching the rest of the platform's consumers.
func (s *Subscriber) Subscribe(ctx context.Context) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, TickStreamName, jetstream.ConsumerConfig{
		Durable:       TickConsumerName,
		FilterSubject: TickSubjects,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", TickConsumerName, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawTick{
			Subject:  msg.Subject(),
			Data:     msg.Data(),
			Received: time.Now(),
		}

		select {
		case s.tickChan <- raw:
			msg.Ack()
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", TickConsumerName, err)
	}

	s.consumer = cc
	s.log.Info().Str("subject", TickSubjects).Str("consumer", TickConsumerName).Msg("subscribed to tick stream")
	return nil
}

// Stop gracefully stops the consumer.
func (s *Subscriber) Stop() {
	if s.consumer != nil {
		s.consumer.Stop()
	}
}

// EnsureTickStream creates the tick stream if it doesn't exist. Ticks are
// short-lived by nature; an hour of retention covers replay after restarts
// without accumulating a price archive.
func EnsureTickStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      TickStreamName,
		Subjects:  []string{TickSubjects},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    1 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", TickStreamName, err)
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
