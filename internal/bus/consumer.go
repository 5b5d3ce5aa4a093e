package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/openmatka/engine/internal/events"
	"github.com/rs/zerolog/log"
)

// ConsumerConfig holds configuration for the durable JetStream consumer.
type ConsumerConfig struct {
	JetStreamConfig
	ConsumerName  string
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
}

// DefaultConsumerConfig returns the gateway's default consumer settings.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		JetStreamConfig: DefaultJetStreamConfig(),
		ConsumerName:    "game-gateway",
		MaxDeliver:      5,
		AckWait:         30 * time.Second,
		MaxAckPending:   100,
	}
}

// Handler processes one delivered envelope. A returned error NAKs the
// message for redelivery.
type Handler func(ctx context.Context, env events.Envelope) error

// Consumer consumes round events from JetStream and hands them to a
// handler (the websocket gateway, in the running system).
type Consumer struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	config   ConsumerConfig
	handler  Handler
}

// NewConsumer connects to NATS and creates or reuses the durable consumer.
func NewConsumer(cfg ConsumerConfig, handler Handler) (*Consumer, error) {
	nc, err := nats.Connect(cfg.URL, natsOptions(cfg.JetStreamConfig)...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	c := &Consumer{nc: nc, js: js, config: cfg, handler: handler}
	if err := c.ensureConsumer(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}
	return c, nil
}

func (c *Consumer) ensureConsumer(ctx context.Context) error {
	stream, err := c.js.Stream(ctx, c.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumerConfig := jetstream.ConsumerConfig{
		Name:          c.config.ConsumerName,
		Durable:       c.config.ConsumerName,
		Description:   "Gateway websocket fan-out consumer",
		FilterSubject: c.config.SubjectPrefix + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    c.config.MaxDeliver,
		AckWait:       c.config.AckWait,
		MaxAckPending: c.config.MaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	}

	consumer, err := stream.Consumer(ctx, c.config.ConsumerName)
	if err != nil {
		consumer, err = stream.CreateConsumer(ctx, consumerConfig)
		if err != nil {
			return fmt.Errorf("create consumer: %w", err)
		}
		log.Info().
			Str("consumer", c.config.ConsumerName).
			Str("stream", c.config.StreamName).
			Msg("created JetStream consumer")
	}
	c.consumer = consumer
	return nil
}

// Start consumes events until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	log.Info().
		Str("consumer", c.config.ConsumerName).
		Str("stream", c.config.StreamName).
		Msg("event consumer started")

	messageCh := make(chan jetstream.Msg, 100)
	consumeCtx, err := c.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("event consumer shutting down")
			return nil
		case msg := <-messageCh:
			if err := c.processMessage(ctx, msg); err != nil {
				log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process event")
				if nakErr := msg.Nak(); nakErr != nil {
					log.Error().Err(nakErr).Msg("failed to NAK message")
				}
			} else if ackErr := msg.Ack(); ackErr != nil {
				log.Error().Err(ackErr).Msg("failed to ACK message")
			}
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg jetstream.Msg) error {
	var env events.Envelope
	if err := json.Unmarshal(msg.Data(), &env); err != nil {
		return fmt.Errorf("unmarshal envelope: %w", err)
	}
	return c.handler(ctx, env)
}

// Stop drains the NATS connection.
func (c *Consumer) Stop() {
	if c.nc != nil {
		c.nc.Close()
	}
}
