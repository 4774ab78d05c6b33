package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/OptiFlow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/OptiFlow/pkg/errors"
)

// ConsumerConfig holds configuration for the Consumer.
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topic    string
	FromHead bool
	MaxWait  time.Duration
}

// ReaderInterface abstracts kafka.Reader for testing.
type ReaderInterface interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventHandler receives decoded envelopes.  A handler error stops Run.
type EventHandler func(ctx context.Context, e *EventEnvelope) error

// Consumer reads event envelopes from one topic.
type Consumer struct {
	reader ReaderInterface
	logger logging.Logger
}

// NewConsumer creates a group consumer on cfg.Topic.
func NewConsumer(cfg ConsumerConfig, logger logging.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "kafka brokers required")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultSolveTopic
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "optiflow-cli"
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = time.Second
	}
	start := kafka.LastOffset
	if cfg.FromHead {
		start = kafka.FirstOffset
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		MaxWait:     cfg.MaxWait,
		StartOffset: start,
	})
	return newConsumer(reader, logger), nil
}

func newConsumer(r ReaderInterface, logger logging.Logger) *Consumer {
	return &Consumer{reader: r, logger: logging.OrNop(logger).Named("kafka.consumer")}
}

// Run fetches until ctx ends or handle fails.  Undecodable records are
// logged and committed; a record is committed only after handle succeeds.
func (c *Consumer) Run(ctx context.Context, handle EventHandler) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, errors.ErrCodeExternalService, "fetch message")
		}
		env, err := EnvelopeFromMessage(m)
		if err != nil {
			c.logger.Warn("skipping undecodable record",
				logging.String("topic", m.Topic),
				logging.Int64("offset", m.Offset),
				logging.Err(err))
		} else if err := handle(ctx, env); err != nil {
			return err
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, errors.ErrCodeExternalService, "commit message")
		}
	}
}

// Close closes the reader.
func (c *Consumer) Close() error { return c.reader.Close() }
