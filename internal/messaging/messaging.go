package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/chefeye/internal/config"
)

const fetchRetryDelay = time.Second

// Message represents a message consumed from the bus.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
	Offset  int64
	Time    time.Time
}

// Handler processes an inbound message.
type Handler func(context.Context, Message) error

// Client is the pluggable messaging abstraction.
type Client interface {
	Publish(ctx context.Context, key []byte, value []byte) error
	Consume(ctx context.Context, handler Handler) error
	Topic() string
}

// Module wires the messaging client.
var Module = fx.Provide(NewClient)

// noopClient is used when messaging is disabled.
type noopClient struct {
	topic string
}

func (n noopClient) Publish(context.Context, []byte, []byte) error { return nil }
func (n noopClient) Consume(ctx context.Context, handler Handler) error {
	<-ctx.Done()
	return ctx.Err()
}
func (n noopClient) Topic() string { return n.topic }

type producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// kafkaClient publishes order events and feeds them to the worker. Offsets are
// committed only after the handler succeeds, so a failed event is redelivered.
type kafkaClient struct {
	writer     producer
	reader     fetcher
	topic      string
	logger     *zap.Logger
	retryDelay time.Duration
}

func (k *kafkaClient) Publish(ctx context.Context, key []byte, value []byte) error {
	msg := kafka.Message{Key: key, Value: value}
	injectTrace(ctx, &msg.Headers)
	return k.writer.WriteMessages(ctx, msg)
}

func (k *kafkaClient) Consume(ctx context.Context, handler Handler) error {
	for {
		msg, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			k.logger.Error("kafka fetch failed", zap.Error(err))

			select {
			case <-time.After(k.retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		if err := handler(extractTrace(ctx, msg.Headers), toMessage(msg)); err != nil {
			k.logger.Error("message handler failed",
				zap.Error(err),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset))
			continue
		}

		if err := k.reader.CommitMessages(ctx, msg); err != nil {
			k.logger.Warn("commit failed", zap.Error(err), zap.Int64("offset", msg.Offset))
		}
	}
}

func (k *kafkaClient) Topic() string { return k.topic }

func (k *kafkaClient) close() error {
	return errors.Join(k.writer.Close(), k.reader.Close())
}

// toMessage copies a fetched record so handlers never alias the reader's buffers.
func toMessage(msg kafka.Message) Message {
	out := Message{
		Topic:  msg.Topic,
		Key:    append([]byte(nil), msg.Key...),
		Value:  append([]byte(nil), msg.Value...),
		Offset: msg.Offset,
		Time:   msg.Time,
	}
	if len(msg.Headers) > 0 {
		out.Headers = make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			out.Headers[h.Key] = string(h.Value)
		}
	}
	return out
}

// NewClient builds a messaging client based on configuration.
func NewClient(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (Client, error) {
	if !cfg.Messaging.Enabled || cfg.Messaging.Driver == "noop" {
		logger.Info("messaging disabled; using noop client")
		return noopClient{topic: cfg.Messaging.Kafka.Topic}, nil
	}

	switch cfg.Messaging.Driver {
	case "kafka":
		client, err := newKafkaClient(lc, cfg.Messaging, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported messaging driver: %s", cfg.Messaging.Driver)
	}
}

func newKafkaClient(lc fx.Lifecycle, cfg config.Messaging, logger *zap.Logger) (*kafkaClient, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.Kafka.Topic == "" {
		return nil, errors.New("kafka: no topic configured")
	}

	client := &kafkaClient{
		writer:     newWriter(cfg.Kafka, logger),
		reader:     kafka.NewReader(readerConfig(cfg)),
		topic:      cfg.Kafka.Topic,
		logger:     logger,
		retryDelay: fetchRetryDelay,
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			logger.Info("closing kafka client")
			return client.close()
		},
	})

	return client, nil
}

// newWriter keys events by order; the hash balancer keeps each order's events
// on one partition and therefore in order.
func newWriter(cfg config.Kafka, logger *zap.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		Logger:       kafkaLogger{logger: logger},
		ErrorLogger:  kafkaLogger{logger: logger},
	}
}

func readerConfig(cfg config.Messaging) kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:        cfg.Kafka.Brokers,
		GroupID:        cfg.ConsumerGroup,
		Topic:          cfg.Kafka.Topic,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: cfg.Kafka.CommitInterval,
		Dialer: &kafka.Dialer{
			Timeout:  cfg.Kafka.ConnectTimeout,
			ClientID: cfg.Kafka.ClientID,
		},
	}
}

type kafkaLogger struct {
	logger *zap.Logger
}

func (k kafkaLogger) Printf(msg string, args ...any) {
	k.logger.Sugar().Debugf(msg, args...)
}
