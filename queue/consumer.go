// Package queue hosts the relay on Kafka: Consumer feeds record batches from
// the consumed topics to the relay task and commits their offsets, Producer
// publishes chat-originated records to the target topic.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/irc-relay/config"
	"github.com/onnwee/irc-relay/sink"
	"github.com/onnwee/irc-relay/telemetry"
)

// Reader is the subset of *kafka.Reader used by Consumer.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Putter receives record batches. *sink.Task implements it.
type Putter interface {
	Put(ctx context.Context, records []sink.Record) error
}

// NewReader builds a consumer-group reader for the consumed topics.
func NewReader(cfg *config.Config) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.ConsumedTopics(),
		MinBytes:    1,
		MaxBytes:    10e6,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			slog.Warn(fmt.Sprintf(msg, args...), slog.String("component", "kafka_reader"))
		}),
	})
}

// Consumer moves batches from a Reader into a Putter, in fetch order.
type Consumer struct {
	reader    Reader
	task      Putter
	batchSize int
	linger    time.Duration
}

// NewConsumer returns a consumer delivering at most batchSize records per Put,
// waiting up to linger for a batch to fill once its first record arrived.
func NewConsumer(r Reader, task Putter, batchSize int, linger time.Duration) *Consumer {
	if batchSize <= 0 {
		batchSize = config.DefaultBatchSize
	}
	if linger <= 0 {
		linger = config.DefaultBatchLinger
	}
	return &Consumer{reader: r, task: task, batchSize: batchSize, linger: linger}
}

// Run delivers batches until ctx is cancelled (returns nil) or a fetch or
// delivery fails (returns the error). Offsets are committed only after Put
// returned; a failed commit is logged and covered by the next one.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		batch, err := c.fetchBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch: %w", err)
		}
		if err := c.deliver(ctx, batch); err != nil {
			return err
		}
	}
}

func (c *Consumer) deliver(ctx context.Context, batch []kafka.Message) (err error) {
	bctx := telemetry.WithCorrelation(ctx, uuid.New().String())
	bctx, span := telemetry.StartSpan(bctx, "relay.batch", attribute.Int("records", len(batch)))
	defer func() { telemetry.EndSpan(span, err) }()

	records := make([]sink.Record, len(batch))
	for i, m := range batch {
		records[i] = Decode(m)
	}

	var putErr error
	d := telemetry.TimeFunc(telemetry.BatchDuration, func() { putErr = c.task.Put(bctx, records) })
	telemetry.IncCounter(telemetry.BatchesDelivered)
	if putErr != nil {
		return fmt.Errorf("deliver: %w", putErr)
	}

	log := telemetry.LoggerWithCorr(bctx)
	if err := c.reader.CommitMessages(ctx, batch...); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		telemetry.IncCounter(telemetry.CommitFailures)
		log.Warn("commit offsets failed", slog.Int("records", len(batch)), slog.Any("err", err))
		return nil
	}
	log.Debug("batch committed", slog.Int("records", len(batch)), slog.Duration("took", d))
	return nil
}

// fetchBatch blocks for the first message, then keeps fetching until the
// batch is full or linger has passed.
func (c *Consumer) fetchBatch(ctx context.Context) ([]kafka.Message, error) {
	first, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	batch := []kafka.Message{first}

	lctx, cancel := context.WithTimeout(ctx, c.linger)
	defer cancel()
	for len(batch) < c.batchSize {
		m, err := c.reader.FetchMessage(lctx)
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				slog.Debug("fetch ended batch early", slog.Any("err", err))
			}
			break
		}
		batch = append(batch, m)
	}
	return batch, nil
}

// Decode converts a Kafka message to a relay record. JSON object values are
// decoded into map[string]any; any other value is passed through as raw bytes
// and rejected by the task as malformed. Tombstones carry a nil value.
func Decode(m kafka.Message) sink.Record {
	rec := sink.Record{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
	}
	if m.Value == nil {
		return rec
	}
	var obj map[string]any
	if err := json.Unmarshal(m.Value, &obj); err == nil && obj != nil {
		rec.Value = obj
	} else {
		rec.Value = m.Value
	}
	return rec
}
