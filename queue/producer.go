package queue

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/onnwee/irc-relay/config"
	"github.com/onnwee/irc-relay/source"
	"github.com/onnwee/irc-relay/telemetry"
)

// Writer is the subset of *kafka.Writer used by Producer.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter builds a writer for the target topic, keyed by channel.
func NewWriter(cfg *config.Config) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			slog.Warn(msg, slog.Any("args", args), slog.String("component", "kafka_writer"))
		}),
	}
}

// Producer drains a source.Listener into a Writer.
type Producer struct {
	listener  *source.Listener
	writer    Writer
	batchSize int
}

// NewProducer returns a producer writing at most batchSize messages per call.
func NewProducer(l *source.Listener, w Writer, batchSize int) *Producer {
	if batchSize <= 0 {
		batchSize = config.DefaultBatchSize
	}
	return &Producer{listener: l, writer: w, batchSize: batchSize}
}

// Run publishes records until ctx is cancelled. Write failures are logged and
// the batch is dropped: chat has no offsets to rewind to.
func (p *Producer) Run(ctx context.Context) error {
	for {
		recs, err := p.listener.Poll(ctx, p.batchSize)
		if err != nil {
			return nil
		}
		msgs := make([]kafka.Message, 0, len(recs))
		for _, r := range recs {
			b, err := json.Marshal(r.Value)
			if err != nil {
				slog.Warn("encode chat record", slog.String("channel", r.Key), slog.Any("err", err))
				continue
			}
			msgs = append(msgs, kafka.Message{Key: []byte(r.Key), Value: b, Time: r.Value.Timestamp})
		}
		if len(msgs) == 0 {
			continue
		}
		if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			telemetry.IncCounter(telemetry.SourcePublishFail)
			slog.Warn("publish chat records failed", slog.Int("records", len(msgs)), slog.Any("err", err))
		}
	}
}
