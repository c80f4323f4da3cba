package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/wuminzhe/matching/internal/domain"
)

// Writer is the subset of *kafka.Writer the producer needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes order commands. Every message is keyed by market so one
// market's commands stay on one partition, in order.
type Producer struct {
	writer Writer
	key    []byte
}

func NewProducer(brokers []string, topic, market string) *Producer {
	return NewProducerWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}, market)
}

func NewProducerWithWriter(writer Writer, market string) *Producer {
	return &Producer{writer: writer, key: []byte(market)}
}

// Send publishes commands in one batch.
func (p *Producer) Send(ctx context.Context, cmds ...domain.OrderCommand) error {
	msgs := make([]kafka.Message, 0, len(cmds))
	for _, cmd := range cmds {
		value, err := json.Marshal(cmd)
		if err != nil {
			return fmt.Errorf("failed to marshal command: %w", err)
		}
		msgs = append(msgs, kafka.Message{Key: p.key, Value: value})
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
