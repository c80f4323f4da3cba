package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wuminzhe/matching/internal/domain"
	"github.com/wuminzhe/matching/internal/middleware"
	"github.com/wuminzhe/matching/internal/ordermanager"
)

const defaultRetryBackoff = 500 * time.Millisecond

// Reader is the subset of *kafka.Reader the consumer needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OrderHandler accepts decoded order commands.
type OrderHandler interface {
	PlaceOrder(ctx context.Context, side domain.Side, price, volume decimal.Decimal, createdBy string) (domain.OrderRecord, error)
	CancelOrder(ctx context.Context, orderID uint64) (domain.OrderRecord, error)
}

// Consumer reads order commands from a Kafka topic. A message is committed
// only once the handler accepted it or rejected it for good; transient
// failures are retried in place so commands keep their queue order.
type Consumer struct {
	reader       Reader
	handler      OrderHandler
	logger       *zap.Logger
	retryBackoff time.Duration
}

// NewConsumer creates a consumer-group reader on topic.
func NewConsumer(brokers []string, topic, groupID string, handler OrderHandler, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  100 * time.Millisecond,
	})
	return NewConsumerWithReader(reader, handler, logger)
}

// NewConsumerWithReader creates a consumer over an existing reader.
func NewConsumerWithReader(reader Reader, handler OrderHandler, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		reader:       reader,
		handler:      handler,
		logger:       logger.Named("ingest"),
		retryBackoff: defaultRetryBackoff,
	}
}

// Run consumes until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer c.logger.Info("consumer stopped")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		if err := c.handleWithRetry(ctx, msg); err != nil {
			// Only ctx cancellation ends the retry loop.
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to commit offset %d: %w", msg.Offset, err)
		}
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) handleWithRetry(ctx context.Context, msg kafka.Message) error {
	for {
		err := c.handle(ctx, msg)
		if err == nil {
			return nil
		}

		middleware.IngestMessagesTotal.WithLabelValues("retry").Inc()
		c.logger.Warn("transient failure, retrying",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))

		select {
		case <-time.After(c.retryBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handle returns an error only for failures worth retrying.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	var cmd domain.OrderCommand
	if err := json.Unmarshal(msg.Value, &cmd); err != nil {
		middleware.IngestMessagesTotal.WithLabelValues("malformed").Inc()
		c.logger.Warn("dropping malformed command", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}

	var err error
	switch cmd.Action {
	case domain.OrderActionNew, "":
		_, err = c.handler.PlaceOrder(ctx, cmd.Side, cmd.Price, cmd.Volume, cmd.CreatedBy)
	case domain.OrderActionCancel:
		_, err = c.handler.CancelOrder(ctx, cmd.OrderID)
	default:
		err = fmt.Errorf("%w: unknown action %q", errUnknownAction, cmd.Action)
	}

	switch {
	case err == nil:
		middleware.IngestMessagesTotal.WithLabelValues("accepted").Inc()
		return nil
	case ordermanager.IsRejected(err), errors.Is(err, errUnknownAction):
		middleware.IngestMessagesTotal.WithLabelValues("rejected").Inc()
		c.logger.Info("command rejected", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	default:
		return err
	}
}

var errUnknownAction = errors.New("unknown action")
