package broadcast

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/wuminzhe/matching/internal/domain"
	"github.com/wuminzhe/matching/internal/middleware"
)

// MsgPublisher is the subset of *nats.Conn the broadcaster needs.
type MsgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// TradeMessage is published for every execution.
type TradeMessage struct {
	Market string `json:"market"`
	domain.Execution
}

// CancelMessage is published for every confirmed cancel.
type CancelMessage struct {
	Market     string `json:"market"`
	SequenceID uint64 `json:"sequence_id"`
	domain.CancelEvent
}

// Broadcaster fans trades and cancels out on NATS subjects
// matching.<market>.trades and matching.<market>.cancels.
type Broadcaster struct {
	pub    MsgPublisher
	conn   *nats.Conn
	market string
	logger *zap.Logger

	tradeSubject  string
	cancelSubject string
}

// Connect dials NATS and returns a broadcaster that owns the connection.
func Connect(url, market string, logger *zap.Logger) (*Broadcaster, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("broadcast")

	opts := []nats.Option{
		nats.Name("matching-" + market),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	b := New(conn, market, logger)
	b.conn = conn
	return b, nil
}

// New creates a broadcaster over an existing publisher.
func New(pub MsgPublisher, market string, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		pub:           pub,
		market:        market,
		logger:        logger.Named("broadcast"),
		tradeSubject:  TradeSubject(market),
		cancelSubject: CancelSubject(market),
	}
}

func TradeSubject(market string) string  { return "matching." + market + ".trades" }
func CancelSubject(market string) string { return "matching." + market + ".cancels" }

// OnExecution publishes the trades and the cancel carried by event.
func (b *Broadcaster) OnExecution(event *domain.ExecutionEvent) {
	for _, exec := range event.Executions {
		b.publish("trade", b.tradeSubject, TradeMessage{Market: b.market, Execution: *exec})
	}
	if event.Cancel != nil {
		b.publish("cancel", b.cancelSubject, CancelMessage{
			Market:      b.market,
			SequenceID:  event.SequenceID,
			CancelEvent: *event.Cancel,
		})
	}
}

func (b *Broadcaster) publish(kind, subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		middleware.BroadcastPublishedTotal.WithLabelValues(kind, "error").Inc()
		b.logger.Error("failed to marshal message", zap.String("kind", kind), zap.Error(err))
		return
	}

	msg := nats.NewMsg(subject)
	msg.Header.Set(nats.MsgIdHdr, uuid.New().String())
	msg.Data = data

	if err := b.pub.PublishMsg(msg); err != nil {
		middleware.BroadcastPublishedTotal.WithLabelValues(kind, "error").Inc()
		b.logger.Error("failed to publish", zap.String("subject", subject), zap.Error(err))
		return
	}
	middleware.BroadcastPublishedTotal.WithLabelValues(kind, "ok").Inc()
}

// Close drains and closes the connection opened by Connect.
func (b *Broadcaster) Close() {
	if b.conn != nil {
		b.conn.Drain()
		b.conn.Close()
	}
}
