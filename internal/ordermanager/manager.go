package ordermanager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wuminzhe/matching/internal/domain"
	"github.com/wuminzhe/matching/internal/middleware"
	"github.com/wuminzhe/matching/internal/store"
)

var (
	ErrInvalidSide   = errors.New("invalid side")
	ErrInvalidAmount = errors.New("price and volume must be positive")
	ErrOrderNotOpen  = errors.New("order is not open")
)

// IsRejected reports whether err is a definitive rejection of a command, as
// opposed to a failure that may succeed on retry.
func IsRejected(err error) bool {
	return errors.Is(err, ErrInvalidSide) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrOrderNotOpen) ||
		errors.Is(err, store.ErrNotFound)
}

// Sink receives execution events once they are persisted.
type Sink interface {
	OnExecution(event *domain.ExecutionEvent)
}

// Config holds the market precision and channel sizes.
type Config struct {
	PriceDecimals  int32
	VolumeDecimals int32
	BufferSize     int
}

// Manager handles order normalization and order state.
// It receives orders from the API or the queue, persists them, and forwards
// them to the sequencer. It also receives execution events to record trades
// and cancellations.
type Manager struct {
	store  *store.Store
	cfg    Config
	logger *zap.Logger

	sinksMu sync.RWMutex
	sinks   []Sink

	// Channel to send accepted orders to the sequencer
	OrderOut chan *domain.OrderEvent

	// Channel to receive execution events from the sequencer
	ExecutionIn chan *domain.ExecutionEvent

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a new order manager.
func NewManager(st *store.Store, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:       st,
		cfg:         cfg,
		logger:      logger.Named("ordermanager"),
		OrderOut:    make(chan *domain.OrderEvent, cfg.BufferSize),
		ExecutionIn: make(chan *domain.ExecutionEvent, cfg.BufferSize),
		done:        make(chan struct{}),
	}
}

// AddSink registers a downstream consumer of execution events.
func (m *Manager) AddSink(sink Sink) {
	m.sinksMu.Lock()
	defer m.sinksMu.Unlock()
	m.sinks = append(m.sinks, sink)
}

// Start begins the execution listener goroutine.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.listenExecutions()
}

// Stop shuts down the manager and waits for the listener to exit.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
	})
	m.wg.Wait()
}

// PlaceOrder normalizes, persists and submits a new limit order.
func (m *Manager) PlaceOrder(ctx context.Context, side domain.Side, price, volume decimal.Decimal, createdBy string) (domain.OrderRecord, error) {
	order, err := m.placeOrder(ctx, side, price, volume, createdBy)
	middleware.OrdersTotal.WithLabelValues(string(domain.OrderActionNew), result(err)).Inc()
	return order, err
}

func (m *Manager) placeOrder(ctx context.Context, side domain.Side, price, volume decimal.Decimal, createdBy string) (domain.OrderRecord, error) {
	if !side.Valid() {
		return domain.OrderRecord{}, fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}
	if !price.IsPositive() || !volume.IsPositive() {
		return domain.OrderRecord{}, ErrInvalidAmount
	}

	price = price.Round(m.cfg.PriceDecimals)
	volume = volume.Truncate(m.cfg.VolumeDecimals)
	if !price.IsPositive() || !volume.IsPositive() {
		return domain.OrderRecord{}, fmt.Errorf("%w: rounds to zero at market precision", ErrInvalidAmount)
	}

	order, err := m.store.CreateOrder(side, price, volume, createdBy)
	if err != nil {
		return domain.OrderRecord{}, err
	}

	if err := m.send(ctx, &domain.OrderEvent{Action: domain.OrderActionNew, Order: order.LimitOrder()}); err != nil {
		// The order never reached the book.
		if _, cerr := m.store.MarkCanceled(order.ID); cerr != nil {
			m.logger.Error("failed to cancel unsent order", zap.Uint64("order_id", order.ID), zap.Error(cerr))
		}
		return domain.OrderRecord{}, err
	}

	m.logger.Debug("order placed",
		zap.Uint64("order_id", order.ID),
		zap.String("side", string(side)),
		zap.String("price", price.String()),
		zap.String("volume", volume.String()))
	return order, nil
}

// CancelOrder submits a cancel request for an open order.
func (m *Manager) CancelOrder(ctx context.Context, orderID uint64) (domain.OrderRecord, error) {
	order, err := m.cancelOrder(ctx, orderID)
	middleware.OrdersTotal.WithLabelValues(string(domain.OrderActionCancel), result(err)).Inc()
	return order, err
}

func (m *Manager) cancelOrder(ctx context.Context, orderID uint64) (domain.OrderRecord, error) {
	order, err := m.store.GetOrder(orderID)
	if err != nil {
		return domain.OrderRecord{}, err
	}
	if order.State != domain.OrderStateWait {
		return domain.OrderRecord{}, fmt.Errorf("%w: order %d is %s", ErrOrderNotOpen, orderID, order.State)
	}

	if err := m.send(ctx, &domain.OrderEvent{Action: domain.OrderActionCancel, Order: order.LimitOrder()}); err != nil {
		return domain.OrderRecord{}, err
	}
	return order, nil
}

func (m *Manager) send(ctx context.Context, event *domain.OrderEvent) error {
	select {
	case m.OrderOut <- event:
		return nil
	case <-m.done:
		return errors.New("order manager stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func result(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case IsRejected(err):
		return "rejected"
	default:
		return "error"
	}
}

// GetOrder returns an order by ID.
func (m *Manager) GetOrder(orderID uint64) (domain.OrderRecord, error) {
	return m.store.GetOrder(orderID)
}

// ListOrders returns stored orders, optionally filtered by state.
func (m *Manager) ListOrders(state domain.OrderState) ([]domain.OrderRecord, error) {
	return m.store.ListOrders(state)
}

// ListTrades returns stored trades after the given trade id.
func (m *Manager) ListTrades(afterID uint64, limit int) ([]domain.TradeRecord, error) {
	return m.store.ListTrades(afterID, limit)
}

// listenExecutions processes execution events from the matching engine.
func (m *Manager) listenExecutions() {
	defer m.wg.Done()
	m.logger.Info("execution listener started")
	for {
		select {
		case event := <-m.ExecutionIn:
			m.processExecutionEvent(event)
		case <-m.done:
			m.logger.Info("execution listener stopped")
			return
		}
	}
}

// processExecutionEvent records trades and cancellations, then forwards the
// event to the sinks.
func (m *Manager) processExecutionEvent(event *domain.ExecutionEvent) {
	for _, exec := range event.Executions {
		if _, err := m.store.ApplyTrade(exec.TradeEvent); err != nil {
			m.logger.Error("failed to persist trade",
				zap.Uint64("seq", exec.SequenceID),
				zap.Uint64("ask_order_id", exec.AskOrderID),
				zap.Uint64("bid_order_id", exec.BidOrderID),
				zap.Error(err))
			continue
		}
		middleware.TradesTotal.Inc()
		middleware.TradedVolume.Add(exec.Volume.InexactFloat64())
	}

	if event.Cancel != nil {
		m.markCanceled(event.Cancel.OrderID)
	}

	// A new order that neither rested nor filled was dropped by the engine.
	if event.Action == domain.OrderActionNew && !event.Rested && event.Remaining.IsPositive() {
		m.logger.Warn("order dropped by engine",
			zap.Uint64("order_id", event.Order.ID),
			zap.String("remaining", event.Remaining.String()))
		m.markCanceled(event.Order.ID)
	}

	m.sinksMu.RLock()
	defer m.sinksMu.RUnlock()
	for _, sink := range m.sinks {
		sink.OnExecution(event)
	}
}

func (m *Manager) markCanceled(orderID uint64) {
	if _, err := m.store.MarkCanceled(orderID); err != nil {
		m.logger.Error("failed to persist cancel", zap.Uint64("order_id", orderID), zap.Error(err))
	}
}
