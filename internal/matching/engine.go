package matching

import (
	"go.uber.org/zap"

	"github.com/wuminzhe/matching/internal/domain"
	"github.com/wuminzhe/matching/internal/orderbook"
)

// DefaultVolumeDecimals is the precision used for dust detection when no
// option overrides it.
const DefaultVolumeDecimals int32 = 8

// Listener receives engine notifications. Both methods run synchronously
// on the caller's goroutine and must not call back into the same engine.
type Listener interface {
	OnTrade(event domain.TradeEvent)
	OnCancel(orderID uint64)
}

// ListenerFuncs adapts two plain functions to a Listener. Nil funcs are
// skipped.
type ListenerFuncs struct {
	Trade  func(domain.TradeEvent)
	Cancel func(orderID uint64)
}

func (f ListenerFuncs) OnTrade(event domain.TradeEvent) {
	if f.Trade != nil {
		f.Trade(event)
	}
}

func (f ListenerFuncs) OnCancel(orderID uint64) {
	if f.Cancel != nil {
		f.Cancel(orderID)
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithVolumeDecimals sets the precision below which remaining volume
// counts as filled.
func WithVolumeDecimals(decimals int32) Option {
	return func(e *Engine) {
		e.volumeDecimals = decimals
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMarket names the market the engine's books belong to.
func WithMarket(market string) Option {
	return func(e *Engine) {
		e.market = market
	}
}

// Engine is the matching engine for a single market. It is not safe for
// concurrent use; callers serialize access (see the sequencer package).
type Engine struct {
	market         string
	pair           *orderbook.Pair
	volumeDecimals int32
	listener       Listener
	logger         *zap.Logger
}

// NewEngine creates a new matching engine that reports to listener.
func NewEngine(listener Listener, opts ...Option) *Engine {
	e := &Engine{
		volumeDecimals: DefaultVolumeDecimals,
		listener:       listener,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.listener == nil {
		e.listener = ListenerFuncs{}
	}
	e.pair = orderbook.NewPair(e.market)
	return e
}

// Submit matches order against the counter book and rests any unfilled
// remainder in its own book. It returns the order as it stood when
// matching stopped.
func (e *Engine) Submit(order domain.LimitOrder) domain.LimitOrder {
	if !order.Side.Valid() || order.IsInert() {
		e.logger.Debug("dropping inert order",
			zap.Uint64("order_id", order.ID),
			zap.String("side", string(order.Side)),
			zap.Stringer("price", order.Price),
			zap.Stringer("volume", order.Volume))
		return order
	}

	book, counterBook := e.pair.Books(order.Side)
	e.match(&order, counterBook)

	if !order.IsFilled(e.volumeDecimals) {
		book.Add(order)
		e.logger.Debug("order resting",
			zap.Uint64("order_id", order.ID),
			zap.String("side", string(order.Side)),
			zap.Stringer("price", order.Price),
			zap.Stringer("volume", order.Volume))
	}
	return order
}

// match runs until the order is filled, the counter book is exhausted, or
// the best counter order no longer crosses. Each pass consumes at least one
// counter order or fills the incoming one, so it is bounded by the size of
// the counter book.
func (e *Engine) match(order *domain.LimitOrder, counterBook *orderbook.Book) {
	for !order.IsFilled(e.volumeDecimals) {
		counter := counterBook.Top()
		if counter == nil {
			return
		}

		trade, ok := order.TradeWith(counter)
		if !ok {
			return
		}

		order.Fill(trade.Volume)
		counter.Fill(trade.Volume)

		orderFilled := order.IsFilled(e.volumeDecimals)
		counterFilled := counter.IsFilled(e.volumeDecimals)
		counterID := counter.ID

		// Remove before emitting so listeners observe the final book.
		if counterFilled {
			counterBook.Remove(*counter)
		}

		event := domain.TradeEvent{
			Price:  trade.Price,
			Volume: trade.Volume,
			Funds:  trade.Funds,
		}
		if order.Side == domain.SideSell {
			event.AskOrderID, event.AskOrderFilled = order.ID, orderFilled
			event.BidOrderID, event.BidOrderFilled = counterID, counterFilled
		} else {
			event.AskOrderID, event.AskOrderFilled = counterID, counterFilled
			event.BidOrderID, event.BidOrderFilled = order.ID, orderFilled
		}
		e.listener.OnTrade(event)
	}
}

// Cancel removes a resting order located by id, side and price. Unknown
// orders are ignored; the listener only hears about real removals.
func (e *Engine) Cancel(order domain.LimitOrder) {
	book, _ := e.pair.Books(order.Side)
	removed, ok := book.Remove(order)
	if !ok {
		e.logger.Debug("cancel of unknown order", zap.Uint64("order_id", order.ID))
		return
	}
	e.listener.OnCancel(removed.ID)
}

// Book returns the book of the given side.
func (e *Engine) Book(side domain.Side) *orderbook.Book {
	own, _ := e.pair.Books(side)
	return own
}

// Pair exposes both books for inspection.
func (e *Engine) Pair() *orderbook.Pair {
	return e.pair
}

// VolumeDecimals returns the dust precision in use.
func (e *Engine) VolumeDecimals() int32 {
	return e.volumeDecimals
}

// Snapshot returns every resting order on both sides.
func (e *Engine) Snapshot() *domain.BookSnapshot {
	return e.pair.Snapshot()
}

// GetL2Snapshot returns an aggregated snapshot limited to depth levels.
func (e *Engine) GetL2Snapshot(depth int) *domain.L2OrderBook {
	return e.pair.L2Snapshot(depth)
}
