package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the order side (buy or sell).
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the counter side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// TradeEvent is the immutable record of one match between an incoming
// order and a resting one. Price is always the resting order's price.
type TradeEvent struct {
	Price          decimal.Decimal `json:"price"`
	Volume         decimal.Decimal `json:"volume"`
	Funds          decimal.Decimal `json:"funds"`
	AskOrderID     uint64          `json:"ask_order_id"`
	AskOrderFilled bool            `json:"ask_order_filled"`
	BidOrderID     uint64          `json:"bid_order_id"`
	BidOrderFilled bool            `json:"bid_order_filled"`
}

// CancelEvent confirms that a resting order was removed from its book.
type CancelEvent struct {
	OrderID  uint64 `json:"order_id"`
	Canceled bool   `json:"canceled"`
}

// Execution is a TradeEvent stamped by the sequencer.
type Execution struct {
	TradeEvent
	SequenceID uint64    `json:"sequence_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// OrderAction is the action type sent through the sequencer.
type OrderAction string

const (
	OrderActionNew    OrderAction = "new"
	OrderActionCancel OrderAction = "cancel"
)

// OrderEvent wraps an order with its action for the sequencer pipeline.
type OrderEvent struct {
	Action     OrderAction
	Order      LimitOrder
	SequenceID uint64
}

// ExecutionEvent is everything one OrderEvent produced inside the engine.
type ExecutionEvent struct {
	SequenceID uint64
	Action     OrderAction
	Order      LimitOrder
	Executions []*Execution
	Cancel     *CancelEvent
	// Remaining is the incoming order's volume once matching stopped.
	Remaining decimal.Decimal
	Rested    bool
}

// OrderCommand is the wire format of an order instruction arriving from a
// queue. Price and volume are raw and get normalized by the order manager.
type OrderCommand struct {
	Action    OrderAction     `json:"action"`
	OrderID   uint64          `json:"order_id,omitempty"`
	Side      Side            `json:"side,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
	CreatedBy string          `json:"created_by,omitempty"`
}

// BookEntry is one resting order as exposed for inspection.
type BookEntry struct {
	ID     uint64          `json:"id"`
	Side   Side            `json:"side"`
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}

// BookSnapshot lists every resting order, best price first, then arrival.
type BookSnapshot struct {
	Market string      `json:"market"`
	Bids   []BookEntry `json:"bids"`
	Asks   []BookEntry `json:"asks"`
}

// L2OrderBook represents an aggregated L2 order book snapshot.
type L2OrderBook struct {
	Market string       `json:"market"`
	Bids   []PriceLevel `json:"bids"`
	Asks   []PriceLevel `json:"asks"`
}

// PriceLevel represents an aggregated price level in the L2 order book.
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
	Orders int             `json:"orders"`
}

// OrderState is the persisted lifecycle state of an order.
type OrderState string

const (
	OrderStateWait   OrderState = "wait"
	OrderStateDone   OrderState = "done"
	OrderStateCancel OrderState = "cancel"
)

// OrderRecord is the persisted form of an order.
type OrderRecord struct {
	ID           uint64          `json:"id"`
	Side         Side            `json:"side"`
	Price        decimal.Decimal `json:"price"`
	Volume       decimal.Decimal `json:"volume"`
	OriginVolume decimal.Decimal `json:"origin_volume"`
	State        OrderState      `json:"state"`
	TradesCount  int             `json:"trades_count"`
	CreatedBy    string          `json:"created_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// LimitOrder returns the engine view of a stored order.
func (r OrderRecord) LimitOrder() LimitOrder {
	return LimitOrder{ID: r.ID, Side: r.Side, Price: r.Price, Volume: r.Volume}
}

// TradeRecord is the persisted form of a trade.
type TradeRecord struct {
	ID         uint64          `json:"id"`
	Price      decimal.Decimal `json:"price"`
	Volume     decimal.Decimal `json:"volume"`
	Funds      decimal.Decimal `json:"funds"`
	AskOrderID uint64          `json:"ask_order_id"`
	BidOrderID uint64          `json:"bid_order_id"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Candlestick represents OHLCV data for a time interval.
type Candlestick struct {
	Market    string          `json:"market"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Funds     decimal.Decimal `json:"funds"`
	Timestamp time.Time       `json:"timestamp"`
	Interval  string          `json:"interval"` // e.g. "1m"
}
