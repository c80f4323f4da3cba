package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// LimitOrder is the unit of resting liquidity. Price never changes once
// the order exists; Volume is the remaining unfilled quantity and only
// shrinks through Fill.
type LimitOrder struct {
	ID     uint64          `json:"id"`
	Side   Side            `json:"side"`
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}

// Trade is a candidate execution computed by TradeWith.
type Trade struct {
	Price  decimal.Decimal
	Volume decimal.Decimal
	Funds  decimal.Decimal
}

// NewLimitOrder creates a limit order.
func NewLimitOrder(id uint64, side Side, price, volume decimal.Decimal) LimitOrder {
	return LimitOrder{
		ID:     id,
		Side:   side,
		Price:  price,
		Volume: volume,
	}
}

// Dust returns the smallest volume unit at the given precision, 10^-decimals.
func Dust(volumeDecimals int32) decimal.Decimal {
	return decimal.New(1, -volumeDecimals)
}

// Fill decreases the remaining volume by tradeVolume.
// Filling past the remaining volume is a matching defect and panics.
func (o *LimitOrder) Fill(tradeVolume decimal.Decimal) {
	if tradeVolume.IsNegative() {
		panic(fmt.Sprintf("domain: order %d filled by negative volume %s", o.ID, tradeVolume))
	}
	if tradeVolume.GreaterThan(o.Volume) {
		panic(fmt.Sprintf("domain: order %d filled by %s exceeds remaining %s", o.ID, tradeVolume, o.Volume))
	}
	o.Volume = o.Volume.Sub(tradeVolume)
}

// IsCrossed reports whether a counter order at counterPrice is acceptable:
// a sell takes any bid at or above its limit, a buy any ask at or below.
func (o *LimitOrder) IsCrossed(counterPrice decimal.Decimal) bool {
	switch o.Side {
	case SideSell:
		return counterPrice.GreaterThanOrEqual(o.Price)
	case SideBuy:
		return counterPrice.LessThanOrEqual(o.Price)
	default:
		return false
	}
}

// TradeWith computes the trade against a resting counter order.
// The resting order's price wins, so the incoming order only ever gets
// price improvement.
func (o *LimitOrder) TradeWith(counter *LimitOrder) (Trade, bool) {
	if !o.IsCrossed(counter.Price) {
		return Trade{}, false
	}
	price := counter.Price
	volume := decimal.Min(o.Volume, counter.Volume)
	return Trade{
		Price:  price,
		Volume: volume,
		Funds:  price.Mul(volume),
	}, true
}

// IsFilled reports whether the remaining volume is below one unit at
// volumeDecimals precision. Residue smaller than that counts as filled.
func (o *LimitOrder) IsFilled(volumeDecimals int32) bool {
	return o.Volume.LessThan(Dust(volumeDecimals))
}

// IsInert reports degenerate input that must never rest or match.
func (o *LimitOrder) IsInert() bool {
	return !o.Volume.IsPositive() || !o.Price.IsPositive()
}

// Entry returns the inspection view of the order.
func (o *LimitOrder) Entry() BookEntry {
	return BookEntry{ID: o.ID, Side: o.Side, Price: o.Price, Volume: o.Volume}
}
