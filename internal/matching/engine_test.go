package matching

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuminzhe/matching/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newOrder(id uint64, side domain.Side, price, volume string) domain.LimitOrder {
	return domain.NewLimitOrder(id, side, dec(price), dec(volume))
}

// recorder collects listener callbacks in order.
type recorder struct {
	trades  []domain.TradeEvent
	cancels []uint64
}

func (r *recorder) OnTrade(event domain.TradeEvent) { r.trades = append(r.trades, event) }
func (r *recorder) OnCancel(orderID uint64)         { r.cancels = append(r.cancels, orderID) }

// newSeededEngine rests Buy(1, 1.34, 1.2) and Buy(2, 1.35, 0.9).
func newSeededEngine(t *testing.T) (*Engine, *recorder) {
	t.Helper()
	rec := &recorder{}
	engine := NewEngine(rec)
	engine.Submit(newOrder(1, domain.SideBuy, "1.34", "1.2"))
	engine.Submit(newOrder(2, domain.SideBuy, "1.35", "0.9"))
	require.Empty(t, rec.trades)
	return engine, rec
}

func TestEngine_RestsNonCrossingBuys(t *testing.T) {
	engine, _ := newSeededEngine(t)

	buyBook := engine.Book(domain.SideBuy)
	assert.Equal(t, 2, buyBook.Len())
	assert.Equal(t, uint64(2), buyBook.Top().ID)
	assert.True(t, engine.Book(domain.SideSell).IsEmpty())
}

func TestEngine_PartialCrossThenRest(t *testing.T) {
	engine, rec := newSeededEngine(t)

	engine.Submit(newOrder(3, domain.SideSell, "1.345", "1.2"))

	require.Len(t, rec.trades, 1)
	trade := rec.trades[0]
	assert.True(t, dec("1.35").Equal(trade.Price)) // resting price, not 1.345
	assert.True(t, dec("0.9").Equal(trade.Volume))
	assert.True(t, dec("1.215").Equal(trade.Funds))
	assert.Equal(t, uint64(3), trade.AskOrderID)
	assert.False(t, trade.AskOrderFilled)
	assert.Equal(t, uint64(2), trade.BidOrderID)
	assert.True(t, trade.BidOrderFilled)

	buyBook := engine.Book(domain.SideBuy)
	sellBook := engine.Book(domain.SideSell)
	assert.Equal(t, 1, buyBook.Len())
	assert.Equal(t, 1, sellBook.Len())
	assert.Equal(t, uint64(1), buyBook.Top().ID)
	assert.True(t, dec("1.2").Equal(buyBook.Top().Volume))
	assert.Equal(t, uint64(3), sellBook.Top().ID)
	assert.True(t, dec("0.3").Equal(sellBook.Top().Volume))
}

func TestEngine_IncomingFullyFilled(t *testing.T) {
	engine, rec := newSeededEngine(t)

	engine.Submit(newOrder(3, domain.SideSell, "1.345", "0.8"))

	require.Len(t, rec.trades, 1)
	trade := rec.trades[0]
	assert.True(t, dec("1.35").Equal(trade.Price))
	assert.True(t, dec("0.8").Equal(trade.Volume))
	assert.True(t, dec("1.08").Equal(trade.Funds))
	assert.True(t, trade.AskOrderFilled)
	assert.False(t, trade.BidOrderFilled)

	buyBook := engine.Book(domain.SideBuy)
	sellBook := engine.Book(domain.SideSell)
	assert.Equal(t, 2, buyBook.Len())
	assert.Equal(t, 0, sellBook.Len())
	assert.Nil(t, sellBook.Top())
	assert.Equal(t, uint64(2), buyBook.Top().ID)
	assert.True(t, dec("0.1").Equal(buyBook.Top().Volume))
}

func TestEngine_BuySweepsSeveralLevels(t *testing.T) {
	rec := &recorder{}
	engine := NewEngine(rec)
	engine.Submit(newOrder(1, domain.SideSell, "100.10", "1"))
	engine.Submit(newOrder(2, domain.SideSell, "100.20", "2"))
	engine.Submit(newOrder(3, domain.SideSell, "100.30", "5"))

	engine.Submit(newOrder(4, domain.SideBuy, "100.20", "4"))

	require.Len(t, rec.trades, 2)
	assert.True(t, dec("100.10").Equal(rec.trades[0].Price)) // best ask first
	assert.True(t, dec("1").Equal(rec.trades[0].Volume))
	assert.True(t, dec("100.20").Equal(rec.trades[1].Price))
	assert.True(t, dec("2").Equal(rec.trades[1].Volume))
	for _, trade := range rec.trades {
		assert.Equal(t, uint64(4), trade.BidOrderID)
		assert.True(t, trade.AskOrderFilled)
	}
	assert.False(t, rec.trades[1].BidOrderFilled)

	// Remaining 1 rests at the buy limit, 100.30 untouched
	buyTop := engine.Book(domain.SideBuy).Top()
	require.NotNil(t, buyTop)
	assert.Equal(t, uint64(4), buyTop.ID)
	assert.True(t, dec("1").Equal(buyTop.Volume))
	assert.Equal(t, uint64(3), engine.Book(domain.SideSell).Top().ID)
}

func TestEngine_TimePriorityWithinLevel(t *testing.T) {
	rec := &recorder{}
	engine := NewEngine(rec)
	engine.Submit(newOrder(1, domain.SideSell, "10", "1"))
	engine.Submit(newOrder(2, domain.SideSell, "10", "1"))
	engine.Submit(newOrder(3, domain.SideSell, "10", "1"))

	engine.Submit(newOrder(4, domain.SideBuy, "10", "1.5"))

	require.Len(t, rec.trades, 2)
	assert.Equal(t, uint64(1), rec.trades[0].AskOrderID)
	assert.Equal(t, uint64(2), rec.trades[1].AskOrderID)
	assert.False(t, rec.trades[1].AskOrderFilled)

	top := engine.Book(domain.SideSell).Top()
	assert.Equal(t, uint64(2), top.ID) // still first in line
	assert.True(t, dec("0.5").Equal(top.Volume))
	assert.True(t, engine.Book(domain.SideBuy).IsEmpty())
}

func TestEngine_Conservation(t *testing.T) {
	rec := &recorder{}
	engine := NewEngine(rec)
	engine.Submit(newOrder(1, domain.SideBuy, "3", "0.7"))
	engine.Submit(newOrder(2, domain.SideBuy, "2.5", "1.3"))

	incoming := newOrder(3, domain.SideSell, "2", "1.5")
	after := engine.Submit(incoming)

	total := decimal.Zero
	for _, trade := range rec.trades {
		total = total.Add(trade.Volume)
		assert.True(t, trade.Price.Mul(trade.Volume).Equal(trade.Funds))
	}
	assert.True(t, incoming.Volume.Sub(after.Volume).Equal(total))

	// Counter side lost exactly what was traded: 0.7 + 1.3 - 0.5 left
	remaining := engine.Book(domain.SideBuy).Top()
	require.NotNil(t, remaining)
	assert.True(t, dec("0.5").Equal(remaining.Volume))
	assert.True(t, after.IsFilled(DefaultVolumeDecimals))
}

func TestEngine_NoCrossRestsUntouched(t *testing.T) {
	rec := &recorder{}
	engine := NewEngine(rec)
	engine.Submit(newOrder(1, domain.SideSell, "100.20", "1"))

	engine.Submit(newOrder(2, domain.SideBuy, "100.10", "1"))

	assert.Empty(t, rec.trades)
	assert.Equal(t, 1, engine.Book(domain.SideBuy).OrderCount())
	assert.Equal(t, 1, engine.Book(domain.SideSell).OrderCount())
}

func TestEngine_InertOrdersIgnored(t *testing.T) {
	rec := &recorder{}
	engine := NewEngine(rec)
	engine.Submit(newOrder(1, domain.SideSell, "1", "1"))

	engine.Submit(newOrder(2, domain.SideBuy, "5", "0"))
	engine.Submit(newOrder(3, domain.SideBuy, "5", "-1"))
	engine.Submit(newOrder(4, domain.SideBuy, "0", "1"))
	engine.Submit(domain.NewLimitOrder(5, domain.Side("hold"), dec("5"), dec("1")))

	assert.Empty(t, rec.trades)
	assert.True(t, engine.Book(domain.SideBuy).IsEmpty())
	assert.Equal(t, 1, engine.Book(domain.SideSell).OrderCount())
}

func TestEngine_DustRemainderIsFilled(t *testing.T) {
	rec := &recorder{}
	engine := NewEngine(rec, WithVolumeDecimals(2))
	engine.Submit(newOrder(1, domain.SideSell, "1", "1"))

	// 0.005 left over is below 0.01 and counts as filled
	engine.Submit(newOrder(2, domain.SideBuy, "1", "1.005"))

	require.Len(t, rec.trades, 1)
	assert.True(t, rec.trades[0].BidOrderFilled)
	assert.True(t, engine.Book(domain.SideBuy).IsEmpty())
	assert.True(t, engine.Book(domain.SideSell).IsEmpty())
}

func TestEngine_Cancel(t *testing.T) {
	rec := &recorder{}
	engine := NewEngine(rec)

	order := newOrder(5, domain.SideBuy, "1.0", "1.0")
	engine.Submit(order)

	engine.Cancel(order)
	assert.Equal(t, []uint64{5}, rec.cancels)
	assert.True(t, engine.Book(domain.SideBuy).IsEmpty())

	// Second cancel is a silent no-op
	engine.Cancel(order)
	assert.Equal(t, []uint64{5}, rec.cancels)
}

func TestEngine_CancelFilledOrderIsNoop(t *testing.T) {
	rec := &recorder{}
	engine := NewEngine(rec)
	sell := newOrder(1, domain.SideSell, "1", "1")
	engine.Submit(sell)
	engine.Submit(newOrder(2, domain.SideBuy, "1", "1"))

	engine.Cancel(sell)
	assert.Empty(t, rec.cancels)
}

func TestEngine_FilledIncomingNeverRests(t *testing.T) {
	rec := &recorder{}
	engine := NewEngine(rec)
	engine.Submit(newOrder(1, domain.SideSell, "1", "2"))

	engine.Submit(newOrder(2, domain.SideBuy, "1.5", "2"))

	assert.True(t, engine.Book(domain.SideBuy).IsEmpty())
	assert.True(t, engine.Book(domain.SideSell).IsEmpty())
	require.Len(t, rec.trades, 1)
	assert.True(t, rec.trades[0].AskOrderFilled)
	assert.True(t, rec.trades[0].BidOrderFilled)
}

func TestEngine_ListenerSeesCounterRemoved(t *testing.T) {
	var engine *Engine
	var restingAtTrade int
	engine = NewEngine(ListenerFuncs{
		Trade: func(domain.TradeEvent) {
			restingAtTrade = engine.Book(domain.SideSell).OrderCount()
		},
	})
	engine.Submit(newOrder(1, domain.SideSell, "1", "1"))
	engine.Submit(newOrder(2, domain.SideBuy, "1", "1"))

	assert.Equal(t, 0, restingAtTrade)
}

func TestEngine_NilListener(t *testing.T) {
	engine := NewEngine(nil)
	engine.Submit(newOrder(1, domain.SideSell, "1", "1"))
	assert.NotPanics(t, func() {
		engine.Submit(newOrder(2, domain.SideBuy, "1", "1"))
		engine.Cancel(newOrder(1, domain.SideSell, "1", "1"))
	})
}

func TestEngine_RepeatedFillsStayExact(t *testing.T) {
	rec := &recorder{}
	engine := NewEngine(rec)
	engine.Submit(newOrder(1, domain.SideBuy, "0.3", "1"))

	for i := range 10 {
		engine.Submit(newOrder(uint64(100+i), domain.SideSell, "0.1", "0.1"))
	}

	require.Len(t, rec.trades, 10)
	assert.True(t, rec.trades[9].BidOrderFilled)
	funds := decimal.Zero
	for _, trade := range rec.trades {
		funds = funds.Add(trade.Funds)
	}
	assert.True(t, dec("0.3").Equal(funds), "got %s", funds)
	assert.True(t, engine.Book(domain.SideBuy).IsEmpty())
}

func TestEngine_Determinism(t *testing.T) {
	orders := []domain.LimitOrder{
		newOrder(1, domain.SideSell, "10.01", "1"),
		newOrder(2, domain.SideSell, "10.01", "2"),
		newOrder(3, domain.SideBuy, "10.02", "1.5"),
		newOrder(4, domain.SideSell, "9.99", "3"),
	}

	run := func() []domain.TradeEvent {
		rec := &recorder{}
		engine := NewEngine(rec)
		for _, o := range orders {
			engine.Submit(o)
		}
		return rec.trades
	}

	trades1 := run()
	trades2 := run()

	require.Equal(t, len(trades1), len(trades2))
	for i := range trades1 {
		assert.True(t, trades1[i].Volume.Equal(trades2[i].Volume))
		assert.True(t, trades1[i].Price.Equal(trades2[i].Price))
		assert.Equal(t, trades1[i].AskOrderID, trades2[i].AskOrderID)
		assert.Equal(t, trades1[i].BidOrderID, trades2[i].BidOrderID)
	}
}

func TestEngine_Snapshot(t *testing.T) {
	engine, _ := newSeededEngine(t)
	engine.Submit(newOrder(3, domain.SideSell, "1.40", "2"))

	snap := engine.Snapshot()
	require.Len(t, snap.Bids, 2)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, uint64(2), snap.Bids[0].ID)
	assert.Equal(t, uint64(1), snap.Bids[1].ID)

	l2 := engine.GetL2Snapshot(1)
	require.Len(t, l2.Bids, 1)
	assert.True(t, dec("1.35").Equal(l2.Bids[0].Price))
}
