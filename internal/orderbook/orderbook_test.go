package orderbook

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

func TestNewBook_Empty(t *testing.T) {
	book := NewBook(domain.SideBuy)
	assert.True(t, book.IsEmpty())
	assert.Equal(t, 0, book.Len())
	assert.Nil(t, book.Top())
}

func TestAddOrder(t *testing.T) {
	book := NewBook(domain.SideBuy)

	order := newOrder(123456, domain.SideBuy, "1.34", "3.00")
	book.Add(order)

	require.False(t, book.IsEmpty())
	top := book.Top()
	require.NotNil(t, top)
	assert.Equal(t, order, *top)
}

func TestAddOrder_NonPositiveVolumeIgnored(t *testing.T) {
	book := NewBook(domain.SideSell)

	book.Add(newOrder(1, domain.SideSell, "1", "0"))
	book.Add(newOrder(2, domain.SideSell, "1", "-3"))

	assert.True(t, book.IsEmpty())
	assert.False(t, book.Contains(1))
}

func TestAddOrder_DuplicateIDPanics(t *testing.T) {
	book := NewBook(domain.SideSell)
	book.Add(newOrder(1, domain.SideSell, "1", "1"))

	assert.Panics(t, func() {
		book.Add(newOrder(1, domain.SideSell, "2", "1"))
	})
}

func TestAddOrder_EqualPricesShareLevel(t *testing.T) {
	book := NewBook(domain.SideSell)

	book.Add(newOrder(1, domain.SideSell, "1.30", "1"))
	book.Add(newOrder(2, domain.SideSell, "1.3", "2"))

	assert.Equal(t, 1, book.Len())
	assert.Equal(t, 2, book.OrderCount())
}

func TestRemoveOrder(t *testing.T) {
	book := NewBook(domain.SideBuy)

	order := newOrder(123456, domain.SideBuy, "1.34", "3.00")
	book.Add(order)

	removed, ok := book.Remove(*book.Top())
	require.True(t, ok)
	assert.Equal(t, order, removed)
	assert.True(t, book.IsEmpty())
}

func TestRemoveOrder_NotFound(t *testing.T) {
	book := NewBook(domain.SideBuy)
	book.Add(newOrder(1, domain.SideBuy, "1.34", "1"))

	_, ok := book.Remove(newOrder(2, domain.SideBuy, "1.34", "1"))
	assert.False(t, ok)

	// Right id, wrong price level
	_, ok = book.Remove(newOrder(1, domain.SideBuy, "1.35", "1"))
	assert.False(t, ok)

	assert.Equal(t, 1, book.OrderCount())
}

func TestRemoveOrder_MiddleOfLevel(t *testing.T) {
	book := NewBook(domain.SideSell)

	book.Add(newOrder(1, domain.SideSell, "10.01", "1"))
	book.Add(newOrder(2, domain.SideSell, "10.01", "2"))
	book.Add(newOrder(3, domain.SideSell, "10.01", "3"))

	_, ok := book.Remove(newOrder(2, domain.SideSell, "10.01", "2"))
	require.True(t, ok)

	entries := book.Orders()
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(1), entries[0].ID)
	assert.Equal(t, uint64(3), entries[1].ID)

	levels := book.Levels(5)
	require.Len(t, levels, 1)
	assert.True(t, dec("4").Equal(levels[0].Volume)) // 1 + 3
	assert.Equal(t, 2, levels[0].Orders)
}

func TestRemoveOrder_PrunesEmptyLevel(t *testing.T) {
	book := NewBook(domain.SideBuy)

	book.Add(newOrder(1, domain.SideBuy, "1.34", "1"))
	book.Add(newOrder(2, domain.SideBuy, "1.35", "1"))
	require.Equal(t, 2, book.Len())

	_, ok := book.Remove(newOrder(2, domain.SideBuy, "1.35", "1"))
	require.True(t, ok)
	assert.Equal(t, 1, book.Len())

	price, ok := book.BestPrice()
	require.True(t, ok)
	assert.True(t, dec("1.34").Equal(price))
}

func TestTop_BestPricePerSide(t *testing.T) {
	buys := NewBook(domain.SideBuy)
	buys.Add(newOrder(1, domain.SideBuy, "99.90", "1"))
	buys.Add(newOrder(2, domain.SideBuy, "100.00", "1"))
	buys.Add(newOrder(3, domain.SideBuy, "99.80", "1"))

	// Best bid = highest buy price
	assert.Equal(t, uint64(2), buys.Top().ID)

	sells := NewBook(domain.SideSell)
	sells.Add(newOrder(4, domain.SideSell, "100.20", "1"))
	sells.Add(newOrder(5, domain.SideSell, "100.10", "1"))
	sells.Add(newOrder(6, domain.SideSell, "100.30", "1"))

	// Best ask = lowest sell price
	assert.Equal(t, uint64(5), sells.Top().ID)
}

func TestTop_BestPriceDominatesEveryLevel(t *testing.T) {
	prices := []string{"5", "1.5", "7.25", "3", "7.2", "0.5", "6"}

	buys := NewBook(domain.SideBuy)
	sells := NewBook(domain.SideSell)
	for i, p := range prices {
		buys.Add(newOrder(uint64(i+1), domain.SideBuy, p, "1"))
		sells.Add(newOrder(uint64(i+100), domain.SideSell, p, "1"))
	}

	bestBid := buys.Top().Price
	for _, e := range buys.Orders() {
		assert.True(t, bestBid.GreaterThanOrEqual(e.Price))
	}
	bestAsk := sells.Top().Price
	for _, e := range sells.Orders() {
		assert.True(t, bestAsk.LessThanOrEqual(e.Price))
	}
}

func TestTop_FIFOWithinLevel(t *testing.T) {
	book := NewBook(domain.SideSell)

	// Two sells at same price - 1 arrived first
	book.Add(newOrder(1, domain.SideSell, "10.01", "1"))
	book.Add(newOrder(2, domain.SideSell, "10.01", "1"))
	book.Add(newOrder(3, domain.SideSell, "10.01", "1"))

	for _, want := range []uint64{1, 2, 3} {
		top := book.Top()
		require.NotNil(t, top)
		assert.Equal(t, want, top.ID)
		_, ok := book.Remove(*top)
		require.True(t, ok)
	}
	assert.True(t, book.IsEmpty())
}

func TestTop_MutatesRestingOrder(t *testing.T) {
	book := NewBook(domain.SideBuy)
	book.Add(newOrder(1, domain.SideBuy, "1", "5"))

	book.Top().Fill(dec("2"))

	entries := book.Orders()
	require.Len(t, entries, 1)
	assert.True(t, dec("3").Equal(entries[0].Volume))
}

func TestLevels_Depth(t *testing.T) {
	book := NewBook(domain.SideBuy)
	for i, p := range []string{"99.90", "99.80", "99.70", "99.60", "99.50"} {
		book.Add(newOrder(uint64(i+1), domain.SideBuy, p, "1"))
	}

	levels := book.Levels(3)
	require.Len(t, levels, 3)
	// Should be sorted descending for bids
	assert.True(t, dec("99.90").Equal(levels[0].Price))
	assert.True(t, dec("99.80").Equal(levels[1].Price))
	assert.True(t, dec("99.70").Equal(levels[2].Price))

	assert.Len(t, book.Levels(0), 5)
}

func TestOrders_PriceThenArrival(t *testing.T) {
	book := NewBook(domain.SideSell)
	book.Add(newOrder(1, domain.SideSell, "2", "1"))
	book.Add(newOrder(2, domain.SideSell, "1", "1"))
	book.Add(newOrder(3, domain.SideSell, "2", "1"))
	book.Add(newOrder(4, domain.SideSell, "1", "1"))

	var ids []uint64
	for _, e := range book.Orders() {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []uint64{2, 4, 1, 3}, ids)
}
