package orderbook

import (
	"container/list"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/wuminzhe/matching/internal/domain"
)

// orderEntry maps an order to its linked list element for O(1) removal.
type orderEntry struct {
	element *list.Element
	level   *bookLevel
}

// bookLevel is a price level in one side of the book.
// It holds a doubly-linked list of orders at this price (FIFO).
type bookLevel struct {
	Price  decimal.Decimal
	Orders *list.List // of *domain.LimitOrder
}

func (l *bookLevel) volume() decimal.Decimal {
	total := decimal.Zero
	for e := l.Orders.Front(); e != nil; e = e.Next() {
		total = total.Add(e.Value.(*domain.LimitOrder).Volume)
	}
	return total
}

// Book represents one side (buy or sell) of an order book.
// Levels are kept sorted by ascending price; a level exists only while it
// holds at least one order.
type Book struct {
	Side   domain.Side
	levels []*bookLevel
	index  map[uint64]*orderEntry // order id -> entry
}

// NewBook creates a new order book side.
func NewBook(side domain.Side) *Book {
	return &Book{
		Side:  side,
		index: make(map[uint64]*orderEntry),
	}
}

// search returns the position of price in levels and whether it exists.
func (b *Book) search(price decimal.Decimal) (int, bool) {
	i := sort.Search(len(b.levels), func(i int) bool {
		return b.levels[i].Price.Cmp(price) >= 0
	})
	return i, i < len(b.levels) && b.levels[i].Price.Equal(price)
}

// Add appends an order to the tail of its price level.
// Orders without positive volume are ignored. Adding an id that is already
// resting panics: ids are unique per engine.
func (b *Book) Add(order domain.LimitOrder) {
	if !order.Volume.IsPositive() {
		return
	}
	if _, exists := b.index[order.ID]; exists {
		panic(fmt.Sprintf("orderbook: order %d is already resting on %s side", order.ID, b.Side))
	}

	i, found := b.search(order.Price)
	if !found {
		level := &bookLevel{
			Price:  order.Price,
			Orders: list.New(),
		}
		b.levels = append(b.levels, nil)
		copy(b.levels[i+1:], b.levels[i:])
		b.levels[i] = level
	}
	level := b.levels[i]

	resting := order
	b.index[order.ID] = &orderEntry{
		element: level.Orders.PushBack(&resting),
		level:   level,
	}
}

// Remove takes the order with the same id out of the level at its price.
// The returned bool is false when no such order rests here.
func (b *Book) Remove(order domain.LimitOrder) (domain.LimitOrder, bool) {
	entry, exists := b.index[order.ID]
	if !exists || !entry.level.Price.Equal(order.Price) {
		return domain.LimitOrder{}, false
	}

	level := entry.level
	removed := *level.Orders.Remove(entry.element).(*domain.LimitOrder)
	delete(b.index, order.ID)

	if level.Orders.Len() == 0 {
		if i, found := b.search(level.Price); found {
			b.levels = append(b.levels[:i], b.levels[i+1:]...)
		}
	}
	return removed, true
}

// bestLevel is the highest level for bids and the lowest for asks.
func (b *Book) bestLevel() *bookLevel {
	if len(b.levels) == 0 {
		return nil
	}
	if b.Side == domain.SideBuy {
		return b.levels[len(b.levels)-1]
	}
	return b.levels[0]
}

// Top returns the oldest order at the best price, or nil if the book is
// empty. The pointer refers to the resting order itself.
func (b *Book) Top() *domain.LimitOrder {
	level := b.bestLevel()
	if level == nil {
		return nil
	}
	return level.Orders.Front().Value.(*domain.LimitOrder)
}

// BestPrice returns the best price on this side.
func (b *Book) BestPrice() (decimal.Decimal, bool) {
	level := b.bestLevel()
	if level == nil {
		return decimal.Zero, false
	}
	return level.Price, true
}

// IsEmpty returns whether this side has no resting orders.
func (b *Book) IsEmpty() bool {
	return len(b.levels) == 0
}

// Len returns the number of distinct price levels.
func (b *Book) Len() int {
	return len(b.levels)
}

// OrderCount returns the number of resting orders.
func (b *Book) OrderCount() int {
	return len(b.index)
}

// Contains reports whether an order with this id rests on this side.
func (b *Book) Contains(id uint64) bool {
	_, ok := b.index[id]
	return ok
}

// eachLevel walks levels best price first.
func (b *Book) eachLevel(fn func(*bookLevel) bool) {
	if b.Side == domain.SideBuy {
		for i := len(b.levels) - 1; i >= 0; i-- {
			if !fn(b.levels[i]) {
				return
			}
		}
		return
	}
	for _, level := range b.levels {
		if !fn(level) {
			return
		}
	}
}

// Orders returns copies of all resting orders, best price first and
// arrival order within a level.
func (b *Book) Orders() []domain.BookEntry {
	entries := make([]domain.BookEntry, 0, len(b.index))
	b.eachLevel(func(level *bookLevel) bool {
		for e := level.Orders.Front(); e != nil; e = e.Next() {
			entries = append(entries, e.Value.(*domain.LimitOrder).Entry())
		}
		return true
	})
	return entries
}

// Levels aggregates the book into at most depth price levels, best first.
// A depth <= 0 returns every level.
func (b *Book) Levels(depth int) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(b.levels))
	b.eachLevel(func(level *bookLevel) bool {
		if depth > 0 && len(levels) == depth {
			return false
		}
		levels = append(levels, domain.PriceLevel{
			Price:  level.Price,
			Volume: level.volume(),
			Orders: level.Orders.Len(),
		})
		return true
	})
	return levels
}
