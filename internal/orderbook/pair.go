package orderbook

import "github.com/wuminzhe/matching/internal/domain"

// Pair holds the full two-sided order book for a single market.
type Pair struct {
	Market   string
	BuyBook  *Book
	SellBook *Book
}

// NewPair creates an empty buy/sell book pair.
func NewPair(market string) *Pair {
	return &Pair{
		Market:   market,
		BuyBook:  NewBook(domain.SideBuy),
		SellBook: NewBook(domain.SideSell),
	}
}

// Books returns the book an order of this side rests in and the book it
// matches against.
func (p *Pair) Books(side domain.Side) (own, counter *Book) {
	if side == domain.SideSell {
		return p.SellBook, p.BuyBook
	}
	return p.BuyBook, p.SellBook
}

// Snapshot lists every resting order on both sides.
func (p *Pair) Snapshot() *domain.BookSnapshot {
	return &domain.BookSnapshot{
		Market: p.Market,
		Bids:   p.BuyBook.Orders(),
		Asks:   p.SellBook.Orders(),
	}
}

// L2Snapshot returns an aggregated L2 order book snapshot.
func (p *Pair) L2Snapshot(depth int) *domain.L2OrderBook {
	return &domain.L2OrderBook{
		Market: p.Market,
		Bids:   p.BuyBook.Levels(depth),
		Asks:   p.SellBook.Levels(depth),
	}
}
