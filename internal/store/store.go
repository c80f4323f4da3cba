package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/shopspring/decimal"

	"github.com/wuminzhe/matching/internal/domain"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// keys: o:<8-byte id>, t:<8-byte id>, seq:o, seq:t
var (
	orderPrefix = []byte("o:")
	tradePrefix = []byte("t:")
	orderSeqKey = []byte("seq:o")
	tradeSeqKey = []byte("seq:t")
)

func idKey(prefix []byte, id uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], id)
	return key
}

// keyUpperBound returns the smallest key greater than every key with prefix.
func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// Store persists orders and trades in Pebble.
type Store struct {
	db *pebble.DB

	// mu serializes read-modify-write cycles (sequences, volume updates).
	mu  sync.Mutex
	now func() time.Time
}

// Open opens or creates a store under dir.
func Open(dir string) (*Store, error) {
	return open(dir, &pebble.Options{})
}

// OpenWithFS opens a store under dir on the given filesystem.
func OpenWithFS(dir string, fs vfs.FS) (*Store, error) {
	return open(dir, &pebble.Options{FS: fs})
}

// OpenInMemory opens a store backed by an in-memory filesystem.
func OpenInMemory() (*Store, error) {
	return OpenWithFS("", vfs.NewMem())
}

func open(dir string, opts *pebble.Options) (*Store, error) {
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %q: %w", dir, err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(key []byte, out any) error {
	val, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	defer closer.Close()
	return json.Unmarshal(val, out)
}

func (s *Store) nextID(key []byte) (uint64, error) {
	val, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 1, nil
		}
		return 0, err
	}
	defer closer.Close()
	return binary.BigEndian.Uint64(val) + 1, nil
}

func setJSON(batch *pebble.Batch, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return batch.Set(key, data, nil)
}

func setSeq(batch *pebble.Batch, key []byte, id uint64) error {
	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, id)
	return batch.Set(key, val, nil)
}

// CreateOrder allocates the next order id and stores a waiting order.
func (s *Store) CreateOrder(side domain.Side, price, volume decimal.Decimal, createdBy string) (domain.OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.nextID(orderSeqKey)
	if err != nil {
		return domain.OrderRecord{}, fmt.Errorf("failed to allocate order id: %w", err)
	}

	now := s.now()
	order := domain.OrderRecord{
		ID:           id,
		Side:         side,
		Price:        price,
		Volume:       volume,
		OriginVolume: volume,
		State:        domain.OrderStateWait,
		CreatedBy:    createdBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := setJSON(batch, idKey(orderPrefix, id), order); err != nil {
		return domain.OrderRecord{}, fmt.Errorf("failed to save order: %w", err)
	}
	if err := setSeq(batch, orderSeqKey, id); err != nil {
		return domain.OrderRecord{}, fmt.Errorf("failed to save order sequence: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return domain.OrderRecord{}, fmt.Errorf("failed to commit order: %w", err)
	}
	return order, nil
}

// GetOrder loads an order by id.
func (s *Store) GetOrder(id uint64) (domain.OrderRecord, error) {
	var order domain.OrderRecord
	if err := s.get(idKey(orderPrefix, id), &order); err != nil {
		return domain.OrderRecord{}, fmt.Errorf("order %d: %w", id, err)
	}
	return order, nil
}

// ApplyTrade stores the trade and reduces the remaining volume of both
// orders in one atomic batch.
func (s *Store) ApplyTrade(event domain.TradeEvent) (domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ask, err := s.GetOrder(event.AskOrderID)
	if err != nil {
		return domain.TradeRecord{}, err
	}
	bid, err := s.GetOrder(event.BidOrderID)
	if err != nil {
		return domain.TradeRecord{}, err
	}

	id, err := s.nextID(tradeSeqKey)
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("failed to allocate trade id: %w", err)
	}

	now := s.now()
	trade := domain.TradeRecord{
		ID:         id,
		Price:      event.Price,
		Volume:     event.Volume,
		Funds:      event.Funds,
		AskOrderID: event.AskOrderID,
		BidOrderID: event.BidOrderID,
		CreatedAt:  now,
	}
	applyFill(&ask, event.Volume, event.AskOrderFilled, now)
	applyFill(&bid, event.Volume, event.BidOrderFilled, now)

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := setJSON(batch, idKey(tradePrefix, id), trade); err != nil {
		return domain.TradeRecord{}, fmt.Errorf("failed to save trade: %w", err)
	}
	if err := setSeq(batch, tradeSeqKey, id); err != nil {
		return domain.TradeRecord{}, fmt.Errorf("failed to save trade sequence: %w", err)
	}
	for _, order := range []domain.OrderRecord{ask, bid} {
		if err := setJSON(batch, idKey(orderPrefix, order.ID), order); err != nil {
			return domain.TradeRecord{}, fmt.Errorf("failed to save order %d: %w", order.ID, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return domain.TradeRecord{}, fmt.Errorf("failed to commit trade: %w", err)
	}
	return trade, nil
}

func applyFill(order *domain.OrderRecord, volume decimal.Decimal, filled bool, now time.Time) {
	order.Volume = order.Volume.Sub(volume)
	order.TradesCount++
	if filled {
		order.State = domain.OrderStateDone
	}
	order.UpdatedAt = now
}

// MarkCanceled moves an order to the cancel state.
func (s *Store) MarkCanceled(id uint64) (domain.OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.GetOrder(id)
	if err != nil {
		return domain.OrderRecord{}, err
	}
	order.State = domain.OrderStateCancel
	order.UpdatedAt = s.now()

	data, err := json.Marshal(order)
	if err != nil {
		return domain.OrderRecord{}, fmt.Errorf("failed to marshal order: %w", err)
	}
	if err := s.db.Set(idKey(orderPrefix, id), data, pebble.Sync); err != nil {
		return domain.OrderRecord{}, fmt.Errorf("failed to save order: %w", err)
	}
	return order, nil
}

// ListOrders returns orders in id order, optionally filtered by state.
func (s *Store) ListOrders(state domain.OrderState) ([]domain.OrderRecord, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: orderPrefix,
		UpperBound: keyUpperBound(orderPrefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var orders []domain.OrderRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var order domain.OrderRecord
		if err := json.Unmarshal(iter.Value(), &order); err != nil {
			return nil, fmt.Errorf("failed to unmarshal order: %w", err)
		}
		if state != "" && order.State != state {
			continue
		}
		orders = append(orders, order)
	}
	return orders, iter.Error()
}

// ListTrades returns up to limit trades with an id greater than afterID.
func (s *Store) ListTrades(afterID uint64, limit int) ([]domain.TradeRecord, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: idKey(tradePrefix, afterID+1),
		UpperBound: keyUpperBound(tradePrefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var trades []domain.TradeRecord
	for iter.First(); iter.Valid(); iter.Next() {
		if limit > 0 && len(trades) == limit {
			break
		}
		var trade domain.TradeRecord
		if err := json.Unmarshal(iter.Value(), &trade); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trade: %w", err)
		}
		trades = append(trades, trade)
	}
	return trades, iter.Error()
}
