package sequencer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wuminzhe/matching/internal/domain"
	"github.com/wuminzhe/matching/internal/matching"
	"github.com/wuminzhe/matching/internal/middleware"
)

// ErrStopped is returned for requests made after Stop.
var ErrStopped = errors.New("sequencer stopped")

// Sequencer is the single writer in front of the matching engine. It stamps
// monotonically increasing sequence IDs on incoming orders, runs them
// through the engine one at a time, and stamps outbound executions.
// All reads of the books go through the same loop.
type Sequencer struct {
	inboundSeq  atomic.Uint64
	outboundSeq atomic.Uint64
	engine      *matching.Engine
	logger      *zap.Logger

	// Channels for the pipeline
	OrderIn      chan *domain.OrderEvent     // inbound orders from order manager
	ExecutionOut chan *domain.ExecutionEvent // outbound results to order manager

	queries chan func(*matching.Engine)

	// current collects the engine callbacks of the event being processed.
	current *domain.ExecutionEvent
	now     func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// NewSequencer creates a sequencer that owns a fresh matching engine built
// with opts.
func NewSequencer(bufferSize int, logger *zap.Logger, opts ...matching.Option) *Sequencer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sequencer{
		logger:       logger.Named("sequencer"),
		OrderIn:      make(chan *domain.OrderEvent, bufferSize),
		ExecutionOut: make(chan *domain.ExecutionEvent, bufferSize),
		queries:      make(chan func(*matching.Engine)),
		now:          time.Now,
		done:         make(chan struct{}),
	}
	listener := matching.ListenerFuncs{Trade: s.onTrade, Cancel: s.onCancel}
	s.engine = matching.NewEngine(listener, append([]matching.Option{
		matching.WithLogger(logger.Named("engine")),
	}, opts...)...)
	return s
}

// Start begins the sequencer's application loop in a goroutine.
func (s *Sequencer) Start() {
	go s.run()
}

// Stop signals the sequencer to shut down.
func (s *Sequencer) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

// Submit queues an order event for the engine.
func (s *Sequencer) Submit(ctx context.Context, event *domain.OrderEvent) error {
	select {
	case <-s.done:
		return ErrStopped
	default:
	}

	select {
	case s.OrderIn <- event:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main application loop. Single-writer consuming from OrderIn.
func (s *Sequencer) run() {
	s.logger.Info("started")
	for {
		select {
		case event := <-s.OrderIn:
			s.processEvent(event)
		case query := <-s.queries:
			query(s.engine)
		case <-s.done:
			s.logger.Info("stopped")
			return
		}
	}
}

// processEvent stamps the inbound sequence ID and dispatches to the engine.
func (s *Sequencer) processEvent(event *domain.OrderEvent) {
	seq := s.inboundSeq.Add(1)
	event.SequenceID = seq
	middleware.SequencerInboundSeq.Set(float64(seq))

	s.current = &domain.ExecutionEvent{
		SequenceID: seq,
		Action:     event.Action,
		Order:      event.Order,
		Remaining:  event.Order.Volume,
	}

	// Dispatch to matching engine (synchronous, single-threaded critical path)
	switch event.Action {
	case domain.OrderActionNew:
		after := s.engine.Submit(event.Order)
		s.current.Remaining = after.Volume
		s.current.Rested = event.Order.Side.Valid() &&
			s.engine.Book(event.Order.Side).Contains(event.Order.ID)
	case domain.OrderActionCancel:
		s.engine.Cancel(event.Order)
	default:
		s.logger.Warn("unknown order action",
			zap.String("action", string(event.Action)),
			zap.Uint64("seq", seq))
		s.current = nil
		return
	}

	result := s.current
	s.current = nil
	middleware.SequencerOutboundSeq.Set(float64(s.outboundSeq.Load()))

	select {
	case s.ExecutionOut <- result:
	case <-s.done:
		s.logger.Warn("dropping execution event on shutdown", zap.Uint64("seq", seq))
	}
}

// onTrade stamps an outbound sequence ID on each trade of the current event.
func (s *Sequencer) onTrade(trade domain.TradeEvent) {
	s.current.Executions = append(s.current.Executions, &domain.Execution{
		TradeEvent: trade,
		SequenceID: s.outboundSeq.Add(1),
		Timestamp:  s.now(),
	})
}

func (s *Sequencer) onCancel(orderID uint64) {
	s.current.Cancel = &domain.CancelEvent{OrderID: orderID, Canceled: true}
}

// do runs fn on the sequencer goroutine and waits for it.
func (s *Sequencer) do(ctx context.Context, fn func(*matching.Engine)) error {
	select {
	case <-s.done:
		return ErrStopped
	default:
	}

	finished := make(chan struct{})
	query := func(e *matching.Engine) {
		defer close(finished)
		fn(e)
	}

	select {
	case s.queries <- query:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns every resting order, read on the sequencer goroutine.
func (s *Sequencer) Snapshot(ctx context.Context) (*domain.BookSnapshot, error) {
	var snap *domain.BookSnapshot
	if err := s.do(ctx, func(e *matching.Engine) {
		snap = e.Snapshot()
	}); err != nil {
		return nil, err
	}
	return snap, nil
}

// GetL2Snapshot returns an aggregated snapshot limited to depth levels.
func (s *Sequencer) GetL2Snapshot(ctx context.Context, depth int) (*domain.L2OrderBook, error) {
	var snap *domain.L2OrderBook
	if err := s.do(ctx, func(e *matching.Engine) {
		snap = e.GetL2Snapshot(depth)
	}); err != nil {
		return nil, err
	}
	return snap, nil
}

// BookLevels reports the number of price levels per side.
func (s *Sequencer) BookLevels(ctx context.Context) (bids, asks int, err error) {
	var b, a int
	if err := s.do(ctx, func(e *matching.Engine) {
		b = e.Book(domain.SideBuy).Len()
		a = e.Book(domain.SideSell).Len()
	}); err != nil {
		return 0, 0, err
	}
	return b, a, nil
}

// CurrentInboundSeq returns the current inbound sequence number.
func (s *Sequencer) CurrentInboundSeq() uint64 {
	return s.inboundSeq.Load()
}

// CurrentOutboundSeq returns the current outbound sequence number.
func (s *Sequencer) CurrentOutboundSeq() uint64 {
	return s.outboundSeq.Load()
}
