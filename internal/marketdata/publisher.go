package marketdata

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wuminzhe/matching/internal/domain"
)

const (
	ringBufferCapacity = 100
	defaultInterval    = "1m"
)

// RingBuffer is a fixed-size circular buffer of candlesticks.
type RingBuffer struct {
	data  [ringBufferCapacity]*domain.Candlestick
	head  int // next write position
	count int
}

// Push adds a candlestick to the ring buffer.
func (rb *RingBuffer) Push(c *domain.Candlestick) {
	rb.data[rb.head] = c
	rb.head = (rb.head + 1) % ringBufferCapacity
	if rb.count < ringBufferCapacity {
		rb.count++
	}
}

// Len returns the number of stored candlesticks.
func (rb *RingBuffer) Len() int {
	return rb.count
}

// GetRecent returns the N most recent candlesticks in chronological order.
func (rb *RingBuffer) GetRecent(n int) []*domain.Candlestick {
	if n <= 0 || rb.count == 0 {
		return nil
	}
	if n > rb.count {
		n = rb.count
	}

	result := make([]*domain.Candlestick, n)
	start := (rb.head - n + ringBufferCapacity) % ringBufferCapacity
	for i := range n {
		result[i] = rb.data[(start+i)%ringBufferCapacity]
	}
	return result
}

// Publisher receives executions and maintains the trade log and candlesticks
// of one market.
type Publisher struct {
	mu sync.RWMutex

	market   string
	interval time.Duration
	logger   *zap.Logger

	// completed candles
	candles RingBuffer
	// building candle, nil until the first trade of the interval
	current *domain.Candlestick

	executions []*domain.Execution

	// Channel to receive execution events
	ExecutionIn chan *domain.ExecutionEvent

	done     chan struct{}
	stopOnce sync.Once
	ticker   *time.Ticker
}

// NewPublisher creates a new market data publisher.
func NewPublisher(market string, bufferSize int, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		market:      market,
		interval:    time.Minute,
		logger:      logger.Named("marketdata"),
		ExecutionIn: make(chan *domain.ExecutionEvent, bufferSize),
		done:        make(chan struct{}),
	}
}

// Start begins the publisher's application loop.
func (p *Publisher) Start() {
	p.ticker = time.NewTicker(p.interval)
	go p.run()
}

// Stop shuts down the publisher.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		if p.ticker != nil {
			p.ticker.Stop()
		}
		close(p.done)
	})
}

// OnExecution queues an execution event without blocking the caller.
func (p *Publisher) OnExecution(event *domain.ExecutionEvent) {
	select {
	case p.ExecutionIn <- event:
	default:
		p.logger.Warn("execution channel full, dropping event", zap.Uint64("seq", event.SequenceID))
	}
}

// run is the main application loop.
func (p *Publisher) run() {
	p.logger.Info("publisher started")
	for {
		select {
		case event := <-p.ExecutionIn:
			p.processExecutionEvent(event)
		case now := <-p.ticker.C:
			p.rotate(now)
		case <-p.done:
			p.logger.Info("publisher stopped")
			return
		}
	}
}

// processExecutionEvent updates the trade log and candles from executions.
func (p *Publisher) processExecutionEvent(event *domain.ExecutionEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, exec := range event.Executions {
		p.executions = append(p.executions, exec)
		p.updateCandle(exec)
	}
}

// updateCandle folds an execution into the building candle, closing it first
// when the execution falls into a later interval.
func (p *Publisher) updateCandle(exec *domain.Execution) {
	bucket := exec.Timestamp.Truncate(p.interval)
	if p.current != nil && bucket.After(p.current.Timestamp) {
		p.candles.Push(p.current)
		p.current = nil
	}

	if p.current == nil {
		// First trade in this interval
		p.current = &domain.Candlestick{
			Market:    p.market,
			Open:      exec.Price,
			High:      exec.Price,
			Low:       exec.Price,
			Close:     exec.Price,
			Volume:    exec.Volume,
			Funds:     exec.Funds,
			Timestamp: bucket,
			Interval:  defaultInterval,
		}
		return
	}

	c := p.current
	if exec.Price.GreaterThan(c.High) {
		c.High = exec.Price
	}
	if exec.Price.LessThan(c.Low) {
		c.Low = exec.Price
	}
	c.Close = exec.Price
	c.Volume = c.Volume.Add(exec.Volume)
	c.Funds = c.Funds.Add(exec.Funds)
}

// rotate closes the building candle once its interval has passed.
func (p *Publisher) rotate(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil || now.Before(p.current.Timestamp.Add(p.interval)) {
		return
	}
	p.candles.Push(p.current)
	p.current = nil
}

// GetCandles returns up to count completed candlesticks plus the building one.
func (p *Publisher) GetCandles(count int) []*domain.Candlestick {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := p.candles.GetRecent(count)
	if p.current != nil {
		c := *p.current
		result = append(result, &c)
	}
	return result
}

// GetExecutions returns executions involving orderID (0 for any) at or
// after since.
func (p *Publisher) GetExecutions(orderID uint64, since time.Time) []*domain.Execution {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var result []*domain.Execution
	for _, exec := range p.executions {
		if orderID != 0 && exec.AskOrderID != orderID && exec.BidOrderID != orderID {
			continue
		}
		if !since.IsZero() && exec.Timestamp.Before(since) {
			continue
		}
		result = append(result, exec)
	}
	return result
}
