package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wuminzhe/matching/internal/domain"
	"github.com/wuminzhe/matching/internal/marketdata"
	"github.com/wuminzhe/matching/internal/middleware"
	"github.com/wuminzhe/matching/internal/ordermanager"
	"github.com/wuminzhe/matching/internal/sequencer"
	"github.com/wuminzhe/matching/internal/store"
)

const (
	defaultDepth       = 10
	defaultCandleCount = 100
	defaultTradeLimit  = 100
)

// Handler holds the HTTP handler dependencies.
type Handler struct {
	manager   *ordermanager.Manager
	seq       *sequencer.Sequencer
	publisher *marketdata.Publisher
	logger    *zap.Logger
}

// NewHandler creates a new Handler.
func NewHandler(manager *ordermanager.Manager, seq *sequencer.Sequencer, publisher *marketdata.Publisher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		manager:   manager,
		seq:       seq,
		publisher: publisher,
		logger:    logger.Named("handler"),
	}
}

// RegisterRoutes sets up the Gin routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	v1 := r.Group("/v1")
	{
		v1.POST("/order", h.PlaceOrder)
		v1.GET("/order/:id", h.GetOrder)
		v1.DELETE("/order/:id", h.CancelOrder)
		v1.GET("/orders", h.ListOrders)
		v1.GET("/orderbook", h.GetOrderBook)
		v1.GET("/trades", h.GetTrades)
		v1.GET("/execution", h.GetExecutions)
		v1.GET("/marketdata/orderBook/L2", h.GetL2OrderBook)
		v1.GET("/marketdata/candles", h.GetCandles)
	}
}

// Health returns a health check response.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "matching",
	})
}

// PlaceOrderRequest is the request body for placing an order. Price and
// volume accept JSON strings or numbers.
type PlaceOrderRequest struct {
	Side      domain.Side     `json:"side" binding:"required"`
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
	CreatedBy string          `json:"created_by"`
}

// PlaceOrder handles POST /v1/order.
func (h *Handler) PlaceOrder(c *gin.Context) {
	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.manager.PlaceOrder(c.Request.Context(), req.Side, req.Price, req.Volume, req.CreatedBy)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

// GetOrder handles GET /v1/order/:id.
func (h *Handler) GetOrder(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	order, err := h.manager.GetOrder(id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// CancelOrder handles DELETE /v1/order/:id.
func (h *Handler) CancelOrder(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	order, err := h.manager.CancelOrder(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, order)
}

// ListOrders handles GET /v1/orders.
func (h *Handler) ListOrders(c *gin.Context) {
	state := domain.OrderState(c.Query("state"))
	switch state {
	case "", domain.OrderStateWait, domain.OrderStateDone, domain.OrderStateCancel:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "state must be one of wait, done, cancel"})
		return
	}

	orders, err := h.manager.ListOrders(state)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if orders == nil {
		orders = []domain.OrderRecord{}
	}

	c.JSON(http.StatusOK, orders)
}

// GetOrderBook handles GET /v1/orderbook.
func (h *Handler) GetOrderBook(c *gin.Context) {
	snapshot, err := h.seq.Snapshot(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// GetTrades handles GET /v1/trades.
func (h *Handler) GetTrades(c *gin.Context) {
	var since uint64
	if s := c.Query("since"); s != "" {
		parsed, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a trade id"})
			return
		}
		since = parsed
	}
	limit := queryInt(c, "limit", defaultTradeLimit)

	trades, err := h.manager.ListTrades(since, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if trades == nil {
		trades = []domain.TradeRecord{}
	}

	c.JSON(http.StatusOK, trades)
}

// GetExecutions handles GET /v1/execution.
func (h *Handler) GetExecutions(c *gin.Context) {
	var orderID uint64
	if s := c.Query("order_id"); s != "" {
		parsed, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order_id"})
			return
		}
		orderID = parsed
	}

	var since time.Time
	if sinceStr := c.Query("since"); sinceStr != "" {
		parsed, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since format, use RFC3339"})
			return
		}
		since = parsed
	}

	executions := h.publisher.GetExecutions(orderID, since)
	if executions == nil {
		executions = []*domain.Execution{}
	}

	c.JSON(http.StatusOK, executions)
}

// GetL2OrderBook handles GET /v1/marketdata/orderBook/L2.
func (h *Handler) GetL2OrderBook(c *gin.Context) {
	depth := queryInt(c, "depth", defaultDepth)

	snapshot, err := h.seq.GetL2Snapshot(c.Request.Context(), depth)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// GetCandles handles GET /v1/marketdata/candles.
func (h *Handler) GetCandles(c *gin.Context) {
	count := queryInt(c, "count", defaultCandleCount)

	candles := h.publisher.GetCandles(count)
	if candles == nil {
		candles = []*domain.Candlestick{}
	}

	c.JSON(http.StatusOK, candles)
}

func parseID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return 0, false
	}
	return id, true
}

// queryInt reads a positive integer query parameter, falling back to def.
func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.DefaultQuery(key, strconv.Itoa(def)))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ordermanager.ErrOrderNotOpen):
		status = http.StatusConflict
	case ordermanager.IsRejected(err):
		status = http.StatusBadRequest
	case errors.Is(err, sequencer.ErrStopped):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
