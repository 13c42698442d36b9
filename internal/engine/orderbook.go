package engine

import (
	"errors"
	"sync"
	"time"

	. "meridian/internal/common"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DefaultSnapshotDepth  = 10
	DefaultRecentTrades   = 200
	DefaultTradeRetention = 10_000
)

var (
	ErrNoTradePrice     = errors.New("no trade price: resting order has no price")
	ErrSymbolMismatch   = errors.New("order symbol does not belong to this book")
	ErrMissingOrderID   = errors.New("order has no id")
	ErrDuplicateOrderID = errors.New("order id already used in this book")
)

// OrderBookOption configures an OrderBook.
type OrderBookOption func(*OrderBook)

// WithClock replaces time.Now for trade timestamps.
func WithClock(now func() time.Time) OrderBookOption {
	return func(book *OrderBook) {
		book.now = now
	}
}

// WithTradeRetention bounds the trade and price history kept in memory.
// Zero keeps everything.
func WithTradeRetention(n int) OrderBookOption {
	return func(book *OrderBook) {
		book.retention = n
	}
}

// OrderBook owns both sides of one symbol plus its trade history. Submit is
// exclusive; reads never observe a partially applied match.
type OrderBook struct {
	mu sync.RWMutex

	symbol string
	bids   *Queue
	asks   *Queue

	trades     []Trade
	lastPrices []decimal.Decimal
	ids        map[string]struct{} // Every order id ever accepted.

	seq       uint64 // Arrival sequence for time priority ties.
	retention int
	now       func() time.Time
}

func NewOrderBook(symbol string, opts ...OrderBookOption) *OrderBook {
	book := &OrderBook{
		symbol:    symbol,
		bids:      NewQueue(Buy),
		asks:      NewQueue(Sell),
		ids:       make(map[string]struct{}),
		retention: DefaultTradeRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(book)
	}
	return book
}

func (book *OrderBook) Symbol() string { return book.symbol }

// Submit crosses order against the opposite side in price-time priority
// until it is filled or nothing crossable remains. A limit remainder rests on
// the order's own side; a market remainder is dropped.
//
// Every trade executes at the resting order's price. Submit keeps the pointer
// when the order rests, so callers must not mutate it afterwards.
//
// Order ids name trade counterparties, so each must be non-empty and never
// seen by this book before; a repeat is rejected without touching the book.
func (book *OrderBook) Submit(order *Order) ([]Trade, error) {
	_, trades, err := book.place(order)
	return trades, err
}

// place runs Submit and also returns a copy of order taken before the book
// is released, since a resting order may be mutated by later submissions.
func (book *OrderBook) place(order *Order) (Order, []Trade, error) {
	if err := ValidateOrder(order); err != nil {
		return Order{}, nil, err
	}
	if order.Symbol != book.symbol {
		return Order{}, nil, ErrSymbolMismatch
	}

	if order.UUID == "" {
		return Order{}, nil, ErrMissingOrderID
	}

	book.mu.Lock()
	defer book.mu.Unlock()

	if _, seen := book.ids[order.UUID]; seen {
		return Order{}, nil, ErrDuplicateOrderID
	}
	book.ids[order.UUID] = struct{}{}

	trades, err := book.match(order)
	return *order, trades, err
}

func (book *OrderBook) match(order *Order) ([]Trade, error) {
	book.seq++
	order.Sequence = book.seq

	opposite := book.side(order.Side.Opposite())
	var trades []Trade
	for !order.Filled() {
		resting, ok := opposite.Peek()
		if !ok {
			break
		}
		// Only limit orders ever rest, so this guards an invariant rather
		// than a reachable state.
		if !resting.Price.Valid {
			return trades, ErrNoTradePrice
		}
		// The best resting order does not cross, so nothing behind it will.
		if !order.Crosses(resting.Price.Decimal) {
			break
		}

		trade := book.execute(order, resting)
		trades = append(trades, trade)

		if resting.Filled() {
			opposite.DropFilled()
		}
	}

	if !order.Filled() && order.OrderType == LimitOrder {
		if err := book.side(order.Side).Insert(order); err != nil {
			return trades, err
		}
	}
	return trades, nil
}

// execute books one trade between the incoming taker and the resting maker.
func (book *OrderBook) execute(taker, maker *Order) Trade {
	qty := decimal.Min(taker.Remaining, maker.Remaining)
	price := maker.Price.Decimal

	taker.Remaining = taker.Remaining.Sub(qty)
	maker.Remaining = maker.Remaining.Sub(qty)

	trade := Trade{
		UUID:      uuid.NewString(),
		Symbol:    book.symbol,
		Price:     price,
		Quantity:  qty,
		Timestamp: book.now(),
	}
	if taker.Side == Buy {
		trade.BuyOrderID, trade.SellOrderID = taker.UUID, maker.UUID
	} else {
		trade.BuyOrderID, trade.SellOrderID = maker.UUID, taker.UUID
	}

	book.trades = append(book.trades, trade)
	book.lastPrices = append(book.lastPrices, price)
	book.trim()
	return trade
}

// trim drops the oldest history once past the retention bound.
func (book *OrderBook) trim() {
	if book.retention <= 0 {
		return
	}
	if over := len(book.trades) - book.retention; over > 0 {
		book.trades = append(book.trades[:0:0], book.trades[over:]...)
	}
	if over := len(book.lastPrices) - book.retention; over > 0 {
		book.lastPrices = append(book.lastPrices[:0:0], book.lastPrices[over:]...)
	}
}

// LastTradedPrice returns the most recent execution price, if any.
func (book *OrderBook) LastTradedPrice() (decimal.Decimal, bool) {
	book.mu.RLock()
	defer book.mu.RUnlock()
	return book.lastTradedPrice()
}

func (book *OrderBook) lastTradedPrice() (decimal.Decimal, bool) {
	if len(book.lastPrices) == 0 {
		return decimal.Decimal{}, false
	}
	return book.lastPrices[len(book.lastPrices)-1], true
}

// Snapshot aggregates the top depth levels of each side, best first.
// A non-positive depth uses DefaultSnapshotDepth.
func (book *OrderBook) Snapshot(depth int) Snapshot {
	if depth <= 0 {
		depth = DefaultSnapshotDepth
	}

	book.mu.RLock()
	defer book.mu.RUnlock()

	snap := Snapshot{
		Symbol: book.symbol,
		Bids:   book.bids.Levels(depth),
		Asks:   book.asks.Levels(depth),
	}
	if ltp, ok := book.lastTradedPrice(); ok {
		snap.LastTradedPrice = decimal.NewNullDecimal(ltp)
	}
	return snap
}

// RecentTrades returns up to limit of the newest trades, oldest first.
// A non-positive limit uses DefaultRecentTrades.
func (book *OrderBook) RecentTrades(limit int) []Trade {
	if limit <= 0 {
		limit = DefaultRecentTrades
	}

	book.mu.RLock()
	defer book.mu.RUnlock()

	start := max(len(book.trades)-limit, 0)
	out := make([]Trade, len(book.trades)-start)
	copy(out, book.trades[start:])
	return out
}

// Depth reports how many orders rest on each side.
func (book *OrderBook) Depth() (bids, asks int) {
	book.mu.RLock()
	defer book.mu.RUnlock()
	return book.bids.Len(), book.asks.Len()
}

func (book *OrderBook) side(s Side) *Queue {
	if s == Buy {
		return book.bids
	}
	return book.asks
}
