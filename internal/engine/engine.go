package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	. "meridian/internal/common"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Reporter receives an event for every accepted order once its book has been
// released. Implementations must be safe for concurrent use.
type Reporter interface {
	ReportOrder(ctx context.Context, event OrderEvent) error
}

// DefaultSymbols is SYM1..SYM10.
func DefaultSymbols() []string {
	symbols := make([]string, 0, 10)
	for i := 1; i <= 10; i++ {
		symbols = append(symbols, fmt.Sprintf("SYM%d", i))
	}
	return symbols
}

// Execution is the outcome of placing one order.
type Execution struct {
	Order  Order
	Trades []Trade
}

// Filled reports whether the order traded at all.
func (e Execution) Filled() bool { return len(e.Trades) > 0 }

// This is the main matching engine: a fixed registry of books built once at
// startup. Books for different symbols never block one another.
type Engine struct {
	books    map[string]*OrderBook
	symbols  []string
	reporter Reporter
	now      func() time.Time
}

func New(symbols []string, opts ...OrderBookOption) *Engine {
	engine := &Engine{
		books: make(map[string]*OrderBook, len(symbols)),
		now:   time.Now,
	}
	for _, symbol := range symbols {
		if _, ok := engine.books[symbol]; ok {
			continue
		}
		engine.books[symbol] = NewOrderBook(symbol, opts...)
		engine.symbols = append(engine.symbols, symbol)
	}
	return engine
}

// SetReporter installs where order events go. Call before serving traffic.
func (engine *Engine) SetReporter(reporter Reporter) {
	engine.reporter = reporter
}

// Symbols lists the tradable symbols in registration order.
func (engine *Engine) Symbols() []string {
	return slices.Clone(engine.symbols)
}

// Book returns the book for symbol.
func (engine *Engine) Book(symbol string) (*OrderBook, error) {
	book, ok := engine.books[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSymbol, symbol)
	}
	return book, nil
}

// PlaceOrder validates order at the boundary, assigns its id and timestamp
// when absent, and submits it to its book. A caller-supplied id already used
// on that symbol is rejected with ErrDuplicateOrderID. Rejected orders never
// touch any book. The resulting event is reported after the book is released;
// reporting failures are logged and do not fail the placement.
func (engine *Engine) PlaceOrder(ctx context.Context, order Order) (Execution, error) {
	book, err := engine.Book(order.Symbol)
	if err != nil {
		return Execution{}, err
	}

	if order.Remaining.IsZero() {
		order.Remaining = order.Quantity
	}
	if err := ValidateOrder(&order); err != nil {
		return Execution{}, err
	}
	if order.UUID == "" {
		order.UUID = uuid.NewString()
	}
	if order.Timestamp.IsZero() {
		order.Timestamp = engine.now()
	}

	placed := order
	final, trades, err := book.place(&placed)
	if err != nil {
		return Execution{}, fmt.Errorf("submit %s: %w", order.UUID, err)
	}
	exec := Execution{Order: final, Trades: trades}

	log.Debug().
		Str("symbol", order.Symbol).
		Str("order", order.UUID).
		Str("side", order.Side.String()).
		Str("type", order.OrderType.String()).
		Str("quantity", order.Quantity.String()).
		Int("trades", len(trades)).
		Msg("order placed")

	engine.report(ctx, book, exec)
	return exec, nil
}

func (engine *Engine) report(ctx context.Context, book *OrderBook, exec Execution) {
	if engine.reporter == nil {
		return
	}
	event := OrderEvent{
		Symbol:   book.Symbol(),
		Order:    exec.Order,
		Trades:   exec.Trades,
		Snapshot: book.Snapshot(DefaultSnapshotDepth),
	}
	if err := engine.reporter.ReportOrder(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("symbol", event.Symbol).
			Str("order", exec.Order.UUID).
			Msg("unable to report order event")
	}
}

// Snapshot returns the top depth levels of symbol's book.
func (engine *Engine) Snapshot(symbol string, depth int) (Snapshot, error) {
	book, err := engine.Book(symbol)
	if err != nil {
		return Snapshot{}, err
	}
	return book.Snapshot(depth), nil
}

// RecentTrades returns up to limit of symbol's newest trades, oldest first.
func (engine *Engine) RecentTrades(symbol string, limit int) ([]Trade, error) {
	book, err := engine.Book(symbol)
	if err != nil {
		return nil, err
	}
	return book.RecentTrades(limit), nil
}

// LastTradedPrice returns symbol's most recent execution price, if any.
func (engine *Engine) LastTradedPrice(symbol string) (decimal.NullDecimal, error) {
	book, err := engine.Book(symbol)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	price, ok := book.LastTradedPrice()
	if !ok {
		return decimal.NullDecimal{}, nil
	}
	return decimal.NewNullDecimal(price), nil
}
