package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	. "meridian/internal/common"
	"meridian/internal/engine"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockReporter struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (r *MockReporter) ReportOrder(_ context.Context, event OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func createTestEngine() (*engine.Engine, *MockReporter) {
	eng := engine.New(engine.DefaultSymbols())
	reporter := &MockReporter{}
	eng.SetReporter(reporter)
	return eng, reporter
}

func TestNew_DefaultSymbols(t *testing.T) {
	eng, _ := createTestEngine()

	symbols := eng.Symbols()
	require.Len(t, symbols, 10)
	assert.Equal(t, "SYM1", symbols[0])
	assert.Equal(t, "SYM10", symbols[9])

	// Duplicates collapse.
	assert.Equal(t, []string{"A", "B"}, engine.New([]string{"A", "B", "A"}).Symbols())
}

func TestPlaceOrder_AssignsIdentityAndReports(t *testing.T) {
	eng, reporter := createTestEngine()
	ctx := context.Background()

	exec, err := eng.PlaceOrder(ctx, NewLimitOrder("alice", "SYM1", Buy, d("101"), d("10")))
	require.NoError(t, err)
	assert.NotEmpty(t, exec.Order.UUID)
	assert.False(t, exec.Order.Timestamp.IsZero())
	assert.False(t, exec.Filled())

	exec, err = eng.PlaceOrder(ctx, NewLimitOrder("bob", "SYM1", Sell, d("100"), d("4")))
	require.NoError(t, err)
	require.True(t, exec.Filled())
	assertTrade(t, exec.Trades[0], "101", "4")
	assert.True(t, exec.Order.Filled())

	require.Len(t, reporter.events, 2)
	last := reporter.events[1]
	assert.Equal(t, "SYM1", last.Symbol)
	assert.Equal(t, exec.Order.UUID, last.Order.UUID)
	assert.Len(t, last.Trades, 1)
	assertLevels(t, []LevelSummary{level("101", "6")}, last.Snapshot.Bids)
	assert.True(t, d("101").Equal(last.Snapshot.LastTradedPrice.Decimal))
}

func TestPlaceOrder_KeepsCallerIdentity(t *testing.T) {
	eng, _ := createTestEngine()

	order := NewMarketOrder("alice", "SYM3", Buy, d("1"))
	order.UUID = "client-id"
	order.Timestamp = epoch

	exec, err := eng.PlaceOrder(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, "client-id", exec.Order.UUID)
	assert.Equal(t, epoch, exec.Order.Timestamp)
}

func TestPlaceOrder_RejectsDuplicateCallerIdentity(t *testing.T) {
	eng, reporter := createTestEngine()

	first := NewLimitOrder("alice", "SYM2", Sell, d("10"), d("1"))
	first.UUID = "client-id"
	_, err := eng.PlaceOrder(context.Background(), first)
	require.NoError(t, err)

	second := NewLimitOrder("bob", "SYM2", Buy, d("10"), d("1"))
	second.UUID = "client-id"
	_, err = eng.PlaceOrder(context.Background(), second)
	assert.ErrorIs(t, err, engine.ErrDuplicateOrderID)
	assert.Len(t, reporter.events, 1)

	snap, err := eng.Snapshot("SYM2", 10)
	require.NoError(t, err)
	assertLevels(t, []LevelSummary{level("10", "1")}, snap.Asks)

	// Books track ids per symbol.
	other := NewLimitOrder("bob", "SYM3", Buy, d("10"), d("1"))
	other.UUID = "client-id"
	_, err = eng.PlaceOrder(context.Background(), other)
	assert.NoError(t, err)
}

func TestPlaceOrder_FillsInRemaining(t *testing.T) {
	eng, _ := createTestEngine()

	order := Order{Owner: "a", Symbol: "SYM1", Side: Sell, OrderType: LimitOrder,
		Price: decimal.NewNullDecimal(d("5")), Quantity: d("2")}
	exec, err := eng.PlaceOrder(context.Background(), order)
	require.NoError(t, err)
	assert.True(t, d("2").Equal(exec.Order.Remaining))
}

func TestPlaceOrder_UnknownSymbolTouchesNoBook(t *testing.T) {
	eng, reporter := createTestEngine()

	_, err := eng.PlaceOrder(context.Background(), NewLimitOrder("x", "SYM99", Buy, d("1"), d("1")))
	assert.ErrorIs(t, err, engine.ErrUnknownSymbol)
	assert.Empty(t, reporter.events)

	for _, symbol := range eng.Symbols() {
		book, err := eng.Book(symbol)
		require.NoError(t, err)
		bids, asks := book.Depth()
		assert.Zero(t, bids+asks, symbol)
	}

	_, err = eng.Snapshot("SYM99", 10)
	assert.ErrorIs(t, err, engine.ErrUnknownSymbol)
	_, err = eng.RecentTrades("SYM99", 10)
	assert.ErrorIs(t, err, engine.ErrUnknownSymbol)
	_, err = eng.LastTradedPrice("SYM99")
	assert.ErrorIs(t, err, engine.ErrUnknownSymbol)
}

func TestPlaceOrder_InvalidOrderIsNotReported(t *testing.T) {
	eng, reporter := createTestEngine()

	_, err := eng.PlaceOrder(context.Background(), NewLimitOrder("x", "SYM1", Buy, d("1"), d("0")))
	assert.ErrorIs(t, err, engine.ErrInvalidQuantity)
	assert.Empty(t, reporter.events)
}

func TestPlaceOrder_ReporterFailureDoesNotFailPlacement(t *testing.T) {
	eng, reporter := createTestEngine()
	reporter.err = errors.New("down")

	_, err := eng.PlaceOrder(context.Background(), NewLimitOrder("x", "SYM1", Buy, d("1"), d("1")))
	assert.NoError(t, err)
	assert.Len(t, reporter.events, 1)
}

func TestEngine_SymbolsAreIndependent(t *testing.T) {
	eng, _ := createTestEngine()
	ctx := context.Background()

	_, err := eng.PlaceOrder(ctx, NewLimitOrder("a", "SYM2", Buy, d("50"), d("5")))
	require.NoError(t, err)
	_, err = eng.PlaceOrder(ctx, NewLimitOrder("b", "SYM2", Sell, d("60"), d("5")))
	require.NoError(t, err)
	// Would cross SYM2's bid, but lives on another book.
	_, err = eng.PlaceOrder(ctx, NewLimitOrder("c", "SYM3", Sell, d("40"), d("5")))
	require.NoError(t, err)

	snap, err := eng.Snapshot("SYM2", 10)
	require.NoError(t, err)
	assertLevels(t, []LevelSummary{level("50", "5")}, snap.Bids)
	assertLevels(t, []LevelSummary{level("60", "5")}, snap.Asks)

	trades, err := eng.RecentTrades("SYM2", 10)
	require.NoError(t, err)
	assert.Empty(t, trades)

	ltp, err := eng.LastTradedPrice("SYM2")
	require.NoError(t, err)
	assert.False(t, ltp.Valid)
}
