package net

import (
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	. "meridian/internal/common"
	"meridian/internal/engine"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Setup & Helpers --------------------------------------------------------

func startTestServer(t *testing.T, opts ...ServerOption) (*Server, *engine.Engine, string) {
	t.Helper()

	eng := engine.New(engine.DefaultSymbols())
	opts = append([]ServerOption{WithWorkers(4), WithIdleTimeout(5 * time.Second)}, opts...)
	srv := New("127.0.0.1", 0, eng, opts...)
	eng.SetReporter(srv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})

	addrCtx, addrCancel := context.WithTimeout(ctx, 5*time.Second)
	defer addrCancel()
	addr, err := srv.Addr(addrCtx)
	require.NoError(t, err)
	return srv, eng, addr.String()
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, m Message) Report {
	t.Helper()
	require.NoError(t, WriteMessage(conn, m))
	report, err := ReadReport(conn)
	require.NoError(t, err)
	return report
}

func limitOrder(symbol string, side Side, price, qty int64) NewOrderMessage {
	return NewOrderMessage{
		BaseMessage: BaseMessage{TypeOf: NewOrder},
		Side:        side,
		OrderType:   LimitOrder,
		Symbol:      symbol,
		Price:       decimal.NewNullDecimal(decimal.NewFromInt(price)),
		Quantity:    decimal.NewFromInt(qty),
		Owner:       "tester",
	}
}

// --- Tests ------------------------------------------------------------------

func TestServer_PlaceAndQuery(t *testing.T) {
	_, _, addr := startTestServer(t)
	conn := dial(t, addr)

	ack, ok := roundTrip(t, conn, limitOrder("SYM1", Buy, 101, 10)).(OrderAckReport)
	require.True(t, ok)
	assert.False(t, ack.Filled())
	assert.NotEmpty(t, ack.Order.UUID)

	ack, ok = roundTrip(t, conn, limitOrder("SYM1", Sell, 100, 4)).(OrderAckReport)
	require.True(t, ok)
	require.True(t, ack.Filled())
	assert.Equal(t, "101", ack.Trades[0].Price.String())
	assert.Equal(t, "4", ack.Trades[0].Quantity.String())

	book, ok := roundTrip(t, conn, QueryBookMessage{
		BaseMessage: BaseMessage{TypeOf: QueryBook}, Symbol: "SYM1",
	}).(BookSnapshotReport)
	require.True(t, ok)
	require.Len(t, book.Snapshot.Bids, 1)
	assert.Equal(t, "6", book.Snapshot.Bids[0].Quantity.String())
	assert.Equal(t, "101", book.Snapshot.LastTradedPrice.Decimal.String())

	trades, ok := roundTrip(t, conn, QueryTradesMessage{
		BaseMessage: BaseMessage{TypeOf: QueryTrades}, Symbol: "SYM1",
	}).(RecentTradesReport)
	require.True(t, ok)
	assert.Len(t, trades.Trades, 1)

	_, ok = roundTrip(t, conn, BaseMessage{TypeOf: Heartbeat}).(HeartbeatAck)
	assert.True(t, ok)
}

func TestServer_RejectionsKeepSessionOpen(t *testing.T) {
	_, _, addr := startTestServer(t)
	conn := dial(t, addr)

	rep, ok := roundTrip(t, conn, limitOrder("SYM99", Buy, 1, 1)).(ErrorReportMessage)
	require.True(t, ok)
	assert.Contains(t, rep.Err, engine.ErrUnknownSymbol.Error())

	rep, ok = roundTrip(t, conn, limitOrder("SYM1", Buy, 1, 0)).(ErrorReportMessage)
	require.True(t, ok)
	assert.Equal(t, engine.ErrInvalidQuantity.Error(), rep.Err)

	// Garbage inside a valid frame.
	require.NoError(t, writeFrame(conn, []byte{0xFF, 0xFF}))
	report, err := ReadReport(conn)
	require.NoError(t, err)
	assert.IsType(t, ErrorReportMessage{}, report)

	symbols, ok := roundTrip(t, conn, BaseMessage{TypeOf: ListSymbols}).(SymbolListReport)
	require.True(t, ok)
	assert.Len(t, symbols.Symbols, 10)
}

func TestServer_SubscribersReceiveOrderEvents(t *testing.T) {
	srv, _, addr := startTestServer(t)

	watcher := dial(t, addr)
	_, ok := roundTrip(t, watcher, BaseMessage{TypeOf: Subscribe}).(SymbolListReport)
	require.True(t, ok)

	trader := dial(t, addr)
	require.Eventually(t, func() bool { return srv.Sessions() == 2 }, time.Second, 10*time.Millisecond)

	ack, ok := roundTrip(t, trader, limitOrder("SYM2", Buy, 50, 5)).(OrderAckReport)
	require.True(t, ok)

	report, err := ReadReport(watcher)
	require.NoError(t, err)
	event, ok := report.(OrderEventMessage)
	require.True(t, ok)
	assert.Equal(t, "SYM2", event.Event.Symbol)
	assert.Equal(t, ack.Order.UUID, event.Event.Order.UUID)
	require.Len(t, event.Event.Snapshot.Bids, 1)
	assert.Equal(t, "50", event.Event.Snapshot.Bids[0].Price.String())
}

func TestServer_SessionsDoNotHoldWorkers(t *testing.T) {
	_, _, addr := startTestServer(t, WithWorkers(1))

	first := dial(t, addr)
	_, ok := roundTrip(t, first, BaseMessage{TypeOf: Heartbeat}).(HeartbeatAck)
	require.True(t, ok)

	// The first client stays connected while the second is served.
	second := dial(t, addr)
	_, ok = roundTrip(t, second, BaseMessage{TypeOf: Heartbeat}).(HeartbeatAck)
	require.True(t, ok)

	for range 3 {
		_, ok = roundTrip(t, first, BaseMessage{TypeOf: ListSymbols}).(SymbolListReport)
		assert.True(t, ok)
		_, ok = roundTrip(t, second, BaseMessage{TypeOf: Heartbeat}).(HeartbeatAck)
		assert.True(t, ok)
	}
}

func TestServer_TradesQueryIsCappedToOneFrame(t *testing.T) {
	_, eng, addr := startTestServer(t)

	ctx := context.Background()
	for i := range MaxTradesPerReport + 500 {
		sell := NewLimitOrder("seller", "SYM3", Sell, decimal.NewFromInt(100), decimal.NewFromInt(1))
		_, err := eng.PlaceOrder(ctx, sell)
		require.NoError(t, err, "sell %d", i)
		buy := NewLimitOrder("buyer", "SYM3", Buy, decimal.NewFromInt(100), decimal.NewFromInt(1))
		exec, err := eng.PlaceOrder(ctx, buy)
		require.NoError(t, err, "buy %d", i)
		require.True(t, exec.Filled())
	}

	conn := dial(t, addr)
	trades, ok := roundTrip(t, conn, QueryTradesMessage{
		BaseMessage: BaseMessage{TypeOf: QueryTrades}, Symbol: "SYM3", Limit: 0xFFFF,
	}).(RecentTradesReport)
	require.True(t, ok)
	assert.Len(t, trades.Trades, MaxTradesPerReport)

	all, err := eng.RecentTrades("SYM3", MaxTradesPerReport+500)
	require.NoError(t, err)
	assert.Equal(t, all[len(all)-1].UUID, trades.Trades[len(trades.Trades)-1].UUID, "newest trade comes last")

	_, ok = roundTrip(t, conn, BaseMessage{TypeOf: Heartbeat}).(HeartbeatAck)
	assert.True(t, ok)
}

func TestClientSession_UnencodableReportBecomesErrorReport(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	session := &ClientSession{conn: server}

	sent := make(chan error, 1)
	go func() {
		sent <- session.send(RecentTradesReport{Symbol: "SYM1", Trades: bulkTrades(10_000)}, time.Second)
	}()
	report, err := ReadReport(client)
	require.NoError(t, err)
	rep, ok := report.(ErrorReportMessage)
	require.True(t, ok)
	assert.Contains(t, rep.Err, ErrFrameTooLarge.Error())
	require.NoError(t, <-sent)

	go func() {
		sent <- session.send(SymbolListReport{Symbols: []string{strings.Repeat("S", 0x10000)}}, time.Second)
	}()
	report, err = ReadReport(client)
	require.NoError(t, err)
	rep, ok = report.(ErrorReportMessage)
	require.True(t, ok)
	assert.Contains(t, rep.Err, ErrStringTooLong.Error())
	require.NoError(t, <-sent)

	go func() { sent <- session.send(HeartbeatAck{}, time.Second) }()
	report, err = ReadReport(client)
	require.NoError(t, err)
	assert.IsType(t, HeartbeatAck{}, report)
	require.NoError(t, <-sent)
}

func TestServer_ListenFailureReleasesAddr(t *testing.T) {
	_, _, addr := startTestServer(t)
	_, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	taken := New("127.0.0.1", port, engine.New(engine.DefaultSymbols()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.Error(t, taken.Run(ctx))
	_, err = taken.Addr(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
}
