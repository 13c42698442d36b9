package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"meridian/internal/common"
	meridianNet "meridian/internal/net"

	"github.com/shopspring/decimal"
)

func main() {
	// 1. CLI Parameter Parsing
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the exchange server")
	owner := flag.String("owner", "", "Owner username (compulsory for place)")
	action := flag.String("action", "place", "Action to perform: ['place', 'book', 'trades', 'symbols', 'watch']")

	// Order Parameters
	symbol := flag.String("symbol", "SYM1", "Symbol to trade or query")
	sideStr := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	typeStr := flag.String("type", "limit", "Order type: 'limit' or 'market'")
	priceStr := flag.String("price", "", "Limit price (omit for market orders)")
	qtyStr := flag.String("qty", "10", "Quantity or comma-separated list (e.g. 10,20,50)")

	// Query Parameters
	depth := flag.Uint("depth", 10, "Book levels per side")
	limit := flag.Uint("limit", 200, "Number of recent trades")

	flag.Parse()

	// Connect to Server
	conn, err := net.DialTimeout("tcp", *serverAddr, 5*time.Second)
	if err != nil {
		log.Fatalf("Failed to connect to server at %s: %v", *serverAddr, err)
	}
	defer conn.Close()

	// Execute Action
	switch strings.ToLower(*action) {
	case "place":
		// Validation
		if *owner == "" {
			fmt.Println("Error: -owner is compulsory.")
			flag.Usage()
			os.Exit(1)
		}
		side, err := common.ParseSide(strings.ToLower(*sideStr))
		if err != nil {
			log.Fatal(err)
		}
		orderType, err := common.ParseOrderType(strings.ToLower(*typeStr))
		if err != nil {
			log.Fatal(err)
		}
		var price decimal.NullDecimal
		if *priceStr != "" {
			p, err := decimal.NewFromString(*priceStr)
			if err != nil {
				log.Fatalf("Invalid price %q: %v", *priceStr, err)
			}
			price = decimal.NewNullDecimal(p)
		}

		for _, q := range parseQuantities(*qtyStr) {
			request(conn, meridianNet.NewOrderMessage{
				BaseMessage: meridianNet.BaseMessage{TypeOf: meridianNet.NewOrder},
				Side:        side,
				OrderType:   orderType,
				Symbol:      *symbol,
				Price:       price,
				Quantity:    q,
				Owner:       *owner,
			})
		}

	case "book":
		request(conn, meridianNet.QueryBookMessage{
			BaseMessage: meridianNet.BaseMessage{TypeOf: meridianNet.QueryBook},
			Symbol:      *symbol,
			Depth:       uint16(*depth),
		})

	case "trades":
		request(conn, meridianNet.QueryTradesMessage{
			BaseMessage: meridianNet.BaseMessage{TypeOf: meridianNet.QueryTrades},
			Symbol:      *symbol,
			Limit:       uint16(*limit),
		})

	case "symbols":
		request(conn, meridianNet.BaseMessage{TypeOf: meridianNet.ListSymbols})

	case "watch":
		request(conn, meridianNet.BaseMessage{TypeOf: meridianNet.Subscribe})
		fmt.Println("\nListening for order events... (Press Ctrl+C to exit)")
		for {
			report, err := meridianNet.ReadReport(conn)
			if err != nil {
				log.Fatalf("Connection lost: %v", err)
			}
			printReport(report)
		}

	default:
		log.Fatalf("Unknown action: %s", *action)
	}
}

// parseQuantities splits a comma-separated string into decimals.
func parseQuantities(input string) []decimal.Decimal {
	var result []decimal.Decimal
	for _, p := range strings.Split(input, ",") {
		p = strings.TrimSpace(p)
		if val, err := decimal.NewFromString(p); err == nil {
			result = append(result, val)
		} else {
			log.Printf("Warning: Invalid quantity '%s', skipping.", p)
		}
	}
	return result
}

// request sends one message and prints the report that answers it.
func request(conn net.Conn, m meridianNet.Message) {
	if err := meridianNet.WriteMessage(conn, m); err != nil {
		log.Fatalf("Failed to send request: %v", err)
	}
	report, err := meridianNet.ReadReport(conn)
	if err != nil {
		log.Fatalf("Failed to read report: %v", err)
	}
	printReport(report)
}

func printReport(report meridianNet.Report) {
	switch r := report.(type) {
	case meridianNet.ErrorReportMessage:
		fmt.Printf("[SERVER ERROR] %s\n", r.Err)
	case meridianNet.OrderAckReport:
		fmt.Printf("[ACK] %s %s %s %s | filled: %v | remaining: %s\n",
			r.Order.UUID, strings.ToUpper(r.Order.Side.String()), r.Order.Symbol, r.Order.Quantity, r.Filled(), r.Order.Remaining)
		printTrades(r.Trades)
	case meridianNet.BookSnapshotReport:
		printSnapshot(r.Snapshot)
	case meridianNet.RecentTradesReport:
		fmt.Printf("[TRADES] %s (%d)\n", r.Symbol, len(r.Trades))
		printTrades(r.Trades)
	case meridianNet.SymbolListReport:
		fmt.Printf("[SYMBOLS] %s\n", strings.Join(r.Symbols, " "))
	case meridianNet.OrderEventMessage:
		fmt.Printf("\n[EVENT] %s %s %s %s by %s\n",
			r.Event.Symbol, r.Event.Order.OrderType, r.Event.Order.Side, r.Event.Order.Quantity, r.Event.Order.Owner)
		printTrades(r.Event.Trades)
		printSnapshot(r.Event.Snapshot)
	case meridianNet.HeartbeatAck:
		fmt.Println("[HEARTBEAT]")
	}
}

func printTrades(trades []common.Trade) {
	for _, t := range trades {
		fmt.Printf("  [EXECUTION] %s | Qty: %s | Price: %s | buy: %s | sell: %s\n",
			t.Symbol, t.Quantity, t.Price, t.BuyOrderID, t.SellOrderID)
	}
}

func printSnapshot(s common.Snapshot) {
	ltp := "-"
	if s.LastTradedPrice.Valid {
		ltp = s.LastTradedPrice.Decimal.String()
	}
	fmt.Printf("[BOOK] %s | LTP: %s\n", s.Symbol, ltp)
	for _, l := range s.Asks {
		fmt.Printf("  ASK %12s x %s\n", l.Price, l.Quantity)
	}
	for _, l := range s.Bids {
		fmt.Printf("  BID %12s x %s\n", l.Price, l.Quantity)
	}
}
