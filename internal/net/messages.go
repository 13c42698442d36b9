package net

import (
	"errors"
	"fmt"

	. "meridian/internal/common"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrTrailingBytes      = errors.New("trailing bytes after message")
)

type MessageType uint16

const (
	Heartbeat MessageType = iota
	NewOrder
	QueryBook
	QueryTrades
	Subscribe
	ListSymbols
)

type ReportMessageType uint16

const (
	HeartbeatReport ReportMessageType = iota
	OrderAck
	ErrorReport
	BookReport
	TradesReport
	SymbolsReport
	OrderEventReport
)

// Message is a client request.
type Message interface {
	GetType() MessageType
	encodeBody(e *encoder)
}

// Generic message type.
type BaseMessage struct {
	TypeOf MessageType // 2 bytes
}

func (m BaseMessage) GetType() MessageType {
	return m.TypeOf
}

func (BaseMessage) encodeBody(*encoder) {}

// MarshalMessage renders m as a frame payload: [u16 type][body].
// Oversized fields or frames are an error.
func MarshalMessage(m Message) ([]byte, error) {
	e := &encoder{}
	e.u16(uint16(m.GetType()))
	m.encodeBody(e)
	return e.payload()
}

func parseMessage(msg []byte) (Message, error) {
	d := &decoder{buf: msg}
	typeOf := MessageType(d.u16())
	if d.err != nil {
		return nil, fmt.Errorf("message too short to contain header: %w", d.err)
	}

	var m Message
	switch typeOf {
	case Heartbeat, Subscribe, ListSymbols:
		m = BaseMessage{TypeOf: typeOf}
	case NewOrder:
		m = parseNewOrder(d)
	case QueryBook:
		m = QueryBookMessage{
			BaseMessage: BaseMessage{TypeOf: QueryBook},
			Symbol:      d.str(),
			Depth:       d.u16(),
		}
	case QueryTrades:
		m = QueryTradesMessage{
			BaseMessage: BaseMessage{TypeOf: QueryTrades},
			Symbol:      d.str(),
			Limit:       d.u16(),
		}
	default:
		return nil, ErrInvalidMessageType
	}

	if d.err != nil {
		return nil, d.err
	}
	if len(d.buf) > 0 {
		return nil, ErrTrailingBytes
	}
	return m, nil
}

type NewOrderMessage struct {
	BaseMessage
	Side      Side                // 1 byte
	OrderType OrderType           // 1 byte
	Symbol    string              // u16 + n bytes
	Price     decimal.NullDecimal // 1 byte presence + u16 + n bytes
	Quantity  decimal.Decimal     // u16 + n bytes
	Owner     string              // u16 + n bytes
}

func (o NewOrderMessage) encodeBody(e *encoder) {
	e.u8(uint8(o.Side))
	e.u8(uint8(o.OrderType))
	e.str(o.Symbol)
	e.nullDec(o.Price)
	e.dec(o.Quantity)
	e.str(o.Owner)
}

// Order converts the request into an unplaced order. Id and timestamp are
// left for the engine to assign.
func (o NewOrderMessage) Order() Order {
	return Order{
		Owner:     o.Owner,
		Symbol:    o.Symbol,
		Side:      o.Side,
		OrderType: o.OrderType,
		Price:     o.Price,
		Quantity:  o.Quantity,
		Remaining: o.Quantity,
	}
}

func parseNewOrder(d *decoder) NewOrderMessage {
	return NewOrderMessage{
		BaseMessage: BaseMessage{TypeOf: NewOrder},
		Side:        Side(d.u8()),
		OrderType:   OrderType(d.u8()),
		Symbol:      d.str(),
		Price:       d.nullDec(),
		Quantity:    d.dec(),
		Owner:       d.str(),
	}
}

type QueryBookMessage struct {
	BaseMessage
	Symbol string // u16 + n bytes
	Depth  uint16 // 2 bytes, 0 means default
}

func (q QueryBookMessage) encodeBody(e *encoder) {
	e.str(q.Symbol)
	e.u16(q.Depth)
}

type QueryTradesMessage struct {
	BaseMessage
	Symbol string // u16 + n bytes
	Limit  uint16 // 2 bytes, 0 means default
}

func (q QueryTradesMessage) encodeBody(e *encoder) {
	e.str(q.Symbol)
	e.u16(q.Limit)
}

// Report is a server to client message.
type Report interface {
	ReportType() ReportMessageType
	encodeBody(e *encoder)
}

// MarshalReport renders r as a frame payload: [u16 type][body].
// Oversized fields or frames are an error.
func MarshalReport(r Report) ([]byte, error) {
	e := &encoder{}
	e.u16(uint16(r.ReportType()))
	r.encodeBody(e)
	return e.payload()
}

// ParseReport decodes a frame payload written by MarshalReport.
func ParseReport(msg []byte) (Report, error) {
	d := &decoder{buf: msg}
	typeOf := ReportMessageType(d.u16())
	if d.err != nil {
		return nil, d.err
	}

	var r Report
	switch typeOf {
	case HeartbeatReport:
		r = HeartbeatAck{}
	case OrderAck:
		r = OrderAckReport{Order: d.order(), Trades: d.trades()}
	case ErrorReport:
		r = ErrorReportMessage{Err: d.str()}
	case BookReport:
		r = BookSnapshotReport{Snapshot: d.snapshot()}
	case TradesReport:
		r = RecentTradesReport{Symbol: d.str(), Trades: d.trades()}
	case SymbolsReport:
		n := d.u16()
		symbols := make([]string, 0, n)
		for i := uint16(0); i < n && d.err == nil; i++ {
			symbols = append(symbols, d.str())
		}
		r = SymbolListReport{Symbols: symbols}
	case OrderEventReport:
		r = OrderEventMessage{Event: OrderEvent{
			Symbol:   d.str(),
			Order:    d.order(),
			Trades:   d.trades(),
			Snapshot: d.snapshot(),
		}}
	default:
		return nil, ErrInvalidMessageType
	}

	if d.err != nil {
		return nil, d.err
	}
	return r, nil
}

type HeartbeatAck struct{}

func (HeartbeatAck) ReportType() ReportMessageType { return HeartbeatReport }
func (HeartbeatAck) encodeBody(*encoder) {}

// OrderAckReport answers NewOrder with the order as it left matching and
// the trades it produced.
type OrderAckReport struct {
	Order  Order
	Trades []Trade
}

func (OrderAckReport) ReportType() ReportMessageType { return OrderAck }

func (r OrderAckReport) encodeBody(e *encoder) {
	e.order(r.Order)
	e.trades(r.Trades)
}

// Filled reports whether the order traded at all.
func (r OrderAckReport) Filled() bool { return len(r.Trades) > 0 }

type ErrorReportMessage struct {
	Err string
}

func (ErrorReportMessage) ReportType() ReportMessageType { return ErrorReport }
func (r ErrorReportMessage) encodeBody(e *encoder) { e.str(r.Err) }

func (r ErrorReportMessage) Error() string { return r.Err }

type BookSnapshotReport struct {
	Snapshot Snapshot
}

func (BookSnapshotReport) ReportType() ReportMessageType { return BookReport }
func (r BookSnapshotReport) encodeBody(e *encoder) { e.snapshot(r.Snapshot) }

type RecentTradesReport struct {
	Symbol string
	Trades []Trade
}

func (RecentTradesReport) ReportType() ReportMessageType { return TradesReport }

func (r RecentTradesReport) encodeBody(e *encoder) {
	e.str(r.Symbol)
	e.trades(r.Trades)
}

type SymbolListReport struct {
	Symbols []string
}

func (SymbolListReport) ReportType() ReportMessageType { return SymbolsReport }

func (r SymbolListReport) encodeBody(e *encoder) {
	e.u16(uint16(len(r.Symbols)))
	for _, s := range r.Symbols {
		e.str(s)
	}
}

// OrderEventMessage is broadcast to subscribed sessions.
type OrderEventMessage struct {
	Event OrderEvent
}

func (OrderEventMessage) ReportType() ReportMessageType { return OrderEventReport }

func (r OrderEventMessage) encodeBody(e *encoder) {
	e.str(r.Event.Symbol)
	e.order(r.Event.Order)
	e.trades(r.Event.Trades)
	e.snapshot(r.Event.Snapshot)
}
