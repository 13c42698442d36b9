package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	. "meridian/internal/common"

	"github.com/shopspring/decimal"
)

// MaxFrameSize bounds a single frame in either direction.
const MaxFrameSize = 1 << 20

var (
	ErrMessageTooShort = errors.New("message too short")
	ErrFrameTooLarge   = errors.New("frame exceeds maximum size")
	ErrStringTooLong   = errors.New("string exceeds 65535 bytes")
)

// writeFrame writes payload prefixed with its u32 length.
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}

// readFrame reads one length-prefixed payload.
func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// encoder appends big-endian fields. Strings carry a u16 length prefix and
// decimals travel as their canonical string form. A string that does not fit
// its prefix sticks in err; nothing is ever sent shortened.
type encoder struct {
	buf []byte
	err error
}

// payload returns the encoded bytes, or the first encoding error.
func (e *encoder) payload() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	if len(e.buf) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	return e.buf, nil
}

func (e *encoder) u8(v uint8) { e.buf = append(e.buf, v) }

func (e *encoder) u16(v uint16) { e.buf = binary.BigEndian.AppendUint16(e.buf, v) }

func (e *encoder) u32(v uint32) { e.buf = binary.BigEndian.AppendUint32(e.buf, v) }

func (e *encoder) i64(v int64) { e.buf = binary.BigEndian.AppendUint64(e.buf, uint64(v)) }

func (e *encoder) str(s string) {
	if len(s) > 0xFFFF {
		if e.err == nil {
			e.err = fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(s))
		}
		return
	}
	e.u16(uint16(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) dec(d decimal.Decimal) { e.str(d.String()) }

func (e *encoder) nullDec(d decimal.NullDecimal) {
	if !d.Valid {
		e.u8(0)
		return
	}
	e.u8(1)
	e.dec(d.Decimal)
}

func (e *encoder) time(t time.Time) { e.i64(t.UnixNano()) }

func (e *encoder) order(o Order) {
	e.str(o.UUID)
	e.str(o.Owner)
	e.str(o.Symbol)
	e.u8(uint8(o.Side))
	e.u8(uint8(o.OrderType))
	e.nullDec(o.Price)
	e.dec(o.Quantity)
	e.dec(o.Remaining)
	e.time(o.Timestamp)
}

func (e *encoder) trade(t Trade) {
	e.str(t.UUID)
	e.str(t.Symbol)
	e.dec(t.Price)
	e.dec(t.Quantity)
	e.str(t.BuyOrderID)
	e.str(t.SellOrderID)
	e.time(t.Timestamp)
}

func (e *encoder) trades(trades []Trade) {
	e.u32(uint32(len(trades)))
	for _, t := range trades {
		e.trade(t)
	}
}

func (e *encoder) levels(levels []LevelSummary) {
	e.u16(uint16(len(levels)))
	for _, l := range levels {
		e.dec(l.Price)
		e.dec(l.Quantity)
	}
}

func (e *encoder) snapshot(s Snapshot) {
	e.str(s.Symbol)
	e.levels(s.Bids)
	e.levels(s.Asks)
	e.nullDec(s.LastTradedPrice)
}

// decoder reads what encoder wrote. The first failure sticks in err and
// every later read returns a zero value.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf) < n {
		d.err = ErrMessageTooShort
		return nil
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) u8() uint8 {
	if b := d.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) u16() uint16 {
	if b := d.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (d *decoder) u32() uint32 {
	if b := d.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) i64() int64 {
	if b := d.take(8); b != nil {
		return int64(binary.BigEndian.Uint64(b))
	}
	return 0
}

func (d *decoder) str() string {
	n := d.u16()
	return string(d.take(int(n)))
}

func (d *decoder) dec() decimal.Decimal {
	s := d.str()
	if d.err != nil {
		return decimal.Decimal{}
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		d.err = fmt.Errorf("invalid decimal %q: %w", s, err)
		return decimal.Decimal{}
	}
	return v
}

func (d *decoder) nullDec() decimal.NullDecimal {
	if d.u8() == 0 {
		return decimal.NullDecimal{}
	}
	v := d.dec()
	if d.err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(v)
}

func (d *decoder) time() time.Time {
	ns := d.i64()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (d *decoder) order() Order {
	return Order{
		UUID:      d.str(),
		Owner:     d.str(),
		Symbol:    d.str(),
		Side:      Side(d.u8()),
		OrderType: OrderType(d.u8()),
		Price:     d.nullDec(),
		Quantity:  d.dec(),
		Remaining: d.dec(),
		Timestamp: d.time(),
	}
}

func (d *decoder) trade() Trade {
	return Trade{
		UUID:        d.str(),
		Symbol:      d.str(),
		Price:       d.dec(),
		Quantity:    d.dec(),
		BuyOrderID:  d.str(),
		SellOrderID: d.str(),
		Timestamp:   d.time(),
	}
}

func (d *decoder) trades() []Trade {
	n := d.u32()
	trades := make([]Trade, 0, min(int(n), 1024))
	for i := uint32(0); i < n && d.err == nil; i++ {
		trades = append(trades, d.trade())
	}
	return trades
}

func (d *decoder) levels() []LevelSummary {
	n := d.u16()
	levels := make([]LevelSummary, 0, n)
	for i := uint16(0); i < n && d.err == nil; i++ {
		levels = append(levels, LevelSummary{Price: d.dec(), Quantity: d.dec()})
	}
	return levels
}

func (d *decoder) snapshot() Snapshot {
	return Snapshot{
		Symbol:          d.str(),
		Bids:            d.levels(),
		Asks:            d.levels(),
		LastTradedPrice: d.nullDec(),
	}
}
