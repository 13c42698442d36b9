package common

import "fmt"

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return fmt.Sprintf("Side(%d)", int(s))
}

// Opposite returns the side an order of this side matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// ParseSide accepts the lowercase names produced by String.
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	}
	return 0, fmt.Errorf("unknown side %q", s)
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) (err error) {
	*s, err = ParseSide(string(b))
	return err
}

type OrderType int

const (
	// Limit orders are an order to buy or sell a security at a specified
	// price or better. Limit orders may rest on the order book until
	// filled.
	LimitOrder OrderType = iota
	// Market orders are instructions to buy or sell immediately against
	// whatever rests on the book. They never rest themselves; any unfilled
	// remainder is dropped.
	MarketOrder
)

func (t OrderType) String() string {
	switch t {
	case LimitOrder:
		return "limit"
	case MarketOrder:
		return "market"
	}
	return fmt.Sprintf("OrderType(%d)", int(t))
}

func ParseOrderType(s string) (OrderType, error) {
	switch s {
	case "limit":
		return LimitOrder, nil
	case "market":
		return MarketOrder, nil
	}
	return 0, fmt.Errorf("unknown order type %q", s)
}

func (t OrderType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *OrderType) UnmarshalText(b []byte) (err error) {
	*t, err = ParseOrderType(string(b))
	return err
}
