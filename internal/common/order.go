package common

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	UUID      string              `json:"id"`        // Order tracked uuid
	Owner     string              `json:"owner"`     // Who owns this order
	Symbol    string              `json:"symbol"`    // Book the order belongs to
	Side      Side                `json:"side"`      // Order side
	OrderType OrderType           `json:"type"`      //
	Price     decimal.NullDecimal `json:"price"`     // Limit price, absent for market orders
	Quantity  decimal.Decimal     `json:"quantity"`  // Total volume requested
	Remaining decimal.Decimal     `json:"remaining"` // Volume still open
	Timestamp time.Time           `json:"timestamp"` // Time of arrival of order
	Sequence  uint64              `json:"-"`         // Arrival order within the book
}

// NewLimitOrder builds an unplaced limit order with Remaining equal to qty.
func NewLimitOrder(owner, symbol string, side Side, price, qty decimal.Decimal) Order {
	return Order{
		Owner:     owner,
		Symbol:    symbol,
		Side:      side,
		OrderType: LimitOrder,
		Price:     decimal.NewNullDecimal(price),
		Quantity:  qty,
		Remaining: qty,
	}
}

// NewMarketOrder builds an unplaced market order with Remaining equal to qty.
func NewMarketOrder(owner, symbol string, side Side, qty decimal.Decimal) Order {
	return Order{
		Owner:     owner,
		Symbol:    symbol,
		Side:      side,
		OrderType: MarketOrder,
		Quantity:  qty,
		Remaining: qty,
	}
}

// Filled reports whether nothing is left to trade.
func (order *Order) Filled() bool {
	return !order.Remaining.IsPositive()
}

// FilledQuantity is the volume traded so far.
func (order *Order) FilledQuantity() decimal.Decimal {
	return order.Quantity.Sub(order.Remaining)
}

// Crosses reports whether order may trade at the resting price.
// Market orders cross any price.
func (order *Order) Crosses(resting decimal.Decimal) bool {
	if order.OrderType == MarketOrder {
		return true
	}
	switch order.Side {
	case Buy:
		return order.Price.Decimal.GreaterThanOrEqual(resting)
	case Sell:
		return order.Price.Decimal.LessThanOrEqual(resting)
	}
	return false
}

func (order Order) String() string {
	price := "market"
	if order.Price.Valid {
		price = order.Price.Decimal.String()
	}
	return fmt.Sprintf(
		`UUID:      %v
Owner:     %s
Symbol:    %s
Side:      %v
OrderType: %v
Price:     %s
Quantity:  %s (Remaining: %s)
Timestamp: %v`,
		order.UUID,
		order.Owner,
		order.Symbol,
		order.Side,
		order.OrderType,
		price,
		order.Quantity,
		order.Remaining,
		order.Timestamp.Format(time.RFC3339Nano),
	)
}
