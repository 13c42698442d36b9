package engine

import (
	"errors"

	. "meridian/internal/common"
)

var (
	ErrUnknownSymbol    = errors.New("unknown symbol")
	ErrInvalidQuantity  = errors.New("quantity must be positive")
	ErrMissingPrice     = errors.New("limit order requires a price")
	ErrInvalidPrice     = errors.New("price must be positive")
	ErrUnexpectedPrice  = errors.New("market order must not carry a price")
	ErrInvalidSide      = errors.New("invalid order side")
	ErrInvalidOrderType = errors.New("invalid order type")
)

// ValidateOrder rejects orders that must never reach matching. It does not
// look at the symbol; the engine checks that against its registry.
func ValidateOrder(order *Order) error {
	if order.Side != Buy && order.Side != Sell {
		return ErrInvalidSide
	}
	if !order.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	if !order.Remaining.Equal(order.Quantity) {
		// Orders arrive untouched; Remaining is only ever decremented here.
		return ErrInvalidQuantity
	}

	switch order.OrderType {
	case LimitOrder:
		if !order.Price.Valid {
			return ErrMissingPrice
		}
		if !order.Price.Decimal.IsPositive() {
			return ErrInvalidPrice
		}
	case MarketOrder:
		if order.Price.Valid {
			return ErrUnexpectedPrice
		}
	default:
		return ErrInvalidOrderType
	}
	return nil
}
