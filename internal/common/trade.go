package common

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Trade accounts for the two orders that matched. Price is always the
// resting order's price.
type Trade struct {
	UUID        string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	BuyOrderID  string          `json:"buy_order_id"`
	SellOrderID string          `json:"sell_order_id"`
	Timestamp   time.Time       `json:"timestamp"`
}

func (t Trade) String() string {
	return fmt.Sprintf(
		`UUID:      %s
Symbol:    %s
Price:     %s
Quantity:  %s
Buy:       %s
Sell:      %s
Timestamp: %v`,
		t.UUID,
		t.Symbol,
		t.Price,
		t.Quantity,
		t.BuyOrderID,
		t.SellOrderID,
		t.Timestamp.Format(time.RFC3339Nano),
	)
}
