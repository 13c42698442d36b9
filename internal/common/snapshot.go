package common

import "github.com/shopspring/decimal"

// LevelSummary is one aggregated price level of a book side.
type LevelSummary struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Snapshot is a point in time view of a book's top levels.
type Snapshot struct {
	Symbol          string              `json:"symbol"`
	Bids            []LevelSummary      `json:"bids"`
	Asks            []LevelSummary      `json:"asks"`
	LastTradedPrice decimal.NullDecimal `json:"ltp"`
}

// OrderEvent is emitted once per accepted order, after matching.
type OrderEvent struct {
	Symbol   string   `json:"symbol"`
	Order    Order    `json:"order"`
	Trades   []Trade  `json:"trades"`
	Snapshot Snapshot `json:"snapshot"`
}
