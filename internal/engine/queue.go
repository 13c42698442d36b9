package engine

import (
	"errors"
	"sort"

	. "meridian/internal/common"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

var (
	ErrQueueEmpty         = errors.New("queue is empty")
	ErrMarketOrderResting = errors.New("market orders cannot rest on the book")
	ErrWrongSide          = errors.New("order side does not match queue side")
)

// PriceLevel holds every resting order at one price, in time priority.
type PriceLevel struct {
	price  decimal.Decimal
	orders []*Order
}

type PriceLevels = btree.BTreeG[*PriceLevel]

// Queue is one side of a book. The best level is always the btree minimum:
// bids are sorted greatest first, asks least first.
type Queue struct {
	side   Side
	levels *PriceLevels
	count  int // Resting orders, including exhausted ones not yet discarded.
}

func NewQueue(side Side) *Queue {
	var less func(a, b *PriceLevel) bool
	switch side {
	case Buy:
		// Sorted greatest first.
		less = func(a, b *PriceLevel) bool { return a.price.GreaterThan(b.price) }
	default:
		// Sorted least first.
		less = func(a, b *PriceLevel) bool { return a.price.LessThan(b.price) }
	}
	return &Queue{
		side:   side,
		levels: btree.NewBTreeG(less),
	}
}

func (q *Queue) Side() Side { return q.side }

// Len counts resting orders, exhausted ones included until discarded.
func (q *Queue) Len() int { return q.count }

// Peek returns the best resting order without removing it. Exhausted orders
// found at the top are discarded on the way.
func (q *Queue) Peek() (*Order, bool) {
	q.DropFilled()
	level, ok := q.levels.MinMut()
	if !ok {
		return nil, false
	}
	return level.orders[0], true
}

// DropFilled discards exhausted orders sitting at the top of the queue.
func (q *Queue) DropFilled() {
	for {
		level, ok := q.levels.MinMut()
		if !ok || !level.orders[0].Filled() {
			return
		}
		q.removeHead(level)
	}
}

// Pop removes and returns the best resting order.
func (q *Queue) Pop() (*Order, error) {
	order, ok := q.Peek()
	if !ok {
		return nil, ErrQueueEmpty
	}
	level, _ := q.levels.MinMut()
	q.removeHead(level)
	return order, nil
}

// Insert rests a limit order. Within a level, orders stay sorted by
// (timestamp, sequence) so the earliest order is matched first.
func (q *Queue) Insert(order *Order) error {
	if order.OrderType == MarketOrder || !order.Price.Valid {
		return ErrMarketOrderResting
	}
	if order.Side != q.side {
		return ErrWrongSide
	}

	// Levels comparator only accounts for price levels, so we create a dummy
	// price level for the search.
	level, ok := q.levels.GetMut(&PriceLevel{price: order.Price.Decimal})
	if !ok {
		q.levels.Set(&PriceLevel{
			price:  order.Price.Decimal,
			orders: []*Order{order},
		})
		q.count++
		return nil
	}

	n := len(level.orders)
	if n == 0 || !before(order, level.orders[n-1]) {
		level.orders = append(level.orders, order)
	} else {
		// Late arrival carrying an earlier timestamp.
		i := sort.Search(n, func(i int) bool { return before(order, level.orders[i]) })
		level.orders = append(level.orders, nil)
		copy(level.orders[i+1:], level.orders[i:])
		level.orders[i] = order
	}
	q.count++
	return nil
}

// Levels aggregates remaining quantity per price, best first, stopping after
// depth non-empty levels. A non-positive depth returns every level.
func (q *Queue) Levels(depth int) []LevelSummary {
	out := make([]LevelSummary, 0)
	q.levels.Scan(func(level *PriceLevel) bool {
		total := decimal.Zero
		for _, o := range level.orders {
			total = total.Add(o.Remaining)
		}
		if total.IsPositive() {
			out = append(out, LevelSummary{Price: level.price, Quantity: total})
		}
		return depth <= 0 || len(out) < depth
	})
	return out
}

// Orders lists resting orders in priority order, for inspection.
func (q *Queue) Orders() []*Order {
	var out []*Order
	q.levels.Scan(func(level *PriceLevel) bool {
		for _, o := range level.orders {
			if !o.Filled() {
				out = append(out, o)
			}
		}
		return true
	})
	return out
}

func (q *Queue) removeHead(level *PriceLevel) {
	level.orders[0] = nil
	level.orders = level.orders[1:]
	q.count--
	if len(level.orders) == 0 {
		q.levels.Delete(level)
	}
}

// before is time priority: earlier timestamp first, then arrival sequence.
func before(a, b *Order) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.Sequence < b.Sequence
}
