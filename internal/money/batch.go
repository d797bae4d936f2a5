package money

import "github.com/shopspring/decimal"

// PlaceType is the batch-level placement policy (§3 BatchOrder).
type PlaceType string

const (
	PlaceSequential PlaceType = "Sequential"
	PlaceConcurrent PlaceType = "Concurrent"
)

// RetryPolicy bounds how many times a rejected leg is resubmitted.
type RetryPolicy struct {
	MaxRetries int // 0 means NoRetry
}

// NoRetry is the zero-value retry policy.
var NoRetry = RetryPolicy{MaxRetries: 0}

// Compensation is what a batch does when a leg fails terminally.
type Compensation string

const (
	CompensationIgnore Compensation = "Ignore"
	CompensationCancel Compensation = "Cancel"
	CompensationInvert Compensation = "Invert"
)

// RequestPlaceOrder is a strategy's request to place a single order.
type RequestPlaceOrder struct {
	Instrument   Instrument
	ClientID     string
	Side         Side
	Size         decimal.Decimal
	Price        decimal.Decimal
	StopPrice    decimal.Decimal
	Type         OrderType
	TIF          TimeInForce
	Effect       PositionEffect
	StrategyID   string
	OpeningCloid string
}

// RequestCancelOrder is a strategy's request to cancel a single order.
type RequestCancelOrder struct {
	Instrument Instrument
	LocalID    string
	ClientID   string
	ServerID   string
	StrategyID string
}

// SubOrder is one physical order placed for a leg — possibly one of many
// for the same leg due to retries or splits.
type SubOrder struct {
	Request     RequestPlaceOrder
	LocalID     string
	ClientID    string
	ServerID    string
	Status      OrderStatus
	FilledSize  decimal.Decimal
	RetriesLeft int
	Live        bool
}

// Leg is one side of a hedged batch placement.
type Leg struct {
	Original    RequestPlaceOrder
	SubOrders   []*SubOrder
	PlacedFills decimal.Decimal // unhandled fill volume already split onto the next leg
}

// PlacedSize returns the sum of sizes of all sub-orders ever placed for
// this leg (I7: must never exceed Original.Size).
func (l *Leg) PlacedSize() decimal.Decimal {
	total := decimal.Zero
	for _, s := range l.SubOrders {
		total = total.Add(s.Request.Size)
	}
	return total
}

// RestingSize returns already-placed, not-yet-filled size for live sub-orders.
func (l *Leg) RestingSize() decimal.Decimal {
	total := decimal.Zero
	for _, s := range l.SubOrders {
		if !s.Live {
			continue
		}
		total = total.Add(s.Request.Size.Sub(s.FilledSize))
	}
	return total
}

// FilledSize returns the sum of filled size across every sub-order in the leg.
func (l *Leg) FilledSize() decimal.Decimal {
	total := decimal.Zero
	for _, s := range l.SubOrders {
		total = total.Add(s.FilledSize)
	}
	return total
}

// Capacity returns how much more size this leg can accept without
// exceeding Original.Size (I7).
func (l *Leg) Capacity() decimal.Decimal {
	remaining := l.Original.Size.Sub(l.PlacedSize())
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// BatchPolicy bundles the three independent batch-level policy axes.
type BatchPolicy struct {
	PlaceType    PlaceType
	Retry        RetryPolicy
	Compensation Compensation
}

// Batch is an ordered list of legs that must fill together under the
// configured policy.
type Batch struct {
	ID     string
	Policy BatchPolicy
	Legs   []*Leg

	LastUpdateLT Time
	Compensated  bool
}

// PlaceBatchOrders is a strategy's request to start a hedged multi-leg batch.
type PlaceBatchOrders struct {
	Legs   []RequestPlaceOrder
	Policy BatchPolicy
}
