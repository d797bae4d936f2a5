// Package money holds the canonical order/position value types shared by the
// execution core: Order, UpdateOrder, the OrderStatus lifecycle, and the
// batch/leg/sub-order hierarchy. Every price, size and balance field is a
// decimal.Decimal — this package never uses float64 for money.
package money

import (
	"time"

	"github.com/shopspring/decimal"
)

// Time is a monotonic nanosecond timestamp, local to this process.
type Time int64

// NullTime marks an unset timestamp.
const NullTime Time = 0

// Now returns the current local time as a monotonic nanosecond integer.
func Now() Time {
	return Time(time.Now().UnixNano())
}

// Side is the direction of an order.
type Side string

const (
	SideUnknown Side = ""
	SideBuy     Side = "BUY"
	SideSell    Side = "SELL"
)

// OrderType mirrors the venue-agnostic order type taxonomy.
type OrderType string

const (
	OrderTypeUnknown          OrderType = "Unknown"
	OrderTypeLimit            OrderType = "Limit"
	OrderTypeMarket           OrderType = "Market"
	OrderTypePostOnly         OrderType = "PostOnly"
	OrderTypeTriggerLimit     OrderType = "TriggerLimit"
	OrderTypeTriggerMarket    OrderType = "TriggerMarket"
	OrderTypeTakeProfitLimit  OrderType = "TakeProfitLimit"
	OrderTypeTakeProfitMarket OrderType = "TakeProfitMarket"
	OrderTypeStopLossLimit    OrderType = "StopLossLimit"
	OrderTypeStopLossMarket   OrderType = "StopLossMarket"
)

// TimeInForce mirrors the venue-agnostic TIF taxonomy.
type TimeInForce string

const (
	TIFUnknown           TimeInForce = "Unknown"
	TIFGoodTilCancel     TimeInForce = "GoodTilCancel"
	TIFImmediateOrCancel TimeInForce = "ImmediateOrCancel"
	TIFFillOrKill        TimeInForce = "FillOrKill"
	TIFDay               TimeInForce = "Day"
	TIFGoodTilCrossing   TimeInForce = "GoodTilCrossing"
	TIFGoodTilDate       TimeInForce = "GoodTilDate"
	TIFGoodTilTime       TimeInForce = "GoodTilTime"
	TIFPendingOrCancel   TimeInForce = "PendingOrCancel"
)

// PositionEffect says whether an order opens or closes a position.
type PositionEffect string

const (
	EffectUnknown PositionEffect = "Unknown"
	EffectNA      PositionEffect = "NA"
	EffectManual  PositionEffect = "Manual"
	EffectOpen    PositionEffect = "Open"
	EffectClose   PositionEffect = "Close"
)

// IsReduceOnly reports whether the effect only reduces an existing position.
func (e PositionEffect) IsReduceOnly() bool {
	return e == EffectClose
}

// OrderStatus is the partially-ordered order lifecycle. The declaration
// order below IS the monotonic total order used for merging (§3): later
// constants compare greater than earlier ones.
type OrderStatus int

const (
	StatusUnknown OrderStatus = iota
	StatusPending
	StatusSent
	StatusReceived
	StatusUntriggered
	StatusTriggered
	StatusOpen
	StatusPartiallyFilled
	StatusCancelPending
	StatusCancelSent
	StatusCancelReceived
	// Terminal bucket. Relative order among these doesn't matter for the
	// merge algorithm beyond "greater than everything above".
	StatusFilled
	StatusCancelled
	StatusRejected
	StatusExpired
	StatusError
	StatusAbsent
	StatusDiscarded
)

var statusNames = map[OrderStatus]string{
	StatusUnknown:         "Unknown",
	StatusPending:         "Pending",
	StatusSent:            "Sent",
	StatusReceived:        "Received",
	StatusUntriggered:     "Untriggered",
	StatusTriggered:       "Triggered",
	StatusOpen:            "Open",
	StatusPartiallyFilled: "PartiallyFilled",
	StatusCancelPending:   "CancelPending",
	StatusCancelSent:      "CancelSent",
	StatusCancelReceived:  "CancelReceived",
	StatusFilled:          "Filled",
	StatusCancelled:       "Cancelled",
	StatusRejected:        "Rejected",
	StatusExpired:         "Expired",
	StatusError:           "Error",
	StatusAbsent:          "Absent",
	StatusDiscarded:       "Discarded",
}

func (s OrderStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Unknown"
}

// IsNew reports whether the order has been submitted but not yet resolved
// to an exchange-side resting state.
func (s OrderStatus) IsNew() bool {
	switch s {
	case StatusPending, StatusSent, StatusReceived:
		return true
	}
	return false
}

// IsOpen reports whether the order is resting on the venue's book.
func (s OrderStatus) IsOpen() bool {
	switch s {
	case StatusOpen, StatusPartiallyFilled, StatusUntriggered:
		return true
	}
	return false
}

// IsCancel reports whether the order is anywhere in the cancel pipeline.
func (s OrderStatus) IsCancel() bool {
	switch s {
	case StatusCancelPending, StatusCancelSent, StatusCancelReceived, StatusCancelled:
		return true
	}
	return false
}

// IsDead reports whether the order is in the terminal, absorbing bucket (I4).
func (s OrderStatus) IsDead() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired, StatusError, StatusAbsent, StatusDiscarded:
		return true
	}
	return false
}

// Instrument identifies a tradable symbol on a venue, or a higher-level
// universal code shared across venues.
type Instrument struct {
	Exchange   string
	Symbol     string
	Universal  string // non-empty when this instrument is a universal/cross-venue code
}

func (i Instrument) String() string {
	if i.Universal != "" {
		return i.Universal
	}
	return i.Exchange + ":" + i.Symbol
}

// Order is the canonical order record (§3).
type Order struct {
	Instrument Instrument

	LocalID  string
	ClientID string
	ServerID string

	Side  Side
	Size  decimal.Decimal
	Price decimal.Decimal

	StopPrice          decimal.Decimal
	FilledSize         decimal.Decimal
	AverageFilledPrice decimal.Decimal
	LastFilledSize     decimal.Decimal
	LastFilledPrice    decimal.Decimal

	Type   OrderType
	TIF    TimeInForce
	Effect PositionEffect
	Status OrderStatus

	CreateLT  Time
	OpenLT    Time
	OpenTST   Time
	CloseLT   Time
	CancelLT  Time
	UpdateLT  Time
	UpdateEST Time
	UpdateTST Time

	StrategyID    string
	EventID       string
	OpeningCloid  string

	Updated bool
	Managed bool
}

// RemainingSize returns size not yet filled.
func (o *Order) RemainingSize() decimal.Decimal {
	return o.Size.Sub(o.FilledSize)
}

// GetIDs returns the three id namespaces (local, client, server).
func (o *Order) GetIDs() (local, client, server string) {
	return o.LocalID, o.ClientID, o.ServerID
}

// Empty returns a zero-value Order with decimal fields explicitly zeroed.
func Empty() Order {
	return Order{
		Side:   SideUnknown,
		Size:   decimal.Zero,
		Price:  decimal.Zero,
		StopPrice:          decimal.Zero,
		FilledSize:         decimal.Zero,
		AverageFilledPrice: decimal.Zero,
		LastFilledSize:     decimal.Zero,
		LastFilledPrice:    decimal.Zero,
		Type:   OrderTypeUnknown,
		TIF:    TIFUnknown,
		Effect: EffectUnknown,
		Status: StatusUnknown,
	}
}

// UpdateOrder is a patch carrying the same fields as Order plus a reason
// and venue transaction id. It is both the wire-normalized event (venue ->
// core) and the outward broadcast (core -> consumers).
type UpdateOrder struct {
	Instrument Instrument

	LocalID  string
	ClientID string
	ServerID string

	Side  Side
	Size  decimal.Decimal
	Price decimal.Decimal

	StopPrice          decimal.Decimal
	FilledSize         decimal.Decimal
	AverageFilledPrice decimal.Decimal
	LastFilledSize     decimal.Decimal
	LastFilledPrice    decimal.Decimal

	Type   OrderType
	TIF    TimeInForce
	Effect PositionEffect
	Status OrderStatus

	CreateLT  Time
	UpdateLT  Time
	UpdateEST Time
	UpdateTST Time

	StrategyID   string
	EventID      string
	OpeningCloid string

	Reason      string
	Transaction string

	Managed *bool
}

// GetIDs returns the three id namespaces (local, client, server).
func (u *UpdateOrder) GetIDs() (local, client, server string) {
	return u.LocalID, u.ClientID, u.ServerID
}

// FromOrder snapshots an Order into an outward UpdateOrder broadcast.
func FromOrder(o *Order) UpdateOrder {
	managed := o.Managed
	return UpdateOrder{
		Instrument:         o.Instrument,
		LocalID:            o.LocalID,
		ClientID:           o.ClientID,
		ServerID:           o.ServerID,
		Side:               o.Side,
		Size:               o.Size,
		Price:              o.Price,
		StopPrice:          o.StopPrice,
		FilledSize:         o.FilledSize,
		AverageFilledPrice: o.AverageFilledPrice,
		LastFilledSize:     o.LastFilledSize,
		LastFilledPrice:    o.LastFilledPrice,
		Type:               o.Type,
		TIF:                o.TIF,
		Effect:             o.Effect,
		Status:             o.Status,
		CreateLT:           o.CreateLT,
		UpdateLT:           o.UpdateLT,
		UpdateEST:          o.UpdateEST,
		UpdateTST:          o.UpdateTST,
		StrategyID:         o.StrategyID,
		EventID:            o.EventID,
		OpeningCloid:       o.OpeningCloid,
		Managed:            &managed,
	}
}

// ToOrder materializes a fresh Order row from an UpdateOrder, used when the
// OrderTable sees an id combination it has never tracked before.
func ToOrder(u *UpdateOrder) Order {
	o := Empty()
	o.Instrument = u.Instrument
	o.LocalID = u.LocalID
	o.ClientID = u.ClientID
	o.ServerID = u.ServerID
	o.Side = u.Side
	o.Size = u.Size
	o.Price = u.Price
	o.StopPrice = u.StopPrice
	o.FilledSize = u.FilledSize
	o.AverageFilledPrice = u.AverageFilledPrice
	o.LastFilledSize = u.LastFilledSize
	o.LastFilledPrice = u.LastFilledPrice
	o.Type = u.Type
	o.TIF = u.TIF
	o.Effect = u.Effect
	o.Status = u.Status
	o.CreateLT = u.CreateLT
	o.UpdateLT = u.UpdateLT
	o.UpdateEST = u.UpdateEST
	o.UpdateTST = u.UpdateTST
	o.StrategyID = u.StrategyID
	o.EventID = u.EventID
	o.OpeningCloid = u.OpeningCloid
	o.Updated = true
	if u.Managed != nil {
		o.Managed = *u.Managed
	}
	return o
}
