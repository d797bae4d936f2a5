// Package venue implements ExchangeSession (§4.C): the polymorphic venue
// adapter boundary the ExecutionRouter dispatches against, plus the
// subscription-replay and order-book bootstrap machinery every concrete
// adapter shares, generalized into a pluggable adapter set rather than a
// single hardcoded venue.
package venue

import (
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polybot/internal/money"
)

// Resource flags gate whether an adapter's periodic sync timers tick.
type Resource int

const (
	ResourceExecution Resource = 1 << iota
	ResourceAccounting
)

func (r Resource) Has(flag Resource) bool { return r&flag != 0 }

// Credentials is the opaque envelope a venue adapter extracts what it
// needs from (§6). Fields are used as given: BinanceSession signs with
// APIKey/APISecret verbatim and does not decode the base64/0x-hex/aes256/
// ed25519/rsa/ecdsa/file encodings that config.DecodeSecret handles.
type Credentials struct {
	APIKey        string
	APISecret     string
	Passphrase    string
	Address       string
	PrivateKey    string
	Env           string
	ExtraFields   map[string]string
}

// Config is the (network, exchange, resources, account, credentials)
// activation tuple a venue session is built from.
type Config struct {
	Network     string
	Exchange    string
	Resources   Resource
	Account     string
	Credentials Credentials
}

// MarketEventKind discriminates the union carried by MarketEvent.
type MarketEventKind int

const (
	EventBook MarketEventKind = iota
	EventTrade
	EventFunding
)

// MarketEvent is what a MarketFeedService yields from Next().
type MarketEvent struct {
	Kind       MarketEventKind
	Instrument money.Instrument
	Book       *BookUpdate
	Trade      *TradeEvent
	Funding    *FundingEvent
}

// BookUpdate carries either a full snapshot or an incremental diff.
type BookUpdate struct {
	Snapshot bool
	Bids     []PriceLevel
	Asks     []PriceLevel
}

// PriceLevel is one (price, size) row of a book.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// TradeEvent is a single executed trade observed on the feed.
type TradeEvent struct {
	Price decimal.Decimal
	Size  decimal.Decimal
	TST   money.Time
}

// FundingEvent is a perpetual funding-rate tick.
type FundingEvent struct {
	Rate decimal.Decimal
	TST  money.Time
}

// MarketFeedService is the read side of an ExchangeSession: a stream of
// market data events.
type MarketFeedService interface {
	Next() (MarketEvent, bool)
}

// ExecutionResponseKind discriminates ExecutionService.NextResponse()'s union.
type ExecutionResponseKind int

const (
	ResponseUpdateOrder ExecutionResponseKind = iota
	ResponseUpdatePosition
	ResponseGroup
	ResponseError
	ResponseNoop
)

// PositionSnapshot is a venue-reported authoritative position/balance
// reading, routed to PositionManager.ReplaceSnapshot rather than merged
// through OrderManager.
type PositionSnapshot struct {
	Account    string
	Instrument money.Instrument
	Total      decimal.Decimal
}

// ExecutionResponse is what an ExecutionService yields from NextResponse().
type ExecutionResponse struct {
	Kind     ExecutionResponseKind
	Update   *money.UpdateOrder
	Position *PositionSnapshot
	Group    []ExecutionResponse
	Message  string
}

// ExecutionService is the write+read side of an ExchangeSession: submit a
// request, and drain raw venue responses.
type ExecutionService interface {
	Request(req money.RequestPlaceOrder, cancel *money.RequestCancelOrder) string
	NextResponse() (ExecutionResponse, bool)
	Accept(instrument money.Instrument) bool
}

// ExchangeSession is the full capability set a venue adapter realizes. A
// concrete adapter may implement only one side (e.g. a feed-only venue
// leaves ExecutionService nil-equivalent by always returning false from
// Accept).
type ExchangeSession interface {
	MarketFeedService
	ExecutionService
	Name() string
	Close()
}
