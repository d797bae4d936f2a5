// Package execrouter implements the ExecutionRouter (§4.H): the central,
// single-threaded cooperative multiplexer between strategies, the
// OrderManager/PositionManager/BalanceManager, and every registered venue
// session. The select-loop dispatch shape generalizes a single
// market-subscription fan-out into the full request/response/config/timer
// event set the execution core needs.
package execrouter

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polybot/internal/balance"
	"github.com/web3guy0/polybot/internal/batch"
	"github.com/web3guy0/polybot/internal/money"
	"github.com/web3guy0/polybot/internal/ordercore"
	"github.com/web3guy0/polybot/internal/position"
	"github.com/web3guy0/polybot/internal/venue"
)

// RequestKind discriminates ExecutionRequest's union (§6).
type RequestKind int

const (
	ReqPlaceOrder RequestKind = iota
	ReqCancelOrder
	ReqSyncOrders
	ReqGetPositions
	ReqQueryAssets
	ReqUpdateLeverage
)

// ExecutionRequest is a strategy's ask of the router.
type ExecutionRequest struct {
	Kind       RequestKind
	Place      money.RequestPlaceOrder
	Cancel     money.RequestCancelOrder
	Exchange   string
	Instrument *money.Instrument
	Leverage   decimal.Decimal
	StrategyID string
}

// ResponseKind discriminates ExecutionResponse's union (§6).
type ResponseKind int

const (
	RespUpdateOrder ResponseKind = iota
	RespUpdatePosition
	RespSyncOrders
	RespGroup
	RespError
	RespNoop
)

// ExecutionResponse is the strategy-facing broadcast union.
type ExecutionResponse struct {
	Kind     ResponseKind
	Update   *money.UpdateOrder
	Position *position.Book
	Group    []ExecutionResponse
	Message  string
}

type venueEnvelope struct {
	exchange string
	resp     venue.ExecutionResponse
}

// Notifier is the operator-notification sink the router pushes
// reject/fill/error events to. *notify.Telegram satisfies this; a nil
// Notifier (the default) makes every hook a no-op.
type Notifier interface {
	NotifyReject(money.UpdateOrder)
	NotifyFill(money.UpdateOrder)
	NotifyInsufficientBalance(exchange string, cost decimal.Decimal)
	NotifyError(error)
}

// Router is the ExecutionRouter. Build one with New, register venues with
// RegisterVenue (directly, or asynchronously via config packets pushed to
// ConfigChan), then run it with Run.
type Router struct {
	orders    *ordercore.Manager
	balances  *balance.Manager
	positions *position.Manager
	batches   *batch.Manager
	status    *StrategyStatusMap

	sessions map[string]venue.ExchangeSession

	rxRequest  chan ExecutionRequest
	rxConfig   chan venue.Config
	txResponse chan ExecutionResponse
	txUpdates  chan money.UpdateOrder

	venueResponses chan venueEnvelope

	account  string
	notifier Notifier

	shutdownDrain    time.Duration
	softCleanupEvery time.Duration
}

// SetNotifier attaches an operator-notification sink. Safe to call before
// Run; not safe to swap concurrently with Run.
func (r *Router) SetNotifier(n Notifier) { r.notifier = n }

// SetTimings overrides the shutdown drain deadline and soft_cleanup
// ticker period (defaults: 15s, 5s per §4.H/§6). Call before Run.
func (r *Router) SetTimings(shutdownDrain, softCleanupEvery time.Duration) {
	r.shutdownDrain = shutdownDrain
	r.softCleanupEvery = softCleanupEvery
}

// New builds a Router around already-constructed managers.
func New(orders *ordercore.Manager, balances *balance.Manager, positions *position.Manager, account string) *Router {
	r := &Router{
		orders:         orders,
		balances:       balances,
		positions:      positions,
		status:         NewStrategyStatusMap(),
		sessions:       make(map[string]venue.ExchangeSession),
		rxRequest:      make(chan ExecutionRequest, 256),
		rxConfig:       make(chan venue.Config, 16),
		txResponse:     make(chan ExecutionResponse, 256),
		txUpdates:      make(chan money.UpdateOrder, 256),
		venueResponses: make(chan venueEnvelope, 256),
		account:          account,
		shutdownDrain:    15 * time.Second,
		softCleanupEvery: 5 * time.Second,
	}
	r.batches = batch.New(routerDispatcher{r})
	return r
}

// Status exposes the StrategyStatusMap for strategy-facing gating queries.
func (r *Router) Status() *StrategyStatusMap { return r.status }

// RequestChan is the strategy-facing submission channel.
func (r *Router) RequestChan() chan<- ExecutionRequest { return r.rxRequest }

// ConfigChan is where venue activation packets are pushed.
func (r *Router) ConfigChan() chan<- venue.Config { return r.rxConfig }

// Responses exposes the broadcast of raw ExecutionResponses.
func (r *Router) Responses() <-chan ExecutionResponse { return r.txResponse }

// Updates exposes the broadcast of canonical UpdateOrders.
func (r *Router) Updates() <-chan money.UpdateOrder { return r.txUpdates }

// RegisterVenue wires a session directly (bypassing the rx_config packet
// path), starting its response pump.
func (r *Router) RegisterVenue(name string, session venue.ExchangeSession) {
	r.sessions[name] = session
	go r.pumpVenueResponses(name, session)
}

func (r *Router) pumpVenueResponses(name string, session venue.ExchangeSession) {
	for {
		resp, ok := session.NextResponse()
		if !ok {
			return
		}
		r.venueResponses <- venueEnvelope{exchange: name, resp: resp}
	}
}

// Run is the router's single-threaded cooperative main loop (§4.H). It
// returns when ctx is cancelled, after draining for up to the configured
// shutdown deadline. done, if non-nil, receives true on a clean drain and
// false if the deadline was hit with work still outstanding, letting the
// caller exit with a non-zero status per §6.
func (r *Router) Run(ctx context.Context, done chan<- bool) {
	cleanupTicker := time.NewTicker(r.softCleanupEvery)
	defer cleanupTicker.Stop()
	maintainTicker := time.NewTicker(batch.MaintenanceInterval)
	defer maintainTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			clean := r.drain(r.shutdownDrain)
			if done != nil {
				done <- clean
			}
			return
		case req := <-r.rxRequest:
			r.handleRequest(req)
		case cfg := <-r.rxConfig:
			r.handleConfig(cfg)
		case env := <-r.venueResponses:
			r.handleVenueResponse(env)
		case <-cleanupTicker.C:
			for _, u := range r.orders.SoftCleanup(money.Now()) {
				r.emitMerged(r.orders.Apply(u))
			}
		case <-maintainTicker.C:
			r.batches.Maintain(money.Now())
		}
	}
}

// drain keeps servicing rxRequest/venueResponses for up to deadline so
// in-flight work resolves before exit, per §6's shutdown drain. Returns
// false if the deadline fired instead of the queues going quiet.
func (r *Router) drain(deadline time.Duration) bool {
	timeout := time.After(deadline)
	idle := time.NewTimer(50 * time.Millisecond)
	defer idle.Stop()
	for {
		select {
		case req := <-r.rxRequest:
			r.handleRequest(req)
			idle.Reset(50 * time.Millisecond)
		case env := <-r.venueResponses:
			r.handleVenueResponse(env)
			idle.Reset(50 * time.Millisecond)
		case <-idle.C:
			return true
		case <-timeout:
			log.Warn().Msg("execution router shutdown drain deadline reached")
			return false
		}
	}
}

func (r *Router) handleConfig(cfg venue.Config) {
	if _, exists := r.sessions[cfg.Exchange]; exists {
		return
	}
	session := venue.NewBinanceSession(cfg)
	if err := session.Connect(); err != nil {
		log.Error().Str("exchange", cfg.Exchange).Err(err).Msg("failed to connect newly configured venue")
		return
	}
	r.RegisterVenue(cfg.Exchange, session)
	log.Info().Str("exchange", cfg.Exchange).Msg("venue activated")
}

func (r *Router) handleRequest(req ExecutionRequest) {
	if req.StrategyID != "" && r.status.Get(req.StrategyID) != StatusEnabled {
		r.rejectForDisabledStrategy(req)
		return
	}

	switch req.Kind {
	case ReqPlaceOrder:
		r.handlePlace(req.Place)
	case ReqCancelOrder:
		r.handleCancel(req.Cancel)
	case ReqGetPositions:
		r.handleGetPositions()
	default:
		r.txResponse <- ExecutionResponse{Kind: RespNoop}
	}
}

func (r *Router) rejectForDisabledStrategy(req ExecutionRequest) {
	switch req.Kind {
	case ReqPlaceOrder:
		u := money.UpdateOrder{
			Instrument: req.Place.Instrument, ClientID: req.Place.ClientID,
			Status: money.StatusRejected, Reason: "strategy not enabled", UpdateTST: money.Now(), UpdateLT: money.Now(),
		}
		r.emitMerged(r.orders.Apply(u))
	case ReqCancelOrder:
		u := money.UpdateOrder{
			Instrument: req.Cancel.Instrument, ClientID: req.Cancel.ClientID,
			Status: money.StatusError, Reason: "strategy not enabled", UpdateTST: money.Now(), UpdateLT: money.Now(),
		}
		r.txResponse <- ExecutionResponse{Kind: RespError, Message: u.Reason, Update: &u}
	}
}

func (r *Router) handlePlace(req money.RequestPlaceOrder) {
	if req.Effect == money.EffectOpen {
		cost := req.Price.Mul(req.Size)
		if !r.balances.Deduct(req.Instrument.Exchange, cost) {
			if r.notifier != nil {
				r.notifier.NotifyInsufficientBalance(req.Instrument.Exchange, cost)
			}
			r.synthReject(req, "insufficient balance")
			return
		}
	}

	pending := money.UpdateOrder{
		Instrument: req.Instrument, ClientID: req.ClientID, Side: req.Side,
		Size: req.Size, Price: req.Price, Type: req.Type, TIF: req.TIF, Effect: req.Effect,
		StrategyID: req.StrategyID, OpeningCloid: req.OpeningCloid,
		Status: money.StatusPending, UpdateLT: money.Now(), UpdateTST: money.Now(),
	}
	merged := r.orders.Apply(pending)
	r.emitMerged(merged)
	if merged != nil {
		r.positions.OnOrderUpdate(r.account, *merged, decimal.Zero)
	}

	session := r.sessionFor(req.Instrument)
	if session == nil {
		r.synthReject(req, "venue session not initialized")
		return
	}
	session.Request(req, nil)
}

func (r *Router) handleCancel(req money.RequestCancelOrder) {
	session := r.sessionFor(req.Instrument)
	if session == nil {
		u := money.UpdateOrder{
			Instrument: req.Instrument, ClientID: req.ClientID,
			Status: money.StatusError, Reason: "venue session not initialized", UpdateTST: money.Now(),
		}
		r.txResponse <- ExecutionResponse{Kind: RespError, Update: &u}
		return
	}
	session.Request(money.RequestPlaceOrder{}, &req)
}

func (r *Router) handleGetPositions() {
	books := r.positions.All(r.account)
	group := make([]ExecutionResponse, 0, len(books))
	for i := range books {
		group = append(group, ExecutionResponse{Kind: RespUpdatePosition, Position: &books[i]})
	}
	r.txResponse <- ExecutionResponse{Kind: RespGroup, Group: group}
}

func (r *Router) synthReject(req money.RequestPlaceOrder, reason string) {
	u := money.UpdateOrder{
		Instrument: req.Instrument, ClientID: req.ClientID, Side: req.Side,
		Size: req.Size, Price: req.Price, Status: money.StatusRejected,
		Reason: reason, UpdateLT: money.Now(), UpdateTST: money.Now(),
	}
	merged := r.orders.Apply(u)
	r.emitMerged(merged)
	if merged != nil && r.notifier != nil {
		r.notifier.NotifyReject(*merged)
	}
}

func (r *Router) sessionFor(instrument money.Instrument) venue.ExchangeSession {
	for _, s := range r.sessions {
		if s.Accept(instrument) {
			return s
		}
	}
	return nil
}

func (r *Router) handleVenueResponse(env venueEnvelope) {
	r.forwardResponse(env.exchange, env.resp)
}

func (r *Router) forwardResponse(exchange string, resp venue.ExecutionResponse) {
	switch resp.Kind {
	case venue.ResponseUpdateOrder:
		if resp.Update == nil {
			return
		}
		merged := r.orders.Apply(*resp.Update)
		r.txResponse <- ExecutionResponse{Kind: RespUpdateOrder, Update: resp.Update}
		if merged == nil {
			return
		}
		r.balances.Add(exchange, *merged)
		r.positions.OnOrderUpdate(r.account, *merged, merged.LastFilledSize)
		r.batches.OnUpdate(*merged)
		r.txUpdates <- *merged
		if r.notifier != nil {
			switch merged.Status {
			case money.StatusRejected:
				r.notifier.NotifyReject(*merged)
			case money.StatusFilled, money.StatusPartiallyFilled:
				r.notifier.NotifyFill(*merged)
			}
		}
	case venue.ResponseUpdatePosition:
		if resp.Position == nil {
			return
		}
		r.positions.ReplaceSnapshot(resp.Position.Account, resp.Position.Instrument, resp.Position.Total, money.Now())
	case venue.ResponseGroup:
		for _, child := range resp.Group {
			r.forwardResponse(exchange, child)
		}
	case venue.ResponseError:
		r.txResponse <- ExecutionResponse{Kind: RespError, Message: resp.Message}
	}
}

func (r *Router) emitMerged(u *money.UpdateOrder) {
	if u == nil {
		return
	}
	r.txUpdates <- *u
	r.txResponse <- ExecutionResponse{Kind: RespUpdateOrder, Update: u}
}

// routerDispatcher adapts Router to batch.Dispatcher, letting
// BatchOrderManager submit child placements/cancels the same way a
// strategy would.
type routerDispatcher struct{ r *Router }

func (d routerDispatcher) DispatchPlace(req money.RequestPlaceOrder) {
	d.r.handlePlace(req)
}

func (d routerDispatcher) DispatchCancel(req money.RequestCancelOrder) {
	d.r.handleCancel(req)
}
