package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polybot/internal/httpclient"
	"github.com/web3guy0/polybot/internal/money"
	"github.com/web3guy0/polybot/internal/wsclient"
)

const (
	binanceWSBase   = "wss://stream.binance.com:9443/stream"
	binanceRESTBase = "https://api.binance.com"
)

// BinanceSession is an ExchangeSession realizing Binance spot: a signed
// HMAC-SHA256 REST execution path plus a combined-stream websocket feed
// with depth snapshot/diff bootstrap.
type BinanceSession struct {
	cfg  Config
	ws   *wsclient.Session
	http *httpclient.Session
	subs *SubscriptionManager

	mu     sync.Mutex
	books  map[string]*BookBuilder
	events chan MarketEvent
	execs  chan ExecutionResponse
	stopCh chan struct{}
}

// NewBinanceSession builds a disconnected session; call Connect to start
// its websocket and reader loops.
func NewBinanceSession(cfg Config) *BinanceSession {
	return &BinanceSession{
		cfg:    cfg,
		ws:     wsclient.New(nil),
		http:   httpclient.New(nil),
		subs:   NewSubscriptionManager(),
		books:  make(map[string]*BookBuilder),
		events: make(chan MarketEvent, 256),
		execs:  make(chan ExecutionResponse, 64),
		stopCh: make(chan struct{}),
	}
}

func (s *BinanceSession) Name() string { return "binance" }

// Connect dials the combined stream and starts the background reader loop
// that decodes frames into MarketEvents, reconnecting (with subscription
// replay) on loss.
func (s *BinanceSession) Connect() error {
	if err := s.ws.Connect(binanceWSBase, nil); err != nil {
		return err
	}
	go s.runReader()
	go s.runHTTPPump()
	return nil
}

// runHTTPPump drains signed REST completions and republishes them as
// ExecutionResponses, in the completion order HttpSession delivers them.
func (s *BinanceSession) runHTTPPump() {
	for {
		select {
		case <-s.stopCh:
			return
		case resp := <-s.http.Responses():
			u, ok := resp.Value.(money.UpdateOrder)
			if !ok {
				continue
			}
			s.execs <- ExecutionResponse{Kind: ResponseUpdateOrder, Update: &u}
		}
	}
}

func (s *BinanceSession) runReader() {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		msg, ok := s.ws.Next()
		if !ok {
			log.Warn().Str("venue", "binance").Msg("websocket disconnected, reconnecting")
			if !s.ws.Reconnect(binanceWSBase, nil) {
				time.Sleep(time.Second)
				continue
			}
			s.subs.Replay(s.ws)
			continue
		}
		s.handleFrame(msg)
	}
}

func (s *BinanceSession) handleFrame(msg wsclient.Message) {
	var env struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		return
	}
	var raw struct {
		EventType string `json:"e"`
		Symbol    string `json:"s"`
	}
	if err := json.Unmarshal(env.Data, &raw); err != nil {
		return
	}
	instrument := money.Instrument{Exchange: "binance", Symbol: raw.Symbol}

	switch raw.EventType {
	case "depthUpdate":
		s.handleDepthUpdate(instrument, env.Data)
	case "trade":
		s.handleTrade(instrument, env.Data)
	}
}

func (s *BinanceSession) handleDepthUpdate(instrument money.Instrument, data json.RawMessage) {
	var d struct {
		FirstUpdateID int64      `json:"U"`
		FinalUpdateID int64      `json:"u"`
		Bids          [][]string `json:"b"`
		Asks          [][]string `json:"a"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}

	s.mu.Lock()
	builder, ok := s.books[instrument.Symbol]
	if !ok {
		builder = NewBookBuilder(instrument)
		s.books[instrument.Symbol] = builder
	}
	s.mu.Unlock()

	diff := DepthDiff{
		FirstUpdateID: d.FirstUpdateID,
		FinalUpdateID: d.FinalUpdateID,
		Bids:          parseLevels(d.Bids),
		Asks:          parseLevels(d.Asks),
	}

	if !builder.Ready() {
		builder.BufferDiff(diff)
		return
	}
	update, ok := builder.ApplyDiff(diff)
	if !ok {
		return
	}
	s.events <- MarketEvent{Kind: EventBook, Instrument: instrument, Book: &update}
}

func (s *BinanceSession) handleTrade(instrument money.Instrument, data json.RawMessage) {
	var t struct {
		Price string `json:"p"`
		Qty   string `json:"q"`
		Time  int64  `json:"T"`
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return
	}
	price, _ := decimal.NewFromString(t.Price)
	qty, _ := decimal.NewFromString(t.Qty)
	s.events <- MarketEvent{
		Kind:       EventTrade,
		Instrument: instrument,
		Trade:      &TradeEvent{Price: price, Size: qty, TST: money.Time(t.Time * int64(time.Millisecond))},
	}
}

func parseLevels(raw [][]string) []PriceLevel {
	levels := make([]PriceLevel, 0, len(raw))
	for _, r := range raw {
		if len(r) != 2 {
			continue
		}
		price, _ := decimal.NewFromString(r[0])
		size, _ := decimal.NewFromString(r[1])
		levels = append(levels, PriceLevel{Price: price, Size: size})
	}
	return levels
}

// SubscribeDepth subscribes to a symbol's diff stream and kicks off the
// REST snapshot bootstrap (§4.C "Order-book bootstrap").
func (s *BinanceSession) SubscribeDepth(symbol string) {
	stream := fmt.Sprintf("%s@depth@100ms", lower(symbol))
	msg := wsclient.Message{Type: websocket.TextMessage, Data: subscribeFrame(stream)}
	s.subs.AddSymbol(symbol+":depth", msg)
	s.ws.Send(msg)

	s.mu.Lock()
	if _, exists := s.books[symbol]; !exists {
		s.books[symbol] = NewBookBuilder(money.Instrument{Exchange: "binance", Symbol: symbol})
	}
	s.mu.Unlock()

	go s.bootstrapDepth(symbol)
}

func (s *BinanceSession) bootstrapDepth(symbol string) {
	snap, err := fetchDepthSnapshot(symbol)
	if err != nil {
		log.Error().Str("symbol", symbol).Err(err).Msg("failed to fetch order book snapshot")
		return
	}
	s.mu.Lock()
	builder := s.books[symbol]
	s.mu.Unlock()
	if builder == nil {
		return
	}
	update, ok := builder.ApplySnapshot(snap)
	if !ok {
		// buffered diffs didn't bridge; re-fetch and try again.
		s.bootstrapDepth(symbol)
		return
	}
	s.events <- MarketEvent{
		Kind:       EventBook,
		Instrument: money.Instrument{Exchange: "binance", Symbol: symbol},
		Book:       &update,
	}
}

func fetchDepthSnapshot(symbol string) (DepthSnapshot, error) {
	url := fmt.Sprintf("%s/api/v3/depth?symbol=%s&limit=1000", binanceRESTBase, symbol)
	resp, err := http.Get(url)
	if err != nil {
		return DepthSnapshot{}, err
	}
	defer resp.Body.Close()

	var raw struct {
		LastUpdateID int64      `json:"lastUpdateId"`
		Bids         [][]string `json:"bids"`
		Asks         [][]string `json:"asks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return DepthSnapshot{}, err
	}
	return DepthSnapshot{
		LastUpdateID: raw.LastUpdateID,
		Bids:         parseLevels(raw.Bids),
		Asks:         parseLevels(raw.Asks),
	}, nil
}

func subscribeFrame(streams ...string) []byte {
	frame := struct {
		Method string   `json:"method"`
		Params []string `json:"params"`
		ID     int64    `json:"id"`
	}{Method: "SUBSCRIBE", Params: streams, ID: time.Now().UnixNano()}
	b, _ := json.Marshal(frame)
	return b
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Next implements MarketFeedService.
func (s *BinanceSession) Next() (MarketEvent, bool) {
	select {
	case e, ok := <-s.events:
		return e, ok
	case <-s.stopCh:
		return MarketEvent{}, false
	}
}

// Request implements ExecutionService: signs and fires a REST order
// placement, decoding the response asynchronously onto s.execs.
func (s *BinanceSession) Request(req money.RequestPlaceOrder, cancel *money.RequestCancelOrder) string {
	if cancel != nil {
		return s.requestCancel(*cancel)
	}
	return s.requestPlace(req)
}

func (s *BinanceSession) requestPlace(req money.RequestPlaceOrder) string {
	params := map[string]string{
		"symbol":      req.Instrument.Symbol,
		"side":        string(req.Side),
		"type":        binanceOrderType(req.Type),
		"quantity":    req.Size.String(),
		"newClientOrderId": req.ClientID,
		"timestamp":   strconv.FormatInt(time.Now().UnixMilli(), 10),
	}
	if req.Type != money.OrderTypeMarket {
		params["price"] = req.Price.String()
		params["timeInForce"] = "GTC"
	}
	httpReq := s.signedRequest(http.MethodPost, "/api/v3/order", params)
	s.http.SendAndHandle(context.Background(), req.ClientID, httpReq, decodeOrderResponse(req))
	return req.ClientID
}

func (s *BinanceSession) requestCancel(req money.RequestCancelOrder) string {
	params := map[string]string{
		"symbol":            req.Instrument.Symbol,
		"origClientOrderId": req.ClientID,
		"timestamp":         strconv.FormatInt(time.Now().UnixMilli(), 10),
	}
	httpReq := s.signedRequest(http.MethodDelete, "/api/v3/order", params)
	s.http.SendAndHandle(context.Background(), req.ClientID, httpReq, decodeCancelResponse(req))
	return req.ClientID
}

func (s *BinanceSession) signedRequest(method, path string, params map[string]string) *http.Request {
	query := encodeParams(params)
	mac := hmac.New(sha256.New, []byte(s.cfg.Credentials.APISecret))
	mac.Write([]byte(query))
	signature := hex.EncodeToString(mac.Sum(nil))
	url := fmt.Sprintf("%s%s?%s&signature=%s", binanceRESTBase, path, query, signature)

	req, _ := http.NewRequest(method, url, nil)
	req.Header.Set("X-MBX-APIKEY", s.cfg.Credentials.APIKey)
	return req
}

func encodeParams(params map[string]string) string {
	out := ""
	for k, v := range params {
		if out != "" {
			out += "&"
		}
		out += k + "=" + v
	}
	return out
}

func binanceOrderType(t money.OrderType) string {
	switch t {
	case money.OrderTypeMarket:
		return "MARKET"
	case money.OrderTypePostOnly:
		return "LIMIT_MAKER"
	default:
		return "LIMIT"
	}
}

func decodeOrderResponse(req money.RequestPlaceOrder) httpclient.Decoder {
	return func(tag string, body []byte, status int, transportErr error) httpclient.Response {
		if transportErr != nil {
			return httpclient.Response{Tag: tag, Value: money.UpdateOrder{
				ClientID: req.ClientID, Instrument: req.Instrument,
				Status: money.StatusRejected, Reason: transportErr.Error(),
			}}
		}
		var raw struct {
			OrderID  int64  `json:"orderId"`
			Status   string `json:"status"`
			Code     int    `json:"code"`
			Msg      string `json:"msg"`
		}
		_ = json.Unmarshal(body, &raw)
		if status >= 400 {
			return httpclient.Response{Tag: tag, Value: money.UpdateOrder{
				ClientID: req.ClientID, Instrument: req.Instrument,
				Status: money.StatusRejected, Reason: raw.Msg,
			}}
		}
		return httpclient.Response{Tag: tag, Value: money.UpdateOrder{
			ClientID:   req.ClientID,
			ServerID:   strconv.FormatInt(raw.OrderID, 10),
			Instrument: req.Instrument,
			Side:       req.Side,
			Size:       req.Size,
			Price:      req.Price,
			Type:       req.Type,
			Status:     binanceStatusToCore(raw.Status),
			UpdateTST:  money.Now(),
		}}
	}
}

func decodeCancelResponse(req money.RequestCancelOrder) httpclient.Decoder {
	return func(tag string, body []byte, status int, transportErr error) httpclient.Response {
		if transportErr != nil || status >= 400 {
			reason := ""
			if transportErr != nil {
				reason = transportErr.Error()
			}
			return httpclient.Response{Tag: tag, Value: money.UpdateOrder{
				ClientID: req.ClientID, Instrument: req.Instrument,
				Status: money.StatusError, Reason: reason,
			}}
		}
		return httpclient.Response{Tag: tag, Value: money.UpdateOrder{
			ClientID: req.ClientID, Instrument: req.Instrument,
			Status: money.StatusCancelReceived, UpdateTST: money.Now(),
		}}
	}
}

func binanceStatusToCore(s string) money.OrderStatus {
	switch s {
	case "NEW":
		return money.StatusOpen
	case "PARTIALLY_FILLED":
		return money.StatusPartiallyFilled
	case "FILLED":
		return money.StatusFilled
	case "CANCELED":
		return money.StatusCancelled
	case "REJECTED":
		return money.StatusRejected
	case "EXPIRED":
		return money.StatusExpired
	default:
		return money.StatusSent
	}
}

// NextResponse implements ExecutionService, kept distinct from the feed's
// Next() so one struct can satisfy both capability sets of ExchangeSession.
func (s *BinanceSession) NextResponse() (ExecutionResponse, bool) {
	select {
	case e, ok := <-s.execs:
		return e, ok
	case <-s.stopCh:
		return ExecutionResponse{}, false
	}
}

// Accept reports whether this session handles the given instrument.
func (s *BinanceSession) Accept(instrument money.Instrument) bool {
	return instrument.Exchange == "binance"
}

// Close tears down the websocket and signals readers to stop.
func (s *BinanceSession) Close() {
	close(s.stopCh)
	s.ws.Close()
}
