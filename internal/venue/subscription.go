package venue

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polybot/internal/wsclient"
)

// ReplaySpacing is the minimum gap between two subscription messages on
// (re)connect, set by the venue rate limits §4.C describes.
const ReplaySpacing = 250 * time.Millisecond

// SubscriptionManager tracks what an adapter has asked a venue to stream:
// a fixed set of global messages plus a per-symbol set. On (re)connect,
// Replay re-sends every message, spaced out so a bulk reconnect never
// trips the venue's rate limiter.
type SubscriptionManager struct {
	global  []wsclient.Message
	symbols map[string]wsclient.Message
}

// NewSubscriptionManager builds an empty manager.
func NewSubscriptionManager() *SubscriptionManager {
	return &SubscriptionManager{symbols: make(map[string]wsclient.Message)}
}

// AddGlobal registers a subscription message that isn't tied to a symbol
// (e.g. a user-data/listen-key stream).
func (m *SubscriptionManager) AddGlobal(msg wsclient.Message) {
	m.global = append(m.global, msg)
}

// AddSymbol registers (or replaces) the subscription message for a symbol.
func (m *SubscriptionManager) AddSymbol(symbol string, msg wsclient.Message) {
	m.symbols[symbol] = msg
}

// RemoveSymbol drops a symbol's subscription so future replays skip it.
func (m *SubscriptionManager) RemoveSymbol(symbol string) {
	delete(m.symbols, symbol)
}

// Replay feeds every tracked subscription message into session, spaced by
// ReplaySpacing. It blocks for the duration of the replay — callers run it
// from the adapter's own reconnect goroutine, never from the session's
// cooperative loop.
func (m *SubscriptionManager) Replay(session *wsclient.Session) {
	n := len(m.global) + len(m.symbols)
	if n == 0 {
		return
	}
	log.Info().Int("count", n).Msg("replaying websocket subscriptions after reconnect")

	first := true
	send := func(msg wsclient.Message) {
		if !first {
			time.Sleep(ReplaySpacing)
		}
		first = false
		session.Send(msg)
	}
	for _, msg := range m.global {
		send(msg)
	}
	for _, msg := range m.symbols {
		send(msg)
	}
}
