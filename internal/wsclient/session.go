// Package wsclient implements WsSession (§4.A): a single long-lived
// WebSocket connection with a queued outgoing side, reconnect memoization,
// and cooperative draining so a busy sender never starves incoming
// traffic. It is the Go-idiomatic counterpart of the reference
// implementation's tokio WsSession (see original_source/exchange/common/
// src/ws/ws_session.rs) — gorilla/websocket replaces tokio-tungstenite and
// a background reader goroutine replaces the cooperative poll loop.
package wsclient

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Message is a single WebSocket frame.
type Message struct {
	Type int // websocket.TextMessage or websocket.BinaryMessage
	Data []byte
}

// Conn is the subset of *websocket.Conn the session needs — narrowed so
// tests can substitute a fake transport.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, data []byte, err error)
	Close() error
}

// Dial opens a new Conn. The default implementation wraps
// gorilla/websocket.DefaultDialer.
type Dial func(url string, header http.Header) (Conn, error)

// DefaultDial dials with gorilla/websocket's default dialer.
func DefaultDial(url string, header http.Header) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

var sessionIDs uint32

type reconnectState struct {
	done chan struct{}
	ok   bool
}

type readResult struct {
	msg Message
	err error
	gen uint64
}

// Session is one WebSocket connection plus its outgoing queue.
type Session struct {
	id   uint32
	dial Dial

	mu          sync.Mutex
	conn        Conn
	url         string
	outgoing    []Message
	lastFlushed bool
	generation  uint64
	reconnectSt *reconnectState

	readCh chan readResult
}

// New creates a disconnected session. Call Connect or Reconnect before use.
func New(dial Dial) *Session {
	if dial == nil {
		dial = DefaultDial
	}
	return &Session{
		id:          atomic.AddUint32(&sessionIDs, 1),
		dial:        dial,
		lastFlushed: true,
		readCh:      make(chan readResult, 16),
	}
}

// Connect opens the session for the first time.
func (s *Session) Connect(url string, header http.Header) error {
	conn, err := s.dial(url, header)
	if err != nil {
		log.Error().Uint32("id", s.id).Str("url", url).Err(err).Msg("websocket connect failed")
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.url = url
	s.lastFlushed = true
	s.startReaderLocked()
	s.mu.Unlock()
	log.Info().Uint32("id", s.id).Str("url", url).Msg("websocket connected")
	return nil
}

// IsConnected reports whether the session currently owns a live conn.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *Session) startReaderLocked() {
	gen := s.generation
	conn := s.conn
	go func() {
		for {
			mt, data, err := conn.ReadMessage()
			s.readCh <- readResult{msg: Message{Type: mt, Data: data}, err: err, gen: gen}
			if err != nil {
				return
			}
		}
	}()
}

// Reconnect is idempotent: if a reconnect is already in flight, the caller
// shares the same in-flight outcome instead of opening a second socket.
func (s *Session) Reconnect(url string, header http.Header) bool {
	s.mu.Lock()
	if s.reconnectSt != nil {
		select {
		case <-s.reconnectSt.done:
			s.reconnectSt = nil
		default:
			rs := s.reconnectSt
			s.mu.Unlock()
			<-rs.done
			return rs.ok
		}
	}
	rs := &reconnectState{done: make(chan struct{})}
	s.reconnectSt = rs
	s.mu.Unlock()

	conn, err := s.dial(url, header)

	s.mu.Lock()
	if err == nil {
		s.conn = conn
		s.url = url
		s.lastFlushed = true
		s.generation++
		s.startReaderLocked()
		rs.ok = true
	} else {
		log.Error().Uint32("id", s.id).Str("url", url).Err(err).Msg("websocket reconnect failed")
	}
	s.reconnectSt = nil
	s.mu.Unlock()
	close(rs.done)
	if rs.ok {
		log.Info().Uint32("id", s.id).Str("url", url).Msg("websocket reconnected")
	}
	return rs.ok
}

// Feed enqueues a message. It never blocks and never fails.
func (s *Session) Feed(msg Message) {
	s.mu.Lock()
	s.outgoing = append(s.outgoing, msg)
	s.mu.Unlock()
}

// Send feeds then flushes. Returns false iff the connection was lost
// mid-send.
func (s *Session) Send(msg Message) bool {
	s.Feed(msg)
	return s.Flush()
}

// Flush drains the outgoing queue into the socket. On any send error the
// transport is torn down and Flush returns false; unlike an explicit
// Disconnect, the failed message is re-queued at the front and survives
// so it redelivers once Reconnect succeeds.
func (s *Session) Flush() bool {
	for {
		s.mu.Lock()
		if len(s.outgoing) == 0 {
			s.lastFlushed = true
			s.mu.Unlock()
			return true
		}
		msg := s.outgoing[0]
		s.outgoing = s.outgoing[1:]
		conn := s.conn
		s.mu.Unlock()

		if conn == nil {
			return false
		}

		s.mu.Lock()
		s.lastFlushed = false
		s.mu.Unlock()

		err := conn.WriteMessage(msg.Type, msg.Data)
		if err != nil {
			log.Error().Uint32("id", s.id).Err(err).Msg("error sending message to websocket")
			s.mu.Lock()
			// Re-queue at the front, order-preserving. A transient flush
			// failure tears down the transport but keeps the queue intact
			// (unlike an explicit Disconnect) so the message redelivers
			// after reconnect instead of being lost.
			s.outgoing = append([]Message{msg}, s.outgoing...)
			if s.conn != nil {
				_ = s.conn.Close()
			}
			s.conn = nil
			s.generation++
			s.mu.Unlock()
			return false
		}
		s.mu.Lock()
		s.lastFlushed = true
		s.mu.Unlock()
	}
}

// IsFlushed reports whether the outgoing queue is empty and the last send
// fully completed.
func (s *Session) IsFlushed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFlushed && len(s.outgoing) == 0
}

// Disconnect drops the connection and clears the outgoing queue. This is
// distinct from a transient flush failure: flush failures leave the
// re-queued message in place, but an explicit Disconnect always clears it.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = nil
	s.outgoing = nil
	s.generation++
	s.mu.Unlock()
}

// Recv waits for the next inbound message. A false ok means the
// connection closed (and has already been disconnected internally).
func (s *Session) Recv() (Message, bool) {
	for {
		res := <-s.readCh
		s.mu.Lock()
		stale := res.gen != s.generation
		s.mu.Unlock()
		if stale {
			continue
		}
		if res.err != nil {
			log.Error().Uint32("id", s.id).Err(res.err).Msg("error receiving message from websocket")
			s.Disconnect()
			return Message{}, false
		}
		return res.msg, true
	}
}

// Next cooperatively flushes whenever the outgoing queue is non-empty and
// no inbound message is immediately ready, so a busy sender never starves
// incoming traffic.
func (s *Session) Next() (Message, bool) {
	for {
		if !s.IsFlushed() {
			select {
			case res := <-s.readCh:
				return s.deliver(res)
			default:
				if !s.Flush() {
					return Message{}, false
				}
				continue
			}
		}
		res := <-s.readCh
		return s.deliver(res)
	}
}

func (s *Session) deliver(res readResult) (Message, bool) {
	s.mu.Lock()
	stale := res.gen != s.generation
	s.mu.Unlock()
	if stale {
		return s.Next()
	}
	if res.err != nil {
		log.Error().Uint32("id", s.id).Err(res.err).Msg("error receiving message from websocket")
		s.Disconnect()
		return Message{}, false
	}
	return res.msg, true
}

// Close closes the connection gracefully.
func (s *Session) Close() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.generation++
	s.mu.Unlock()
	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}
}

// CloseImmediately drops the connection without a close handshake.
func (s *Session) CloseImmediately() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.generation++
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}
