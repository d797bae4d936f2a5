package wsclient

import (
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory Conn used to drive Session deterministically.
type fakeConn struct {
	mu       sync.Mutex
	writes   []Message
	writeErr error
	inbound  chan Message
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan Message, 16)}
}

func (c *fakeConn) WriteMessage(mt int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, Message{Type: mt, Data: data})
	return nil
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	msg, ok := <-c.inbound
	if !ok {
		return 0, nil, errors.New("closed")
	}
	return msg.Type, msg.Data, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbound)
	}
	return nil
}

func dialerFor(conns ...*fakeConn) Dial {
	i := 0
	return func(url string, header http.Header) (Conn, error) {
		if i >= len(conns) {
			return nil, errors.New("no more fake conns")
		}
		c := conns[i]
		i++
		return c, nil
	}
}

func TestFeedSendFlushOrdering(t *testing.T) {
	conn := newFakeConn()
	s := New(dialerFor(conn))
	require.NoError(t, s.Connect("wss://example", nil))

	s.Feed(Message{Type: 1, Data: []byte("a")})
	s.Feed(Message{Type: 1, Data: []byte("b")})
	assert.True(t, s.Flush())

	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Len(t, conn.writes, 2)
	assert.Equal(t, []byte("a"), conn.writes[0].Data)
	assert.Equal(t, []byte("b"), conn.writes[1].Data)
}

// A failed send re-queues the in-flight message to the front of the queue
// and disconnects, so an ordered resend after reconnect never drops or
// reorders a message (§4.A send contract).
func TestFailedSendRequeuesToFrontThenDisconnects(t *testing.T) {
	first := newFakeConn()
	first.writeErr = errors.New("connection reset")
	second := newFakeConn()
	s := New(dialerFor(first, second))
	require.NoError(t, s.Connect("wss://example", nil))

	s.Feed(Message{Type: 1, Data: []byte("will-fail")})
	s.Feed(Message{Type: 1, Data: []byte("queued-after")})

	ok := s.Flush()
	assert.False(t, ok)
	assert.False(t, s.IsConnected())

	ok = s.Reconnect("wss://example", nil)
	require.True(t, ok)

	assert.True(t, s.Flush())
	second.mu.Lock()
	defer second.mu.Unlock()
	require.Len(t, second.writes, 2)
	assert.Equal(t, []byte("will-fail"), second.writes[0].Data)
	assert.Equal(t, []byte("queued-after"), second.writes[1].Data)
}

func TestReconnectMemoizesConcurrentCallers(t *testing.T) {
	conn := newFakeConn()
	release := make(chan struct{})
	dial := dialerFor(conn)
	s := New(func(url string, header http.Header) (Conn, error) {
		<-release
		return dial(url, header)
	})

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.Reconnect("wss://example", nil)
		}(i)
	}
	// Hold the single dial in flight until every caller has joined it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, ok := range results {
		assert.True(t, ok)
	}
	assert.True(t, s.IsConnected())
}

func TestRecvDeliversInboundMessage(t *testing.T) {
	conn := newFakeConn()
	s := New(dialerFor(conn))
	require.NoError(t, s.Connect("wss://example", nil))

	conn.inbound <- Message{Type: 1, Data: []byte("hello")}
	msg, ok := s.Recv()
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), msg.Data)
}

func TestRecvReportsDisconnectOnClose(t *testing.T) {
	conn := newFakeConn()
	s := New(dialerFor(conn))
	require.NoError(t, s.Connect("wss://example", nil))

	conn.Close()
	_, ok := s.Recv()
	assert.False(t, ok)
	assert.False(t, s.IsConnected())
}

func TestIsFlushedReflectsQueueState(t *testing.T) {
	conn := newFakeConn()
	s := New(dialerFor(conn))
	require.NoError(t, s.Connect("wss://example", nil))
	assert.True(t, s.IsFlushed())

	s.Feed(Message{Type: 1, Data: []byte("x")})
	assert.False(t, s.IsFlushed())

	assert.True(t, s.Flush())
	assert.True(t, s.IsFlushed())
}
