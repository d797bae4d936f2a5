package venue

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/polybot/internal/wsclient"
)

type fakeSubConn struct {
	mu      sync.Mutex
	writes  int
	inbound chan wsclient.Message
}

func newFakeSubConn() *fakeSubConn {
	return &fakeSubConn{inbound: make(chan wsclient.Message)}
}

func (c *fakeSubConn) WriteMessage(int, []byte) error {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
	return nil
}

func (c *fakeSubConn) ReadMessage() (int, []byte, error) {
	msg := <-c.inbound
	return msg.Type, msg.Data, nil
}

func (c *fakeSubConn) Close() error { return nil }

func TestReplaySpacesMessagesByAtLeast250ms(t *testing.T) {
	m := NewSubscriptionManager()
	m.AddGlobal(wsclient.Message{Type: websocket.TextMessage, Data: []byte("global")})
	m.AddSymbol("BTCUSDT", wsclient.Message{Type: websocket.TextMessage, Data: []byte("btc")})

	conn := newFakeSubConn()
	sess := wsclient.New(func(url string, header http.Header) (wsclient.Conn, error) {
		return conn, nil
	})
	require.NoError(t, sess.Connect("wss://example", nil))

	started := time.Now()
	m.Replay(sess)
	elapsed := time.Since(started)

	assert.GreaterOrEqual(t, elapsed, ReplaySpacing)
	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Equal(t, 2, conn.writes)
}
