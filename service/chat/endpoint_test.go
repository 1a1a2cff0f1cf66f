package chat

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"WSChat/config"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWSTestServer(t *testing.T, mutate func(*config.Settings)) (*Server, string, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := newTestServer(mutate)
	engine := gin.New()
	engine.GET("/chat", NewEndpoint(s).Handle)

	ts := httptest.NewServer(engine)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/chat"
	return s, wsURL, func() {
		s.Stop()
		ts.Close()
	}
}

func dialUser(t *testing.T, wsURL string, id string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?id="+id, nil)
	require.NoError(t, err)
	return conn
}

func readPayload(t *testing.T, conn *websocket.Conn) *Payload {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var p Payload
	require.NoError(t, json.Unmarshal(data, &p))
	return &p
}

func TestEndpointDeliversOverWire(t *testing.T) {
	_, wsURL, stop := newWSTestServer(t, nil)
	defer stop()

	sender := dialUser(t, wsURL, "10")
	defer sender.Close()
	recipient := dialUser(t, wsURL, "20")
	defer recipient.Close()

	// 等两条连接都完成登记
	time.Sleep(50 * time.Millisecond)

	msg := textPayload(10, []UserID{20}, "hi over the wire")
	require.NoError(t, sender.WriteMessage(websocket.TextMessage, msg))

	p := readPayload(t, recipient)
	assert.Equal(t, "text", p.Type)
	assert.Equal(t, "hi over the wire", p.Text)
}

func TestEndpointClosesOnInvalidID(t *testing.T) {
	_, wsURL, stop := newWSTestServer(t, nil)
	defer stop()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?id=abc", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)

	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected close error, got %v", err)
	assert.Equal(t, StatusInvalidQueryParams, closeErr.Code)
	assert.Contains(t, closeErr.Text, "Passed invalid id: id=abc")
}

// 大消息经分块读进核心重组，整条原样到达
func TestEndpointLargeMessageRoundTrip(t *testing.T) {
	s, wsURL, stop := newWSTestServer(t, nil)
	defer stop()

	sender := dialUser(t, wsURL, "10")
	defer sender.Close()
	recipient := dialUser(t, wsURL, "20")
	defer recipient.Close()
	time.Sleep(50 * time.Millisecond)

	big := strings.Repeat("a", 100*1024) // 超过单块 32KiB
	msg := textPayload(10, []UserID{20}, big)
	require.NoError(t, sender.WriteMessage(websocket.TextMessage, msg))

	p := readPayload(t, recipient)
	assert.Equal(t, big, p.Text)
	assert.False(t, s.reassembler.Has(10))
}

func TestEndpointServerPingGetsPong(t *testing.T) {
	s, wsURL, stop := newWSTestServer(t, nil)
	defer stop()

	client := dialUser(t, wsURL, "10")
	defer client.Close()
	time.Sleep(50 * time.Millisecond)

	conns, err := s.Storage().Get(10)
	require.NoError(t, err)
	require.Len(t, conns, 1)

	// gorilla 客户端默认自动回 PONG，读循环驱动即可
	go func() {
		_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			if _, _, err := client.NextReader(); err != nil {
				return
			}
		}
	}()

	conns[0].Send([]byte("."), OpPing, nil)
	s.Storage().MarkPongWait(conns[0])

	// 本地回环，留足往返时间
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 0, s.Storage().DisconnectWithoutPong())
	assert.True(t, s.Storage().Exists(conns[0].UniqueID()))
}
