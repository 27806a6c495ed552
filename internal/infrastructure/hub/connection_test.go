package hub

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bean-relay/internal/infrastructure/logger"
)

func newWebSocketPair(t *testing.T) (*WebSocketConnection, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	serverSide := make(chan *WebSocketConnection, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverSide <- NewWebSocketConnection("ws-test", conn, logger.Nop{})
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case conn := <-serverSide:
		t.Cleanup(func() { conn.Close() })
		return conn, client
	case <-time.After(2 * time.Second):
		t.Fatal("server side of websocket never arrived")
		return nil, nil
	}
}

func TestWebSocketConnection_SendWritesTextFramesInOrder(t *testing.T) {
	conn, client := newWebSocketPair(t)

	for i := 0; i < 10; i++ {
		require.NoError(t, conn.Send(context.Background(), NewMessage("cheer", []byte(fmt.Sprintf(`{"n":%d}`, i)))))
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 10; i++ {
		kind, data, err := client.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, kind)
		assert.Equal(t, fmt.Sprintf(`{"n":%d}`, i), string(data))
	}
}

func TestWebSocketConnection_CloseSendsCloseFrame(t *testing.T) {
	conn, client := newWebSocketPair(t)

	require.NoError(t, conn.Close())
	assert.True(t, conn.IsClosed())
	assert.NoError(t, conn.Close(), "closing twice is safe")

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	err = conn.Send(context.Background(), NewMessage("cheer", nil))
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestWebSocketConnection_DrainFlushesQueueBeforeClosing(t *testing.T) {
	conn, client := newWebSocketPair(t)

	for i := 0; i < 20; i++ {
		require.NoError(t, conn.Send(context.Background(), NewMessage("cheer", []byte(fmt.Sprintf("%d", i)))))
	}
	require.NoError(t, conn.Drain(context.Background()))
	assert.True(t, conn.IsClosed())
	assert.ErrorIs(t, conn.Send(context.Background(), NewMessage("cheer", nil)), ErrConnectionClosed)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 20; i++ {
		_, data, err := client.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("%d", i), string(data))
	}
	_, _, err := client.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestWebSocketConnection_ClientDisconnectClosesConnection(t *testing.T) {
	conn, client := newWebSocketPair(t)

	client.Close()

	assert.Eventually(t, conn.IsClosed, 2*time.Second, 10*time.Millisecond)
}

func TestSSEConnection_ServeWritesEvents(t *testing.T) {
	hub, _ := startedHub(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn := NewSSEConnection(r.Context(), "sse-test", w, logger.Nop{})
		if err := hub.RegisterConnection(conn); err != nil {
			return
		}
		defer hub.UnregisterConnection(conn)
		conn.Serve()
	}))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Broadcast(context.Background(), NewMessage("cheer", []byte(`{"type":"cheer"}`))))

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 3 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	assert.Contains(t, lines, "event:cheer")
	assert.Contains(t, lines, `data:{"type":"cheer"}`)
}

func TestSSEConnection_DrainFlushesQueueBeforeClosing(t *testing.T) {
	serverSide := make(chan *SSEConnection, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn := NewSSEConnection(r.Context(), "sse-drain", w, logger.Nop{})
		serverSide <- conn
		conn.Serve()
	}))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	conn := <-serverSide
	for i := 0; i < 5; i++ {
		require.NoError(t, conn.Send(context.Background(), NewMessage("cheer", []byte(fmt.Sprintf("%d", i)))))
	}
	require.NoError(t, conn.Drain(context.Background()))

	reader := bufio.NewReader(resp.Body)
	var data []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		if strings.HasPrefix(line, "data:") {
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, data)
}
