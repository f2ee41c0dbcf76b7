package chatserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var v map[string]string
	require.NoError(t, conn.ReadJSON(&v))
	return v
}

func TestServer(t *testing.T) {
	chat := New(zaptest.NewLogger(t)).WithKeepalive(0)
	srv := httptest.NewServer(chat)
	defer srv.Close()

	t.Run("greets, echoes and answers ping", func(t *testing.T) {
		conn := dial(t, srv, "/ws/key-1")

		hello := readJSON(t, conn)
		assert.Equal(t, "system", hello["type"])
		assert.Contains(t, hello["message"], "key-1")
		assert.NotEmpty(t, hello["session_id"])

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hi there")))
		echo := readJSON(t, conn)
		assert.Equal(t, "echo", echo["type"])
		assert.Equal(t, "hi there", echo["message"])
		assert.Equal(t, hello["session_id"], echo["session_id"])

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","timestamp":"x"}`)))
		pong := readJSON(t, conn)
		assert.Equal(t, "pong", pong["type"])

		received := chat.Received()
		require.Len(t, received, 1)
		assert.Equal(t, Received{WidgetKey: "key-1", SessionID: hello["session_id"], Text: "hi there"}, received[0])
	})

	t.Run("rejects unknown paths", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/other")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("rejecting mode refuses upgrades", func(t *testing.T) {
		chat.SetRejecting(true)
		defer chat.SetRejecting(false)

		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/key-2"
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("disconnect all sends close code", func(t *testing.T) {
		conn := dial(t, srv, "/ws/key-3")
		readJSON(t, conn)

		require.Eventually(t, func() bool { return chat.Connections() >= 1 }, time.Second, 10*time.Millisecond)
		chat.DisconnectAll(websocket.CloseGoingAway, "bye")

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := conn.ReadMessage()
		require.Error(t, err)
		assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
	})
}

func TestKeepalive(t *testing.T) {
	chat := New(zaptest.NewLogger(t)).WithKeepalive(20 * time.Millisecond)
	srv := httptest.NewServer(chat)
	defer srv.Close()

	conn := dial(t, srv, "/ws/key")
	assert.Equal(t, "system", readJSON(t, conn)["type"])
	assert.Equal(t, "ping", readJSON(t, conn)["type"])
}
