package websockets

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Avinash-jetwani/glazing-ai-bot/internal/chatserver"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestDialerBuilder(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		d := NewDialer().Build()
		assert.Equal(t, DefaultDialTimeout, d.dialTimeout)
		assert.Equal(t, DefaultWriteTimeout, d.writeTimeout)
		assert.Equal(t, int64(DefaultReadLimit), d.readLimit)
		assert.NotNil(t, d.logger)
	})

	t.Run("fluent interface returns same builder", func(t *testing.T) {
		b := NewDialer()
		assert.Same(t, b, b.WithLogger(zaptest.NewLogger(t)))
		assert.Same(t, b, b.WithDialTimeout(time.Second))
		assert.Same(t, b, b.WithWriteTimeout(time.Second))
		assert.Same(t, b, b.WithReadLimit(1024))
		assert.Same(t, b, b.WithHeaders(map[string][]string{"X-A": {"1"}}))
		assert.Same(t, b, b.WithHeader("X-B", "2"))
	})

	t.Run("invalid values are ignored", func(t *testing.T) {
		d := NewDialer().
			WithLogger(nil).
			WithDialTimeout(-time.Second).
			WithWriteTimeout(0).
			WithReadLimit(-1).
			Build()
		assert.NotNil(t, d.logger)
		assert.Equal(t, DefaultDialTimeout, d.dialTimeout)
		assert.Equal(t, DefaultWriteTimeout, d.writeTimeout)
		assert.Equal(t, int64(DefaultReadLimit), d.readLimit)
	})

	t.Run("headers merge", func(t *testing.T) {
		d := NewDialer().
			WithHeaders(map[string][]string{"X-A": {"1"}}).
			WithHeader("X-B", "2").
			Build()
		assert.Equal(t, map[string][]string{"X-A": {"1"}, "X-B": {"2"}}, d.headers)
	})
}

func TestCoderDialer(t *testing.T) {
	chat := chatserver.New(zaptest.NewLogger(t)).WithKeepalive(0)
	srv := httptest.NewServer(chat)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("round trip", func(t *testing.T) {
		tr, err := NewDialer().WithLogger(zaptest.NewLogger(t)).Build().Dial(ctx, wsURL(srv, "/ws/abc"))
		require.NoError(t, err)
		defer tr.CloseNow()

		hello, err := tr.Read(ctx)
		require.NoError(t, err)
		assert.Contains(t, string(hello), `"type":"system"`)

		require.NoError(t, tr.Write(ctx, []byte("hello")))
		echo, err := tr.Read(ctx)
		require.NoError(t, err)
		assert.Contains(t, string(echo), `"message":"hello"`)

		assert.NoError(t, tr.Close(StatusNormalClosure, "done"))
	})

	t.Run("headers are sent", func(t *testing.T) {
		got := make(chan string, 1)
		hsrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got <- r.Header.Get("X-Widget")
			conn, err := websocket.Accept(w, r, nil)
			if err != nil {
				return
			}
			conn.Close(websocket.StatusNormalClosure, "")
		}))
		defer hsrv.Close()

		tr, err := NewDialer().WithHeader("X-Widget", "yes").Build().Dial(ctx, wsURL(hsrv, "/"))
		require.NoError(t, err)
		defer tr.CloseNow()
		assert.Equal(t, "yes", <-got)
	})

	t.Run("remote normal close is reported", func(t *testing.T) {
		tr, err := NewDialer().Build().Dial(ctx, wsURL(srv, "/ws/close"))
		require.NoError(t, err)
		defer tr.CloseNow()

		_, err = tr.Read(ctx)
		require.NoError(t, err)

		require.Eventually(t, func() bool { return chat.Connections() > 0 }, time.Second, 10*time.Millisecond)
		chat.DisconnectAll(int(StatusNormalClosure), "bye")

		_, err = tr.Read(ctx)
		require.Error(t, err)
		assert.True(t, IsNormalClosure(err))
	})

	t.Run("refused upgrade", func(t *testing.T) {
		chat.SetRejecting(true)
		defer chat.SetRejecting(false)

		_, err := NewDialer().Build().Dial(ctx, wsURL(srv, "/ws/abc"))
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrDialTimeout))
	})

	t.Run("dial timeout", func(t *testing.T) {
		hang := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		defer hang.Close()

		_, err := NewDialer().WithDialTimeout(50*time.Millisecond).Build().Dial(ctx, wsURL(hang, "/"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDialTimeout)
	})
}

func TestCloseCode(t *testing.T) {
	assert.Equal(t, websocket.StatusCode(-1), CloseCode(errors.New("boom")))
	assert.Equal(t, StatusInternalError, CloseCode(websocket.CloseError{Code: StatusInternalError}))
	assert.True(t, IsNormalClosure(websocket.CloseError{Code: StatusNormalClosure, Reason: "x"}))
	assert.False(t, IsNormalClosure(nil))
}
