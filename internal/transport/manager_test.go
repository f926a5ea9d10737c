package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/tabletop-client/internal/config"
	apperrors "github.com/wfunc/tabletop-client/internal/errors"
	"github.com/wfunc/tabletop-client/internal/eventloop"
	"github.com/wfunc/tabletop-client/internal/protocol"
)

// fakeServer 模拟游戏服务器，记录收到的帧
type fakeServer struct {
	srv      *httptest.Server
	received chan map[string]interface{}
	conns    chan *websocket.Conn
	active   atomic.Int32
	accepted atomic.Int32
}

func newFakeServer(t *testing.T) *fakeServer {
	fs := &fakeServer{
		received: make(chan map[string]interface{}, 64),
		conns:    make(chan *websocket.Conn, 8),
	}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		fs.accepted.Add(1)
		fs.active.Add(1)
		defer fs.active.Add(-1)
		fs.conns <- c

		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]interface{}
			if json.Unmarshal(data, &msg) == nil {
				fs.received <- msg
			}
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) next(t *testing.T) map[string]interface{} {
	select {
	case msg := <-fs.received:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("等待服务器收到消息超时")
		return nil
	}
}

func (fs *fakeServer) conn(t *testing.T) *websocket.Conn {
	select {
	case c := <-fs.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("等待客户端连接超时")
		return nil
	}
}

func startLoop(t *testing.T) *eventloop.Loop {
	loop := eventloop.New(0)
	loop.Start(context.Background())
	t.Cleanup(loop.Stop)
	return loop
}

func onLoop(t *testing.T, loop *eventloop.Loop, fn func()) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, loop.Call(ctx, fn))
}

func testOptions(url string) Options {
	return Options{
		Kind:      KindRoom,
		URL:       url,
		Dialect:   protocol.DialectRoom,
		WebSocket: config.Default().WebSocket,
	}
}

func TestSendWhenNotOpenIsDropped(t *testing.T) {
	v := eventloop.NewVirtual()
	m := NewManager(v, testOptions("ws://127.0.0.1:1/ws"), Handler{})

	assert.Equal(t, Idle, m.State())
	assert.NotPanics(t, func() {
		assert.False(t, m.Send(protocol.Chat{Content: "hi", GameID: "g1"}))
	})
	assert.False(t, m.Send(nil))
	assert.Equal(t, 0, v.PendingTasks())
	assert.Equal(t, 0, v.PendingTimers())
}

func TestHandshakeOnOpen(t *testing.T) {
	fs := newFakeServer(t)
	loop := startLoop(t)

	opened := make(chan struct{}, 1)
	opts := testOptions(fs.url())
	opts.Handshake = func() []protocol.Intent {
		return []protocol.Intent{
			protocol.AuthenticateUser{GuestID: "guest-1"},
			protocol.JoinRoom{GameID: "g1"},
		}
	}

	var m *Manager
	onLoop(t, loop, func() {
		m = NewManager(loop, opts, Handler{OnOpen: func() { opened <- struct{}{} }})
		m.Open(context.Background())
		assert.Equal(t, Connecting, m.State())
	})

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("连接未打开")
	}

	first := fs.next(t)
	assert.Equal(t, "authenticate_user", first["action"])
	assert.Equal(t, "guest-1", first["guest_id"])

	second := fs.next(t)
	assert.Equal(t, "join_room", second["action"])
	assert.Equal(t, "g1", second["game_id"])

	onLoop(t, loop, func() {
		assert.Equal(t, Open, m.State())
		assert.True(t, m.Send(protocol.SetReady{SlotIndex: 1, Ready: true, GameID: "g1"}))
	})
	third := fs.next(t)
	assert.Equal(t, "set_ready", third["action"])
	assert.Equal(t, float64(1), third["slotIndex"])
	assert.Equal(t, true, third["ready"])

	onLoop(t, loop, m.Close)
}

func TestInboundMessagesReachHandler(t *testing.T) {
	fs := newFakeServer(t)
	loop := startLoop(t)

	messages := make(chan string, 4)
	var m *Manager
	onLoop(t, loop, func() {
		m = NewManager(loop, testOptions(fs.url()), Handler{
			OnMessage: func(data []byte) { messages <- string(data) },
		})
		m.Open(context.Background())
	})

	server := fs.conn(t)
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"offset_timer","seconds":5}`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"phase_timer","seconds":9}`)))

	for _, want := range []string{"offset_timer", "phase_timer"} {
		select {
		case got := <-messages:
			assert.Contains(t, got, want)
		case <-time.After(2 * time.Second):
			t.Fatal("未收到消息")
		}
	}

	onLoop(t, loop, m.Close)
}

func TestOpenWhileOpenClosesOldConnection(t *testing.T) {
	fs := newFakeServer(t)
	loop := startLoop(t)

	opened := make(chan struct{}, 2)
	var m *Manager
	onLoop(t, loop, func() {
		m = NewManager(loop, testOptions(fs.url()), Handler{OnOpen: func() { opened <- struct{}{} }})
		m.Open(context.Background())
	})
	<-opened
	fs.conn(t)

	onLoop(t, loop, func() { m.Open(context.Background()) })
	<-opened
	fs.conn(t)

	assert.Eventually(t, func() bool { return fs.active.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), fs.accepted.Load())

	onLoop(t, loop, m.Close)
	assert.Eventually(t, func() bool { return fs.active.Load() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestCloseNullsHandleAndIgnoresStaleCallbacks(t *testing.T) {
	v := eventloop.NewVirtual()
	var got []string
	var closed int
	m := NewManager(v, testOptions("ws://unused"), Handler{
		OnMessage: func(data []byte) { got = append(got, string(data)) },
		OnClose:   func(error) { closed++ },
	})

	// 模拟一条已打开的连接
	m.gen = 1
	m.state = Open
	m.conn = newConn(nil)
	m.handleMessage(1, []byte(`{"type":"chat"}`))
	require.Len(t, got, 1)

	m.Close()
	assert.Equal(t, Closed, m.State())
	assert.Nil(t, m.conn)
	assert.False(t, m.Send(protocol.ListGames{}))

	m.handleMessage(1, []byte(`{"type":"chat"}`))
	m.handleClosed(1, &websocket.CloseError{Code: websocket.CloseAbnormalClosure})
	assert.Len(t, got, 1)
	assert.Equal(t, 0, closed)
}

func TestDialFailureReportsError(t *testing.T) {
	fs := newFakeServer(t)
	url := fs.url()
	fs.srv.Close()

	loop := startLoop(t)
	errs := make(chan error, 1)
	var m *Manager
	onLoop(t, loop, func() {
		m = NewManager(loop, testOptions(url), Handler{OnError: func(err error) { errs <- err }})
		m.Open(context.Background())
	})

	select {
	case err := <-errs:
		assert.True(t, apperrors.Is(err, apperrors.ErrWebSocketConnect))
	case <-time.After(2 * time.Second):
		t.Fatal("未报告连接错误")
	}
	onLoop(t, loop, func() { assert.Equal(t, Closed, m.State()) })
}

func TestReconnectReplaysHandshake(t *testing.T) {
	fs := newFakeServer(t)
	loop := startLoop(t)

	opts := testOptions(fs.url())
	opts.Reconnect = config.ReconnectConfig{
		Enabled:         true,
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     100 * time.Millisecond,
		Multiplier:      2,
		MaxAttempts:     3,
	}
	opts.Handshake = func() []protocol.Intent {
		return []protocol.Intent{protocol.AuthenticateUser{GuestID: "guest-1"}}
	}

	closes := make(chan error, 2)
	var m *Manager
	onLoop(t, loop, func() {
		m = NewManager(loop, opts, Handler{OnClose: func(err error) { closes <- err }})
		m.Open(context.Background())
	})

	first := fs.conn(t)
	assert.Equal(t, "authenticate_user", fs.next(t)["action"])

	// 服务器主动断开
	require.NoError(t, first.Close())
	select {
	case <-closes:
	case <-time.After(2 * time.Second):
		t.Fatal("未收到关闭回调")
	}

	fs.conn(t)
	assert.Equal(t, "authenticate_user", fs.next(t)["action"])
	onLoop(t, loop, func() {
		assert.True(t, m.Connected())
		assert.Equal(t, 0, m.policy.Attempts())
	})

	onLoop(t, loop, m.Close)
}

func TestReconnectDisabledByDefault(t *testing.T) {
	v := eventloop.NewVirtual()
	m := NewManager(v, testOptions("ws://unused"), Handler{})
	assert.Nil(t, m.policy)

	m.gen = 1
	m.state = Open
	m.conn = newConn(nil)
	m.handleClosed(1, &websocket.CloseError{Code: websocket.CloseNormalClosure})
	assert.Equal(t, Closed, m.State())
	assert.Equal(t, 0, v.PendingTimers())
}

func TestReconnectSkipsNonRetryableClose(t *testing.T) {
	v := eventloop.NewVirtual()
	opts := testOptions("ws://unused")
	opts.Reconnect = config.ReconnectConfig{
		Enabled:         true,
		InitialInterval: time.Second,
		MaxInterval:     time.Second,
		Multiplier:      2,
		MaxAttempts:     3,
	}
	m := NewManager(v, opts, Handler{})
	require.NotNil(t, m.policy)

	// 协议违规的关闭重连后仍会失败
	m.gen = 1
	m.state = Open
	m.conn = newConn(nil)
	m.handleClosed(1, &websocket.CloseError{Code: websocket.ClosePolicyViolation})
	assert.Equal(t, Closed, m.State())
	assert.Equal(t, 0, v.PendingTimers())

	// 服务器重启可以重连
	m.state = Open
	m.conn = newConn(nil)
	m.handleClosed(1, &websocket.CloseError{Code: websocket.CloseGoingAway})
	assert.Equal(t, 1, v.PendingTimers())
}

func TestCloseCause(t *testing.T) {
	tests := []struct {
		err  error
		code apperrors.ErrorCode
	}{
		{&websocket.CloseError{Code: websocket.CloseGoingAway}, apperrors.ErrWebSocketClosed},
		{&websocket.CloseError{Code: websocket.CloseAbnormalClosure}, apperrors.ErrWebSocketClosed},
		{&websocket.CloseError{Code: websocket.CloseMessageTooBig}, apperrors.ErrMessageFormat},
		{websocket.ErrReadLimit, apperrors.ErrMessageFormat},
		{io.ErrUnexpectedEOF, apperrors.ErrWebSocketReceive},
	}
	for _, tt := range tests {
		cause := closeCause(tt.err)
		assert.Equal(t, tt.code, cause.Code, "err=%v", tt.err)
		assert.ErrorIs(t, cause, tt.err)
		assert.Equal(t, tt.code != apperrors.ErrMessageFormat, apperrors.IsRetryable(cause))
	}
}

func TestReconnectPolicyBackoff(t *testing.T) {
	assert.Nil(t, NewReconnectPolicy(config.ReconnectConfig{}))

	p := NewReconnectPolicy(config.ReconnectConfig{
		Enabled:         true,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     3 * time.Second,
		Multiplier:      2,
		MaxAttempts:     5,
	})

	var delays []time.Duration
	for {
		d, ok := p.Next()
		if !ok {
			break
		}
		delays = append(delays, d)
	}
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		3 * time.Second,
		3 * time.Second,
	}, delays)

	p.Reset()
	d, ok := p.Next()
	assert.True(t, ok)
	assert.Equal(t, 500*time.Millisecond, d)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "unknown", State(42).String())
}
