// Package transport 管理每个逻辑上下文（auth / lobby / room）唯一的一条WebSocket连接。
//
// Manager 的所有方法都必须在事件循环上调用；拨号、读写泵在后台goroutine运行，结果通过 Scheduler.Post 回到循环。
package transport

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wfunc/tabletop-client/internal/config"
	apperrors "github.com/wfunc/tabletop-client/internal/errors"
	"github.com/wfunc/tabletop-client/internal/eventloop"
	"github.com/wfunc/tabletop-client/internal/logger"
	"github.com/wfunc/tabletop-client/internal/protocol"
	"go.uber.org/zap"
)

// 连接默认参数
const (
	// 写超时
	defaultWriteWait = 10 * time.Second

	// 读取pong超时
	defaultPongWait = 60 * time.Second

	// 最大消息大小
	defaultMaxMessageSize = 512 * 1024 // 512KB

	// 发送缓冲
	sendBufferSize = 256
)

// Kind 上下文类型
type Kind string

const (
	KindAuth  Kind = "auth"
	KindLobby Kind = "lobby"
	KindRoom  Kind = "room"
)

// State 连接状态
type State int

const (
	Idle State = iota
	Connecting
	Open
	Closed
)

// String 返回状态名
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler 连接事件回调，全部在事件循环上执行
type Handler struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnError   func(err error)
	OnClose   func(err error)
}

// Options 连接选项
type Options struct {
	Kind      Kind
	URL       string
	Dialect   protocol.Dialect
	WebSocket config.WebSocketConfig
	Reconnect config.ReconnectConfig
	// Handshake 连接打开后依次发送的意图，每次打开（包括重连）都会重新调用
	Handshake func() []protocol.Intent
}

// Manager 单个上下文的连接管理器
type Manager struct {
	kind      Kind
	url       string
	dialect   protocol.Dialect
	wsCfg     config.WebSocketConfig
	handshake func() []protocol.Intent
	handler   Handler
	sched     eventloop.Scheduler
	dialer    *websocket.Dialer

	state State
	conn  *conn
	gen   uint64
	ctx   context.Context

	policy          *ReconnectPolicy
	reconnectCancel eventloop.Cancel

	logger *zap.Logger
}

// conn 一条已建立的连接
type conn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{
		ws:   ws,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

// shutdown 通知写泵发送关闭帧并关闭底层连接
func (c *conn) shutdown() {
	c.once.Do(func() { close(c.done) })
}

// NewManager 创建连接管理器
func NewManager(sched eventloop.Scheduler, opts Options, handler Handler) *Manager {
	ws := opts.WebSocket
	if ws.WriteTimeout <= 0 {
		ws.WriteTimeout = defaultWriteWait
	}
	if ws.PongTimeout <= 0 {
		ws.PongTimeout = defaultPongWait
	}
	if ws.PingInterval <= 0 || ws.PingInterval >= ws.PongTimeout {
		// ping发送周期必须小于pong超时
		ws.PingInterval = (ws.PongTimeout * 9) / 10
	}
	if ws.MaxMessageSize <= 0 {
		ws.MaxMessageSize = defaultMaxMessageSize
	}
	if opts.Dialect == "" {
		opts.Dialect = protocol.DialectRoom
	}
	if opts.Handshake == nil {
		opts.Handshake = func() []protocol.Intent { return nil }
	}

	return &Manager{
		kind:      opts.Kind,
		url:       opts.URL,
		dialect:   opts.Dialect,
		wsCfg:     ws,
		handshake: opts.Handshake,
		handler:   handler,
		sched:     sched,
		dialer: &websocket.Dialer{
			HandshakeTimeout:  ws.HandshakeTimeout,
			ReadBufferSize:    ws.ReadBufferSize,
			WriteBufferSize:   ws.WriteBufferSize,
			EnableCompression: ws.EnableCompression,
		},
		state:  Idle,
		policy: NewReconnectPolicy(opts.Reconnect),
		logger: logger.GetModuleLogger(logger.ModuleWebSocket).With(zap.String("context", string(opts.Kind))),
	}
}

// Kind 上下文类型
func (m *Manager) Kind() Kind {
	return m.kind
}

// State 当前连接状态
func (m *Manager) State() State {
	return m.state
}

// Connected 连接是否处于打开状态
func (m *Manager) Connected() bool {
	return m.state == Open && m.conn != nil
}

// Dialect 协议方言
func (m *Manager) Dialect() protocol.Dialect {
	return m.dialect
}

// Open 打开连接；已有连接时先关闭旧连接，避免服务器出现重复会话
func (m *Manager) Open(ctx context.Context) {
	if m.state == Open || m.state == Connecting {
		m.logger.Info("关闭旧连接后重新打开", zap.String("state", m.state.String()))
		m.Close()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	m.ctx = ctx
	if m.policy != nil {
		m.policy.Reset()
	}
	m.dial()
}

func (m *Manager) dial() {
	m.gen++
	gen := m.gen
	m.state = Connecting
	ctx := m.ctx

	m.logger.Info("正在连接", zap.String("url", m.url))

	go func() {
		ws, _, err := m.dialer.DialContext(ctx, m.url, nil)
		m.sched.Post(func() { m.handleDialed(gen, ws, err) })
	}()
}

func (m *Manager) handleDialed(gen uint64, ws *websocket.Conn, err error) {
	if gen != m.gen {
		// 拨号期间连接已被关闭或替换
		if ws != nil {
			ws.Close()
		}
		return
	}

	if err != nil {
		m.state = Closed
		appErr := apperrors.Wrapf(err, apperrors.ErrWebSocketConnect, "url=%s", m.url)
		m.logger.Error("连接失败", zap.Error(err))
		if m.handler.OnError != nil {
			m.handler.OnError(appErr)
		}
		m.triggerReconnect(appErr)
		return
	}

	c := newConn(ws)
	m.conn = c
	m.state = Open

	if m.policy != nil && m.policy.Attempts() > 0 {
		m.logger.Info("重连成功", zap.Int("retry_count", m.policy.Attempts()))
		m.policy.Reset()
	} else {
		m.logger.Info("连接已建立")
	}

	go m.writePump(c)
	go m.readPump(gen, c)

	// 握手意图：发送即返回，不等待结果
	for _, intent := range m.handshake() {
		m.Send(intent)
	}

	if m.handler.OnOpen != nil {
		m.handler.OnOpen()
	}
}

// Send 发送意图；连接未打开时记录日志并返回 false，消息不会被缓存
func (m *Manager) Send(intent protocol.Intent) bool {
	if intent == nil {
		return false
	}
	action := intent.Action(m.dialect)

	if !m.Connected() {
		m.logger.Warn("连接未打开，丢弃意图",
			zap.String("action", action),
			zap.String("state", m.state.String()))
		return false
	}

	data, err := protocol.Encode(intent, m.dialect)
	if err != nil {
		m.logger.Error("意图序列化失败", zap.String("action", action), zap.Error(err))
		return false
	}

	select {
	case m.conn.send <- data:
		logger.LogWebSocketMessage("send", action, json.RawMessage(data))
		return true
	default:
		m.logger.Warn("发送缓冲区已满，丢弃意图", zap.String("action", action))
		return false
	}
}

// Close 关闭连接；句柄立即置空，旧连接之后的回调全部被忽略
func (m *Manager) Close() {
	m.gen++
	m.cancelReconnect()

	if m.conn != nil {
		m.conn.shutdown()
		m.conn = nil
	}
	if m.state != Idle {
		m.logger.Info("连接已关闭", zap.String("previous", m.state.String()))
	}
	m.state = Closed
}

func (m *Manager) handleMessage(gen uint64, data []byte) {
	if gen != m.gen || m.state != Open {
		return
	}
	logger.LogWebSocketMessage("receive", "text", string(data))
	if m.handler.OnMessage != nil {
		m.handler.OnMessage(data)
	}
}

func (m *Manager) handleClosed(gen uint64, err error) {
	if gen != m.gen {
		return
	}

	if m.conn != nil {
		m.conn.shutdown()
		m.conn = nil
	}
	m.state = Closed

	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		m.logger.Error("WebSocket读取错误", zap.Error(err))
		if m.handler.OnError != nil {
			m.handler.OnError(apperrors.Wrap(err, apperrors.ErrWebSocketReceive, "read"))
		}
	} else {
		m.logger.Info("服务器关闭了连接", zap.Error(err))
	}

	if m.handler.OnClose != nil {
		m.handler.OnClose(err)
	}

	m.triggerReconnect(closeCause(err))
}

// closeCause 关闭原因归类；协议类关闭码重连后仍会失败
func closeCause(err error) *apperrors.AppError {
	if stderrors.Is(err, websocket.ErrReadLimit) {
		return apperrors.New(apperrors.ErrMessageFormat).WithCause(err)
	}
	var ce *websocket.CloseError
	if stderrors.As(err, &ce) {
		switch ce.Code {
		case websocket.ClosePolicyViolation,
			websocket.CloseMessageTooBig,
			websocket.CloseUnsupportedData,
			websocket.CloseInvalidFramePayloadData:
			return apperrors.New(apperrors.ErrMessageFormat).WithCause(err)
		}
		return apperrors.New(apperrors.ErrWebSocketClosed).WithCause(err)
	}
	return apperrors.New(apperrors.ErrWebSocketReceive).WithCause(err)
}

// triggerReconnect 按退避策略安排一次重连；未启用、已安排或原因不可重试时忽略
func (m *Manager) triggerReconnect(cause error) {
	if m.policy == nil || m.reconnectCancel != nil {
		return
	}
	if m.ctx != nil && m.ctx.Err() != nil {
		return
	}
	if !apperrors.IsRetryable(cause) {
		m.logger.Warn("断开原因不可重试，不再重连", zap.Error(cause))
		return
	}

	delay, ok := m.policy.Next()
	if !ok {
		err := apperrors.Newf(apperrors.ErrReconnectGiveUp, "已重试 %d 次", m.policy.Attempts())
		m.logger.Error("放弃重连", zap.Error(err))
		if m.handler.OnError != nil {
			m.handler.OnError(err)
		}
		return
	}

	m.logger.Warn("连接断开，等待重连",
		zap.Int("retry", m.policy.Attempts()),
		zap.Duration("interval", delay))

	m.reconnectCancel = m.sched.After(delay, func() {
		m.reconnectCancel = nil
		m.dial()
	})
}

func (m *Manager) cancelReconnect() {
	if m.reconnectCancel != nil {
		m.reconnectCancel()
		m.reconnectCancel = nil
	}
}

// readPump 读取消息并投递到事件循环
func (m *Manager) readPump(gen uint64, c *conn) {
	defer c.shutdown()

	pongWait := m.wsCfg.PongTimeout
	c.ws.SetReadLimit(m.wsCfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			m.sched.Post(func() { m.handleClosed(gen, err) })
			return
		}
		m.sched.Post(func() { m.handleMessage(gen, message) })
	}
}

// writePump 串行写入消息并定期发送ping
func (m *Manager) writePump(c *conn) {
	ticker := time.NewTicker(m.wsCfg.PingInterval)
	writeWait := m.wsCfg.WriteTimeout
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				m.logger.Warn("WebSocket写入失败", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			// 关闭前写完已经交给连接的消息
			if !flush(c, writeWait) {
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush 写出发送缓冲中剩余的消息
func flush(c *conn, writeWait time.Duration) bool {
	for {
		select {
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return false
			}
		default:
			return true
		}
	}
}
