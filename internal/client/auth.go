package client

import (
	"context"

	"github.com/wfunc/tabletop-client/internal/auth"
	"github.com/wfunc/tabletop-client/internal/config"
	"github.com/wfunc/tabletop-client/internal/eventloop"
	"github.com/wfunc/tabletop-client/internal/logger"
	"github.com/wfunc/tabletop-client/internal/protocol"
	"github.com/wfunc/tabletop-client/internal/session"
	"github.com/wfunc/tabletop-client/internal/storage"
	"github.com/wfunc/tabletop-client/internal/transport"
	"go.uber.org/zap"
)

// Auth 认证上下文：外部登录完成后把会话id发给服务器，保存返回的身份
type Auth struct {
	sched   eventloop.Scheduler
	storage *storage.Store
	conn    *transport.Manager
	store   *session.Store
	router  *session.Router
	bridge  *auth.Bridge

	ctx     context.Context
	pending string
	logger  *zap.Logger
}

// NewAuth 创建认证上下文
func NewAuth(sched eventloop.Scheduler, cfg *config.Config, st *storage.Store, onNotice NoticeFunc) *Auth {
	a := &Auth{
		sched:   sched,
		storage: st,
		ctx:     context.Background(),
		logger:  logger.GetModuleLogger(logger.ModuleAuth),
	}
	a.store = session.NewStore(session.Hooks{
		Sender:   sendFunc(func(intent protocol.Intent) bool { return a.conn.Send(intent) }),
		Storage:  st,
		OnNotice: onNotice,
	}, nil)
	a.router = session.NewRouter(a.store)

	a.conn = transport.NewManager(sched, transportOptions(cfg, transport.KindAuth, a.handshake), transport.Handler{
		OnOpen:    a.onOpen,
		OnMessage: a.router.Route,
		OnError: func(err error) {
			a.logger.Warn("认证连接错误", zap.Error(err))
		},
	})

	// 桥接由回调服务的goroutine调用，转入事件循环处理
	a.bridge = auth.NewBridge(cfg.Auth, auth.ForwarderFunc(func(sessionID string) error {
		sched.Post(func() { a.login(sessionID) })
		return nil
	}), func(err error) {
		if onNotice == nil {
			return
		}
		sched.Post(func() { onNotice(session.Notice{Kind: auth.MessageError, Message: err.Error()}) })
	})
	return a
}

// handshake 有待发送的会话id时在连接建立后立即发送
func (a *Auth) handshake() []protocol.Intent {
	if a.pending == "" {
		return nil
	}
	return []protocol.Intent{protocol.GoogleLogin{SessionID: a.pending}}
}

func (a *Auth) onOpen() {
	a.pending = ""
}

// Open 建立认证连接
func (a *Auth) Open(ctx context.Context) {
	a.ctx = ctx
	a.conn.Open(ctx)
}

// Close 断开认证连接
func (a *Auth) Close() {
	a.conn.Close()
}

// Bridge 登录桥接，可在任意goroutine使用
func (a *Auth) Bridge() *auth.Bridge {
	return a.bridge
}

// login 发送 google_login；连接未建立时先连接，握手时发送
func (a *Auth) login(sessionID string) {
	if a.conn.Connected() {
		a.conn.Send(protocol.GoogleLogin{SessionID: sessionID})
		return
	}
	a.pending = sessionID
	if a.conn.State() != transport.Connecting {
		a.conn.Open(a.ctx)
	}
}

// User 已保存的认证身份
func (a *Auth) User() (*protocol.UserInfo, bool) {
	return a.storage.UserInfo()
}

// State 认证会话快照
func (a *Auth) State() session.State {
	return a.store.State()
}

// OnChange 订阅状态变化
func (a *Auth) OnChange(fn func(session.State)) func() {
	return a.store.OnChange(fn)
}

// SignOut 清除认证身份，之后的连接回到访客身份
func (a *Auth) SignOut() error {
	if err := a.storage.RemoveUserInfo(); err != nil {
		return err
	}
	a.conn.Close()
	a.store.Load("")
	a.logger.Info("已退出登录")
	return nil
}
