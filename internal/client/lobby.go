package client

import (
	"context"

	"github.com/wfunc/tabletop-client/internal/config"
	apperrors "github.com/wfunc/tabletop-client/internal/errors"
	"github.com/wfunc/tabletop-client/internal/eventloop"
	"github.com/wfunc/tabletop-client/internal/logger"
	"github.com/wfunc/tabletop-client/internal/protocol"
	"github.com/wfunc/tabletop-client/internal/session"
	"github.com/wfunc/tabletop-client/internal/storage"
	"github.com/wfunc/tabletop-client/internal/transport"
	"go.uber.org/zap"
)

// 允许的玩家人数
var validPlayerNums = map[int]bool{2: true, 4: true, 6: true}

// Lobby 大厅上下文：游戏列表、创建游戏
type Lobby struct {
	storage *storage.Store
	conn    *transport.Manager
	store   *session.Store
	router  *session.Router
	logger  *zap.Logger
}

// NewLobby 创建大厅上下文；onNavigate 在游戏创建成功后调用
func NewLobby(sched eventloop.Scheduler, cfg *config.Config, st *storage.Store, onNavigate func(gameID string), onNotice NoticeFunc) *Lobby {
	l := &Lobby{
		storage: st,
		logger:  logger.GetModuleLogger(logger.ModuleSession).Named("lobby"),
	}
	l.store = session.NewStore(session.Hooks{
		Sender:     sendFunc(func(intent protocol.Intent) bool { return l.conn.Send(intent) }),
		Storage:    st,
		OnNotice:   onNotice,
		OnNavigate: onNavigate,
	}, nil)
	l.router = session.NewRouter(l.store)

	l.conn = transport.NewManager(sched, transportOptions(cfg, transport.KindLobby, l.handshake), transport.Handler{
		OnMessage: l.router.Route,
		OnError: func(err error) {
			l.logger.Warn("大厅连接错误", zap.Error(err))
		},
	})
	return l
}

func (l *Lobby) handshake() []protocol.Intent {
	return []protocol.Intent{
		l.storage.ResolveIdentity().Handshake(),
		protocol.ListGames{},
	}
}

// Open 连接大厅
func (l *Lobby) Open(ctx context.Context) {
	l.store.Load("")
	l.conn.Open(ctx)
}

// Close 断开
func (l *Lobby) Close() {
	l.conn.Close()
}

// Connected 连接是否可用
func (l *Lobby) Connected() bool {
	return l.conn.Connected()
}

// Games 最近一次收到的游戏列表
func (l *Lobby) Games() []string {
	return l.store.State().Games
}

// State 大厅会话快照
func (l *Lobby) State() session.State {
	return l.store.State()
}

// OnChange 订阅状态变化
func (l *Lobby) OnChange(fn func(session.State)) func() {
	return l.store.OnChange(fn)
}

// CreateGame 创建游戏，人数只能是 2、4、6
func (l *Lobby) CreateGame(playerNum int) error {
	if !validPlayerNums[playerNum] {
		err := apperrors.Newf(apperrors.ErrInvalidParam, "player_num=%d", playerNum)
		l.logger.Warn("创建游戏人数无效", zap.Int("player_num", playerNum))
		return err
	}
	return l.send(protocol.CreateGame{PlayerNum: playerNum})
}

// ListGames 刷新游戏列表
func (l *Lobby) ListGames() error {
	return l.send(protocol.ListGames{})
}

// KillDB 清空服务器数据（调试用）
func (l *Lobby) KillDB() error {
	return l.send(protocol.KillDB{})
}

func (l *Lobby) send(intent protocol.Intent) error {
	if !l.conn.Send(intent) {
		return apperrors.New(apperrors.ErrNotConnected, intent.Action(l.conn.Dialect()))
	}
	return nil
}
