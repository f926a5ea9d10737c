package client

import (
	"context"

	"github.com/wfunc/tabletop-client/internal/config"
	"github.com/wfunc/tabletop-client/internal/countdown"
	"github.com/wfunc/tabletop-client/internal/dialogue"
	"github.com/wfunc/tabletop-client/internal/eventloop"
	"github.com/wfunc/tabletop-client/internal/logger"
	"github.com/wfunc/tabletop-client/internal/protocol"
	"github.com/wfunc/tabletop-client/internal/rejoin"
	"github.com/wfunc/tabletop-client/internal/session"
	"github.com/wfunc/tabletop-client/internal/storage"
	"github.com/wfunc/tabletop-client/internal/transport"
	"go.uber.org/zap"
)

// Room 房间上下文：连接、会话状态、自动入座、倒计时和对话展示
type Room struct {
	storage    *storage.Store
	conn       *transport.Manager
	store      *session.Store
	router     *session.Router
	rejoin     *rejoin.Reconciler
	countdown  *countdown.Countdown
	queue      *dialogue.Queue
	typewriter *dialogue.Typewriter

	gameID  string
	mounted bool
	logger  *zap.Logger
}

// NewRoom 创建房间上下文；sink 接收对话框帧，可为nil
func NewRoom(sched eventloop.Scheduler, cfg *config.Config, st *storage.Store, sink dialogue.Sink, onNotice NoticeFunc) *Room {
	r := &Room{
		storage: st,
		logger:  logger.GetModuleLogger(logger.ModuleSession).Named("room"),
	}
	send := sendFunc(func(intent protocol.Intent) bool { return r.conn.Send(intent) })

	r.typewriter = dialogue.NewTypewriter(sched, sink, dialogue.Options{
		TypeSpeed:     cfg.Dialogue.TypeSpeed,
		AutoTurnDelay: cfg.Dialogue.AutoTurnDelay,
		PageRunes:     cfg.Dialogue.PageRunes,
	})
	r.queue = dialogue.NewQueue(sched, r.typewriter)
	r.rejoin = rejoin.New(sched, st, send, cfg.Session.RejoinDelay)
	r.countdown = countdown.New(sched, cfg.Session.CountdownInterval, func(ch countdown.Channel, v *int) {
		r.store.SetCountdown(ch, v)
	})

	hooks := session.Hooks{
		Sender:    send,
		Storage:   st,
		Seating:   r.rejoin,
		Presenter: r.queue,
		Countdown: r.countdown,
		OnNotice:  onNotice,
	}
	r.store = session.NewStore(hooks, cfg.Session.PresentChannels)
	r.router = session.NewRouter(r.store)

	r.conn = transport.NewManager(sched, transportOptions(cfg, transport.KindRoom, r.handshake), transport.Handler{
		OnOpen:    r.onOpen,
		OnMessage: r.router.Route,
		OnError: func(err error) {
			r.logger.Warn("房间连接错误", zap.String("game_id", r.gameID), zap.Error(err))
		},
		OnClose: func(err error) {
			// 断开后不再发送本次连接安排的入座意图
			r.rejoin.Reset(r.gameID)
			logger.LogSessionEvent("disconnected", r.gameID, zap.Error(err))
		},
	})
	return r
}

// handshake 每次连接建立时先认证身份再加入房间
func (r *Room) handshake() []protocol.Intent {
	id := r.storage.ResolveIdentity()
	return []protocol.Intent{
		id.Handshake(),
		protocol.JoinRoom{GameID: r.gameID},
	}
}

// onOpen 每条新连接（包括重连）重新开始一次自动入座判断
func (r *Room) onOpen() {
	r.rejoin.Reset(r.gameID)
	logger.LogSessionEvent("connected", r.gameID)
}

// Mount 进入房间；已在其它房间时先退出
func (r *Room) Mount(ctx context.Context, gameID string) {
	if r.mounted {
		r.Unmount()
	}
	r.gameID = gameID
	r.mounted = true

	r.store.Load(gameID)
	r.countdown.Start()
	r.conn.Open(ctx)
	logger.LogSessionEvent("mount", gameID)
}

// Unmount 离开房间：停止倒计时、清空展示队列、关闭连接
func (r *Room) Unmount() {
	if !r.mounted {
		return
	}
	r.countdown.Stop()
	r.queue.Clear()
	r.rejoin.Reset("")
	r.conn.Close()
	r.mounted = false
	logger.LogSessionEvent("unmount", r.gameID)
}

// Mounted 是否在房间内
func (r *Room) Mounted() bool {
	return r.mounted
}

// GameID 当前房间
func (r *Room) GameID() string {
	return r.gameID
}

// Connected 连接是否可用
func (r *Room) Connected() bool {
	return r.conn.Connected()
}

// Session 会话状态容器，界面操作经由它发出
func (r *Room) Session() *session.Store {
	return r.store
}

// State 当前会话快照
func (r *Room) State() session.State {
	return r.store.State()
}

// RejoinState 自动入座状态
func (r *Room) RejoinState() rejoin.State {
	return r.rejoin.State()
}

// Click 对话框点击
func (r *Room) Click() {
	r.typewriter.Click()
}

// Dialogue 展示队列
func (r *Room) Dialogue() *dialogue.Queue {
	return r.queue
}
