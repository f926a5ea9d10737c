// Package rejoin 页面刷新后根据本地座位提示自动重新入座，每个（连接，游戏）最多尝试一次。
package rejoin

import (
	"time"

	"github.com/wfunc/tabletop-client/internal/eventloop"
	"github.com/wfunc/tabletop-client/internal/logger"
	"github.com/wfunc/tabletop-client/internal/protocol"
	"go.uber.org/zap"
)

// State 重连入座状态
type State int

const (
	NotAttempted State = iota
	Attempted
)

// String 返回状态名
func (s State) String() string {
	if s == Attempted {
		return "attempted"
	}
	return "not_attempted"
}

// Hints 座位提示的持久化
type Hints interface {
	PlayerSlot(gameID string) (int, bool)
	SetPlayerSlot(gameID string, index int) error
	RemovePlayerSlot(gameID string) error
}

// Sender 意图发送
type Sender interface {
	Send(intent protocol.Intent) bool
}

// Reconciler 自动重新入座状态机
type Reconciler struct {
	sched  eventloop.Scheduler
	hints  Hints
	sender Sender
	delay  time.Duration

	gameID      string
	epoch       uint64
	state       State
	selfID      string
	players     []protocol.Player
	haveSeating bool
	pending     eventloop.Cancel

	logger *zap.Logger
}

// New 创建协调器，delay 为发送入座意图前的等待时间
func New(sched eventloop.Scheduler, hints Hints, sender Sender, delay time.Duration) *Reconciler {
	return &Reconciler{
		sched:  sched,
		hints:  hints,
		sender: sender,
		delay:  delay,
		logger: logger.GetModuleLogger(logger.ModuleSession).Named("rejoin"),
	}
}

// State 当前状态
func (r *Reconciler) State() State {
	return r.state
}

// GameID 当前游戏
func (r *Reconciler) GameID() string {
	return r.gameID
}

// Reset 新连接或切换游戏时调用，之前安排的入座意图不会再发送
func (r *Reconciler) Reset(gameID string) {
	r.epoch++
	if r.pending != nil {
		r.pending()
		r.pending = nil
	}
	r.gameID = gameID
	r.state = NotAttempted
	r.selfID = ""
	r.players = nil
	r.haveSeating = false
}

// OnIdentity 自身身份已确认
func (r *Reconciler) OnIdentity(id string) {
	r.selfID = id
	r.maintainHint()
	r.decide()
}

// OnSeating 收到权威座位快照
func (r *Reconciler) OnSeating(players []protocol.Player) {
	r.players = players
	r.haveSeating = true
	r.maintainHint()
	r.decide()
}

// decide 两个条件都满足后做一次决定
func (r *Reconciler) decide() {
	if r.state == Attempted || r.selfID == "" || !r.haveSeating || r.gameID == "" {
		return
	}

	hint, ok := r.hints.PlayerSlot(r.gameID)
	if !ok {
		return
	}

	if hint >= len(r.players) {
		r.logger.Warn("座位提示超出座位数，丢弃",
			zap.String("game_id", r.gameID),
			zap.Int("slot", hint),
			zap.Int("slots", len(r.players)))
		r.state = Attempted
		r.removeHint()
		return
	}

	slot := r.players[hint]
	needsRejoin := slot.OccupantID() != r.selfID || slot.Occupancy == protocol.ConnectionLost
	r.state = Attempted
	if !needsRejoin {
		r.logger.Debug("已在提示的座位上", zap.String("game_id", r.gameID), zap.Int("slot", hint))
		return
	}

	epoch := r.epoch
	gameID := r.gameID
	logger.LogSessionEvent("rejoin_scheduled", gameID,
		zap.Int("slot", hint),
		zap.String("occupancy", slot.Occupancy.String()),
		zap.Duration("delay", r.delay))

	r.pending = r.sched.After(r.delay, func() {
		r.pending = nil
		if epoch != r.epoch {
			return
		}
		r.sender.Send(protocol.JoinPlayerSlot{SlotIndex: hint, GameID: gameID})
	})
}

// maintainHint 快照中自己所在的座位写入提示；不在任何座位且已经尝试过时清除提示
func (r *Reconciler) maintainHint() {
	if !r.haveSeating || r.selfID == "" || r.gameID == "" {
		return
	}

	for i, p := range r.players {
		if p.OccupantID() != r.selfID {
			continue
		}
		if cur, ok := r.hints.PlayerSlot(r.gameID); ok && cur == i {
			return
		}
		if err := r.hints.SetPlayerSlot(r.gameID, i); err != nil {
			r.logger.Warn("保存座位提示失败", zap.Error(err))
		}
		return
	}

	if r.state == Attempted {
		r.removeHint()
	}
}

func (r *Reconciler) removeHint() {
	if _, ok := r.hints.PlayerSlot(r.gameID); !ok {
		return
	}
	if err := r.hints.RemovePlayerSlot(r.gameID); err != nil {
		r.logger.Warn("清除座位提示失败", zap.Error(err))
	}
}
