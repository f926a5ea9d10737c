// Package session 会话状态：入站事件经纯函数 Reduce 生成新快照和副作用，出站操作在本地校验后交给连接发送。
package session

import (
	"encoding/json"

	"github.com/wfunc/tabletop-client/internal/chat"
	"github.com/wfunc/tabletop-client/internal/protocol"
	"github.com/wfunc/tabletop-client/internal/storage"
)

// Combat 战斗阶段状态
type Combat struct {
	// InCombat nil 表示尚未知晓（加载中），false 为战前等待，true 为战斗中
	InCombat        *bool
	Round           int
	Phase           string
	SubmittedCount  *int
	OffsetCountdown *int
	PhaseCountdown  *int
	Submissions     []protocol.Submission
	DeclaredAttack  *protocol.Attack
}

// Notice 需要提示给用户的消息
type Notice struct {
	Kind    string
	Message string
}

// Board 完整棋盘/角色快照
type Board struct {
	GameID       string
	Players      []protocol.Player
	Characters   []json.RawMessage
	Data         json.RawMessage
	CurrentRound int
}

// State 会话状态快照，被替换而不是被修改
type State struct {
	GameID      string
	Self        *protocol.UserInfo
	GuestNumber int
	Users       []protocol.UserInfo
	Players     []protocol.Player
	Board       *Board
	Chat        []protocol.ChatMessage
	Combat      Combat
	Games       []string
	NotFound    bool
	Notice      *Notice

	// 本地界面偏好
	Tabs          chat.TabConfig
	ActiveTab     int
	Unread        chat.Unread
	ChatChannel   protocol.Channel
	PanelPosition *storage.Position
}

// NewState 某局游戏的初始状态
func NewState(gameID string) State {
	return State{
		GameID:      gameID,
		Tabs:        chat.DefaultTabConfig(),
		ActiveTab:   chat.MainTabID,
		Unread:      chat.Unread{},
		ChatChannel: protocol.ChannelDialogue,
	}
}

// SelfID 已确认的自身id，未确认时为空
func (s State) SelfID() string {
	if s.Self == nil {
		return ""
	}
	return s.Self.ID
}

// SeatOf 自己所在的座位索引
func (s State) SeatOf(id string) (int, bool) {
	if id == "" {
		return 0, false
	}
	for i, p := range s.Players {
		if p.OccupantID() == id {
			return i, true
		}
	}
	return 0, false
}

// InCombat 是否处于战斗中（未知视为否）
func (s State) InCombat() bool {
	return s.Combat.InCombat != nil && *s.Combat.InCombat
}

// Loading 战斗状态是否尚未知晓
func (s State) Loading() bool {
	return s.Combat.InCombat == nil
}
