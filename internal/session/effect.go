package session

import (
	"github.com/wfunc/tabletop-client/internal/chat"
	"github.com/wfunc/tabletop-client/internal/countdown"
	"github.com/wfunc/tabletop-client/internal/protocol"
)

// Effect 事件处理产生的副作用，由 Store 按顺序执行
type Effect interface {
	isEffect()
}

// Send 发送意图
type Send struct {
	Intent protocol.Intent
}

// PersistIdentity 持久化已确认的身份
type PersistIdentity struct {
	User    *protocol.UserInfo // 已认证用户，访客时为nil
	GuestID string
}

// IdentityConfirmed 自身身份已确认
type IdentityConfirmed struct {
	ID string
}

// SeatingUpdated 收到权威座位快照
type SeatingUpdated struct {
	Players []protocol.Player
}

// DropRejoinHint 丢弃本局游戏的座位提示
type DropRejoinHint struct {
	GameID string
}

// Present 交给对话展示队列
type Present struct {
	Message protocol.ChatMessage
}

// CountdownTick 权威倒计时
type CountdownTick struct {
	Channel countdown.Channel
	Seconds int
}

// Notify 提示用户
type Notify struct {
	Notice Notice
}

// Navigate 跳转到某局游戏
type Navigate struct {
	GameID string
}

// MarkUnread 持久化未读标签页
type MarkUnread struct {
	GameID string
	Unread chat.Unread
}

func (Send) isEffect()              {}
func (PersistIdentity) isEffect()   {}
func (IdentityConfirmed) isEffect() {}
func (SeatingUpdated) isEffect()    {}
func (DropRejoinHint) isEffect()    {}
func (Present) isEffect()           {}
func (CountdownTick) isEffect()     {}
func (Notify) isEffect()            {}
func (Navigate) isEffect()          {}
func (MarkUnread) isEffect()        {}
