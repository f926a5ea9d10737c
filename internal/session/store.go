package session

import (
	"fmt"
	"strings"

	"github.com/wfunc/tabletop-client/internal/chat"
	"github.com/wfunc/tabletop-client/internal/countdown"
	"github.com/wfunc/tabletop-client/internal/dialogue"
	apperrors "github.com/wfunc/tabletop-client/internal/errors"
	"github.com/wfunc/tabletop-client/internal/logger"
	"github.com/wfunc/tabletop-client/internal/protocol"
	"github.com/wfunc/tabletop-client/internal/storage"
	"go.uber.org/zap"
)

// Sender 意图发送
type Sender interface {
	Send(intent protocol.Intent) bool
}

// Persistence 会话需要的本地持久化
type Persistence interface {
	SetUserInfo(info *protocol.UserInfo) error
	SetGuestID(id string) error
	RemovePlayerSlot(gameID string) error
	ChatTabs() chat.TabConfig
	SetChatTabs(cfg chat.TabConfig) (chat.TabConfig, error)
	UnreadTabs(gameID string) chat.Unread
	SetUnreadTabs(gameID string, unread chat.Unread) error
	ChatChannel(gameID string) protocol.Channel
	SetChatChannel(gameID string, ch protocol.Channel) error
	PanelPosition() (*storage.Position, bool)
	SetPanelPosition(pos *storage.Position) error
}

// SeatingObserver 身份和座位快照的观察者（自动入座）
type SeatingObserver interface {
	OnIdentity(id string)
	OnSeating(players []protocol.Player)
}

// Presenter 对话展示队列
type Presenter interface {
	Enqueue(item dialogue.Item)
}

// Ticker 倒计时
type Ticker interface {
	Tick(ch countdown.Channel, seconds int)
}

// Hooks 副作用的执行者，均可为nil
type Hooks struct {
	Sender     Sender
	Storage    Persistence
	Seating    SeatingObserver
	Presenter  Presenter
	Countdown  Ticker
	OnNotice   func(n Notice)
	OnNavigate func(gameID string)
}

// Store 会话状态容器，只在事件循环上使用
type Store struct {
	state   State
	hooks   Hooks
	present map[protocol.Channel]bool
	subs    map[int]func(State)
	nextSub int
	logger  *zap.Logger
}

// NewStore 创建状态容器，presentChannels 为需要交给对话展示的频道
func NewStore(hooks Hooks, presentChannels []string) *Store {
	present := make(map[protocol.Channel]bool, len(presentChannels))
	for _, ch := range presentChannels {
		present[protocol.NormalizeChannel(ch)] = true
	}
	return &Store{
		state:   NewState(""),
		hooks:   hooks,
		present: present,
		subs:    make(map[int]func(State)),
		logger:  logger.GetModuleLogger(logger.ModuleSession),
	}
}

// State 当前快照
func (s *Store) State() State {
	return s.state
}

// OnChange 订阅状态变化，返回取消函数
func (s *Store) OnChange(fn func(State)) func() {
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() { delete(s.subs, id) }
}

// Load 进入某局游戏：重置状态并读取本地偏好
func (s *Store) Load(gameID string) {
	st := NewState(gameID)
	if p := s.hooks.Storage; p != nil {
		st.Tabs = p.ChatTabs()
		st.ActiveTab = st.Tabs.MainID()
		st.Unread = p.UnreadTabs(gameID)
		st.ChatChannel = p.ChatChannel(gameID)
		if pos, ok := p.PanelPosition(); ok {
			st.PanelPosition = pos
		}
	}
	logger.LogSessionEvent("load", gameID)
	s.commit(st)
}

// Dispatch 处理一个入站事件
func (s *Store) Dispatch(ev protocol.Event) {
	next, effects := Reduce(s.state, ev)
	s.state = next
	for _, eff := range effects {
		s.apply(eff)
	}
	s.notify()
}

func (s *Store) commit(st State) {
	s.state = st
	s.notify()
}

func (s *Store) notify() {
	for _, fn := range s.subs {
		fn(s.state)
	}
}

func (s *Store) apply(eff Effect) {
	h := s.hooks
	switch e := eff.(type) {
	case Send:
		if h.Sender != nil {
			h.Sender.Send(e.Intent)
		}

	case PersistIdentity:
		if h.Storage == nil {
			return
		}
		if e.User != nil {
			if err := h.Storage.SetUserInfo(e.User); err != nil {
				s.logger.Warn("保存身份失败", zap.Error(err))
			}
		} else if e.GuestID != "" {
			if err := h.Storage.SetGuestID(e.GuestID); err != nil {
				s.logger.Warn("保存访客id失败", zap.Error(err))
			}
		}

	case IdentityConfirmed:
		logger.LogSessionEvent("identity_confirmed", s.state.GameID, zap.String("user_id", e.ID))
		if h.Seating != nil {
			h.Seating.OnIdentity(e.ID)
		}

	case SeatingUpdated:
		if h.Seating != nil {
			h.Seating.OnSeating(e.Players)
		}

	case DropRejoinHint:
		if h.Storage != nil && e.GameID != "" {
			if err := h.Storage.RemovePlayerSlot(e.GameID); err != nil {
				s.logger.Warn("清除座位提示失败", zap.Error(err))
			}
		}

	case Present:
		if h.Presenter != nil && s.present[e.Message.Channel] {
			h.Presenter.Enqueue(dialogue.Item{Speaker: speakerOf(e.Message), Content: e.Message.Content})
		}

	case CountdownTick:
		if h.Countdown != nil {
			h.Countdown.Tick(e.Channel, e.Seconds)
		}

	case Notify:
		s.logger.Warn("服务器拒绝或提示", zap.String("kind", e.Notice.Kind), zap.String("message", e.Notice.Message))
		if h.OnNotice != nil {
			h.OnNotice(e.Notice)
		}

	case Navigate:
		logger.LogSessionEvent("navigate", e.GameID)
		if h.OnNavigate != nil {
			h.OnNavigate(e.GameID)
		}

	case MarkUnread:
		if h.Storage != nil {
			if err := h.Storage.SetUnreadTabs(e.GameID, e.Unread); err != nil {
				s.logger.Warn("保存未读标记失败", zap.Error(err))
			}
		}

	default:
		s.logger.Warn("未知的副作用", zap.String("effect", fmt.Sprintf("%T", eff)))
	}
}

func speakerOf(msg protocol.ChatMessage) string {
	if msg.Channel == protocol.ChannelSystem {
		return "System"
	}
	if msg.Sender == "" {
		return "noname"
	}
	return msg.Sender
}

// SetCountdown 倒计时展示值变化（由倒计时组件回调）
func (s *Store) SetCountdown(ch countdown.Channel, value *int) {
	st := s.state
	switch ch {
	case countdown.Offset:
		st.Combat.OffsetCountdown = value
	case countdown.Phase:
		st.Combat.PhaseCountdown = value
	default:
		return
	}
	s.commit(st)
}

// precondition 记录并返回前置条件错误，不发送任何消息
func (s *Store) precondition(code apperrors.ErrorCode, action string, fields ...zap.Field) error {
	err := apperrors.New(code, action)
	s.logger.Warn("操作未执行", append(fields, zap.String("action", action), zap.Error(err))...)
	return err
}

// IsPrecondition 是否为本地前置条件失败
func IsPrecondition(err error) bool {
	switch apperrors.GetCode(err) {
	case apperrors.ErrPrecondition, apperrors.ErrNoGame, apperrors.ErrSlotOutOfRange, apperrors.ErrEmptyChat:
		return true
	default:
		return false
	}
}

func (s *Store) send(intent protocol.Intent) error {
	if s.hooks.Sender == nil || !s.hooks.Sender.Send(intent) {
		return apperrors.New(apperrors.ErrNotConnected, fmt.Sprintf("%T", intent))
	}
	return nil
}

// checkSlot 校验游戏id和座位索引；没有座位快照时只校验非负
func (s *Store) checkSlot(action string, index int) error {
	if s.state.GameID == "" {
		return s.precondition(apperrors.ErrNoGame, action)
	}
	if index < 0 || (len(s.state.Players) > 0 && index >= len(s.state.Players)) {
		return s.precondition(apperrors.ErrSlotOutOfRange, action,
			zap.Int("slot", index), zap.Int("slots", len(s.state.Players)))
	}
	return nil
}

// senderName 聊天显示名
func (s *Store) senderName() string {
	self := s.state.Self
	switch {
	case self == nil:
		return "Guest"
	case self.IsGuest && s.state.GuestNumber > 0:
		return fmt.Sprintf("Guest %d", s.state.GuestNumber)
	case self.Name != "":
		return self.Name
	case self.Email != "":
		return self.Email
	default:
		return "Guest"
	}
}

// SendChat 发送聊天；channel 为空时使用当前选择的频道
func (s *Store) SendChat(content string, channel protocol.Channel) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return s.precondition(apperrors.ErrEmptyChat, "chat")
	}
	if s.state.GameID == "" {
		return s.precondition(apperrors.ErrNoGame, "chat")
	}
	if channel == "" {
		channel = s.state.ChatChannel
	}
	if !channel.Sendable() {
		return s.precondition(apperrors.ErrPrecondition, "chat", zap.String("channel", string(channel)))
	}
	return s.send(protocol.Chat{
		Content:  content,
		Sender:   s.senderName(),
		ChatType: channel,
		GameID:   s.state.GameID,
	})
}

// JoinSlot 请求入座；座位变化以服务器快照为准
func (s *Store) JoinSlot(index int) error {
	if err := s.checkSlot("join_player_slot", index); err != nil {
		return err
	}
	return s.send(protocol.JoinPlayerSlot{SlotIndex: index, GameID: s.state.GameID})
}

// AddBotToSlot 座位放入机器人
func (s *Store) AddBotToSlot(index int) error {
	if err := s.checkSlot("add_bot_to_slot", index); err != nil {
		return err
	}
	return s.send(protocol.AddBotToSlot{SlotIndex: index, GameID: s.state.GameID})
}

// LeaveSlot 离开座位
func (s *Store) LeaveSlot(index int) error {
	if err := s.checkSlot("leave_player_slot", index); err != nil {
		return err
	}
	return s.send(protocol.LeavePlayerSlot{SlotIndex: index, GameID: s.state.GameID})
}

// SetReady 切换准备状态
func (s *Store) SetReady(index int, ready bool) error {
	if err := s.checkSlot("set_ready", index); err != nil {
		return err
	}
	return s.send(protocol.SetReady{SlotIndex: index, Ready: ready, GameID: s.state.GameID})
}

// SetChatChannel 切换发言频道并保存
func (s *Store) SetChatChannel(ch protocol.Channel) error {
	if !ch.Sendable() {
		return s.precondition(apperrors.ErrPrecondition, "set_chat_channel", zap.String("channel", string(ch)))
	}
	if p := s.hooks.Storage; p != nil {
		if err := p.SetChatChannel(s.state.GameID, ch); err != nil {
			return err
		}
	}
	st := s.state
	st.ChatChannel = ch
	s.commit(st)
	return nil
}

// SelectTab 切换标签页并清除其未读标记
func (s *Store) SelectTab(id int) error {
	if _, ok := s.state.Tabs.Find(id); !ok {
		return s.precondition(apperrors.ErrPrecondition, "select_tab", zap.Int("tab", id))
	}
	st := s.state
	st.ActiveTab = id
	st.Unread = st.Unread.Clear(id)
	if len(st.Unread) != len(s.state.Unread) && s.hooks.Storage != nil {
		if err := s.hooks.Storage.SetUnreadTabs(st.GameID, st.Unread); err != nil {
			s.logger.Warn("保存未读标记失败", zap.Error(err))
		}
	}
	s.commit(st)
	return nil
}

// SetChatTabs 保存标签页配置；缺少主标签页时使用默认配置
func (s *Store) SetChatTabs(cfg chat.TabConfig) error {
	saved := cfg
	if p := s.hooks.Storage; p != nil {
		var err error
		if saved, err = p.SetChatTabs(cfg); err != nil {
			return err
		}
	} else if !cfg.Valid() {
		saved = chat.DefaultTabConfig()
	}

	st := s.state
	st.Tabs = saved.Clone()
	if _, ok := st.Tabs.Find(st.ActiveTab); !ok {
		st.ActiveTab = st.Tabs.MainID()
	}
	s.commit(st)
	return nil
}

// SetPanelPosition 保存浮动行动面板位置
func (s *Store) SetPanelPosition(pos *storage.Position) error {
	if p := s.hooks.Storage; p != nil {
		if err := p.SetPanelPosition(pos); err != nil {
			return err
		}
	}
	st := s.state
	st.PanelPosition = pos
	s.commit(st)
	return nil
}

// DismissNotice 关闭提示
func (s *Store) DismissNotice() {
	if s.state.Notice == nil {
		return
	}
	st := s.state
	st.Notice = nil
	s.commit(st)
}
