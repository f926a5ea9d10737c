// Package storage 本地持久化存储：身份、聊天偏好、重连座位提示等，所有读取在缺失或损坏时返回默认值。
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/tabletop-client/internal/chat"
	apperrors "github.com/wfunc/tabletop-client/internal/errors"
	"github.com/wfunc/tabletop-client/internal/logger"
	"github.com/wfunc/tabletop-client/internal/protocol"
	"github.com/wfunc/tabletop-client/internal/repository"
	"go.uber.org/zap"
)

// 存储键
const (
	KeyUserInfo           = "user_info"
	KeyGuestID            = "guest_id"
	KeyChatTabSettings    = "chatTabSettings"
	KeyChatTypePrefix     = "chatType_"
	KeyChatUnreadPrefix   = "chatUnreadByTabId_"
	KeyPlayerSlotPrefix   = "player_slot_"
	KeyPanelPosition      = "actionQueuePosition"
	defaultGameKeySuffix  = "default"
	defaultOperationLimit = 2 * time.Second
)

// Position 浮动面板位置
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Store 带命名空间的本地存储
type Store struct {
	repo      repository.EntryRepository
	namespace string
	timeout   time.Duration
	newID     func() string
	logger    *zap.Logger
}

// Option 存储选项
type Option func(*Store)

// WithIDGenerator 替换访客id生成器（测试使用）
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// New 创建存储
func New(repo repository.EntryRepository, namespace string, opts ...Option) *Store {
	s := &Store{
		repo:      repo,
		namespace: namespace,
		timeout:   defaultOperationLimit,
		newID:     func() string { return uuid.NewString() },
		logger:    logger.GetModuleLogger(logger.ModuleStorage),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(k string) string {
	return s.namespace + k
}

func gameKey(prefix, gameID string) string {
	if gameID == "" {
		gameID = defaultGameKeySuffix
	}
	return prefix + gameID
}

// get 读取原始值，缺失返回 ok=false，其他错误记日志后同样视为缺失
func (s *Store) get(k string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	v, err := s.repo.Get(ctx, s.key(k))
	if err != nil {
		if !errors.Is(err, repository.ErrEntryNotFound) {
			s.logger.Warn("读取本地存储失败", zap.String("key", k), zap.Error(err))
		}
		return "", false
	}
	return v, true
}

func (s *Store) set(k, v string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.repo.Set(ctx, s.key(k), v); err != nil {
		s.logger.Error("写入本地存储失败", zap.String("key", k), zap.Error(err))
		return apperrors.Wrapf(err, apperrors.ErrDatabaseInsert, "key=%s", k)
	}
	return nil
}

func (s *Store) remove(k string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.repo.Delete(ctx, s.key(k)); err != nil {
		s.logger.Error("删除本地存储失败", zap.String("key", k), zap.Error(err))
		return apperrors.Wrapf(err, apperrors.ErrDatabaseDelete, "key=%s", k)
	}
	return nil
}

func (s *Store) getJSON(k string, dest interface{}) bool {
	raw, ok := s.get(k)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		s.logger.Warn("本地存储内容损坏，使用默认值", zap.String("key", k), zap.Error(err))
		return false
	}
	return true
}

func (s *Store) setJSON(k string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrInvalidParam, "key=%s", k)
	}
	return s.set(k, string(data))
}

// UserInfo 已认证身份
func (s *Store) UserInfo() (*protocol.UserInfo, bool) {
	var info protocol.UserInfo
	if !s.getJSON(KeyUserInfo, &info) {
		return nil, false
	}
	return &info, true
}

// SetUserInfo 保存已认证身份，nil 表示删除
func (s *Store) SetUserInfo(info *protocol.UserInfo) error {
	if info == nil {
		return s.RemoveUserInfo()
	}
	return s.setJSON(KeyUserInfo, info)
}

// RemoveUserInfo 退出登录
func (s *Store) RemoveUserInfo() error {
	return s.remove(KeyUserInfo)
}

// GuestID 访客id
func (s *Store) GuestID() (string, bool) {
	v, ok := s.get(KeyGuestID)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// SetGuestID 保存访客id，空串表示删除
func (s *Store) SetGuestID(id string) error {
	if id == "" {
		return s.remove(KeyGuestID)
	}
	return s.set(KeyGuestID, id)
}

// EnsureGuestID 返回已有访客id，没有则生成一次并保存
func (s *Store) EnsureGuestID() string {
	if id, ok := s.GuestID(); ok {
		return id
	}
	id := s.newID()
	if err := s.SetGuestID(id); err != nil {
		// 写入失败时本次连接仍然使用新id
		s.logger.Warn("访客id未能持久化", zap.String("guest_id", id))
	}
	return id
}

// ResolveIdentity 已认证身份优先，否则使用（必要时生成）访客身份
func (s *Store) ResolveIdentity() Identity {
	if info, ok := s.UserInfo(); ok && info.ID != "" && !info.IsGuest {
		return Identity{User: info}
	}
	return Identity{GuestID: s.EnsureGuestID()}
}

// ChatTabs 标签页配置，缺失或不合法时返回默认配置
func (s *Store) ChatTabs() chat.TabConfig {
	var cfg chat.TabConfig
	if !s.getJSON(KeyChatTabSettings, &cfg) || !cfg.Valid() {
		return chat.DefaultTabConfig()
	}
	return cfg
}

// SetChatTabs 保存标签页配置；缺少主标签页的配置被丢弃并改为保存默认配置，返回实际保存的配置
func (s *Store) SetChatTabs(cfg chat.TabConfig) (chat.TabConfig, error) {
	if !cfg.Valid() {
		s.logger.Warn("标签页配置缺少主标签页，使用默认配置")
		cfg = chat.DefaultTabConfig()
	}
	return cfg, s.setJSON(KeyChatTabSettings, cfg)
}

// ChatChannel 某局游戏上次使用的发言频道
func (s *Store) ChatChannel(gameID string) protocol.Channel {
	v, ok := s.get(gameKey(KeyChatTypePrefix, gameID))
	if !ok {
		return protocol.ChannelDialogue
	}
	ch := protocol.Channel(v)
	if !ch.Sendable() {
		return protocol.ChannelDialogue
	}
	return ch
}

// SetChatChannel 保存发言频道
func (s *Store) SetChatChannel(gameID string, ch protocol.Channel) error {
	if !ch.Sendable() {
		return apperrors.Newf(apperrors.ErrInvalidParam, "不可发言的频道: %s", ch)
	}
	return s.set(gameKey(KeyChatTypePrefix, gameID), string(ch))
}

// UnreadTabs 某局游戏的未读标签页
func (s *Store) UnreadTabs(gameID string) chat.Unread {
	var raw map[string]bool
	if !s.getJSON(gameKey(KeyChatUnreadPrefix, gameID), &raw) {
		return chat.Unread{}
	}
	out := chat.Unread{}
	for k, v := range raw {
		id, err := strconv.Atoi(k)
		if err != nil || !v {
			continue
		}
		out[id] = true
	}
	return out
}

// SetUnreadTabs 保存未读标签页
func (s *Store) SetUnreadTabs(gameID string, unread chat.Unread) error {
	raw := make(map[string]bool, len(unread))
	for id, v := range unread {
		if v {
			raw[strconv.Itoa(id)] = true
		}
	}
	return s.setJSON(gameKey(KeyChatUnreadPrefix, gameID), raw)
}

// PlayerSlot 重连座位提示（从0开始的索引）
func (s *Store) PlayerSlot(gameID string) (int, bool) {
	if gameID == "" {
		return 0, false
	}
	v, ok := s.get(KeyPlayerSlotPrefix + gameID)
	if !ok {
		return 0, false
	}
	idx, err := strconv.Atoi(v)
	if err != nil || idx < 0 {
		s.logger.Warn("座位提示损坏，忽略", zap.String("game_id", gameID), zap.String("value", v))
		return 0, false
	}
	return idx, true
}

// SetPlayerSlot 保存重连座位提示
func (s *Store) SetPlayerSlot(gameID string, index int) error {
	if gameID == "" || index < 0 {
		return apperrors.Newf(apperrors.ErrInvalidParam, "game_id=%q slot=%d", gameID, index)
	}
	return s.set(KeyPlayerSlotPrefix+gameID, strconv.Itoa(index))
}

// RemovePlayerSlot 清除重连座位提示
func (s *Store) RemovePlayerSlot(gameID string) error {
	if gameID == "" {
		return nil
	}
	return s.remove(KeyPlayerSlotPrefix + gameID)
}

// PanelPosition 浮动行动面板位置
func (s *Store) PanelPosition() (*Position, bool) {
	var pos *Position
	if !s.getJSON(KeyPanelPosition, &pos) || pos == nil {
		return nil, false
	}
	return pos, true
}

// SetPanelPosition 保存浮动面板位置，nil 表示删除
func (s *Store) SetPanelPosition(pos *Position) error {
	if pos == nil {
		return s.remove(KeyPanelPosition)
	}
	return s.setJSON(KeyPanelPosition, pos)
}
