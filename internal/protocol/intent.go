package protocol

import (
	"encoding/json"
	"fmt"
)

// Dialect 服务器动作命名方言
type Dialect string

const (
	// DialectRoom 房间方言：join_room / load_room / create_room / list_rooms / google_login
	DialectRoom Dialect = "room"
	// DialectGame 游戏方言：join_game / load_game / create_game / list_games / authenticate_google
	DialectGame Dialect = "game"
)

// ParseDialect 解析方言，未知值回落到 DialectRoom
func ParseDialect(s string) Dialect {
	if Dialect(s) == DialectGame {
		return DialectGame
	}
	return DialectRoom
}

func (d Dialect) pick(room, game string) string {
	if d == DialectGame {
		return game
	}
	return room
}

// Intent 出站意图，仅本包内的类型实现
type Intent interface {
	Action(d Dialect) string
	isIntent()
}

// AuthenticateUser 身份握手，UserInfo 与 GuestID 二选一
type AuthenticateUser struct {
	UserInfo *UserInfo `json:"user_info,omitempty"`
	GuestID  string    `json:"guest_id,omitempty"`
}

// CreateGame 创建新游戏
type CreateGame struct {
	PlayerNum int `json:"player_num"`
}

// ListGames 请求游戏列表
type ListGames struct{}

// KillDB 管理/调试用重置
type KillDB struct{}

// JoinRoom 进入游戏
type JoinRoom struct {
	GameID string `json:"game_id"`
}

// LoadRoom 请求完整状态快照
type LoadRoom struct {
	GameID string `json:"game_id"`
}

// JoinPlayerSlot 请求入座
type JoinPlayerSlot struct {
	SlotIndex int    `json:"slotIndex"`
	GameID    string `json:"game_id"`
}

// AddBotToSlot 座位放入机器人
type AddBotToSlot struct {
	SlotIndex int    `json:"slotIndex"`
	GameID    string `json:"game_id"`
}

// LeavePlayerSlot 离开座位
type LeavePlayerSlot struct {
	SlotIndex int    `json:"slotIndex"`
	GameID    string `json:"game_id"`
}

// SetReady 切换准备状态
type SetReady struct {
	SlotIndex int    `json:"slotIndex"`
	Ready     bool   `json:"ready"`
	GameID    string `json:"game_id"`
}

// Chat 发送聊天
type Chat struct {
	Content  string  `json:"content"`
	Sender   string  `json:"sender"`
	ChatType Channel `json:"chat_type"`
	GameID   string  `json:"game_id"`
}

// GoogleLogin 完成外部OAuth握手
type GoogleLogin struct {
	SessionID string `json:"session_id"`
}

func (AuthenticateUser) Action(Dialect) string { return "authenticate_user" }
func (CreateGame) Action(d Dialect) string     { return d.pick("create_room", "create_game") }
func (ListGames) Action(d Dialect) string      { return d.pick("list_rooms", "list_games") }
func (KillDB) Action(Dialect) string           { return "kill_db" }
func (JoinRoom) Action(d Dialect) string       { return d.pick("join_room", "join_game") }
func (LoadRoom) Action(d Dialect) string       { return d.pick("load_room", "load_game") }
func (JoinPlayerSlot) Action(Dialect) string   { return "join_player_slot" }
func (AddBotToSlot) Action(Dialect) string     { return "add_bot_to_slot" }
func (LeavePlayerSlot) Action(Dialect) string  { return "leave_player_slot" }
func (SetReady) Action(Dialect) string         { return "set_ready" }
func (Chat) Action(Dialect) string             { return "chat" }
func (GoogleLogin) Action(d Dialect) string    { return d.pick("google_login", "authenticate_google") }

func (AuthenticateUser) isIntent() {}
func (CreateGame) isIntent()       {}
func (ListGames) isIntent()        {}
func (KillDB) isIntent()           {}
func (JoinRoom) isIntent()         {}
func (LoadRoom) isIntent()         {}
func (JoinPlayerSlot) isIntent()   {}
func (AddBotToSlot) isIntent()     {}
func (LeavePlayerSlot) isIntent()  {}
func (SetReady) isIntent()         {}
func (Chat) isIntent()             {}
func (GoogleLogin) isIntent()      {}

// Encode 序列化意图，附加 action 字段
func Encode(intent Intent, d Dialect) ([]byte, error) {
	if intent == nil {
		return nil, fmt.Errorf("intent is nil")
	}
	body, err := json.Marshal(intent)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", intent, err)
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("marshal %T: %w", intent, err)
	}
	action, _ := json.Marshal(intent.Action(d))
	fields["action"] = action

	return json.Marshal(fields)
}
