package protocol

import (
	"bytes"
	"encoding/json"

	apperrors "github.com/wfunc/tabletop-client/internal/errors"
)

// Event 入站事件，仅本包内的类型实现
type Event interface {
	Type() string
	isEvent()
}

// AuthSuccess 身份确认（auth_success / google_auth_success）
type AuthSuccess struct {
	UserInfo *UserInfo
	GuestID  string
	Google   bool
}

// UserAdded 旧版认证页面的身份确认
type UserAdded struct {
	UserInfo *UserInfo
}

// GuestAssigned 访客编号，仅用于展示
type GuestAssigned struct {
	GuestNumber int
}

// PlayersList 权威座位快照
type PlayersList struct {
	Players []Player
}

// UsersList 权威在线用户名单
type UsersList struct {
	Users []UserInfo
}

// GameData 完整棋盘/角色快照（vomit_data）
type GameData struct {
	GameID       string
	Players      []Player
	Characters   []json.RawMessage // 每个角色原样保留，字段随游戏内容变化
	Board        json.RawMessage
	CurrentRound int
}

// ChatEvent 单条聊天
type ChatEvent struct {
	Message ChatMessage
}

// ChatHistory 权威聊天记录
type ChatHistory struct {
	Messages []ChatMessage
}

// CombatState 战斗阶段状态
type CombatState struct {
	InCombat       *bool
	Round          int
	Phase          string
	SubmittedCount *int
	Submissions    []Submission
}

// CombatStarted 战斗开始
type CombatStarted struct{}

// OffsetTimer 战前倒计时
type OffsetTimer struct {
	Seconds int
}

// PhaseTimer 阶段倒计时
type PhaseTimer struct {
	Seconds int
}

// ActionSubmissionUpdate 行动提交进度
type ActionSubmissionUpdate struct {
	Submissions []Submission
}

// DeclaredAttack 攻击宣告回显
type DeclaredAttack struct {
	Attack Attack
}

// Rejection 服务器拒绝了某个意图
type Rejection struct {
	Kind    string
	Message string
}

// NoGame 游戏不存在（no_game / no_session）
type NoGame struct {
	Kind string
}

// GameList 大厅游戏列表（list_games / list_rooms）
type GameList struct {
	Kind    string
	GameIDs []string
}

// GameCreated 游戏创建成功
type GameCreated struct {
	GameID string
}

// JoinedGame 已进入游戏
type JoinedGame struct {
	GameID string
}

// Unknown 未识别的事件类型
type Unknown struct {
	Tag string
}

func (e AuthSuccess) Type() string {
	if e.Google {
		return "google_auth_success"
	}
	return "auth_success"
}
func (UserAdded) Type() string              { return "user_added" }
func (GuestAssigned) Type() string          { return "guest_assigned" }
func (PlayersList) Type() string            { return "players_list" }
func (UsersList) Type() string              { return "users_list" }
func (GameData) Type() string               { return "vomit_data" }
func (ChatEvent) Type() string              { return "chat" }
func (ChatHistory) Type() string            { return "chat_history" }
func (CombatState) Type() string            { return "combat_state" }
func (CombatStarted) Type() string          { return "combat_started" }
func (OffsetTimer) Type() string            { return "offset_timer" }
func (PhaseTimer) Type() string             { return "phase_timer" }
func (ActionSubmissionUpdate) Type() string { return "action_submission_update" }
func (DeclaredAttack) Type() string         { return "declared_attack" }
func (e Rejection) Type() string            { return e.Kind }
func (e NoGame) Type() string               { return e.Kind }
func (e GameList) Type() string             { return e.Kind }
func (GameCreated) Type() string            { return "game_created" }
func (JoinedGame) Type() string             { return "joined_game" }
func (e Unknown) Type() string              { return e.Tag }

func (AuthSuccess) isEvent()            {}
func (UserAdded) isEvent()              {}
func (GuestAssigned) isEvent()          {}
func (PlayersList) isEvent()            {}
func (UsersList) isEvent()              {}
func (GameData) isEvent()               {}
func (ChatEvent) isEvent()              {}
func (ChatHistory) isEvent()            {}
func (CombatState) isEvent()            {}
func (CombatStarted) isEvent()          {}
func (OffsetTimer) isEvent()            {}
func (PhaseTimer) isEvent()             {}
func (ActionSubmissionUpdate) isEvent() {}
func (DeclaredAttack) isEvent()         {}
func (Rejection) isEvent()              {}
func (NoGame) isEvent()                 {}
func (GameList) isEvent()               {}
func (GameCreated) isEvent()            {}
func (JoinedGame) isEvent()             {}
func (Unknown) isEvent()                {}

// 拒绝类事件
var rejectionTypes = map[string]bool{
	"join_failed":       true,
	"join_slot_failed":  true,
	"leave_slot_failed": true,
	"set_ready_failed":  true,
	"add_bot_failed":    true,
	"auth_error":        true,
	"google_auth_error": true,
}

// IsRejection 判断是否为拒绝类事件类型
func IsRejection(kind string) bool {
	return rejectionTypes[kind]
}

// Decode 解析入站帧；格式错误返回 ErrMessageFormat，未知类型返回 Unknown
func Decode(raw []byte) (Event, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrMessageFormat, "invalid json")
	}
	if envelope.Type == "" {
		return nil, apperrors.New(apperrors.ErrMessageFormat, "missing type")
	}

	ev, err := decodeBody(envelope.Type, raw)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrMessageFormat, "type=%s", envelope.Type)
	}
	return ev, nil
}

func decodeBody(kind string, raw []byte) (Event, error) {
	switch kind {
	case "auth_success", "google_auth_success":
		var body struct {
			UserInfo *UserInfo  `json:"user_info"`
			GuestID  flexString `json:"guest_id"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, err
		}
		return AuthSuccess{UserInfo: body.UserInfo, GuestID: string(body.GuestID), Google: kind == "google_auth_success"}, nil

	case "user_added":
		var body struct {
			UserInfo *UserInfo `json:"user_info"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, err
		}
		return UserAdded{UserInfo: body.UserInfo}, nil

	case "guest_assigned":
		var body struct {
			GuestNumber int `json:"guest_number"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, err
		}
		return GuestAssigned{GuestNumber: body.GuestNumber}, nil

	case "players_list":
		var body struct {
			Players []Player `json:"players"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, err
		}
		return PlayersList{Players: indexPlayers(body.Players)}, nil

	case "users_list":
		var body struct {
			Users []*UserInfo `json:"users"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, err
		}
		users := make([]UserInfo, 0, len(body.Users))
		for _, u := range body.Users {
			if u != nil {
				users = append(users, *u)
			}
		}
		return UsersList{Users: users}, nil

	case "vomit_data":
		var body struct {
			ID           flexString        `json:"id"`
			Players      []Player          `json:"players"`
			Characters   []json.RawMessage `json:"characters"`
			Board        json.RawMessage   `json:"game_board"`
			CurrentRound int               `json:"current_round"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, err
		}
		return GameData{
			GameID:       string(body.ID),
			Players:      indexPlayers(body.Players),
			Characters:   body.Characters,
			Board:        nullToNil(body.Board),
			CurrentRound: body.CurrentRound,
		}, nil

	case "chat":
		var msg ChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return ChatEvent{Message: msg}, nil

	case "chat_history":
		var body struct {
			Messages []ChatMessage `json:"messages"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, err
		}
		return ChatHistory{Messages: body.Messages}, nil

	case "combat_state":
		return decodeCombatState(raw)

	case "combat_started":
		return CombatStarted{}, nil

	case "offset_timer", "phase_timer":
		var body struct {
			Seconds int `json:"seconds"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, err
		}
		if kind == "offset_timer" {
			return OffsetTimer{Seconds: body.Seconds}, nil
		}
		return PhaseTimer{Seconds: body.Seconds}, nil

	case "action_submission_update":
		var body struct {
			Submitted []Submission `json:"submitted"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, err
		}
		return ActionSubmissionUpdate{Submissions: body.Submitted}, nil

	case "declared_attack":
		var body struct {
			AttackInfo *Attack `json:"attack_info"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, err
		}
		if body.AttackInfo == nil {
			return nil, apperrors.New(apperrors.ErrMessageFormat, "missing attack_info")
		}
		return DeclaredAttack{Attack: *body.AttackInfo}, nil

	case "no_game", "no_session":
		return NoGame{Kind: kind}, nil

	case "list_games", "list_rooms":
		var body struct {
			SessionIDs []struct {
				GameID flexString `json:"game_id"`
			} `json:"session_ids"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(body.SessionIDs))
		for _, s := range body.SessionIDs {
			if s.GameID != "" {
				ids = append(ids, string(s.GameID))
			}
		}
		return GameList{Kind: kind, GameIDs: ids}, nil

	case "game_created", "joined_game":
		var body struct {
			GameID flexString `json:"game_id"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, err
		}
		if kind == "game_created" {
			return GameCreated{GameID: string(body.GameID)}, nil
		}
		return JoinedGame{GameID: string(body.GameID)}, nil
	}

	if IsRejection(kind) {
		var body struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, err
		}
		msg := body.Message
		if msg == "" {
			msg = body.Error
		}
		return Rejection{Kind: kind, Message: msg}, nil
	}

	return Unknown{Tag: kind}, nil
}

// decodeCombatState submitted 字段可能是计数，也可能是逐座位列表
func decodeCombatState(raw []byte) (Event, error) {
	var body struct {
		CombatState *struct {
			InCombat     *bool           `json:"in_combat"`
			CurrentRound int             `json:"current_round"`
			Phase        string          `json:"phase"`
			Submitted    json.RawMessage `json:"submitted"`
		} `json:"combat_state"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	if body.CombatState == nil {
		return nil, apperrors.New(apperrors.ErrMessageFormat, "missing combat_state")
	}

	ev := CombatState{
		InCombat: body.CombatState.InCombat,
		Round:    body.CombatState.CurrentRound,
		Phase:    body.CombatState.Phase,
	}

	submitted := bytes.TrimSpace(body.CombatState.Submitted)
	switch {
	case len(submitted) == 0 || bytes.Equal(submitted, []byte("null")):
	case submitted[0] == '[':
		if err := json.Unmarshal(submitted, &ev.Submissions); err != nil {
			return nil, err
		}
	default:
		var n int
		if err := json.Unmarshal(submitted, &n); err != nil {
			return nil, err
		}
		ev.SubmittedCount = &n
	}
	return ev, nil
}

func indexPlayers(players []Player) []Player {
	for i := range players {
		players[i].Index = i
	}
	return players
}
