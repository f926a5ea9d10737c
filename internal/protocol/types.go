// Package protocol 定义与游戏服务器之间的JSON帧：出站意图（action字段）和入站事件（type字段）。
package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// UserInfo 用户身份信息（认证用户或访客）
type UserInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	IsGoogle bool   `json:"isGoogle,omitempty"`
	IsGuest  bool   `json:"isGuest,omitempty"`
}

// UnmarshalJSON 兼容数字类型的id
func (u *UserInfo) UnmarshalJSON(data []byte) error {
	type alias UserInfo
	var wire struct {
		alias
		ID flexString `json:"id"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*u = UserInfo(wire.alias)
	u.ID = string(wire.ID)
	return nil
}

// OccupancyState 座位占用状态，数值与服务器 occupy 字段一致
type OccupancyState int

const (
	Empty OccupancyState = iota
	Occupied
	ConnectionLost
)

// String 返回状态名
func (s OccupancyState) String() string {
	switch s {
	case Empty:
		return "empty"
	case Occupied:
		return "occupied"
	case ConnectionLost:
		return "connection_lost"
	default:
		return "unknown"
	}
}

// Player 座位快照中的一个座位
type Player struct {
	Index     int             `json:"-"` // 从0开始，等于在快照中的位置
	Info      *UserInfo       `json:"info"`
	Character json.RawMessage `json:"character,omitempty"`
	Occupancy OccupancyState  `json:"occupy"`
	Ready     bool            `json:"ready"`
	Team      json.RawMessage `json:"team,omitempty"`
	Pos       json.RawMessage `json:"pos,omitempty"`
}

// UnmarshalJSON 缺少 occupy 字段时按是否有 info 推断
func (p *Player) UnmarshalJSON(data []byte) error {
	var wire struct {
		Info      *UserInfo       `json:"info"`
		Character json.RawMessage `json:"character"`
		Occupy    *int            `json:"occupy"`
		Ready     bool            `json:"ready"`
		Team      json.RawMessage `json:"team"`
		Pos       json.RawMessage `json:"pos"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*p = Player{
		Info:      wire.Info,
		Character: nullToNil(wire.Character),
		Ready:     wire.Ready,
		Team:      nullToNil(wire.Team),
		Pos:       nullToNil(wire.Pos),
	}
	switch {
	case wire.Occupy != nil && *wire.Occupy >= 0 && *wire.Occupy <= int(ConnectionLost):
		p.Occupancy = OccupancyState(*wire.Occupy)
	case wire.Info != nil:
		p.Occupancy = Occupied
	default:
		p.Occupancy = Empty
	}
	// 空座位上的 info 视为无效
	if p.Occupancy == Empty {
		p.Info = nil
	}
	return nil
}

// OccupantID 返回占用者id，空座位返回空串
func (p Player) OccupantID() string {
	if p.Info == nil {
		return ""
	}
	return p.Info.ID
}

// Channel 聊天频道
type Channel string

const (
	ChannelSystem        Channel = "system"
	ChannelDialogue      Channel = "dialogue"
	ChannelSecret        Channel = "secret"
	ChannelError         Channel = "error"
	ChannelCommunication Channel = "communication"
	ChannelChitchat      Channel = "chitchat"
)

// NormalizeChannel 旧版本的 user 频道等同于 dialogue，空值按 dialogue 处理
func NormalizeChannel(s string) Channel {
	switch s {
	case "", "user":
		return ChannelDialogue
	default:
		return Channel(s)
	}
}

// Sendable 是否为玩家可以主动发言的频道
func (c Channel) Sendable() bool {
	switch c {
	case ChannelDialogue, ChannelCommunication, ChannelChitchat:
		return true
	default:
		return false
	}
}

// ChatMessage 聊天记录中的一条消息
type ChatMessage struct {
	Sender  string  `json:"sender"`
	Time    string  `json:"time"`
	Content string  `json:"content"`
	Channel Channel `json:"sort"`
	UserID  string  `json:"user_id,omitempty"`
}

// UnmarshalJSON 规范化频道并兼容数字 user_id
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	var wire struct {
		Sender  string     `json:"sender"`
		Time    flexString `json:"time"`
		Content string     `json:"content"`
		Sort    string     `json:"sort"`
		UserID  flexString `json:"user_id"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*m = ChatMessage{
		Sender:  wire.Sender,
		Time:    string(wire.Time),
		Content: wire.Content,
		Channel: NormalizeChannel(wire.Sort),
		UserID:  string(wire.UserID),
	}
	return nil
}

// Submission 单个座位的行动提交状态
type Submission struct {
	SlotIndex int  `json:"slotIndex"`
	Submitted bool `json:"submitted"`
}

// UnmarshalJSON 兼容 slot_idx / slotIndex / slot(从1开始)
func (s *Submission) UnmarshalJSON(data []byte) error {
	var wire struct {
		slotFields
		Submitted bool `json:"submitted"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	s.SlotIndex = wire.index()
	s.Submitted = wire.Submitted
	return nil
}

// Attack 已宣告的攻击
type Attack struct {
	SlotIndex  int    `json:"slotIndex"`
	ActionType string `json:"action_type"`
	Target     string `json:"target"`
}

// UnmarshalJSON 兼容多种座位字段和 actionType 写法
func (a *Attack) UnmarshalJSON(data []byte) error {
	var wire struct {
		slotFields
		ActionType  string `json:"action_type"`
		ActionType2 string `json:"actionType"`
		Target      string `json:"target"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	a.SlotIndex = wire.index()
	a.ActionType = wire.ActionType
	if a.ActionType == "" {
		a.ActionType = wire.ActionType2
	}
	a.Target = wire.Target
	return nil
}

// slotFields 座位索引的几种线上写法
type slotFields struct {
	SlotIndex *int `json:"slotIndex"`
	SlotIdx   *int `json:"slot_idx"`
	Slot      *int `json:"slot"` // 旧版本从1开始
}

// index 统一换算为从0开始的索引，缺失时返回-1
func (f slotFields) index() int {
	switch {
	case f.SlotIndex != nil:
		return *f.SlotIndex
	case f.SlotIdx != nil:
		return *f.SlotIdx
	case f.Slot != nil:
		return LegacySlotToIndex(*f.Slot)
	default:
		return -1
	}
}

// LegacySlotToIndex 旧版本从1开始的座位号转换为索引
func LegacySlotToIndex(slot int) int {
	return slot - 1
}

// flexString 接受字符串、数字或null
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*f = flexString(strconv.FormatInt(i, 10))
		return nil
	}
	*f = flexString(n.String())
	return nil
}

func nullToNil(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	return raw
}
