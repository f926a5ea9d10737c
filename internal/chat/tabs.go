// Package chat 聊天标签页配置、频道路由和未读标记
package chat

import (
	"github.com/wfunc/tabletop-client/internal/protocol"
)

// 主标签页按名称识别，兜底接收所有未被路由的频道
const (
	MainTabName = "메인"
	MainTabID   = 1 // 默认配置中主标签页的ID
)

// Tab 标签页配置，字段名与持久化格式一致
type Tab struct {
	ID            int    `json:"id"`
	Name          string `json:"tabName"`
	System        bool   `json:"system"`
	Dialogue      bool   `json:"dialogue"`
	Command       bool   `json:"command"`
	Communication bool   `json:"communication"`
	Spy           bool   `json:"spy"`
	Chitchat      bool   `json:"chitchat"`
}

// TabConfig 有序标签页列表
type TabConfig []Tab

// DefaultTabConfig 默认配置
func DefaultTabConfig() TabConfig {
	return TabConfig{
		{ID: MainTabID, Name: MainTabName, System: true, Dialogue: true, Command: true},
		{ID: 2, Name: "팀", Communication: true, Spy: true},
		{ID: 3, Name: "사담", Chitchat: true},
	}
}

// Valid 非空且包含主标签页
func (c TabConfig) Valid() bool {
	_, ok := c.MainTab()
	return ok
}

// MainTab 名称为主标签页的第一个标签页
func (c TabConfig) MainTab() (Tab, bool) {
	for _, t := range c {
		if t.Name == MainTabName {
			return t, true
		}
	}
	return Tab{}, false
}

// MainID 主标签页ID，配置无效时为默认ID
func (c TabConfig) MainID() int {
	if t, ok := c.MainTab(); ok {
		return t.ID
	}
	return MainTabID
}

// Find 按ID查找标签页
func (c TabConfig) Find(id int) (Tab, bool) {
	for _, t := range c {
		if t.ID == id {
			return t, true
		}
	}
	return Tab{}, false
}

// Accepts 标签页是否显示该频道
func (t Tab) Accepts(ch protocol.Channel) bool {
	switch ch {
	case protocol.ChannelSystem:
		return t.System
	case protocol.ChannelDialogue:
		return t.Dialogue
	case protocol.ChannelError:
		return t.Command
	case protocol.ChannelSecret:
		return t.Spy
	case protocol.ChannelCommunication:
		return t.Communication
	case protocol.ChannelChitchat:
		return t.Chitchat
	default:
		return false
	}
}

// Route 返回应显示该频道的标签页ID；没有任何标签页接收时落到主标签页
func (c TabConfig) Route(ch protocol.Channel) []int {
	var ids []int
	for _, t := range c {
		if t.Accepts(ch) {
			ids = append(ids, t.ID)
		}
	}
	if len(ids) == 0 {
		ids = []int{c.MainID()}
	}
	return ids
}

// Clone 深拷贝
func (c TabConfig) Clone() TabConfig {
	if c == nil {
		return nil
	}
	out := make(TabConfig, len(c))
	copy(out, c)
	return out
}

// Unread 每个标签页的未读标记
type Unread map[int]bool

// Mark 为 ids 中除当前激活标签页之外的标签页设置未读，返回新的集合
func (u Unread) Mark(ids []int, active int) Unread {
	out := u.Clone()
	changed := false
	for _, id := range ids {
		if id == active || out[id] {
			continue
		}
		out[id] = true
		changed = true
	}
	if !changed {
		return u
	}
	return out
}

// Clear 清除某个标签页的未读标记
func (u Unread) Clear(id int) Unread {
	if !u[id] {
		return u
	}
	out := u.Clone()
	delete(out, id)
	return out
}

// Clone 拷贝
func (u Unread) Clone() Unread {
	out := make(Unread, len(u))
	for k, v := range u {
		if v {
			out[k] = v
		}
	}
	return out
}
