package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wfunc/tabletop-client/internal/protocol"
)

func TestDefaultTabConfig(t *testing.T) {
	cfg := DefaultTabConfig()
	assert.True(t, cfg.Valid())

	main, ok := cfg.Find(MainTabID)
	assert.True(t, ok)
	assert.True(t, main.System)
	assert.True(t, main.Dialogue)
}

func TestValid(t *testing.T) {
	assert.False(t, TabConfig(nil).Valid())
	assert.False(t, TabConfig{}.Valid())
	assert.False(t, TabConfig{{ID: 2, Name: "팀"}}.Valid())
	assert.True(t, TabConfig{{ID: 1, Name: MainTabName}}.Valid())

	// 主标签页按名称识别，与ID无关
	assert.False(t, TabConfig{{ID: 1, Name: "main"}}.Valid())
	renumbered := TabConfig{{ID: 9, Name: "팀"}, {ID: 4, Name: MainTabName}}
	assert.True(t, renumbered.Valid())
	assert.Equal(t, 4, renumbered.MainID())
	assert.Equal(t, []int{4}, renumbered.Route(protocol.ChannelSystem))
	assert.Equal(t, MainTabID, TabConfig{}.MainID())
}

func TestRoute(t *testing.T) {
	cfg := DefaultTabConfig()

	assert.Equal(t, []int{1}, cfg.Route(protocol.ChannelSystem))
	assert.Equal(t, []int{1}, cfg.Route(protocol.ChannelError))
	assert.Equal(t, []int{2}, cfg.Route(protocol.ChannelSecret))
	assert.Equal(t, []int{2}, cfg.Route(protocol.ChannelCommunication))
	assert.Equal(t, []int{3}, cfg.Route(protocol.ChannelChitchat))

	// 未知频道落到主标签页
	assert.Equal(t, []int{MainTabID}, cfg.Route(protocol.Channel("whisper")))

	// 自定义配置里多个标签页接收同一频道
	custom := TabConfig{
		{ID: 1, Name: MainTabName},
		{ID: 4, Name: "all", Chitchat: true, Dialogue: true},
		{ID: 5, Name: "talk", Chitchat: true},
	}
	assert.Equal(t, []int{4, 5}, custom.Route(protocol.ChannelChitchat))
	assert.Equal(t, []int{MainTabID}, custom.Route(protocol.ChannelSystem))
}

func TestUnread(t *testing.T) {
	var u Unread

	u = u.Mark([]int{1, 2}, 1)
	assert.Equal(t, Unread{2: true}, u)

	same := u.Mark([]int{2}, 1)
	assert.Equal(t, u, same)

	u = u.Clear(2)
	assert.Empty(t, u)

	orig := Unread{3: true}
	marked := orig.Mark([]int{2}, 1)
	assert.Equal(t, Unread{3: true}, orig)
	assert.Equal(t, Unread{2: true, 3: true}, marked)
}

func TestCloneIsIndependent(t *testing.T) {
	cfg := DefaultTabConfig()
	c := cfg.Clone()
	c[0].Name = "changed"
	assert.Equal(t, "메인", cfg[0].Name)
	assert.Nil(t, TabConfig(nil).Clone())
}
