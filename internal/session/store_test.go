package session

import (
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/wfunc/tabletop-client/internal/chat"
	"github.com/wfunc/tabletop-client/internal/countdown"
	"github.com/wfunc/tabletop-client/internal/dialogue"
	apperrors "github.com/wfunc/tabletop-client/internal/errors"
	"github.com/wfunc/tabletop-client/internal/protocol"
	"github.com/wfunc/tabletop-client/internal/storage"
)

type fakeSender struct {
	open bool
	sent []protocol.Intent
}

func (f *fakeSender) Send(intent protocol.Intent) bool {
	if !f.open {
		return false
	}
	f.sent = append(f.sent, intent)
	return true
}

type fakeStorage struct {
	user     *protocol.UserInfo
	guestID  string
	slots    map[string]int
	tabs     chat.TabConfig
	unread   map[string]chat.Unread
	channels map[string]protocol.Channel
	panel    *storage.Position
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		slots:    map[string]int{},
		unread:   map[string]chat.Unread{},
		channels: map[string]protocol.Channel{},
	}
}

func (f *fakeStorage) SetUserInfo(info *protocol.UserInfo) error {
	f.user = info
	return nil
}
func (f *fakeStorage) SetGuestID(id string) error {
	f.guestID = id
	return nil
}
func (f *fakeStorage) RemovePlayerSlot(gameID string) error {
	delete(f.slots, gameID)
	return nil
}
func (f *fakeStorage) ChatTabs() chat.TabConfig {
	if !f.tabs.Valid() {
		return chat.DefaultTabConfig()
	}
	return f.tabs
}
func (f *fakeStorage) SetChatTabs(cfg chat.TabConfig) (chat.TabConfig, error) {
	if !cfg.Valid() {
		cfg = chat.DefaultTabConfig()
	}
	f.tabs = cfg
	return cfg, nil
}
func (f *fakeStorage) UnreadTabs(gameID string) chat.Unread {
	if u, ok := f.unread[gameID]; ok {
		return u
	}
	return chat.Unread{}
}
func (f *fakeStorage) SetUnreadTabs(gameID string, u chat.Unread) error {
	f.unread[gameID] = u
	return nil
}
func (f *fakeStorage) ChatChannel(gameID string) protocol.Channel {
	if ch, ok := f.channels[gameID]; ok {
		return ch
	}
	return protocol.ChannelDialogue
}
func (f *fakeStorage) SetChatChannel(gameID string, ch protocol.Channel) error {
	f.channels[gameID] = ch
	return nil
}
func (f *fakeStorage) PanelPosition() (*storage.Position, bool) {
	return f.panel, f.panel != nil
}
func (f *fakeStorage) SetPanelPosition(pos *storage.Position) error {
	f.panel = pos
	return nil
}

type fakeSeating struct {
	ids       []string
	snapshots int
}

func (f *fakeSeating) OnIdentity(id string) {
	f.ids = append(f.ids, id)
}
func (f *fakeSeating) OnSeating([]protocol.Player) {
	f.snapshots++
}

type fakePresenter struct {
	items []dialogue.Item
}

func (f *fakePresenter) Enqueue(item dialogue.Item) {
	f.items = append(f.items, item)
}

type fakeTicker struct {
	ticks map[countdown.Channel]int
}

func (f *fakeTicker) Tick(ch countdown.Channel, seconds int) {
	f.ticks[ch] = seconds
}

// StoreTestSuite 会话状态容器测试套件
type StoreTestSuite struct {
	suite.Suite
	sender    *fakeSender
	storage   *fakeStorage
	seating   *fakeSeating
	presenter *fakePresenter
	ticker    *fakeTicker
	notices   []Notice
	navigated []string
	store     *Store
	router    *Router
	changes   int
}

func (s *StoreTestSuite) SetupTest() {
	s.sender = &fakeSender{open: true}
	s.storage = newFakeStorage()
	s.seating = &fakeSeating{}
	s.presenter = &fakePresenter{}
	s.ticker = &fakeTicker{ticks: map[countdown.Channel]int{}}
	s.notices = nil
	s.navigated = nil
	s.changes = 0

	s.store = NewStore(Hooks{
		Sender:     s.sender,
		Storage:    s.storage,
		Seating:    s.seating,
		Presenter:  s.presenter,
		Countdown:  s.ticker,
		OnNotice:   func(n Notice) { s.notices = append(s.notices, n) },
		OnNavigate: func(id string) { s.navigated = append(s.navigated, id) },
	}, []string{"system", "dialogue"})
	s.router = NewRouter(s.store)
	s.store.OnChange(func(State) { s.changes++ })
	s.store.Load("g1")
}

func (s *StoreTestSuite) route(raw string) {
	s.router.Route([]byte(raw))
}

func (s *StoreTestSuite) TestMalformedFrameLeavesStateUnchanged() {
	before := s.store.State()
	changes := s.changes

	s.NotPanics(func() {
		s.route(`{not json`)
		s.route(`{"no_type":true}`)
		s.route(`{"type":"brand_new_event","x":1}`)
	})
	s.Equal(before, s.store.State())
	s.Equal(changes, s.changes)
}

func (s *StoreTestSuite) TestIdentityFlow() {
	s.route(`{"type":"auth_success","user_info":{"id":"u1","name":"Kim","isGoogle":true}}`)
	s.Equal("u1", s.store.State().SelfID())
	s.Equal([]string{"u1"}, s.seating.ids)
	s.Require().NotNil(s.storage.user)
	s.Equal("Kim", s.storage.user.Name)

	s.route(`{"type":"auth_success","user_info":{"id":"guest-2","name":"Guest","isGuest":true},"guest_id":"guest-2"}`)
	s.Equal("guest-2", s.storage.guestID)
}

func (s *StoreTestSuite) TestSeatingForwarded() {
	s.route(`{"type":"players_list","players":[{"info":null,"occupy":0},{"info":null,"occupy":0}]}`)
	s.Equal(1, s.seating.snapshots)
	s.Len(s.store.State().Players, 2)
}

func (s *StoreTestSuite) TestJoinSlotFailedDropsHint() {
	s.storage.slots["g1"] = 2
	s.route(`{"type":"join_slot_failed","message":"occupied"}`)
	_, ok := s.storage.slots["g1"]
	s.False(ok)
	s.Require().Len(s.notices, 1)
	s.Equal("join_slot_failed", s.notices[0].Kind)

	s.store.DismissNotice()
	s.Nil(s.store.State().Notice)
}

func (s *StoreTestSuite) TestPresentationFilteredByChannel() {
	s.route(`{"type":"chat","sender":"Kim","content":"hello","sort":"dialogue"}`)
	s.route(`{"type":"chat","sender":"Lee","content":"lol","sort":"chitchat"}`)
	s.route(`{"type":"chat","sender":"","content":"round 1","sort":"system"}`)

	s.Equal([]dialogue.Item{
		{Speaker: "Kim", Content: "hello"},
		{Speaker: "System", Content: "round 1"},
	}, s.presenter.items)
	s.Len(s.store.State().Chat, 3)
	s.Equal(chat.Unread{3: true}, s.storage.unread["g1"])
}

func (s *StoreTestSuite) TestCountdownForwardedAndPublished() {
	s.route(`{"type":"offset_timer","seconds":7}`)
	s.Equal(7, s.ticker.ticks[countdown.Offset])

	v := 7
	s.store.SetCountdown(countdown.Offset, &v)
	s.Equal(&v, s.store.State().Combat.OffsetCountdown)
	s.store.SetCountdown(countdown.Offset, nil)
	s.Nil(s.store.State().Combat.OffsetCountdown)
}

func (s *StoreTestSuite) TestLobbyNavigation() {
	s.route(`{"type":"game_created","game_id":"new-game"}`)
	s.Equal([]string{"new-game"}, s.navigated)
	s.Equal([]protocol.Intent{protocol.ListGames{}}, s.sender.sent)
}

func (s *StoreTestSuite) TestSendChat() {
	s.Require().NoError(s.store.SendChat("  hi  ", ""))
	s.Equal(protocol.Chat{Content: "hi", Sender: "Guest", ChatType: protocol.ChannelDialogue, GameID: "g1"}, s.sender.sent[0])

	s.route(`{"type":"auth_success","user_info":{"id":"u1","name":"Kim"}}`)
	s.Require().NoError(s.store.SendChat("team", protocol.ChannelCommunication))
	s.Equal(protocol.Chat{Content: "team", Sender: "Kim", ChatType: protocol.ChannelCommunication, GameID: "g1"}, s.sender.sent[1])

	// 前置条件失败不发送
	err := s.store.SendChat("   ", "")
	s.True(apperrors.Is(err, apperrors.ErrEmptyChat))
	s.True(IsPrecondition(err))
	s.True(IsPrecondition(s.store.SendChat("x", protocol.ChannelSystem)))
	s.Len(s.sender.sent, 2)
}

func (s *StoreTestSuite) TestGuestSenderName() {
	s.route(`{"type":"auth_success","user_info":{"id":"guest-1","name":"Guest","isGuest":true},"guest_id":"guest-1"}`)
	s.route(`{"type":"guest_assigned","guest_number":4}`)
	s.Require().NoError(s.store.SendChat("hi", ""))
	s.Equal("Guest 4", s.sender.sent[0].(protocol.Chat).Sender)
}

func (s *StoreTestSuite) TestActionsRequireGame() {
	s.store.Load("")
	for _, err := range []error{
		s.store.SendChat("hi", ""),
		s.store.JoinSlot(0),
		s.store.AddBotToSlot(0),
		s.store.LeaveSlot(0),
		s.store.SetReady(0, true),
	} {
		s.True(apperrors.Is(err, apperrors.ErrNoGame))
	}
	s.Empty(s.sender.sent)
}

func (s *StoreTestSuite) TestSlotActions() {
	s.Require().NoError(s.store.JoinSlot(3))

	s.route(`{"type":"players_list","players":[{"info":null,"occupy":0},{"info":null,"occupy":0}]}`)
	s.Require().NoError(s.store.AddBotToSlot(1))
	s.Require().NoError(s.store.LeaveSlot(0))
	s.Require().NoError(s.store.SetReady(1, true))

	s.True(apperrors.Is(s.store.JoinSlot(2), apperrors.ErrSlotOutOfRange))
	s.True(apperrors.Is(s.store.SetReady(-1, true), apperrors.ErrSlotOutOfRange))

	s.Equal([]protocol.Intent{
		protocol.JoinPlayerSlot{SlotIndex: 3, GameID: "g1"},
		protocol.AddBotToSlot{SlotIndex: 1, GameID: "g1"},
		protocol.LeavePlayerSlot{SlotIndex: 0, GameID: "g1"},
		protocol.SetReady{SlotIndex: 1, Ready: true, GameID: "g1"},
	}, s.sender.sent)

	// 请求发出后座位不会被本地修改
	for _, p := range s.store.State().Players {
		s.Equal(protocol.Empty, p.Occupancy)
	}
}

func (s *StoreTestSuite) TestSendWhileDisconnected() {
	s.sender.open = false
	err := s.store.JoinSlot(0)
	s.True(apperrors.Is(err, apperrors.ErrNotConnected))
	s.False(IsPrecondition(err))
}

func (s *StoreTestSuite) TestPreferences() {
	s.Require().NoError(s.store.SetChatChannel(protocol.ChannelChitchat))
	s.Equal(protocol.ChannelChitchat, s.store.State().ChatChannel)
	s.Equal(protocol.ChannelChitchat, s.storage.channels["g1"])
	s.Error(s.store.SetChatChannel(protocol.ChannelSecret))

	s.route(`{"type":"chat","sender":"Lee","content":"lol","sort":"chitchat"}`)
	s.Equal(chat.Unread{3: true}, s.store.State().Unread)
	s.Require().NoError(s.store.SelectTab(3))
	s.Empty(s.store.State().Unread)
	s.Empty(s.storage.unread["g1"])
	s.Error(s.store.SelectTab(99))

	s.Require().NoError(s.store.SetChatTabs(chat.TabConfig{{ID: 5, Name: "x"}}))
	s.Equal(chat.DefaultTabConfig(), s.store.State().Tabs)
	s.Equal(3, s.store.State().ActiveTab)

	s.Require().NoError(s.store.SetChatTabs(chat.TabConfig{{ID: 1, Name: "only"}}))
	s.Equal(chat.DefaultTabConfig(), s.store.State().Tabs)

	// 主标签页改了ID时激活标签页跟随主标签页
	s.Require().NoError(s.store.SetChatTabs(chat.TabConfig{{ID: 6, Name: chat.MainTabName}}))
	s.Equal(6, s.store.State().ActiveTab)

	pos := &storage.Position{X: 1, Y: 2}
	s.Require().NoError(s.store.SetPanelPosition(pos))
	s.Equal(pos, s.storage.panel)
	s.Equal(pos, s.store.State().PanelPosition)
}

func (s *StoreTestSuite) TestLoadReadsPreferences() {
	s.storage.channels["g2"] = protocol.ChannelCommunication
	s.storage.unread["g2"] = chat.Unread{2: true}
	s.storage.panel = &storage.Position{X: 5, Y: 6}

	s.store.Load("g2")
	st := s.store.State()
	s.Equal("g2", st.GameID)
	s.Equal(protocol.ChannelCommunication, st.ChatChannel)
	s.Equal(chat.Unread{2: true}, st.Unread)
	s.Equal(&storage.Position{X: 5, Y: 6}, st.PanelPosition)
	s.Nil(st.Self)
}

func (s *StoreTestSuite) TestUnsubscribe() {
	calls := 0
	cancel := s.store.OnChange(func(State) { calls++ })
	s.route(`{"type":"guest_assigned","guest_number":1}`)
	cancel()
	s.route(`{"type":"guest_assigned","guest_number":2}`)
	s.Equal(1, calls)
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}
