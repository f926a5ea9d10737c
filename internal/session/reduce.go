package session

import (
	"encoding/json"

	"github.com/wfunc/tabletop-client/internal/countdown"
	"github.com/wfunc/tabletop-client/internal/protocol"
)

// Reduce 根据入站事件计算新状态和副作用；不修改传入的状态
func Reduce(st State, ev protocol.Event) (State, []Effect) {
	switch e := ev.(type) {
	case protocol.AuthSuccess:
		return reduceIdentity(st, e.UserInfo, e.GuestID)

	case protocol.UserAdded:
		return reduceIdentity(st, e.UserInfo, "")

	case protocol.GuestAssigned:
		st.GuestNumber = e.GuestNumber
		return st, nil

	case protocol.PlayersList:
		// 权威快照整体替换
		st.Players = clonePlayers(e.Players)
		return st, []Effect{SeatingUpdated{Players: clonePlayers(e.Players)}}

	case protocol.UsersList:
		st.Users = append([]protocol.UserInfo(nil), e.Users...)
		return st, nil

	case protocol.GameData:
		st.Board = &Board{
			GameID:       e.GameID,
			Players:      clonePlayers(e.Players),
			Characters:   append([]json.RawMessage(nil), e.Characters...),
			Data:         e.Board,
			CurrentRound: e.CurrentRound,
		}
		if e.CurrentRound > 0 {
			st.Combat.Round = e.CurrentRound
		}
		return st, nil

	case protocol.ChatEvent:
		return reduceChat(st, e.Message)

	case protocol.ChatHistory:
		return reduceHistory(st, e.Messages)

	case protocol.CombatState:
		if e.InCombat != nil {
			v := *e.InCombat
			st.Combat.InCombat = &v
		}
		st.Combat.Round = e.Round
		st.Combat.Phase = e.Phase
		if e.SubmittedCount != nil {
			n := *e.SubmittedCount
			st.Combat.SubmittedCount = &n
		}
		if e.Submissions != nil {
			st.Combat.Submissions = append([]protocol.Submission(nil), e.Submissions...)
		}
		return st, nil

	case protocol.CombatStarted:
		v := true
		st.Combat.InCombat = &v
		return st, nil

	case protocol.OffsetTimer:
		return st, []Effect{CountdownTick{Channel: countdown.Offset, Seconds: e.Seconds}}

	case protocol.PhaseTimer:
		return st, []Effect{CountdownTick{Channel: countdown.Phase, Seconds: e.Seconds}}

	case protocol.ActionSubmissionUpdate:
		st.Combat.Submissions = append([]protocol.Submission(nil), e.Submissions...)
		return st, nil

	case protocol.DeclaredAttack:
		// 服务器向所有人广播，只保留自己座位的宣告
		idx, ok := st.SeatOf(st.SelfID())
		if !ok || idx != e.Attack.SlotIndex {
			return st, nil
		}
		a := e.Attack
		st.Combat.DeclaredAttack = &a
		return st, nil

	case protocol.Rejection:
		notice := Notice{Kind: e.Kind, Message: e.Message}
		st.Notice = &notice
		effects := []Effect{Notify{Notice: notice}}
		if e.Kind == "join_slot_failed" {
			effects = append(effects, DropRejoinHint{GameID: st.GameID})
		}
		return st, effects

	case protocol.NoGame:
		st.NotFound = true
		notice := Notice{Kind: e.Kind, Message: "game not found"}
		st.Notice = &notice
		return st, []Effect{Notify{Notice: notice}}

	case protocol.GameList:
		st.Games = append([]string(nil), e.GameIDs...)
		return st, nil

	case protocol.GameCreated:
		return st, []Effect{
			Navigate{GameID: e.GameID},
			Send{Intent: protocol.ListGames{}},
		}

	case protocol.JoinedGame:
		gameID := st.GameID
		if gameID == "" {
			gameID = e.GameID
		}
		if gameID == "" {
			return st, nil
		}
		return st, []Effect{Send{Intent: protocol.LoadRoom{GameID: gameID}}}

	case protocol.Unknown:
		return st, nil

	default:
		return st, nil
	}
}

func reduceIdentity(st State, info *protocol.UserInfo, guestID string) (State, []Effect) {
	var self *protocol.UserInfo
	switch {
	case info != nil && info.ID != "":
		cp := *info
		self = &cp
	case guestID != "":
		self = &protocol.UserInfo{ID: guestID, Name: "Guest", IsGuest: true}
	default:
		return st, nil
	}
	st.Self = self

	persist := PersistIdentity{GuestID: guestID}
	if !self.IsGuest {
		cp := *self
		persist.User = &cp
	} else if persist.GuestID == "" {
		persist.GuestID = self.ID
	}
	return st, []Effect{persist, IdentityConfirmed{ID: self.ID}}
}

// visible 别人的私密消息不显示
func visible(msg protocol.ChatMessage, selfID string) bool {
	switch msg.Channel {
	case protocol.ChannelSecret, protocol.ChannelError:
		return msg.UserID == "" || msg.UserID == selfID
	default:
		return true
	}
}

func reduceChat(st State, msg protocol.ChatMessage) (State, []Effect) {
	if !visible(msg, st.SelfID()) {
		return st, nil
	}
	// 追加时复制底层数组，不影响旧快照
	st.Chat = append(st.Chat[:len(st.Chat):len(st.Chat)], msg)

	effects := []Effect{Present{Message: msg}}
	unread := st.Unread.Mark(st.Tabs.Route(msg.Channel), st.ActiveTab)
	if len(unread) != len(st.Unread) {
		st.Unread = unread
		effects = append(effects, MarkUnread{GameID: st.GameID, Unread: unread.Clone()})
	}
	return st, effects
}

func reduceHistory(st State, messages []protocol.ChatMessage) (State, []Effect) {
	selfID := st.SelfID()
	transcript := make([]protocol.ChatMessage, 0, len(messages))
	effects := make([]Effect, 0, len(messages))
	for _, msg := range messages {
		if !visible(msg, selfID) {
			continue
		}
		transcript = append(transcript, msg)
		effects = append(effects, Present{Message: msg})
	}
	st.Chat = transcript
	return st, effects
}

func clonePlayers(players []protocol.Player) []protocol.Player {
	if players == nil {
		return nil
	}
	out := make([]protocol.Player, len(players))
	copy(out, players)
	for i := range out {
		out[i].Index = i
		if out[i].Info != nil {
			info := *out[i].Info
			out[i].Info = &info
		}
	}
	return out
}
