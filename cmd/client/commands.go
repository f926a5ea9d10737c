package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/wfunc/tabletop-client/internal/errors"
	"github.com/wfunc/tabletop-client/internal/protocol"
	"go.uber.org/zap"
)

// readCommands 逐行读取终端命令并在事件循环上执行
func (a *App) readCommands(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			a.cancel()
			return
		}
		if err := a.call(func() error { return a.exec(line) }); err != nil {
			fmt.Printf("命令失败: %v\n", err)
		}
	}
	if err := scanner.Err(); err != nil {
		a.logger.Warn("读取命令失败", zap.Error(err))
	}
}

// exec 执行一条命令
func (a *App) exec(line string) error {
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	if a.lobby != nil {
		switch name {
		case "create":
			n, err := strconv.Atoi(rest)
			if err != nil {
				return errors.Wrap(err, errors.ErrInvalidParam, "create <2|4|6>")
			}
			return a.lobby.CreateGame(n)
		case "list":
			return a.lobby.ListGames()
		case "killdb":
			return a.lobby.KillDB()
		}
	}

	if a.auth != nil && name == "signout" {
		return a.auth.SignOut()
	}

	if a.room == nil {
		return errors.Newf(errors.ErrInvalidParam, "未知命令: %s", name)
	}
	s := a.room.Session()
	switch name {
	case "chat":
		return s.SendChat(rest, "")
	case "say":
		ch, text, _ := strings.Cut(rest, " ")
		return s.SendChat(text, protocol.NormalizeChannel(ch))
	case "channel":
		return s.SetChatChannel(protocol.NormalizeChannel(rest))
	case "join", "leave", "bot", "ready", "unready", "tab":
		n, err := strconv.Atoi(rest)
		if err != nil {
			return errors.Wrapf(err, errors.ErrInvalidParam, "%s <n>", name)
		}
		switch name {
		case "join":
			return s.JoinSlot(n)
		case "leave":
			return s.LeaveSlot(n)
		case "bot":
			return s.AddBotToSlot(n)
		case "ready":
			return s.SetReady(n, true)
		case "unready":
			return s.SetReady(n, false)
		default:
			return s.SelectTab(n)
		}
	case "click":
		a.room.Click()
		return nil
	case "state":
		st := a.room.State()
		fmt.Printf("game=%s self=%s players=%d chat=%d round=%d phase=%s\n",
			st.GameID, st.SelfID(), len(st.Players), len(st.Chat), st.Combat.Round, st.Combat.Phase)
		for i, p := range st.Players {
			fmt.Printf("  [%d] %s %s ready=%v\n", i, p.Occupancy, p.OccupantID(), p.Ready)
		}
		return nil
	default:
		return errors.Newf(errors.ErrInvalidParam, "未知命令: %s", name)
	}
}
