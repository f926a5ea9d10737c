// Package client 组装三种连接上下文（认证、大厅、房间）。
// 除特别说明外，所有方法都必须在事件循环上调用。
package client

import (
	"github.com/wfunc/tabletop-client/internal/config"
	"github.com/wfunc/tabletop-client/internal/protocol"
	"github.com/wfunc/tabletop-client/internal/session"
	"github.com/wfunc/tabletop-client/internal/transport"
)

// NoticeFunc 提示回调
type NoticeFunc func(n session.Notice)

// sendFunc 延迟绑定连接的发送适配
type sendFunc func(intent protocol.Intent) bool

func (f sendFunc) Send(intent protocol.Intent) bool { return f(intent) }

func transportOptions(cfg *config.Config, kind transport.Kind, handshake func() []protocol.Intent) transport.Options {
	return transport.Options{
		Kind:      kind,
		URL:       cfg.Server.URL,
		Dialect:   protocol.ParseDialect(cfg.Protocol.Dialect),
		WebSocket: cfg.WebSocket,
		Reconnect: cfg.Reconnect,
		Handshake: handshake,
	}
}
