package storage

import "github.com/wfunc/tabletop-client/internal/protocol"

// Identity 当前生效的身份，User 与 GuestID 只有一个非空
type Identity struct {
	User    *protocol.UserInfo
	GuestID string
}

// Authenticated 是否为已认证身份
func (i Identity) Authenticated() bool {
	return i.User != nil
}

// ID 身份id
func (i Identity) ID() string {
	if i.User != nil {
		return i.User.ID
	}
	return i.GuestID
}

// Handshake 握手意图
func (i Identity) Handshake() protocol.AuthenticateUser {
	if i.User != nil {
		return protocol.AuthenticateUser{UserInfo: i.User}
	}
	return protocol.AuthenticateUser{GuestID: i.GuestID}
}
