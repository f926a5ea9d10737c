package auth

import (
	"net/url"
	"strings"
	"sync"

	"github.com/wfunc/tabletop-client/internal/config"
	apperrors "github.com/wfunc/tabletop-client/internal/errors"
	"github.com/wfunc/tabletop-client/internal/logger"
	"go.uber.org/zap"
)

// 提供方回传的消息类型
const (
	MessageSuccess = "oauth_success"
	MessageError   = "oauth_error"
)

// Message 提供方登录窗口回传的消息
type Message struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Error     string `json:"error"`
	// Token 旧版回调页面把会话id放在 token 里
	Token *struct {
		SessionID string `json:"session_id"`
	} `json:"token,omitempty"`
}

func (m Message) sessionID() string {
	if m.SessionID != "" {
		return m.SessionID
	}
	if m.Token != nil {
		return m.Token.SessionID
	}
	return ""
}

// Forwarder 把会话id通过认证连接发给服务器
type Forwarder interface {
	Forward(sessionID string) error
}

// ForwarderFunc 函数适配
type ForwarderFunc func(sessionID string) error

// Forward 实现 Forwarder
func (f ForwarderFunc) Forward(sessionID string) error { return f(sessionID) }

// Bridge 登录流程桥接，可被回调服务的请求goroutine并发调用
type Bridge struct {
	origin    string
	loginURL  string
	issuer    *StateIssuer
	forwarder Forwarder
	onError   func(error)

	mu      sync.Mutex
	pending map[string]struct{}
	logger  *zap.Logger
}

// NewBridge 创建桥接
func NewBridge(cfg config.AuthConfig, forwarder Forwarder, onError func(error)) *Bridge {
	origin := strings.TrimRight(cfg.ProviderOrigin, "/")
	return &Bridge{
		origin:    origin,
		loginURL:  origin + "/" + strings.TrimLeft(cfg.LoginPath, "/"),
		issuer:    NewStateIssuer(cfg.StateSecret, cfg.StateTTL),
		forwarder: forwarder,
		onError:   onError,
		pending:   make(map[string]struct{}),
		logger:    logger.GetModuleLogger(logger.ModuleAuth),
	}
}

// LoginURL 生成登录地址，附带新签发的会话id
func (b *Bridge) LoginURL() (string, error) {
	sessionID, err := b.issuer.Issue()
	if err != nil {
		return "", err
	}
	u, err := url.Parse(b.loginURL)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrConfigParse, "auth.provider_origin")
	}
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()

	b.mu.Lock()
	b.pending[sessionID] = struct{}{}
	b.mu.Unlock()

	b.logger.Info("开始外部登录", zap.String("url", b.loginURL))
	return u.String(), nil
}

// Pending 等待回传的登录数
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// HandleMessage 处理提供方回传的消息；来源不符的消息被忽略
func (b *Bridge) HandleMessage(origin string, msg Message) error {
	if strings.TrimRight(origin, "/") != b.origin {
		b.logger.Warn("忽略来源不可信的登录消息", zap.String("origin", origin))
		return apperrors.New(apperrors.ErrOriginMismatch, origin)
	}

	switch msg.Type {
	case MessageSuccess:
		sessionID := msg.sessionID()
		if _, err := b.issuer.Verify(sessionID); err != nil {
			b.logger.Warn("登录会话id校验失败", zap.Error(err))
			return err
		}
		// 每个会话id只能使用一次
		b.mu.Lock()
		_, ok := b.pending[sessionID]
		delete(b.pending, sessionID)
		b.mu.Unlock()
		if !ok {
			return apperrors.New(apperrors.ErrTokenInvalid, "session id not pending")
		}

		b.logger.Info("外部登录成功，转发会话id")
		if err := b.forwarder.Forward(sessionID); err != nil {
			b.logger.Error("转发会话id失败", zap.Error(err))
			return err
		}
		return nil

	case MessageError:
		b.mu.Lock()
		b.pending = make(map[string]struct{})
		b.mu.Unlock()

		err := apperrors.New(apperrors.ErrAuthentication, msg.Error)
		b.logger.Warn("外部登录失败", zap.String("error", msg.Error))
		if b.onError != nil {
			b.onError(err)
		}
		return err

	default:
		b.logger.Debug("忽略未知登录消息", zap.String("type", msg.Type))
		return nil
	}
}
