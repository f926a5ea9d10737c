package auth

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/tabletop-client/internal/errors"
	"github.com/wfunc/tabletop-client/internal/logger"
	"go.uber.org/zap"
)

const callbackPage = `<!DOCTYPE html>
<html><head><title>Login</title></head>
<body><p>%s</p><p>You can close this window.</p></body></html>`

// CallbackServer 本地回环HTTP服务，接收提供方登录窗口的回传消息
type CallbackServer struct {
	addr     string
	bridge   *Bridge
	engine   *gin.Engine
	srv      *http.Server
	listener net.Listener
	logger   *zap.Logger
}

// NewCallbackServer 创建回调服务
func NewCallbackServer(addr string, bridge *Bridge) *CallbackServer {
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &CallbackServer{
		addr:   addr,
		bridge: bridge,
		engine: engine,
		logger: logger.GetModuleLogger(logger.ModuleAuth).Named("callback"),
	}
	s.setupRoutes()
	return s
}

func (s *CallbackServer) setupRoutes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"pending": s.bridge.Pending(),
		})
	})

	oauth := s.engine.Group("/oauth")
	{
		oauth.POST("/message", s.handleMessage)
		oauth.GET("/callback", s.handleCallback)
	}
}

// Handler 用于测试
func (s *CallbackServer) Handler() http.Handler {
	return s.engine
}

// Start 开始监听
func (s *CallbackServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrAuthentication, "listen "+s.addr)
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("回调服务异常退出", zap.Error(err))
		}
	}()
	s.logger.Info("回调服务已启动", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr 实际监听地址
func (s *CallbackServer) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Shutdown 关闭服务
func (s *CallbackServer) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// handleMessage JSON形式的回传消息，来源取 Origin 头
func (s *CallbackServer) handleMessage(c *gin.Context) {
	var msg Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.bridge.HandleMessage(requestOrigin(c.Request), msg); err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleCallback 浏览器重定向形式的回传消息
func (s *CallbackServer) handleCallback(c *gin.Context) {
	msg := Message{
		Type:      c.Query("type"),
		SessionID: c.Query("session_id"),
		Error:     c.Query("error"),
	}
	if msg.Type == "" {
		msg.Type = MessageSuccess
		if msg.Error != "" {
			msg.Type = MessageError
		}
	}
	if err := s.bridge.HandleMessage(requestOrigin(c.Request), msg); err != nil {
		c.Data(statusOf(err), "text/html; charset=utf-8", page("Login failed: "+err.Error()))
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", page("Login successful."))
}

// requestOrigin 优先 Origin 头，重定向请求没有时取 Referer 的来源
func requestOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" {
		return origin
	}
	ref, err := url.Parse(r.Referer())
	if err != nil || ref.Host == "" {
		return ""
	}
	return ref.Scheme + "://" + ref.Host
}

func statusOf(err error) int {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}

func page(text string) []byte {
	return []byte(fmt.Sprintf(callbackPage, html.EscapeString(text)))
}
