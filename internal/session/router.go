package session

import (
	"github.com/wfunc/tabletop-client/internal/logger"
	"github.com/wfunc/tabletop-client/internal/protocol"
	"go.uber.org/zap"
)

// Router 入站帧解析并分发到状态容器
type Router struct {
	store  *Store
	logger *zap.Logger
}

// NewRouter 创建路由
func NewRouter(store *Store) *Router {
	return &Router{
		store:  store,
		logger: logger.GetModuleLogger(logger.ModuleSession).Named("router"),
	}
}

// Route 处理一帧；格式错误的帧记录后丢弃，状态不变
func (r *Router) Route(raw []byte) {
	ev, err := protocol.Decode(raw)
	if err != nil {
		r.logger.Warn("丢弃无法解析的消息", zap.Error(err), zap.Int("size", len(raw)))
		return
	}
	if u, ok := ev.(protocol.Unknown); ok {
		r.logger.Debug("忽略未知消息类型", zap.String("type", u.Tag))
		return
	}
	r.store.Dispatch(ev)
}
