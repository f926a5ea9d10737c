// Package countdown 合并服务器推送的权威倒计时与本地每秒递减。
package countdown

import (
	"time"

	"github.com/wfunc/tabletop-client/internal/eventloop"
	"github.com/wfunc/tabletop-client/internal/logger"
	"go.uber.org/zap"
)

// Channel 倒计时通道
type Channel int

const (
	// Offset 战前准备倒计时
	Offset Channel = iota
	// Phase 回合阶段倒计时
	Phase
	channelCount
)

// String 返回通道名
func (c Channel) String() string {
	switch c {
	case Offset:
		return "offset"
	case Phase:
		return "phase"
	default:
		return "unknown"
	}
}

// PublishFunc 展示值变化回调，nil 表示隐藏倒计时
type PublishFunc func(ch Channel, value *int)

// Countdown 两个相互独立的倒计时，共用一个本地定时器
type Countdown struct {
	sched    eventloop.Scheduler
	interval time.Duration
	publish  PublishFunc
	cursor   [channelCount]*int
	cancel   eventloop.Cancel
	logger   *zap.Logger
}

// New 创建倒计时，interval 为本地递减周期
func New(sched eventloop.Scheduler, interval time.Duration, publish PublishFunc) *Countdown {
	if interval <= 0 {
		interval = time.Second
	}
	if publish == nil {
		publish = func(Channel, *int) {}
	}
	return &Countdown{
		sched:    sched,
		interval: interval,
		publish:  publish,
		logger:   logger.GetModuleLogger(logger.ModuleSession).Named("countdown"),
	}
}

// Start 启动本地定时器，重复调用无效果
func (c *Countdown) Start() {
	if c.cancel != nil {
		return
	}
	c.cancel = c.sched.Every(c.interval, c.step)
}

// Stop 停止本地定时器并清空两个通道
func (c *Countdown) Stop() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	for i := range c.cursor {
		c.cursor[i] = nil
	}
}

// Running 本地定时器是否在运行
func (c *Countdown) Running() bool {
	return c.cancel != nil
}

// Tick 权威值覆盖游标；seconds<=0 时隐藏
func (c *Countdown) Tick(ch Channel, seconds int) {
	if ch < 0 || ch >= channelCount {
		c.logger.Warn("未知的倒计时通道", zap.Int("channel", int(ch)))
		return
	}
	if seconds <= 0 {
		c.cursor[ch] = nil
		c.publish(ch, nil)
		return
	}
	c.set(ch, seconds)
}

// Value 当前展示值
func (c *Countdown) Value(ch Channel) (int, bool) {
	if ch < 0 || ch >= channelCount || c.cursor[ch] == nil {
		return 0, false
	}
	return *c.cursor[ch], true
}

func (c *Countdown) set(ch Channel, v int) {
	c.cursor[ch] = &v
	out := v
	c.publish(ch, &out)
}

// step 本地递减，只处理非空且为正的游标
func (c *Countdown) step() {
	for i := range c.cursor {
		cur := c.cursor[i]
		if cur == nil || *cur <= 0 {
			continue
		}
		c.set(Channel(i), *cur-1)
	}
}
