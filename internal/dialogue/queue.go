// Package dialogue 聊天展示队列与打字机式逐字显示。
package dialogue

import (
	"sync"

	"github.com/wfunc/tabletop-client/internal/eventloop"
	"github.com/wfunc/tabletop-client/internal/logger"
	"go.uber.org/zap"
)

// Item 一条待展示的对话
type Item struct {
	Speaker string
	Content string
}

// Renderer 逐条展示对话，展示结束后调用 done
type Renderer interface {
	Reveal(item Item, done func())
}

// Canceler 可被中断的渲染器
type Canceler interface {
	Cancel()
}

// Queue 单消费者FIFO，同一时间最多一个展示在进行
type Queue struct {
	sched    eventloop.Scheduler
	renderer Renderer
	items    []Item
	busy     bool
	epoch    uint64
	logger   *zap.Logger
}

// NewQueue 创建展示队列
func NewQueue(sched eventloop.Scheduler, renderer Renderer) *Queue {
	return &Queue{
		sched:    sched,
		renderer: renderer,
		logger:   logger.GetModuleLogger(logger.ModuleDialogue),
	}
}

// Enqueue 追加一条；空闲时立即开始展示，忙碌时只排队
func (q *Queue) Enqueue(item Item) {
	q.items = append(q.items, item)
	q.process()
}

// Len 等待中的条数（不含正在展示的）
func (q *Queue) Len() int {
	return len(q.items)
}

// Busy 是否有展示正在进行
func (q *Queue) Busy() bool {
	return q.busy
}

// Clear 清空队列并中断当前展示
func (q *Queue) Clear() {
	q.items = nil
	q.busy = false
	q.epoch++
	if c, ok := q.renderer.(Canceler); ok {
		c.Cancel()
	}
}

func (q *Queue) process() {
	if q.busy || len(q.items) == 0 || q.renderer == nil {
		return
	}

	item := q.items[0]
	q.items[0] = Item{}
	q.items = q.items[1:]
	q.busy = true

	epoch := q.epoch
	var once sync.Once
	q.renderer.Reveal(item, func() {
		once.Do(func() {
			// 完成回调可能来自渲染器内部，统一回到循环上处理
			q.sched.Post(func() { q.complete(epoch) })
		})
	})
}

func (q *Queue) complete(epoch uint64) {
	if epoch != q.epoch {
		q.logger.Debug("忽略已清空队列的完成回调")
		return
	}
	q.busy = false
	q.process()
}
