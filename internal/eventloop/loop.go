// Package eventloop 提供单线程任务循环：socket回调、定时器回调和用户操作都在同一个goroutine上串行执行。
package eventloop

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wfunc/tabletop-client/internal/logger"
	"go.uber.org/zap"
)

// Cancel 取消定时任务；在循环内调用后任务保证不会再执行
type Cancel func()

// Scheduler 任务调度接口
type Scheduler interface {
	// Post 将任务追加到循环队列末尾
	Post(task func())
	// After 延迟d后在循环上执行一次
	After(d time.Duration, task func()) Cancel
	// Every 每隔d在循环上执行一次，直到被取消
	Every(d time.Duration, task func()) Cancel
}

// Loop 基于goroutine的真实事件循环
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool

	logger *zap.Logger
}

// New 创建事件循环，capacity 为初始队列容量
func New(capacity int) *Loop {
	if capacity <= 0 {
		capacity = 64
	}
	return &Loop{
		queue:  make([]func(), 0, capacity),
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger.GetLogger().Named("eventloop"),
	}
}

// Start 在后台启动循环
func (l *Loop) Start(ctx context.Context) {
	if !l.started.CompareAndSwap(false, true) {
		return
	}
	go l.run(ctx)
}

// Run 在当前goroutine运行循环，直到ctx结束或Stop
func (l *Loop) Run(ctx context.Context) {
	if !l.started.CompareAndSwap(false, true) {
		return
	}
	l.run(ctx)
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	for {
		for {
			task, ok := l.next()
			if !ok {
				break
			}
			l.execute(task)
		}

		select {
		case <-ctx.Done():
			l.shutdown()
			return
		case <-l.quit:
			return
		case <-l.wake:
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task, true
}

func (l *Loop) execute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, debug.Stack())
		}
	}()
	task()
}

func (l *Loop) markStopped() {
	l.mu.Lock()
	l.stopped = true
	l.queue = nil
	l.mu.Unlock()
}

func (l *Loop) shutdown() {
	l.stopOnce.Do(func() {
		l.markStopped()
		close(l.quit)
	})
}

// Stop 停止循环，未执行的任务被丢弃
func (l *Loop) Stop() {
	l.shutdown()
	if l.started.Load() {
		<-l.done
	}
}

// Post 追加任务
func (l *Loop) Post(task func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		l.logger.Debug("循环已停止，丢弃任务")
		return
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Call 在循环上执行fn并等待完成（循环外部调用）
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	l.Post(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return context.Canceled
	}
}

// After 延迟执行
func (l *Loop) After(d time.Duration, task func()) Cancel {
	var cancelled atomic.Bool
	timer := time.AfterFunc(d, func() {
		l.Post(func() {
			if !cancelled.Load() {
				task()
			}
		})
	})
	return func() {
		cancelled.Store(true)
		timer.Stop()
	}
}

// Every 周期执行
func (l *Loop) Every(d time.Duration, task func()) Cancel {
	var cancelled atomic.Bool
	stop := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Post(func() {
					if !cancelled.Load() {
						task()
					}
				})
			case <-stop:
				return
			case <-l.quit:
				return
			}
		}
	}()

	return func() {
		cancelled.Store(true)
		once.Do(func() { close(stop) })
	}
}
