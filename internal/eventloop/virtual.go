package eventloop

import (
	"sort"
	"time"
)

// Virtual 手动推进时钟的调度器，测试中替代 Loop
type Virtual struct {
	now    time.Duration
	queue  []func()
	timers []*virtualTimer
	seq    uint64
}

type virtualTimer struct {
	due       time.Duration
	period    time.Duration
	seq       uint64
	task      func()
	cancelled bool
}

// NewVirtual 创建虚拟调度器
func NewVirtual() *Virtual {
	return &Virtual{}
}

// Now 返回虚拟时钟已流逝的时间
func (v *Virtual) Now() time.Duration {
	return v.now
}

// Post 追加任务，Drain 或 Advance 时执行
func (v *Virtual) Post(task func()) {
	v.queue = append(v.queue, task)
}

// After 延迟执行
func (v *Virtual) After(d time.Duration, task func()) Cancel {
	return v.add(d, 0, task)
}

// Every 周期执行
func (v *Virtual) Every(d time.Duration, task func()) Cancel {
	if d <= 0 {
		d = time.Nanosecond
	}
	return v.add(d, d, task)
}

func (v *Virtual) add(d, period time.Duration, task func()) Cancel {
	if d < 0 {
		d = 0
	}
	v.seq++
	t := &virtualTimer{due: v.now + d, period: period, seq: v.seq, task: task}
	v.timers = append(v.timers, t)
	return func() {
		t.cancelled = true
		v.remove(t)
	}
}

func (v *Virtual) remove(t *virtualTimer) {
	for i, other := range v.timers {
		if other == t {
			v.timers = append(v.timers[:i], v.timers[i+1:]...)
			return
		}
	}
}

// Drain 执行队列中的全部任务（包括执行过程中新投递的）
func (v *Virtual) Drain() {
	for len(v.queue) > 0 {
		task := v.queue[0]
		v.queue = v.queue[1:]
		task()
	}
}

// Advance 推进时钟，按到期顺序触发定时器
func (v *Virtual) Advance(d time.Duration) {
	target := v.now + d
	v.Drain()
	for {
		t := v.earliest()
		if t == nil || t.due > target {
			break
		}
		v.now = t.due
		if t.period > 0 {
			v.seq++
			t.due += t.period
			t.seq = v.seq
		} else {
			v.remove(t)
		}
		t.task()
		v.Drain()
	}
	v.now = target
}

func (v *Virtual) earliest() *virtualTimer {
	if len(v.timers) == 0 {
		return nil
	}
	sort.SliceStable(v.timers, func(i, j int) bool {
		if v.timers[i].due == v.timers[j].due {
			return v.timers[i].seq < v.timers[j].seq
		}
		return v.timers[i].due < v.timers[j].due
	})
	return v.timers[0]
}

// PendingTimers 返回尚未取消的定时器数量
func (v *Virtual) PendingTimers() int {
	return len(v.timers)
}

// PendingTasks 返回队列中待执行的任务数量
func (v *Virtual) PendingTasks() int {
	return len(v.queue)
}
