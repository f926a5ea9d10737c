package dialogue

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/tabletop-client/internal/eventloop"
)

// manualRenderer 记录展示调用，由测试决定何时完成
type manualRenderer struct {
	started   []Item
	active    int
	maxActive int
	pending   []func()
	cancelled int
}

func (r *manualRenderer) Reveal(item Item, done func()) {
	r.started = append(r.started, item)
	r.active++
	if r.active > r.maxActive {
		r.maxActive = r.active
	}
	r.pending = append(r.pending, func() {
		r.active--
		done()
	})
}

func (r *manualRenderer) Cancel() {
	r.cancelled++
	r.active = 0
	r.pending = nil
}

func (r *manualRenderer) finishNext() {
	next := r.pending[0]
	r.pending = r.pending[1:]
	next()
}

func TestQueueRevealsInOrderOneAtATime(t *testing.T) {
	v := eventloop.NewVirtual()
	r := &manualRenderer{}
	q := NewQueue(v, r)

	for _, s := range []string{"a", "b", "c"} {
		q.Enqueue(Item{Speaker: "gm", Content: s})
	}
	require.Len(t, r.started, 1)
	assert.True(t, q.Busy())
	assert.Equal(t, 2, q.Len())

	for i := 0; i < 3; i++ {
		r.finishNext()
		v.Drain()
	}

	assert.Equal(t, []Item{
		{Speaker: "gm", Content: "a"},
		{Speaker: "gm", Content: "b"},
		{Speaker: "gm", Content: "c"},
	}, r.started)
	assert.Equal(t, 1, r.maxActive)
	assert.False(t, q.Busy())
	assert.Equal(t, 0, q.Len())
}

func TestQueueEnqueueWhileBusyDoesNotPreempt(t *testing.T) {
	v := eventloop.NewVirtual()
	r := &manualRenderer{}
	q := NewQueue(v, r)

	q.Enqueue(Item{Content: "first"})
	q.Enqueue(Item{Content: "second"})
	v.Drain()
	assert.Len(t, r.started, 1)
	assert.Equal(t, 1, r.maxActive)
}

func TestQueueDoubleDoneIsIgnored(t *testing.T) {
	v := eventloop.NewVirtual()
	var dones []func()
	var started int
	q := NewQueue(v, rendererFunc(func(item Item, done func()) {
		started++
		dones = append(dones, done)
	}))

	q.Enqueue(Item{Content: "a"})
	q.Enqueue(Item{Content: "b"})
	q.Enqueue(Item{Content: "c"})

	dones[0]()
	dones[0]()
	v.Drain()
	assert.Equal(t, 2, started)
}

func TestQueueClear(t *testing.T) {
	v := eventloop.NewVirtual()
	r := &manualRenderer{}
	q := NewQueue(v, r)

	q.Enqueue(Item{Content: "a"})
	q.Enqueue(Item{Content: "b"})
	stale := r.pending[0]

	q.Clear()
	assert.Equal(t, 1, r.cancelled)
	assert.False(t, q.Busy())
	assert.Equal(t, 0, q.Len())

	// 旧展示的完成回调不会影响新队列
	q.Enqueue(Item{Content: "c"})
	stale()
	v.Drain()
	assert.True(t, q.Busy())
	assert.Len(t, r.started, 2)
}

type rendererFunc func(item Item, done func())

func (fn rendererFunc) Reveal(item Item, done func()) { fn(item, done) }

func TestCleanText(t *testing.T) {
	cases := map[string]string{
		"3:05 PM Kim: hello there":   "hello there",
		"11:05:09 am Lee: 안녕하세요":     "안녕하세요",
		"12:30 Park: attack Y1":      "attack Y1",
		"no prefix here":             "no prefix here",
		"time 12:30 Park: unchanged": "time 12:30 Park: unchanged",
	}
	for in, want := range cases {
		assert.Equal(t, want, CleanText(in), in)
	}
}

func TestPaginate(t *testing.T) {
	assert.Nil(t, Paginate("   ", 10))
	assert.Equal(t, []string{"short"}, Paginate("short", 10))

	pages := Paginate("aaaa bbbb cccc dddd", 10)
	assert.Equal(t, []string{"aaaa bbbb", "cccc dddd"}, pages)

	long := strings.Repeat("가", 25)
	pages = Paginate(long, 10)
	require.Len(t, pages, 3)
	assert.Equal(t, 10, len([]rune(pages[0])))
	assert.Equal(t, 5, len([]rune(pages[2])))
}

type frameLog struct {
	frames []Frame
}

func (l *frameLog) Render(f Frame) { l.frames = append(l.frames, f) }

func (l *frameLog) last() Frame { return l.frames[len(l.frames)-1] }

func newTestTypewriter(pageRunes int) (*Typewriter, *eventloop.Virtual, *frameLog) {
	v := eventloop.NewVirtual()
	log := &frameLog{}
	tw := NewTypewriter(v, log, Options{
		TypeSpeed:     10 * time.Millisecond,
		AutoTurnDelay: 100 * time.Millisecond,
		PageRunes:     pageRunes,
	})
	return tw, v, log
}

func TestTypewriterTypesAndCompletes(t *testing.T) {
	tw, v, log := newTestTypewriter(10)
	done := 0
	tw.Reveal(Item{Speaker: "Kim", Content: "hello"}, func() { done++ })

	assert.Equal(t, Typing, tw.Phase())
	assert.Equal(t, "", log.last().Text)

	v.Advance(30 * time.Millisecond)
	assert.Equal(t, "hel", log.last().Text)

	v.Advance(20 * time.Millisecond)
	assert.Equal(t, AwaitingAdvance, tw.Phase())
	assert.Equal(t, "hello", log.last().Text)
	assert.Equal(t, "Kim", log.last().Speaker)
	assert.Equal(t, 0, done)

	v.Advance(100 * time.Millisecond)
	assert.Equal(t, Idle, tw.Phase())
	assert.Equal(t, 1, done)
	assert.Equal(t, 0, v.PendingTimers())
}

func TestTypewriterPagesAutoAdvance(t *testing.T) {
	tw, v, log := newTestTypewriter(5)
	done := 0
	tw.Reveal(Item{Content: "abcd efgh"}, func() { done++ })

	v.Advance(40 * time.Millisecond)
	assert.Equal(t, PageComplete, tw.Phase())
	assert.Equal(t, Frame{Text: "abcd", Page: 0, Pages: 2, Phase: PageComplete}, log.last())

	v.Advance(100 * time.Millisecond)
	assert.Equal(t, Typing, tw.Phase())
	assert.Equal(t, 1, log.last().Page)

	v.Advance(40 * time.Millisecond)
	assert.Equal(t, AwaitingAdvance, tw.Phase())
	assert.Equal(t, "efgh", log.last().Text)
	assert.Equal(t, 0, done)
}

func TestTypewriterClick(t *testing.T) {
	tw, v, log := newTestTypewriter(5)
	done := 0
	tw.Reveal(Item{Content: "abcd efgh"}, func() { done++ })

	// 打字中点击：立即显示整页
	tw.Click()
	assert.Equal(t, PageComplete, tw.Phase())
	assert.Equal(t, "abcd", log.last().Text)

	// 翻页
	tw.Click()
	assert.Equal(t, Typing, tw.Phase())
	assert.Equal(t, 1, log.last().Page)

	tw.Click()
	assert.Equal(t, AwaitingAdvance, tw.Phase())

	tw.Click()
	assert.Equal(t, Idle, tw.Phase())
	assert.Equal(t, 1, done)
	assert.Equal(t, 0, v.PendingTimers())

	// 空闲时点击无效果
	tw.Click()
	assert.Equal(t, 1, done)
}

func TestTypewriterEmptyContentCompletesImmediately(t *testing.T) {
	tw, _, log := newTestTypewriter(5)
	done := 0
	tw.Reveal(Item{Content: "12:30 Park:   "}, func() { done++ })
	assert.Equal(t, 1, done)
	assert.Equal(t, Idle, tw.Phase())
	assert.Empty(t, log.frames)
}

func TestTypewriterCancel(t *testing.T) {
	tw, v, _ := newTestTypewriter(5)
	done := 0
	tw.Reveal(Item{Content: "abcd"}, func() { done++ })
	tw.Cancel()
	v.Advance(time.Second)
	assert.Equal(t, Idle, tw.Phase())
	assert.Equal(t, 0, done)
	assert.Equal(t, 0, v.PendingTimers())
}

func TestQueueWithTypewriter(t *testing.T) {
	tw, v, log := newTestTypewriter(20)
	q := NewQueue(v, tw)

	q.Enqueue(Item{Speaker: "a", Content: "one"})
	q.Enqueue(Item{Speaker: "b", Content: "two"})

	v.Advance(time.Second)
	var speakers []string
	for _, f := range log.frames {
		if len(speakers) == 0 || speakers[len(speakers)-1] != f.Speaker {
			speakers = append(speakers, f.Speaker)
		}
	}
	assert.Equal(t, []string{"a", "b"}, speakers)
	assert.False(t, q.Busy())
}
