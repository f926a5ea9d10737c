package eventloop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopRunsTasksInOrder(t *testing.T) {
	l := New(8)
	l.Start(context.Background())
	defer l.Stop()

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Call(ctx, func() {}))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestLoopRecoversPanic(t *testing.T) {
	l := New(0)
	l.Start(context.Background())
	defer l.Stop()

	l.Post(func() { panic("boom") })

	ran := false
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Call(ctx, func() { ran = true }))
	assert.True(t, ran)
}

func TestLoopAfterAndCancel(t *testing.T) {
	l := New(0)
	l.Start(context.Background())
	defer l.Stop()

	fired := make(chan struct{}, 1)
	l.After(10*time.Millisecond, func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("After 未触发")
	}

	var cancelledRan atomic.Bool
	cancel := l.After(20*time.Millisecond, func() { cancelledRan.Store(true) })
	cancel()
	time.Sleep(50 * time.Millisecond)
	assert.False(t, cancelledRan.Load())
}

func TestLoopEvery(t *testing.T) {
	l := New(0)
	l.Start(context.Background())
	defer l.Stop()

	var count atomic.Int32
	cancel := l.Every(5*time.Millisecond, func() { count.Add(1) })

	require.Eventually(t, func() bool { return count.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	// 取消后计数不再增长
	ctx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	require.NoError(t, l.Call(ctx, func() {}))
	snapshot := count.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, snapshot, count.Load())
}

func TestLoopStopDropsPosts(t *testing.T) {
	l := New(0)
	l.Start(context.Background())
	l.Stop()

	ran := false
	l.Post(func() { ran = true })
	time.Sleep(10 * time.Millisecond)
	assert.False(t, ran)
}

func TestVirtualAdvance(t *testing.T) {
	v := NewVirtual()

	var log []string
	v.After(500*time.Millisecond, func() { log = append(log, "after") })
	cancel := v.Every(time.Second, func() { log = append(log, "tick") })
	v.Post(func() { log = append(log, "post") })

	v.Advance(400 * time.Millisecond)
	assert.Equal(t, []string{"post"}, log)

	v.Advance(100 * time.Millisecond)
	assert.Equal(t, []string{"post", "after"}, log)

	v.Advance(2 * time.Second)
	assert.Equal(t, []string{"post", "after", "tick", "tick"}, log)
	assert.Equal(t, 2500*time.Millisecond, v.Now())

	cancel()
	v.Advance(5 * time.Second)
	assert.Len(t, log, 4)
	assert.Equal(t, 0, v.PendingTimers())
}

func TestVirtualCancelInsideTask(t *testing.T) {
	v := NewVirtual()

	ran := false
	var cancel Cancel
	v.After(time.Second, func() { cancel() })
	cancel = v.After(time.Second, func() { ran = true })

	v.Advance(time.Second)
	assert.False(t, ran)
}
