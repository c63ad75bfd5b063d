package workqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiowebux/surge/internal/types"
)

func TestQueue_PushPop(t *testing.T) {
	q := New()
	q.Push(types.Task{Endpoint: "/a"})
	q.Push(types.Task{Endpoint: "/b", Body: []byte("x")})
	assert.Equal(t, 2, q.Len())

	task, err := q.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "/a", task.Endpoint)
	assert.Equal(t, types.MethodGet, task.Method())

	task, err = q.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "/b", task.Endpoint)
	assert.Equal(t, types.MethodPost, task.Method())
	assert.Equal(t, 0, q.Len())
}

func TestQueue_PopTimesOutWhenEmpty(t *testing.T) {
	q := New()

	start := time.Now()
	_, err := q.Pop(context.Background(), 50*time.Millisecond)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrEmpty)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestQueue_PopHonoursContext(t *testing.T) {
	q := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Pop(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueue_PopWakesOnPush(t *testing.T) {
	q := New()

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push(types.Task{Endpoint: "/late"})
	}()

	task, err := q.Pop(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "/late", task.Endpoint)
}

func TestQueue_TerminationSignalsFollowTasks(t *testing.T) {
	q := New()
	q.Push(types.Task{Endpoint: "/1"})
	q.PushTerminationSignal(2)
	q.PushTerminationSignal(0)
	assert.Equal(t, 3, q.Len())

	_, err := q.Pop(context.Background(), time.Second)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = q.Pop(context.Background(), time.Second)
		assert.ErrorIs(t, err, ErrTerminated)
	}

	_, err = q.Pop(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestQueue_ConcurrentNoLossNoDuplicates(t *testing.T) {
	const (
		producers   = 8
		perProducer = 5000
		consumers   = 16
	)

	q := New()
	var (
		mu   sync.Mutex
		seen = make(map[string]int, producers*perProducer)
		wg   sync.WaitGroup
	)

	for c := 0; c < consumers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := q.Pop(context.Background(), time.Second)
				if errors.Is(err, ErrTerminated) {
					return
				}
				if errors.Is(err, ErrEmpty) {
					continue
				}
				mu.Lock()
				seen[task.Endpoint]++
				mu.Unlock()
			}
		}()
	}

	var pwg sync.WaitGroup
	for p := 0; p < producers; p++ {
		pwg.Add(1)
		go func(p int) {
			defer pwg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(types.Task{Endpoint: fmt.Sprintf("/%d/%d", p, i)})
			}
		}(p)
	}
	pwg.Wait()
	q.PushTerminationSignal(consumers)
	wg.Wait()

	require.Len(t, seen, producers*perProducer)
	for endpoint, n := range seen {
		if n != 1 {
			t.Fatalf("task %s delivered %d times", endpoint, n)
		}
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueue_Clear(t *testing.T) {
	q := New()
	for i := 0; i < 5; i++ {
		q.Push(types.Task{Endpoint: fmt.Sprintf("/%d", i)})
	}
	q.PushTerminationSignal(2)

	assert.Equal(t, 7, q.Clear())
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 0, q.Clear())

	_, err := q.Pop(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrEmpty)

	q.Push(types.Task{Endpoint: "/after"})
	task, err := q.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "/after", task.Endpoint)
}
