package worker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerManager_ProcessesJobs(t *testing.T) {
	w := NewWorkerManager(10, 3, nil)

	var processed atomic.Int64
	var wg sync.WaitGroup
	wg.Add(5)
	w.SetWorker(func(_ int, job interface{}) {
		defer wg.Done()
		processed.Add(int64(job.(int)))
	})

	done := make(chan error, 1)
	go func() { done <- w.Start() }()

	for i := 1; i <= 5; i++ {
		require.True(t, w.Enqueue(i))
	}
	wg.Wait()
	assert.Equal(t, int64(15), processed.Load())

	w.Exit()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrWorkersTerminated)
	case <-time.After(time.Second):
		t.Fatal("workers did not stop")
	}
}

func TestWorkerManager_PanicDoesNotKillWorker(t *testing.T) {
	w := NewWorkerManager(4, 1, nil)

	seen := make(chan int, 2)
	w.SetWorker(func(_ int, job interface{}) {
		if job.(int) == 0 {
			panic("boom")
		}
		seen <- job.(int)
	})
	go func() { _ = w.Start() }()
	defer w.Exit()

	w.Enqueue(0)
	w.Enqueue(7)

	select {
	case v := <-seen:
		assert.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("worker did not survive panic")
	}
}

func TestWorkerManager_EnqueueAfterExit(t *testing.T) {
	w := NewWorkerManager(1, 1, nil)
	w.Exit()
	w.Exit()
	assert.False(t, w.Enqueue("late"))
}
