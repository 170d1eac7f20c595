package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nimasrn/whatsapp-simulator/internal/queue"
	"github.com/nimasrn/whatsapp-simulator/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	mu    sync.Mutex
	seen  map[string]int
	errOf map[string]error
	done  chan string
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{seen: map[string]int{}, errOf: map[string]error{}, done: make(chan string, 16)}
}

func (f *fakeProcessor) Process(_ context.Context, id string) error {
	f.mu.Lock()
	f.seen[id]++
	err := f.errOf[id]
	f.mu.Unlock()
	f.done <- id
	return err
}

func (f *fakeProcessor) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[id]
}

func testServiceConfig(name string) Config {
	return Config{
		Queue: queue.QueueConfig{
			Name:              name,
			ConsumerGroup:     "processors",
			ConsumerName:      "test",
			MaxRetries:        2,
			VisibilityTimeout: 100 * time.Millisecond,
			PollInterval:      50 * time.Millisecond,
			BatchSize:         10,
			EnableDLQ:         true,
		},
		Consumers:  2,
		Workers:    4,
		BufferSize: 16,
	}
}

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-timeout:
			t.Fatalf("%s was not processed", want)
		}
	}
}

func TestService_SubmitAndProcess(t *testing.T) {
	_, adapter := setupTestRedis(t)
	service, err := NewService(adapter, testServiceConfig("webhooks"))
	require.NoError(t, err)

	proc := newFakeProcessor()
	require.NoError(t, service.Start(proc))
	defer service.Stop()

	ctx := context.Background()
	require.NoError(t, service.Submit(ctx, "wh-1"))
	waitFor(t, proc.done, "wh-1")

	require.Eventually(t, func() bool {
		return service.Metrics().Snapshot().Processed == 1
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, proc.count("wh-1"))
}

func TestService_InfrastructureErrorIsReportedAndRetried(t *testing.T) {
	_, adapter := setupTestRedis(t)
	service, err := NewService(adapter, testServiceConfig("webhooks"))
	require.NoError(t, err)

	proc := newFakeProcessor()
	proc.errOf["wh-err"] = assert.AnError
	require.NoError(t, service.Start(proc))
	defer service.Stop()

	require.NoError(t, service.Submit(context.Background(), "wh-err"))

	select {
	case err := <-service.Errors():
		assert.ErrorIs(t, err, assert.AnError)
	case <-time.After(3 * time.Second):
		t.Fatal("error was not reported")
	}

	ctx := context.Background()
	dlq := testServiceConfig("webhooks").Queue.Name + ":dlq"
	require.Eventually(t, func() bool {
		n, err := adapter.XLen(ctx, dlq)
		return err == nil && n == 1
	}, 3*time.Second, 20*time.Millisecond, "dead-lettered after the retry limit")

	time.Sleep(300 * time.Millisecond)
	n, err := adapter.XLen(ctx, dlq)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 2, proc.count("wh-err"), "redelivered up to the retry limit")
}

func TestService_PermanentErrorsAreAcked(t *testing.T) {
	_, adapter := setupTestRedis(t)
	service, err := NewService(adapter, testServiceConfig("webhooks"))
	require.NoError(t, err)

	proc := newFakeProcessor()
	proc.errOf["wh-missing"] = services.ErrNotFound
	proc.errOf["wh-busy"] = services.ErrProcessingInFlight
	require.NoError(t, service.Start(proc))
	defer service.Stop()

	ctx := context.Background()
	require.NoError(t, service.Submit(ctx, "wh-missing"))
	require.NoError(t, service.Submit(ctx, "wh-busy"))
	waitFor(t, proc.done, "wh-busy")

	select {
	case err := <-service.Errors():
		assert.ErrorIs(t, err, services.ErrNotFound)
	case <-time.After(3 * time.Second):
		t.Fatal("missing record was not reported")
	}

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, 1, proc.count("wh-missing"))
	assert.Equal(t, 1, proc.count("wh-busy"))
}

func TestService_MalformedTaskIsReportedAndAcked(t *testing.T) {
	_, adapter := setupTestRedis(t)
	cfg := testServiceConfig("webhooks")
	service, err := NewService(adapter, cfg)
	require.NoError(t, err)

	proc := newFakeProcessor()
	require.NoError(t, service.Start(proc))
	defer service.Stop()

	raw, err := queue.NewQueue(adapter, cfg.Queue)
	require.NoError(t, err)
	defer raw.Stop(time.Second)

	ctx := context.Background()
	_, err = raw.Publish(ctx, []byte("wh-plain-id"), nil)
	require.NoError(t, err)

	select {
	case err := <-service.Errors():
		assert.Contains(t, err.Error(), "malformed task")
	case <-time.After(3 * time.Second):
		t.Fatal("malformed task was not reported")
	}

	require.Eventually(t, func() bool {
		stats, err := raw.GetStats(ctx)
		return err == nil && stats.PendingMessages == 0
	}, 2*time.Second, 20*time.Millisecond)
	assert.Zero(t, proc.count("wh-plain-id"))
}

func TestServiceMetrics(t *testing.T) {
	m := NewServiceMetrics()
	m.RecordSuccess(10 * time.Millisecond)
	m.RecordSuccess(30 * time.Millisecond)
	m.RecordFailure()

	s := m.Snapshot()
	assert.Equal(t, int64(2), s.Processed)
	assert.Equal(t, int64(1), s.Failed)
	assert.Equal(t, 20*time.Millisecond, s.AvgDuration)

	m.Reset()
	assert.Zero(t, m.Snapshot().Processed)
}
