package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/whatsapp-simulator/internal/queue"
	"github.com/nimasrn/whatsapp-simulator/internal/services"
	"github.com/nimasrn/whatsapp-simulator/pkg/logger"
	"github.com/nimasrn/whatsapp-simulator/pkg/redis"
	"github.com/nimasrn/whatsapp-simulator/pkg/worker"
)

const (
	DefaultProcessingTimeout = time.Second * 5
	HealthInterval           = time.Second * 30
	ShutdownTimeout          = time.Minute
	errorBuffer              = 128
	highLagThreshold         = 10000
)

var ErrNotStarted = errors.New("processor is not running")

// WebhookProcessor does the work for one stored webhook.
type WebhookProcessor interface {
	Process(ctx context.Context, webhookID string) error
}

type Config struct {
	Queue             queue.QueueConfig
	Consumers         int
	Workers           int
	BufferSize        int
	ProcessingTimeout time.Duration
}

// Service moves webhook ids from the Redis stream into a worker pool. The API
// publishes through Submit; consumers run wherever Start is called.
type Service struct {
	adapter   redis.RedisAdapter
	cfg       Config
	publisher *queue.Queue
	queues    []*queue.Queue
	processor WebhookProcessor
	metrics   *ServiceMetrics
	worker    *worker.WorkerManager
	errs      chan error

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewService(adapter redis.RedisAdapter, cfg Config) (*Service, error) {
	if cfg.Consumers <= 0 {
		cfg.Consumers = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = DefaultProcessingTimeout
	}

	publisherCfg := cfg.Queue
	publisherCfg.ConsumerName = cfg.Queue.ConsumerName + "-publisher"
	publisher, err := queue.NewQueue(adapter, publisherCfg)
	if err != nil {
		return nil, fmt.Errorf("create publisher queue: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		adapter:   adapter,
		cfg:       cfg,
		publisher: publisher,
		metrics:   NewServiceMetrics(),
		errs:      make(chan error, errorBuffer),
		ctx:       ctx,
		cancel:    cancel,
		worker:    worker.NewWorkerManager(cfg.BufferSize, cfg.Workers, nil),
	}, nil
}

// task is the stream payload of one processing request.
type task struct {
	WebhookID string `json:"webhook_id"`
}

// Submit queues a stored webhook for processing.
func (s *Service) Submit(ctx context.Context, webhookID string) error {
	_, err := s.publisher.PublishJSON(ctx, task{WebhookID: webhookID}, map[string]string{"kind": "webhook"})
	return err
}

// Errors reports infrastructure failures seen while processing. Errors are
// dropped when the channel is full.
func (s *Service) Errors() <-chan error {
	return s.errs
}

func (s *Service) Metrics() *ServiceMetrics {
	return s.metrics
}

// Start runs the worker pool and the queue consumers until Stop.
func (s *Service) Start(p WebhookProcessor) error {
	logger.Info("Starting Processor Service...")
	s.processor = p

	s.worker.SetWorker(s.workerHandler)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.worker.Start(); err != nil {
			logger.Info("Worker manager stopped", "reason", err)
		}
	}()

	for i := 0; i < s.cfg.Consumers; i++ {
		queueConfig := s.cfg.Queue
		queueConfig.ConsumerName = fmt.Sprintf("%s-instance-%d", queueConfig.ConsumerName, i)

		q, err := queue.NewQueue(s.adapter, queueConfig)
		if err != nil {
			return fmt.Errorf("failed to create queue %d: %w", i, err)
		}

		if err := q.Consume(s.messageHandler); err != nil {
			return fmt.Errorf("failed to start consumer %d: %w", i, err)
		}

		s.queues = append(s.queues, q)
		logger.Debug("Started consumer instance", "instance", i)
	}

	s.wg.Add(2)
	go s.metricsReporter()
	go s.healthChecker()

	logger.Info("Processor Service started", "consumers", len(s.queues), "workers", s.cfg.Workers)
	return nil
}

func (s *Service) metricsReporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportMetrics()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) reportMetrics() {
	stats := s.metrics.Snapshot()
	logger.Info("processor metrics",
		"total_processed", stats.Processed,
		"total_failed", stats.Failed,
		"rate_per_second", stats.RatePerSecond,
		"avg_duration_ms", stats.AvgDuration.Milliseconds(),
		"uptime_seconds", stats.Uptime.Seconds(),
		"worker_backlog", s.worker.GetUnreadCount(),
	)
}

func (s *Service) healthChecker() {
	defer s.wg.Done()

	ticker := time.NewTicker(HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.performHealthCheck()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) performHealthCheck() {
	if err := s.adapter.Ping(s.ctx); err != nil {
		logger.Error("health check failed: redis connection error", "error", err)
		return
	}

	stats, err := s.publisher.GetStats(s.ctx)
	if err != nil {
		logger.Warn("health check: queue stats unavailable", "queue", s.publisher.Name(), "error", err)
		return
	}
	if stats.PendingMessages > highLagThreshold {
		logger.Warn("health check: queue has high lag", "queue", s.publisher.Name(), "pending_messages", stats.PendingMessages)
	}
}

// Stop drains consumers, then workers.
func (s *Service) Stop() {
	logger.Info("Shutting down Processor Service...")

	s.cancel()

	var wg sync.WaitGroup
	for i, q := range append([]*queue.Queue{s.publisher}, s.queues...) {
		wg.Add(1)
		go func(index int, q *queue.Queue) {
			defer wg.Done()
			if err := q.Stop(ShutdownTimeout); err != nil {
				logger.Error("Error stopping queue", "queue", index, "error", err)
			}
		}(i, q)
	}
	wg.Wait()

	s.worker.Exit()
	s.wg.Wait()

	s.reportMetrics()
	logger.Info("Processor Service stopped")
}

type job struct {
	webhookID  string
	resultChan chan error
	ctx        context.Context
}

// messageHandler hands one stream entry to the worker pool and waits for the
// outcome so the queue can ack or leave it pending.
func (s *Service) messageHandler(ctx context.Context, msg *queue.Message) error {
	var t task
	if err := json.Unmarshal(msg.Data, &t); err != nil {
		s.report(fmt.Errorf("malformed task %s: %w", msg.ID, err))
		return nil
	}
	if t.WebhookID == "" {
		s.report(fmt.Errorf("task %s has no webhook id", msg.ID))
		return nil
	}

	msgCtx, cancel := context.WithTimeout(ctx, s.cfg.ProcessingTimeout)
	defer cancel()

	j := &job{
		webhookID:  t.WebhookID,
		resultChan: make(chan error, 1),
		ctx:        msgCtx,
	}

	if !s.worker.Enqueue(j) {
		return ErrNotStarted
	}

	select {
	case err := <-j.resultChan:
		return err
	case <-msgCtx.Done():
		return fmt.Errorf("timeout waiting for worker to process webhook %s: %w", j.webhookID, msgCtx.Err())
	}
}

func (s *Service) workerHandler(workerIndex int, payload interface{}) {
	j, ok := payload.(*job)
	if !ok {
		logger.Error("Invalid job type in worker", "worker", workerIndex)
		return
	}

	if j.ctx.Err() != nil {
		logger.Warn("Job context cancelled before processing started", "worker", workerIndex, "webhook_id", j.webhookID)
		return
	}

	start := time.Now()
	err := s.processor.Process(j.ctx, j.webhookID)

	var result error
	switch {
	case err == nil:
		s.metrics.RecordSuccess(time.Since(start))
	case errors.Is(err, services.ErrProcessingInFlight):
		logger.Debug("webhook already being processed", "worker", workerIndex, "webhook_id", j.webhookID)
	case errors.Is(err, services.ErrNotFound):
		s.metrics.RecordFailure()
		s.report(fmt.Errorf("webhook %s: %w", j.webhookID, err))
	default:
		s.metrics.RecordFailure()
		s.report(fmt.Errorf("webhook %s: %w", j.webhookID, err))
		result = err
	}

	j.resultChan <- result
}

func (s *Service) report(err error) {
	logger.Error("Failed to process webhook", "error", err)
	select {
	case s.errs <- err:
	default:
	}
}
