// Package app wires stores, services and transports into the running
// simulator. Binaries and end-to-end tests build it from the same Config.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/nimasrn/whatsapp-simulator/internal/config"
	"github.com/nimasrn/whatsapp-simulator/internal/dispatcher"
	"github.com/nimasrn/whatsapp-simulator/internal/handlers"
	"github.com/nimasrn/whatsapp-simulator/internal/lifecycle"
	"github.com/nimasrn/whatsapp-simulator/internal/model"
	"github.com/nimasrn/whatsapp-simulator/internal/processor"
	"github.com/nimasrn/whatsapp-simulator/internal/queue"
	"github.com/nimasrn/whatsapp-simulator/internal/repository"
	"github.com/nimasrn/whatsapp-simulator/internal/services"
	xhttp "github.com/nimasrn/whatsapp-simulator/pkg/http"
	"github.com/nimasrn/whatsapp-simulator/pkg/logger"
	"github.com/nimasrn/whatsapp-simulator/pkg/pg"
	"github.com/nimasrn/whatsapp-simulator/pkg/redis"
)

const (
	APIPrefix       = "/api/v1"
	recoveryTimeout = time.Minute
)

type App struct {
	cfg     *config.Config
	db      *pg.DB
	adapter redis.RedisAdapter

	Messages   *services.MessageService
	Simulation *services.SimulationService
	Webhooks   *services.WebhookService
	Dispatcher *dispatcher.Dispatcher
	Scheduler  *lifecycle.Scheduler
	Processor  *processor.Service

	done chan struct{}
}

func New(cfg *config.Config, db *pg.DB, adapter redis.RedisAdapter) (*App, error) {
	messageRepo := repository.NewMessageRepository(db)
	webhookRepo := repository.NewWebhookRepository(db)

	messages := services.NewMessageService(messageRepo)

	d := dispatcher.New(dispatcher.Config{
		URL:                cfg.SimulationClientWebhookURL,
		AppSecret:          cfg.SimulationAppSecret,
		WabaID:             cfg.SimulationWabaID,
		DisplayPhoneNumber: cfg.SimulationDisplayNumber,
		Timeout:            cfg.SimulationCallbackTimeout,
	}, messages)

	var opts []lifecycle.Option
	if cfg.SimulationPersistSchedule {
		opts = append(opts, lifecycle.WithJournal(lifecycle.NewRedisJournal(adapter, lifecycle.DefaultJournalKey)))
	}
	scheduler := lifecycle.NewScheduler(d, lifecycle.Config{
		SentDelay:    cfg.SimulationSentDelay,
		DeliveredMin: cfg.SimulationDeliveredMin,
		DeliveredMax: cfg.SimulationDeliveredMax,
		ReadMin:      cfg.SimulationReadMin,
		ReadMax:      cfg.SimulationReadMax,
	}, opts...)

	proc, err := processor.NewService(adapter, processor.Config{
		Queue: queue.QueueConfig{
			Name:              cfg.QueueName,
			ConsumerGroup:     cfg.QueueConsumerGroup,
			ConsumerName:      cfg.QueueConsumerName,
			MaxRetries:        cfg.QueueMaxRetries,
			VisibilityTimeout: cfg.QueueVisibilityTimeout,
			PollInterval:      cfg.QueuePollInterval,
			BatchSize:         cfg.QueueBatchSize,
			MaxLen:            cfg.QueueMaxLen,
			EnableDLQ:         cfg.QueueEnableDLQ,
		},
		Consumers:  cfg.QueueConsumers,
		Workers:    cfg.WorkerCount,
		BufferSize: cfg.WorkerBufferSize,
	})
	if err != nil {
		scheduler.Stop()
		return nil, fmt.Errorf("create processor: %w", err)
	}

	claims := processor.NewClaimService(adapter, processor.ClaimConfig{LockTTL: cfg.WebhookLockTTL})
	webhooks := services.NewWebhookService(webhookRepo, proc, claims)
	webhooks.RegisterHandler(model.WebhookObjectWABA, services.NewStatusCallbackHandler(messages))

	return &App{
		cfg:        cfg,
		db:         db,
		adapter:    adapter,
		Messages:   messages,
		Simulation: services.NewSimulationService(messageRepo, scheduler),
		Webhooks:   webhooks,
		Dispatcher: d,
		Scheduler:  scheduler,
		Processor:  proc,
		done:       make(chan struct{}),
	}, nil
}

// Routes registers the versioned API on r.
func (a *App) Routes(r *xhttp.Router) {
	g := r.Group(APIPrefix)
	handlers.RegisterMessageRoutes(g, handlers.NewMessageHandler(a.Messages))
	handlers.RegisterSimulationRoutes(g, handlers.NewSimulationHandler(a.Simulation))
	handlers.RegisterWebhookRoutes(g, handlers.NewWebhookHandler(a.Webhooks))
	handlers.RegisterHealthRoutes(g, handlers.NewHealthHandler(map[string]handlers.HealthCheck{
		"database": a.db.Ping,
		"redis":    a.adapter.Ping,
	}))
}

// Start brings up background work: journal recovery, the embedded queue
// consumers when enabled, and the startup reprocessing sweep.
func (a *App) Start(ctx context.Context) error {
	go a.drain()

	if !a.Dispatcher.Enabled() {
		logger.Warn("SIMULATION_CLIENT_WEBHOOK_URL is not set, status callbacks are disabled")
	}

	if a.cfg.SimulationPersistSchedule {
		rctx, cancel := context.WithTimeout(ctx, recoveryTimeout)
		n, err := a.Scheduler.Recover(rctx)
		cancel()
		if err != nil {
			logger.Error("failed to recover scheduled status events", "error", err)
		} else if n > 0 {
			logger.Info("recovered scheduled status events", "count", n)
		}
	} else {
		logger.Warn("schedule journal disabled, pending status events are lost on restart")
	}

	if a.cfg.WebhookEmbeddedWorkers {
		if err := a.StartWorkers(); err != nil {
			return err
		}
	}

	if a.cfg.WebhookReprocessOnStart {
		go a.reprocess(ctx)
	}
	return nil
}

// StartWorkers consumes the webhook task stream in this process.
func (a *App) StartWorkers() error {
	if err := a.Processor.Start(a.Webhooks); err != nil {
		return fmt.Errorf("start processor: %w", err)
	}
	return nil
}

func (a *App) reprocess(ctx context.Context) {
	rctx, cancel := context.WithTimeout(ctx, recoveryTimeout)
	defer cancel()

	summary, err := a.Webhooks.ReprocessAllUnprocessed(rctx)
	if err != nil {
		logger.Error("startup reprocessing failed", "error", err)
		return
	}
	logger.Info("startup reprocessing finished",
		"attempted", summary.Attempted,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
	)
}

// drain logs scheduler results and processor errors until Stop.
func (a *App) drain() {
	for {
		select {
		case r := <-a.Scheduler.Results():
			if r.Err != nil {
				logger.Warn("status callback failed", "wamid", r.Event.WAMID, "status", r.Event.Status, "error", r.Err)
			} else {
				logger.Debug("status callback delivered", "wamid", r.Event.WAMID, "status", r.Event.Status)
			}
		case err := <-a.Processor.Errors():
			logger.Warn("webhook processing error", "error", err)
		case <-a.done:
			return
		}
	}
}

// Stop halts timers and queue consumers. Stores are closed by the caller.
func (a *App) Stop() {
	a.Scheduler.Stop()
	a.Processor.Stop()
	close(a.done)
	stats := a.Dispatcher.Stats()
	logger.Info("simulator stopped", "callbacks_delivered", stats.Delivered, "callbacks_failed", stats.Failed)
}
