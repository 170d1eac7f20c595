package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/whatsapp-simulator/internal/model"
	"github.com/nimasrn/whatsapp-simulator/internal/repository"
	"github.com/nimasrn/whatsapp-simulator/pkg/logger"
	"github.com/nimasrn/whatsapp-simulator/pkg/prom"
)

var (
	ErrProcessingInFlight = errors.New("webhook is being processed elsewhere")
)

const defaultUnprocessedLimit = 100

type WebhookRepository interface {
	Create(ctx context.Context, w *model.Webhook) (*model.Webhook, error)
	FindByID(ctx context.Context, id string) (*model.Webhook, error)
	ListUnprocessed(ctx context.Context, limit int) ([]*model.Webhook, error)
	ListByEventType(ctx context.Context, eventType string, limit int) ([]*model.Webhook, error)
	MarkProcessed(ctx context.Context, id string, result model.ProcessingResult) error
}

// TaskSubmitter hands a stored webhook to background processing.
type TaskSubmitter interface {
	Submit(ctx context.Context, webhookID string) error
}

// ClaimLocker grants one processor at a time the right to work on a record.
type ClaimLocker interface {
	Claim(ctx context.Context, key string) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// WebhookHandler does the domain work for one event type.
type WebhookHandler func(ctx context.Context, w *model.Webhook) error

type processOutcome int

const (
	outcomeSucceeded processOutcome = iota
	outcomeFailed
	outcomeSkipped
)

type WebhookService struct {
	webhookRepo WebhookRepository
	submitter   TaskSubmitter
	claims      ClaimLocker

	mu       sync.RWMutex
	handlers map[string]WebhookHandler
	fallback WebhookHandler
}

func NewWebhookService(webhookRepo WebhookRepository, submitter TaskSubmitter, claims ClaimLocker) *WebhookService {
	return &WebhookService{
		webhookRepo: webhookRepo,
		submitter:   submitter,
		claims:      claims,
		handlers:    make(map[string]WebhookHandler),
		fallback:    acceptAll,
	}
}

func acceptAll(context.Context, *model.Webhook) error {
	return nil
}

// RegisterHandler binds h to eventType. Unregistered types are accepted as-is.
func (s *WebhookService) RegisterHandler(eventType string, h WebhookHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[eventType] = h
}

func (s *WebhookService) handlerFor(eventType string) WebhookHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h, ok := s.handlers[eventType]; ok {
		return h
	}
	return s.fallback
}

// Receive stores the event and queues it. It does not wait for processing; a
// queueing failure leaves the record for the reprocess sweep.
func (s *WebhookService) Receive(ctx context.Context, req model.WebhookCreateRequest) (*model.Webhook, error) {
	created, err := s.webhookRepo.Create(ctx, &model.Webhook{
		EventType: req.EventType,
		Payload:   req.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("store webhook: %w", err)
	}
	prom.IncWebhookReceived()

	if s.submitter != nil {
		if err := s.submitter.Submit(ctx, created.ID); err != nil {
			logger.Error("failed to queue webhook", "webhook_id", created.ID, "event_type", created.EventType, "error", err)
		}
	}

	logger.Info("webhook received", "webhook_id", created.ID, "event_type", created.EventType)
	return created, nil
}

// Process runs the handler for one stored webhook and records the outcome.
// Handler failures are stored on the record and do not surface as errors.
func (s *WebhookService) Process(ctx context.Context, id string) error {
	_, err := s.process(ctx, id)
	return err
}

func (s *WebhookService) process(ctx context.Context, id string) (processOutcome, error) {
	if s.claims != nil {
		token, ok, err := s.claims.Claim(ctx, id)
		if err != nil {
			return outcomeFailed, fmt.Errorf("claim webhook %s: %w", id, err)
		}
		if !ok {
			return outcomeSkipped, ErrProcessingInFlight
		}
		defer func() {
			if err := s.claims.Release(context.WithoutCancel(ctx), id, token); err != nil {
				logger.Warn("failed to release webhook claim", "webhook_id", id, "error", err)
			}
		}()
	}

	w, err := s.webhookRepo.FindByID(ctx, id)
	if err != nil {
		return outcomeFailed, mapRepoError(err)
	}
	if w.Processed {
		return outcomeSkipped, nil
	}

	result := model.ProcessingResult{}
	handlerErr := s.runHandler(ctx, w)
	result.ProcessedAt = time.Now()
	if handlerErr != nil {
		msg := handlerErr.Error()
		result.ErrorMessage = &msg
	}

	if err := s.webhookRepo.MarkProcessed(ctx, id, result); err != nil {
		if errors.Is(err, repository.ErrAlreadyProcessed) {
			return outcomeSkipped, nil
		}
		return outcomeFailed, fmt.Errorf("mark webhook %s processed: %w", id, err)
	}

	prom.ObserveWebhookProcessDelay(result.ProcessedAt.Sub(w.CreatedAt).Seconds())
	if handlerErr != nil {
		prom.IncWebhookProcessed(w.EventType, prom.OutcomeFailure)
		logger.Warn("webhook processing failed", "webhook_id", id, "event_type", w.EventType, "error", handlerErr)
		return outcomeFailed, nil
	}

	prom.IncWebhookProcessed(w.EventType, prom.OutcomeSuccess)
	logger.Debug("webhook processed", "webhook_id", id, "event_type", w.EventType)
	return outcomeSucceeded, nil
}

func (s *WebhookService) runHandler(ctx context.Context, w *model.Webhook) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handlerFor(w.EventType)(ctx, w)
}

// ReprocessAllUnprocessed makes one attempt for every unprocessed webhook,
// oldest first. Records that fail are marked processed and are not revisited.
func (s *WebhookService) ReprocessAllUnprocessed(ctx context.Context) (model.ReprocessSummary, error) {
	var summary model.ReprocessSummary

	pending, err := s.webhookRepo.ListUnprocessed(ctx, 0)
	if err != nil {
		return summary, fmt.Errorf("list unprocessed webhooks: %w", err)
	}

	for _, w := range pending {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		summary.Attempted++
		outcome, err := s.process(ctx, w.ID)
		if err != nil && !errors.Is(err, ErrProcessingInFlight) {
			logger.Error("reprocess attempt failed", "webhook_id", w.ID, "error", err)
		}

		switch outcome {
		case outcomeSucceeded:
			summary.Succeeded++
		case outcomeSkipped:
			summary.Skipped++
		default:
			summary.Failed++
		}
	}

	logger.Info("webhook reprocess finished",
		"attempted", summary.Attempted,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
	)
	return summary, nil
}

func (s *WebhookService) GetWebhook(ctx context.Context, id string) (*model.Webhook, error) {
	w, err := s.webhookRepo.FindByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return w, nil
}

func (s *WebhookService) ListUnprocessed(ctx context.Context, limit int) ([]*model.Webhook, error) {
	if limit <= 0 {
		limit = defaultUnprocessedLimit
	}
	return s.webhookRepo.ListUnprocessed(ctx, limit)
}

func (s *WebhookService) ListByEventType(ctx context.Context, eventType string, limit int) ([]*model.Webhook, error) {
	return s.webhookRepo.ListByEventType(ctx, eventType, limit)
}
