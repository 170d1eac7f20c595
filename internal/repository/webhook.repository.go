package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nimasrn/whatsapp-simulator/internal/model"
	"github.com/nimasrn/whatsapp-simulator/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrAlreadyProcessed = errors.New("webhook already processed")
)

type WebhookRepository struct {
	*pg.DB
}

func NewWebhookRepository(db *pg.DB) *WebhookRepository {
	return &WebhookRepository{
		db,
	}
}

// Create stores a new, unprocessed webhook.
func (r *WebhookRepository) Create(ctx context.Context, w *model.Webhook) (*model.Webhook, error) {
	entity := toWebhookEntity(w)
	if entity.ID == "" {
		entity.ID = uuid.NewString()
	}
	if entity.Payload == nil {
		entity.Payload = map[string]any{}
	}
	entity.Processed = false
	entity.ProcessedAt = nil
	entity.ErrorMessage = nil

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, fmt.Errorf("create webhook: %w", err)
	}
	return toWebhookModel(entity), nil
}

func (r *WebhookRepository) FindByID(ctx context.Context, id string) (*model.Webhook, error) {
	var entity WebhookEntity
	err := r.Read(ctx).Where("id = ?", id).Take(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toWebhookModel(&entity), nil
}

// ListUnprocessed returns unprocessed webhooks oldest first. A limit of zero
// or less returns all of them.
func (r *WebhookRepository) ListUnprocessed(ctx context.Context, limit int) ([]*model.Webhook, error) {
	q := r.Read(ctx).Where("processed = ?", false).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var entities []*WebhookEntity
	if err := q.Find(&entities).Error; err != nil {
		return nil, err
	}
	return toWebhookModels(entities), nil
}

func (r *WebhookRepository) ListByEventType(ctx context.Context, eventType string, limit int) ([]*model.Webhook, error) {
	var entities []*WebhookEntity
	err := r.Read(ctx).
		Where("event_type = ?", eventType).
		Order("created_at DESC").
		Limit(clampLimit(limit, defaultListLimit)).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toWebhookModels(entities), nil
}

// MarkProcessed flips processed to true together with the attempt outcome.
// The update is conditional, so a second call returns ErrAlreadyProcessed and
// leaves the first outcome untouched.
func (r *WebhookRepository) MarkProcessed(ctx context.Context, id string, result model.ProcessingResult) error {
	res := r.Write(ctx).Model(&WebhookEntity{}).
		Where("id = ? AND processed = ?", id, false).
		Updates(map[string]any{
			"processed":     true,
			"processed_at":  result.ProcessedAt,
			"error_message": result.ErrorMessage,
		})
	if res.Error != nil {
		return fmt.Errorf("mark webhook %s processed: %w", id, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	if _, err := r.FindByID(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyProcessed
}
