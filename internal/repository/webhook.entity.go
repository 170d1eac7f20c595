package repository

import (
	"time"

	"github.com/nimasrn/whatsapp-simulator/internal/model"
)

type WebhookEntity struct {
	ID           string         `gorm:"primaryKey;column:id;type:uuid"`
	EventType    string         `gorm:"column:event_type;not null;index"`
	Payload      map[string]any `gorm:"column:payload;type:jsonb;serializer:json;not null"`
	Processed    bool           `gorm:"column:processed;not null;default:false;index"`
	ProcessedAt  *time.Time     `gorm:"column:processed_at"`
	ErrorMessage *string        `gorm:"column:error_message"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime;index"`
}

func (WebhookEntity) TableName() string {
	return "webhooks"
}

func toWebhookEntity(w *model.Webhook) *WebhookEntity {
	return &WebhookEntity{
		ID:           w.ID,
		EventType:    w.EventType,
		Payload:      w.Payload,
		Processed:    w.Processed,
		ProcessedAt:  w.ProcessedAt,
		ErrorMessage: w.ErrorMessage,
		CreatedAt:    w.CreatedAt,
	}
}

func toWebhookModel(e *WebhookEntity) *model.Webhook {
	return &model.Webhook{
		ID:           e.ID,
		EventType:    e.EventType,
		Payload:      e.Payload,
		Processed:    e.Processed,
		ProcessedAt:  e.ProcessedAt,
		ErrorMessage: e.ErrorMessage,
		CreatedAt:    e.CreatedAt,
	}
}

func toWebhookModels(entities []*WebhookEntity) []*model.Webhook {
	models := make([]*model.Webhook, len(entities))
	for i, e := range entities {
		models[i] = toWebhookModel(e)
	}
	return models
}
