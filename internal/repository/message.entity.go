package repository

import (
	"time"

	"github.com/nimasrn/whatsapp-simulator/internal/model"
)

type MessageEntity struct {
	ID                string         `gorm:"primaryKey;column:id;type:uuid"`
	FromNumber        string         `gorm:"column:from_number;not null;index"`
	ToNumber          string         `gorm:"column:to_number;not null;index"`
	MessageText       string         `gorm:"column:message_text;not null"`
	MessageType       string         `gorm:"column:message_type;not null;default:text"`
	Status            string         `gorm:"column:status;not null;default:pending;index"`
	WhatsAppMessageID *string        `gorm:"column:whatsapp_message_id;uniqueIndex"`
	Metadata          map[string]any `gorm:"column:metadata;type:jsonb;serializer:json"`
	CreatedAt         time.Time      `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt         time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (MessageEntity) TableName() string {
	return "messages"
}

func toMessageEntity(m *model.Message) *MessageEntity {
	if m == nil {
		return nil
	}
	return &MessageEntity{
		ID:                m.ID,
		FromNumber:        m.FromNumber,
		ToNumber:          m.ToNumber,
		MessageText:       m.MessageText,
		MessageType:       m.MessageType,
		Status:            string(m.Status),
		WhatsAppMessageID: m.WhatsAppMessageID,
		Metadata:          m.Metadata,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func toMessageModel(e *MessageEntity) *model.Message {
	if e == nil {
		return nil
	}
	return &model.Message{
		ID:                e.ID,
		FromNumber:        e.FromNumber,
		ToNumber:          e.ToNumber,
		MessageText:       e.MessageText,
		MessageType:       e.MessageType,
		Status:            model.MessageStatus(e.Status),
		WhatsAppMessageID: e.WhatsAppMessageID,
		Metadata:          e.Metadata,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}

func toMessageModels(entities []*MessageEntity) []*model.Message {
	models := make([]*model.Message, len(entities))
	for i, e := range entities {
		models[i] = toMessageModel(e)
	}
	return models
}
