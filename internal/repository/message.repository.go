package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nimasrn/whatsapp-simulator/internal/model"
	"github.com/nimasrn/whatsapp-simulator/pkg/pg"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
)

const (
	defaultListLimit  = 100
	defaultPhoneLimit = 50
	maxListLimit      = 1000
)

type MessageRepository struct {
	*pg.DB
}

func NewMessageRepository(db *pg.DB) *MessageRepository {
	return &MessageRepository{
		db,
	}
}

func (r *MessageRepository) Create(ctx context.Context, msg *model.Message) (*model.Message, error) {
	entity := toMessageEntity(msg)
	if entity.ID == "" {
		entity.ID = uuid.NewString()
	}
	if entity.Status == "" {
		entity.Status = string(model.MessageStatusPending)
	}
	if entity.MessageType == "" {
		entity.MessageType = model.MessageTypeText
	}

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	return toMessageModel(entity), nil
}

func (r *MessageRepository) FindByID(ctx context.Context, id string) (*model.Message, error) {
	return r.findOne(ctx, "id = ?", id)
}

// FindByProviderID looks a message up by its provider message id.
func (r *MessageRepository) FindByProviderID(ctx context.Context, providerID string) (*model.Message, error) {
	return r.findOne(ctx, "whatsapp_message_id = ?", providerID)
}

func (r *MessageRepository) findOne(ctx context.Context, query string, arg any) (*model.Message, error) {
	var entity MessageEntity
	err := r.Read(ctx).Where(query, arg).Take(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toMessageModel(&entity), nil
}

// List returns a page ordered newest first plus the total number of messages.
func (r *MessageRepository) List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error) {
	q := r.Read(ctx).Model(&MessageEntity{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entities []*MessageEntity
	if err := q.Order("created_at DESC").Limit(clampLimit(f.Limit, defaultListLimit)).Offset(max(f.Offset, 0)).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toMessageModels(entities), total, nil
}

// ListByPhone returns messages where phone is the sender or the recipient.
func (r *MessageRepository) ListByPhone(ctx context.Context, phone string, limit int) ([]*model.Message, error) {
	var entities []*MessageEntity
	err := r.Read(ctx).
		Where("from_number = ? OR to_number = ?", phone, phone).
		Order("created_at DESC").
		Limit(clampLimit(limit, defaultPhoneLimit)).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toMessageModels(entities), nil
}

// UpdateIfStatus applies changes only while the row still has status expected.
// It reports false when another writer moved the status first.
func (r *MessageRepository) UpdateIfStatus(ctx context.Context, id string, expected model.MessageStatus, changes model.MessageUpdateRequest) (bool, error) {
	values := map[string]any{}
	if changes.Status != nil {
		values["status"] = string(*changes.Status)
	}
	if changes.WhatsAppMessageID != nil {
		values["whatsapp_message_id"] = *changes.WhatsAppMessageID
	}
	if changes.Metadata != nil {
		// map updates bypass the field serializer
		raw, err := json.Marshal(changes.Metadata)
		if err != nil {
			return false, fmt.Errorf("encode metadata: %w", err)
		}
		values["metadata"] = string(raw)
	}
	if len(values) == 0 {
		return true, nil
	}

	res := r.Write(ctx).Model(&MessageEntity{}).
		Where("id = ? AND status = ?", id, string(expected)).
		Updates(values)
	if res.Error != nil {
		return false, fmt.Errorf("update message %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *MessageRepository) Delete(ctx context.Context, id string) error {
	res := r.Write(ctx).Where("id = ?", id).Delete(&MessageEntity{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
