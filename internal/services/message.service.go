package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimasrn/whatsapp-simulator/internal/model"
	"github.com/nimasrn/whatsapp-simulator/internal/repository"
)

var (
	ErrNotFound         = errors.New("error notfound")
	ErrConcurrentUpdate = errors.New("message was modified concurrently, retry later")
)

const maxOptimisticRetries = 5

type MessageRepository interface {
	Create(ctx context.Context, m *model.Message) (*model.Message, error)
	FindByID(ctx context.Context, id string) (*model.Message, error)
	FindByProviderID(ctx context.Context, providerID string) (*model.Message, error)
	List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error) // results, totalCount
	ListByPhone(ctx context.Context, phone string, limit int) ([]*model.Message, error)
	UpdateIfStatus(ctx context.Context, id string, expected model.MessageStatus, changes model.MessageUpdateRequest) (bool, error)
	Delete(ctx context.Context, id string) error
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type MessageService struct {
	messageRepo MessageRepository
}

func NewMessageService(messageRepo MessageRepository) *MessageService {
	return &MessageService{
		messageRepo: messageRepo,
	}
}

// Create stores a message. Input is expected to be validated by the caller.
func (s *MessageService) Create(ctx context.Context, p model.MessageCreateRequest) (*model.Message, error) {
	m := &model.Message{
		FromNumber:  p.FromNumber,
		ToNumber:    p.ToNumber,
		MessageText: p.MessageText,
		MessageType: p.MessageType,
		Status:      model.MessageStatusPending,
		Metadata:    p.Metadata,
	}

	created, err := s.messageRepo.Create(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return created, nil
}

func (s *MessageService) Get(ctx context.Context, id string) (*model.Message, error) {
	m, err := s.messageRepo.FindByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return m, nil
}

func (s *MessageService) List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error) {
	return s.messageRepo.List(ctx, f)
}

func (s *MessageService) ListByPhone(ctx context.Context, phone string, limit int) ([]*model.Message, error) {
	return s.messageRepo.ListByPhone(ctx, phone, limit)
}

func (s *MessageService) Delete(ctx context.Context, id string) error {
	return mapRepoError(s.messageRepo.Delete(ctx, id))
}

// Update applies a partial update. Status moves are checked against the
// lifecycle order and a provider id, once set, never changes.
func (s *MessageService) Update(ctx context.Context, id string, req model.MessageUpdateRequest) (*model.Message, error) {
	return s.apply(ctx, func(ctx context.Context) (*model.Message, error) {
		return s.messageRepo.FindByID(ctx, id)
	}, req)
}

// AdvanceStatus moves the message carrying providerID to status. Repeating the
// current status is a no-op.
func (s *MessageService) AdvanceStatus(ctx context.Context, providerID string, status model.MessageStatus) error {
	_, err := s.apply(ctx, func(ctx context.Context) (*model.Message, error) {
		return s.messageRepo.FindByProviderID(ctx, providerID)
	}, model.MessageUpdateRequest{Status: &status})
	return err
}

// apply reads the current row and writes the diff conditioned on the status it
// read. A lost race re-reads and re-checks the transition.
func (s *MessageService) apply(ctx context.Context, load func(ctx context.Context) (*model.Message, error), req model.MessageUpdateRequest) (*model.Message, error) {
	for attempt := 0; attempt < maxOptimisticRetries; attempt++ {
		current, err := load(ctx)
		if err != nil {
			return nil, mapRepoError(err)
		}

		changes, err := diff(current, req)
		if err != nil {
			return nil, err
		}
		if changes.Empty() {
			return current, nil
		}

		ok, err := s.messageRepo.UpdateIfStatus(ctx, current.ID, current.Status, changes)
		if err != nil {
			return nil, err
		}
		if ok {
			return s.Get(ctx, current.ID)
		}
	}
	return nil, ErrConcurrentUpdate
}

func diff(current *model.Message, req model.MessageUpdateRequest) (model.MessageUpdateRequest, error) {
	var changes model.MessageUpdateRequest

	if req.Status != nil {
		if err := current.Status.CanTransition(*req.Status); err != nil {
			return changes, fmt.Errorf("%s -> %s: %w", current.Status, *req.Status, err)
		}
		if *req.Status != current.Status {
			changes.Status = req.Status
		}
	}

	if req.WhatsAppMessageID != nil {
		switch {
		case current.WhatsAppMessageID == nil:
			changes.WhatsAppMessageID = req.WhatsAppMessageID
		case *current.WhatsAppMessageID != *req.WhatsAppMessageID:
			return changes, model.ErrProviderIDImmutable
		}
	}

	changes.Metadata = req.Metadata
	return changes, nil
}

func mapRepoError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
