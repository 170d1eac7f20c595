package services

import (
	"context"
	"sync"
	"testing"

	"github.com/nimasrn/whatsapp-simulator/internal/model"
	"github.com/nimasrn/whatsapp-simulator/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Create(ctx context.Context, msg *model.Message) (*model.Message, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *MockMessageRepository) FindByID(ctx context.Context, id string) (*model.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *MockMessageRepository) FindByProviderID(ctx context.Context, providerID string) (*model.Message, error) {
	args := m.Called(ctx, providerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *MockMessageRepository) List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Message), args.Get(1).(int64), args.Error(2)
}

func (m *MockMessageRepository) ListByPhone(ctx context.Context, phone string, limit int) ([]*model.Message, error) {
	args := m.Called(ctx, phone, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Message), args.Error(1)
}

func (m *MockMessageRepository) UpdateIfStatus(ctx context.Context, id string, expected model.MessageStatus, changes model.MessageUpdateRequest) (bool, error) {
	args := m.Called(ctx, id, expected, changes)
	return args.Bool(0), args.Error(1)
}

func (m *MockMessageRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockMessageRepository) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	args := m.Called(ctx, fn)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	return fn(ctx)
}

func newSQLMessageService(t *testing.T) (*MessageService, *repository.MessageRepository) {
	repo := repository.NewMessageRepository(repository.OpenTestDB(t))
	return NewMessageService(repo), repo
}

func statusPtr(s model.MessageStatus) *model.MessageStatus {
	return &s
}

func strPtr(s string) *string {
	return &s
}

func TestMessageService_Create(t *testing.T) {
	service, _ := newSQLMessageService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, model.MessageCreateRequest{
		FromNumber:  "+1234567890",
		ToNumber:    "+1987654321",
		MessageText: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusPending, created.Status)
	assert.Equal(t, model.MessageTypeText, created.MessageType)

	found, err := service.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", found.MessageText)
}

func TestMessageService_Create_RepositoryError(t *testing.T) {
	repo := new(MockMessageRepository)
	service := NewMessageService(repo)
	ctx := context.Background()

	repo.On("Create", ctx, mock.AnythingOfType("*model.Message")).Return(nil, assert.AnError)

	result, err := service.Create(ctx, model.MessageCreateRequest{FromNumber: "+1", ToNumber: "+2", MessageText: "x"})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Nil(t, result)
	repo.AssertExpectations(t)
}

func TestMessageService_NotFound(t *testing.T) {
	service, _ := newSQLMessageService(t)
	ctx := context.Background()
	missing := "00000000-0000-0000-0000-000000000000"

	_, err := service.Get(ctx, missing)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = service.Update(ctx, missing, model.MessageUpdateRequest{Status: statusPtr(model.MessageStatusSent)})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, service.Delete(ctx, missing), ErrNotFound)
	assert.ErrorIs(t, service.AdvanceStatus(ctx, "wamid.unknown", model.MessageStatusSent), ErrNotFound)
}

func TestMessageService_Update_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		from    model.MessageStatus
		to      model.MessageStatus
		wantErr error
	}{
		{"pending to sent", model.MessageStatusPending, model.MessageStatusSent, nil},
		{"pending to read skips ahead", model.MessageStatusPending, model.MessageStatusRead, nil},
		{"sent to failed", model.MessageStatusSent, model.MessageStatusFailed, nil},
		{"same status is a no-op", model.MessageStatusDelivered, model.MessageStatusDelivered, nil},
		{"backward move", model.MessageStatusRead, model.MessageStatusSent, model.ErrInvalidTransition},
		{"read cannot fail", model.MessageStatusRead, model.MessageStatusFailed, model.ErrInvalidTransition},
		{"failed is terminal", model.MessageStatusFailed, model.MessageStatusSent, model.ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, repo := newSQLMessageService(t)
			ctx := context.Background()

			created, err := repo.Create(ctx, &model.Message{FromNumber: "+1", ToNumber: "+2", MessageText: "x", Status: tt.from})
			require.NoError(t, err)

			updated, err := service.Update(ctx, created.ID, model.MessageUpdateRequest{Status: statusPtr(tt.to)})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				found, err := service.Get(ctx, created.ID)
				require.NoError(t, err)
				assert.Equal(t, tt.from, found.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, updated.Status)
		})
	}
}

func TestMessageService_Update_ProviderID(t *testing.T) {
	service, repo := newSQLMessageService(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, &model.Message{FromNumber: "+1", ToNumber: "+2", MessageText: "x"})
	require.NoError(t, err)

	updated, err := service.Update(ctx, created.ID, model.MessageUpdateRequest{WhatsAppMessageID: strPtr("wamid.HBgLONE")})
	require.NoError(t, err)
	require.NotNil(t, updated.WhatsAppMessageID)
	assert.Equal(t, "wamid.HBgLONE", *updated.WhatsAppMessageID)

	t.Run("same id is a no-op", func(t *testing.T) {
		_, err := service.Update(ctx, created.ID, model.MessageUpdateRequest{WhatsAppMessageID: strPtr("wamid.HBgLONE")})
		assert.NoError(t, err)
	})

	t.Run("different id is rejected", func(t *testing.T) {
		_, err := service.Update(ctx, created.ID, model.MessageUpdateRequest{WhatsAppMessageID: strPtr("wamid.HBgLTWO")})
		assert.ErrorIs(t, err, model.ErrProviderIDImmutable)
	})
}

func TestMessageService_Update_Metadata(t *testing.T) {
	service, repo := newSQLMessageService(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, &model.Message{FromNumber: "+1", ToNumber: "+2", MessageText: "x"})
	require.NoError(t, err)

	updated, err := service.Update(ctx, created.ID, model.MessageUpdateRequest{Metadata: map[string]any{"k": "v"}})
	require.NoError(t, err)
	assert.Equal(t, "v", updated.Metadata["k"])
	assert.Equal(t, model.MessageStatusPending, updated.Status)
}

func TestMessageService_Update_LostRaces(t *testing.T) {
	repo := new(MockMessageRepository)
	service := NewMessageService(repo)
	ctx := context.Background()

	current := &model.Message{ID: "m1", Status: model.MessageStatusPending}
	repo.On("FindByID", ctx, "m1").Return(current, nil)
	repo.On("UpdateIfStatus", ctx, "m1", model.MessageStatusPending, mock.Anything).Return(false, nil)

	_, err := service.Update(ctx, "m1", model.MessageUpdateRequest{Status: statusPtr(model.MessageStatusSent)})
	assert.ErrorIs(t, err, ErrConcurrentUpdate)
	repo.AssertNumberOfCalls(t, "UpdateIfStatus", maxOptimisticRetries)
}

func TestMessageService_AdvanceStatus(t *testing.T) {
	service, repo := newSQLMessageService(t)
	ctx := context.Background()

	wamid := "wamid.HBgLADVANCE"
	created, err := repo.Create(ctx, &model.Message{FromNumber: "+1", ToNumber: "+2", MessageText: "x", WhatsAppMessageID: &wamid, Status: model.MessageStatusSent})
	require.NoError(t, err)

	require.NoError(t, service.AdvanceStatus(ctx, wamid, model.MessageStatusSent))
	require.NoError(t, service.AdvanceStatus(ctx, wamid, model.MessageStatusDelivered))
	require.NoError(t, service.AdvanceStatus(ctx, wamid, model.MessageStatusRead))
	assert.ErrorIs(t, service.AdvanceStatus(ctx, wamid, model.MessageStatusDelivered), model.ErrInvalidTransition)

	found, err := service.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusRead, found.Status)
}

func TestMessageService_AdvanceStatus_Concurrent(t *testing.T) {
	service, repo := newSQLMessageService(t)
	ctx := context.Background()

	wamid := "wamid.HBgLCONCURRENT"
	created, err := repo.Create(ctx, &model.Message{FromNumber: "+1", ToNumber: "+2", MessageText: "x", WhatsAppMessageID: &wamid})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, st := range []model.MessageStatus{model.MessageStatusSent, model.MessageStatusDelivered, model.MessageStatusRead} {
		wg.Add(1)
		go func(st model.MessageStatus) {
			defer wg.Done()
			_ = service.AdvanceStatus(ctx, wamid, st)
		}(st)
	}
	wg.Wait()

	found, err := service.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusRead, found.Status, "the furthest status always wins")
}

func TestMessageService_ListByPhone(t *testing.T) {
	repo := new(MockMessageRepository)
	service := NewMessageService(repo)
	ctx := context.Background()

	expected := []*model.Message{{ID: "m1"}}
	repo.On("ListByPhone", ctx, "+1234567890", 50).Return(expected, nil)

	got, err := service.ListByPhone(ctx, "+1234567890", 50)
	require.NoError(t, err)
	assert.Equal(t, expected, got)
	repo.AssertExpectations(t)
}
