package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nimasrn/whatsapp-simulator/internal/model"
	"github.com/nimasrn/whatsapp-simulator/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTaskSubmitter struct {
	mock.Mock
}

func (m *MockTaskSubmitter) Submit(ctx context.Context, webhookID string) error {
	args := m.Called(ctx, webhookID)
	return args.Error(0)
}

// memoryClaims is an in-process ClaimLocker.
type memoryClaims struct {
	mu   sync.Mutex
	held map[string]string
}

func newMemoryClaims() *memoryClaims {
	return &memoryClaims{held: make(map[string]string)}
}

func (c *memoryClaims) Claim(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.held[key]; ok {
		return "", false, nil
	}
	token := key + "-token"
	c.held[key] = token
	return token, true, nil
}

func (c *memoryClaims) Release(_ context.Context, key, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held[key] == token {
		delete(c.held, key)
	}
	return nil
}

func newWebhookFixture(t *testing.T) (*WebhookService, *repository.WebhookRepository, *MockTaskSubmitter, *memoryClaims) {
	repo := repository.NewWebhookRepository(repository.OpenTestDB(t))
	submitter := new(MockTaskSubmitter)
	claims := newMemoryClaims()
	return NewWebhookService(repo, submitter, claims), repo, submitter, claims
}

func pingRequest() model.WebhookCreateRequest {
	return model.WebhookCreateRequest{EventType: "ping", Payload: map[string]any{"hello": "world"}}
}

func TestWebhookService_Receive(t *testing.T) {
	service, repo, submitter, _ := newWebhookFixture(t)
	ctx := context.Background()

	submitter.On("Submit", ctx, mock.AnythingOfType("string")).Return(nil)

	created, err := service.Receive(ctx, pingRequest())
	require.NoError(t, err)
	assert.False(t, created.Processed)

	stored, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, stored.Processed, "receive does not wait for processing")
	submitter.AssertCalled(t, "Submit", ctx, created.ID)
}

func TestWebhookService_Receive_SubmitFailureKeepsRecord(t *testing.T) {
	service, repo, submitter, _ := newWebhookFixture(t)
	ctx := context.Background()

	submitter.On("Submit", ctx, mock.AnythingOfType("string")).Return(assert.AnError)

	created, err := service.Receive(ctx, pingRequest())
	require.NoError(t, err)

	pending, err := repo.ListUnprocessed(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, created.ID, pending[0].ID)
}

func TestWebhookService_Process_Ping(t *testing.T) {
	service, repo, submitter, _ := newWebhookFixture(t)
	ctx := context.Background()
	submitter.On("Submit", ctx, mock.Anything).Return(nil)

	created, err := service.Receive(ctx, pingRequest())
	require.NoError(t, err)

	require.NoError(t, service.Process(ctx, created.ID))

	stored, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, stored.Processed)
	assert.NotNil(t, stored.ProcessedAt)
	assert.Nil(t, stored.ErrorMessage)

	t.Run("processing again is a no-op", func(t *testing.T) {
		require.NoError(t, service.Process(ctx, created.ID))
	})
}

func TestWebhookService_Process_HandlerFailure(t *testing.T) {
	service, repo, submitter, _ := newWebhookFixture(t)
	ctx := context.Background()
	submitter.On("Submit", ctx, mock.Anything).Return(nil)

	service.RegisterHandler("order.created", func(context.Context, *model.Webhook) error {
		return errors.New("inventory unavailable")
	})
	service.RegisterHandler("order.cancelled", func(context.Context, *model.Webhook) error {
		panic("nil order")
	})

	failed, err := service.Receive(ctx, model.WebhookCreateRequest{EventType: "order.created", Payload: map[string]any{}})
	require.NoError(t, err)
	panicked, err := service.Receive(ctx, model.WebhookCreateRequest{EventType: "order.cancelled", Payload: map[string]any{}})
	require.NoError(t, err)

	require.NoError(t, service.Process(ctx, failed.ID))
	require.NoError(t, service.Process(ctx, panicked.ID))

	stored, err := repo.FindByID(ctx, failed.ID)
	require.NoError(t, err)
	assert.True(t, stored.Processed, "failed attempts are still marked processed")
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "inventory unavailable", *stored.ErrorMessage)

	stored, err = repo.FindByID(ctx, panicked.ID)
	require.NoError(t, err)
	assert.True(t, stored.Processed)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "nil order")
}

func TestWebhookService_Process_Errors(t *testing.T) {
	service, repo, submitter, claims := newWebhookFixture(t)
	ctx := context.Background()
	submitter.On("Submit", ctx, mock.Anything).Return(nil)

	t.Run("missing record", func(t *testing.T) {
		err := service.Process(ctx, "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("claim held elsewhere", func(t *testing.T) {
		created, err := service.Receive(ctx, pingRequest())
		require.NoError(t, err)

		_, ok, _ := claims.Claim(ctx, created.ID)
		require.True(t, ok)

		err = service.Process(ctx, created.ID)
		assert.ErrorIs(t, err, ErrProcessingInFlight)

		stored, err := repo.FindByID(ctx, created.ID)
		require.NoError(t, err)
		assert.False(t, stored.Processed, "nothing is written without the claim")
	})
}

func TestWebhookService_ReprocessAllUnprocessed(t *testing.T) {
	service, repo, submitter, _ := newWebhookFixture(t)
	ctx := context.Background()
	submitter.On("Submit", ctx, mock.Anything).Return(nil)

	var mu sync.Mutex
	calls := map[string]int{}
	service.RegisterHandler("flaky", func(_ context.Context, w *model.Webhook) error {
		mu.Lock()
		calls[w.ID]++
		mu.Unlock()
		return errors.New("downstream timeout")
	})

	for i := 0; i < 3; i++ {
		_, err := service.Receive(ctx, pingRequest())
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}
	flaky, err := service.Receive(ctx, model.WebhookCreateRequest{EventType: "flaky", Payload: map[string]any{}})
	require.NoError(t, err)

	summary, err := service.ReprocessAllUnprocessed(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.ReprocessSummary{Attempted: 4, Succeeded: 3, Failed: 1}, summary)
	assert.Equal(t, 1, calls[flaky.ID])

	pending, err := repo.ListUnprocessed(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	t.Run("failed records are not revisited", func(t *testing.T) {
		summary, err := service.ReprocessAllUnprocessed(ctx)
		require.NoError(t, err)
		assert.Zero(t, summary.Attempted)
		assert.Equal(t, 1, calls[flaky.ID])
	})
}

func TestWebhookService_Queries(t *testing.T) {
	service, _, submitter, _ := newWebhookFixture(t)
	ctx := context.Background()
	submitter.On("Submit", ctx, mock.Anything).Return(nil)

	created, err := service.Receive(ctx, pingRequest())
	require.NoError(t, err)
	_, err = service.Receive(ctx, model.WebhookCreateRequest{EventType: "other", Payload: map[string]any{}})
	require.NoError(t, err)

	got, err := service.GetWebhook(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "ping", got.EventType)

	_, err = service.GetWebhook(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)

	unprocessed, err := service.ListUnprocessed(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, unprocessed, 2)

	byType, err := service.ListByEventType(ctx, "ping", 10)
	require.NoError(t, err)
	assert.Len(t, byType, 1)
}

func TestStatusCallbackHandler(t *testing.T) {
	messages, msgRepo := newSQLMessageService(t)
	ctx := context.Background()

	wamid := "wamid.HBgLINBOUND"
	created, err := msgRepo.Create(ctx, &model.Message{FromNumber: "+1", ToNumber: "+2", MessageText: "x", WhatsAppMessageID: &wamid, Status: model.MessageStatusSent})
	require.NoError(t, err)

	handler := NewStatusCallbackHandler(messages)

	payload := map[string]any{
		"object": "whatsapp_business_account",
		"entry": []any{map[string]any{
			"id": "1",
			"changes": []any{map[string]any{
				"field": "messages",
				"value": map[string]any{
					"messaging_product": "whatsapp",
					"statuses":          []any{map[string]any{"id": wamid, "status": "delivered"}},
				},
			}},
		}},
	}
	require.NoError(t, handler(ctx, &model.Webhook{Payload: payload}))

	found, err := messages.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusDelivered, found.Status)

	assert.ErrorIs(t, handler(ctx, &model.Webhook{Payload: map[string]any{"object": "x"}}), ErrNoStatuses)
}
