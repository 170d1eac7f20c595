package dispatcher

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nimasrn/whatsapp-simulator/internal/model"
	"github.com/nimasrn/whatsapp-simulator/pkg/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testWAMID = "wamid.HBgL0123456789ABCDEF0123456789ABCDEF"

type MockStatusRecorder struct {
	mock.Mock
}

func (m *MockStatusRecorder) AdvanceStatus(ctx context.Context, providerID string, status model.MessageStatus) error {
	args := m.Called(ctx, providerID, status)
	return args.Error(0)
}

type capturedRequest struct {
	header http.Header
	body   []byte
}

type receiver struct {
	mu       sync.Mutex
	status   int
	requests []capturedRequest
}

func (r *receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.requests = append(r.requests, capturedRequest{header: req.Header.Clone(), body: body})
	status := r.status
	r.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func (r *receiver) last(t *testing.T) capturedRequest {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.requests)
	return r.requests[len(r.requests)-1]
}

func newTestDispatcher(t *testing.T, rcv *receiver, recorder StatusRecorder) *Dispatcher {
	srv := httptest.NewServer(rcv)
	t.Cleanup(srv.Close)
	return New(Config{
		URL:                srv.URL + "/webhook",
		AppSecret:          "top-secret",
		WabaID:             "100000000000000",
		DisplayPhoneNumber: "1555000000",
	}, recorder)
}

func event(status model.MessageStatus) model.StatusEvent {
	return model.StatusEvent{
		PhoneNumberID: "123456789",
		WAMID:         testWAMID,
		Recipient:     "15551234567",
		Status:        status,
	}
}

func TestDispatcher_Dispatch(t *testing.T) {
	rcv := &receiver{}
	recorder := new(MockStatusRecorder)
	recorder.On("AdvanceStatus", mock.Anything, testWAMID, model.MessageStatusSent).Return(nil)

	d := newTestDispatcher(t, rcv, recorder)
	require.NoError(t, d.Dispatch(context.Background(), event(model.MessageStatusSent)))

	req := rcv.last(t)
	assert.Equal(t, "application/json", req.header.Get("Content-Type"))
	assert.Equal(t, UserAgent, req.header.Get("User-Agent"))

	ok, err := signature.Verify("top-secret", req.body, req.header.Get(signature.Header))
	require.NoError(t, err)
	assert.True(t, ok, "signature must cover the exact body bytes")

	var payload model.StatusWebhook
	require.NoError(t, json.Unmarshal(req.body, &payload))
	assert.Equal(t, model.WebhookObjectWABA, payload.Object)
	require.Len(t, payload.Entry, 1)
	assert.Equal(t, "100000000000000", payload.Entry[0].ID)
	require.Len(t, payload.Entry[0].Changes, 1)

	change := payload.Entry[0].Changes[0]
	assert.Equal(t, model.WebhookFieldMessages, change.Field)
	assert.Equal(t, model.MessagingProductWhatsApp, change.Value.MessagingProduct)
	assert.Equal(t, "1555000000", change.Value.Metadata.DisplayPhoneNumber)
	assert.Equal(t, "123456789", change.Value.Metadata.PhoneNumberID)

	st := payload.FirstStatus()
	require.NotNil(t, st)
	assert.Equal(t, testWAMID, st.ID)
	assert.Equal(t, model.MessageStatusSent, st.Status)
	assert.Equal(t, "15551234567", st.RecipientID)
	require.NotNil(t, st.Conversation)
	assert.Equal(t, "CON_0123456789", st.Conversation.ID)
	assert.Equal(t, model.ConversationOrigin, st.Conversation.Origin.Type)
	require.NotNil(t, st.Pricing)
	assert.True(t, st.Pricing.Billable)
	assert.Equal(t, model.PricingModelCBP, st.Pricing.PricingModel)

	recorder.AssertExpectations(t)
	assert.Equal(t, Stats{Delivered: 1}, d.Stats())
}

func TestDispatcher_ReadOmitsPricing(t *testing.T) {
	rcv := &receiver{}
	d := newTestDispatcher(t, rcv, nil)

	require.NoError(t, d.Dispatch(context.Background(), event(model.MessageStatusRead)))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rcv.last(t).body, &raw))
	status := raw["entry"].([]any)[0].(map[string]any)["changes"].([]any)[0].(map[string]any)["value"].(map[string]any)["statuses"].([]any)[0].(map[string]any)
	assert.NotContains(t, status, "pricing")
	assert.Contains(t, status, "conversation")
}

func TestDispatcher_Non2xxIsAnError(t *testing.T) {
	rcv := &receiver{status: http.StatusInternalServerError}
	d := newTestDispatcher(t, rcv, nil)

	err := d.Dispatch(context.Background(), event(model.MessageStatusDelivered))
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Equal(t, Stats{Failed: 1}, d.Stats())

	rcv.mu.Lock()
	assert.Len(t, rcv.requests, 1, "no retry")
	rcv.mu.Unlock()
}

func TestDispatcher_RecorderFailureIsTolerated(t *testing.T) {
	rcv := &receiver{}
	recorder := new(MockStatusRecorder)
	recorder.On("AdvanceStatus", mock.Anything, testWAMID, model.MessageStatusDelivered).Return(model.ErrInvalidTransition)

	d := newTestDispatcher(t, rcv, recorder)
	assert.NoError(t, d.Dispatch(context.Background(), event(model.MessageStatusDelivered)))
	recorder.AssertExpectations(t)
}

func TestDispatcher_TransportError(t *testing.T) {
	d := New(Config{URL: "http://127.0.0.1:1/webhook", Timeout: time.Second}, nil)
	err := d.Dispatch(context.Background(), event(model.MessageStatusSent))
	assert.Error(t, err)
	assert.Equal(t, int64(1), d.Stats().Failed)
}

func TestDispatcher_NotConfigured(t *testing.T) {
	d := New(Config{}, nil)
	assert.False(t, d.Enabled())
	assert.ErrorIs(t, d.Dispatch(context.Background(), event(model.MessageStatusSent)), ErrNotConfigured)
}

func TestEnvelope_Timestamp(t *testing.T) {
	d := New(Config{WabaID: "1"}, nil)
	now := time.Unix(1700000000, 0)
	env := d.Envelope(event(model.MessageStatusSent), now)
	assert.Equal(t, "1700000000", env.FirstStatus().Timestamp)
}

func TestConversationID(t *testing.T) {
	assert.Equal(t, "CON_0123456789", ConversationID(testWAMID))
	assert.Equal(t, "CON_", ConversationID("short"))
}
