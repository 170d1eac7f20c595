package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nimasrn/whatsapp-simulator/internal/dispatcher"
	"github.com/nimasrn/whatsapp-simulator/internal/model"
	"github.com/nimasrn/whatsapp-simulator/pkg/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func callbackBody(t *testing.T, status model.MessageStatus) []byte {
	t.Helper()
	d := dispatcher.New(dispatcher.Config{WabaID: "100000000000000", DisplayPhoneNumber: "1555000000"}, nil)
	env := d.Envelope(model.StatusEvent{
		PhoneNumberID: "106540352242922",
		WAMID:         "wamid.HBgL0123456789ABCDEF0123456789ABCDEF",
		Recipient:     "15551234567",
		Status:        status,
	}, time.Now())
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return b
}

func post(router http.Handler, body []byte, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	if sig != "" {
		req.Header.Set(signature.Header, sig)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func listReceived(t *testing.T, router http.Handler) []Callback {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/received", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Count     int        `json:"count"`
		Callbacks []Callback `json:"callbacks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, out.Count, len(out.Callbacks))
	return out.Callbacks
}

func TestReceiver_VerifiesSignature(t *testing.T) {
	router := SetupRouter(NewReceiver("s3cret", 10))
	body := callbackBody(t, model.MessageStatusDelivered)

	w := post(router, body, signature.Sign("s3cret", body))
	assert.Equal(t, http.StatusOK, w.Code)

	w = post(router, body, signature.Sign("other", body))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = post(router, body, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	got := listReceived(t, router)
	require.Len(t, got, 1)
	assert.True(t, got[0].Verified)
	require.NotNil(t, got[0].Status)
	assert.Equal(t, model.MessageStatusDelivered, got[0].Status.Status)
}

func TestReceiver_WithoutSecret(t *testing.T) {
	router := SetupRouter(NewReceiver("", 10))

	w := post(router, callbackBody(t, model.MessageStatusRead), "")
	assert.Equal(t, http.StatusOK, w.Code)

	got := listReceived(t, router)
	require.Len(t, got, 1)
	assert.False(t, got[0].Verified)
	assert.Nil(t, got[0].Status.Pricing, "read callbacks carry no pricing")
}

func TestReceiver_RejectsBadPayloads(t *testing.T) {
	router := SetupRouter(NewReceiver("", 10))

	assert.Equal(t, http.StatusBadRequest, post(router, []byte("{"), "").Code)
	assert.Equal(t, http.StatusBadRequest, post(router, []byte(`{"object":"page"}`), "").Code)
	assert.Empty(t, listReceived(t, router))
}

func TestReceiver_KeepsLastN(t *testing.T) {
	router := SetupRouter(NewReceiver("", 2))

	for _, s := range []model.MessageStatus{model.MessageStatusSent, model.MessageStatusDelivered, model.MessageStatusRead} {
		require.Equal(t, http.StatusOK, post(router, callbackBody(t, s), "").Code)
	}

	got := listReceived(t, router)
	require.Len(t, got, 2)
	assert.Equal(t, model.MessageStatusDelivered, got[0].Status.Status)
	assert.Equal(t, model.MessageStatusRead, got[1].Status.Status)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/received", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, listReceived(t, router))
}
