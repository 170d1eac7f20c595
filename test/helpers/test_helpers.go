package helpers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/whatsapp-simulator/internal/model"
	"github.com/nimasrn/whatsapp-simulator/internal/repository"
	"github.com/nimasrn/whatsapp-simulator/pkg/pg"
	"github.com/nimasrn/whatsapp-simulator/pkg/redis"
	"github.com/nimasrn/whatsapp-simulator/pkg/signature"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func SetupTestDB(t *testing.T) *pg.DB {
	return repository.OpenTestDB(t)
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr := miniredis.RunT(t)

	adapter, err := redis.NewRedisAdapter(context.Background(), t.Name(), "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Close() })

	return mr, adapter
}

// Callback is one status webhook captured by a CallbackRecorder.
type Callback struct {
	Body       []byte
	Signature  string
	UserAgent  string
	ReceivedAt time.Time
	Payload    model.StatusWebhook
}

func (c Callback) Status() *model.StatusObject {
	return c.Payload.FirstStatus()
}

// CallbackRecorder is an httptest server standing in for the client webhook.
type CallbackRecorder struct {
	*httptest.Server

	mu        sync.Mutex
	callbacks []Callback
}

func NewCallbackRecorder(t *testing.T) *CallbackRecorder {
	r := &CallbackRecorder{}
	r.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		cb := Callback{
			Body:       body,
			Signature:  req.Header.Get(signature.Header),
			UserAgent:  req.Header.Get("User-Agent"),
			ReceivedAt: time.Now(),
		}
		if err := json.Unmarshal(body, &cb.Payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		r.mu.Lock()
		r.callbacks = append(r.callbacks, cb)
		r.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(r.Close)
	return r
}

func (r *CallbackRecorder) Callbacks() []Callback {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Callback, len(r.callbacks))
	copy(out, r.callbacks)
	return out
}

func (r *CallbackRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.callbacks)
}

func Ptr[T any](v T) *T {
	return &v
}
