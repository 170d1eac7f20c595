package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nimasrn/whatsapp-simulator/internal/model"
	"github.com/nimasrn/whatsapp-simulator/pkg/signature"
	"github.com/rs/zerolog/log"
)

// Callback is one status webhook as the receiver saw it.
type Callback struct {
	ID         string              `json:"id"`
	ReceivedAt time.Time           `json:"received_at"`
	Verified   bool                `json:"verified"`
	UserAgent  string              `json:"user_agent"`
	Status     *model.StatusObject `json:"status,omitempty"`
	Body       json.RawMessage     `json:"body"`
}

// Receiver accepts status callbacks and keeps the most recent ones in memory.
type Receiver struct {
	secret string
	limit  int

	mu       sync.RWMutex
	received []Callback
}

func NewReceiver(secret string, limit int) *Receiver {
	if limit <= 0 {
		limit = 100
	}
	return &Receiver{
		secret: secret,
		limit:  limit,
	}
}

// Receive handles POST /webhook. With a secret configured, unsigned or
// mis-signed bodies are rejected with 401.
func (r *Receiver) Receive(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	verified := false
	if r.secret != "" {
		ok, err := signature.Verify(r.secret, body, c.GetHeader(signature.Header))
		if err != nil || !ok {
			log.Warn().
				Str("signature", c.GetHeader(signature.Header)).
				Msg("Rejected callback with bad signature")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
		verified = true
	}

	var payload model.StatusWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	if payload.Object != model.WebhookObjectWABA {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unexpected object", "object": payload.Object})
		return
	}

	cb := Callback{
		ID:         uuid.NewString(),
		ReceivedAt: time.Now(),
		Verified:   verified,
		UserAgent:  c.GetHeader("User-Agent"),
		Status:     payload.FirstStatus(),
		Body:       body,
	}
	r.record(cb)

	ev := log.Info().Str("callback_id", cb.ID).Bool("verified", verified)
	if cb.Status != nil {
		ev = ev.Str("wamid", cb.Status.ID).Str("status", string(cb.Status.Status)).Str("recipient", cb.Status.RecipientID)
	}
	ev.Msg("Status callback received")

	c.Status(http.StatusOK)
}

func (r *Receiver) record(cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, cb)
	if over := len(r.received) - r.limit; over > 0 {
		r.received = append(r.received[:0:0], r.received[over:]...)
	}
}

// Received handles GET /received, oldest first.
func (r *Receiver) Received(c *gin.Context) {
	r.mu.RLock()
	out := make([]Callback, len(r.received))
	copy(out, r.received)
	r.mu.RUnlock()

	c.JSON(http.StatusOK, gin.H{"count": len(out), "callbacks": out})
}

// Reset handles DELETE /received.
func (r *Receiver) Reset(c *gin.Context) {
	r.mu.Lock()
	r.received = nil
	r.mu.Unlock()
	c.Status(http.StatusNoContent)
}

func (r *Receiver) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
}

// SetupRouter configures all routes
func SetupRouter(r *Receiver) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request processed")
	})

	router.POST("/webhook", r.Receive)
	router.GET("/received", r.Received)
	router.DELETE("/received", r.Reset)
	router.GET("/health", r.HealthCheck)

	return router
}
