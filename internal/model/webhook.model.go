package model

import "time"

// Webhook is an inbound event stored before processing. Processed flips to
// true exactly once, and ErrorMessage is only set by a failed attempt.
type Webhook struct {
	ID           string         `json:"id"`
	EventType    string         `json:"event_type"`
	Payload      map[string]any `json:"payload"`
	Processed    bool           `json:"processed"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

type WebhookCreateRequest struct {
	EventType string         `json:"event_type" validate:"required,max=255"`
	Payload   map[string]any `json:"payload"    validate:"required"`
}

// ProcessingResult is what a finished attempt writes back to the store.
type ProcessingResult struct {
	ProcessedAt  time.Time
	ErrorMessage *string
}

// ReprocessSummary reports one recovery sweep over unprocessed webhooks.
type ReprocessSummary struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}
