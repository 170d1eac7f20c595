package model

import (
	"errors"
	"regexp"
	"time"
)

// MessageStatus is the lifecycle state of a message.
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

const (
	MessageTypeText     = "text"
	MessageTypeImage    = "image"
	MessageTypeVideo    = "video"
	MessageTypeAudio    = "audio"
	MessageTypeDocument = "document"
	MessageTypeTemplate = "template"
)

var (
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrProviderIDImmutable = errors.New("provider message id cannot be changed once set")
	ErrUnknownStatus       = errors.New("unknown message status")
)

// PhonePattern accepts an optional leading plus and 2 to 15 digits, no leading zero.
var PhonePattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)

var statusRank = map[MessageStatus]int{
	MessageStatusPending:   0,
	MessageStatusSent:      1,
	MessageStatusDelivered: 2,
	MessageStatusRead:      3,
}

func (s MessageStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == MessageStatusFailed
}

func (s MessageStatus) Terminal() bool {
	return s == MessageStatusRead || s == MessageStatusFailed
}

// CanTransition reports whether a message in status s may move to next.
// The main chain only moves forward, failed is reachable from any non-terminal
// status, and a repeated status is a no-op rather than a transition.
func (s MessageStatus) CanTransition(next MessageStatus) error {
	if !s.Valid() || !next.Valid() {
		return ErrUnknownStatus
	}
	if s == next {
		return nil
	}
	if next == MessageStatusFailed {
		if s.Terminal() {
			return ErrInvalidTransition
		}
		return nil
	}
	if s == MessageStatusFailed || statusRank[next] < statusRank[s] {
		return ErrInvalidTransition
	}
	return nil
}

type Message struct {
	ID                string         `json:"id"`
	FromNumber        string         `json:"from_number"`
	ToNumber          string         `json:"to_number"`
	MessageText       string         `json:"message_text"`
	MessageType       string         `json:"message_type"`
	Status            MessageStatus  `json:"status"`
	WhatsAppMessageID *string        `json:"whatsapp_message_id,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// MessageCreateRequest is the input for creating a message.
type MessageCreateRequest struct {
	FromNumber  string         `json:"from_number"  validate:"required,phone"`
	ToNumber    string         `json:"to_number"    validate:"required,phone"`
	MessageText string         `json:"message_text" validate:"required,min=1,max=4096"`
	MessageType string         `json:"message_type" validate:"omitempty,oneof=text image video audio document template"`
	Metadata    map[string]any `json:"metadata"`
}

// MessageUpdateRequest carries the fields a client may change. Nil means untouched.
type MessageUpdateRequest struct {
	Status            *MessageStatus `json:"status"              validate:"omitempty,oneof=pending sent delivered read failed"`
	WhatsAppMessageID *string        `json:"whatsapp_message_id" validate:"omitempty,min=1"`
	Metadata          map[string]any `json:"metadata"`
}

func (r MessageUpdateRequest) Empty() bool {
	return r.Status == nil && r.WhatsAppMessageID == nil && r.Metadata == nil
}

// MessageFilter controls List queries.
type MessageFilter struct {
	Limit  int // default 100
	Offset int
}
