package model

import "time"

// Wire types of the emulated Cloud API. JSON names follow the provider.

const (
	MessagingProductWhatsApp = "whatsapp"
	WebhookObjectWABA        = "whatsapp_business_account"
	WebhookFieldMessages     = "messages"
	ConversationOrigin       = "marketing"
	PricingModelCBP          = "CBP"
	PricingCategory          = "marketing"
)

type TemplateLanguage struct {
	Code string `json:"code" validate:"required"`
}

type TemplateParameter struct {
	Type     string         `json:"type"               validate:"required,oneof=text currency date_time image video document payload"`
	Text     string         `json:"text,omitempty"     validate:"required_if=Type text"`
	Payload  string         `json:"payload,omitempty"  validate:"required_if=Type payload"`
	Currency map[string]any `json:"currency,omitempty" validate:"required_if=Type currency"`
	DateTime map[string]any `json:"date_time,omitempty" validate:"required_if=Type date_time"`
	Image    map[string]any `json:"image,omitempty"    validate:"required_if=Type image"`
	Video    map[string]any `json:"video,omitempty"    validate:"required_if=Type video"`
	Document map[string]any `json:"document,omitempty" validate:"required_if=Type document"`
}

type TemplateComponent struct {
	Type       string              `json:"type"               validate:"required,oneof=header body button footer"`
	SubType    string              `json:"sub_type,omitempty" validate:"omitempty,oneof=quick_reply url catalog"`
	Index      string              `json:"index,omitempty"    validate:"omitempty,numeric"`
	Parameters []TemplateParameter `json:"parameters"         validate:"required,dive"`
}

type Template struct {
	Name       string              `json:"name"                 validate:"required"`
	Language   TemplateLanguage    `json:"language"             validate:"required"`
	Components []TemplateComponent `json:"components,omitempty" validate:"omitempty,dive"`
}

// TemplateMessageRequest is the body of POST /simulation/{phoneNumberId}/messages.
type TemplateMessageRequest struct {
	MessagingProduct string   `json:"messaging_product"        validate:"required,eq=whatsapp"`
	RecipientType    string   `json:"recipient_type,omitempty" validate:"omitempty,eq=individual"`
	To               string   `json:"to"                       validate:"required"`
	Type             string   `json:"type"                     validate:"required,eq=template"`
	Template         Template `json:"template"                 validate:"required"`
}

type AckContact struct {
	Input string `json:"input"`
	WaID  string `json:"wa_id"`
}

type AckMessage struct {
	ID string `json:"id"`
}

// SendMessageResponse is the synchronous acknowledgement of a send call.
type SendMessageResponse struct {
	MessagingProduct string       `json:"messaging_product"`
	Contacts         []AckContact `json:"contacts"`
	Messages         []AckMessage `json:"messages"`
}

type ConversationOriginInfo struct {
	Type string `json:"type"`
}

type Conversation struct {
	ID     string                 `json:"id"`
	Origin ConversationOriginInfo `json:"origin"`
}

type Pricing struct {
	Billable     bool   `json:"billable"`
	PricingModel string `json:"pricing_model"`
	Category     string `json:"category"`
}

type StatusObject struct {
	ID           string        `json:"id"`
	Status       MessageStatus `json:"status"`
	Timestamp    string        `json:"timestamp"`
	RecipientID  string        `json:"recipient_id"`
	Conversation *Conversation `json:"conversation,omitempty"`
	Pricing      *Pricing      `json:"pricing,omitempty"`
}

type ChangeMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type ChangeValue struct {
	MessagingProduct string         `json:"messaging_product"`
	Metadata         ChangeMetadata `json:"metadata"`
	Statuses         []StatusObject `json:"statuses,omitempty"`
}

type Change struct {
	Value ChangeValue `json:"value"`
	Field string      `json:"field"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// StatusWebhook is the envelope POSTed to the client's callback URL.
type StatusWebhook struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// FirstStatus returns the single status carried by an envelope built by the
// dispatcher, or nil.
func (w StatusWebhook) FirstStatus() *StatusObject {
	if len(w.Entry) == 0 || len(w.Entry[0].Changes) == 0 || len(w.Entry[0].Changes[0].Value.Statuses) == 0 {
		return nil
	}
	return &w.Entry[0].Changes[0].Value.Statuses[0]
}

// StatusEvent is one scheduled status callback for a simulated message.
type StatusEvent struct {
	PhoneNumberID string        `json:"phone_number_id"`
	WAMID         string        `json:"wamid"`
	Recipient     string        `json:"recipient"`
	Status        MessageStatus `json:"status"`
	FireAt        time.Time     `json:"fire_at"`
}

func (e StatusEvent) Key() string {
	return e.WAMID + ":" + string(e.Status)
}
