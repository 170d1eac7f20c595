package fixtures

import (
	"github.com/nimasrn/whatsapp-simulator/internal/model"
)

const (
	PhoneNumberID = "106540352242922"
	Recipient     = "15551234567"
	TemplateName  = "order_update"
	AppSecret     = "test-app-secret"
)

var (
	ValidPhoneNumbers = []string{
		"+1234567890",
		"+9876543210",
		"+4412345678",
		"+33123456789",
		"15551234567",
	}

	InvalidPhoneNumbers = []string{
		"",
		"0123456",
		"invalid",
		"+",
		"+1234567890123456",
	}
)

// TemplateMessage is a minimal valid send request for to.
func TemplateMessage(to string) model.TemplateMessageRequest {
	return model.TemplateMessageRequest{
		MessagingProduct: model.MessagingProductWhatsApp,
		RecipientType:    "individual",
		To:               to,
		Type:             "template",
		Template: model.Template{
			Name:     TemplateName,
			Language: model.TemplateLanguage{Code: "en_US"},
			Components: []model.TemplateComponent{{
				Type: "body",
				Parameters: []model.TemplateParameter{
					{Type: "text", Text: "42"},
				},
			}},
		},
	}
}

func MessageCreateRequest() model.MessageCreateRequest {
	return model.MessageCreateRequest{
		FromNumber:  "+1234567890",
		ToNumber:    "+1987654321",
		MessageText: "Hello from the fixtures",
		MessageType: model.MessageTypeText,
		Metadata:    map[string]any{"campaign": "spring"},
	}
}

func PingWebhook() model.WebhookCreateRequest {
	return model.WebhookCreateRequest{
		EventType: "ping",
		Payload:   map[string]any{"hello": "world"},
	}
}

// StatusWebhook is an inbound provider callback that moves wamid to status.
func StatusWebhook(wamid string, status model.MessageStatus) model.WebhookCreateRequest {
	return model.WebhookCreateRequest{
		EventType: model.WebhookObjectWABA,
		Payload: map[string]any{
			"object": model.WebhookObjectWABA,
			"entry": []any{map[string]any{
				"id": "100000000000000",
				"changes": []any{map[string]any{
					"field": model.WebhookFieldMessages,
					"value": map[string]any{
						"messaging_product": model.MessagingProductWhatsApp,
						"metadata": map[string]any{
							"display_phone_number": "1555000000",
							"phone_number_id":      PhoneNumberID,
						},
						"statuses": []any{map[string]any{
							"id":           wamid,
							"status":       string(status),
							"timestamp":    "1700000000",
							"recipient_id": Recipient,
						}},
					},
				}},
			}},
		},
	}
}
