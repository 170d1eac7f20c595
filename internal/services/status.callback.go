package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nimasrn/whatsapp-simulator/internal/model"
)

var ErrNoStatuses = errors.New("payload carries no statuses")

type StatusRecorder interface {
	AdvanceStatus(ctx context.Context, providerID string, status model.MessageStatus) error
}

// NewStatusCallbackHandler handles inbound provider status callbacks by
// advancing every referenced message. Register it for model.WebhookObjectWABA.
func NewStatusCallbackHandler(recorder StatusRecorder) WebhookHandler {
	return func(ctx context.Context, w *model.Webhook) error {
		raw, err := json.Marshal(w.Payload)
		if err != nil {
			return err
		}
		var payload model.StatusWebhook
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("decode status payload: %w", err)
		}

		var errs []error
		seen := 0
		for _, entry := range payload.Entry {
			for _, change := range entry.Changes {
				for _, st := range change.Value.Statuses {
					seen++
					if err := recorder.AdvanceStatus(ctx, st.ID, st.Status); err != nil {
						errs = append(errs, fmt.Errorf("%s: %w", st.ID, err))
					}
				}
			}
		}
		if seen == 0 {
			return ErrNoStatuses
		}
		return errors.Join(errs...)
	}
}
