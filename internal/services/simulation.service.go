package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/nimasrn/whatsapp-simulator/internal/lifecycle"
	"github.com/nimasrn/whatsapp-simulator/internal/model"
	"github.com/nimasrn/whatsapp-simulator/pkg/logger"
	"github.com/nimasrn/whatsapp-simulator/pkg/prom"
)

const wamidPrefix = "wamid.HBgL"

// LifecycleScheduler arms the status callbacks of a simulated message.
type LifecycleScheduler interface {
	Schedule(phoneNumberID, wamid, recipient string) []*lifecycle.Handle
}

type SimulationService struct {
	messageRepo MessageRepository
	scheduler   LifecycleScheduler
}

func NewSimulationService(messageRepo MessageRepository, scheduler LifecycleScheduler) *SimulationService {
	return &SimulationService{
		messageRepo: messageRepo,
		scheduler:   scheduler,
	}
}

// NewWAMID returns a provider style message id: a fixed prefix followed by 16
// random bytes in uppercase hex.
func NewWAMID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return wamidPrefix + strings.ToUpper(hex.EncodeToString(b)), nil
}

// SendTemplateMessage acknowledges a template send the way the provider does
// and arms its status callbacks. The local record is best effort: a storage
// failure is logged and the acknowledgement is still returned.
func (s *SimulationService) SendTemplateMessage(ctx context.Context, phoneNumberID string, req model.TemplateMessageRequest) (*model.SendMessageResponse, error) {
	start := time.Now()

	wamid, err := NewWAMID()
	if err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	if err := s.persist(ctx, phoneNumberID, wamid, req, start); err != nil {
		logger.Error("failed to persist simulated message", "wamid", wamid, "to", req.To, "error", err)
	}

	s.scheduler.Schedule(phoneNumberID, wamid, req.To)
	prom.IncSimulatedMessage()

	logger.Info("simulated template message",
		"wamid", wamid,
		"to", req.To,
		"template", req.Template.Name,
		"duration", time.Since(start),
	)

	return &model.SendMessageResponse{
		MessagingProduct: model.MessagingProductWhatsApp,
		Contacts:         []model.AckContact{{Input: req.To, WaID: req.To}},
		Messages:         []model.AckMessage{{ID: wamid}},
	}, nil
}

func (s *SimulationService) persist(ctx context.Context, phoneNumberID, wamid string, req model.TemplateMessageRequest, at time.Time) error {
	return s.messageRepo.WithinTransaction(ctx, func(ctx context.Context) error {
		created, err := s.messageRepo.Create(ctx, &model.Message{
			FromNumber:  phoneNumberID,
			ToNumber:    req.To,
			MessageText: fmt.Sprintf("Template: %s (%s)", req.Template.Name, req.Template.Language.Code),
			MessageType: model.MessageTypeTemplate,
			Status:      model.MessageStatusPending,
			Metadata: map[string]any{
				"simulated":         true,
				"messaging_product": req.MessagingProduct,
				"recipient_type":    req.RecipientType,
				"template":          req.Template,
				"simulated_at":      at.UTC().Format(time.RFC3339Nano),
			},
		})
		if err != nil {
			return err
		}

		sent := model.MessageStatusSent
		ok, err := s.messageRepo.UpdateIfStatus(ctx, created.ID, created.Status, model.MessageUpdateRequest{
			Status:            &sent,
			WhatsAppMessageID: &wamid,
		})
		if err != nil {
			return fmt.Errorf("mark message sent: %w", err)
		}
		if !ok {
			return ErrConcurrentUpdate
		}
		return nil
	})
}
