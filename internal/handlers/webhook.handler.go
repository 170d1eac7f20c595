package handlers

import (
	"context"
	"errors"

	"github.com/nimasrn/whatsapp-simulator/internal/model"
	"github.com/nimasrn/whatsapp-simulator/internal/services"
	xhttp "github.com/nimasrn/whatsapp-simulator/pkg/http"
)

type WebhookService interface {
	Receive(ctx context.Context, req model.WebhookCreateRequest) (*model.Webhook, error)
	GetWebhook(ctx context.Context, id string) (*model.Webhook, error)
	ListUnprocessed(ctx context.Context, limit int) ([]*model.Webhook, error)
	ListByEventType(ctx context.Context, eventType string, limit int) ([]*model.Webhook, error)
	ReprocessAllUnprocessed(ctx context.Context) (model.ReprocessSummary, error)
}

type WebhookHandler struct {
	svc WebhookService
}

func RegisterWebhookRoutes(e *xhttp.Group, h *WebhookHandler) {
	e.POST("/webhooks", h.ReceiveWebhook)
	e.POST("/webhooks/reprocess", h.Reprocess)
	e.GET("/webhooks/status/unprocessed", h.ListUnprocessed)
	e.GET("/webhooks/event/{eventType}", h.ListByEventType)
	e.GET("/webhooks/{id}", h.GetWebhook)
}

func NewWebhookHandler(svc WebhookService) *WebhookHandler {
	return &WebhookHandler{svc: svc}
}

type receiveResponse struct {
	WebhookID string `json:"webhookId"`
}

func (h *WebhookHandler) ReceiveWebhook(ctx *xhttp.RequestCtx) {
	var req model.WebhookCreateRequest
	if !bind(ctx, &req) {
		return
	}

	w, err := h.svc.Receive(ctx, req)
	if err != nil {
		writeInternalError(ctx, err)
		return
	}
	writeSuccess(ctx, xhttp.StatusOK, "Webhook received and queued for processing", receiveResponse{WebhookID: w.ID})
}

func (h *WebhookHandler) GetWebhook(ctx *xhttp.RequestCtx) {
	w, err := h.svc.GetWebhook(ctx, pathParam(ctx, "id"))
	if errors.Is(err, services.ErrNotFound) {
		writeError(ctx, xhttp.StatusNotFound, "Webhook not found")
		return
	}
	if err != nil {
		writeInternalError(ctx, err)
		return
	}
	writeSuccess(ctx, xhttp.StatusOK, "Webhook retrieved successfully", w)
}

func (h *WebhookHandler) ListUnprocessed(ctx *xhttp.RequestCtx) {
	items, err := h.svc.ListUnprocessed(ctx, queryInt(ctx, "limit", defaultPageLimit))
	if err != nil {
		writeInternalError(ctx, err)
		return
	}
	writeSuccess(ctx, xhttp.StatusOK, "Unprocessed webhooks retrieved successfully", items)
}

func (h *WebhookHandler) ListByEventType(ctx *xhttp.RequestCtx) {
	items, err := h.svc.ListByEventType(ctx, pathParam(ctx, "eventType"), queryInt(ctx, "limit", defaultPageLimit))
	if err != nil {
		writeInternalError(ctx, err)
		return
	}
	writeSuccess(ctx, xhttp.StatusOK, "Webhooks retrieved successfully", items)
}

func (h *WebhookHandler) Reprocess(ctx *xhttp.RequestCtx) {
	summary, err := h.svc.ReprocessAllUnprocessed(ctx)
	if err != nil {
		writeInternalError(ctx, err)
		return
	}
	writeSuccess(ctx, xhttp.StatusOK, "Reprocessing completed", summary)
}
