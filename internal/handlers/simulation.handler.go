package handlers

import (
	"context"

	"github.com/nimasrn/whatsapp-simulator/internal/model"
	xhttp "github.com/nimasrn/whatsapp-simulator/pkg/http"
)

type SimulationService interface {
	SendTemplateMessage(ctx context.Context, phoneNumberID string, req model.TemplateMessageRequest) (*model.SendMessageResponse, error)
}

// SimulationHandler serves the provider look-alike send endpoint. Successful
// responses use the provider's shape instead of the API envelope.
type SimulationHandler struct {
	svc SimulationService
}

func RegisterSimulationRoutes(e *xhttp.Group, h *SimulationHandler) {
	e.POST("/simulation/{phoneNumberId}/messages", h.SendMessage)
}

func NewSimulationHandler(svc SimulationService) *SimulationHandler {
	return &SimulationHandler{svc: svc}
}

func (h *SimulationHandler) SendMessage(ctx *xhttp.RequestCtx) {
	var req model.TemplateMessageRequest
	if !bind(ctx, &req) {
		return
	}

	resp, err := h.svc.SendTemplateMessage(ctx, pathParam(ctx, "phoneNumberId"), req)
	if err != nil {
		writeInternalError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, resp)
}
