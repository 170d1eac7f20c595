package handlers

import (
	"context"
	"errors"

	"github.com/nimasrn/whatsapp-simulator/internal/model"
	"github.com/nimasrn/whatsapp-simulator/internal/services"
	xhttp "github.com/nimasrn/whatsapp-simulator/pkg/http"
)

const (
	defaultPageLimit  = 100
	defaultPhoneLimit = 50
	maxPageLimit      = 1000
)

type MessageService interface {
	Create(ctx context.Context, p model.MessageCreateRequest) (*model.Message, error)
	Get(ctx context.Context, id string) (*model.Message, error)
	List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error)
	ListByPhone(ctx context.Context, phone string, limit int) ([]*model.Message, error)
	Update(ctx context.Context, id string, req model.MessageUpdateRequest) (*model.Message, error)
	Delete(ctx context.Context, id string) error
}

type MessageHandler struct {
	svc MessageService
}

func RegisterMessageRoutes(e *xhttp.Group, h *MessageHandler) {
	e.POST("/messages", h.CreateMessage)
	e.GET("/messages", h.ListMessages)
	e.GET("/messages/phone/{phone}", h.ListMessagesByPhone)
	e.GET("/messages/{id}", h.GetMessage)
	e.PATCH("/messages/{id}", h.UpdateMessage)
	e.DELETE("/messages/{id}", h.DeleteMessage)
}

func NewMessageHandler(messageService MessageService) *MessageHandler {
	return &MessageHandler{
		svc: messageService,
	}
}

func (h *MessageHandler) CreateMessage(ctx *xhttp.RequestCtx) {
	var req model.MessageCreateRequest
	if !bind(ctx, &req) {
		return
	}

	msg, err := h.svc.Create(ctx, req)
	if err != nil {
		writeInternalError(ctx, err)
		return
	}
	writeSuccess(ctx, xhttp.StatusCreated, "Message created successfully", msg)
}

func (h *MessageHandler) ListMessages(ctx *xhttp.RequestCtx) {
	f := model.MessageFilter{
		Limit:  pageLimit(queryInt(ctx, "limit", defaultPageLimit)),
		Offset: max(queryInt(ctx, "offset", 0), 0),
	}

	items, total, err := h.svc.List(ctx, f)
	if err != nil {
		writeInternalError(ctx, err)
		return
	}
	writePaginated(ctx, "Messages retrieved successfully", items, Pagination{Total: total, Limit: f.Limit, Offset: f.Offset})
}

func (h *MessageHandler) ListMessagesByPhone(ctx *xhttp.RequestCtx) {
	phone := pathParam(ctx, "phone")
	if !model.PhonePattern.MatchString(phone) {
		writeError(ctx, xhttp.StatusBadRequest, "Validation error", FieldError{Field: "phone", Message: "must be a valid phone number"})
		return
	}

	items, err := h.svc.ListByPhone(ctx, phone, queryInt(ctx, "limit", defaultPhoneLimit))
	if err != nil {
		writeInternalError(ctx, err)
		return
	}
	writeSuccess(ctx, xhttp.StatusOK, "Messages retrieved successfully", items)
}

func (h *MessageHandler) GetMessage(ctx *xhttp.RequestCtx) {
	msg, err := h.svc.Get(ctx, pathParam(ctx, "id"))
	if err != nil {
		h.writeServiceError(ctx, err)
		return
	}
	writeSuccess(ctx, xhttp.StatusOK, "Message retrieved successfully", msg)
}

func (h *MessageHandler) UpdateMessage(ctx *xhttp.RequestCtx) {
	var req model.MessageUpdateRequest
	if !bind(ctx, &req) {
		return
	}
	if req.Empty() {
		writeError(ctx, xhttp.StatusBadRequest, "Validation error", FieldError{Field: "body", Message: "at least one field must be provided"})
		return
	}

	msg, err := h.svc.Update(ctx, pathParam(ctx, "id"), req)
	if err != nil {
		h.writeServiceError(ctx, err)
		return
	}
	writeSuccess(ctx, xhttp.StatusOK, "Message updated successfully", msg)
}

func (h *MessageHandler) DeleteMessage(ctx *xhttp.RequestCtx) {
	if err := h.svc.Delete(ctx, pathParam(ctx, "id")); err != nil {
		h.writeServiceError(ctx, err)
		return
	}
	writeSuccess(ctx, xhttp.StatusOK, "Message deleted successfully", nil)
}

func (h *MessageHandler) writeServiceError(ctx *xhttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		writeError(ctx, xhttp.StatusNotFound, "Message not found")
	case errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrProviderIDImmutable),
		errors.Is(err, services.ErrConcurrentUpdate):
		writeError(ctx, xhttp.StatusConflict, err.Error())
	default:
		writeInternalError(ctx, err)
	}
}

// pageLimit keeps the reported pagination in line with what the store returns.
func pageLimit(n int) int {
	if n <= 0 {
		return defaultPageLimit
	}
	return min(n, maxPageLimit)
}
