package handlers

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/nimasrn/whatsapp-simulator/pkg/logger"
	xhttp "github.com/nimasrn/whatsapp-simulator/pkg/http"
)

type successBody struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

type Pagination struct {
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"hasMore"`
}

type paginatedBody struct {
	successBody
	Pagination Pagination `json:"pagination"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorBody struct {
	Success   bool         `json:"success"`
	Message   string       `json:"message"`
	Errors    []FieldError `json:"errors,omitempty"`
	Timestamp string       `json:"timestamp"`
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logger.Error("failed to encode response", "path", string(ctx.Path()), "error", err)
		xhttp.WriteErrorJSON(ctx, xhttp.StatusInternalServerError, "Internal server error")
		return
	}
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeSuccess(ctx *xhttp.RequestCtx, status int, message string, data any) {
	writeJSON(ctx, status, successBody{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: now(),
	})
}

func writePaginated(ctx *xhttp.RequestCtx, message string, data any, p Pagination) {
	p.HasMore = int64(p.Offset+p.Limit) < p.Total
	writeJSON(ctx, xhttp.StatusOK, paginatedBody{
		successBody: successBody{
			Success:   true,
			Message:   message,
			Data:      data,
			Timestamp: now(),
		},
		Pagination: p,
	})
}

func writeError(ctx *xhttp.RequestCtx, status int, message string, errs ...FieldError) {
	writeJSON(ctx, status, errorBody{
		Success:   false,
		Message:   message,
		Errors:    errs,
		Timestamp: now(),
	})
}

func writeInternalError(ctx *xhttp.RequestCtx, err error) {
	logger.Error("request failed", "method", string(ctx.Method()), "path", string(ctx.Path()), "error", err)
	writeError(ctx, xhttp.StatusInternalServerError, "Internal server error")
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	return json.Unmarshal(ctx.PostBody(), dst)
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

// queryInt returns def when key is absent or not a number.
func queryInt(ctx *xhttp.RequestCtx, key string, def int) int {
	v := query(ctx, key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func pathParam(ctx *xhttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}
