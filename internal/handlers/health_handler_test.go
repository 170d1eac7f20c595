package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func TestHealthHandler_GetHealth(t *testing.T) {
	ok := func(context.Context) error { return nil }

	t.Run("all checks pass", func(t *testing.T) {
		handler := NewHealthHandler(map[string]HealthCheck{"database": ok, "redis": ok})

		ctx := setupTestContext("GET", "/health", nil)
		handler.GetHealth(ctx)

		assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
		env := decodeEnvelope(t, ctx)
		assert.True(t, env.Success)

		var checks map[string]string
		require.NoError(t, json.Unmarshal(env.Data, &checks))
		assert.Equal(t, map[string]string{"database": "ok", "redis": "ok"}, checks)
	})

	t.Run("one check fails", func(t *testing.T) {
		handler := NewHealthHandler(map[string]HealthCheck{
			"database": ok,
			"redis":    func(context.Context) error { return errors.New("connection refused") },
		})

		ctx := setupTestContext("GET", "/health", nil)
		handler.GetHealth(ctx)

		assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
		env := decodeEnvelope(t, ctx)
		assert.False(t, env.Success)

		var checks map[string]string
		require.NoError(t, json.Unmarshal(env.Data, &checks))
		assert.Equal(t, "connection refused", checks["redis"])
		assert.Equal(t, "ok", checks["database"])
	})

	t.Run("no checks", func(t *testing.T) {
		handler := NewHealthHandler(nil)

		ctx := setupTestContext("GET", "/health", nil)
		handler.GetHealth(ctx)

		assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	})
}
