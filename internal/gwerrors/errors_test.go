package gwerrors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToolValidationFailedRendersBadRequest(t *testing.T) {
	err := NewToolValidationFailedError("input_schema.type must be \"object\"")
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus())
	assert.Contains(t, err.RenderToolResult(), "ToolValidationFailed")
	assert.Contains(t, err.RenderToolResult(), "<message>")
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewAPITimeoutError("upstream timed out", cause)
	assert.ErrorIs(t, err, cause)
}

func TestWithContextAndDetailBuilders(t *testing.T) {
	err := NewMemorySaveFailedError("write failed", nil).
		WithContext("memory", "put-global").
		WithDetail("id", "abc123").
		WithSuggestion("retry with backoff")

	assert.Equal(t, "memory", err.Ctx.Component)
	assert.Equal(t, "put-global", err.Ctx.Operation)
	assert.Equal(t, "abc123", err.Ctx.Details["id"])
	assert.Equal(t, []string{"retry with backoff"}, err.Suggestions)

	body := err.RenderAPIBody()
	assert.Equal(t, CodeMemorySaveFailed, body.Error.Type)
	assert.Equal(t, "abc123", body.Error.Details["id"])
}

func TestRenderLogIncludesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := NewDatabaseInitError("could not open store", cause)
	log := err.RenderLog()
	assert.Equal(t, "disk full", log.Cause)
	assert.Equal(t, SeverityFatal, log.Severity)
	assert.False(t, log.Recoverable)
}
