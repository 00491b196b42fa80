package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindMatching(t *testing.T) {
	err := fmt.Errorf("reorder sprint: %w", Conflict("stale_ordering", "child set changed"))

	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, http.StatusConflict, HTTPStatus(err))
}

func TestWrapKeepsCause(t *testing.T) {
	err := Wrap(KindTransient, context.DeadlineExceeded, "load task")

	assert.True(t, Retryable(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, "load task: context deadline exceeded", err.Error())
}

func TestForeignErrorsAreInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}

func TestValidationFields(t *testing.T) {
	err := Validation("name", "required")
	assert.Equal(t, map[string]string{"name": "required"}, err.Fields)
	assert.Equal(t, "invalid_name", err.Code)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, Validation("title", "required"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.JSONEq(t, `{"error":{"code":"invalid_title","message":"title: required","fields":{"title":"required"}}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	WriteJSON(rec, Wrap(KindTransient, errors.New("dial tcp: refused"), "storage unavailable"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.NotContains(t, rec.Body.String(), "dial tcp")

	rec = httptest.NewRecorder()
	WriteJSON(rec, errors.New("pq: secret detail"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":{"code":"internal","message":"internal error"}}`, rec.Body.String())
}
