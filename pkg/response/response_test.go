package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/findmydocs/backend/internal/domain"
	"github.com/findmydocs/backend/pkg/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var body Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestDegraded(t *testing.T) {
	rec := httptest.NewRecorder()
	Degraded(rec, []string{}, "threads unavailable")

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.True(t, body.Success)
	assert.Equal(t, "threads unavailable", body.Warning)
}

func TestFromError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: bad key", domain.ErrInvalidInput), http.StatusBadRequest, "BAD_REQUEST"},
		{fmt.Errorf("document: %w", domain.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{domain.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{domain.ErrConflict, http.StatusConflict, "CONFLICT"},
		{validator.ValidationErrors{{Field: "text", Message: "is required"}}, http.StatusBadRequest, "VALIDATION_FAILED"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		require.True(t, FromError(rec, tt.err), tt.err.Error())
		assert.Equal(t, tt.status, rec.Code)
		assert.Equal(t, tt.code, decode(t, rec).Error.Code)
	}

	rec := httptest.NewRecorder()
	assert.False(t, FromError(rec, fmt.Errorf("connection reset")))
	assert.Equal(t, 0, rec.Body.Len())
}
