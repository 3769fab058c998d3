package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paysched/internal/types"
)

func TestError_AppErrorMapsToStatusAndCode(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "not found",
			err:        types.NewAppError(types.ErrCodeNotFoundPayment, "scheduled payment not found", nil),
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found_payment",
		},
		{
			name:       "subscription limit",
			err:        types.NewAppError(types.ErrCodeLimitSubscription, "limit reached", nil),
			wantStatus: http.StatusForbidden,
			wantCode:   "limit_subscription_reached",
		},
		{
			name:       "duplicate id",
			err:        types.NewAppError(types.ErrCodeConflictDuplicateID, "exists", nil),
			wantStatus: http.StatusConflict,
			wantCode:   "conflict_duplicate_id",
		},
		{
			name:       "generic error is masked",
			err:        errors.New("pg: connection exploded at 10.0.0.5"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_unexpected_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/", nil)

			Error(w, r, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)

			var resp APIErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.NotContains(t, resp.Error.Message, "10.0.0.5", "internal details must not leak")
		})
	}
}

func TestDecodeJSON_RejectsUnknownFields(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"nope": true}`))

	var dst struct {
		Known string `json:"known"`
	}
	err := DecodeJSON(w, r, &dst)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, errCodeValidationInvalidJSON, appErr.Code)
	assert.Contains(t, appErr.Message, "unknown field")
}

func TestDecodeJSON_RejectsEmptyBody(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))

	var dst map[string]any
	err := DecodeJSON(w, r, &dst)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Message, "empty")
}

func TestDecodeJSON_RejectsTrailingValues(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}{"b":2}`))

	var dst map[string]any
	err := DecodeJSON(w, r, &dst)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "single JSON object")
}
