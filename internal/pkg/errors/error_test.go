package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorIs(t *testing.T) {
	sentinel := New(ErrInsufficientCredits)

	wrapped := fmt.Errorf("deduct: %w", Newf(ErrInsufficientCredits, "need %d", 10))
	assert.True(t, errors.Is(wrapped, sentinel))
	assert.False(t, errors.Is(wrapped, New(ErrConcurrentUpdateConflict)))
	assert.True(t, Is(wrapped, ErrInsufficientCredits))
	assert.Equal(t, ErrInsufficientCredits, ExtractCode(wrapped))
}

func TestWrap(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     int
		details  []string
		wantCode int
		wantNil  bool
	}{
		{name: "nil error", err: nil, code: ErrInternalServer, wantNil: true},
		{name: "plain error takes code", err: errors.New("boom"), code: ErrUpstreamProvider, wantCode: ErrUpstreamProvider},
		{name: "app error keeps code", err: New(ErrModelNotFound), code: ErrInternalServer, wantCode: ErrModelNotFound},
		{name: "app error keeps code with details", err: New(ErrModelNotFound), code: ErrInternalServer, details: []string{"gpt-x"}, wantCode: ErrModelNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Wrap(tt.err, tt.code, tt.details...)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			assert.Equal(t, tt.wantCode, got.Code)
			assert.ErrorIs(t, got, New(tt.wantCode))
		})
	}
}

func TestCodeTable(t *testing.T) {
	assert.Equal(t, http.StatusPaymentRequired, GetHTTPStatus(ErrInsufficientCredits))
	assert.Equal(t, http.StatusConflict, GetHTTPStatus(ErrConcurrentUpdateConflict))
	assert.Equal(t, http.StatusInternalServerError, GetHTTPStatus(99999))
	assert.True(t, IsClientError(ErrTransferTooSmall))
	assert.Equal(t, "Model not found: gpt-x", FormatError(ErrModelNotFound, "gpt-x"))
	assert.Equal(t, "boom", GetDetails(errors.New("boom")))
}
