package failure

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("start appointment: %w", Conflict("occupy", "room", "OCUPADO", "room is not available"))

	assert.Equal(t, ResourceConflict, KindOf(err))
	assert.True(t, Is(err, ResourceConflict))
	assert.True(t, errors.Is(err, &Error{Kind: ResourceConflict}))
	assert.True(t, errors.Is(err, &Error{Kind: ResourceConflict, Entity: "room"}))
	assert.False(t, errors.Is(err, &Error{Kind: ResourceConflict, Entity: "appointment"}))
	assert.Contains(t, err.Error(), "room state OCUPADO")
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Transition("finalize", "appointment", "SCHEDULED"), http.StatusConflict},
		{Validation("create_manual_booking", "duration not allowed"), http.StatusUnprocessableEntity},
		{Missing("room"), http.StatusNotFound},
		{Timeout("resume_after_delay", "appointment", "WAITING", "delay window elapsed"), http.StatusGone},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), tt.err.Error())
	}
}
