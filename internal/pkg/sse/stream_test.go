package sse

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestEventFormatSSE(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{name: "data only", event: Event{Data: map[string]any{"response": "hi"}}, want: "data: {\"response\":\"hi\"}\n\n"},
		{name: "typed event", event: Event{Type: "done", Data: 1}, want: "event: done\ndata: 1\n\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.event.FormatSSE()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Event{Data: make(chan int)}.FormatSSE()
	assert.Error(t, err)
}

type frame struct {
	Response string `json:"response"`
	Type     string `json:"type"`
}

func TestRelay(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	frames := make(chan frame, 3)
	frames <- frame{Response: "Hel", Type: "text"}
	frames <- frame{Response: "lo", Type: "text"}
	close(frames)

	s := NewStream(c, WithHeartbeat(0))
	require.NoError(t, Relay(context.Background(), s, frames))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t,
		"data: {\"response\":\"Hel\",\"type\":\"text\"}\n\n"+
			"data: {\"response\":\"lo\",\"type\":\"text\"}\n\n",
		w.Body.String())
}

func TestRelay_Heartbeat(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	frames := make(chan frame)
	s := NewStream(c, WithHeartbeat(5*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- Relay(context.Background(), s, frames) }()

	time.Sleep(30 * time.Millisecond)
	close(frames)
	require.NoError(t, <-done)
	assert.True(t, strings.HasPrefix(w.Body.String(), ": heartbeat\n\n"))
}

func TestRelay_ClientGone(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Relay(ctx, NewStream(c), make(chan frame))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStream_Closed(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	var gotErr error
	s := NewStream(c, OnError(func(err error) { gotErr = err }))
	require.NoError(t, s.SendEvent("ping", "x"))
	require.NoError(t, s.Close())
	assert.True(t, s.IsClosed())
	assert.True(t, errors.Is(s.Send("late"), ErrStreamClosed))
	assert.NoError(t, gotErr)
	assert.Equal(t, "event: ping\ndata: \"x\"\n\n", w.Body.String())
}
