package llm

import (
	"context"
	"testing"

	"github.com/lk2023060901/agentchat-backend/internal/assistant/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitter(t *testing.T) {
	e := NewEmitter(4)
	ctx := context.Background()

	require.NoError(t, e.Send(ctx, &types.Frame{Type: types.FrameText}))
	e.Abort(&types.Frame{Type: types.FrameAbort})
	e.Abort(&types.Frame{Type: types.FrameAbort})
	assert.Error(t, e.Send(ctx, &types.Frame{Type: types.FrameText}))
	e.Close()
	e.Close()

	var got []types.FrameType
	for f := range e.Frames() {
		got = append(got, f.Type)
	}
	assert.Equal(t, []types.FrameType{types.FrameText, types.FrameAbort}, got)
}

func TestEmitter_AbortDropsWhenFull(t *testing.T) {
	e := NewEmitter(1)
	require.NoError(t, e.Send(context.Background(), &types.Frame{Type: types.FrameText}))
	e.Abort(&types.Frame{Type: types.FrameAbort})
	e.Close()

	var n int
	for range e.Frames() {
		n++
	}
	assert.Equal(t, 1, n)
}

func TestEmitter_SendRespectsContext(t *testing.T) {
	e := NewEmitter(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, e.Send(ctx, &types.Frame{}), context.Canceled)
}
