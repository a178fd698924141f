package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentDecodesBothForms(t *testing.T) {
	var legacy Message
	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":"hi"}`), &legacy))
	assert.False(t, legacy.Content.IsStructured())
	assert.Equal(t, "hi", legacy.Content.String())

	var structured Message
	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":[
		{"type":"text","text":"a"},
		{"type":"image_url","image_url":{"url":"http://x/y.png"}},
		{"type":"text","text":"b"}]}`), &structured))
	assert.True(t, structured.Content.IsStructured())
	assert.Len(t, structured.Content.Items, 3)
	assert.Equal(t, "a\nb", structured.Content.String())

	var bad Message
	assert.Error(t, json.Unmarshal([]byte(`{"role":"user","content":42}`), &bad))
}

func TestContentKeepsShapeWhenEncoding(t *testing.T) {
	raw, err := json.Marshal(NewTextMessage(RoleAssistant, "ok"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"assistant","content":"ok"}`, string(raw))

	raw, err = json.Marshal(Message{Role: RoleUser, Content: ItemsContent()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":[]}`, string(raw))
}

func TestWebSearchEnabled(t *testing.T) {
	assert.True(t, CompletionConfig{Tools: []string{"calc", WebSearchToolName}}.WebSearchEnabled())
	assert.False(t, CompletionConfig{}.WebSearchEnabled())
}
