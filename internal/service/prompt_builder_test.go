package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/YixiaoOneSmile/QMChatStudio/internal/constant"
	"github.com/YixiaoOneSmile/QMChatStudio/internal/entity"
)

func TestPromptBuilderEmptyHistory(t *testing.T) {
	b := NewPromptBuilder("")

	got := b.Build(nil, "Hi")

	assert.Len(t, got, 2)
	assert.Equal(t, "system", got[0].Role)
	assert.Equal(t, constant.SystemPromptV1, got[0].Content)
	assert.Equal(t, "user", got[1].Role)
	assert.Equal(t, "Hi", got[1].Content)
}

func TestPromptBuilderHistoryOrderAndRoles(t *testing.T) {
	history := []*entity.Message{
		{Role: constant.MessageRoleUser, Chat: "first question"},
		{Role: constant.MessageRoleAssistant, Chat: "first answer"},
		{Role: constant.MessageRoleUser, Chat: "second question"},
	}

	b := NewPromptBuilder("custom prompt")
	got := b.Build(history, "third question")

	assert.Len(t, got, 5)
	assert.Equal(t, "system", got[0].Role)
	assert.Equal(t, "custom prompt", got[0].Content)
	assert.Equal(t, "user", got[1].Role)
	assert.Equal(t, "assistant", got[2].Role)
	assert.Equal(t, "user", got[3].Role)
	assert.Equal(t, "user", got[4].Role)
	assert.Equal(t, "third question", got[4].Content)
}

func TestPromptBuilderUserTurnAppearsOnce(t *testing.T) {
	// The history is captured before the current turn is persisted, so the
	// builder must not deduplicate or re-append anything itself.
	history := []*entity.Message{
		{Role: constant.MessageRoleUser, Chat: "repeat me"},
	}

	b := NewPromptBuilder("")
	got := b.Build(history, "repeat me")

	count := 0
	for _, m := range got {
		if m.Role == "user" && m.Content == "repeat me" {
			count++
		}
	}
	assert.Equal(t, 2, count)
	assert.Equal(t, "repeat me", got[len(got)-1].Content)
}

func TestPromptBuilderSkipsUnknownRoles(t *testing.T) {
	history := []*entity.Message{
		{Role: "loading", Chat: "placeholder junk"},
		{Role: constant.MessageRoleAssistant, Chat: "kept"},
	}

	b := NewPromptBuilder("")
	got := b.Build(history, "Hi")

	assert.Len(t, got, 3)
	assert.Equal(t, "kept", got[1].Content)
}
