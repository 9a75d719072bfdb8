package service

import (
	"github.com/YixiaoOneSmile/QMChatStudio/internal/constant"
	"github.com/YixiaoOneSmile/QMChatStudio/internal/entity"
	"github.com/YixiaoOneSmile/QMChatStudio/pkg/llm"
)

// PromptBuilder assembles the message array sent to the model provider:
// one system prompt, the recent history in stored order, then the current
// user turn exactly once at the end.
type PromptBuilder struct {
	systemPrompt string
}

func NewPromptBuilder(systemPrompt string) *PromptBuilder {
	if systemPrompt == "" {
		systemPrompt = constant.SystemPromptV1
	}
	return &PromptBuilder{systemPrompt: systemPrompt}
}

// Build maps stored roles onto provider roles. History entries with unknown
// roles are skipped rather than guessed at.
func (b *PromptBuilder) Build(history []*entity.Message, userText string) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: b.systemPrompt})

	for _, m := range history {
		role := mapStoredRole(m.Role)
		if role == "" {
			continue
		}
		messages = append(messages, llm.Message{Role: role, Content: m.Chat})
	}

	messages = append(messages, llm.Message{Role: "user", Content: userText})
	return messages
}

func mapStoredRole(role string) string {
	switch role {
	case constant.MessageRoleUser:
		return "user"
	case constant.MessageRoleAssistant:
		return "assistant"
	case constant.MessageRoleSystem:
		return "system"
	default:
		return ""
	}
}
