package constant

const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
	MessageRoleSystem    = "system"

	MessageStatusPendingLocal = "pending_local"
	MessageStatusStreaming    = "streaming"
	MessageStatusComplete     = "complete"

	// Prepended to every prompt sent to the model provider.
	SystemPromptV1 = "You are a helpful assistant."

	// Conversation titles are derived from the first user turn.
	ConversationTitleMaxRunes = 20
)
