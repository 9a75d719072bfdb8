package dto

type SendChatRequest struct {
	Message        string `json:"message" validate:"required"`
	ConversationId string `json:"conversation_id,omitempty" validate:"omitempty,max=64"`
	Model          string `json:"model,omitempty"`
}

// ChatTurnResult describes one completed streaming turn. It is what the
// orchestrator hands back after the stream has been fully consumed, and
// what the turn-completed event is built from.
type ChatTurnResult struct {
	ConversationId     string `json:"conversation_id"`
	ConversationTitle  string `json:"title"`
	UserMessageId      string `json:"user_message_id"`
	AssistantMessageId string `json:"assistant_message_id"`
	AssistantContent   string `json:"assistant_content"`
	Completed          bool   `json:"completed"`
}
