package dto

import "time"

type CreateConversationRequest struct {
	Id    string `json:"id" validate:"required,max=64"`
	Title string `json:"title" validate:"max=255"`
}

type UpdateConversationRequest struct {
	Title string `json:"title" validate:"required,max=255"`
}

type AppendMessageRequest struct {
	Id     string `json:"id,omitempty" validate:"omitempty,max=64"`
	Chat   string `json:"chat" validate:"required"`
	Role   string `json:"role" validate:"required,oneof=user assistant system"`
	Status string `json:"status,omitempty" validate:"omitempty,oneof=pending_local streaming complete"`
}

type PatchMessageStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending_local streaming complete"`
}

type ConversationResponse struct {
	Id        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type MessageResponse struct {
	Id             string    `json:"id"`
	ConversationId string    `json:"conversation_id"`
	Chat           string    `json:"chat"`
	Role           string    `json:"role"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

type ConversationWithMessagesResponse struct {
	Conversation ConversationResponse `json:"conversation"`
	Messages     []MessageResponse    `json:"messages"`
}
