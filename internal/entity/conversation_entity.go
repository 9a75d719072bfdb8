package entity

import (
	"time"

	"github.com/google/uuid"
)

type Conversation struct {
	Id        string
	UserId    uuid.UUID
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Message struct {
	Id             string
	ConversationId string
	Chat           string
	Role           string
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
