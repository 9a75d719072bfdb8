package model

import (
	"time"

	"github.com/google/uuid"
)

type Conversation struct {
	Id        string    `gorm:"type:varchar(64);primaryKey"`
	UserId    uuid.UUID `gorm:"type:uuid;not null;index"` // User ownership for data isolation
	Title     string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time // set explicitly, not autoUpdateTime: recency bumps are transactional
}

func (Conversation) TableName() string {
	return "conversations"
}

type Message struct {
	Id             string    `gorm:"type:varchar(64);primaryKey"`
	ConversationId string    `gorm:"type:varchar(64);not null;index"`
	Chat           string    `gorm:"type:text;not null"`
	Role           string    `gorm:"type:varchar(50);not null"`
	Status         string    `gorm:"type:varchar(50);not null"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`

	Conversation Conversation `gorm:"foreignKey:ConversationId;constraint:OnDelete:CASCADE"`
}

func (Message) TableName() string {
	return "messages"
}
