package contract

import (
	"context"
	"time"

	"github.com/YixiaoOneSmile/QMChatStudio/internal/entity"
	"github.com/YixiaoOneSmile/QMChatStudio/internal/repository/specification"
)

type ConversationRepository interface {
	Create(ctx context.Context, conversation *entity.Conversation) error
	Update(ctx context.Context, conversation *entity.Conversation) error
	// Touch bumps the recency timestamp. Must run inside the same unit of
	// work as the message write it pairs with.
	Touch(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Conversation, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.Conversation, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
}
