package contract

import (
	"context"

	"github.com/YixiaoOneSmile/QMChatStudio/internal/entity"
	"github.com/YixiaoOneSmile/QMChatStudio/internal/repository/specification"
)

type MessageRepository interface {
	Create(ctx context.Context, message *entity.Message) error
	Update(ctx context.Context, message *entity.Message) error
	Delete(ctx context.Context, id string) error
	DeleteByConversationId(ctx context.Context, conversationId string) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Message, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.Message, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
}
