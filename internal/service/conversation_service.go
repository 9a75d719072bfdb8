package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/YixiaoOneSmile/QMChatStudio/internal/constant"
	"github.com/YixiaoOneSmile/QMChatStudio/internal/dto"
	"github.com/YixiaoOneSmile/QMChatStudio/internal/entity"
	"github.com/YixiaoOneSmile/QMChatStudio/internal/pkg/logger"
	"github.com/YixiaoOneSmile/QMChatStudio/internal/repository/memory"
	"github.com/YixiaoOneSmile/QMChatStudio/internal/repository/specification"
	"github.com/YixiaoOneSmile/QMChatStudio/internal/repository/unitofwork"
)

type IConversationService interface {
	CreateConversation(ctx context.Context, userId uuid.UUID, req *dto.CreateConversationRequest) (*dto.ConversationResponse, error)
	ListConversations(ctx context.Context, userId uuid.UUID) ([]dto.ConversationResponse, error)
	GetConversationWithMessages(ctx context.Context, userId uuid.UUID, conversationId string) (*dto.ConversationWithMessagesResponse, error)
	UpdateConversationTitle(ctx context.Context, userId uuid.UUID, conversationId, title string) error
	DeleteConversation(ctx context.Context, userId uuid.UUID, conversationId string) error
	AppendMessageForUser(ctx context.Context, userId uuid.UUID, conversationId string, req *dto.AppendMessageRequest) (*dto.MessageResponse, error)
	PatchMessageStatus(ctx context.Context, userId uuid.UUID, conversationId, messageId, status string) error

	// Store operations used by the chat orchestrator.
	ResolveOrCreate(ctx context.Context, userId uuid.UUID, conversationId, titleSeed string) (*entity.Conversation, bool, error)
	GetRecentMessages(ctx context.Context, conversationId string, limit int) ([]*entity.Message, error)
	AppendMessage(ctx context.Context, msg *entity.Message) error
	FinalizeMessage(ctx context.Context, messageId, content, status string) error
}

type conversationService struct {
	uowFactory   unitofwork.RepositoryFactory
	listingCache *memory.ListingCache
	logger       logger.ILogger
}

func NewConversationService(
	uowFactory unitofwork.RepositoryFactory,
	listingCache *memory.ListingCache,
	log logger.ILogger,
) IConversationService {
	return &conversationService{
		uowFactory:   uowFactory,
		listingCache: listingCache,
		logger:       log,
	}
}

// statusRank orders message statuses. Transitions may only move forward.
func statusRank(status string) int {
	switch status {
	case constant.MessageStatusPendingLocal:
		return 0
	case constant.MessageStatusStreaming:
		return 1
	case constant.MessageStatusComplete:
		return 2
	default:
		return -1
	}
}

// TruncateTitle derives a conversation title from the first user message.
// The suffix is only added when something was actually cut.
func TruncateTitle(text string) string {
	runes := []rune(text)
	if len(runes) <= constant.ConversationTitleMaxRunes {
		return text
	}
	return string(runes[:constant.ConversationTitleMaxRunes]) + "..."
}

func (s *conversationService) CreateConversation(ctx context.Context, userId uuid.UUID, req *dto.CreateConversationRequest) (*dto.ConversationResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	existing, err := uow.ConversationRepository().FindOne(ctx, specification.ByID{ID: req.Id})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: conversation %s already exists", ErrConflict, req.Id)
	}

	now := time.Now()
	conv := &entity.Conversation{
		Id:        req.Id,
		UserId:    userId,
		Title:     req.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uow.ConversationRepository().Create(ctx, conv); err != nil {
		return nil, translateWriteError(err)
	}

	s.listingCache.Invalidate(userId)

	res := toConversationResponse(conv)
	return &res, nil
}

func (s *conversationService) ListConversations(ctx context.Context, userId uuid.UUID) ([]dto.ConversationResponse, error) {
	if cached, ok := s.listingCache.Get(userId); ok {
		res := make([]dto.ConversationResponse, 0, len(cached))
		for _, conv := range cached {
			res = append(res, toConversationResponse(conv))
		}
		return res, nil
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	conversations, err := uow.ConversationRepository().FindAll(ctx,
		specification.UserOwnedBy{UserID: userId},
		specification.OrderBy{Field: "updated_at", Desc: true},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	res := make([]dto.ConversationResponse, 0, len(conversations))
	for _, conv := range conversations {
		res = append(res, toConversationResponse(conv))
	}

	s.listingCache.Save(userId, conversations)
	return res, nil
}

func (s *conversationService) GetConversationWithMessages(ctx context.Context, userId uuid.UUID, conversationId string) (*dto.ConversationWithMessagesResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	conv, err := s.findOwned(ctx, uow, userId, conversationId)
	if err != nil {
		return nil, err
	}

	messages, err := uow.MessageRepository().FindAll(ctx,
		specification.ByConversationID{ConversationID: conversationId},
		specification.OrderBy{Field: "created_at", Desc: false},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	res := &dto.ConversationWithMessagesResponse{
		Conversation: toConversationResponse(conv),
		Messages:     make([]dto.MessageResponse, 0, len(messages)),
	}
	for _, msg := range messages {
		res.Messages = append(res.Messages, toMessageResponse(msg))
	}
	return res, nil
}

func (s *conversationService) UpdateConversationTitle(ctx context.Context, userId uuid.UUID, conversationId, title string) error {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	conv, err := s.findOwned(ctx, uow, userId, conversationId)
	if err != nil {
		return err
	}

	conv.Title = title
	conv.UpdatedAt = time.Now()
	if err := uow.ConversationRepository().Update(ctx, conv); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	s.listingCache.Invalidate(userId)
	return nil
}

func (s *conversationService) DeleteConversation(ctx context.Context, userId uuid.UUID, conversationId string) error {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	conv, err := s.findOwned(ctx, uow, userId, conversationId)
	if err != nil {
		return err
	}

	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer uow.Rollback()

	if err := uow.MessageRepository().DeleteByConversationId(ctx, conversationId); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := uow.ConversationRepository().Delete(ctx, conv.Id); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	s.listingCache.Invalidate(userId)
	return nil
}

// AppendMessageForUser is the non-streaming append: ownership is verified
// first, explicit ids collide with Conflict, and the write pairs with the
// recency bump like every other message mutation.
func (s *conversationService) AppendMessageForUser(ctx context.Context, userId uuid.UUID, conversationId string, req *dto.AppendMessageRequest) (*dto.MessageResponse, error) {
	if strings.TrimSpace(req.Chat) == "" {
		return nil, fmt.Errorf("%w: chat must not be empty", ErrInvalidInput)
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	if _, err := s.findOwned(ctx, uow, userId, conversationId); err != nil {
		return nil, err
	}

	id := req.Id
	if id == "" {
		id = fmt.Sprintf("msg_%d_%s", time.Now().UnixNano(), req.Role)
	} else {
		existing, err := uow.MessageRepository().FindOne(ctx, specification.ByID{ID: id})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		if existing != nil {
			return nil, fmt.Errorf("%w: message %s already exists", ErrConflict, id)
		}
	}

	status := req.Status
	if status == "" {
		status = constant.MessageStatusComplete
	}

	msg := &entity.Message{
		Id:             id,
		ConversationId: conversationId,
		Chat:           req.Chat,
		Role:           req.Role,
		Status:         status,
		CreatedAt:      time.Now(),
	}
	if err := s.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}

	res := toMessageResponse(msg)
	return &res, nil
}

// PatchMessageStatus moves a message's status forward. Regressions are
// rejected with Conflict; the conversation recency bump rides the same
// transaction.
func (s *conversationService) PatchMessageStatus(ctx context.Context, userId uuid.UUID, conversationId, messageId, status string) error {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	if _, err := s.findOwned(ctx, uow, userId, conversationId); err != nil {
		return err
	}

	msg, err := uow.MessageRepository().FindOne(ctx, specification.ByID{ID: messageId})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if msg == nil || msg.ConversationId != conversationId {
		return fmt.Errorf("%w: message %s", ErrNotFound, messageId)
	}

	if statusRank(status) < statusRank(msg.Status) {
		return fmt.Errorf("%w: status %s -> %s", ErrConflict, msg.Status, status)
	}
	msg.Status = status

	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer uow.Rollback()

	if err := uow.MessageRepository().Update(ctx, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := s.touch(ctx, uow, conversationId); err != nil {
		return err
	}

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	s.listingCache.Invalidate(userId)
	return nil
}

// ResolveOrCreate returns the conversation with the given id, creating it
// for the user when it does not exist. A second call with the same id is a
// no-op returning the existing row. An existing conversation owned by a
// different user fails with ErrForbidden before anything is written.
func (s *conversationService) ResolveOrCreate(ctx context.Context, userId uuid.UUID, conversationId, titleSeed string) (*entity.Conversation, bool, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	existing, err := uow.ConversationRepository().FindOne(ctx, specification.ByID{ID: conversationId})
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if existing != nil {
		if existing.UserId != userId {
			return nil, false, fmt.Errorf("%w: conversation %s", ErrForbidden, conversationId)
		}
		return existing, false, nil
	}

	now := time.Now()
	conv := &entity.Conversation{
		Id:        conversationId,
		UserId:    userId,
		Title:     TruncateTitle(titleSeed),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uow.ConversationRepository().Create(ctx, conv); err != nil {
		return nil, false, translateWriteError(err)
	}

	s.listingCache.Invalidate(userId)
	return conv, true, nil
}

// GetRecentMessages returns the last limit messages of the conversation in
// chronological order. Fewer rows than the limit is not an error.
func (s *conversationService) GetRecentMessages(ctx context.Context, conversationId string, limit int) ([]*entity.Message, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	messages, err := uow.MessageRepository().FindAll(ctx,
		specification.ByConversationID{ConversationID: conversationId},
		specification.OrderBy{Field: "created_at", Desc: true},
		specification.Limit{N: limit},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// AppendMessage persists a message and bumps the owning conversation's
// updated_at in the same transaction. NotFound when the conversation is
// absent.
func (s *conversationService) AppendMessage(ctx context.Context, msg *entity.Message) error {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	conv, err := uow.ConversationRepository().FindOne(ctx, specification.ByID{ID: msg.ConversationId})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if conv == nil {
		return fmt.Errorf("%w: conversation %s", ErrNotFound, msg.ConversationId)
	}

	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer uow.Rollback()

	if err := uow.MessageRepository().Create(ctx, msg); err != nil {
		return translateWriteError(err)
	}
	if err := s.touch(ctx, uow, msg.ConversationId); err != nil {
		return err
	}

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	s.listingCache.Invalidate(conv.UserId)
	return nil
}

// FinalizeMessage rewrites a message's content and status together with the
// conversation recency bump. Status transitions are monotonic; a regression
// is rejected.
func (s *conversationService) FinalizeMessage(ctx context.Context, messageId, content, status string) error {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	msg, err := uow.MessageRepository().FindOne(ctx, specification.ByID{ID: messageId})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if msg == nil {
		return fmt.Errorf("%w: message %s", ErrNotFound, messageId)
	}

	if statusRank(status) < statusRank(msg.Status) {
		return fmt.Errorf("%w: status %s -> %s", ErrConflict, msg.Status, status)
	}

	conv, err := uow.ConversationRepository().FindOne(ctx, specification.ByID{ID: msg.ConversationId})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if conv == nil {
		return fmt.Errorf("%w: conversation %s", ErrNotFound, msg.ConversationId)
	}

	msg.Chat = content
	msg.Status = status

	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer uow.Rollback()

	if err := uow.MessageRepository().Update(ctx, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := s.touch(ctx, uow, msg.ConversationId); err != nil {
		return err
	}

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	s.listingCache.Invalidate(conv.UserId)
	return nil
}

// touch bumps the conversation's updated_at. A vanished conversation is
// NotFound, not a storage failure.
func (s *conversationService) touch(ctx context.Context, uow unitofwork.UnitOfWork, conversationId string) error {
	if err := uow.ConversationRepository().Touch(ctx, conversationId, time.Now()); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: conversation %s", ErrNotFound, conversationId)
		}
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// translateWriteError maps driver write failures onto the service taxonomy
// so a lost check-then-insert race still surfaces as Conflict.
func translateWriteError(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return fmt.Errorf("%w: %v", ErrStorage, err)
}

func (s *conversationService) findOwned(ctx context.Context, uow unitofwork.UnitOfWork, userId uuid.UUID, conversationId string) (*entity.Conversation, error) {
	conv, err := uow.ConversationRepository().FindOne(ctx, specification.ByID{ID: conversationId})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if conv == nil {
		return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, conversationId)
	}
	if conv.UserId != userId {
		return nil, fmt.Errorf("%w: conversation %s", ErrForbidden, conversationId)
	}
	return conv, nil
}

func toConversationResponse(conv *entity.Conversation) dto.ConversationResponse {
	return dto.ConversationResponse{
		Id:        conv.Id,
		Title:     conv.Title,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	}
}

func toMessageResponse(msg *entity.Message) dto.MessageResponse {
	return dto.MessageResponse{
		Id:             msg.Id,
		ConversationId: msg.ConversationId,
		Chat:           msg.Chat,
		Role:           msg.Role,
		Status:         msg.Status,
		CreatedAt:      msg.CreatedAt,
	}
}
