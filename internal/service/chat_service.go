package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/YixiaoOneSmile/QMChatStudio/internal/constant"
	"github.com/YixiaoOneSmile/QMChatStudio/internal/dto"
	"github.com/YixiaoOneSmile/QMChatStudio/internal/entity"
	"github.com/YixiaoOneSmile/QMChatStudio/internal/pkg/logger"
	"github.com/YixiaoOneSmile/QMChatStudio/pkg/llm"
	"github.com/YixiaoOneSmile/QMChatStudio/pkg/streamrelay"
)

type IChatService interface {
	// SendChat runs one streaming turn. It returns once the turn is set up
	// and the model stream is open; deltas arrive on the returned stream's
	// relay and the final turn result on its Result channel.
	SendChat(ctx context.Context, userId uuid.UUID, req *dto.SendChatRequest) (*ChatStream, error)
}

// ChatStream is the live handle the transport layer consumes.
type ChatStream struct {
	ConversationId     string
	ConversationTitle  string
	UserMessageId      string
	AssistantMessageId string
	Relay              *streamrelay.Relay
	Result             <-chan dto.ChatTurnResult
}

type chatService struct {
	conversations IConversationService
	provider      llm.LLMProvider
	prompts       *PromptBuilder
	publisher     IPublisherService
	logger        logger.ILogger

	historyLimit int
	idleTimeout  time.Duration
	relayBuffer  int
}

func NewChatService(
	conversations IConversationService,
	provider llm.LLMProvider,
	prompts *PromptBuilder,
	publisher IPublisherService,
	log logger.ILogger,
	historyLimit int,
	idleTimeout time.Duration,
	relayBuffer int,
) IChatService {
	if historyLimit <= 0 {
		historyLimit = 10
	}
	if idleTimeout <= 0 {
		idleTimeout = 120 * time.Second
	}
	return &chatService{
		conversations: conversations,
		provider:      provider,
		prompts:       prompts,
		publisher:     publisher,
		logger:        log,
		historyLimit:  historyLimit,
		idleTimeout:   idleTimeout,
		relayBuffer:   relayBuffer,
	}
}

func (s *chatService) SendChat(ctx context.Context, userId uuid.UUID, req *dto.SendChatRequest) (*ChatStream, error) {
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, fmt.Errorf("%w: message must not be empty", ErrInvalidInput)
	}

	now := time.Now()
	conversationId := req.ConversationId
	if conversationId == "" {
		conversationId = fmt.Sprintf("conv_%d", now.UnixNano())
	}

	// Ownership is checked here, before any message row is written.
	conv, created, err := s.conversations.ResolveOrCreate(ctx, userId, conversationId, text)
	if err != nil {
		return nil, err
	}

	// History is captured before this turn's rows exist, so the prompt
	// never contains the user text twice.
	history, err := s.conversations.GetRecentMessages(ctx, conversationId, s.historyLimit)
	if err != nil {
		return nil, err
	}

	userMsg := &entity.Message{
		Id:             fmt.Sprintf("msg_%d_user", now.UnixNano()),
		ConversationId: conversationId,
		Chat:           text,
		Role:           constant.MessageRoleUser,
		Status:         constant.MessageStatusComplete,
		CreatedAt:      now,
	}
	if err := s.conversations.AppendMessage(ctx, userMsg); err != nil {
		return nil, err
	}

	placeholder := &entity.Message{
		Id:             fmt.Sprintf("msg_%d_assistant", now.UnixNano()),
		ConversationId: conversationId,
		Chat:           "",
		Role:           constant.MessageRoleAssistant,
		Status:         constant.MessageStatusStreaming,
		CreatedAt:      now.Add(time.Millisecond),
	}
	if err := s.conversations.AppendMessage(ctx, placeholder); err != nil {
		return nil, err
	}

	prompt := s.prompts.Build(history, text)

	var options []llm.Option
	if req.Model != "" {
		options = append(options, llm.WithModel(req.Model))
	}

	// The pump outlives the request context: a client disconnect must not
	// abort finalization, only the upstream pull.
	pumpCtx, pumpCancel := context.WithCancel(context.WithoutCancel(ctx))

	events, err := s.provider.ChatStream(pumpCtx, prompt, options...)
	if err != nil {
		pumpCancel()
		s.logger.Error("chat", "model stream failed to open", map[string]interface{}{
			"conversation_id": conversationId,
			"error":           err.Error(),
		})
		s.finalize(placeholder.Id, "", conversationId)
		return nil, fmt.Errorf("%w: %v", ErrUpstreamModel, err)
	}

	relay := streamrelay.New(s.relayBuffer)
	result := make(chan dto.ChatTurnResult, 1)

	go s.pump(pumpCtx, pumpCancel, events, relay, pumpState{
		conversationId:     conversationId,
		conversationTitle:  conv.Title,
		userMessageId:      userMsg.Id,
		assistantMessageId: placeholder.Id,
		created:            created,
	}, result)

	return &ChatStream{
		ConversationId:     conversationId,
		ConversationTitle:  conv.Title,
		UserMessageId:      userMsg.Id,
		AssistantMessageId: placeholder.Id,
		Relay:              relay,
		Result:             result,
	}, nil
}

type pumpState struct {
	conversationId     string
	conversationTitle  string
	userMessageId      string
	assistantMessageId string
	created            bool
}

// pump pulls model deltas, forwards them through the relay, and finalizes
// the assistant message exactly once with whatever content accumulated.
func (s *chatService) pump(
	ctx context.Context,
	cancel context.CancelFunc,
	events <-chan llm.StreamEvent,
	relay *streamrelay.Relay,
	state pumpState,
	result chan<- dto.ChatTurnResult,
) {
	defer cancel()

	var content strings.Builder
	completed := false

	idle := time.NewTimer(s.idleTimeout)
	defer idle.Stop()

loop:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Provider closed without a terminal event; treat the
				// transport end as completion of what we have.
				completed = true
				break loop
			}
			if ev.Err != nil {
				s.logger.Warn("chat", "model stream failed mid-turn", map[string]interface{}{
					"conversation_id": state.conversationId,
					"error":           ev.Err.Error(),
				})
				relay.Fail(fmt.Errorf("%w: %v", ErrUpstreamModel, ev.Err))
				break loop
			}
			if ev.Done {
				completed = true
				break loop
			}

			content.WriteString(ev.Content)
			if !relay.Publish(ev.Content) {
				// Consumer went away; stop pulling and keep the partial.
				break loop
			}

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(s.idleTimeout)

		case <-idle.C:
			s.logger.Warn("chat", "model stream idle timeout", map[string]interface{}{
				"conversation_id": state.conversationId,
				"timeout":         s.idleTimeout.String(),
			})
			relay.Fail(fmt.Errorf("%w: stream idle for %s", ErrUpstreamModel, s.idleTimeout))
			break loop

		case <-relay.Cancelled():
			break loop
		}
	}

	// Stop the upstream pull before finalizing.
	cancel()
	relay.Close()

	final := content.String()
	s.finalize(state.assistantMessageId, final, state.conversationId)

	turn := dto.ChatTurnResult{
		ConversationId:     state.conversationId,
		ConversationTitle:  state.conversationTitle,
		UserMessageId:      state.userMessageId,
		AssistantMessageId: state.assistantMessageId,
		AssistantContent:   final,
		Completed:          completed,
	}
	result <- turn
	close(result)

	if s.publisher != nil {
		if err := s.publisher.PublishTurnCompleted(context.Background(), &turn); err != nil {
			s.logger.Warn("chat", "failed to publish turn event", map[string]interface{}{
				"conversation_id": state.conversationId,
				"error":           err.Error(),
			})
		}
	}
}

// finalize marks the assistant message complete with the accumulated
// content. It runs on its own context and retries once; a turn must never
// leave a message stuck in streaming because the request context died.
func (s *chatService) finalize(messageId, content, conversationId string) {
	ctx, cancelFn := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFn()

	err := s.conversations.FinalizeMessage(ctx, messageId, content, constant.MessageStatusComplete)
	if err == nil {
		return
	}

	s.logger.Warn("chat", "finalize failed, retrying", map[string]interface{}{
		"conversation_id": conversationId,
		"message_id":      messageId,
		"error":           err.Error(),
	})

	if err := s.conversations.FinalizeMessage(ctx, messageId, content, constant.MessageStatusComplete); err != nil {
		s.logger.Error("chat", "finalize failed", map[string]interface{}{
			"conversation_id": conversationId,
			"message_id":      messageId,
			"error":           err.Error(),
		})
	}
}
