package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/YixiaoOneSmile/QMChatStudio/internal/dto"
	"github.com/YixiaoOneSmile/QMChatStudio/internal/pkg/logger"
	"github.com/YixiaoOneSmile/QMChatStudio/pkg/events"
	pkgNats "github.com/YixiaoOneSmile/QMChatStudio/pkg/nats"
)

type IConsumerService interface {
	Consume(ctx context.Context) error
}

// consumerService drains completed-turn events off the in-process bus,
// writes them to the stream log, and forwards them to NATS when a
// publisher is wired.
type consumerService struct {
	pubSub         *gochannel.GoChannel
	topicName      string
	streamLogger   logger.ILogger
	eventPublisher *pkgNats.Publisher
}

func NewConsumerService(
	pubSub *gochannel.GoChannel,
	topicName string,
	streamLogger logger.ILogger,
	eventPublisher *pkgNats.Publisher,
) IConsumerService {
	return &consumerService{
		pubSub:         pubSub,
		topicName:      topicName,
		streamLogger:   streamLogger,
		eventPublisher: eventPublisher,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.pubSub.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	var turn dto.ChatTurnResult
	if err := json.Unmarshal(msg.Payload, &turn); err != nil {
		// Ack invalid messages to prevent infinite retry.
		cs.streamLogger.Error("consumer", "failed to unmarshal turn event", map[string]interface{}{
			"error": err.Error(),
		})
		msg.Ack()
		return
	}

	cs.streamLogger.Info("consumer", "chat turn completed", map[string]interface{}{
		"conversation_id":      turn.ConversationId,
		"assistant_message_id": turn.AssistantMessageId,
		"content_length":       len(turn.AssistantContent),
		"completed":            turn.Completed,
	})

	if cs.eventPublisher != nil {
		event := events.BaseEvent{
			Type: "CHAT_TURN_COMPLETED",
			Data: map[string]interface{}{
				"conversation_id":      turn.ConversationId,
				"user_message_id":      turn.UserMessageId,
				"assistant_message_id": turn.AssistantMessageId,
				"completed":            turn.Completed,
				"time":                 time.Now().Format(time.RFC3339),
			},
			OccurredAt: time.Now(),
		}
		if err := cs.eventPublisher.Publish(ctx, event); err != nil {
			fmt.Printf("[WARN] Failed to publish CHAT_TURN_COMPLETED event: %v\n", err)
		}
	}

	msg.Ack()
}
