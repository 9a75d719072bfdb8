package bootstrap

import (
	"log"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"gorm.io/gorm"

	"github.com/YixiaoOneSmile/QMChatStudio/internal/config"
	"github.com/YixiaoOneSmile/QMChatStudio/internal/constant"
	"github.com/YixiaoOneSmile/QMChatStudio/internal/controller"
	"github.com/YixiaoOneSmile/QMChatStudio/internal/pkg/logger"
	"github.com/YixiaoOneSmile/QMChatStudio/internal/repository/memory"
	"github.com/YixiaoOneSmile/QMChatStudio/internal/repository/unitofwork"
	"github.com/YixiaoOneSmile/QMChatStudio/internal/service"
	"github.com/YixiaoOneSmile/QMChatStudio/pkg/llm/factory"
	pkgNats "github.com/YixiaoOneSmile/QMChatStudio/pkg/nats"
)

const turnCompletedTopic = "CHAT_TURN_COMPLETED"

type Container struct {
	// Controllers
	AuthController         controller.IAuthController
	UserController         controller.IUserController
	ConversationController controller.IConversationController
	ChatController         controller.IChatController

	// Background services, run by main.go
	ConsumerService service.IConsumerService

	Logger logger.ILogger
}

func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// Core facades
	uowFactory := unitofwork.NewRepositoryFactory(db)
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")
	streamLogger := logger.NewIsolatedLogger(cfg.App.StreamLogFilePath)

	// Event bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermillLogger,
	)

	// LLM provider
	llmProvider, err := factory.NewLLMProvider(
		cfg.Ai.LLMProvider,
		cfg.Ai.LLMModel,
		cfg.Ai.LLMBaseURL,
		cfg.Ai.LLMAPIKey,
		cfg.Ai.OllamaBaseURL,
	)
	if err != nil {
		log.Fatalf("[FATAL] Failed to initialize LLM Provider: %v", err)
	}
	log.Printf("[INFO] Using LLM Provider: %s (%s)", cfg.Ai.LLMProvider, cfg.Ai.LLMModel)

	// NATS
	natsPub, err := pkgNats.NewPublisher(cfg.App.NatsURL)
	if err != nil {
		log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
		natsPub = nil
	}

	// In-memory listing cache
	listingCache := memory.NewListingCache()

	// Services
	conversationService := service.NewConversationService(uowFactory, listingCache, sysLogger)
	publisherService := service.NewPublisherService(pubSub, turnCompletedTopic)
	consumerService := service.NewConsumerService(pubSub, turnCompletedTopic, streamLogger, natsPub)

	promptBuilder := service.NewPromptBuilder(constant.SystemPromptV1)
	chatService := service.NewChatService(
		conversationService,
		llmProvider,
		promptBuilder,
		publisherService,
		sysLogger,
		cfg.Chat.HistoryLimit,
		cfg.Chat.StreamIdleTimeout,
		cfg.Chat.RelayBuffer,
	)

	authService := service.NewAuthService(uowFactory, natsPub, cfg.Auth.TokenLifetime)
	userService := service.NewUserService(uowFactory)

	return &Container{
		AuthController:         controller.NewAuthController(authService),
		UserController:         controller.NewUserController(userService),
		ConversationController: controller.NewConversationController(conversationService),
		ChatController:         controller.NewChatController(chatService),
		ConsumerService:        consumerService,
		Logger:                 sysLogger,
	}
}
