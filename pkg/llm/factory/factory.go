package factory

import (
	"fmt"

	"github.com/YixiaoOneSmile/QMChatStudio/pkg/llm"
	"github.com/YixiaoOneSmile/QMChatStudio/pkg/llm/ollama"
	"github.com/YixiaoOneSmile/QMChatStudio/pkg/llm/openai"
)

func NewLLMProvider(providerType, modelName, baseURL, apiKey, ollamaBaseURL string) (llm.LLMProvider, error) {
	switch providerType {
	case "openai":
		return openai.NewOpenAIProvider(apiKey, baseURL, modelName), nil
	case "ollama":
		if ollamaBaseURL == "" {
			ollamaBaseURL = "http://localhost:11434" // Default
		}
		return ollama.NewOllamaProvider(ollamaBaseURL, modelName), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", providerType)
	}
}
