package llm

import (
	"context"
	"fmt"

	"github.com/madcadaver/dbot/internal/config"
	"github.com/madcadaver/dbot/internal/models"

	"github.com/mark3labs/mcp-go/mcp"
)

// LLM 定义了所有大型语言模型客户端必须实现的通用接口。
type LLM interface {
	GenerateContent(ctx context.Context, req *models.GenerateContentRequest) (*models.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, req *models.GenerateContentRequest) (<-chan *models.GenerateContentResponse, error)
}

// Options 控制模型采样行为，所有提供商共享。
type Options struct {
	Temperature float32 // 采样温度。
	MaxOutput   int     // 单次回复的最大 token 数。
}

// NewClient 是一个工厂函数，根据提供的配置创建并返回一个实现了 LLM 接口的客户端。
// 它接收统一的工具清单，并将其转换为各提供商的声明格式注入客户端，使模型能够感知并调用这些工具。
func NewClient(cfg config.LLMConfig, opts Options, tools []*mcp.Tool) (LLM, error) {
	switch cfg.Provider {
	case "openai":
		openaiTools, err := ConvertToolsToOpenAI(tools)
		if err != nil {
			return nil, err
		}
		return NewOpenAI(cfg.OpenAI.Model, cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, opts, openaiTools)
	case "gemini":
		geminiTools, err := ConvertToolsToGemini(tools)
		if err != nil {
			return nil, err
		}
		return NewGemini(context.Background(), cfg.Gemini.Model, cfg.Gemini.APIKey, opts, geminiTools)
	case "ollama":
		// Ollama 不支持工具声明，模型只能给出文本决策。
		return NewOllama(cfg.Ollama.Model, cfg.Ollama.BaseURL, opts)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
