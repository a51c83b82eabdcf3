package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/madcadaver/dbot/internal/models"

	olla "github.com/ollama/ollama/api"
)

// Ollama 是一个用于 Ollama API 的 LLM 客户端。
type Ollama struct {
	client *olla.Client // Ollama 客户端实例。
	model  string       // 要使用的模型名称。
	opts   Options      // 采样配置。
}

// NewOllama 创建一个新的 Ollama 客户端。
//
// 参数:
//
//	model: 要使用的模型名称。
//	baseURL: Ollama 服务的基准 URL。如果为空，则默认为 "http://localhost:11434"。
//	opts: 采样配置。
//
// 返回值:
//
//	*Ollama: 新创建的 Ollama 客户端实例。
//	error: 如果基准 URL 无效，则返回错误。
func NewOllama(model, baseURL string, opts Options) (*Ollama, error) {
	// 如果 baseURL 为空，则使用默认地址。
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	// 将字符串 URL 转换为 *url.URL。
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	// 创建一个带有超时设置的 HTTP 客户端。
	hc := &http.Client{
		Timeout: 120 * time.Second,
	}

	// 创建 Ollama 客户端。
	client := olla.NewClient(parsedURL, hc)

	return &Ollama{client: client, model: model, opts: opts}, nil
}

// GenerateContent 使用 Ollama Chat API 生成内容。
func (o *Ollama) GenerateContent(ctx context.Context, req *models.GenerateContentRequest) (*models.GenerateContentResponse, error) {
	messages := o.toOllamaMessages(req)

	var result *olla.ChatResponse // 用于存储生成结果。

	// 调用 Ollama 客户端的 Chat 方法生成内容。
	err := o.client.Chat(ctx, &olla.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &[]bool{false}[0], // 设置为非流式传输。
		Options: map[string]any{
			"temperature": o.opts.Temperature,
		},
	}, func(resp olla.ChatResponse) error {
		result = &resp // 存储响应。
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to generate content with ollama: %w", err)
	}
	if result == nil {
		return nil, fmt.Errorf("ollama returned no response")
	}

	return o.toGenerateContentResponse(result), nil // 将 Ollama 响应转换为内部响应格式。
}

// GenerateContentStream 使用 Ollama Chat API 以流式方式生成内容。
func (o *Ollama) GenerateContentStream(ctx context.Context, req *models.GenerateContentRequest) (<-chan *models.GenerateContentResponse, error) {
	messages := o.toOllamaMessages(req)
	respChan := make(chan *models.GenerateContentResponse) // 创建用于发送响应的通道。

	// 启动一个 goroutine 来处理流式响应。
	go func() {
		defer close(respChan) // 确保在 goroutine 退出时关闭通道。

		err := o.client.Chat(ctx, &olla.ChatRequest{
			Model:    o.model,
			Messages: messages,
			Stream:   &[]bool{true}[0], // 设置为流式传输。
		}, func(resp olla.ChatResponse) error {
			respChan <- o.toGenerateContentResponse(&resp) // 转换为内部响应格式并发送到通道。
			return nil
		})

		if err != nil {
			return
		}
	}()

	return respChan, nil
}

// toOllamaMessages 将内部 GenerateContentRequest 转换为 Ollama 消息列表。
// 函数调用与响应以 JSON 文本形式内联，因为 Ollama 不支持结构化工具消息。
func (o *Ollama) toOllamaMessages(req *models.GenerateContentRequest) []olla.Message {
	var messages []olla.Message
	for _, content := range req.Content {
		role := string(content.Role)
		if content.Role == models.SpeakerModel {
			role = string(models.SpeakerAssistant)
		}

		var text string
		for _, part := range content.Parts {
			if part == nil {
				continue
			}
			switch {
			case part.Text != "":
				text += part.Text
			case part.FunctionCall != nil:
				text += fmt.Sprintf("[tool call] %s(%s)", part.FunctionCall.Name, part.FunctionCall.ArgsToString())
			case part.FunctionResponse != nil:
				payload, err := json.Marshal(part.FunctionResponse.Response)
				if err == nil {
					text += fmt.Sprintf("[tool result] %s: %s", part.FunctionResponse.Name, payload)
				}
			}
		}
		if text == "" {
			continue
		}
		messages = append(messages, olla.Message{Role: role, Content: text})
	}
	return messages
}

// toGenerateContentResponse 将 Ollama ChatResponse 转换为内部 GenerateContentResponse 结构体。
func (o *Ollama) toGenerateContentResponse(resp *olla.ChatResponse) *models.GenerateContentResponse {
	return &models.GenerateContentResponse{
		Content: []models.Content{
			{
				Parts: []*models.Part{{Text: resp.Message.Content}},
				Role:  models.SpeakerModel,
			},
		},
		ModelVersion: resp.Model,
	}
}
