package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/madcadaver/dbot/internal/models"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAI 是一个用于 OpenAI 兼容 API 的 LLM 客户端，同样适用于 LocalAI 等自建端点。
type OpenAI struct {
	client *openai.Client // OpenAI 客户端实例。
	model  string         // 要使用的模型名称。
	opts   Options        // 采样配置。
	tools  []openai.Tool  // 为该客户端配置的工具列表
}

// NewOpenAI 创建一个新的 OpenAI 客户端。
func NewOpenAI(model, apiKey, baseURL string, opts Options, tools []openai.Tool) (*OpenAI, error) {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	client := openai.NewClientWithConfig(config)
	return &OpenAI{
		client: client,
		model:  model,
		opts:   opts,
		tools:  tools,
	}, nil
}

// GenerateContent 使用 OpenAI API 生成内容。
func (o *OpenAI) GenerateContent(ctx context.Context, req *models.GenerateContentRequest) (*models.GenerateContentResponse, error) {
	openaiReq := o.toOpenAIRequest(req)

	// 如果配置了工具，则添加到请求中
	if len(o.tools) > 0 {
		openaiReq.Tools = o.tools
	}

	resp, err := o.client.CreateChatCompletion(ctx, openaiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion: %w", err)
	}

	return o.toGenerateContentResponse(&resp), nil
}

// GenerateContentStream 使用 OpenAI API 以流式方式生成内容。
func (o *OpenAI) GenerateContentStream(ctx context.Context, req *models.GenerateContentRequest) (<-chan *models.GenerateContentResponse, error) {
	openaiReq := o.toOpenAIRequest(req)

	if len(o.tools) > 0 {
		openaiReq.Tools = o.tools
	}

	stream, err := o.client.CreateChatCompletionStream(ctx, openaiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion stream: %w", err)
	}

	respChan := make(chan *models.GenerateContentResponse)

	go func() {
		defer close(respChan)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if err != nil {
				return
			}
			respChan <- o.toGenerateContentResponseStream(&resp)
		}
	}()

	return respChan, nil
}

// toOpenAIRequest 将我们的内部请求格式转换为 OpenAI 格式。
// 函数调用与函数响应分别映射为 assistant 的 tool_calls 与 tool 消息。
func (o *OpenAI) toOpenAIRequest(req *models.GenerateContentRequest) openai.ChatCompletionRequest {
	var messages []openai.ChatCompletionMessage
	for _, content := range req.Content {
		messages = append(messages, toOpenAIMessages(content)...)
	}

	openaiReq := openai.ChatCompletionRequest{
		Model:     o.model,
		Messages:  messages,
		MaxTokens: o.opts.MaxOutput,
	}
	// Temperature 在请求结构中是指针，零值表示沿用服务端默认。
	if o.opts.Temperature > 0 {
		openaiReq.Temperature = &o.opts.Temperature
	}
	return openaiReq
}

// toOpenAIMessages 将一条内部 Content 展开为一条或多条 OpenAI 消息。
func toOpenAIMessages(content models.Content) []openai.ChatCompletionMessage {
	role := string(content.Role)
	if content.Role == models.SpeakerModel {
		role = string(models.SpeakerAssistant)
	}

	var messages []openai.ChatCompletionMessage
	var textParts string
	var toolCalls []openai.ToolCall

	for _, part := range content.Parts {
		if part == nil {
			continue
		}
		switch {
		case part.FunctionCall != nil:
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   part.FunctionCall.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      part.FunctionCall.Name,
					Arguments: part.FunctionCall.ArgsToString(),
				},
			})
		case part.FunctionResponse != nil:
			payload, err := json.Marshal(part.FunctionResponse.Response)
			if err != nil {
				payload = []byte(`{}`)
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       string(models.SpeakerTool),
				Content:    string(payload),
				Name:       part.FunctionResponse.Name,
				ToolCallID: part.FunctionResponse.ID,
			})
		case part.Text != "":
			textParts += part.Text
		}
	}

	if textParts != "" || len(toolCalls) > 0 {
		msg := openai.ChatCompletionMessage{
			Role:      role,
			Content:   textParts,
			ToolCalls: toolCalls,
		}
		// 保证函数响应出现在触发它的 assistant 消息之后。
		messages = append([]openai.ChatCompletionMessage{msg}, messages...)
	}

	return messages
}

// toGenerateContentResponse 将 OpenAI 响应转换为我们的内部格式。
func (o *OpenAI) toGenerateContentResponse(resp *openai.ChatCompletionResponse) *models.GenerateContentResponse {
	var content []models.Content
	for _, choice := range resp.Choices {
		var parts []*models.Part
		if choice.Message.Content != "" {
			parts = append(parts, &models.Part{Text: choice.Message.Content})
		}
		for _, tc := range choice.Message.ToolCalls {
			args := map[string]any{}
			if tc.Function.Arguments != "" {
				// 参数解析失败时保留原始字符串，让上层的参数校验给出结构化错误。
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
					args = map[string]any{"_raw": tc.Function.Arguments}
				}
			}
			parts = append(parts, &models.Part{
				FunctionCall: &models.FunctionCall{
					ID:   tc.ID,
					Name: tc.Function.Name,
					Args: args,
				},
			})
		}
		content = append(content, models.Content{
			Parts: parts,
			Role:  models.SpeakerModel,
		})
	}

	return &models.GenerateContentResponse{
		Content:      content,
		ResponseID:   resp.ID,
		ModelVersion: resp.Model,
	}
}

// toGenerateContentResponseStream 将 OpenAI 流式响应转换为我们的内部格式。
func (o *OpenAI) toGenerateContentResponseStream(resp *openai.ChatCompletionStreamResponse) *models.GenerateContentResponse {
	var content []models.Content
	for _, choice := range resp.Choices {
		content = append(content, models.Content{
			Parts: []*models.Part{
				{Text: choice.Delta.Content},
			},
			Role: models.SpeakerModel,
		})
	}

	return &models.GenerateContentResponse{
		Content:      content,
		ResponseID:   resp.ID,
		ModelVersion: resp.Model,
	}
}
