package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/madcadaver/dbot/internal/models"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Gemini 是一个实现了 LLM 接口的结构体，用于与 Gemini API 交互。
// 每次调用都携带完整的显式上下文，不在客户端保留会话状态。
type Gemini struct {
	model *genai.GenerativeModel // Gemini 生成模型实例。
}

// NewGemini 创建一个新的 Gemini 客户端。
//
// 参数:
//
//	ctx: 上下文，用于控制客户端的生命周期。
//	model: 要使用的 Gemini 模型名称。
//	apiKey: Gemini API 密钥。
//	opts: 采样配置。
//	tools: 注入模型的工具声明列表。
//
// 返回值:
//
//	*Gemini: 新创建的 Gemini 客户端实例。
//	error: 如果无法创建 GenAI 客户端，则返回错误。
func NewGemini(ctx context.Context, model, apiKey string, opts Options, tools []*genai.FunctionDeclaration) (*Gemini, error) {
	// 使用 API 密钥创建 GenAI 客户端。
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	// 获取生成模型
	generativeModel := client.GenerativeModel(model)
	generativeModel.SetTemperature(opts.Temperature)
	if opts.MaxOutput > 0 {
		generativeModel.SetMaxOutputTokens(int32(opts.MaxOutput))
	}

	// 如果提供了工具，则进行配置
	if len(tools) > 0 {
		geminiTool := &genai.Tool{
			FunctionDeclarations: tools,
		}
		generativeModel.Tools = []*genai.Tool{geminiTool}
	}

	return &Gemini{
		model: generativeModel,
	}, nil
}

// GenerateContent 向 Gemini API 发送请求并返回响应。
// 请求中最后一条内容作为当前消息发送，之前的内容作为会话历史。
func (g *Gemini) GenerateContent(ctx context.Context, req *models.GenerateContentRequest) (*models.GenerateContentResponse, error) {
	history, last, err := splitRequest(req)
	if err != nil {
		return nil, err
	}

	session := g.model.StartChat()
	session.History = history

	resp, err := session.SendMessage(ctx, last...)
	if err != nil {
		return nil, err
	}

	return fromGenaiResponse(resp), nil // 将 GenAI 响应转换为内部响应格式。
}

// GenerateContentStream 向 Gemini API 发送请求并返回响应通道。
func (g *Gemini) GenerateContentStream(ctx context.Context, req *models.GenerateContentRequest) (<-chan *models.GenerateContentResponse, error) {
	history, last, err := splitRequest(req)
	if err != nil {
		return nil, err
	}

	session := g.model.StartChat()
	session.History = history

	ch := make(chan *models.GenerateContentResponse) // 创建用于发送响应的通道。
	iter := session.SendMessageStream(ctx, last...)

	// 启动一个 goroutine 来处理流式响应。
	go func() {
		defer close(ch) // 确保在 goroutine 退出时关闭通道。
		for {
			// 获取下一个流式响应。
			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				return // 流结束。
			}
			if err != nil {
				return
			}
			ch <- fromGenaiResponse(resp) // 将 GenAI 响应转换为内部响应格式并发送到通道。
		}
	}()

	return ch, nil
}

// splitRequest 将请求拆分为会话历史与当前消息部分。
func splitRequest(req *models.GenerateContentRequest) ([]*genai.Content, []genai.Part, error) {
	if len(req.Content) == 0 {
		return nil, nil, fmt.Errorf("empty request content")
	}

	var history []*genai.Content
	for _, c := range req.Content[:len(req.Content)-1] {
		history = append(history, &genai.Content{
			Parts: toGenaiParts(c),
			Role:  toGenaiRole(c.Role),
		})
	}

	last := toGenaiParts(req.Content[len(req.Content)-1])
	if len(last) == 0 {
		return nil, nil, fmt.Errorf("last content has no sendable parts")
	}

	return history, last, nil
}

// toGenaiRole 将内部角色映射为 Gemini 会话角色 ("user" 或 "model")。
func toGenaiRole(role models.SpeakerRole) string {
	switch role {
	case models.SpeakerModel, models.SpeakerAssistant:
		return "model"
	default:
		return "user"
	}
}

// toGenaiParts 将内部 Content 结构体转换为 GenAI Part 切片。
func toGenaiParts(c models.Content) []genai.Part {
	var parts []genai.Part
	for _, p := range c.Parts {
		if p == nil {
			continue
		}
		if p.Text != "" {
			parts = append(parts, genai.Text(p.Text))
		} else if p.InlineData != nil {
			parts = append(parts, genai.Blob{
				MIMEType: p.InlineData.MIMEType,
				Data:     p.InlineData.Data,
			})
		} else if p.FunctionCall != nil {
			// 历史回放时需要携带模型此前的函数调用。
			parts = append(parts, genai.FunctionCall{
				Name: p.FunctionCall.Name,
				Args: p.FunctionCall.Args,
			})
		} else if p.FunctionResponse != nil {
			parts = append(parts, genai.FunctionResponse{
				Name:     p.FunctionResponse.Name,
				Response: p.FunctionResponse.Response,
			})
		}
	}
	return parts
}

// fromGenaiResponse 将 GenAI GenerateContentResponse 转换为内部 GenerateContentResponse 结构体。
func fromGenaiResponse(resp *genai.GenerateContentResponse) *models.GenerateContentResponse {
	if resp == nil {
		return nil
	}
	var content []models.Content
	// 遍历 GenAI 响应中的候选者，并将其内容转换为内部 Content 结构体。
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			content = append(content, fromGenaiContent(cand.Content))
		}
	}
	return &models.GenerateContentResponse{
		Content: content,
	}
}

// fromGenaiContent 将 GenAI Content 结构体转换为内部 Content 结构体。
func fromGenaiContent(content *genai.Content) models.Content {
	var parts []*models.Part
	for _, p := range content.Parts {
		parts = append(parts, fromGenaiPart(p))
	}
	return models.Content{
		Parts: parts,
		Role:  models.SpeakerModel,
	}
}

// fromGenaiPart 将 GenAI Part 接口转换为内部 Part 结构体。
func fromGenaiPart(part genai.Part) *models.Part {
	switch v := part.(type) {
	case genai.Text:
		return &models.Part{Text: string(v)}
	case genai.Blob:
		return &models.Part{
			InlineData: &models.Blob{
				MIMEType: v.MIMEType,
				Data:     v.Data,
			},
		}
	case genai.FunctionCall:
		return &models.Part{
			FunctionCall: &models.FunctionCall{
				Name: v.Name,
				Args: v.Args,
			},
		}
	case genai.FunctionResponse:
		return &models.Part{
			FunctionResponse: &models.FunctionResponse{
				Name:     v.Name,
				Response: v.Response,
			},
		}
	default:
		return &models.Part{Text: fmt.Sprintf("%v", v)}
	}
}
