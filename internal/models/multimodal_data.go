package models

import (
	"encoding/json"
	"time"
)

// SpeakerRole 定义了消息发送者的角色。
type SpeakerRole string

const (
	SpeakerUser      SpeakerRole = "user"      // 用户角色。
	SpeakerAssistant SpeakerRole = "assistant" // 助手角色。
	SpeakerTool      SpeakerRole = "tool"      // 工具角色。
	SpeakerModel     SpeakerRole = "model"     // 模型角色。
	SpeakerSystem    SpeakerRole = "system"    // 系统提示词角色。
)

// Content 包含了构成单个消息的多个部分。
type Content struct {
	// 可选。构成单个消息的部分列表。
	Parts []*Part `json:"parts,omitempty"`
	// 可选。内容的生产者。
	Role SpeakerRole `json:"role,omitempty"`
}

// GenerateContentRequest 定义了生成内容的请求结构。
type GenerateContentRequest struct {
	Content []Content `json:"content,omitempty"` // 请求的内容列表。
}

// GenerateContentResponse 定义了生成内容的响应结构。
type GenerateContentResponse struct {
	Content      []Content `json:"content,omitempty"`      // 响应的内容列表。
	CreateTime   time.Time `json:"createTime,omitempty"`   // 响应创建时间。
	ResponseID   string    `json:"responseId,omitempty"`   // 响应ID。
	ModelVersion string    `json:"modelVersion,omitempty"` // 模型版本。
}

// Part 定义了消息的单个部分，可以包含文本、内联数据或函数调用。
type Part struct {
	// 可选。内联字节数据。
	InlineData *Blob `json:"inlineData,omitempty"`
	// 可选。从模型返回的预测 [FunctionCall]，包含函数名称以及参数及其值。
	FunctionCall *FunctionCall `json:"functionCall,omitempty"`
	// 可选。[FunctionCall] 的结果输出，作为模型的上下文回传。
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
	// 可选。文本部分。
	Text string `json:"text,omitempty"`
}

// Blob 包含了内联的二进制数据。
type Blob struct {
	// 可选。Blob 的显示名称。
	DisplayName string `json:"displayName,omitempty"`
	// 必填。原始字节数据。
	Data []byte `json:"data,omitempty"`
	// 必填。源数据的 IANA 标准 MIME 类型。
	MIMEType string `json:"mimeType,omitempty"`
}

// FunctionCall 包含了模型预测的函数调用信息。
type FunctionCall struct {
	// 可选。函数调用的唯一 ID。客户端执行后返回具有匹配 `id` 的响应。
	ID string `json:"id,omitempty"`
	// 可选。JSON 对象格式的函数参数和值。
	Args map[string]any `json:"args,omitempty"`
	// 必填。要调用的函数名称。
	Name string `json:"name,omitempty"`
}

// ArgsToString 将函数参数序列化为 JSON 字符串，便于持久化与日志记录。
func (fc *FunctionCall) ArgsToString() string {
	if fc == nil || len(fc.Args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(fc.Args)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// FunctionResponse 包含了函数调用的结果输出。
type FunctionResponse struct {
	// 可选。此响应对应的函数调用 ID。
	ID string `json:"id,omitempty"`
	// 必填。被调用的函数名称。
	Name string `json:"name,omitempty"`
	// 必填。JSON 对象格式的函数响应。使用 "output" 键指定函数输出，使用 "error" 键指定错误详细信息。
	Response map[string]any `json:"response,omitempty"`
}

// HasFunctionCall 判断内容中是否包含函数调用部分。
func (c Content) HasFunctionCall() bool {
	for _, p := range c.Parts {
		if p != nil && p.FunctionCall != nil {
			return true
		}
	}
	return false
}

// FirstFunctionCall 返回内容中的第一个函数调用，不存在时返回 nil。
func (c Content) FirstFunctionCall() *FunctionCall {
	for _, p := range c.Parts {
		if p != nil && p.FunctionCall != nil {
			return p.FunctionCall
		}
	}
	return nil
}

// JoinedText 拼接内容中所有文本部分。
func (c Content) JoinedText() string {
	var out string
	for _, p := range c.Parts {
		if p != nil && p.Text != "" {
			out += p.Text
		}
	}
	return out
}
