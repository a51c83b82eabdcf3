package embedding

import "context"

// Embedding 是事实向量化的统一接口。事实入库与相似度召回共用同一个
// 实现，保证写入和查询落在同一个向量空间里。
type Embedding interface {
	// Embed 为单个文本生成嵌入向量。
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch 为一批文本生成嵌入向量，顺序与输入一致。
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ModelType 表示不同的模型厂商。
type ModelType string

const (
	OpenAI      ModelType = "openai"      // OpenAI 兼容端点。
	Google      ModelType = "google"      // Google Gemini。
	Ollama      ModelType = "ollama"      // 本地 Ollama。
	HuggingFace ModelType = "huggingface" // HuggingFace 推理端点。
)
