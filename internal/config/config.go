package config

import (
	"fmt"
	"gopkg.in/yaml.v3"
	"os"
)

// FieldConfig 定义了 Milvus 集合中字段的配置。
type FieldConfig struct {
	Name         string `yaml:"name"`                // 字段名称
	DataType     string `yaml:"dataType"`            // 字段数据类型 (例如: "Int64", "VarChar", "FloatVector")
	IsPrimaryKey bool   `yaml:"isPrimaryKey"`        // 是否为主键
	IsAutoID     bool   `yaml:"isAutoID"`            // 是否自动生成ID
	Dim          int    `yaml:"dim,omitempty"`       // 向量维度 (仅适用于向量类型)
	MaxLength    int    `yaml:"maxLength,omitempty"` // 最大长度 (仅适用于VarChar类型)
}

// IndexConfig 定义了 Milvus 集合中索引的配置。
type IndexConfig struct {
	FieldName  string                 `yaml:"fieldName"`  // 要创建索引的字段名称
	IndexType  string                 `yaml:"indexType"`  // 索引类型 (例如: "IVF_FLAT", "HNSW")
	MetricType string                 `yaml:"metricType"` // 相似度度量类型 (例如: "L2", "COSINE")
	Params     map[string]interface{} `yaml:"params"`     // 索引参数 (例如: {"M": 16})
}

// SchemaConfig 定义了 Milvus 集合的 Schema 配置。
type SchemaConfig struct {
	CollectionName string        `yaml:"collectionName"` // 集合名称
	Description    string        `yaml:"description"`    // 集合描述
	VectorField    string        `yaml:"vectorField"`    // 向量字段名称
	Fields         []FieldConfig `yaml:"fields"`         // 字段配置列表
	Index          IndexConfig   `yaml:"index"`          // 索引配置
}

// MilvusConfig 定义了 Milvus 数据库的连接和 Schema 配置。
type MilvusConfig struct {
	Address string       `yaml:"address"` // Milvus 服务地址
	Schema  SchemaConfig `yaml:"schema"`  // Milvus 集合 Schema 配置
}

// RedisConfig 定义了 Redis 数据库的连接配置。
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`  // 是否启用 Redis (用于跨实例的会话租约)
	Address  string `yaml:"address"`  // Redis 服务器地址 (例如: "localhost:6379")
	Password string `yaml:"password"` // Redis 密码
	DB       int    `yaml:"db"`       // Redis 数据库编号
}

// MinIOConfig 定义了 MinIO 对象存储的连接配置。
type MinIOConfig struct {
	Enabled   bool   `yaml:"enabled"`   // 是否启用 MinIO (用于存储生成的图片等产物)
	Endpoint  string `yaml:"endpoint"`  // MinIO 服务端点
	AccessKey string `yaml:"accessKey"` // 访问密钥
	SecretKey string `yaml:"secretKey"` // Secret 密钥
	Bucket    string `yaml:"bucket"`    // 默认存储桶名称
	Secure    bool   `yaml:"secure"`    // 是否使用HTTPS
}

// Neo4jConfig 定义了 Neo4j 图数据库的连接配置。
type Neo4jConfig struct {
	Uri      string `yaml:"uri"`      // Neo4j 数据库URI (例如: "bolt://localhost:7687")
	Username string `yaml:"username"` // 用户名
	Password string `yaml:"password"` // 密码
	Database string `yaml:"database"` // 数据库名称
}

// KafkaConfig 定义了 Kafka 消息队列的连接配置。
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"` // 是否启用 Kafka (用于发布回合审计事件)
	Brokers []string `yaml:"brokers"` // Kafka Broker 地址列表
	Topics  []string `yaml:"topics"`  // Kafka 主题列表
}

// DatabaseConfigs 包含所有数据库的配置。
type DatabaseConfigs struct {
	Milvus MilvusConfig `yaml:"milvus"` // Milvus 数据库配置
	Redis  RedisConfig  `yaml:"redis"`  // Redis 数据库配置
	MinIO  MinIOConfig  `yaml:"minio"`  // MinIO 对象存储配置
	Neo4j  Neo4jConfig  `yaml:"neo4j"`  // Neo4j 数据库配置
	Kafka  KafkaConfig  `yaml:"kafka"`  // Kafka 消息队列配置
}

// AppInfo 对应 'app' 部分，包含应用程序的基本信息。
type AppInfo struct {
	Name        string `yaml:"name"`        // 应用程序名称
	Version     string `yaml:"version"`     // 应用程序版本
	Environment string `yaml:"environment"` // 运行环境 (例如: "development", "production")
	Address     string `yaml:"address"`     // HTTP 网关监听地址 (例如: ":8080")
}

// LoggerConfig 定义了日志记录器的配置。
type LoggerConfig struct {
	Level string `yaml:"level"` // 日志级别 (例如: "info", "debug", "warn", "error")
}

// PersonaConfig 定义了助手的人格设定，会被注入系统提示词。
type PersonaConfig struct {
	Name        string `yaml:"name"`        // 助手名称
	Personality string `yaml:"personality"` // 性格描述
	Appearance  string `yaml:"appearance"`  // 外观描述 (用于图片生成提示)
	Language    string `yaml:"language"`    // 回复语言偏好
}

// MemoryConfig 定义了两级记忆系统的行为配置。
type MemoryConfig struct {
	Enabled             bool    `yaml:"enabled"`             // 是否启用长期记忆 (向量召回与事实写入)
	HistoryWindow       int     `yaml:"historyWindow"`       // 短期记忆抓取的最近消息条数
	TokenBudget         int     `yaml:"tokenBudget"`         // 上下文包的总 token 预算
	PromptOverhead      int     `yaml:"promptOverhead"`      // 系统提示词等固定开销的预留 token
	RecallTopK          int     `yaml:"recallTopK"`          // 向量召回的事实数量上限
	SimilarityThreshold float32 `yaml:"similarityThreshold"` // 事实召回的最低相似度 (0~1)
	ProfileCacheSize    int     `yaml:"profileCacheSize"`    // 用户画像 LRU 缓存容量
	ProfileCacheTTL     string  `yaml:"profileCacheTTL"`     // 用户画像缓存的存活时间 (例如: "5m")
}

// AgentConfig 定义了决策循环的行为配置。
type AgentConfig struct {
	MaxIterations int     `yaml:"maxIterations"` // 单个回合内决策循环的最大迭代次数
	Temperature   float32 `yaml:"temperature"`   // 模型采样温度
	MaxOutput     int     `yaml:"maxOutput"`     // 模型单次回复的最大 token 数
	ToolTimeout   string  `yaml:"toolTimeout"`   // 单个工具调用的超时时间 (例如: "60s")
	SessionMode   string  `yaml:"sessionMode"`   // 同一会话并发消息的处理方式: "queue" 或 "reject"
	FallbackReply string  `yaml:"fallbackReply"` // 循环中止时的兜底回复
}

// ToolsConfig 定义了各个内置工具的配置。
type ToolsConfig struct {
	WebSearch WebSearchConfig `yaml:"webSearch"` // 网络搜索工具配置
	Image     ImageConfig     `yaml:"image"`     // 图片生成工具配置
}

// WebSearchConfig 定义了网络搜索工具的配置。
type WebSearchConfig struct {
	Enabled    bool   `yaml:"enabled"`    // 是否注册该工具
	SearxngURL string `yaml:"searxngURL"` // SearxNG 实例地址
	MaxResults int    `yaml:"maxResults"` // 抓取的搜索结果数量上限
	FetchPages int    `yaml:"fetchPages"` // 实际抓取正文的页面数量
}

// ImageConfig 定义了图片生成工具的配置。
type ImageConfig struct {
	Enabled bool   `yaml:"enabled"` // 是否注册该工具
	BaseURL string `yaml:"baseURL"` // OpenAI 兼容的图片生成端点
	APIKey  string `yaml:"apiKey"`  // API 密钥
	Model   string `yaml:"model"`   // 图片模型名称
	Size    string `yaml:"size"`    // 生成图片尺寸 (例如: "1024x1024")
}

// AppConfig 是整个 YAML 文件的根结构，包含了应用程序的所有配置。
type AppConfig struct {
	App        AppInfo          `yaml:"app"`        // 应用程序信息
	Persona    PersonaConfig    `yaml:"persona"`    // 助手人格设定
	LLM        LLMConfig        `yaml:"llm"`        // LLM 配置部分
	Embedding  EmbeddingConfig  `yaml:"embedding"`  // Embedding 配置部分
	Memory     MemoryConfig     `yaml:"memory"`     // 记忆系统配置
	Agent      AgentConfig      `yaml:"agent"`      // 决策循环配置
	Tools      ToolsConfig      `yaml:"tools"`      // 工具配置
	Logger     LoggerConfig     `yaml:"logger"`     // 日志记录器配置
	Databases  DatabaseConfigs  `yaml:"databases"`  // 数据库配置
	Middleware MiddlewareConfig `yaml:"middleware"` // 中间件配置
}

// LLMConfig 包含了不同LLM提供商的配置。
type LLMConfig struct {
	Provider string         `yaml:"provider"` // LLM提供商 (例如: "openai", "gemini", "ollama")
	OpenAI   ProviderConfig `yaml:"openai"`   // OpenAI 兼容端点配置 (含 LocalAI 等)
	Gemini   ProviderConfig `yaml:"gemini"`   // Gemini 模型配置
	Ollama   ProviderConfig `yaml:"ollama"`   // Ollama 模型配置
}

// EmbeddingConfig 包含了不同Embedding提供商的配置。
type EmbeddingConfig struct {
	Provider    string         `yaml:"provider"`    // Embedding提供商 (例如: "openai", "gemini", "ollama", "huggingface")
	OpenAI      ProviderConfig `yaml:"openai"`      // OpenAI 兼容端点配置
	Gemini      ProviderConfig `yaml:"gemini"`      // Gemini 模型配置
	Ollama      ProviderConfig `yaml:"ollama"`      // Ollama 模型配置
	HuggingFace ProviderConfig `yaml:"huggingface"` // HuggingFace Inference API 配置
}

// ProviderConfig 包含了单个模型提供商的配置。
type ProviderConfig struct {
	APIKey  string `yaml:"apiKey"`  // API 密钥
	Model   string `yaml:"model"`   // 模型名称
	BaseURL string `yaml:"baseURL"` // 服务基础 URL (可选，兼容端点需要)
}

// MiddlewareConfig 包含所有中间件的配置。
type MiddlewareConfig struct {
	RateLimiter    RateLimiterConfig    `yaml:"rateLimiter"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// RateLimiterConfig 定义了限流器的配置。
type RateLimiterConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	Algorithm      string               `yaml:"algorithm"` // 支持: "fixedWindow", "slidingLog", "slidingCounter", "leakyBucket", "tokenBucket"
	FixedWindow    FixedWindowConfig    `yaml:"fixedWindow"`
	SlidingLog     SlidingLogConfig     `yaml:"slidingLog"`
	SlidingCounter SlidingCounterConfig `yaml:"slidingCounter"`
	LeakyBucket    LeakyBucketConfig    `yaml:"leakyBucket"`
	TokenBucket    TokenBucketConfig    `yaml:"tokenBucket"`
}

// FixedWindowConfig 定义了固定窗口计数器算法的配置。
type FixedWindowConfig struct {
	Limit  int    `yaml:"limit"`
	Window string `yaml:"window"` // 例如: "1m", "30s"
}

// SlidingLogConfig 定义了滑动窗口日志算法的配置。
type SlidingLogConfig struct {
	Limit  int    `yaml:"limit"`
	Window string `yaml:"window"`
}

// SlidingCounterConfig 定义了滑动窗口计数器算法的配置。
type SlidingCounterConfig struct {
	Limit      int    `yaml:"limit"`
	Window     string `yaml:"window"`
	NumBuckets int    `yaml:"numBuckets"`
}

// LeakyBucketConfig 定义了漏桶算法的配置。
type LeakyBucketConfig struct {
	Rate     float64 `yaml:"rate"` // 每秒速率
	Capacity int     `yaml:"capacity"`
}

// TokenBucketConfig 定义了令牌桶算法的配置。
type TokenBucketConfig struct {
	Rate     float64 `yaml:"rate"` // 每秒速率
	Capacity int     `yaml:"capacity"`
}

// CircuitBreakerConfig 定义了熔断器的配置。
type CircuitBreakerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	FailureThreshold uint32 `yaml:"failureThreshold"`
	SuccessThreshold uint32 `yaml:"successThreshold"`
	Timeout          string `yaml:"timeout"` // 例如: "30s"
}

// LoadConfig 函数从指定路径加载并解析 YAML 配置文件。
//
// 参数:
//
//	path: YAML 配置文件的路径。
//
// 返回值:
//
//	*AppConfig: 解析后的应用程序配置结构体。
//	error: 如果文件读取或解析失败，则返回错误。
func LoadConfig(path string) (*AppConfig, error) {
	// 读取 YAML 文件内容。
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("无法读取 YAML 文件 '%s': %w", path, err)
	}
	var cfg AppConfig // 声明一个AppConfig变量用于存储解析后的配置。
	// 将 YAML 内容解析到 cfg 结构体中。
	err = yaml.Unmarshal(yamlFile, &cfg)
	if err != nil {
		return nil, fmt.Errorf("解析 YAML 文件失败: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil // 返回解析后的配置和nil错误。
}

// applyDefaults 为未设置的关键字段填充默认值。
func (c *AppConfig) applyDefaults() {
	if c.Memory.HistoryWindow <= 0 {
		c.Memory.HistoryWindow = 50
	}
	if c.Memory.TokenBudget <= 0 {
		c.Memory.TokenBudget = 8192
	}
	if c.Memory.PromptOverhead <= 0 {
		c.Memory.PromptOverhead = 1024
	}
	if c.Memory.RecallTopK <= 0 {
		c.Memory.RecallTopK = 8
	}
	if c.Memory.ProfileCacheSize <= 0 {
		c.Memory.ProfileCacheSize = 256
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 5
	}
	if c.Agent.MaxOutput <= 0 {
		c.Agent.MaxOutput = 1024
	}
	if c.Agent.ToolTimeout == "" {
		c.Agent.ToolTimeout = "60s"
	}
	if c.Agent.SessionMode == "" {
		c.Agent.SessionMode = "queue"
	}
	if c.Agent.FallbackReply == "" {
		c.Agent.FallbackReply = "Sorry, I lost my train of thought. Could you say that again?"
	}
}
