package models

// LogEntry 是结构化日志的统一格式，方便采集后按字段检索。
type LogEntry struct {
	// ServiceName 是产生日志的组件名称，例如 "decision_loop"、"fact_store"。
	ServiceName string `json:"service_name"`

	// TraceID 将同一个回合内的日志串联起来，这里复用会话的 thread_id。
	TraceID string `json:"trace_id,omitempty"`

	// UserID 是触发该回合的用户（如果适用）。
	UserID string `json:"user_id,omitempty"`

	// RequestInfo 是触发此日志的 HTTP 请求信息。
	RequestInfo *RequestInfo `json:"request_info,omitempty"`

	// Error 在 Error 及以上级别时填充。
	Error *ErrorInfo `json:"error,omitempty"`

	// Payload 存放其他需要记录的业务数据，例如工具耗时。
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// RequestInfo 是 HTTP 请求的上下文信息。
type RequestInfo struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	RemoteAddr string `json:"remote_addr"`
	UserAgent  string `json:"user_agent"`
}

// ErrorInfo 是错误的结构化信息。
type ErrorInfo struct {
	Message    string `json:"message"`
	Stack      string `json:"stack,omitempty"`       // 错误堆栈
	Type       string `json:"type,omitempty"`        // 错误类别，例如 "store_degraded", "pairing_violation"
	StatusCode int    `json:"status_code,omitempty"` // 相关的 HTTP 状态码
}
