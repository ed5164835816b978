package constants

import "time"

const (
	// ServiceName 服务名，用于追踪和日志
	ServiceName = "ai-match-go"

	// VectorCacheDuration 向量缓存默认过期时间
	VectorCacheDuration = 24 * time.Hour

	// JobStatusActive 在招岗位状态
	JobStatusActive = "ACTIVE"

	// EventEmbeddingFailed 向量生成永久失败事件类型
	EventEmbeddingFailed = "embedding.failed"
)
