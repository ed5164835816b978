package types

import "time"

// EntityChangedEvent 简历或岗位的技能相关内容发生变化，由上游服务发布
type EntityChangedEvent struct {
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	// Priority 为空时按 normal 处理
	Priority  string    `json:"priority,omitempty"`
	ChangedAt time.Time `json:"changed_at,omitempty"`
}

// EmbeddingFailedEvent 向量生成永久失败，通过发件箱发布给下游
type EmbeddingFailedEvent struct {
	FailureID    string     `json:"failure_id"`
	EntityType   EntityType `json:"entity_type"`
	EntityID     string     `json:"entity_id"`
	Attempts     int        `json:"attempts"`
	LastError    string     `json:"last_error"`
	ModelVersion string     `json:"model_version"`
	FailedAt     time.Time  `json:"failed_at"`
}
