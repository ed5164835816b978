package types

import (
	"fmt"
	"strings"
	"time"
)

// Priority 队列优先级，数值越大越先处理
type Priority int

const (
	// PriorityLow 低优先级，例如批量回填
	PriorityLow Priority = iota
	// PriorityNormal 普通优先级，例如实体变更
	PriorityNormal
	// PriorityHigh 高优先级，例如用户正在等待的匹配
	PriorityHigh
)

// String 返回优先级名称
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Valid 判断优先级是否在已定义范围内
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityHigh
}

// ParsePriority 解析优先级名称，空字符串视为 normal
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	default:
		return PriorityNormal, fmt.Errorf("未知的优先级: %q", s)
	}
}

// MaxPriority 返回两者中较高的优先级
func MaxPriority(a, b Priority) Priority {
	if a > b {
		return a
	}
	return b
}

// MarshalText 以名称形式序列化
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText 从名称反序列化
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// QueueItemState 队列条目状态
type QueueItemState string

const (
	// QueueStatePending 等待处理
	QueueStatePending QueueItemState = "pending"
	// QueueStateInFlight 已被工作者领取
	QueueStateInFlight QueueItemState = "inflight"
)

// QueueItem 向量生成队列中的条目。每个 (EntityType, EntityID) 同时最多有一个存活条目
type QueueItem struct {
	EntityType EntityType     `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Priority   Priority       `json:"priority"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
	Attempts   int            `json:"attempts"`
	State      QueueItemState `json:"state"`
	LastError  string         `json:"last_error,omitempty"`
}

// Ref 返回条目对应的实体标识
func (q QueueItem) Ref() EntityRef {
	return EntityRef{Type: q.EntityType, ID: q.EntityID}
}

// EnqueueResult 入队结果。Queued 为 false 表示条目已存在，只更新了优先级和时间；
// Position 为在待处理队列中的位置(从 1 开始)，条目正在处理时为 0
type EnqueueResult struct {
	Queued   bool `json:"queued"`
	Position int  `json:"position"`
}

// FailedItem 永久失败的条目
type FailedItem struct {
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Attempts   int        `json:"attempts"`
	LastError  string     `json:"last_error"`
	FailedAt   time.Time  `json:"failed_at"`
}

// QueueStats 队列统计
type QueueStats struct {
	Pending           int            `json:"pending"`
	InFlight          int            `json:"in_flight"`
	FailedPermanently int            `json:"failed_permanently"`
	PendingByPriority map[string]int `json:"pending_by_priority"`
	RecentFailures    []FailedItem   `json:"recent_failures"`
}
