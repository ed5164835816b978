package embedding

import (
	"ai-match-go/internal/types"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Queue 向量生成队列。入队来自请求处理、消息消费和回填任务，出队只由 Worker 完成
type Queue struct {
	store       QueueStore
	now         func() time.Time
	historySize int
	logger      zerolog.Logger
}

// QueueOption 队列选项
type QueueOption func(*Queue)

// WithClock 替换时钟，测试使用
func WithClock(now func() time.Time) QueueOption {
	return func(q *Queue) { q.now = now }
}

// WithFailureHistory 设置统计中返回的最近永久失败条目数
func WithFailureHistory(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.historySize = n
		}
	}
}

// WithQueueLogger 设置日志记录器
func WithQueueLogger(l zerolog.Logger) QueueOption {
	return func(q *Queue) { q.logger = l }
}

// NewQueue 基于存储后端创建队列
func NewQueue(store QueueStore, opts ...QueueOption) *Queue {
	q := &Queue{
		store:       store,
		now:         time.Now,
		historySize: 50,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue 为实体请求生成向量。同一实体重复入队不会产生新条目
func (q *Queue) Enqueue(ctx context.Context, entityType types.EntityType, entityID string, priority types.Priority) (types.EnqueueResult, error) {
	entityID = strings.TrimSpace(entityID)
	if !entityType.Valid() {
		return types.EnqueueResult{}, fmt.Errorf("%w: 实体类型 %q", ErrInvalidQueueItem, entityType)
	}
	if entityID == "" {
		return types.EnqueueResult{}, fmt.Errorf("%w: 实体ID为空", ErrInvalidQueueItem)
	}
	if !priority.Valid() {
		return types.EnqueueResult{}, fmt.Errorf("%w: 优先级 %d", ErrInvalidQueueItem, int(priority))
	}

	ref := types.EntityRef{Type: entityType, ID: entityID}
	res, err := q.store.Upsert(ctx, ref, priority, q.now().UTC())
	if err != nil {
		return types.EnqueueResult{}, fmt.Errorf("入队失败 %s: %w", ref, err)
	}

	q.logger.Debug().
		Str("entity", ref.String()).
		Str("priority", priority.String()).
		Bool("queued", res.Queued).
		Int("position", res.Position).
		Msg("实体已加入向量生成队列")
	return res, nil
}

// Stats 返回队列统计
func (q *Queue) Stats(ctx context.Context) (types.QueueStats, error) {
	stats, err := q.store.Stats(ctx, q.historySize)
	if err != nil {
		return types.QueueStats{}, fmt.Errorf("获取队列统计失败: %w", err)
	}
	return stats, nil
}

// Store 返回底层存储，Worker 通过它领取条目
func (q *Queue) Store() QueueStore {
	return q.store
}

// Now 返回队列时钟的当前时间(UTC)
func (q *Queue) Now() time.Time {
	return q.now().UTC()
}
