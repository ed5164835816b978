package embedding

import (
	"ai-match-go/internal/types"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ChangeConsumer 消费实体变更事件并加入向量生成队列
type ChangeConsumer struct {
	queue   *Queue
	timeout time.Duration
	logger  zerolog.Logger
}

// NewChangeConsumer 创建变更事件消费者
func NewChangeConsumer(queue *Queue, logger zerolog.Logger) *ChangeConsumer {
	return &ChangeConsumer{
		queue:   queue,
		timeout: 5 * time.Second,
		logger:  logger.With().Str("component", "entity_change_consumer").Logger(),
	}
}

// Handle 处理一条消息。返回 true 表示确认消息，false 表示拒绝并重新投递。
// 无法解析的消息直接确认丢弃，重新投递也不会成功
func (c *ChangeConsumer) Handle(body []byte) bool {
	var event types.EntityChangedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Error().Err(err).Bytes("body", truncateBodyBytes(body)).Msg("解析实体变更事件失败，丢弃")
		return true
	}

	entityType, err := types.ParseEntityType(string(event.EntityType))
	if err != nil {
		c.logger.Error().Err(err).Str("entity_id", event.EntityID).Msg("实体变更事件类型无效，丢弃")
		return true
	}
	priority, err := types.ParsePriority(event.Priority)
	if err != nil {
		c.logger.Warn().Err(err).Str("entity_id", event.EntityID).Msg("实体变更事件优先级无效，按 normal 处理")
		priority = types.PriorityNormal
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	res, err := c.queue.Enqueue(ctx, entityType, event.EntityID, priority)
	if err != nil {
		if errors.Is(err, ErrInvalidQueueItem) {
			c.logger.Error().Err(err).Msg("实体变更事件内容不合法，丢弃")
			return true
		}
		c.logger.Error().Err(err).Str("entity_id", event.EntityID).Msg("实体变更入队失败，稍后重试")
		return false
	}

	c.logger.Info().
		Str("entity_type", string(entityType)).
		Str("entity_id", event.EntityID).
		Bool("queued", res.Queued).
		Int("position", res.Position).
		Msg("已处理实体变更事件")
	return true
}

func truncateBodyBytes(body []byte) []byte {
	const maxLen = 200
	if len(body) > maxLen {
		return body[:maxLen]
	}
	return body
}
