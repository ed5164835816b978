package outbox // 发件箱模式(Outbox Pattern)的中继实现

import (
	"ai-match-go/internal/config"
	"ai-match-go/internal/storage/models"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultPollingInterval = 5 * time.Second // 默认轮询 outbox 表的间隔
	defaultBatchSize       = 10              // 每次轮询处理的消息数
	defaultMaxRetryCount   = 5               // 发布失败的最大重试次数
)

// Publisher 消息发布器，storage.RabbitMQ 实现了该接口
type Publisher interface {
	PublishMessage(ctx context.Context, exchangeName, routingKey string, message []byte, persistent bool) error
}

// Config 中继运行参数
type Config struct {
	PollingInterval time.Duration
	BatchSize       int
	MaxRetryCount   int
}

// ConfigFrom 从应用配置提取中继参数，缺省项使用默认值
func ConfigFrom(cfg config.OutboxConfig) Config {
	c := Config{
		PollingInterval: config.GetDuration(cfg.PollingInterval, defaultPollingInterval),
		BatchSize:       cfg.BatchSize,
		MaxRetryCount:   cfg.MaxRetryCount,
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.MaxRetryCount <= 0 {
		c.MaxRetryCount = defaultMaxRetryCount
	}
	if c.PollingInterval <= 0 {
		c.PollingInterval = defaultPollingInterval
	}
	return c
}

// MessageRelay 轮询 outbox 表并将消息发布到 RabbitMQ。
// 目前只承载向量生成永久失败事件，写入方见 storage.MySQL.RecordPermanentFailure
type MessageRelay struct {
	db        *gorm.DB
	publisher Publisher
	cfg       Config
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewMessageRelay 创建中继
func NewMessageRelay(db *gorm.DB, publisher Publisher, cfg Config, logger zerolog.Logger) *MessageRelay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxRetryCount <= 0 {
		cfg.MaxRetryCount = defaultMaxRetryCount
	}
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = defaultPollingInterval
	}
	return &MessageRelay{
		db:        db,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer("ai-match-go/outbox"),
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// Start 在后台开始轮询，ctx 取消或调用 Stop 后退出
func (r *MessageRelay) Start(ctx context.Context) {
	r.logger.Info().Dur("interval", r.cfg.PollingInterval).Int("batch_size", r.cfg.BatchSize).Msg("发件箱中继启动")
	ticker := time.NewTicker(r.cfg.PollingInterval)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				r.logger.Info().Msg("发件箱中继已停止")
				return
			case <-r.done:
				r.logger.Info().Msg("发件箱中继已停止")
				return
			case <-ticker.C:
				if _, err := r.ProcessOnce(ctx); err != nil {
					r.logger.Error().Err(err).Msg("处理发件箱消息失败")
				}
			}
		}
	}()
}

// Stop 停止轮询并等待当前批次结束，可重复调用
func (r *MessageRelay) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}

// ProcessOnce 取出一批待发布消息并逐条发布，返回本批处理的条数
func (r *MessageRelay) ProcessOnce(ctx context.Context) (int, error) {
	var messages []models.OutboxMessage

	// 空轮询不创建 Span
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return 0, tx.Error
	}
	defer tx.Rollback()

	// SKIP LOCKED 让多个实例可以同时轮询而不重复发布
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ?", models.OutboxStatusPending).
		Order("created_at asc").
		Limit(r.cfg.BatchSize).
		Find(&messages).Error
	if err != nil {
		return 0, err
	}
	if len(messages) == 0 {
		return 0, tx.Commit().Error
	}

	ctx, span := r.tracer.Start(ctx, "outbox.ProcessBatch",
		trace.WithAttributes(attribute.Int("messaging.batch.message_count", len(messages))),
	)
	defer span.End()

	r.logger.Debug().Int("count", len(messages)).Msg("取到待发布的发件箱消息")

	for i := range messages {
		msg := &messages[i]
		pubErr := r.publisher.PublishMessage(ctx, msg.TargetExchange, msg.TargetRoutingKey, []byte(msg.Payload), true)
		if pubErr != nil {
			r.logger.Warn().Err(pubErr).
				Uint64("message_id", msg.ID).
				Str("aggregate_id", msg.AggregateID).
				Int("retry", msg.RetryCount+1).
				Msg("发布发件箱消息失败")
		}
		applyPublishResult(msg, pubErr, r.cfg.MaxRetryCount, r.now())

		// 更新失败时整批回滚，消息在下一轮重新被取出
		if err := tx.Save(msg).Error; err != nil {
			return 0, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return 0, err
	}
	return len(messages), nil
}

// applyPublishResult 根据发布结果更新消息状态
func applyPublishResult(msg *models.OutboxMessage, pubErr error, maxRetry int, now time.Time) {
	if pubErr != nil {
		msg.RetryCount++
		msg.ErrorMessage = pubErr.Error()
		if msg.RetryCount >= maxRetry {
			msg.Status = models.OutboxStatusFailed
		}
		return
	}
	msg.Status = models.OutboxStatusSent
	msg.ProcessedAt = &now
	msg.ErrorMessage = ""
}
