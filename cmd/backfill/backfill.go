package main

import (
	"ai-match-go/internal/types"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// MissingLister 列出缺少当前模型版本向量的实体
type MissingLister interface {
	ListEntitiesMissingEmbeddings(ctx context.Context, entityType types.EntityType, modelVersion string, limit int) ([]string, error)
}

// Sink 补齐条目的去处：直接写入共享队列，或发布实体变更事件
type Sink interface {
	Submit(ctx context.Context, ref types.EntityRef, priority types.Priority) (queued bool, err error)
}

// Report 一次补齐的统计
type Report struct {
	Found     map[types.EntityType]int `json:"found"`
	Submitted int                      `json:"submitted"`
	Queued    int                      `json:"queued"`
	Failed    int                      `json:"failed"`
}

// runner 补齐任务
type runner struct {
	lister       MissingLister
	sink         Sink
	modelVersion string
	types        []types.EntityType
	limit        int
	priority     types.Priority
	dryRun       bool
	limiter      *rate.Limiter
	logger       zerolog.Logger
}

func (r *runner) run(ctx context.Context) (Report, error) {
	report := Report{Found: map[types.EntityType]int{}}

	for _, entityType := range r.types {
		ids, err := r.lister.ListEntitiesMissingEmbeddings(ctx, entityType, r.modelVersion, r.limit)
		if err != nil {
			return report, fmt.Errorf("查询缺失向量的%s失败: %w", entityType, err)
		}
		report.Found[entityType] = len(ids)
		r.logger.Info().Str("entity_type", string(entityType)).Int("count", len(ids)).Msg("找到缺失向量的实体")

		if r.dryRun {
			continue
		}
		for _, id := range ids {
			if r.limiter != nil {
				if err := r.limiter.Wait(ctx); err != nil {
					return report, err
				}
			}
			ref := types.EntityRef{Type: entityType, ID: id}
			queued, err := r.sink.Submit(ctx, ref, r.priority)
			if err != nil {
				report.Failed++
				r.logger.Warn().Err(err).Str("entity", ref.String()).Msg("提交补齐条目失败")
				continue
			}
			report.Submitted++
			if queued {
				report.Queued++
			}
		}
	}
	return report, nil
}

// Enqueuer 共享向量生成队列
type Enqueuer interface {
	Enqueue(ctx context.Context, entityType types.EntityType, entityID string, priority types.Priority) (types.EnqueueResult, error)
}

// queueSink 直接写入共享的 Redis 队列
type queueSink struct {
	queue Enqueuer
}

func (s queueSink) Submit(ctx context.Context, ref types.EntityRef, priority types.Priority) (bool, error) {
	res, err := s.queue.Enqueue(ctx, ref.Type, ref.ID, priority)
	if err != nil {
		return false, err
	}
	return res.Queued, nil
}

// Publisher 消息发布
type Publisher interface {
	PublishMessage(ctx context.Context, exchange, routingKey string, message []byte, persistent bool) error
}

// eventSink 发布实体变更事件，由服务进程的消费者入队
type eventSink struct {
	publisher   Publisher
	exchange    string
	routingKeys map[types.EntityType]string
	now         func() time.Time
}

func (s eventSink) Submit(ctx context.Context, ref types.EntityRef, priority types.Priority) (bool, error) {
	key, ok := s.routingKeys[ref.Type]
	if !ok || key == "" {
		return false, fmt.Errorf("没有配置 %s 的路由键", ref.Type)
	}
	body, err := json.Marshal(types.EntityChangedEvent{
		EntityType: ref.Type,
		EntityID:   ref.ID,
		Priority:   priority.String(),
		ChangedAt:  s.now(),
	})
	if err != nil {
		return false, err
	}
	if err := s.publisher.PublishMessage(ctx, s.exchange, key, body, true); err != nil {
		return false, err
	}
	// 是否产生新条目由消费端决定
	return true, nil
}
