package handler

import (
	"ai-match-go/internal/embedding"
	"ai-match-go/internal/tracing"
	"ai-match-go/internal/types"
	"context"
	"encoding/json"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// EmbeddingQueue 向量生成队列接口，embedding.Queue 实现了该接口
type EmbeddingQueue interface {
	Enqueue(ctx context.Context, entityType types.EntityType, entityID string, priority types.Priority) (types.EnqueueResult, error)
	Stats(ctx context.Context) (types.QueueStats, error)
}

var _ EmbeddingQueue = (*embedding.Queue)(nil)

// EnqueueRequest 手动入队请求体
type EnqueueRequest struct {
	EntityType string `json:"entity_type" validate:"required,oneof=resume job"`
	EntityID   string `json:"entity_id" validate:"required,max=64"`
	Priority   string `json:"priority" validate:"omitempty,oneof=high normal low"`
}

// EnqueueResponse 手动入队响应
type EnqueueResponse struct {
	EntityType types.EntityType `json:"entity_type"`
	EntityID   string           `json:"entity_id"`
	Priority   types.Priority   `json:"priority"`
	Queued     bool             `json:"queued"`
	Position   int              `json:"position"`
}

// QueueHandler 处理向量生成队列的运维请求
type QueueHandler struct {
	queue    EmbeddingQueue
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewQueueHandler 创建队列处理器
func NewQueueHandler(queue EmbeddingQueue, logger zerolog.Logger) *QueueHandler {
	return &QueueHandler{queue: queue, validate: validator.New(), logger: logger}
}

// HandleEnqueue 手动为实体请求生成向量
// POST /api/v1/embeddings/queue
func (h *QueueHandler) HandleEnqueue(ctx context.Context, c *app.RequestContext) {
	var req EnqueueRequest
	if err := json.Unmarshal(c.Request.Body(), &req); err != nil {
		writeError(c, consts.StatusBadRequest, "请求体不是有效的JSON")
		return
	}
	req.EntityType = strings.ToLower(strings.TrimSpace(req.EntityType))
	req.EntityID = strings.TrimSpace(req.EntityID)
	req.Priority = strings.ToLower(strings.TrimSpace(req.Priority))

	if err := h.validate.Struct(req); err != nil {
		tracing.RecordError(trace.SpanFromContext(ctx), err, tracing.ErrorTypeValidation)
		writeError(c, consts.StatusBadRequest, validationMessage(err))
		return
	}

	entityType, err := types.ParseEntityType(req.EntityType)
	if err != nil {
		writeError(c, consts.StatusBadRequest, err.Error())
		return
	}
	priority, err := types.ParsePriority(req.Priority)
	if err != nil {
		writeError(c, consts.StatusBadRequest, err.Error())
		return
	}

	res, err := h.queue.Enqueue(ctx, entityType, req.EntityID, priority)
	if err != nil {
		h.logger.Error().Err(err).Str("entity_type", req.EntityType).Str("entity_id", req.EntityID).Msg("手动入队失败")
		writeServiceError(ctx, c, err, "入队失败")
		return
	}

	status := consts.StatusOK
	if res.Queued {
		status = consts.StatusAccepted
	}
	c.JSON(status, EnqueueResponse{
		EntityType: entityType,
		EntityID:   req.EntityID,
		Priority:   priority,
		Queued:     res.Queued,
		Position:   res.Position,
	})
}

// HandleStats 返回队列统计
// GET /api/v1/embeddings/queue/stats
func (h *QueueHandler) HandleStats(ctx context.Context, c *app.RequestContext) {
	stats, err := h.queue.Stats(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("获取队列统计失败")
		writeError(c, consts.StatusInternalServerError, "获取队列统计失败")
		return
	}
	c.JSON(consts.StatusOK, stats)
}

// validationMessage 把校验错误转换为面向调用方的提示
func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return "请求参数无效"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" 不能为空")
		case "oneof":
			parts = append(parts, fe.Field()+" 必须是 "+fe.Param()+" 之一")
		case "max":
			parts = append(parts, fe.Field()+" 长度不能超过 "+fe.Param())
		default:
			parts = append(parts, fe.Field()+" 无效")
		}
	}
	return strings.Join(parts, "; ")
}
