package handler

import (
	"ai-match-go/internal/embedding"
	"ai-match-go/internal/matching"
	"ai-match-go/internal/tracing"
	"ai-match-go/internal/types"
	"context"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"go.opentelemetry.io/otel/trace"
)

// errorResponse 统一的错误响应体
type errorResponse struct {
	Error string `json:"error"`
}

// statusFor 把业务错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return consts.StatusNotFound
	case errors.Is(err, matching.ErrInvalidArgument), errors.Is(err, embedding.ErrInvalidQueueItem):
		return consts.StatusBadRequest
	default:
		return consts.StatusInternalServerError
	}
}

func writeError(c *app.RequestContext, status int, msg string) {
	c.JSON(status, errorResponse{Error: msg})
}

// writeServiceError 4xx 返回错误原文，5xx 只返回概要信息。错误记录在请求 span 上
func writeServiceError(ctx context.Context, c *app.RequestContext, err error, summary string) {
	status := statusFor(err)
	tracing.RecordHTTPError(trace.SpanFromContext(ctx), err, status)
	if status >= consts.StatusInternalServerError {
		writeError(c, status, summary)
		return
	}
	writeError(c, status, err.Error())
}
