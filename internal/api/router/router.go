package router

import (
	"ai-match-go/internal/api/handler"
	"context"
	"crypto/subtle"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/cloudwego/hertz/pkg/route"
	"github.com/hertz-contrib/keyauth"
)

// Handlers 路由用到的全部处理器
type Handlers struct {
	Match  *handler.MatchHandler
	Queue  *handler.QueueHandler
	Health *handler.HealthHandler
}

// errInvalidAPIKey API Key 缺失或不匹配
var errInvalidAPIKey = errors.New("API Key 无效")

// RegisterRoutes 注册 API 路由。apiKeys 非空时队列运维接口需要 Bearer API Key
func RegisterRoutes(r route.IRouter, h Handlers, apiKeys []string) {
	r.GET("/health", h.Health.HandleHealth)

	api := r.Group("/api/v1")
	api.GET("/health", h.Health.HandleHealth)

	api.GET("/resumes/:resume_id/matches", h.Match.HandleMatch)
	api.GET("/resumes/:resume_id/semantic-matches", h.Match.HandleSemanticMatch)
	api.GET("/resumes/:resume_id/jobs/:job_id/skill-gap", h.Match.HandleSkillGap)
	api.GET("/jobs/:job_id/similar", h.Match.HandleSimilarJobs)

	embeddings := api.Group("/embeddings")
	if len(apiKeys) > 0 {
		embeddings.Use(apiKeyAuth(apiKeys))
	}
	embeddings.POST("/queue", h.Queue.HandleEnqueue)
	embeddings.GET("/queue/stats", h.Queue.HandleStats)
}

// apiKeyAuth 校验 Authorization: Bearer <key>
func apiKeyAuth(apiKeys []string) app.HandlerFunc {
	return keyauth.New(
		keyauth.WithKeyLookUp("header:Authorization", "Bearer"),
		keyauth.WithValidator(func(_ context.Context, _ *app.RequestContext, key string) (bool, error) {
			for _, k := range apiKeys {
				if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
					return true, nil
				}
			}
			return false, errInvalidAPIKey
		}),
		keyauth.WithErrorHandler(func(_ context.Context, c *app.RequestContext, err error) {
			c.AbortWithStatusJSON(consts.StatusUnauthorized, map[string]string{"error": err.Error()})
		}),
	)
}
