package handler

import (
	"ai-match-go/internal/matching"
	"ai-match-go/internal/types"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/rs/zerolog"
)

// MatchService 匹配服务接口，matching.Service 实现了该接口
type MatchService interface {
	Match(ctx context.Context, resumeID string, opts matching.MatchOptions) (*matching.MatchResponse, error)
	SemanticMatch(ctx context.Context, resumeID string, threshold *float64, limit int) (*matching.SemanticResponse, error)
	SimilarJobs(ctx context.Context, jobID string, limit int) (*matching.SimilarJobsResponse, error)
	SkillGap(ctx context.Context, resumeID, jobID string) (*types.SkillGap, error)
}

var _ MatchService = (*matching.Service)(nil)

// MatchHandler 处理简历与岗位匹配相关的请求
type MatchHandler struct {
	svc    MatchService
	logger zerolog.Logger
}

// NewMatchHandler 创建匹配处理器
func NewMatchHandler(svc MatchService, logger zerolog.Logger) *MatchHandler {
	return &MatchHandler{svc: svc, logger: logger}
}

// HandleMatch 为简历匹配岗位
// GET /api/v1/resumes/:resume_id/matches?limit=&min_score=&use_embeddings=
func (h *MatchHandler) HandleMatch(ctx context.Context, c *app.RequestContext) {
	resumeID := strings.TrimSpace(c.Param("resume_id"))
	if resumeID == "" {
		writeError(c, consts.StatusBadRequest, "resume_id 不能为空")
		return
	}

	limit, err := queryInt(c, "limit")
	if err != nil {
		writeError(c, consts.StatusBadRequest, err.Error())
		return
	}
	minScore, err := queryFloat(c, "min_score")
	if err != nil {
		writeError(c, consts.StatusBadRequest, err.Error())
		return
	}
	if minScore != nil && (*minScore < 0 || *minScore > 100) {
		writeError(c, consts.StatusBadRequest, "min_score 必须位于 [0, 100]")
		return
	}
	useEmbeddings, err := queryBool(c, "use_embeddings")
	if err != nil {
		writeError(c, consts.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.svc.Match(ctx, resumeID, matching.MatchOptions{
		Limit:         limit,
		MinMatchScore: minScore,
		UseEmbeddings: useEmbeddings,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("resume_id", resumeID).Msg("匹配岗位失败")
		writeServiceError(ctx, c, err, "匹配岗位失败")
		return
	}
	c.JSON(consts.StatusOK, resp)
}

// HandleSemanticMatch 仅按向量相似度检索岗位
// GET /api/v1/resumes/:resume_id/semantic-matches?threshold=&limit=
func (h *MatchHandler) HandleSemanticMatch(ctx context.Context, c *app.RequestContext) {
	resumeID := strings.TrimSpace(c.Param("resume_id"))
	if resumeID == "" {
		writeError(c, consts.StatusBadRequest, "resume_id 不能为空")
		return
	}
	threshold, err := queryFloat(c, "threshold")
	if err != nil {
		writeError(c, consts.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		writeError(c, consts.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.svc.SemanticMatch(ctx, resumeID, threshold, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("resume_id", resumeID).Msg("语义检索失败")
		writeServiceError(ctx, c, err, "语义检索失败")
		return
	}
	c.JSON(consts.StatusOK, resp)
}

// HandleSimilarJobs 查找相似岗位
// GET /api/v1/jobs/:job_id/similar?limit=
func (h *MatchHandler) HandleSimilarJobs(ctx context.Context, c *app.RequestContext) {
	jobID := strings.TrimSpace(c.Param("job_id"))
	if jobID == "" {
		writeError(c, consts.StatusBadRequest, "job_id 不能为空")
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		writeError(c, consts.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.svc.SimilarJobs(ctx, jobID, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("查找相似岗位失败")
		writeServiceError(ctx, c, err, "查找相似岗位失败")
		return
	}
	c.JSON(consts.StatusOK, resp)
}

// HandleSkillGap 返回简历相对岗位的技能差距
// GET /api/v1/resumes/:resume_id/jobs/:job_id/skill-gap
func (h *MatchHandler) HandleSkillGap(ctx context.Context, c *app.RequestContext) {
	resumeID := strings.TrimSpace(c.Param("resume_id"))
	jobID := strings.TrimSpace(c.Param("job_id"))
	if resumeID == "" || jobID == "" {
		writeError(c, consts.StatusBadRequest, "resume_id 和 job_id 不能为空")
		return
	}

	gap, err := h.svc.SkillGap(ctx, resumeID, jobID)
	if err != nil {
		h.logger.Error().Err(err).Str("resume_id", resumeID).Str("job_id", jobID).Msg("计算技能差距失败")
		writeServiceError(ctx, c, err, "计算技能差距失败")
		return
	}
	c.JSON(consts.StatusOK, gap)
}

func queryInt(c *app.RequestContext, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s 必须是非负整数", key)
	}
	return v, nil
}

func queryFloat(c *app.RequestContext, key string) (*float64, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%s 必须是数字", key)
	}
	return &v, nil
}

func queryBool(c *app.RequestContext, key string) (*bool, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("%s 必须是 true 或 false", key)
	}
	return &v, nil
}
