package matching

import (
	"ai-match-go/internal/config"
	"ai-match-go/internal/scoring"
	"ai-match-go/internal/skills"
	"ai-match-go/internal/tracing"
	"ai-match-go/internal/types"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrInvalidArgument 请求参数不合法
var ErrInvalidArgument = errors.New("参数无效")

var matchTracer = otel.Tracer("ai-match-go/matching")

// maxReenqueuePerRequest 单次请求最多触发的重新入队数，避免一次请求把整个岗位池塞进队列
const maxReenqueuePerRequest = 200

// Repository 简历和岗位的读取接口，返回的实体已附带向量(如有)
type Repository interface {
	GetResume(ctx context.Context, resumeID string) (*types.Resume, error)
	GetJob(ctx context.Context, jobID string) (*types.Job, error)
	ListActiveJobs(ctx context.Context, limit int) ([]*types.Job, error)
}

// Enqueuer 向量生成队列的入队接口
type Enqueuer interface {
	Enqueue(ctx context.Context, entityType types.EntityType, entityID string, priority types.Priority) (types.EnqueueResult, error)
}

// ServiceConfig 匹配服务的运行参数
type ServiceConfig struct {
	MinSimilarity   float64
	DefaultLimit    int
	MaxLimit        int
	DefaultMinScore float64
	PoolLimit       int
	UseEmbeddings   bool
	ReenqueueStale  bool
}

// ServiceConfigFrom 从应用配置提取匹配服务参数
func ServiceConfigFrom(cfg config.MatchingConfig) ServiceConfig {
	return ServiceConfig{
		MinSimilarity:   cfg.MinSimilarity,
		DefaultLimit:    cfg.DefaultLimit,
		MaxLimit:        cfg.MaxLimit,
		DefaultMinScore: cfg.DefaultMinScore,
		PoolLimit:       cfg.PoolLimit,
		UseEmbeddings:   cfg.UseEmbeddings,
		ReenqueueStale:  cfg.ReenqueueStale,
	}
}

// MatchOptions 匹配请求的可选参数，nil 表示使用配置默认值
type MatchOptions struct {
	Limit         int
	MinMatchScore *float64
	UseEmbeddings *bool
}

// Metadata 匹配响应的元信息
type Metadata struct {
	Total                  int     `json:"total"`
	Returned               int     `json:"returned"`
	SemanticRequested      bool    `json:"semantic_requested"`
	SemanticAvailableCount int     `json:"semantic_available_count"`
	ModelVersion           string  `json:"model_version"`
	Weights                Weights `json:"weights"`
	ElapsedMs              int64   `json:"elapsed_ms"`
}

// MatchResponse 简历匹配岗位的响应
type MatchResponse struct {
	ResumeID string              `json:"resume_id"`
	Matches  []types.MatchResult `json:"matches"`
	Metadata Metadata            `json:"metadata"`
}

// SemanticMetadata 语义检索响应的元信息。简历向量不可用时 SemanticAvailable 为 false
type SemanticMetadata struct {
	Total             int     `json:"total"`
	Returned          int     `json:"returned"`
	Evaluated         int     `json:"evaluated"`
	UnusableCount     int     `json:"unusable_count"`
	Threshold         float64 `json:"threshold"`
	SemanticAvailable bool    `json:"semantic_available"`
	ModelVersion      string  `json:"model_version"`
	ElapsedMs         int64   `json:"elapsed_ms"`
}

// SemanticResponse 纯语义检索的响应。简历向量不可用时 Matches 为空
type SemanticResponse struct {
	ResumeID string                `json:"resume_id"`
	Matches  []types.SemanticMatch `json:"matches"`
	Metadata SemanticMetadata      `json:"metadata"`
}

// SimilarJobsResponse 相似岗位的响应
type SimilarJobsResponse struct {
	ReferenceJob *types.Job         `json:"reference_job"`
	SimilarJobs  []types.SimilarJob `json:"similar_jobs"`
}

// Service 混合匹配服务：加载数据、调用引擎、必要时把缺失的向量送回队列
type Service struct {
	repo    Repository
	queue   Enqueuer
	engine  *Engine
	matcher *skills.Matcher
	cfg     ServiceConfig
	logger  zerolog.Logger
	now     func() time.Time
}

// NewService 创建匹配服务。queue 可以为 nil，此时不会重新入队
func NewService(repo Repository, queue Enqueuer, engine *Engine, cfg ServiceConfig, logger zerolog.Logger) *Service {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 20
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 100
	}
	return &Service{
		repo:    repo,
		queue:   queue,
		engine:  engine,
		matcher: engine.Lexical().Matcher(),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Engine 返回服务使用的匹配引擎
func (s *Service) Engine() *Engine {
	return s.engine
}

func (s *Service) limit(requested int) int {
	if requested <= 0 {
		return s.cfg.DefaultLimit
	}
	if requested > s.cfg.MaxLimit {
		return s.cfg.MaxLimit
	}
	return requested
}

// Match 为简历匹配在招岗位。向量相关的任何问题都只会让结果退化为纯词面打分
func (s *Service) Match(ctx context.Context, resumeID string, opts MatchOptions) (*MatchResponse, error) {
	ctx, span := matchTracer.Start(ctx, "matching.Match", trace.WithAttributes(attribute.String("resume.id", resumeID)))
	defer span.End()
	start := s.now()

	resume, err := s.repo.GetResume(ctx, resumeID)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, err
	}
	jobs, err := s.repo.ListActiveJobs(ctx, s.cfg.PoolLimit)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, fmt.Errorf("加载岗位池失败: %w", err)
	}

	engineOpts := Options{
		Limit:         s.limit(opts.Limit),
		MinMatchScore: s.cfg.DefaultMinScore,
		UseEmbeddings: s.cfg.UseEmbeddings,
	}
	if opts.MinMatchScore != nil {
		engineOpts.MinMatchScore = *opts.MinMatchScore
	}
	if opts.UseEmbeddings != nil {
		engineOpts.UseEmbeddings = *opts.UseEmbeddings
	}

	outcome := s.engine.MatchJobsForResume(resume, jobs, engineOpts)
	s.reenqueue(ctx, outcome.Reembed)

	span.SetAttributes(
		attribute.Int("match.pool_size", len(jobs)),
		attribute.Int("match.returned", len(outcome.Results)),
		attribute.Int("match.semantic_available", outcome.SemanticAvailableCount),
	)

	return &MatchResponse{
		ResumeID: resume.ID,
		Matches:  outcome.Results,
		Metadata: Metadata{
			Total:                  outcome.Total,
			Returned:               len(outcome.Results),
			SemanticRequested:      engineOpts.UseEmbeddings,
			SemanticAvailableCount: outcome.SemanticAvailableCount,
			ModelVersion:           s.engine.Semantic().ModelVersion(),
			Weights:                s.engine.Weights(),
			ElapsedMs:              s.now().Sub(start).Milliseconds(),
		},
	}, nil
}

// SemanticMatch 只按向量相似度检索岗位。threshold 为 nil 时使用配置的最低相似度
func (s *Service) SemanticMatch(ctx context.Context, resumeID string, threshold *float64, limit int) (*SemanticResponse, error) {
	minSim := s.cfg.MinSimilarity
	if threshold != nil {
		minSim = *threshold
	}
	ctx, span := matchTracer.Start(ctx, "matching.SemanticMatch", trace.WithAttributes(attribute.String("resume.id", resumeID)))
	defer span.End()
	start := s.now()

	if minSim < -1 || minSim > 1 {
		err := fmt.Errorf("%w: threshold 必须位于 [-1, 1]", ErrInvalidArgument)
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	resume, err := s.repo.GetResume(ctx, resumeID)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, err
	}

	semantic := s.engine.Semantic()
	resp := &SemanticResponse{
		ResumeID: resume.ID,
		Matches:  []types.SemanticMatch{},
		Metadata: SemanticMetadata{
			Threshold:    minSim,
			ModelVersion: semantic.ModelVersion(),
		},
	}

	if status := semantic.Validate(resume.Embedding); status != scoring.VectorValid {
		s.reenqueue(ctx, []types.EntityRef{{Type: types.EntityResume, ID: resume.ID}})
		resp.Metadata.ElapsedMs = s.now().Sub(start).Milliseconds()
		return resp, nil
	}

	jobs, err := s.repo.ListActiveJobs(ctx, s.cfg.PoolLimit)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, fmt.Errorf("加载岗位池失败: %w", err)
	}
	candidates := make([]scoring.Candidate, 0, len(jobs))
	for _, job := range jobs {
		candidates = append(candidates, scoring.Candidate{ID: job.ID, Title: job.Title, Embedding: job.Embedding})
	}

	search := semantic.FindMatches(resume.Embedding, candidates, minSim, s.limit(limit))
	resp.Matches = search.Matches
	resp.Metadata.SemanticAvailable = true
	resp.Metadata.Total = search.Total
	resp.Metadata.Returned = len(search.Matches)
	resp.Metadata.Evaluated = search.Evaluated
	resp.Metadata.UnusableCount = len(search.Unusable)

	stale := make([]types.EntityRef, 0, len(search.Unusable))
	for id := range search.Unusable {
		stale = append(stale, types.EntityRef{Type: types.EntityJob, ID: id})
	}
	s.reenqueue(ctx, stale)

	span.SetAttributes(
		attribute.Int("match.pool_size", len(jobs)),
		attribute.Int("match.returned", len(search.Matches)),
	)
	resp.Metadata.ElapsedMs = s.now().Sub(start).Milliseconds()
	return resp, nil
}

// SimilarJobs 查找与参照岗位相似的在招岗位。
// 双方向量可信时按余弦相似度打分，低于 MinSimilarity 的不返回；
// 否则按技能重合度(Jaccard)回退，没有共同技能的不返回。
// 语义结果排在回退结果前面，两类分数不可直接比较
func (s *Service) SimilarJobs(ctx context.Context, jobID string, limit int) (*SimilarJobsResponse, error) {
	ctx, span := matchTracer.Start(ctx, "matching.SimilarJobs", trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	ref, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, err
	}
	jobs, err := s.repo.ListActiveJobs(ctx, s.cfg.PoolLimit)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, fmt.Errorf("加载岗位池失败: %w", err)
	}

	semantic := s.engine.Semantic()
	var reembed []types.EntityRef
	refUsable := semantic.Validate(ref.Embedding) == scoring.VectorValid
	if !refUsable {
		reembed = append(reembed, types.EntityRef{Type: types.EntityJob, ID: ref.ID})
	}
	refProfile := s.matcher.Profile(jobSkills(ref))

	similar := make([]types.SimilarJob, 0, len(jobs))
	for _, job := range jobs {
		if job.ID == ref.ID {
			continue
		}
		item := types.SimilarJob{JobID: job.ID, JobTitle: job.Title}
		if refUsable {
			if sim, ok := semantic.Similarity(ref.Embedding, job.Embedding); ok {
				if sim < s.cfg.MinSimilarity {
					continue
				}
				item.Score = scoring.ToScore(sim)
				item.SemanticAvailable = true
			} else {
				reembed = append(reembed, types.EntityRef{Type: types.EntityJob, ID: job.ID})
			}
		}
		if !item.SemanticAvailable {
			item.Score = skills.Overlap(refProfile, s.matcher.Profile(jobSkills(job))) * 100
			if item.Score <= 0 {
				continue
			}
		}
		similar = append(similar, item)
	}

	sortSimilar(similar)
	if n := s.limit(limit); len(similar) > n {
		similar = similar[:n]
	}
	s.reenqueue(ctx, reembed)

	return &SimilarJobsResponse{ReferenceJob: ref, SimilarJobs: similar}, nil
}

// SkillGap 简历相对某个岗位的技能差距，只使用词面信号
func (s *Service) SkillGap(ctx context.Context, resumeID, jobID string) (*types.SkillGap, error) {
	ctx, span := matchTracer.Start(ctx, "matching.SkillGap", trace.WithAttributes(
		attribute.String("resume.id", resumeID),
		attribute.String("job.id", jobID),
	))
	defer span.End()

	resume, err := s.repo.GetResume(ctx, resumeID)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, err
	}
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, err
	}

	lex := s.engine.Lexical().Score(resume.Skills, Requirements(job), resume.ExperienceYears)
	return &types.SkillGap{
		ResumeID:         resume.ID,
		JobID:            job.ID,
		LexicalScore:     lex.Score,
		MatchedSkills:    lex.Matched,
		MissingRequired:  lex.Missing,
		MissingPreferred: lex.MissingPreferred,
	}, nil
}

// reenqueue 把向量不可用的实体送回队列。简历用 normal，岗位用 low；失败只记录日志
func (s *Service) reenqueue(ctx context.Context, refs []types.EntityRef) {
	if s.queue == nil || !s.cfg.ReenqueueStale || len(refs) == 0 {
		return
	}
	if len(refs) > maxReenqueuePerRequest {
		s.logger.Debug().Int("requested", len(refs)).Int("cap", maxReenqueuePerRequest).Msg("重新入队数量超过上限，已截断")
		refs = refs[:maxReenqueuePerRequest]
	}
	for _, ref := range refs {
		priority := types.PriorityLow
		if ref.Type == types.EntityResume {
			priority = types.PriorityNormal
		}
		if _, err := s.queue.Enqueue(ctx, ref.Type, ref.ID, priority); err != nil {
			s.logger.Warn().Err(err).Str("entity", ref.String()).Msg("向量重新入队失败")
		}
	}
}

func jobSkills(job *types.Job) []string {
	all := make([]string, 0, len(job.RequiredSkills)+len(job.PreferredSkills))
	all = append(all, job.RequiredSkills...)
	return append(all, job.PreferredSkills...)
}

// sortSimilar 语义结果在前，同类内按分数降序
func sortSimilar(list []types.SimilarJob) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].SemanticAvailable != list[j].SemanticAvailable {
			return list[i].SemanticAvailable
		}
		if list[i].Score != list[j].Score {
			return list[i].Score > list[j].Score
		}
		return list[i].JobID < list[j].JobID
	})
}
