package storage

import (
	"ai-match-go/internal/embedding"
	"ai-match-go/internal/logger"
	"ai-match-go/internal/tracing"
	"ai-match-go/internal/types"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// relationalStore Repository 依赖的关系库操作，由 *MySQL 实现
type relationalStore interface {
	GetResume(ctx context.Context, resumeID string) (*types.Resume, error)
	GetJob(ctx context.Context, jobID string) (*types.Job, error)
	ListActiveJobs(ctx context.Context, limit int) ([]*types.Job, error)
	GetEmbeddings(ctx context.Context, refs []types.EntityRef) (map[types.EntityRef]*types.EmbeddingVector, error)
	SaveEmbedding(ctx context.Context, ref types.EntityRef, vec types.EmbeddingVector) error
	RecordPermanentFailure(ctx context.Context, item types.FailedItem, modelVersion string, target OutboxTarget) (string, error)
}

// vectorCache 向量缓存，由 *Redis 实现
type vectorCache interface {
	GetEntityVectors(ctx context.Context, refs []types.EntityRef) (map[types.EntityRef]*types.EmbeddingVector, error)
	SetEntityVector(ctx context.Context, ref types.EntityRef, vec types.EmbeddingVector) error
}

var (
	_ embedding.TextSource   = (*Repository)(nil)
	_ embedding.VectorWriter = (*Repository)(nil)
	_ embedding.FailureSink  = (*Repository)(nil)
)

// Repository 组合关系库和向量缓存，为匹配服务和向量工作者提供数据。
// 向量先查缓存，未命中再查 MySQL 并回填；写入时先写 MySQL 再写缓存
type Repository struct {
	db           relationalStore
	cache        vectorCache
	modelVersion string
	failureEvent OutboxTarget
	log          zerolog.Logger
}

// RepositoryOption 配置 Repository
type RepositoryOption func(*Repository)

// WithVectorCache 启用向量缓存，传入 nil 等同于不启用
func WithVectorCache(cache *Redis) RepositoryOption {
	return func(r *Repository) {
		if cache != nil {
			r.cache = cache
		}
	}
}

// WithFailureEvents 永久失败时通过发件箱发布事件
func WithFailureEvents(target OutboxTarget) RepositoryOption {
	return func(r *Repository) {
		r.failureEvent = target
	}
}

// NewRepository 创建 Repository，modelVersion 写入失败记录
func NewRepository(db *MySQL, modelVersion string, opts ...RepositoryOption) *Repository {
	return newRepository(db, modelVersion, opts...)
}

func newRepository(db relationalStore, modelVersion string, opts ...RepositoryOption) *Repository {
	r := &Repository{
		db:           db,
		modelVersion: modelVersion,
		log:          logger.Named("repository"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetResume 读取简历并附上向量
func (r *Repository) GetResume(ctx context.Context, resumeID string) (*types.Resume, error) {
	resume, err := r.db.GetResume(ctx, resumeID)
	if err != nil {
		return nil, err
	}
	ref := types.EntityRef{Type: types.EntityResume, ID: resume.ID}
	resume.Embedding = r.loadVectors(ctx, []types.EntityRef{ref})[ref]
	return resume, nil
}

// GetJob 读取岗位并附上向量
func (r *Repository) GetJob(ctx context.Context, jobID string) (*types.Job, error) {
	job, err := r.db.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	ref := types.EntityRef{Type: types.EntityJob, ID: job.ID}
	job.Embedding = r.loadVectors(ctx, []types.EntityRef{ref})[ref]
	return job, nil
}

// ListActiveJobs 读取在招岗位并批量附上向量
func (r *Repository) ListActiveJobs(ctx context.Context, limit int) ([]*types.Job, error) {
	jobs, err := r.db.ListActiveJobs(ctx, limit)
	if err != nil {
		return nil, err
	}
	refs := make([]types.EntityRef, len(jobs))
	for i, job := range jobs {
		refs[i] = types.EntityRef{Type: types.EntityJob, ID: job.ID}
	}
	vectors := r.loadVectors(ctx, refs)
	for i, job := range jobs {
		job.Embedding = vectors[refs[i]]
	}
	return jobs, nil
}

// loadVectors 先查缓存，未命中的实体查 MySQL 并回填缓存。
// 向量读取失败只记录日志，相关实体按没有向量处理，匹配退化为纯词面打分
func (r *Repository) loadVectors(ctx context.Context, refs []types.EntityRef) map[types.EntityRef]*types.EmbeddingVector {
	result := make(map[types.EntityRef]*types.EmbeddingVector, len(refs))
	missing := refs
	if r.cache != nil && len(refs) > 0 {
		cached, err := r.cache.GetEntityVectors(ctx, refs)
		if err != nil {
			r.log.Warn().Err(err).Msg("读取向量缓存失败，回退到MySQL")
		} else {
			missing = make([]types.EntityRef, 0, len(refs)-len(cached))
			for _, ref := range refs {
				if vec, ok := cached[ref]; ok {
					result[ref] = vec
				} else {
					missing = append(missing, ref)
				}
			}
		}
	}
	if len(missing) == 0 {
		return result
	}

	stored, err := r.db.GetEmbeddings(ctx, missing)
	if err != nil {
		tracing.RecordError(trace.SpanFromContext(ctx), err, tracing.ErrorTypeDB)
		r.log.Error().Err(err).Int("missing", len(missing)).Msg("读取向量失败，按没有向量处理")
		return result
	}
	for ref, vec := range stored {
		result[ref] = vec
		if r.cache != nil && len(vec.Values) > 0 {
			if err := r.cache.SetEntityVector(ctx, ref, *vec); err != nil {
				r.log.Warn().Err(err).Str("entity", ref.String()).Msg("回填向量缓存失败")
			}
		}
	}
	return result
}

// EmbeddingText 见 embedding.TextSource。拼出的文本为空时返回 ErrEmptyText
func (r *Repository) EmbeddingText(ctx context.Context, ref types.EntityRef) (string, error) {
	var (
		text string
		err  error
	)
	switch ref.Type {
	case types.EntityResume:
		var resume *types.Resume
		resume, err = r.db.GetResume(ctx, ref.ID)
		if err == nil {
			text = embedding.ResumeText(resume)
		}
	case types.EntityJob:
		var job *types.Job
		job, err = r.db.GetJob(ctx, ref.ID)
		if err == nil {
			text = embedding.JobText(job)
		}
	default:
		return "", fmt.Errorf("%w: %s", embedding.ErrInvalidQueueItem, ref)
	}
	if errors.Is(err, types.ErrNotFound) {
		return "", fmt.Errorf("%s: %w", ref, embedding.ErrEntityNotFound)
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%s: %w", ref, embedding.ErrEmptyText)
	}
	return text, nil
}

// SaveEmbedding 见 embedding.VectorWriter
func (r *Repository) SaveEmbedding(ctx context.Context, ref types.EntityRef, vec types.EmbeddingVector) error {
	if err := r.db.SaveEmbedding(ctx, ref, vec); err != nil {
		return err
	}
	if r.cache != nil {
		if err := r.cache.SetEntityVector(ctx, ref, vec); err != nil {
			r.log.Warn().Err(err).Str("entity", ref.String()).Msg("写入向量缓存失败")
		}
	}
	return nil
}

// RecordPermanentFailure 见 embedding.FailureSink
func (r *Repository) RecordPermanentFailure(ctx context.Context, item types.FailedItem) error {
	id, err := r.db.RecordPermanentFailure(ctx, item, r.modelVersion, r.failureEvent)
	if err != nil {
		return err
	}
	r.log.Warn().
		Str("failureID", id).
		Str("entity", types.EntityRef{Type: item.EntityType, ID: item.EntityID}.String()).
		Int("attempts", item.Attempts).
		Str("lastError", item.LastError).
		Msg("向量生成永久失败")
	return nil
}
