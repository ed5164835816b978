package matching

import (
	"ai-match-go/internal/scoring"
	"ai-match-go/internal/types"
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidWeights 混合权重为负或之和不为 1
var ErrInvalidWeights = errors.New("混合权重无效")

// Weights 词面分和语义分的混合权重
type Weights struct {
	Lexical  float64 `json:"lexical"`
	Semantic float64 `json:"semantic"`
}

// DefaultWeights 默认 0.6 / 0.4
func DefaultWeights() Weights {
	return Weights{Lexical: 0.6, Semantic: 0.4}
}

// Validate 权重必须非负且之和为 1
func (w Weights) Validate() error {
	if w.Lexical < 0 || w.Semantic < 0 {
		return fmt.Errorf("%w: 不能为负数", ErrInvalidWeights)
	}
	if math.Abs(w.Lexical+w.Semantic-1) > 1e-6 {
		return fmt.Errorf("%w: 之和必须为 1 (当前 %.4f)", ErrInvalidWeights, w.Lexical+w.Semantic)
	}
	return nil
}

// Options 单次匹配的选项
type Options struct {
	// Limit 返回条数，<= 0 表示不截断
	Limit         int
	MinMatchScore float64
	UseEmbeddings bool
}

// Outcome 一次匹配的完整结果
type Outcome struct {
	Results []types.MatchResult
	// Total 过滤最低分之后、截断之前的条数
	Total                  int
	SemanticAvailableCount int
	// Reembed 向量缺失、过期或损坏、需要重新生成的实体
	Reembed []types.EntityRef
}

// Engine 混合匹配引擎：每个岗位都计算词面分，双方都有可信向量时再混合语义分。
// 引擎是纯计算，不做任何 I/O，可并发使用
type Engine struct {
	lexical  *scoring.LexicalScorer
	semantic *scoring.SemanticScorer
	weights  Weights
}

// NewEngine 创建匹配引擎
func NewEngine(lexical *scoring.LexicalScorer, semantic *scoring.SemanticScorer, weights Weights) (*Engine, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if lexical == nil {
		lexical = scoring.NewLexicalScorer(nil, scoring.DefaultPolicy())
	}
	if semantic == nil {
		return nil, errors.New("语义打分器不能为空")
	}
	return &Engine{lexical: lexical, semantic: semantic, weights: weights}, nil
}

// Weights 返回引擎使用的混合权重
func (e *Engine) Weights() Weights {
	return e.weights
}

// Lexical 返回词面打分器
func (e *Engine) Lexical() *scoring.LexicalScorer {
	return e.lexical
}

// Semantic 返回语义打分器
func (e *Engine) Semantic() *scoring.SemanticScorer {
	return e.semantic
}

// Requirements 把岗位转换为词面打分的输入
func Requirements(job *types.Job) scoring.JobRequirements {
	return scoring.JobRequirements{
		Required:      job.RequiredSkills,
		Preferred:     job.PreferredSkills,
		ExperienceMin: job.ExperienceMin,
		ExperienceMax: job.ExperienceMax,
	}
}

type scored struct {
	result  types.MatchResult
	lexical float64
}

// MatchJobsForResume 对岗位池中的每个岗位打分并排序。
// 排序为最终分降序，同分时词面分高者在前，再按岗位ID
func (e *Engine) MatchJobsForResume(resume *types.Resume, jobs []*types.Job, opts Options) Outcome {
	out := Outcome{Results: []types.MatchResult{}, Reembed: []types.EntityRef{}}
	if resume == nil {
		return out
	}

	resumeUsable := false
	if opts.UseEmbeddings {
		status := e.semantic.Validate(resume.Embedding)
		resumeUsable = status == scoring.VectorValid
		if status.NeedsReembedding() {
			out.Reembed = append(out.Reembed, types.EntityRef{Type: types.EntityResume, ID: resume.ID})
		}
	}

	candidates := make([]scored, 0, len(jobs))
	for _, job := range jobs {
		if job == nil {
			continue
		}
		lex := e.lexical.Score(resume.Skills, Requirements(job), resume.ExperienceYears)

		res := types.MatchResult{
			JobID:          job.ID,
			JobTitle:       job.Title,
			MatchScore:     lex.Score,
			MatchedSkills:  lex.Matched,
			MissingSkills:  lex.Missing,
			ScoreBreakdown: types.ScoreBreakdown{LexicalScore: lex.Score},
		}

		if opts.UseEmbeddings {
			if status := e.semantic.Validate(job.Embedding); status.NeedsReembedding() {
				out.Reembed = append(out.Reembed, types.EntityRef{Type: types.EntityJob, ID: job.ID})
			} else if resumeUsable {
				if sim, ok := e.semantic.Similarity(resume.Embedding, job.Embedding); ok {
					semScore := scoring.ToScore(sim)
					res.MatchScore = clampScore(e.weights.Lexical*lex.Score + e.weights.Semantic*semScore)
					res.ScoreBreakdown.SemanticScore = &semScore
					res.ScoreBreakdown.BlendWeight = e.weights.Semantic
					res.SemanticAvailable = true
				} else {
					// 双方各自可信但长度不同，以简历为准重新生成岗位向量
					out.Reembed = append(out.Reembed, types.EntityRef{Type: types.EntityJob, ID: job.ID})
				}
			}
		}

		if res.MatchScore < opts.MinMatchScore {
			continue
		}
		if res.SemanticAvailable {
			out.SemanticAvailableCount++
		}
		candidates = append(candidates, scored{result: res, lexical: lex.Score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.result.MatchScore != b.result.MatchScore {
			return a.result.MatchScore > b.result.MatchScore
		}
		if a.lexical != b.lexical {
			return a.lexical > b.lexical
		}
		return a.result.JobID < b.result.JobID
	})

	out.Total = len(candidates)
	if opts.Limit > 0 && len(candidates) > opts.Limit {
		candidates = candidates[:opts.Limit]
	}
	for _, c := range candidates {
		out.Results = append(out.Results, c.result)
	}
	return out
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
