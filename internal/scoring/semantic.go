package scoring

import (
	"ai-match-go/internal/types"
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrDimensionMismatch 两个向量长度不同
var ErrDimensionMismatch = errors.New("向量维度不一致")

// VectorStatus 向量是否可用于语义比较
type VectorStatus int

const (
	// VectorValid 可信
	VectorValid VectorStatus = iota
	// VectorAbsent 尚未生成
	VectorAbsent
	// VectorStale 由其他模型版本生成
	VectorStale
	// VectorMalformed 为空、维度不符或包含非有限值
	VectorMalformed
)

// String 返回状态名称
func (s VectorStatus) String() string {
	switch s {
	case VectorValid:
		return "valid"
	case VectorAbsent:
		return "absent"
	case VectorStale:
		return "stale"
	case VectorMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// NeedsReembedding 缺失、过期、损坏的向量都需要重新入队
func (s VectorStatus) NeedsReembedding() bool {
	return s != VectorValid
}

// Cosine 余弦相似度，结果限制在 [-1, 1]。任一向量模长为 0 时返回 0
func Cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return clamp(dot/(math.Sqrt(normA)*math.Sqrt(normB)), -1, 1), nil
}

// ToScore 相似度换算为 0-100 的分数，负相似度记为 0
func ToScore(similarity float64) float64 {
	return clamp(similarity, 0, 1) * 100
}

// Candidate 参与语义检索的一个岗位
type Candidate struct {
	ID        string
	Title     string
	Embedding *types.EmbeddingVector
}

// SemanticScorer 语义打分器，只信任当前模型版本生成的向量
type SemanticScorer struct {
	modelVersion string
	dimensions   int
}

// NewSemanticScorer 创建语义打分器。dimensions 为 0 时不校验维度
func NewSemanticScorer(modelVersion string, dimensions int) *SemanticScorer {
	return &SemanticScorer{modelVersion: modelVersion, dimensions: dimensions}
}

// ModelVersion 返回当前信任的模型版本
func (s *SemanticScorer) ModelVersion() string {
	return s.modelVersion
}

// Validate 判断向量是否可信
func (s *SemanticScorer) Validate(v *types.EmbeddingVector) VectorStatus {
	if v == nil {
		return VectorAbsent
	}
	if v.ModelVersion != s.modelVersion {
		return VectorStale
	}
	if len(v.Values) == 0 || (s.dimensions > 0 && len(v.Values) != s.dimensions) {
		return VectorMalformed
	}
	for _, x := range v.Values {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return VectorMalformed
		}
	}
	return VectorValid
}

// Similarity 两个向量都可信时返回相似度，否则 ok 为 false
func (s *SemanticScorer) Similarity(a, b *types.EmbeddingVector) (similarity float64, ok bool) {
	if s.Validate(a) != VectorValid || s.Validate(b) != VectorValid {
		return 0, false
	}
	sim, err := Cosine(a.Values, b.Values)
	if err != nil {
		return 0, false
	}
	return sim, true
}

// SemanticSearch 语义检索结果
type SemanticSearch struct {
	Matches []types.SemanticMatch
	// Total 截断前达到阈值的岗位数
	Total int
	// Evaluated 参与比较的岗位数
	Evaluated int
	// Unusable 向量不可信的岗位及其状态，调用方据此重新入队
	Unusable map[string]VectorStatus
}

// FindMatches 返回相似度不低于 minSimilarity 的岗位，按相似度降序，截断到 limit。
// limit <= 0 表示不截断；source 不可信时返回空结果
func (s *SemanticScorer) FindMatches(source *types.EmbeddingVector, candidates []Candidate, minSimilarity float64, limit int) SemanticSearch {
	out := SemanticSearch{Matches: []types.SemanticMatch{}, Unusable: map[string]VectorStatus{}}
	if s.Validate(source) != VectorValid {
		return out
	}

	for _, c := range candidates {
		if status := s.Validate(c.Embedding); status != VectorValid {
			out.Unusable[c.ID] = status
			continue
		}
		sim, err := Cosine(source.Values, c.Embedding.Values)
		if err != nil {
			out.Unusable[c.ID] = VectorMalformed
			continue
		}
		out.Evaluated++
		if sim >= minSimilarity {
			out.Matches = append(out.Matches, types.SemanticMatch{JobID: c.ID, JobTitle: c.Title, Similarity: sim})
		}
	}

	sort.SliceStable(out.Matches, func(i, j int) bool {
		if out.Matches[i].Similarity != out.Matches[j].Similarity {
			return out.Matches[i].Similarity > out.Matches[j].Similarity
		}
		return out.Matches[i].JobID < out.Matches[j].JobID
	})
	out.Total = len(out.Matches)
	if limit > 0 && len(out.Matches) > limit {
		out.Matches = out.Matches[:limit]
	}
	return out
}
