package scoring_test

import (
	"ai-match-go/internal/scoring"
	"ai-match-go/internal/types"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func years(v float64) *float64 { return &v }

func newLexical() *scoring.LexicalScorer {
	return scoring.NewLexicalScorer(nil, scoring.DefaultPolicy())
}

// TestLexicalScore_Fixture 别名归一后 4 个岗位技能命中 2 个
func TestLexicalScore_Fixture(t *testing.T) {
	res := newLexical().Score(
		[]string{"JS", "reactjs", "Node"},
		scoring.JobRequirements{
			Required:  []string{"JavaScript", "React", "SQL"},
			Preferred: []string{"Docker"},
		},
		nil,
	)

	assert.InDelta(t, 50.0, res.Score, 1e-9, "命中 2/4 应为 50 分")
	assert.Equal(t, []string{"JavaScript", "React"}, res.Matched)
	assert.Equal(t, []string{"SQL"}, res.Missing, "缺失只统计必需技能")
	assert.Equal(t, []string{"Docker"}, res.MissingPreferred)
	assert.Equal(t, 4, res.SkillCount)
}

// TestLexicalScore_EmptyJobSkills 岗位没有技能时固定返回基准分
func TestLexicalScore_EmptyJobSkills(t *testing.T) {
	s := newLexical()

	cases := []struct {
		name      string
		candidate []string
		job       scoring.JobRequirements
		years     *float64
	}{
		{"全空", nil, scoring.JobRequirements{}, nil},
		{"只有空白技能", []string{"Go"}, scoring.JobRequirements{Required: []string{" ", ""}}, nil},
		{"经验满足也不加分", []string{"Go"}, scoring.JobRequirements{ExperienceMin: years(1), ExperienceMax: years(10)}, years(5)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := s.Score(tc.candidate, tc.job, tc.years)
			assert.Equal(t, 60.0, res.Score)
			assert.Empty(t, res.Matched)
			assert.Empty(t, res.Missing)
		})
	}
}

// TestLexicalScore_ExperienceBonus 最低与最高年限分别加分并封顶 100
func TestLexicalScore_ExperienceBonus(t *testing.T) {
	s := newLexical()
	job := scoring.JobRequirements{
		Required:      []string{"Go", "Redis", "MySQL", "Kafka"},
		ExperienceMin: years(3),
		ExperienceMax: years(6),
	}
	candidate := []string{"golang", "redis"}

	assert.InDelta(t, 50.0, s.Score(candidate, job, nil).Score, 1e-9, "未提供年限不加分")
	assert.InDelta(t, 60.0, s.Score(candidate, job, years(4)).Score, 1e-9, "区间内两项都加")
	assert.InDelta(t, 55.0, s.Score(candidate, job, years(8)).Score, 1e-9, "超过最高年限只加一项")
	assert.InDelta(t, 55.0, s.Score(candidate, job, years(1)).Score, 1e-9, "不足最低年限只加一项")

	onlyMin := scoring.JobRequirements{Required: job.Required, ExperienceMin: years(3)}
	assert.InDelta(t, 55.0, s.Score(candidate, onlyMin, years(10)).Score, 1e-9)

	full := s.Score([]string{"go", "redis", "mysql", "kafka"}, job, years(4))
	assert.Equal(t, 100.0, full.Score, "加分后应封顶 100")
}

// TestLexicalScore_DedupByCanonical 必需与加分技能按规范名去重，必需优先
func TestLexicalScore_DedupByCanonical(t *testing.T) {
	res := newLexical().Score(
		[]string{"python"},
		scoring.JobRequirements{
			Required:  []string{"Kubernetes", "Python", "python3"},
			Preferred: []string{"k8s", "Terraform"},
		},
		nil,
	)

	assert.Equal(t, 3, res.SkillCount)
	assert.Equal(t, []string{"Python"}, res.Matched)
	assert.Equal(t, []string{"Kubernetes"}, res.Missing, "k8s 与必需的 Kubernetes 重复，只算一次")
	assert.Equal(t, []string{"Terraform"}, res.MissingPreferred)
	assert.InDelta(t, 100.0/3, res.Score, 1e-9)
}

// TestLexicalScore_Monotonic 增加技能不会降低分数
func TestLexicalScore_Monotonic(t *testing.T) {
	s := newLexical()
	job := scoring.JobRequirements{
		Required:  []string{"Go", "PostgreSQL", "Docker", "gRPC"},
		Preferred: []string{"Kubernetes", "REST"},
	}
	additions := []string{"restful api", "k8s", "some tool", "postgres", "golang", "docker", "grpc"}

	var candidate []string
	prev := s.Score(candidate, job, nil).Score
	for _, skill := range additions {
		candidate = append(candidate, skill)
		cur := s.Score(candidate, job, nil).Score
		assert.GreaterOrEqual(t, cur, prev, "加入 %q 后分数下降", skill)
		prev = cur
	}
	assert.Equal(t, 100.0, prev)
}

// TestCosine 测试余弦相似度的基本性质
func TestCosine(t *testing.T) {
	a := []float64{0.3, -0.2, 0.9}
	b := []float64{-0.1, 0.4, 0.5}

	self, err := scoring.Cosine(a, a)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, self, 1e-9, "自身相似度应为 1")

	orth, err := scoring.Cosine([]float64{1, 0}, []float64{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, orth, 1e-12, "正交向量相似度应为 0")

	ab, _ := scoring.Cosine(a, b)
	ba, _ := scoring.Cosine(b, a)
	assert.InDelta(t, ab, ba, 1e-12, "相似度应对称")

	zero, err := scoring.Cosine([]float64{0, 0, 0}, a)
	require.NoError(t, err, "零向量不应报错")
	assert.Equal(t, 0.0, zero)

	_, err = scoring.Cosine([]float64{1, 2}, a)
	assert.ErrorIs(t, err, scoring.ErrDimensionMismatch)

	opposite, _ := scoring.Cosine([]float64{1, 1}, []float64{-1, -1})
	assert.InDelta(t, -1.0, opposite, 1e-9)
	assert.Equal(t, 0.0, scoring.ToScore(opposite), "负相似度换算为 0 分")
	assert.InDelta(t, 85.0, scoring.ToScore(0.85), 1e-9)
}

func vec(model string, values ...float64) *types.EmbeddingVector {
	return &types.EmbeddingVector{Values: values, ModelVersion: model}
}

// TestValidate 测试向量可信度判定
func TestValidate(t *testing.T) {
	s := scoring.NewSemanticScorer("v3", 3)

	assert.Equal(t, scoring.VectorValid, s.Validate(vec("v3", 1, 2, 3)))
	assert.Equal(t, scoring.VectorAbsent, s.Validate(nil))
	assert.Equal(t, scoring.VectorStale, s.Validate(vec("v2", 1, 2, 3)))
	assert.Equal(t, scoring.VectorMalformed, s.Validate(vec("v3")))
	assert.Equal(t, scoring.VectorMalformed, s.Validate(vec("v3", 1, 2)))
	assert.Equal(t, scoring.VectorMalformed, s.Validate(vec("v3", 1, math.NaN(), 3)))
	assert.False(t, scoring.VectorValid.NeedsReembedding())
	assert.True(t, scoring.VectorStale.NeedsReembedding())

	loose := scoring.NewSemanticScorer("v3", 0)
	assert.Equal(t, scoring.VectorValid, loose.Validate(vec("v3", 1, 2)), "维度为 0 时不校验长度")
}

// TestFindMatches 测试阈值过滤、排序与截断
func TestFindMatches(t *testing.T) {
	s := scoring.NewSemanticScorer("v3", 2)
	source := vec("v3", 1, 0)

	candidates := []scoring.Candidate{
		{ID: "far", Embedding: vec("v3", 0, 1)},
		{ID: "close", Title: "Close", Embedding: vec("v3", 0.99, 0.1)},
		{ID: "same", Title: "Same", Embedding: vec("v3", 2, 0)},
		{ID: "mid", Embedding: vec("v3", 0.8, 0.6)},
		{ID: "stale", Embedding: vec("v1", 1, 0)},
		{ID: "none"},
		{ID: "short", Embedding: vec("v3", 1)},
	}

	res := s.FindMatches(source, candidates, 0.7, 0)
	require.Len(t, res.Matches, 3)
	assert.Equal(t, "same", res.Matches[0].JobID)
	assert.Equal(t, "close", res.Matches[1].JobID)
	assert.Equal(t, "mid", res.Matches[2].JobID)
	assert.InDelta(t, 0.8, res.Matches[2].Similarity, 1e-9)
	assert.Equal(t, map[string]scoring.VectorStatus{
		"stale": scoring.VectorStale,
		"none":  scoring.VectorAbsent,
		"short": scoring.VectorMalformed,
	}, res.Unusable)

	limited := s.FindMatches(source, candidates, 0.7, 2)
	assert.Len(t, limited.Matches, 2)

	empty := s.FindMatches(vec("v1", 1, 0), candidates, 0.7, 10)
	assert.Empty(t, empty.Matches, "源向量不可信时不返回结果")
}
