package scoring

import (
	"ai-match-go/internal/skills"
	"strings"
)

// Policy 词面打分的策略常量
type Policy struct {
	// BaselineScore 岗位没有列出任何技能时的中性分
	BaselineScore float64
	// ExperienceBonus 满足最低年限、满足最高年限各自的加分
	ExperienceBonus float64
}

// DefaultPolicy 默认策略：基准分 60，经验加分 +5/+5
func DefaultPolicy() Policy {
	return Policy{BaselineScore: 60, ExperienceBonus: 5}
}

// JobRequirements 岗位对候选人的要求，字段缺失视为空
type JobRequirements struct {
	Required      []string
	Preferred     []string
	ExperienceMin *float64
	ExperienceMax *float64
}

// LexicalResult 词面打分结果
type LexicalResult struct {
	Score float64
	// Matched 命中的岗位技能，保留岗位上的写法
	Matched []string
	// Missing 未命中的必需技能
	Missing []string
	// MissingPreferred 未命中的加分技能，只用于展示，不额外扣分
	MissingPreferred []string
	// SkillCount 去重后的岗位技能数
	SkillCount int
}

// LexicalScorer 基于技能等价判定的词面打分器，无状态，可并发使用
type LexicalScorer struct {
	matcher *skills.Matcher
	policy  Policy
}

// NewLexicalScorer 创建词面打分器，matcher 为 nil 时使用内置词表
func NewLexicalScorer(matcher *skills.Matcher, policy Policy) *LexicalScorer {
	if matcher == nil {
		matcher = skills.NewMatcher(nil)
	}
	return &LexicalScorer{matcher: matcher, policy: policy}
}

// Matcher 返回打分器使用的判定器
func (s *LexicalScorer) Matcher() *skills.Matcher {
	return s.matcher
}

type jobSkill struct {
	raw      string
	required bool
}

// Score 计算候选人技能相对岗位要求的词面分
func (s *LexicalScorer) Score(candidate []string, job JobRequirements, experienceYears *float64) LexicalResult {
	union := s.unionSkills(job)
	result := LexicalResult{
		Matched:          []string{},
		Missing:          []string{},
		MissingPreferred: []string{},
		SkillCount:       len(union),
	}

	// 没有可比较的技能时直接给中性分，不叠加经验加分
	if len(union) == 0 {
		result.Score = s.policy.BaselineScore
		return result
	}

	matched := 0
	for _, js := range union {
		if s.matchesAny(js.raw, candidate) {
			matched++
			result.Matched = append(result.Matched, js.raw)
			continue
		}
		if js.required {
			result.Missing = append(result.Missing, js.raw)
		} else {
			result.MissingPreferred = append(result.MissingPreferred, js.raw)
		}
	}

	score := clamp(float64(matched)/float64(len(union))*100, 0, 100)
	score += s.experienceBonus(job, experienceYears)
	result.Score = clamp(score, 0, 100)
	return result
}

// unionSkills 合并必需与加分技能，按规范名去重，同名时必需技能优先
func (s *LexicalScorer) unionSkills(job JobRequirements) []jobSkill {
	union := make([]jobSkill, 0, len(job.Required)+len(job.Preferred))
	index := make(map[string]int, cap(union))

	add := func(raw string, required bool) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return
		}
		canonical, _ := s.matcher.Canonicalize(raw)
		if i, ok := index[canonical]; ok {
			if required && !union[i].required {
				union[i] = jobSkill{raw: raw, required: true}
			}
			return
		}
		index[canonical] = len(union)
		union = append(union, jobSkill{raw: raw, required: required})
	}

	for _, raw := range job.Required {
		add(raw, true)
	}
	for _, raw := range job.Preferred {
		add(raw, false)
	}
	return union
}

func (s *LexicalScorer) matchesAny(skill string, candidate []string) bool {
	for _, c := range candidate {
		if s.matcher.AreEquivalent(skill, c) {
			return true
		}
	}
	return false
}

// experienceBonus 满足最低年限与满足最高年限分别加分，未给出年限时不加分
func (s *LexicalScorer) experienceBonus(job JobRequirements, years *float64) float64 {
	if years == nil {
		return 0
	}
	bonus := 0.0
	if job.ExperienceMin != nil && *years >= *job.ExperienceMin {
		bonus += s.policy.ExperienceBonus
	}
	if job.ExperienceMax != nil && *years <= *job.ExperienceMax {
		bonus += s.policy.ExperienceBonus
	}
	return bonus
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
