package types

// ScoreBreakdown 匹配分的组成
type ScoreBreakdown struct {
	LexicalScore float64 `json:"lexical_score"`
	// SemanticScore 余弦相似度换算到 0-100，语义信号不可用时为 nil
	SemanticScore *float64 `json:"semantic_score"`
	// BlendWeight 实际使用的语义权重，仅词面打分时为 0
	BlendWeight float64 `json:"blend_weight"`
}

// MatchResult 单个岗位的匹配结果
type MatchResult struct {
	JobID             string         `json:"job_id"`
	JobTitle          string         `json:"job_title"`
	MatchScore        float64        `json:"match_score"`
	MatchedSkills     []string       `json:"matched_skills"`
	MissingSkills     []string       `json:"missing_skills"`
	ScoreBreakdown    ScoreBreakdown `json:"score_breakdown"`
	SemanticAvailable bool           `json:"semantic_available"`
}

// SemanticMatch 纯语义检索的结果
type SemanticMatch struct {
	JobID      string  `json:"job_id"`
	JobTitle   string  `json:"job_title,omitempty"`
	Similarity float64 `json:"similarity"`
}

// SimilarJob 相似岗位结果。语义不可用时按技能重合度回退
type SimilarJob struct {
	JobID             string  `json:"job_id"`
	JobTitle          string  `json:"job_title"`
	Score             float64 `json:"score"`
	SemanticAvailable bool    `json:"semantic_available"`
}

// SkillGap 简历相对某个岗位的技能差距
type SkillGap struct {
	ResumeID         string   `json:"resume_id"`
	JobID            string   `json:"job_id"`
	LexicalScore     float64  `json:"lexical_score"`
	MatchedSkills    []string `json:"matched_skills"`
	MissingRequired  []string `json:"missing_required"`
	MissingPreferred []string `json:"missing_preferred"`
}
