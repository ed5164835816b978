package types

import (
	"fmt"
	"strings"
	"time"
)

// EntityType 表示拥有向量的实体类型
type EntityType string

const (
	// EntityResume 简历
	EntityResume EntityType = "resume"
	// EntityJob 岗位
	EntityJob EntityType = "job"
)

// Valid 判断实体类型是否受支持
func (e EntityType) Valid() bool {
	return e == EntityResume || e == EntityJob
}

// ParseEntityType 解析实体类型字符串，大小写不敏感
func ParseEntityType(s string) (EntityType, error) {
	e := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if !e.Valid() {
		return "", fmt.Errorf("未知的实体类型: %q", s)
	}
	return e, nil
}

// EntityRef 唯一标识一个简历或岗位
type EntityRef struct {
	Type EntityType `json:"entity_type"`
	ID   string     `json:"entity_id"`
}

// String 返回 "{type}:{id}" 形式，队列后端也用它作为成员名
func (r EntityRef) String() string {
	return string(r.Type) + ":" + r.ID
}

// ParseEntityRef 解析 "{type}:{id}" 形式的字符串
func ParseEntityRef(s string) (EntityRef, error) {
	typ, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return EntityRef{}, fmt.Errorf("无效的实体标识: %q", s)
	}
	et, err := ParseEntityType(typ)
	if err != nil {
		return EntityRef{}, err
	}
	return EntityRef{Type: et, ID: id}, nil
}

// EmbeddingVector 某个简历或岗位的向量快照，生成后不再修改
type EmbeddingVector struct {
	Values       []float64 `json:"values"`
	GeneratedAt  time.Time `json:"generated_at"`
	ModelVersion string    `json:"model_version"`
}

// Resume 参与匹配的简历数据。技能由上游解析，这里只接收字符串列表
type Resume struct {
	ID              string           `json:"resume_id"`
	CandidateName   string           `json:"candidate_name,omitempty"`
	Skills          []string         `json:"skills"`
	ExperienceYears *float64         `json:"experience_years,omitempty"`
	Summary         string           `json:"summary,omitempty"`
	Embedding       *EmbeddingVector `json:"-"`
}

// Job 参与匹配的岗位数据
type Job struct {
	ID              string           `json:"job_id"`
	Title           string           `json:"title"`
	Description     string           `json:"description,omitempty"`
	RequiredSkills  []string         `json:"required_skills"`
	PreferredSkills []string         `json:"preferred_skills"`
	ExperienceMin   *float64         `json:"experience_min,omitempty"`
	ExperienceMax   *float64         `json:"experience_max,omitempty"`
	Status          string           `json:"status,omitempty"`
	Embedding       *EmbeddingVector `json:"-"`
}
