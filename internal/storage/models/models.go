package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Resume 参与匹配的简历。技能由上游解析服务写入
type Resume struct {
	ResumeID        string         `gorm:"type:char(36);primaryKey"`
	CandidateName   string         `gorm:"type:varchar(255)"`
	SkillsJSON      datatypes.JSON `gorm:"type:json"` // string[]
	ExperienceYears *float64       `gorm:"type:decimal(4,1)"`
	Summary         string         `gorm:"type:text"`
	CreatedAt       time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt       time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (Resume) TableName() string {
	return "resumes"
}

// Job 岗位信息表
type Job struct {
	JobID               string         `gorm:"type:char(36);primaryKey"`
	JobTitle            string         `gorm:"type:varchar(255);not null"`
	JobDescriptionText  string         `gorm:"type:text"`
	RequiredSkillsJSON  datatypes.JSON `gorm:"type:json"` // string[]
	PreferredSkillsJSON datatypes.JSON `gorm:"type:json"` // string[]
	ExperienceMin       *float64       `gorm:"type:decimal(4,1)"`
	ExperienceMax       *float64       `gorm:"type:decimal(4,1)"`
	Status              string         `gorm:"type:varchar(50);default:'ACTIVE';index:idx_jobs_status"`
	CreatedAt           time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt           time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (Job) TableName() string {
	return "jobs"
}

// EntityEmbedding 简历或岗位的向量快照，每个实体一行，重新生成时整体覆盖
type EntityEmbedding struct {
	ID                    uint64    `gorm:"primaryKey;autoIncrement"`
	EntityType            string    `gorm:"type:varchar(20);not null;uniqueIndex:uq_entity_embedding,priority:1"`
	EntityID              string    `gorm:"type:char(36);not null;uniqueIndex:uq_entity_embedding,priority:2"`
	VectorRepresentation  []byte    `gorm:"type:mediumblob;not null"` // JSON 序列化的 []float64
	Dimensions            int       `gorm:"not null"`
	EmbeddingModelVersion string    `gorm:"type:varchar(100);not null;index:idx_ee_model_version"`
	GeneratedAt           time.Time `gorm:"type:datetime(6);not null"`
	CreatedAt             time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt             time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (EntityEmbedding) TableName() string {
	return "entity_embeddings"
}

// EmbeddingFailure 向量生成永久失败记录
type EmbeddingFailure struct {
	FailureID    string    `gorm:"type:char(36);primaryKey"`
	EntityType   string    `gorm:"type:varchar(20);not null;index:idx_ef_entity,priority:1"`
	EntityID     string    `gorm:"type:char(36);not null;index:idx_ef_entity,priority:2"`
	Attempts     int       `gorm:"not null"`
	LastError    string    `gorm:"type:text"`
	ModelVersion string    `gorm:"type:varchar(100)"`
	FailedAt     time.Time `gorm:"type:datetime(6);not null;index:idx_ef_failed_at"`
	CreatedAt    time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
}

func (EmbeddingFailure) TableName() string {
	return "embedding_failures"
}

// StringsToJSON 将字符串列表转换为 datatypes.JSON，nil 存为空数组
func StringsToJSON(list []string) (datatypes.JSON, error) {
	if list == nil {
		list = []string{}
	}
	bytes, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}
	return bytes, nil
}

// JSONToStrings 解析 JSON 字符串数组。字段为空或 null 时返回空列表
func JSONToStrings(data datatypes.JSON) ([]string, error) {
	if len(data) == 0 || string(data) == "null" {
		return []string{}, nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	if list == nil {
		list = []string{}
	}
	return list, nil
}
