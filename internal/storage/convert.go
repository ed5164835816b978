package storage

import (
	"ai-match-go/internal/constants"
	"ai-match-go/internal/logger"
	"ai-match-go/internal/storage/models"
	"ai-match-go/internal/types"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
)

// skillsOrEmpty 解析技能 JSON，内容损坏时记录告警并按空列表处理
func skillsOrEmpty(data datatypes.JSON, ref types.EntityRef, field string) []string {
	list, err := models.JSONToStrings(data)
	if err != nil {
		log := logger.Named("storage")
		log.Warn().Err(err).
			Str("entity", ref.String()).
			Str("field", field).
			Msg("技能字段无法解析，按空列表处理")
		return []string{}
	}
	return list
}

// resumeFromModel 技能字段缺失、为 null 或内容损坏时按空列表处理
func resumeFromModel(row *models.Resume) *types.Resume {
	skills := skillsOrEmpty(row.SkillsJSON, types.EntityRef{Type: types.EntityResume, ID: row.ResumeID}, "skills")
	return &types.Resume{
		ID:              row.ResumeID,
		CandidateName:   row.CandidateName,
		Skills:          skills,
		ExperienceYears: row.ExperienceYears,
		Summary:         row.Summary,
	}
}

func resumeToModel(resume *types.Resume) (*models.Resume, error) {
	skills, err := models.StringsToJSON(resume.Skills)
	if err != nil {
		return nil, fmt.Errorf("序列化技能列表失败: %w", err)
	}
	return &models.Resume{
		ResumeID:        resume.ID,
		CandidateName:   resume.CandidateName,
		SkillsJSON:      skills,
		ExperienceYears: resume.ExperienceYears,
		Summary:         resume.Summary,
	}, nil
}

// jobFromModel 技能字段缺失、为 null 或内容损坏时按空列表处理，单个岗位的脏数据不影响整个岗位池
func jobFromModel(row *models.Job) *types.Job {
	ref := types.EntityRef{Type: types.EntityJob, ID: row.JobID}
	return &types.Job{
		ID:              row.JobID,
		Title:           row.JobTitle,
		Description:     row.JobDescriptionText,
		RequiredSkills:  skillsOrEmpty(row.RequiredSkillsJSON, ref, "required_skills"),
		PreferredSkills: skillsOrEmpty(row.PreferredSkillsJSON, ref, "preferred_skills"),
		ExperienceMin:   row.ExperienceMin,
		ExperienceMax:   row.ExperienceMax,
		Status:          row.Status,
	}
}

func jobToModel(job *types.Job) (*models.Job, error) {
	required, err := models.StringsToJSON(job.RequiredSkills)
	if err != nil {
		return nil, fmt.Errorf("序列化必备技能失败: %w", err)
	}
	preferred, err := models.StringsToJSON(job.PreferredSkills)
	if err != nil {
		return nil, fmt.Errorf("序列化加分技能失败: %w", err)
	}
	status := job.Status
	if status == "" {
		status = constants.JobStatusActive
	}
	return &models.Job{
		JobID:               job.ID,
		JobTitle:            job.Title,
		JobDescriptionText:  job.Description,
		RequiredSkillsJSON:  required,
		PreferredSkillsJSON: preferred,
		ExperienceMin:       job.ExperienceMin,
		ExperienceMax:       job.ExperienceMax,
		Status:              status,
	}, nil
}

func embeddingFromModel(row *models.EntityEmbedding) (*types.EmbeddingVector, error) {
	var values []float64
	if err := json.Unmarshal(row.VectorRepresentation, &values); err != nil {
		return nil, fmt.Errorf("反序列化向量失败: %w", err)
	}
	return &types.EmbeddingVector{
		Values:       values,
		GeneratedAt:  row.GeneratedAt,
		ModelVersion: row.EmbeddingModelVersion,
	}, nil
}
