package embedding

import (
	"ai-match-go/internal/types"
	"context"
	"strings"
)

// maxTextRunes 送往供应方的单条文本上限
const maxTextRunes = 6000

// TextSource 读取实体并拼装向量文本。实体不存在时返回 ErrEntityNotFound
type TextSource interface {
	EmbeddingText(ctx context.Context, ref types.EntityRef) (string, error)
}

// ResumeText 简历向量文本：技能列表加个人总结
func ResumeText(r *types.Resume) string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	writeSection(&b, "Skills", strings.Join(cleanList(r.Skills), ", "))
	writeSection(&b, "Summary", r.Summary)
	return truncateRunes(b.String(), maxTextRunes)
}

// JobText 岗位向量文本：标题、必需技能、加分技能、描述
func JobText(j *types.Job) string {
	if j == nil {
		return ""
	}
	var b strings.Builder
	writeSection(&b, "Title", j.Title)
	writeSection(&b, "Required skills", strings.Join(cleanList(j.RequiredSkills), ", "))
	writeSection(&b, "Preferred skills", strings.Join(cleanList(j.PreferredSkills), ", "))
	writeSection(&b, "Description", j.Description)
	return truncateRunes(b.String(), maxTextRunes)
}

func writeSection(b *strings.Builder, label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(value)
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
