package skills

import "strings"

// SkillProfile 一组原始技能的派生视图，按需计算，不缓存
type SkillProfile struct {
	// Canonical 去重后的规范名，保持输入顺序
	Canonical []string
	// Tokens 规范名加上同义词展开后的全部写法
	Tokens []string

	canonicalSet map[string]struct{}
}

// Profile 计算原始技能列表的 SkillProfile，空白条目被忽略
func (m *Matcher) Profile(raw []string) SkillProfile {
	p := SkillProfile{canonicalSet: make(map[string]struct{}, len(raw))}
	tokenSet := make(map[string]struct{}, len(raw)*2)

	addToken := func(t string) {
		if _, ok := tokenSet[t]; ok {
			return
		}
		tokenSet[t] = struct{}{}
		p.Tokens = append(p.Tokens, t)
	}

	for _, s := range raw {
		if strings.TrimSpace(s) == "" {
			continue
		}
		canonical, _ := m.vocab.Canonicalize(s)
		if _, ok := p.canonicalSet[canonical]; !ok {
			p.canonicalSet[canonical] = struct{}{}
			p.Canonical = append(p.Canonical, canonical)
		}
		addToken(canonical)
		for _, syn := range m.vocab.Synonyms(s) {
			addToken(syn)
		}
	}
	return p
}

// Has 判断规范名是否在画像中
func (p SkillProfile) Has(canonical string) bool {
	_, ok := p.canonicalSet[canonical]
	return ok
}

// Overlap 两个画像规范名的 Jaccard 系数，任一为空时返回 0
func Overlap(a, b SkillProfile) float64 {
	if len(a.Canonical) == 0 || len(b.Canonical) == 0 {
		return 0
	}
	shared := 0
	for _, c := range a.Canonical {
		if b.Has(c) {
			shared++
		}
	}
	union := len(a.Canonical) + len(b.Canonical) - shared
	return float64(shared) / float64(union)
}
