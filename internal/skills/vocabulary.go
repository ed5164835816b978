package skills

import (
	"strings"
	"sync"
)

// CanonicalSkill 规范技能及其别名。规范名为小写且唯一
type CanonicalSkill struct {
	Name    string   `yaml:"canonical"`
	Aliases []string `yaml:"aliases"`
}

// SynonymSet 一组可以互相替代的技能写法
type SynonymSet []string

// Vocabulary 技能词表。构建后只读，可在多个 goroutine 间无锁共享
type Vocabulary struct {
	aliasToCanonical map[string]string // normalizeKey(别名或规范名) -> 规范名
	synonymIndex     map[string][]int  // normalizeKey(同义词成员) -> 所在同义词组下标
	synonymSets      []SynonymSet

	// 保留原始输入，便于与文件词表合并
	skills []CanonicalSkill
}

// NewVocabulary 构建词表。别名冲突时后出现的条目生效
func NewVocabulary(skills []CanonicalSkill, synonymSets []SynonymSet) *Vocabulary {
	v := &Vocabulary{
		aliasToCanonical: make(map[string]string, len(skills)*3),
		synonymIndex:     make(map[string][]int),
	}

	for _, s := range skills {
		name := strings.ToLower(strings.TrimSpace(s.Name))
		if name == "" {
			continue
		}
		aliases := make([]string, 0, len(s.Aliases))
		v.aliasToCanonical[normalizeKey(name)] = name
		for _, alias := range s.Aliases {
			key := normalizeKey(alias)
			if key == "" {
				continue
			}
			v.aliasToCanonical[key] = name
			aliases = append(aliases, alias)
		}
		v.skills = append(v.skills, CanonicalSkill{Name: name, Aliases: aliases})
	}

	for _, set := range synonymSets {
		members := make(SynonymSet, 0, len(set))
		for _, m := range set {
			if normalizeKey(m) != "" {
				members = append(members, strings.ToLower(strings.TrimSpace(m)))
			}
		}
		if len(members) < 2 {
			continue
		}
		idx := len(v.synonymSets)
		v.synonymSets = append(v.synonymSets, members)

		seen := make(map[string]struct{}, len(members)*2)
		for _, m := range members {
			for _, key := range v.lookupKeys(m) {
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				v.synonymIndex[key] = append(v.synonymIndex[key], idx)
			}
		}
	}

	return v
}

// Merge 返回在当前词表之上叠加额外条目的新词表，当前词表不变
func (v *Vocabulary) Merge(skills []CanonicalSkill, synonymSets []SynonymSet) *Vocabulary {
	allSkills := make([]CanonicalSkill, 0, len(v.skills)+len(skills))
	allSkills = append(allSkills, v.skills...)
	allSkills = append(allSkills, skills...)

	allSets := make([]SynonymSet, 0, len(v.synonymSets)+len(synonymSets))
	allSets = append(allSets, v.synonymSets...)
	allSets = append(allSets, synonymSets...)

	return NewVocabulary(allSkills, allSets)
}

// Canonicalize 返回原始技能写法对应的规范名。
// 未命中词表时返回去空白后的小写原文，ok 为 false，调用方按原文继续处理
func (v *Vocabulary) Canonicalize(raw string) (canonical string, ok bool) {
	if name, hit := v.aliasToCanonical[normalizeKey(raw)]; hit {
		return name, true
	}
	return strings.ToLower(strings.TrimSpace(raw)), false
}

// Known 判断技能写法是否能在词表中找到规范名
func (v *Vocabulary) Known(raw string) bool {
	_, ok := v.aliasToCanonical[normalizeKey(raw)]
	return ok
}

// Synonyms 返回与 raw 处于同一同义词组的全部写法(小写)
func (v *Vocabulary) Synonyms(raw string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, idx := range v.synonymSetIDs(raw) {
		for _, m := range v.synonymSets[idx] {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}

// Size 返回规范技能数量
func (v *Vocabulary) Size() int {
	names := make(map[string]struct{}, len(v.skills))
	for _, s := range v.skills {
		names[s.Name] = struct{}{}
	}
	return len(names)
}

// shareSynonymSet 判断两个写法是否出现在同一个同义词组
func (v *Vocabulary) shareSynonymSet(a, b string) bool {
	idsA := v.synonymSetIDs(a)
	if len(idsA) == 0 {
		return false
	}
	idsB := v.synonymSetIDs(b)
	for _, x := range idsA {
		for _, y := range idsB {
			if x == y {
				return true
			}
		}
	}
	return false
}

func (v *Vocabulary) synonymSetIDs(raw string) []int {
	var ids []int
	for _, key := range v.lookupKeys(raw) {
		ids = append(ids, v.synonymIndex[key]...)
	}
	return ids
}

// lookupKeys 同义词索引同时按原写法和规范名建立，这样别名也能命中同义词组
func (v *Vocabulary) lookupKeys(raw string) []string {
	key := normalizeKey(raw)
	if key == "" {
		return nil
	}
	keys := []string{key}
	if name, ok := v.aliasToCanonical[key]; ok {
		if ck := normalizeKey(name); ck != key {
			keys = append(keys, ck)
		}
	}
	return keys
}

var keyStripper = strings.NewReplacer(".", "", "-", "")

// normalizeKey 词表查找用的键：小写、去首尾空白、去掉点号和连字符、合并连续空白
func normalizeKey(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = keyStripper.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

var (
	defaultOnce  sync.Once
	defaultVocab *Vocabulary
)

// Default 返回内置词表，进程内只构建一次
func Default() *Vocabulary {
	defaultOnce.Do(func() {
		defaultVocab = NewVocabulary(defaultSkills, defaultSynonymSets)
	})
	return defaultVocab
}
