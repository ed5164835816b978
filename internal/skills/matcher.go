package skills

import (
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
)

// Tier 判定两个技能等价所用的策略，数值越小可信度越高
type Tier int

const (
	// TierNone 不等价
	TierNone Tier = iota
	// TierExact 忽略大小写完全相同
	TierExact
	// TierCanonical 规范名相同
	TierCanonical
	// TierSynonym 同属一个同义词组
	TierSynonym
	// TierBoundary 一方以完整单词形式出现在另一方中
	TierBoundary
)

// String 返回策略名称
func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierCanonical:
		return "canonical"
	case TierSynonym:
		return "synonym"
	case TierBoundary:
		return "boundary"
	default:
		return "none"
	}
}

// maxCachedPatterns 单词边界正则缓存上限，超过后不再缓存新的正则
const maxCachedPatterns = 4096

// Matcher 技能等价判定器，可并发使用
type Matcher struct {
	vocab *Vocabulary

	patterns     sync.Map // needle -> *regexp.Regexp
	patternCount atomic.Int64
}

// NewMatcher 基于词表创建判定器，vocab 为 nil 时使用内置词表
func NewMatcher(vocab *Vocabulary) *Matcher {
	if vocab == nil {
		vocab = Default()
	}
	return &Matcher{vocab: vocab}
}

// Vocabulary 返回判定器使用的词表
func (m *Matcher) Vocabulary() *Vocabulary {
	return m.vocab
}

// Canonicalize 见 Vocabulary.Canonicalize
func (m *Matcher) Canonicalize(raw string) (string, bool) {
	return m.vocab.Canonicalize(raw)
}

// AreEquivalent 判断两个技能写法是否等价
func (m *Matcher) AreEquivalent(a, b string) bool {
	return m.Equivalence(a, b) != TierNone
}

// Equivalence 按 exact、canonical、synonym、boundary 的顺序判定，命中即返回
func (m *Matcher) Equivalence(a, b string) Tier {
	la := strings.ToLower(strings.TrimSpace(a))
	lb := strings.ToLower(strings.TrimSpace(b))
	if la == "" || lb == "" {
		return TierNone
	}

	if la == lb {
		return TierExact
	}

	ca, knownA := m.vocab.Canonicalize(la)
	cb, knownB := m.vocab.Canonicalize(lb)
	if ca == cb {
		return TierCanonical
	}

	if m.vocab.shareSynonymSet(la, lb) {
		return TierSynonym
	}

	// 两个都是词表内的技能且规范名不同，子串匹配不能推翻这个结论
	if knownA && knownB {
		return TierNone
	}

	if m.containsWord(la, lb) || m.containsWord(lb, la) {
		return TierBoundary
	}
	return TierNone
}

// containsWord 判断 needle 是否以完整单词出现在 haystack 中
func (m *Matcher) containsWord(haystack, needle string) bool {
	if len(needle) >= len(haystack) {
		return false
	}
	return m.boundaryPattern(needle).MatchString(haystack)
}

func (m *Matcher) boundaryPattern(needle string) *regexp.Regexp {
	if cached, ok := m.patterns.Load(needle); ok {
		return cached.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`(^|[^a-z0-9])` + regexp.QuoteMeta(needle) + `([^a-z0-9]|$)`)
	if m.patternCount.Load() < maxCachedPatterns {
		if _, loaded := m.patterns.LoadOrStore(needle, re); !loaded {
			m.patternCount.Add(1)
		}
	}
	return re
}
