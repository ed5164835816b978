package skills

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrEmptyVocabularyFile 词表文件里没有任何条目
var ErrEmptyVocabularyFile = errors.New("词表文件为空")

// vocabularyFile 词表文件格式
type vocabularyFile struct {
	Skills      []CanonicalSkill `yaml:"skills"`
	SynonymSets []SynonymSet     `yaml:"synonym_sets"`
}

// LoadFile 读取 YAML 词表并叠加到内置词表之上。path 为空时直接返回内置词表
func LoadFile(path string) (*Vocabulary, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取词表文件失败: %w", err)
	}

	var file vocabularyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("解析词表文件失败: %w", err)
	}
	if len(file.Skills) == 0 && len(file.SynonymSets) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyVocabularyFile)
	}

	return Default().Merge(file.Skills, file.SynonymSets), nil
}
