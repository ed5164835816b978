package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644), "无法写入临时配置文件")
	return configPath
}

// TestLoadConfigOverridesDefaults 验证 YAML 中出现的字段覆盖默认值，未出现的字段保留默认值
func TestLoadConfigOverridesDefaults(t *testing.T) {
	configPath := writeTempConfig(t, `
matching:
  lexical_weight: 0.7
  semantic_weight: 0.3
  min_similarity: 0.8
embedding_queue:
  backend: redis
  batch_size: 4
  max_attempts: 3
  interval: "2s"
`)

	cfg, err := LoadConfigFromFileOnly(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.InDelta(t, 0.7, cfg.Matching.LexicalWeight, 1e-9)
	assert.InDelta(t, 0.3, cfg.Matching.SemanticWeight, 1e-9)
	assert.InDelta(t, 0.8, cfg.Matching.MinSimilarity, 1e-9)
	assert.Equal(t, "redis", cfg.EmbeddingQueue.Backend)
	assert.Equal(t, 4, cfg.EmbeddingQueue.BatchSize)
	assert.Equal(t, 3, cfg.EmbeddingQueue.MaxAttempts)

	// 未在文件中出现的字段使用默认值
	assert.Equal(t, float64(60), cfg.Matching.BaselineScore)
	assert.Equal(t, float64(5), cfg.Matching.ExperienceBonus)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "text-embedding-v3", cfg.Aliyun.Embedding.Model)
	assert.Equal(t, 2*time.Second, GetDuration(cfg.EmbeddingQueue.Interval, time.Minute))
}

// TestLoadConfigRejectsBadWeights 验证权重之和不为 1 时加载失败
func TestLoadConfigRejectsBadWeights(t *testing.T) {
	configPath := writeTempConfig(t, `
matching:
  lexical_weight: 0.7
  semantic_weight: 0.7
`)

	cfg, err := LoadConfigFromFileOnly(configPath)
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadConfigRejectsUnknownBackend(t *testing.T) {
	configPath := writeTempConfig(t, `
embedding_queue:
  backend: kafka
`)

	_, err := LoadConfigFromFileOnly(configPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	configPath := writeTempConfig(t, "matching: [unclosed")

	_, err := LoadConfigFromFileOnly(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "解析配置文件失败")
}

// TestLoadConfigEnvOverride 验证环境变量覆盖 API Key 和模型版本
func TestLoadConfigEnvOverride(t *testing.T) {
	configPath := writeTempConfig(t, `
aliyun:
  api_key: "from-file"
  embedding:
    model: "text-embedding-v3"
`)
	t.Setenv("ALIYUN_API_KEY", "from-env")
	t.Setenv("EMBEDDING_MODEL_VERSION", "text-embedding-v3@2025-01")

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Aliyun.APIKey)
	assert.Equal(t, "text-embedding-v3@2025-01", cfg.Aliyun.Embedding.EffectiveModelVersion())

	// 仅读文件的加载方式不受环境变量影响
	fileOnly, err := LoadConfigFromFileOnly(configPath)
	require.NoError(t, err)
	assert.Equal(t, "from-file", fileOnly.Aliyun.APIKey)
	assert.Equal(t, "text-embedding-v3", fileOnly.Aliyun.Embedding.EffectiveModelVersion())
}

func TestLoadConfigFromFileOnlyRequiresPath(t *testing.T) {
	_, err := LoadConfigFromFileOnly("")
	require.Error(t, err)

	_, err = LoadConfigFromFileOnly(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "配置文件不存在")
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.InDelta(t, 1.0, cfg.Matching.LexicalWeight+cfg.Matching.SemanticWeight, 1e-9)
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 3*time.Second, GetDuration("3s", time.Minute))
	assert.Equal(t, time.Minute, GetDuration("", time.Minute))
	assert.Equal(t, time.Minute, GetDuration("not-a-duration", time.Minute))
}

func TestCreateSampleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.yaml")
	require.NoError(t, CreateSampleConfig(path))

	cfg, err := LoadConfigFromFileOnly(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Matching, cfg.Matching)

	// 已存在的文件不会被覆盖
	require.Error(t, CreateSampleConfig(path))
}
