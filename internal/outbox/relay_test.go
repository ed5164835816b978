package outbox

import (
	"ai-match-go/internal/config"
	"ai-match-go/internal/storage/models"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestApplyPublishResult 发布失败累加重试次数，达到上限标记为 FAILED
func TestApplyPublishResult(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	msg := &models.OutboxMessage{Status: models.OutboxStatusPending}

	applyPublishResult(msg, errors.New("channel closed"), 2, now)
	assert.Equal(t, 1, msg.RetryCount)
	assert.Equal(t, models.OutboxStatusPending, msg.Status)
	assert.Equal(t, "channel closed", msg.ErrorMessage)

	applyPublishResult(msg, errors.New("channel closed"), 2, now)
	assert.Equal(t, models.OutboxStatusFailed, msg.Status)

	ok := &models.OutboxMessage{Status: models.OutboxStatusPending, ErrorMessage: "old"}
	applyPublishResult(ok, nil, 2, now)
	assert.Equal(t, models.OutboxStatusSent, ok.Status)
	require.NotNil(t, ok.ProcessedAt)
	assert.Equal(t, now, *ok.ProcessedAt)
	assert.Empty(t, ok.ErrorMessage)
}

// TestConfigFrom 测试配置默认值
func TestConfigFrom(t *testing.T) {
	c := ConfigFrom(config.OutboxConfig{PollingInterval: "2s", BatchSize: 3, MaxRetryCount: 7})
	assert.Equal(t, 2*time.Second, c.PollingInterval)
	assert.Equal(t, 3, c.BatchSize)
	assert.Equal(t, 7, c.MaxRetryCount)

	c = ConfigFrom(config.OutboxConfig{PollingInterval: "bogus"})
	assert.Equal(t, defaultPollingInterval, c.PollingInterval)
	assert.Equal(t, defaultBatchSize, c.BatchSize)
	assert.Equal(t, defaultMaxRetryCount, c.MaxRetryCount)
}
