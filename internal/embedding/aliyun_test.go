package embedding_test

import (
	"ai-match-go/internal/config"
	"ai-match-go/internal/embedding"
	"ai-match-go/internal/types"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	einoembedding "github.com/cloudwego/eino/components/embedding"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAliyunServer(t *testing.T, handler func(req map[string]interface{}) (int, string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		status, body := handler(req)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func newTestEmbedder(t *testing.T, url string) *embedding.AliyunEmbedder {
	t.Helper()
	e, err := embedding.NewAliyunEmbedder("test-key", config.EmbeddingConfig{
		Model:      "text-embedding-v3",
		Dimensions: 2,
		BaseURL:    url,
	}, zerolog.Nop())
	require.NoError(t, err)
	return e
}

// TestAliyunEmbedder_Batch 批量请求按 index 还原顺序
func TestAliyunEmbedder_Batch(t *testing.T) {
	server := newAliyunServer(t, func(req map[string]interface{}) (int, string) {
		assert.Equal(t, "text-embedding-v3", req["model"])
		assert.EqualValues(t, 2, req["dimensions"])
		assert.Len(t, req["input"], 2)
		return http.StatusOK, `{"object":"list","data":[
			{"object":"embedding","embedding":[0.3,0.4],"index":1},
			{"object":"embedding","embedding":[0.1,0.2],"index":0}
		],"model":"text-embedding-v3","usage":{"prompt_tokens":8,"total_tokens":8}}`
	})
	defer server.Close()

	e := newTestEmbedder(t, server.URL)
	vectors, err := e.EmbedStrings(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0.1, 0.2}, {0.3, 0.4}}, vectors)
	assert.Equal(t, 2, e.GetDimensions())
}

// TestAliyunEmbedder_SingleAndModelOption 单条文本以字符串提交，可通过选项覆盖模型
func TestAliyunEmbedder_SingleAndModelOption(t *testing.T) {
	server := newAliyunServer(t, func(req map[string]interface{}) (int, string) {
		assert.Equal(t, "only", req["input"])
		assert.Equal(t, "text-embedding-v4", req["model"])
		return http.StatusOK, `{"data":[{"embedding":[1,0],"index":0}]}`
	})
	defer server.Close()

	e := newTestEmbedder(t, server.URL)
	vectors, err := e.EmbedStrings(context.Background(), []string{"only"}, einoembedding.WithModel("text-embedding-v4"))
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 0}}, vectors)
}

// TestAliyunEmbedder_Errors 测试错误响应
func TestAliyunEmbedder_Errors(t *testing.T) {
	server := newAliyunServer(t, func(req map[string]interface{}) (int, string) {
		if req["input"] == "rate" {
			return http.StatusTooManyRequests, `{"error":{"message":"Throttling","type":"rate_limit","code":"429"}}`
		}
		if req["input"] == "inline" {
			return http.StatusOK, `{"error":{"message":"input too long","type":"invalid_request"}}`
		}
		return http.StatusOK, `{"data":[]}`
	})
	defer server.Close()

	e := newTestEmbedder(t, server.URL)

	_, err := e.EmbedStrings(context.Background(), []string{"rate"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Throttling")

	_, err = e.EmbedStrings(context.Background(), []string{"inline"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input too long")

	_, err = e.EmbedStrings(context.Background(), []string{"short"})
	assert.ErrorIs(t, err, embedding.ErrMalformedEmbedding)

	vectors, err := e.EmbedStrings(context.Background(), nil)
	require.NoError(t, err, "空输入应返回空切片")
	assert.NotNil(t, vectors)
	assert.Empty(t, vectors)
}

// TestNewAliyunEmbedder_NoAPIKey 没有 API Key 时初始化失败
func TestNewAliyunEmbedder_NoAPIKey(t *testing.T) {
	_, err := embedding.NewAliyunEmbedder("", config.EmbeddingConfig{}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API密钥不能为空")
}

// TestEinoProvider 适配器校验返回数量并包装错误
func TestEinoProvider(t *testing.T) {
	server := newAliyunServer(t, func(req map[string]interface{}) (int, string) {
		if req["input"] == "down" {
			return http.StatusInternalServerError, `oops`
		}
		return http.StatusOK, `{"data":[{"embedding":[1,1],"index":0}]}`
	})
	defer server.Close()

	p := embedding.NewEinoProvider(newTestEmbedder(t, server.URL), 0)
	assert.Equal(t, 1, p.MaxBatch(), "上限小于 1 时按单条处理")

	vectors, err := p.Embed(context.Background(), []string{"ok"})
	require.NoError(t, err)
	assert.Len(t, vectors, 1)

	_, err = p.Embed(context.Background(), []string{"down"})
	require.Error(t, err)
	assert.ErrorIs(t, err, embedding.ErrProviderCallFailed)
	var perr *embedding.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 1, perr.BatchSize)

	_, err = p.Embed(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, embedding.ErrProviderCallFailed, "超过单次上限应直接报错")
}

// TestEmbeddingText 测试向量文本拼装
func TestEmbeddingText(t *testing.T) {
	resume := &types.Resume{ID: "r1", Skills: []string{"Go", " ", "Redis"}, Summary: "  Backend engineer  "}
	assert.Equal(t, "Skills: Go, Redis\nSummary: Backend engineer", embedding.ResumeText(resume))

	job := &types.Job{
		ID:             "j1",
		Title:          "SRE",
		RequiredSkills: []string{"Kubernetes"},
		Description:    "On-call rotation",
	}
	assert.Equal(t, "Title: SRE\nRequired skills: Kubernetes\nDescription: On-call rotation", embedding.JobText(job))

	assert.Empty(t, embedding.ResumeText(&types.Resume{ID: "empty"}))
	assert.Empty(t, embedding.JobText(nil))

	long := &types.Resume{Summary: strings.Repeat("技", 7000)}
	assert.Equal(t, 6000, len([]rune(embedding.ResumeText(long))))
}
