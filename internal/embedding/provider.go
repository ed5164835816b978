package embedding

import (
	"context"
	"fmt"

	einoembedding "github.com/cloudwego/eino/components/embedding"
)

// Provider 外部向量供应方。只允许在 Worker 中调用
type Provider interface {
	// Embed 为每条文本返回一个向量，顺序与输入一致
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	// MaxBatch 单次调用最多接收的文本数，1 表示不支持批量
	MaxBatch() int
}

// EinoProvider 把 eino 的 Embedder 适配为 Provider
type EinoProvider struct {
	embedder einoembedding.Embedder
	maxBatch int
	opts     []einoembedding.Option
}

// NewEinoProvider 创建适配器。maxBatch <= 1 时按单条调用
func NewEinoProvider(embedder einoembedding.Embedder, maxBatch int, opts ...einoembedding.Option) *EinoProvider {
	if maxBatch < 1 {
		maxBatch = 1
	}
	return &EinoProvider{embedder: embedder, maxBatch: maxBatch, opts: opts}
}

// MaxBatch 见 Provider.MaxBatch
func (p *EinoProvider) MaxBatch() int {
	return p.maxBatch
}

// Embed 见 Provider.Embed
func (p *EinoProvider) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}
	if len(texts) > p.maxBatch {
		return nil, NewProviderError("embed", len(texts), fmt.Errorf("超过单次上限 %d", p.maxBatch))
	}

	vectors, err := p.embedder.EmbedStrings(ctx, texts, p.opts...)
	if err != nil {
		return nil, NewProviderError("embed", len(texts), err)
	}
	if len(vectors) != len(texts) {
		return nil, NewProviderError("embed", len(texts),
			fmt.Errorf("%w: 期望 %d 个向量，实际 %d 个", ErrMalformedEmbedding, len(texts), len(vectors)))
	}
	return vectors, nil
}
