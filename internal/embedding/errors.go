package embedding

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidQueueItem 入队参数不合法
	ErrInvalidQueueItem = errors.New("无效的队列条目")
	// ErrEntityNotFound 简历或岗位已不存在
	ErrEntityNotFound = errors.New("实体不存在")
	// ErrEmptyText 实体没有可用于生成向量的文本
	ErrEmptyText = errors.New("实体文本为空")
	// ErrProviderCallFailed 供应方调用失败，可重试
	ErrProviderCallFailed = errors.New("向量供应方调用失败")
	// ErrMalformedEmbedding 供应方返回的向量为空或维度不符
	ErrMalformedEmbedding = errors.New("向量格式错误")
)

// ProviderError 带上下文的供应方调用错误
type ProviderError struct {
	Op        string // 操作名称，例如 "embed_batch"
	BatchSize int
	BaseErr   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s (batch=%d): %v", e.Op, e.BatchSize, e.BaseErr)
}

// Unwrap 返回底层错误
func (e *ProviderError) Unwrap() error {
	return e.BaseErr
}

// Is 供应方错误都视为 ErrProviderCallFailed
func (e *ProviderError) Is(target error) bool {
	return target == ErrProviderCallFailed
}

// NewProviderError 包装供应方错误
func NewProviderError(op string, batchSize int, err error) error {
	return &ProviderError{Op: op, BatchSize: batchSize, BaseErr: err}
}
