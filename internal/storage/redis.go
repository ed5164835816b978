package storage

import (
	"ai-match-go/internal/config"
	"ai-match-go/internal/constants"
	"ai-match-go/internal/tracing"
	"ai-match-go/internal/types"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var redisTracer = otel.Tracer("ai-match-go/storage/redis")

// Redis wraps the Redis client
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedis 创建 Redis 连接并注册 OpenTelemetry 钩子
func NewRedis(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	opt := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,

		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: time.Duration(cfg.MinRetryBackoffMS) * time.Millisecond,
		MaxRetryBackoff: time.Duration(cfg.MaxRetryBackoffMS) * time.Millisecond,

		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute,
		ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute,
	}

	client := redis.NewClient(opt)

	// 记录所有Redis命令
	if err := redisotel.InstrumentTracing(client); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return &Redis{Client: client, config: cfg}, nil
}

// Close closes the Redis client connection
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping checks the Redis connection
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

// VectorCacheTTL 返回向量缓存的过期时间
func (r *Redis) VectorCacheTTL() time.Duration {
	if r.config == nil || r.config.VectorCacheTTLHours <= 0 {
		return constants.VectorCacheDuration
	}
	return time.Duration(r.config.VectorCacheTTLHours) * time.Hour
}

func vectorKey(ref types.EntityRef) string {
	return fmt.Sprintf(constants.KeyEntityVector, ref.Type, ref.ID)
}

// SetEntityVector 将向量和模型版本写入同一个 HASH 并设置过期时间
func (r *Redis) SetEntityVector(ctx context.Context, ref types.EntityRef, vec types.EmbeddingVector) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}

	vectorJSON, err := json.Marshal(vec.Values)
	if err != nil {
		return fmt.Errorf("序列化向量失败: %w", err)
	}

	key := vectorKey(ref)
	ctx, span := redisTracer.Start(ctx, "Redis.SetEntityVector",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.redis.key", tracing.SafeRedisKey(key))))
	defer span.End()

	pipe := r.Client.TxPipeline()
	pipe.HSet(ctx, key,
		"vector", vectorJSON,
		"model_version", vec.ModelVersion,
		"generated_at", vec.GeneratedAt.UTC().Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, key, r.VectorCacheTTL())
	if _, err := pipe.Exec(ctx); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return fmt.Errorf("设置向量缓存失败: %w", err)
	}
	return nil
}

// GetEntityVectors 用 pipeline 批量读取向量缓存，未命中的实体不出现在结果中
func (r *Redis) GetEntityVectors(ctx context.Context, refs []types.EntityRef) (map[types.EntityRef]*types.EmbeddingVector, error) {
	result := make(map[types.EntityRef]*types.EmbeddingVector, len(refs))
	if len(refs) == 0 {
		return result, nil
	}
	if r.Client == nil {
		return nil, fmt.Errorf("redis client is not initialized")
	}

	ctx, span := redisTracer.Start(ctx, "Redis.GetEntityVectors",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("batch.size", len(refs))))
	defer span.End()

	pipe := r.Client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(refs))
	for i, ref := range refs {
		cmds[i] = pipe.HMGet(ctx, vectorKey(ref), "vector", "model_version", "generated_at")
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return nil, fmt.Errorf("批量读取向量缓存失败: %w", err)
	}

	for i, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) < 3 {
			continue
		}
		vec, ok := decodeCachedVector(vals)
		if !ok {
			continue
		}
		result[refs[i]] = vec
	}
	span.SetAttributes(attribute.Int("cache.hits", len(result)))
	return result, nil
}

// decodeCachedVector 解析 HMGET 结果，字段缺失或格式错误时视为未命中
func decodeCachedVector(vals []interface{}) (*types.EmbeddingVector, bool) {
	vectorJSON, ok := vals[0].(string)
	if !ok || vectorJSON == "" {
		return nil, false
	}
	modelVersion, ok := vals[1].(string)
	if !ok {
		return nil, false
	}
	var values []float64
	if err := json.Unmarshal([]byte(vectorJSON), &values); err != nil {
		return nil, false
	}
	vec := &types.EmbeddingVector{Values: values, ModelVersion: modelVersion}
	if generatedAt, ok := vals[2].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, generatedAt); err == nil {
			vec.GeneratedAt = t
		}
	}
	return vec, true
}

// DeleteEntityVector 删除实体的向量缓存
func (r *Redis) DeleteEntityVector(ctx context.Context, ref types.EntityRef) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Del(ctx, vectorKey(ref)).Err()
}
