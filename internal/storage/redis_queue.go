package storage

import (
	"ai-match-go/internal/constants"
	"ai-match-go/internal/embedding"
	"ai-match-go/internal/types"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ embedding.QueueStore = (*RedisQueueStore)(nil)

// tierWidth 每个优先级档位在 ZSET score 上占用的宽度，大于任何入队序号
const tierWidth = 1e13

// 所有脚本共用的 score 计算：高优先级档位在前，同档位按入队序号。
// 序号由 seq key 的 INCR 产生，同一毫秒内入队的条目也保持先后顺序
const scoreFn = `
local function score(p, seq)
  return string.format('%.0f', (2 - tonumber(p)) * 1e13 + tonumber(seq))
end
`

// KEYS: pending, inflight, item, seq; ARGV: member, priority, now_ms
var upsertScript = redis.NewScript(scoreFn + `
local p = tonumber(ARGV[2])
if redis.call('EXISTS', KEYS[3]) == 1 then
  local cur = tonumber(redis.call('HGET', KEYS[3], 'priority'))
  if cur > p then p = cur end
  redis.call('HSET', KEYS[3], 'priority', p, 'enqueued_at', ARGV[3])
  if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then
    redis.call('HSET', KEYS[3], 'dirty', '1')
    return {0, 0}
  end
  local seq = redis.call('INCR', KEYS[4])
  redis.call('HSET', KEYS[3], 'seq', seq)
  redis.call('ZADD', KEYS[1], score(p, seq), ARGV[1])
  return {0, redis.call('ZRANK', KEYS[1], ARGV[1]) + 1}
end
local seq = redis.call('INCR', KEYS[4])
redis.call('HSET', KEYS[3], 'priority', p, 'enqueued_at', ARGV[3], 'attempts', 0, 'last_error', '', 'dirty', '0', 'seq', seq)
redis.call('ZADD', KEYS[1], score(p, seq), ARGV[1])
return {1, redis.call('ZRANK', KEYS[1], ARGV[1]) + 1}
`)

// KEYS: pending, inflight; ARGV: n, item_prefix
// 条目 key 由前缀拼出，与 KEYS 共用同一个 hash tag，集群下落在同一个 slot
var claimScript = redis.NewScript(`
local members = redis.call('ZRANGE', KEYS[1], 0, tonumber(ARGV[1]) - 1)
local out = {}
for _, m in ipairs(members) do
  local key = ARGV[2] .. m
  redis.call('ZREM', KEYS[1], m)
  redis.call('SADD', KEYS[2], m)
  redis.call('HSET', key, 'dirty', '0')
  local f = redis.call('HMGET', key, 'priority', 'enqueued_at', 'attempts', 'last_error')
  table.insert(out, m)
  table.insert(out, f[1] or '1')
  table.insert(out, f[2] or '0')
  table.insert(out, f[3] or '0')
  table.insert(out, f[4] or '')
end
return out
`)

// KEYS: pending, inflight, item, seq; ARGV: member
var completeScript = redis.NewScript(scoreFn + `
redis.call('SREM', KEYS[2], ARGV[1])
if redis.call('HGET', KEYS[3], 'dirty') == '1' then
  local p = redis.call('HGET', KEYS[3], 'priority')
  local seq = redis.call('INCR', KEYS[4])
  redis.call('HSET', KEYS[3], 'dirty', '0', 'attempts', 0, 'last_error', '', 'seq', seq)
  redis.call('ZADD', KEYS[1], score(p, seq), ARGV[1])
  return 1
end
redis.call('DEL', KEYS[3])
return 0
`)

// KEYS: pending, inflight, item, failed, failed_count, seq
// ARGV: member, reason, max_attempts, now_ms, keep
var failScript = redis.NewScript(scoreFn + `
if redis.call('EXISTS', KEYS[3]) == 0 then
  redis.call('SREM', KEYS[2], ARGV[1])
  return {-1, 0, '1'}
end
redis.call('SREM', KEYS[2], ARGV[1])
local attempts = redis.call('HINCRBY', KEYS[3], 'attempts', 1)
local p = redis.call('HGET', KEYS[3], 'priority')
if attempts >= tonumber(ARGV[3]) then
  redis.call('DEL', KEYS[3])
  redis.call('LPUSH', KEYS[4], ARGV[1] .. '|' .. attempts .. '|' .. ARGV[4] .. '|' .. ARGV[2])
  redis.call('LTRIM', KEYS[4], 0, tonumber(ARGV[5]) - 1)
  redis.call('INCR', KEYS[5])
  return {attempts, 1, p}
end
local seq = redis.call('INCR', KEYS[6])
redis.call('HSET', KEYS[3], 'last_error', ARGV[2], 'enqueued_at', ARGV[4], 'dirty', '0', 'seq', seq)
redis.call('ZADD', KEYS[1], score(p, seq), ARGV[1])
return {attempts, 0, p}
`)

// KEYS: pending, inflight, seq; ARGV: item_prefix
// 恢复的条目沿用原序号，回到离开时的位置
var recoverScript = redis.NewScript(scoreFn + `
local members = redis.call('SMEMBERS', KEYS[2])
for _, m in ipairs(members) do
  local key = ARGV[1] .. m
  local f = redis.call('HMGET', key, 'priority', 'seq')
  if f[1] then
    local seq = f[2] or redis.call('INCR', KEYS[3])
    redis.call('HSET', key, 'dirty', '0', 'seq', seq)
    redis.call('ZADD', KEYS[1], score(f[1], seq), m)
  end
  redis.call('SREM', KEYS[2], m)
end
return #members
`)

// queueKeys 队列使用的全部 key，共用同一个 hash tag
type queueKeys struct {
	pending     string
	inflight    string
	itemPrefix  string
	failed      string
	failedCount string
	seq         string
}

func defaultQueueKeys() queueKeys {
	return queueKeys{
		pending:     constants.KeyEmbeddingQueuePending,
		inflight:    constants.KeyEmbeddingQueueInFlight,
		itemPrefix:  constants.KeyEmbeddingQueueItemPrefix,
		failed:      constants.KeyEmbeddingQueueFailed,
		failedCount: constants.KeyEmbeddingQueueFailedCount,
		seq:         constants.KeyEmbeddingQueueSeq,
	}
}

// namespacedQueueKeys 以 ns 为前缀生成 key。ns 不含 hash tag 时整体作为 tag
func namespacedQueueKeys(ns string) queueKeys {
	ns = strings.TrimSuffix(ns, ":")
	if !strings.Contains(ns, "{") {
		ns = "{" + ns + "}"
	}
	return queueKeys{
		pending:     ns + ":pending",
		inflight:    ns + ":inflight",
		itemPrefix:  ns + ":item:",
		failed:      ns + ":failed",
		failedCount: ns + ":failed_count",
		seq:         ns + ":seq",
	}
}

// RedisQueueStore 基于 Redis 的持久化队列存储，进程重启后条目不丢失。
// 待处理条目存放在 ZSET 中，条目详情存放在 HASH 中，状态变更全部由 Lua 脚本原子完成。
// 全部 key 共用一个 hash tag，可以直接使用集群客户端
type RedisQueueStore struct {
	client redis.UniversalClient
	keys   queueKeys
	keep   int
}

// RedisQueueOption 配置 RedisQueueStore
type RedisQueueOption func(*RedisQueueStore)

// WithQueueNamespace 使用独立的 key 前缀，例如 "test:embedding:queue"
func WithQueueNamespace(ns string) RedisQueueOption {
	return func(s *RedisQueueStore) {
		s.keys = namespacedQueueKeys(ns)
	}
}

// WithFailureKeep 设置保留的永久失败记录数
func WithFailureKeep(n int) RedisQueueOption {
	return func(s *RedisQueueStore) {
		if n > 0 {
			s.keep = n
		}
	}
}

// NewRedisQueueStore 创建 Redis 队列存储
func NewRedisQueueStore(client redis.UniversalClient, opts ...RedisQueueOption) *RedisQueueStore {
	s := &RedisQueueStore{
		client: client,
		keys:   defaultQueueKeys(),
		keep:   50,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisQueueStore) itemKey(member string) string {
	return s.keys.itemPrefix + member
}

// Upsert 见 embedding.QueueStore
func (s *RedisQueueStore) Upsert(ctx context.Context, ref types.EntityRef, priority types.Priority, now time.Time) (types.EnqueueResult, error) {
	member := ref.String()
	res, err := upsertScript.Run(ctx, s.client,
		[]string{s.keys.pending, s.keys.inflight, s.itemKey(member), s.keys.seq},
		member, int(priority), now.UnixMilli(),
	).Int64Slice()
	if err != nil {
		return types.EnqueueResult{}, fmt.Errorf("入队失败: %w", err)
	}
	if len(res) != 2 {
		return types.EnqueueResult{}, fmt.Errorf("入队脚本返回值异常: %v", res)
	}
	return types.EnqueueResult{Queued: res[0] == 1, Position: int(res[1])}, nil
}

// Claim 见 embedding.QueueStore
func (s *RedisQueueStore) Claim(ctx context.Context, n int, _ time.Time) ([]types.QueueItem, error) {
	if n <= 0 {
		return nil, nil
	}
	fields, err := claimScript.Run(ctx, s.client,
		[]string{s.keys.pending, s.keys.inflight},
		n, s.keys.itemPrefix,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("领取队列条目失败: %w", err)
	}

	items := make([]types.QueueItem, 0, len(fields)/5)
	for i := 0; i+4 < len(fields); i += 5 {
		ref, err := types.ParseEntityRef(fields[i])
		if err != nil {
			continue
		}
		priority, _ := strconv.Atoi(fields[i+1])
		enqueuedMs, _ := strconv.ParseInt(fields[i+2], 10, 64)
		attempts, _ := strconv.Atoi(fields[i+3])
		items = append(items, types.QueueItem{
			EntityType: ref.Type,
			EntityID:   ref.ID,
			Priority:   types.Priority(priority),
			EnqueuedAt: time.UnixMilli(enqueuedMs).UTC(),
			Attempts:   attempts,
			State:      types.QueueStateInFlight,
			LastError:  fields[i+4],
		})
	}
	return items, nil
}

// Complete 见 embedding.QueueStore
func (s *RedisQueueStore) Complete(ctx context.Context, ref types.EntityRef, _ time.Time) (bool, error) {
	member := ref.String()
	requeued, err := completeScript.Run(ctx, s.client,
		[]string{s.keys.pending, s.keys.inflight, s.itemKey(member), s.keys.seq},
		member,
	).Int()
	if err != nil {
		return false, fmt.Errorf("完成队列条目失败: %w", err)
	}
	return requeued == 1, nil
}

// Fail 见 embedding.QueueStore
func (s *RedisQueueStore) Fail(ctx context.Context, ref types.EntityRef, reason string, maxAttempts int, now time.Time) (types.QueueItem, bool, error) {
	member := ref.String()
	res, err := failScript.Run(ctx, s.client,
		[]string{s.keys.pending, s.keys.inflight, s.itemKey(member), s.keys.failed, s.keys.failedCount, s.keys.seq},
		member, reason, maxAttempts, now.UnixMilli(), s.keep,
	).Slice()
	if err != nil {
		return types.QueueItem{}, false, fmt.Errorf("记录队列失败失败: %w", err)
	}
	if len(res) != 3 {
		return types.QueueItem{}, false, fmt.Errorf("失败脚本返回值异常: %v", res)
	}
	attempts, _ := res[0].(int64)
	if attempts < 0 {
		return types.QueueItem{}, false, nil
	}
	permanent, _ := res[1].(int64)
	priorityStr, _ := res[2].(string)
	priority, _ := strconv.Atoi(priorityStr)

	item := types.QueueItem{
		EntityType: ref.Type,
		EntityID:   ref.ID,
		Priority:   types.Priority(priority),
		EnqueuedAt: now.UTC(),
		Attempts:   int(attempts),
		State:      types.QueueStatePending,
		LastError:  reason,
	}
	return item, permanent == 1, nil
}

// Stats 见 embedding.QueueStore
func (s *RedisQueueStore) Stats(ctx context.Context, historySize int) (types.QueueStats, error) {
	pipe := s.client.Pipeline()

	tiers := []types.Priority{types.PriorityHigh, types.PriorityNormal, types.PriorityLow}
	tierCmds := make([]*redis.IntCmd, len(tiers))
	for i, p := range tiers {
		lo := float64(2-int(p)) * tierWidth
		tierCmds[i] = pipe.ZCount(ctx, s.keys.pending,
			strconv.FormatFloat(lo, 'f', 0, 64),
			"("+strconv.FormatFloat(lo+tierWidth, 'f', 0, 64))
	}
	pendingCmd := pipe.ZCard(ctx, s.keys.pending)
	inflightCmd := pipe.SCard(ctx, s.keys.inflight)
	failedCountCmd := pipe.Get(ctx, s.keys.failedCount)
	var recentCmd *redis.StringSliceCmd
	if historySize > 0 {
		recentCmd = pipe.LRange(ctx, s.keys.failed, 0, int64(historySize-1))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return types.QueueStats{}, fmt.Errorf("读取队列统计失败: %w", err)
	}

	stats := types.QueueStats{
		Pending:           int(pendingCmd.Val()),
		InFlight:          int(inflightCmd.Val()),
		PendingByPriority: map[string]int{},
		RecentFailures:    []types.FailedItem{},
	}
	for i, p := range tiers {
		stats.PendingByPriority[p.String()] = int(tierCmds[i].Val())
	}
	if n, err := failedCountCmd.Int(); err == nil {
		stats.FailedPermanently = n
	}
	if recentCmd != nil {
		for _, raw := range recentCmd.Val() {
			if item, ok := parseFailureRecord(raw); ok {
				stats.RecentFailures = append(stats.RecentFailures, item)
			}
		}
	}
	return stats, nil
}

// parseFailureRecord 解析 "member|attempts|failed_at_ms|reason" 格式的失败记录
func parseFailureRecord(raw string) (types.FailedItem, bool) {
	parts := strings.SplitN(raw, "|", 4)
	if len(parts) != 4 {
		return types.FailedItem{}, false
	}
	ref, err := types.ParseEntityRef(parts[0])
	if err != nil {
		return types.FailedItem{}, false
	}
	attempts, err := strconv.Atoi(parts[1])
	if err != nil {
		return types.FailedItem{}, false
	}
	failedMs, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return types.FailedItem{}, false
	}
	return types.FailedItem{
		EntityType: ref.Type,
		EntityID:   ref.ID,
		Attempts:   attempts,
		LastError:  parts[3],
		FailedAt:   time.UnixMilli(failedMs).UTC(),
	}, true
}

// Recover 见 embedding.QueueStore
func (s *RedisQueueStore) Recover(ctx context.Context, _ time.Time) (int, error) {
	n, err := recoverScript.Run(ctx, s.client,
		[]string{s.keys.pending, s.keys.inflight, s.keys.seq},
		s.keys.itemPrefix,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("恢复处理中条目失败: %w", err)
	}
	return n, nil
}

// Clear 删除队列的全部数据，供测试和运维使用
func (s *RedisQueueStore) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.keys.itemPrefix+"*", 200).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return s.client.Del(ctx, s.keys.pending, s.keys.inflight, s.keys.failed, s.keys.failedCount, s.keys.seq).Err()
}
