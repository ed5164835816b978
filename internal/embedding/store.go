package embedding

import (
	"ai-match-go/internal/types"
	"context"
	"time"
)

// QueueStore 向量生成队列的存储后端。
// 所有方法都必须是原子的：同一实体同时最多存在一个条目，并发入队不能产生重复条目
type QueueStore interface {
	// Upsert 插入条目；条目已存在时优先级取较高者、入队时间重置为 now，Queued 返回 false。
	// 条目正在处理中时只做标记，处理结束后会重新回到待处理
	Upsert(ctx context.Context, ref types.EntityRef, priority types.Priority, now time.Time) (types.EnqueueResult, error)

	// Claim 按优先级降序、入队时间升序领取最多 n 个待处理条目并标记为处理中
	Claim(ctx context.Context, n int, now time.Time) ([]types.QueueItem, error)

	// Complete 处理成功后移除条目。处理期间被重新入队的条目回到待处理，requeued 为 true
	Complete(ctx context.Context, ref types.EntityRef, now time.Time) (requeued bool, err error)

	// Fail 记录一次失败：attempts 加一，未达上限时放回所在优先级的队尾；
	// 达到 maxAttempts 时移除条目并写入永久失败记录，permanent 为 true
	Fail(ctx context.Context, ref types.EntityRef, reason string, maxAttempts int, now time.Time) (item types.QueueItem, permanent bool, err error)

	// Stats 返回队列统计，RecentFailures 最多包含 historySize 条，最新的在前
	Stats(ctx context.Context, historySize int) (types.QueueStats, error)

	// Recover 将上次进程遗留的处理中条目放回待处理，返回条目数
	Recover(ctx context.Context, now time.Time) (int, error)
}

// newPriorityCounts 初始化按优先级的计数，保证每个级别都有键
func newPriorityCounts() map[string]int {
	return map[string]int{
		types.PriorityHigh.String():   0,
		types.PriorityNormal.String(): 0,
		types.PriorityLow.String():    0,
	}
}
