package embedding_test

import (
	"ai-match-go/internal/embedding"
	"ai-match-go/internal/types"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestQueue(clock *fakeClock) *embedding.Queue {
	return embedding.NewQueue(embedding.NewMemoryStore(10), embedding.WithClock(clock.Now))
}

func resumeRef(id string) types.EntityRef {
	return types.EntityRef{Type: types.EntityResume, ID: id}
}

// TestEnqueue_Idempotent 重复入队只保留一个条目，优先级取较高者
func TestEnqueue_Idempotent(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := newTestQueue(clock)

	res, err := q.Enqueue(ctx, types.EntityResume, "r1", types.PriorityLow)
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.Equal(t, 1, res.Position)

	clock.Advance(time.Second)
	res, err = q.Enqueue(ctx, types.EntityResume, "r1", types.PriorityHigh)
	require.NoError(t, err)
	assert.False(t, res.Queued, "重复入队不应产生新条目")
	assert.Equal(t, 1, res.Position)

	clock.Advance(time.Second)
	_, err = q.Enqueue(ctx, types.EntityResume, "r1", types.PriorityNormal)
	require.NoError(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.PendingByPriority["high"], "优先级应保留较高的 high")
	assert.Equal(t, 0, stats.PendingByPriority["low"])

	items, err := q.Store().Claim(ctx, 10, clock.Now())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, types.PriorityHigh, items[0].Priority)
	assert.Equal(t, clock.Now(), items[0].EnqueuedAt, "重复入队应重置入队时间")
}

// TestEnqueue_ConcurrentSameEntity 并发入队同一实体只产生一个条目
func TestEnqueue_ConcurrentSameEntity(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(newFakeClock())

	var wg sync.WaitGroup
	var mu sync.Mutex
	queued := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := q.Enqueue(ctx, types.EntityJob, "j1", types.Priority(i%3))
			assert.NoError(t, err)
			if res.Queued {
				mu.Lock()
				queued++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, queued, "只有一次入队应返回 queued=true")
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.PendingByPriority["high"])
}

// TestEnqueue_Validation 测试入队参数校验
func TestEnqueue_Validation(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(newFakeClock())

	_, err := q.Enqueue(ctx, types.EntityType("company"), "c1", types.PriorityNormal)
	assert.ErrorIs(t, err, embedding.ErrInvalidQueueItem)
	_, err = q.Enqueue(ctx, types.EntityResume, "  ", types.PriorityNormal)
	assert.ErrorIs(t, err, embedding.ErrInvalidQueueItem)
	_, err = q.Enqueue(ctx, types.EntityResume, "r1", types.Priority(7))
	assert.ErrorIs(t, err, embedding.ErrInvalidQueueItem)
}

// TestClaim_Ordering 先按优先级，再按入队时间先后领取
func TestClaim_Ordering(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := newTestQueue(clock)

	enqueue := func(id string, p types.Priority) types.EnqueueResult {
		clock.Advance(time.Millisecond)
		res, err := q.Enqueue(ctx, types.EntityJob, id, p)
		require.NoError(t, err)
		return res
	}
	enqueue("low-1", types.PriorityLow)
	enqueue("normal-1", types.PriorityNormal)
	enqueue("high-1", types.PriorityHigh)
	enqueue("normal-2", types.PriorityNormal)
	res := enqueue("high-2", types.PriorityHigh)
	assert.Equal(t, 2, res.Position, "high-2 排在 high-1 之后")

	items, err := q.Store().Claim(ctx, 4, clock.Now())
	require.NoError(t, err)
	var ids []string
	for _, it := range items {
		ids = append(ids, it.EntityID)
		assert.Equal(t, types.QueueStateInFlight, it.State)
	}
	assert.Equal(t, []string{"high-1", "high-2", "normal-1", "normal-2"}, ids)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 4, stats.InFlight)
}

// TestFail_RequeueAtBackOfTier 失败的条目回到所在优先级的队尾
func TestFail_RequeueAtBackOfTier(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := newTestQueue(clock)
	store := q.Store()

	for _, id := range []string{"a", "b", "c"} {
		clock.Advance(time.Millisecond)
		_, err := q.Enqueue(ctx, types.EntityResume, id, types.PriorityNormal)
		require.NoError(t, err)
	}

	items, err := store.Claim(ctx, 1, clock.Now())
	require.NoError(t, err)
	require.Equal(t, "a", items[0].EntityID)

	clock.Advance(time.Millisecond)
	item, permanent, err := store.Fail(ctx, resumeRef("a"), "boom", 3, clock.Now())
	require.NoError(t, err)
	assert.False(t, permanent)
	assert.Equal(t, 1, item.Attempts)

	items, err = store.Claim(ctx, 3, clock.Now())
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "b", items[0].EntityID)
	assert.Equal(t, "c", items[1].EntityID)
	assert.Equal(t, "a", items[2].EntityID)
	assert.Equal(t, "boom", items[2].LastError)
}

// TestFail_PermanentAfterMaxAttempts 达到最大次数后移除并记录
func TestFail_PermanentAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := embedding.NewQueue(embedding.NewMemoryStore(10), embedding.WithClock(clock.Now), embedding.WithFailureHistory(2))
	store := q.Store()

	_, err := q.Enqueue(ctx, types.EntityResume, "r1", types.PriorityHigh)
	require.NoError(t, err)

	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		items, err := store.Claim(ctx, 1, clock.Now())
		require.NoError(t, err)
		require.Len(t, items, 1, "第 %d 次应能领取到条目", attempt)

		_, permanent, err := store.Fail(ctx, resumeRef("r1"), fmt.Sprintf("err-%d", attempt), maxAttempts, clock.Now())
		require.NoError(t, err)
		assert.Equal(t, attempt == maxAttempts, permanent)
	}

	items, err := store.Claim(ctx, 1, clock.Now())
	require.NoError(t, err)
	assert.Empty(t, items, "永久失败的条目不应再被领取")

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 0, stats.InFlight)
	assert.Equal(t, 1, stats.FailedPermanently)
	require.Len(t, stats.RecentFailures, 1)
	assert.Equal(t, "r1", stats.RecentFailures[0].EntityID)
	assert.Equal(t, maxAttempts, stats.RecentFailures[0].Attempts)
	assert.Equal(t, "err-3", stats.RecentFailures[0].LastError)

	for _, id := range []string{"r2", "r3"} {
		_, err := q.Enqueue(ctx, types.EntityResume, id, types.PriorityNormal)
		require.NoError(t, err)
		_, err = store.Claim(ctx, 1, clock.Now())
		require.NoError(t, err)
		_, _, err = store.Fail(ctx, resumeRef(id), "x", 1, clock.Now())
		require.NoError(t, err)
	}
	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.FailedPermanently)
	require.Len(t, stats.RecentFailures, 2, "只返回最近的失败记录")
	assert.Equal(t, "r3", stats.RecentFailures[0].EntityID)
	assert.Equal(t, "r2", stats.RecentFailures[1].EntityID)
}

// TestEnqueue_WhileInFlight 处理中再次入队，完成后重新排队
func TestEnqueue_WhileInFlight(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := newTestQueue(clock)
	store := q.Store()

	_, err := q.Enqueue(ctx, types.EntityResume, "r1", types.PriorityLow)
	require.NoError(t, err)
	_, err = store.Claim(ctx, 1, clock.Now())
	require.NoError(t, err)

	res, err := q.Enqueue(ctx, types.EntityResume, "r1", types.PriorityHigh)
	require.NoError(t, err)
	assert.False(t, res.Queued)
	assert.Equal(t, 0, res.Position, "处理中的条目位置为 0")

	requeued, err := store.Complete(ctx, resumeRef("r1"), clock.Now())
	require.NoError(t, err)
	assert.True(t, requeued)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.PendingByPriority["high"])

	_, err = store.Claim(ctx, 1, clock.Now())
	require.NoError(t, err)
	requeued, err = store.Complete(ctx, resumeRef("r1"), clock.Now())
	require.NoError(t, err)
	assert.False(t, requeued)

	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Pending+stats.InFlight)
}

// TestRecover 遗留的处理中条目放回待处理
func TestRecover(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := newTestQueue(clock)

	for _, id := range []string{"a", "b"} {
		_, err := q.Enqueue(ctx, types.EntityJob, id, types.PriorityNormal)
		require.NoError(t, err)
	}
	_, err := q.Store().Claim(ctx, 2, clock.Now())
	require.NoError(t, err)

	n, err := q.Store().Recover(ctx, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 0, stats.InFlight)
}
