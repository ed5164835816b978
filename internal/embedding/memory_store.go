package embedding

import (
	"ai-match-go/internal/types"
	"context"
	"sort"
	"sync"
	"time"
)

// memoryEntry 内存队列中的条目
type memoryEntry struct {
	item types.QueueItem
	seq  uint64 // 相同优先级和入队时间时按插入顺序排序
	// dirty 处理中被重新入队
	dirty bool
}

// MemoryStore 进程内队列存储，所有操作由一把互斥锁保护
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[types.EntityRef]*memoryEntry
	seq      uint64
	failures []types.FailedItem // 最新的在末尾
	failed   int
	keep     int
}

// NewMemoryStore 创建内存队列存储，keep 为保留的永久失败记录数
func NewMemoryStore(keep int) *MemoryStore {
	if keep <= 0 {
		keep = 50
	}
	return &MemoryStore{
		entries: make(map[types.EntityRef]*memoryEntry),
		keep:    keep,
	}
}

func (s *MemoryStore) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// Upsert 见 QueueStore.Upsert
func (s *MemoryStore) Upsert(_ context.Context, ref types.EntityRef, priority types.Priority, now time.Time) (types.EnqueueResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[ref]; ok {
		e.item.Priority = types.MaxPriority(e.item.Priority, priority)
		e.item.EnqueuedAt = now
		if e.item.State == types.QueueStateInFlight {
			e.dirty = true
			return types.EnqueueResult{Queued: false, Position: 0}, nil
		}
		e.seq = s.nextSeq()
		return types.EnqueueResult{Queued: false, Position: s.positionLocked(e)}, nil
	}

	e := &memoryEntry{
		item: types.QueueItem{
			EntityType: ref.Type,
			EntityID:   ref.ID,
			Priority:   priority,
			EnqueuedAt: now,
			State:      types.QueueStatePending,
		},
		seq: s.nextSeq(),
	}
	s.entries[ref] = e
	return types.EnqueueResult{Queued: true, Position: s.positionLocked(e)}, nil
}

// positionLocked 条目在待处理队列中的位置，从 1 开始
func (s *MemoryStore) positionLocked(target *memoryEntry) int {
	pos := 1
	for _, e := range s.entries {
		if e != target && e.item.State == types.QueueStatePending && before(e, target) {
			pos++
		}
	}
	return pos
}

// before 判断 a 是否排在 b 前面
func before(a, b *memoryEntry) bool {
	if a.item.Priority != b.item.Priority {
		return a.item.Priority > b.item.Priority
	}
	if !a.item.EnqueuedAt.Equal(b.item.EnqueuedAt) {
		return a.item.EnqueuedAt.Before(b.item.EnqueuedAt)
	}
	return a.seq < b.seq
}

// Claim 见 QueueStore.Claim
func (s *MemoryStore) Claim(_ context.Context, n int, _ time.Time) ([]types.QueueItem, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]*memoryEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.item.State == types.QueueStatePending {
			pending = append(pending, e)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return before(pending[i], pending[j]) })
	if len(pending) > n {
		pending = pending[:n]
	}

	claimed := make([]types.QueueItem, 0, len(pending))
	for _, e := range pending {
		e.item.State = types.QueueStateInFlight
		e.dirty = false
		claimed = append(claimed, e.item)
	}
	return claimed, nil
}

// Complete 见 QueueStore.Complete
func (s *MemoryStore) Complete(_ context.Context, ref types.EntityRef, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[ref]
	if !ok {
		return false, nil
	}
	if e.dirty {
		e.dirty = false
		e.item.State = types.QueueStatePending
		e.item.Attempts = 0
		e.item.LastError = ""
		e.seq = s.nextSeq()
		return true, nil
	}
	delete(s.entries, ref)
	return false, nil
}

// Fail 见 QueueStore.Fail
func (s *MemoryStore) Fail(_ context.Context, ref types.EntityRef, reason string, maxAttempts int, now time.Time) (types.QueueItem, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[ref]
	if !ok {
		return types.QueueItem{}, false, nil
	}
	e.item.Attempts++
	e.item.LastError = reason
	e.dirty = false

	if e.item.Attempts >= maxAttempts {
		delete(s.entries, ref)
		s.failed++
		s.failures = append(s.failures, types.FailedItem{
			EntityType: ref.Type,
			EntityID:   ref.ID,
			Attempts:   e.item.Attempts,
			LastError:  reason,
			FailedAt:   now,
		})
		if len(s.failures) > s.keep {
			s.failures = s.failures[len(s.failures)-s.keep:]
		}
		return e.item, true, nil
	}

	// 放回所在优先级的队尾
	e.item.State = types.QueueStatePending
	e.item.EnqueuedAt = now
	e.seq = s.nextSeq()
	return e.item, false, nil
}

// Stats 见 QueueStore.Stats
func (s *MemoryStore) Stats(_ context.Context, historySize int) (types.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := types.QueueStats{
		PendingByPriority: newPriorityCounts(),
		FailedPermanently: s.failed,
		RecentFailures:    []types.FailedItem{},
	}
	for _, e := range s.entries {
		switch e.item.State {
		case types.QueueStatePending:
			stats.Pending++
			stats.PendingByPriority[e.item.Priority.String()]++
		case types.QueueStateInFlight:
			stats.InFlight++
		}
	}

	for i := len(s.failures) - 1; i >= 0 && len(stats.RecentFailures) < historySize; i-- {
		stats.RecentFailures = append(stats.RecentFailures, s.failures[i])
	}
	return stats, nil
}

// Recover 见 QueueStore.Recover
func (s *MemoryStore) Recover(_ context.Context, _ time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.entries {
		if e.item.State == types.QueueStateInFlight {
			e.item.State = types.QueueStatePending
			e.dirty = false
			n++
		}
	}
	return n, nil
}
