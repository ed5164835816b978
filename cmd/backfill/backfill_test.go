package main

import (
	"ai-match-go/internal/embedding"
	"ai-match-go/internal/types"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	ids map[types.EntityType][]string
	err error
}

func (f fakeLister) ListEntitiesMissingEmbeddings(_ context.Context, t types.EntityType, modelVersion string, limit int) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	ids := f.ids[t]
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

type publishedMessage struct {
	exchange, key string
	body          []byte
}

type fakePublisher struct {
	sent []publishedMessage
	err  error
}

func (f *fakePublisher) PublishMessage(_ context.Context, exchange, key string, body []byte, _ bool) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, publishedMessage{exchange: exchange, key: key, body: body})
	return nil
}

// TestRunner_Queue 补齐条目以指定优先级写入队列，已在队列中的不重复计数
func TestRunner_Queue(t *testing.T) {
	ctx := context.Background()
	q := embedding.NewQueue(embedding.NewMemoryStore(10))
	_, err := q.Enqueue(ctx, types.EntityJob, "j1", types.PriorityHigh)
	require.NoError(t, err)

	r := &runner{
		lister: fakeLister{ids: map[types.EntityType][]string{
			types.EntityResume: {"r1", "r2", "r3"},
			types.EntityJob:    {"j1", "j2"},
		}},
		sink:     queueSink{queue: q},
		types:    []types.EntityType{types.EntityResume, types.EntityJob},
		limit:    2,
		priority: types.PriorityLow,
		logger:   zerolog.Nop(),
	}

	report, err := r.run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Found[types.EntityResume])
	assert.Equal(t, 2, report.Found[types.EntityJob])
	assert.Equal(t, 4, report.Submitted)
	assert.Equal(t, 3, report.Queued, "j1 已在队列中")

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Pending)
	assert.Equal(t, 3, stats.PendingByPriority["low"])
	assert.Equal(t, 1, stats.PendingByPriority["high"], "已有条目保留较高优先级")
}

// TestRunner_DryRun 只统计不提交
func TestRunner_DryRun(t *testing.T) {
	pub := &fakePublisher{}
	r := &runner{
		lister: fakeLister{ids: map[types.EntityType][]string{types.EntityResume: {"r1"}}},
		sink:   eventSink{publisher: pub},
		types:  []types.EntityType{types.EntityResume},
		dryRun: true,
		logger: zerolog.Nop(),
	}
	report, err := r.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Found[types.EntityResume])
	assert.Zero(t, report.Submitted)
	assert.Empty(t, pub.sent)
}

// TestRunner_ListError 查询失败时中止
func TestRunner_ListError(t *testing.T) {
	r := &runner{
		lister: fakeLister{err: errors.New("db down")},
		types:  []types.EntityType{types.EntityJob},
		logger: zerolog.Nop(),
	}
	_, err := r.run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

// TestEventSink 发布实体变更事件，发布失败计入失败数
func TestEventSink(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	pub := &fakePublisher{}
	sink := eventSink{
		publisher:   pub,
		exchange:    "entity.events",
		routingKeys: map[types.EntityType]string{types.EntityResume: "resume.changed"},
		now:         func() time.Time { return at },
	}

	queued, err := sink.Submit(context.Background(), types.EntityRef{Type: types.EntityResume, ID: "r1"}, types.PriorityLow)
	require.NoError(t, err)
	assert.True(t, queued)
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "entity.events", pub.sent[0].exchange)
	assert.Equal(t, "resume.changed", pub.sent[0].key)

	var event types.EntityChangedEvent
	require.NoError(t, json.Unmarshal(pub.sent[0].body, &event))
	assert.Equal(t, types.EntityResume, event.EntityType)
	assert.Equal(t, "r1", event.EntityID)
	assert.Equal(t, "low", event.Priority)
	assert.True(t, at.Equal(event.ChangedAt))

	_, err = sink.Submit(context.Background(), types.EntityRef{Type: types.EntityJob, ID: "j1"}, types.PriorityLow)
	assert.Error(t, err, "未配置路由键")

	pub.err = errors.New("channel closed")
	r := &runner{
		lister: fakeLister{ids: map[types.EntityType][]string{types.EntityResume: {"r2"}}},
		sink:   sink,
		types:  []types.EntityType{types.EntityResume},
		logger: zerolog.Nop(),
	}
	report, err := r.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Submitted)
}

// TestParseEntityTypes 测试实体类型参数
func TestParseEntityTypes(t *testing.T) {
	all, err := parseEntityTypes("ALL")
	require.NoError(t, err)
	assert.Equal(t, []types.EntityType{types.EntityResume, types.EntityJob}, all)

	one, err := parseEntityTypes("job")
	require.NoError(t, err)
	assert.Equal(t, []types.EntityType{types.EntityJob}, one)

	_, err = parseEntityTypes("company")
	assert.Error(t, err)
}
