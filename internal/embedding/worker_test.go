package embedding_test

import (
	"ai-match-go/internal/embedding"
	"ai-match-go/internal/types"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockProvider 供应方 mock
type mockProvider struct {
	mock.Mock
	maxBatch int
}

func (m *mockProvider) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	args := m.Called(ctx, texts)
	vectors, _ := args.Get(0).([][]float64)
	return vectors, args.Error(1)
}

func (m *mockProvider) MaxBatch() int {
	return m.maxBatch
}

// fakeTexts 内存中的实体文本
type fakeTexts struct {
	texts map[types.EntityRef]string
}

func (f *fakeTexts) EmbeddingText(_ context.Context, ref types.EntityRef) (string, error) {
	text, ok := f.texts[ref]
	if !ok {
		return "", embedding.ErrEntityNotFound
	}
	return text, nil
}

// fakeWriter 记录写入的向量
type fakeWriter struct {
	mu      sync.Mutex
	saved   map[types.EntityRef]types.EmbeddingVector
	failFor map[types.EntityRef]bool
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{saved: map[types.EntityRef]types.EmbeddingVector{}, failFor: map[types.EntityRef]bool{}}
}

func (f *fakeWriter) SaveEmbedding(_ context.Context, ref types.EntityRef, vec types.EmbeddingVector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[ref] {
		return errors.New("db down")
	}
	f.saved[ref] = vec
	return nil
}

// fakeSink 记录永久失败
type fakeSink struct {
	items []types.FailedItem
}

func (f *fakeSink) RecordPermanentFailure(_ context.Context, item types.FailedItem) error {
	f.items = append(f.items, item)
	return nil
}

type workerFixture struct {
	clock    *fakeClock
	queue    *embedding.Queue
	provider *mockProvider
	texts    *fakeTexts
	writer   *fakeWriter
	sink     *fakeSink
	worker   *embedding.Worker
}

func newWorkerFixture(t *testing.T, maxBatch int, cfg embedding.WorkerConfig) *workerFixture {
	t.Helper()
	f := &workerFixture{
		clock:    newFakeClock(),
		provider: &mockProvider{maxBatch: maxBatch},
		texts:    &fakeTexts{texts: map[types.EntityRef]string{}},
		writer:   newFakeWriter(),
		sink:     &fakeSink{},
	}
	f.queue = embedding.NewQueue(embedding.NewMemoryStore(10), embedding.WithClock(f.clock.Now))
	if cfg.ModelVersion == "" {
		cfg.ModelVersion = "text-embedding-v3"
	}
	f.worker = embedding.NewWorker(f.queue, f.provider, f.texts, f.writer, f.sink, cfg, zerolog.Nop())
	return f
}

func (f *workerFixture) add(t *testing.T, ref types.EntityRef, text string, p types.Priority) {
	t.Helper()
	f.texts.texts[ref] = text
	f.clock.Advance(time.Millisecond)
	_, err := f.queue.Enqueue(context.Background(), ref.Type, ref.ID, p)
	require.NoError(t, err)
}

// TestWorker_BulkSuccess 支持批量时一个批次只调用一次供应方
func TestWorker_BulkSuccess(t *testing.T) {
	f := newWorkerFixture(t, 10, embedding.WorkerConfig{BatchSize: 5, Dimensions: 2})
	f.add(t, resumeRef("r1"), "text r1", types.PriorityLow)
	f.add(t, resumeRef("r2"), "text r2", types.PriorityHigh)

	f.provider.On("Embed", mock.Anything, []string{"text r2", "text r1"}).
		Return([][]float64{{0.1, 0.2}, {0.3, 0.4}}, nil).Once()

	report, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Claimed)
	assert.Equal(t, 2, report.Embedded)
	f.provider.AssertNumberOfCalls(t, "Embed", 1)

	saved := f.writer.saved[resumeRef("r2")]
	assert.Equal(t, []float64{0.1, 0.2}, saved.Values)
	assert.Equal(t, "text-embedding-v3", saved.ModelVersion)
	assert.Equal(t, f.clock.Now(), saved.GeneratedAt)
	assert.Equal(t, []float64{0.3, 0.4}, f.writer.saved[resumeRef("r1")].Values)

	stats, err := f.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Pending+stats.InFlight, "成功后条目应被移除")
}

// TestWorker_SequentialWhenNoBatch 不支持批量时逐条调用
func TestWorker_SequentialWhenNoBatch(t *testing.T) {
	f := newWorkerFixture(t, 1, embedding.WorkerConfig{BatchSize: 3, InterCallDelay: time.Millisecond})
	f.add(t, resumeRef("r1"), "a", types.PriorityNormal)
	f.add(t, resumeRef("r2"), "b", types.PriorityNormal)
	f.add(t, resumeRef("r3"), "c", types.PriorityNormal)

	f.provider.On("Embed", mock.Anything, []string{"a"}).Return([][]float64{{1}}, nil).Once()
	f.provider.On("Embed", mock.Anything, []string{"b"}).Return([][]float64{{2}}, nil).Once()
	f.provider.On("Embed", mock.Anything, []string{"c"}).Return([][]float64{{3}}, nil).Once()

	report, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Embedded)
	f.provider.AssertExpectations(t)
}

// TestWorker_RetryThenPermanentFailure 失败会重试，达到上限后记为永久失败
func TestWorker_RetryThenPermanentFailure(t *testing.T) {
	f := newWorkerFixture(t, 10, embedding.WorkerConfig{BatchSize: 5, MaxAttempts: 2})
	f.add(t, resumeRef("r1"), "text", types.PriorityNormal)

	f.provider.On("Embed", mock.Anything, mock.Anything).Return(nil, errors.New("503 service unavailable"))

	report, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retried)
	assert.Empty(t, f.sink.items)

	stats, err := f.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending, "第一次失败后应回到待处理")

	report, err = f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.PermanentlyFailed)
	require.Len(t, f.sink.items, 1)
	assert.Equal(t, 2, f.sink.items[0].Attempts)
	assert.Contains(t, f.sink.items[0].LastError, "503")

	report, err = f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Claimed, "永久失败后不再重试")
	f.provider.AssertNumberOfCalls(t, "Embed", 2)

	stats, err = f.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FailedPermanently)
}

// TestWorker_TimeoutCountsAsFailure 调用超时按失败处理
func TestWorker_TimeoutCountsAsFailure(t *testing.T) {
	f := newWorkerFixture(t, 10, embedding.WorkerConfig{BatchSize: 5, MaxAttempts: 3, CallTimeout: 10 * time.Millisecond})
	f.add(t, resumeRef("r1"), "text", types.PriorityNormal)

	f.provider.On("Embed", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded).Once()

	report, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retried)

	stats, err := f.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
}

// TestWorker_MalformedAndMissing 维度不符、实体已删除、写入失败的处理
func TestWorker_MalformedAndMissing(t *testing.T) {
	f := newWorkerFixture(t, 10, embedding.WorkerConfig{BatchSize: 10, MaxAttempts: 5, Dimensions: 2})
	f.add(t, resumeRef("ok"), "ok", types.PriorityNormal)
	f.add(t, resumeRef("bad"), "bad", types.PriorityNormal)
	f.add(t, resumeRef("dbfail"), "dbfail", types.PriorityNormal)

	// 没有文本的实体视为已删除
	_, err := f.queue.Enqueue(context.Background(), types.EntityJob, "gone", types.PriorityLow)
	require.NoError(t, err)
	f.writer.failFor[resumeRef("dbfail")] = true

	f.provider.On("Embed", mock.Anything, []string{"ok", "bad", "dbfail"}).
		Return([][]float64{{1, 0}, {1, 0, 0}, {0, 1}}, nil).Once()

	report, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Claimed)
	assert.Equal(t, 1, report.Embedded)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 2, report.Retried)

	stats, err := f.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pending, "bad 与 dbfail 回到队列")
	assert.Contains(t, f.writer.saved, resumeRef("ok"))
}

// TestWorker_RequeueWhenUpdatedInFlight 处理期间再次入队的实体会再生成一次
func TestWorker_RequeueWhenUpdatedInFlight(t *testing.T) {
	f := newWorkerFixture(t, 10, embedding.WorkerConfig{BatchSize: 5})
	f.add(t, resumeRef("r1"), "v1", types.PriorityNormal)

	f.provider.On("Embed", mock.Anything, []string{"v1"}).
		Run(func(mock.Arguments) {
			f.texts.texts[resumeRef("r1")] = "v2"
			_, err := f.queue.Enqueue(context.Background(), types.EntityResume, "r1", types.PriorityHigh)
			assert.NoError(t, err)
		}).
		Return([][]float64{{1}}, nil).Once()
	f.provider.On("Embed", mock.Anything, []string{"v2"}).Return([][]float64{{2}}, nil).Once()

	report, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Requeued)

	report, err = f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Embedded)
	assert.Equal(t, []float64{2}, f.writer.saved[resumeRef("r1")].Values)
	f.provider.AssertExpectations(t)
}

// TestWorker_StartStop 后台循环按间隔处理并能正常停止
func TestWorker_StartStop(t *testing.T) {
	f := newWorkerFixture(t, 10, embedding.WorkerConfig{BatchSize: 5, Interval: 5 * time.Millisecond})
	f.add(t, resumeRef("r1"), "text", types.PriorityNormal)
	f.provider.On("Embed", mock.Anything, mock.Anything).Return([][]float64{{1}}, nil)

	require.NoError(t, f.worker.Start(context.Background()))
	defer f.worker.Stop()

	assert.Eventually(t, func() bool {
		f.writer.mu.Lock()
		defer f.writer.mu.Unlock()
		_, ok := f.writer.saved[resumeRef("r1")]
		return ok
	}, time.Second, 5*time.Millisecond)

	f.worker.Stop()
	f.worker.Stop()
}
