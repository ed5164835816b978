package embedding

import (
	"ai-match-go/internal/config"
	"ai-match-go/internal/tracing"
	"ai-match-go/internal/types"
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// VectorWriter 把生成的向量写回所属实体
type VectorWriter interface {
	SaveEmbedding(ctx context.Context, ref types.EntityRef, vec types.EmbeddingVector) error
}

// FailureSink 接收永久失败的条目
type FailureSink interface {
	RecordPermanentFailure(ctx context.Context, item types.FailedItem) error
}

// WorkerConfig 工作者参数
type WorkerConfig struct {
	Interval       time.Duration
	BatchSize      int
	MaxAttempts    int
	CallTimeout    time.Duration
	InterCallDelay time.Duration
	QPM            int
	ModelVersion   string
	Dimensions     int // 大于 0 时校验返回向量的维度
}

// WorkerConfigFrom 从应用配置构造工作者参数
func WorkerConfigFrom(cfg *config.Config) WorkerConfig {
	q := cfg.EmbeddingQueue
	return WorkerConfig{
		Interval:       config.GetDuration(q.Interval, 5*time.Second),
		BatchSize:      q.BatchSize,
		MaxAttempts:    q.MaxAttempts,
		CallTimeout:    config.GetDuration(q.CallTimeout, 15*time.Second),
		InterCallDelay: config.GetDuration(q.InterCallDelay, 200*time.Millisecond),
		QPM:            q.QPM,
		ModelVersion:   cfg.Aliyun.Embedding.EffectiveModelVersion(),
		Dimensions:     cfg.Aliyun.Embedding.Dimensions,
	}
}

// BatchReport 单批处理结果
type BatchReport struct {
	Claimed           int
	Embedded          int
	Skipped           int // 实体已删除或没有文本
	Requeued          int // 处理期间被重新入队
	Retried           int
	PermanentlyFailed int
}

// Worker 定时从队列领取一批条目，调用供应方生成向量并写回。
// 同一时刻只处理一个批次
type Worker struct {
	queue    *Queue
	provider Provider
	texts    TextSource
	writer   VectorWriter
	sink     FailureSink
	cfg      WorkerConfig
	limiter  *rate.Limiter
	logger   zerolog.Logger
	tracer   trace.Tracer

	runMu    sync.Mutex
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker 创建工作者。sink 可以为 nil
func NewWorker(queue *Queue, provider Provider, texts TextSource, writer VectorWriter, sink FailureSink, cfg WorkerConfig, logger zerolog.Logger) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}

	return &Worker{
		queue:    queue,
		provider: provider,
		texts:    texts,
		writer:   writer,
		sink:     sink,
		cfg:      cfg,
		limiter:  newCallLimiter(cfg, provider.MaxBatch()),
		logger:   logger.With().Str("component", "embedding_worker").Logger(),
		tracer:   otel.Tracer("embedding-worker"),
		done:     make(chan struct{}),
	}
}

// newCallLimiter 按 QPM 限制调用频率；不支持批量时两次调用之间至少间隔 InterCallDelay
func newCallLimiter(cfg WorkerConfig, maxBatch int) *rate.Limiter {
	var interval time.Duration
	if cfg.QPM > 0 {
		interval = time.Minute / time.Duration(cfg.QPM)
	}
	if maxBatch <= 1 && cfg.InterCallDelay > interval {
		interval = cfg.InterCallDelay
	}
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Start 放回遗留的处理中条目，然后在后台按固定间隔处理批次
func (w *Worker) Start(ctx context.Context) error {
	recovered, err := w.queue.Store().Recover(ctx, w.queue.Now())
	if err != nil {
		return fmt.Errorf("恢复处理中条目失败: %w", err)
	}
	if recovered > 0 {
		w.logger.Warn().Int("count", recovered).Msg("已将遗留的处理中条目放回队列")
	}

	w.logger.Info().
		Dur("interval", w.cfg.Interval).
		Int("batch_size", w.cfg.BatchSize).
		Int("max_batch", w.provider.MaxBatch()).
		Str("model_version", w.cfg.ModelVersion).
		Msg("向量生成工作者启动")

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.done:
				w.logger.Info().Msg("向量生成工作者已停止")
				return
			case <-ctx.Done():
				w.logger.Info().Msg("上下文取消，向量生成工作者退出")
				return
			case <-ticker.C:
				if _, err := w.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
					w.logger.Error().Err(err).Msg("处理向量生成批次失败")
				}
			}
		}
	}()
	return nil
}

// Stop 停止后台循环并等待当前批次结束
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
}

type pendingText struct {
	item types.QueueItem
	text string
}

// RunOnce 处理一个批次。与后台循环共用一把锁，不会并发执行
func (w *Worker) RunOnce(ctx context.Context) (BatchReport, error) {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	var report BatchReport
	store := w.queue.Store()
	items, err := store.Claim(ctx, w.cfg.BatchSize, w.queue.Now())
	if err != nil {
		return report, fmt.Errorf("领取队列条目失败: %w", err)
	}
	if len(items) == 0 {
		return report, nil
	}
	report.Claimed = len(items)

	ctx, span := w.tracer.Start(ctx, "embedding.ProcessBatch",
		trace.WithAttributes(attribute.Int("embedding.batch.size", len(items))))
	defer span.End()

	work := make([]pendingText, 0, len(items))
	for _, item := range items {
		text, err := w.texts.EmbeddingText(ctx, item.Ref())
		switch {
		case errors.Is(err, ErrEntityNotFound), errors.Is(err, ErrEmptyText):
			w.logger.Warn().Err(err).Str("entity", item.Ref().String()).Msg("跳过无法生成向量的实体")
			report.Skipped++
			w.complete(ctx, item, &report)
		case err != nil:
			w.fail(ctx, item, fmt.Errorf("读取实体文本失败: %w", err), &report)
		default:
			work = append(work, pendingText{item: item, text: text})
		}
	}

	for _, chunk := range chunkTexts(work, w.provider.MaxBatch()) {
		if err := w.limiter.Wait(ctx); err != nil {
			// 进程退出时剩余条目保持处理中，下次启动由 Recover 放回
			tracing.RecordError(span, err, tracing.ErrorTypeTimeout)
			return report, err
		}
		w.processChunk(ctx, chunk, &report)
	}

	span.SetAttributes(
		attribute.Int("embedding.batch.embedded", report.Embedded),
		attribute.Int("embedding.batch.retried", report.Retried),
		attribute.Int("embedding.batch.failed", report.PermanentlyFailed),
	)
	w.logger.Info().
		Int("claimed", report.Claimed).
		Int("embedded", report.Embedded).
		Int("skipped", report.Skipped).
		Int("retried", report.Retried).
		Int("failed", report.PermanentlyFailed).
		Int("requeued", report.Requeued).
		Msg("向量生成批次完成")
	return report, nil
}

func (w *Worker) processChunk(ctx context.Context, chunk []pendingText, report *BatchReport) {
	texts := make([]string, len(chunk))
	for i, pt := range chunk {
		texts[i] = pt.text
	}

	vectors, err := w.callProvider(ctx, texts)
	if err != nil {
		tracing.RecordErrorWithInfo(trace.SpanFromContext(ctx), err, tracing.ErrorTypeProvider,
			attribute.Int("embedding.chunk.size", len(chunk)))
		for _, pt := range chunk {
			w.fail(ctx, pt.item, err, report)
		}
		return
	}

	generatedAt := w.queue.Now()
	for i, pt := range chunk {
		if err := w.checkVector(vectors[i]); err != nil {
			w.fail(ctx, pt.item, err, report)
			continue
		}
		vec := types.EmbeddingVector{
			Values:       vectors[i],
			GeneratedAt:  generatedAt,
			ModelVersion: w.cfg.ModelVersion,
		}
		if err := w.writer.SaveEmbedding(ctx, pt.item.Ref(), vec); err != nil {
			w.fail(ctx, pt.item, fmt.Errorf("写入向量失败: %w", err), report)
			continue
		}
		report.Embedded++
		w.complete(ctx, pt.item, report)
	}
}

// callProvider 带超时调用供应方，超时按失败处理
func (w *Worker) callProvider(ctx context.Context, texts []string) ([][]float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
	defer cancel()

	vectors, err := w.provider.Embed(callCtx, texts)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("调用超时(%s): %w", w.cfg.CallTimeout, err)
		}
		if !errors.Is(err, ErrProviderCallFailed) {
			err = NewProviderError("embed", len(texts), err)
		}
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, NewProviderError("embed", len(texts),
			fmt.Errorf("%w: 期望 %d 个向量，实际 %d 个", ErrMalformedEmbedding, len(texts), len(vectors)))
	}
	return vectors, nil
}

func (w *Worker) checkVector(vec []float64) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: 空向量", ErrMalformedEmbedding)
	}
	if w.cfg.Dimensions > 0 && len(vec) != w.cfg.Dimensions {
		return fmt.Errorf("%w: 维度 %d，期望 %d", ErrMalformedEmbedding, len(vec), w.cfg.Dimensions)
	}
	for _, x := range vec {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: 包含非有限值", ErrMalformedEmbedding)
		}
	}
	return nil
}

func (w *Worker) complete(ctx context.Context, item types.QueueItem, report *BatchReport) {
	requeued, err := w.queue.Store().Complete(ctx, item.Ref(), w.queue.Now())
	if err != nil {
		w.logger.Error().Err(err).Str("entity", item.Ref().String()).Msg("移除队列条目失败")
		return
	}
	if requeued {
		report.Requeued++
		w.logger.Debug().Str("entity", item.Ref().String()).Msg("处理期间实体有更新，重新排队")
	}
}

func (w *Worker) fail(ctx context.Context, item types.QueueItem, cause error, report *BatchReport) {
	ref := item.Ref()
	updated, permanent, err := w.queue.Store().Fail(ctx, ref, cause.Error(), w.cfg.MaxAttempts, w.queue.Now())
	if err != nil {
		w.logger.Error().Err(err).Str("entity", ref.String()).Msg("记录队列条目失败状态出错")
		return
	}

	if !permanent {
		report.Retried++
		w.logger.Warn().Err(cause).
			Str("entity", ref.String()).
			Int("attempts", updated.Attempts).
			Int("max_attempts", w.cfg.MaxAttempts).
			Msg("向量生成失败，已放回队尾")
		return
	}

	report.PermanentlyFailed++
	w.logger.Error().Err(cause).
		Str("entity", ref.String()).
		Int("attempts", updated.Attempts).
		Msg("向量生成永久失败")

	if w.sink == nil {
		return
	}
	failed := types.FailedItem{
		EntityType: ref.Type,
		EntityID:   ref.ID,
		Attempts:   updated.Attempts,
		LastError:  cause.Error(),
		FailedAt:   w.queue.Now(),
	}
	if err := w.sink.RecordPermanentFailure(ctx, failed); err != nil {
		w.logger.Error().Err(err).Str("entity", ref.String()).Msg("持久化永久失败记录出错")
	}
}

func chunkTexts(work []pendingText, size int) [][]pendingText {
	if size < 1 {
		size = 1
	}
	var chunks [][]pendingText
	for start := 0; start < len(work); start += size {
		end := start + size
		if end > len(work) {
			end = len(work)
		}
		chunks = append(chunks, work[start:end])
	}
	return chunks
}
