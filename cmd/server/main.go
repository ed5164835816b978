package main

import (
	"ai-match-go/internal/api/handler"
	"ai-match-go/internal/api/router"
	"ai-match-go/internal/config"
	"ai-match-go/internal/constants"
	"ai-match-go/internal/embedding"
	"ai-match-go/internal/logger"
	"ai-match-go/internal/matching"
	"ai-match-go/internal/outbox"
	"ai-match-go/internal/scoring"
	"ai-match-go/internal/skills"
	"ai-match-go/internal/storage"
	"ai-match-go/internal/tracing"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

var version = "1.0.0" //nolint:gochecknoglobals

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "config.yaml", "配置文件路径")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logFile, err := logger.Init(logger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
		File:         cfg.Logger.File,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.InitHertz(cfg.Logger.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error().Err(err).Msg("服务异常退出")
		stop()
		os.Exit(1)
	}
	logger.Info().Msg("优雅退出完成")
}

func run(ctx context.Context, cfg *config.Config) error {
	shutdownTracing, err := tracing.InitProvider(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("初始化链路追踪失败: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("关闭链路追踪失败")
		}
	}()

	st, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("初始化存储失败: %w", err)
	}
	defer st.Close()
	logger.Info().Msg("存储服务初始化成功")

	modelVersion := cfg.Aliyun.Embedding.EffectiveModelVersion()

	repoOpts := []storage.RepositoryOption{storage.WithVectorCache(st.Redis)}
	if st.RabbitMQ != nil {
		repoOpts = append(repoOpts, storage.WithFailureEvents(storage.OutboxTarget{
			Exchange:   cfg.RabbitMQ.EmbeddingEventsExchange,
			RoutingKey: cfg.RabbitMQ.EmbeddingFailedRoutingKey,
		}))
	}
	repo := storage.NewRepository(st.MySQL, modelVersion, repoOpts...)

	queue, err := newQueue(cfg, st)
	if err != nil {
		return err
	}

	engine, err := newEngine(cfg, modelVersion)
	if err != nil {
		return err
	}
	svc := matching.NewService(repo, queue, engine, matching.ServiceConfigFrom(cfg.Matching), logger.Named("matching"))

	// 向量生成工作者。供应方不可用时匹配退化为纯词面打分，队列照常接收条目
	var worker *embedding.Worker
	embedder, err := embedding.NewAliyunEmbedder(cfg.Aliyun.APIKey, cfg.Aliyun.Embedding, logger.Named("aliyun_embedder"))
	if err != nil {
		logger.Error().Err(err).Msg("初始化向量供应方失败，向量生成工作者不会启动")
	} else {
		maxBatch := 1
		if cfg.Aliyun.Embedding.SupportsBatch {
			maxBatch = cfg.Aliyun.Embedding.MaxBatchTexts
		}
		provider := embedding.NewEinoProvider(embedder, maxBatch)
		worker = embedding.NewWorker(queue, provider, repo, repo, repo, embedding.WorkerConfigFrom(cfg), logger.Logger)
		if err := worker.Start(ctx); err != nil {
			return fmt.Errorf("启动向量生成工作者失败: %w", err)
		}
		defer worker.Stop()
	}

	if st.RabbitMQ != nil {
		consumer := embedding.NewChangeConsumer(queue, logger.Logger)
		stopConsumer, err := st.RabbitMQ.StartConsumer(cfg.RabbitMQ.EntityChangedQueue, cfg.RabbitMQ.PrefetchCount, consumer.Handle)
		if err != nil {
			logger.Error().Err(err).Msg("启动实体变更消费者失败")
		} else {
			defer stopConsumer()
		}

		relay := outbox.NewMessageRelay(st.MySQL.DB(), st.RabbitMQ, outbox.ConfigFrom(cfg.Outbox), logger.Named("outbox_relay"))
		relay.Start(ctx)
		defer relay.Stop()
	}

	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
		server.WithExitWaitTime(config.GetDuration(cfg.Server.ShutdownTimeout, 5*time.Second)),
		tracer,
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))
	h.Use(accessLog())

	router.RegisterRoutes(h, router.Handlers{
		Match:  handler.NewMatchHandler(svc, logger.Named("match_handler")),
		Queue:  handler.NewQueueHandler(queue, logger.Named("queue_handler")),
		Health: handler.NewHealthHandler(healthChecks(st)),
	}, cfg.Auth.APIKeys)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("address", cfg.Server.Address).Str("version", version).Msg("HTTP 服务器启动中")
		return h.Run()
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("接收到终止信号，正在优雅退出...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout, 5*time.Second))
		defer cancel()
		return h.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newQueue 按配置选择队列后端。redis 后端要求 Redis 可用
func newQueue(cfg *config.Config, st *storage.Storage) (*embedding.Queue, error) {
	opts := []embedding.QueueOption{
		embedding.WithFailureHistory(cfg.EmbeddingQueue.FailureHistorySize),
		embedding.WithQueueLogger(logger.Named("embedding_queue")),
	}

	switch strings.ToLower(cfg.EmbeddingQueue.Backend) {
	case "redis":
		if st.Redis == nil {
			return nil, errors.New("队列后端为 redis，但 Redis 不可用")
		}
		store := storage.NewRedisQueueStore(st.Redis.Client, storage.WithFailureKeep(cfg.EmbeddingQueue.FailureHistorySize))
		logger.Info().Msg("使用 Redis 向量生成队列")
		return embedding.NewQueue(store, opts...), nil
	default:
		logger.Warn().Msg("使用内存向量生成队列，进程重启后未处理的条目会丢失")
		return embedding.NewQueue(embedding.NewMemoryStore(cfg.EmbeddingQueue.FailureHistorySize), opts...), nil
	}
}

// newEngine 加载技能词表并创建匹配引擎
func newEngine(cfg *config.Config, modelVersion string) (*matching.Engine, error) {
	vocab, err := skills.LoadFile(cfg.Matching.VocabularyFile)
	if err != nil {
		return nil, fmt.Errorf("加载技能词表失败: %w", err)
	}
	logger.Info().Int("skills", vocab.Size()).Str("file", cfg.Matching.VocabularyFile).Msg("技能词表已加载")

	lexical := scoring.NewLexicalScorer(skills.NewMatcher(vocab), scoring.Policy{
		BaselineScore:   cfg.Matching.BaselineScore,
		ExperienceBonus: cfg.Matching.ExperienceBonus,
	})
	semantic := scoring.NewSemanticScorer(modelVersion, cfg.Aliyun.Embedding.Dimensions)
	return matching.NewEngine(lexical, semantic, matching.Weights{
		Lexical:  cfg.Matching.LexicalWeight,
		Semantic: cfg.Matching.SemanticWeight,
	})
}

func healthChecks(st *storage.Storage) map[string]handler.HealthCheck {
	checks := map[string]handler.HealthCheck{"mysql": st.MySQL.Ping}
	if st.Redis != nil {
		checks["redis"] = st.Redis.Ping
	}
	if st.RabbitMQ != nil {
		checks["rabbitmq"] = st.RabbitMQ.Ping
	}
	return checks
}

func accessLog() app.HandlerFunc {
	log := logger.Named(constants.ServiceName + ".http")
	return func(c context.Context, ctx *app.RequestContext) {
		start := time.Now()
		ctx.Next(c)
		log.Info().
			Str("method", string(ctx.Method())).
			Str("path", string(ctx.Path())).
			Int("status", ctx.Response.StatusCode()).
			Dur("elapsed", time.Since(start)).
			Msg("请求完成")
	}
}
