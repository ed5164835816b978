package main

import (
	"ai-match-go/internal/config"
	"ai-match-go/internal/embedding"
	"ai-match-go/internal/logger"
	"ai-match-go/internal/storage"
	"ai-match-go/internal/types"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/time/rate"
)

// options 命令行参数
type options struct {
	configPath string
	entityType string
	limit      int
	priority   string
	mode       string
	ratePerSec float64
	dryRun     bool
}

func main() {
	var opts options
	pflag.StringVarP(&opts.configPath, "config", "c", "config.yaml", "配置文件路径")
	pflag.StringVarP(&opts.entityType, "type", "t", "all", "补齐的实体类型: all, resume, job")
	pflag.IntVarP(&opts.limit, "limit", "n", 0, "每种实体最多补齐的数量，0 表示不限制")
	pflag.StringVarP(&opts.priority, "priority", "p", "low", "入队优先级: high, normal, low")
	pflag.StringVar(&opts.mode, "mode", "auto", "提交方式: auto, queue(直接写 Redis 队列), events(发布实体变更事件)")
	pflag.Float64Var(&opts.ratePerSec, "rate", 50, "每秒最多提交的条目数，<=0 表示不限速")
	pflag.BoolVar(&opts.dryRun, "dry-run", false, "只统计不提交")
	pflag.Parse()

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if _, err := logger.Init(logger.Config{Level: cfg.Logger.Level, Format: cfg.Logger.Format, TimeFormat: cfg.Logger.TimeFormat}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := run(ctx, cfg, opts)
	if err != nil {
		logger.Error().Err(err).Msg("补齐失败")
		stop()
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
}

func run(ctx context.Context, cfg *config.Config, opts options) (Report, error) {
	entityTypes, err := parseEntityTypes(opts.entityType)
	if err != nil {
		return Report{}, err
	}
	priority, err := types.ParsePriority(opts.priority)
	if err != nil {
		return Report{}, err
	}

	st, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		return Report{}, fmt.Errorf("初始化存储失败: %w", err)
	}
	defer st.Close()

	sink, err := newSink(cfg, st, opts.mode)
	if err != nil && !opts.dryRun {
		return Report{}, err
	}

	var limiter *rate.Limiter
	if opts.ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.ratePerSec), 1)
	}

	r := &runner{
		lister:       st.MySQL,
		sink:         sink,
		modelVersion: cfg.Aliyun.Embedding.EffectiveModelVersion(),
		types:        entityTypes,
		limit:        opts.limit,
		priority:     priority,
		dryRun:       opts.dryRun,
		limiter:      limiter,
		logger:       logger.Named("backfill"),
	}
	return r.run(ctx)
}

// newSink 选择提交方式。内存队列只存在于服务进程内，只能通过事件提交
func newSink(cfg *config.Config, st *storage.Storage, mode string) (Sink, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "auto" {
		mode = "events"
		if strings.EqualFold(cfg.EmbeddingQueue.Backend, "redis") {
			mode = "queue"
		}
	}

	switch mode {
	case "queue":
		if st.Redis == nil {
			return nil, errors.New("queue 模式需要可用的 Redis")
		}
		store := storage.NewRedisQueueStore(st.Redis.Client, storage.WithFailureKeep(cfg.EmbeddingQueue.FailureHistorySize))
		return queueSink{queue: embedding.NewQueue(store, embedding.WithQueueLogger(logger.Named("embedding_queue")))}, nil
	case "events":
		if st.RabbitMQ == nil {
			return nil, errors.New("events 模式需要可用的 RabbitMQ")
		}
		return eventSink{
			publisher: st.RabbitMQ,
			exchange:  cfg.RabbitMQ.EntityEventsExchange,
			routingKeys: map[types.EntityType]string{
				types.EntityResume: cfg.RabbitMQ.ResumeChangedRoutingKey,
				types.EntityJob:    cfg.RabbitMQ.JobChangedRoutingKey,
			},
			now: time.Now,
		}, nil
	default:
		return nil, fmt.Errorf("未知的提交方式: %q", mode)
	}
}

func parseEntityTypes(s string) ([]types.EntityType, error) {
	if strings.EqualFold(strings.TrimSpace(s), "all") {
		return []types.EntityType{types.EntityResume, types.EntityJob}, nil
	}
	t, err := types.ParseEntityType(s)
	if err != nil {
		return nil, err
	}
	return []types.EntityType{t}, nil
}
