package storage

import (
	"ai-match-go/internal/config"
	"ai-match-go/internal/constants"
	"ai-match-go/internal/logger"
	"ai-match-go/internal/storage/models"
	"ai-match-go/internal/types"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// OutboxTarget 发件箱消息的目标交换机和路由键
type OutboxTarget struct {
	Exchange   string
	RoutingKey string
}

// MySQL 提供关系数据库功能
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// NewMySQL 创建MySQL客户端并迁移表结构
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)

	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormlogger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
		PrepareStmt:                              true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute)

	if err := db.Use(NewGormTracingPlugin(cfg.Database).WithDisableErrSkip(true)); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	m := &MySQL{db: db, cfg: cfg}
	if err := m.autoMigrateSchema(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	logger.Info().Str("database", cfg.Database).Msg("成功连接到MySQL并自动迁移数据库结构")
	return m, nil
}

func gormLogLevel(level int) gormlogger.LogLevel {
	switch level {
	case 1:
		return gormlogger.Silent
	case 2:
		return gormlogger.Error
	case 3:
		return gormlogger.Warn
	default:
		return gormlogger.Info
	}
}

// autoMigrateSchema 使用GORM自动迁移数据库表结构，迁移期间关闭SQL日志
func (m *MySQL) autoMigrateSchema() error {
	silentLogger := gormlogger.New(
		log.New(log.Writer(), "", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Silent,
			IgnoreRecordNotFoundError: true,
		},
	)

	err := m.db.Session(&gorm.Session{Logger: silentLogger}).AutoMigrate(
		&models.Resume{},
		&models.Job{},
		&models.EntityEmbedding{},
		&models.EmbeddingFailure{},
		&models.OutboxMessage{},
	)
	if err != nil {
		return fmt.Errorf("GORM自动迁移失败: %w", err)
	}
	return nil
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// Ping 检查数据库连接
func (m *MySQL) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// startSpan 为一次业务级数据库调用创建 span，GORM 插件的语句级 span 挂在其下
func (m *MySQL) startSpan(ctx context.Context, name, table, operation string) (context.Context, trace.Span) {
	return mysqlTracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemMySQL,
			attribute.String("db.name", m.cfg.Database),
			attribute.String("db.operation", operation),
			attribute.String("db.sql.table", table),
		))
}

// GetResume 通过ID获取简历，不存在时返回 ErrNotFound
func (m *MySQL) GetResume(ctx context.Context, resumeID string) (*types.Resume, error) {
	var row models.Resume
	if err := m.db.WithContext(ctx).Where("resume_id = ?", resumeID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("简历 %s: %w", resumeID, ErrNotFound)
		}
		return nil, fmt.Errorf("查询简历失败: %w", err)
	}
	return resumeFromModel(&row), nil
}

// GetJob 通过ID获取岗位，不存在时返回 ErrNotFound
func (m *MySQL) GetJob(ctx context.Context, jobID string) (*types.Job, error) {
	var row models.Job
	if err := m.db.WithContext(ctx).Where("job_id = ?", jobID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("岗位 %s: %w", jobID, ErrNotFound)
		}
		return nil, fmt.Errorf("查询岗位失败: %w", err)
	}
	return jobFromModel(&row), nil
}

// ListActiveJobs 返回在招岗位，按更新时间倒序，limit <= 0 表示不限制
func (m *MySQL) ListActiveJobs(ctx context.Context, limit int) ([]*types.Job, error) {
	ctx, span := m.startSpan(ctx, "MySQL.ListActiveJobs", "jobs", "SELECT")
	defer span.End()

	query := m.db.WithContext(ctx).Where("status = ?", constants.JobStatusActive).Order("updated_at desc").Order("job_id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []models.Job
	if err := query.Find(&rows).Error; err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("查询在招岗位失败: %w", err)
	}

	jobs := make([]*types.Job, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, jobFromModel(&rows[i]))
	}
	span.SetAttributes(attribute.Int("jobs.count", len(jobs)))
	return jobs, nil
}

// GetEmbeddings 批量读取向量，没有向量的实体不出现在结果中
func (m *MySQL) GetEmbeddings(ctx context.Context, refs []types.EntityRef) (map[types.EntityRef]*types.EmbeddingVector, error) {
	result := make(map[types.EntityRef]*types.EmbeddingVector, len(refs))
	if len(refs) == 0 {
		return result, nil
	}

	ctx, span := m.startSpan(ctx, "MySQL.GetEmbeddings", "entity_embeddings", "SELECT")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.size", len(refs)))

	idsByType := make(map[types.EntityType][]string)
	for _, ref := range refs {
		idsByType[ref.Type] = append(idsByType[ref.Type], ref.ID)
	}

	for entityType, ids := range idsByType {
		var rows []models.EntityEmbedding
		err := m.db.WithContext(ctx).
			Where("entity_type = ? AND entity_id IN ?", string(entityType), ids).
			Find(&rows).Error
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("查询向量失败: %w", err)
		}
		for i := range rows {
			vec, err := embeddingFromModel(&rows[i])
			if err != nil {
				// 损坏的向量按缺失处理，由调用方重新入队
				logger.Ctx(ctx).Warn().Err(err).Str("entityType", rows[i].EntityType).Str("entityID", rows[i].EntityID).Msg("向量数据无法解析")
				result[types.EntityRef{Type: entityType, ID: rows[i].EntityID}] = &types.EmbeddingVector{ModelVersion: rows[i].EmbeddingModelVersion}
				continue
			}
			result[types.EntityRef{Type: entityType, ID: rows[i].EntityID}] = vec
		}
	}
	return result, nil
}

// SaveEmbedding 写入或覆盖实体的向量
func (m *MySQL) SaveEmbedding(ctx context.Context, ref types.EntityRef, vec types.EmbeddingVector) error {
	ctx, span := m.startSpan(ctx, "MySQL.SaveEmbedding", "entity_embeddings", "INSERT_ON_DUPLICATE")
	defer span.End()

	data, err := json.Marshal(vec.Values)
	if err != nil {
		return fmt.Errorf("序列化向量失败: %w", err)
	}
	row := models.EntityEmbedding{
		EntityType:            string(ref.Type),
		EntityID:              ref.ID,
		VectorRepresentation:  data,
		Dimensions:            len(vec.Values),
		EmbeddingModelVersion: vec.ModelVersion,
		GeneratedAt:           vec.GeneratedAt.UTC(),
	}

	err = m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "entity_type"}, {Name: "entity_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"vector_representation", "dimensions", "embedding_model_version", "generated_at", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("保存向量失败: %w", err)
	}
	return nil
}

// RecordPermanentFailure 在同一事务中写入失败记录和发件箱消息
func (m *MySQL) RecordPermanentFailure(ctx context.Context, item types.FailedItem, modelVersion string, target OutboxTarget) (string, error) {
	ctx, span := m.startSpan(ctx, "MySQL.RecordPermanentFailure", "embedding_failures", "INSERT")
	defer span.End()

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("生成UUIDv7失败: %w", err)
	}
	failure := models.EmbeddingFailure{
		FailureID:    id.String(),
		EntityType:   string(item.EntityType),
		EntityID:     item.EntityID,
		Attempts:     item.Attempts,
		LastError:    item.LastError,
		ModelVersion: modelVersion,
		FailedAt:     item.FailedAt.UTC(),
	}
	payload, err := json.Marshal(types.EmbeddingFailedEvent{
		FailureID:    failure.FailureID,
		EntityType:   item.EntityType,
		EntityID:     item.EntityID,
		Attempts:     item.Attempts,
		LastError:    item.LastError,
		ModelVersion: modelVersion,
		FailedAt:     failure.FailedAt,
	})
	if err != nil {
		return "", fmt.Errorf("序列化失败事件失败: %w", err)
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&failure).Error; err != nil {
			return fmt.Errorf("写入失败记录失败: %w", err)
		}
		if target.Exchange == "" {
			return nil
		}
		msg := models.OutboxMessage{
			AggregateID:      failure.FailureID,
			EventType:        constants.EventEmbeddingFailed,
			Payload:          string(payload),
			TargetExchange:   target.Exchange,
			TargetRoutingKey: target.RoutingKey,
			Status:           models.OutboxStatusPending,
		}
		if err := tx.Create(&msg).Error; err != nil {
			return fmt.Errorf("写入发件箱失败: %w", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("failure.id", failure.FailureID))
	return failure.FailureID, nil
}

// ListEntitiesMissingEmbeddings 返回没有当前模型版本向量的实体ID。
// 岗位只统计在招岗位，limit <= 0 表示不限制
func (m *MySQL) ListEntitiesMissingEmbeddings(ctx context.Context, entityType types.EntityType, modelVersion string, limit int) ([]string, error) {
	var table, idColumn string
	switch entityType {
	case types.EntityResume:
		table, idColumn = "resumes", "resume_id"
	case types.EntityJob:
		table, idColumn = "jobs", "job_id"
	default:
		return nil, fmt.Errorf("未知的实体类型: %q", entityType)
	}

	ctx, span := m.startSpan(ctx, "MySQL.ListEntitiesMissingEmbeddings", table, "SELECT")
	defer span.End()

	query := m.db.WithContext(ctx).Table(table+" AS t").
		Joins("LEFT JOIN entity_embeddings e ON e.entity_type = ? AND e.entity_id = t."+idColumn+" AND e.embedding_model_version = ?",
			string(entityType), modelVersion).
		Where("e.id IS NULL").
		Order("t." + idColumn)
	if entityType == types.EntityJob {
		query = query.Where("t.status = ?", constants.JobStatusActive)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var ids []string
	if err := query.Pluck("t."+idColumn, &ids).Error; err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("查询缺失向量的实体失败: %w", err)
	}
	span.SetAttributes(attribute.Int("entities.count", len(ids)))
	return ids, nil
}

// SaveResume 写入或更新简历，供数据导入和测试使用
func (m *MySQL) SaveResume(ctx context.Context, resume *types.Resume) error {
	row, err := resumeToModel(resume)
	if err != nil {
		return err
	}
	return m.db.WithContext(ctx).Save(row).Error
}

// SaveJob 写入或更新岗位，供数据导入和测试使用
func (m *MySQL) SaveJob(ctx context.Context, job *types.Job) error {
	row, err := jobToModel(job)
	if err != nil {
		return err
	}
	return m.db.WithContext(ctx).Save(row).Error
}
