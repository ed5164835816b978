package constants

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
// 队列的 key 带 hash tag {embedding:queue}，Lua 脚本涉及的 key 在集群下落在同一个 slot
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// EmbeddingModulePrefix 向量生成模块
	EmbeddingModulePrefix = "embedding"
	// MatchModulePrefix 匹配模块
	MatchModulePrefix = "match"

	// EntityQueue 队列实体
	EntityQueue = "queue"
	// EntityVector 向量实体
	EntityVector = "vector"

	// embeddingQueueTag 队列 key 的公共部分
	embeddingQueueTag = AppPrefix + ":{" + EmbeddingModulePrefix + ":" + EntityQueue + "}"

	// KeyEmbeddingQueuePending 待处理条目 (ZSET)，score 由优先级档位和入队序号组成
	// 格式: app:{embedding:queue}:pending
	KeyEmbeddingQueuePending = embeddingQueueTag + ":pending"

	// KeyEmbeddingQueueInFlight 正在处理的条目 (SET)
	// 格式: app:{embedding:queue}:inflight
	KeyEmbeddingQueueInFlight = embeddingQueueTag + ":inflight"

	// KeyEmbeddingQueueItemPrefix 条目详情 (HASH) 前缀，后接 {entityType}:{entityID}
	// 格式: app:{embedding:queue}:item:{entityType}:{entityID}
	KeyEmbeddingQueueItemPrefix = embeddingQueueTag + ":item:"

	// KeyEmbeddingQueueFailed 最近的永久失败记录 (LIST)，每条为 member|attempts|failed_at_ms|reason
	// 格式: app:{embedding:queue}:failed
	KeyEmbeddingQueueFailed = embeddingQueueTag + ":failed"

	// KeyEmbeddingQueueFailedCount 永久失败累计数 (STRING)
	// 格式: app:{embedding:queue}:failed_count
	KeyEmbeddingQueueFailedCount = embeddingQueueTag + ":failed_count"

	// KeyEmbeddingQueueSeq 入队序号计数器 (STRING)
	// 格式: app:{embedding:queue}:seq
	KeyEmbeddingQueueSeq = embeddingQueueTag + ":seq"

	// KeyEntityVector 简历/岗位向量缓存 (HASH: vector, model_version, generated_at)
	// 格式: app:match:vector:{entityType}:{entityID}
	KeyEntityVector = AppPrefix + ":" + MatchModulePrefix + ":" + EntityVector + ":%s:%s"
)
