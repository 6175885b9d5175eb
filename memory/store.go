package memory

import (
	"context"
	"time"
)

// QueryInput 一次混合检索的输入。
// Embedding 为空时退化为纯词面检索（嵌入不可用的降级路径）。
type QueryInput struct {
	UserID        string
	Embedding     []float64
	Text          string
	Limit         int
	MinSimilarity float64
}

// Store 记忆持久化契约。
// Append 是唯一写入路径；实现必须保证：
//   - 相同自然键幂等（重试不产生重复记录）
//   - 同一用户的并发 Append 串行化，跨用户互不干扰
type Store interface {
	// Append 追加一条记录，返回记录 ID（幂等命中时返回已存在记录的 ID）
	Append(ctx context.Context, record *Record) (string, error)

	// Query 执行混合检索，结果按组合得分降序
	Query(ctx context.Context, input QueryInput) (*RetrievalResult, error)

	// SweepExpired 将 before 之前过期的记录置为 inactive，返回处理条数。
	// 只做软删除；由后台调度执行，绝不内联在请求路径上。
	SweepExpired(ctx context.Context, before time.Time) (int64, error)
}
