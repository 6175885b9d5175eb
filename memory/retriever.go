package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mindflow/internal/metrics"
	"github.com/BaSui01/mindflow/types"
)

// Embedder 查询向量化能力。编排层负责挑选具备嵌入能力的后端注入。
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float64, error)
}

// LevelParams 单个上下文档位的检索参数。
type LevelParams struct {
	// Limit 最大返回记录数
	Limit int `yaml:"limit"`
	// MinSimilarity 相似度准入下限
	MinSimilarity float64 `yaml:"min_similarity"`
	// CharBudget 格式化上下文块的总字符预算
	CharBudget int `yaml:"char_budget"`
}

// RetrieverConfig 检索器配置。
type RetrieverConfig struct {
	// Minimal 最小档位：只取最相关的极少量记录
	Minimal LevelParams `yaml:"minimal"`
	// Balanced 平衡档位：一般查询的默认档位，阈值偏紧，
	// 避免无关个人信息注入普通回答
	Balanced LevelParams `yaml:"balanced"`
	// Comprehensive 全面档位：个人类查询使用，召回优先于精确
	Comprehensive LevelParams `yaml:"comprehensive"`
	// QueryTimeout 单次检索超时
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// DefaultRetrieverConfig 返回默认检索配置。
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		Minimal:       LevelParams{Limit: 3, MinSimilarity: 0.75, CharBudget: 1000},
		Balanced:      LevelParams{Limit: 5, MinSimilarity: 0.6, CharBudget: 2000},
		Comprehensive: LevelParams{Limit: 10, MinSimilarity: 0.35, CharBudget: 4000},
		QueryTimeout:  3 * time.Second,
	}
}

// Context 检索产出：结果 + 格式化上下文块 + 降级告警。
type Context struct {
	Result *RetrievalResult
	// Block 可直接拼入下游补全请求的有界上下文块
	Block string
	// ReferenceIDs 实际进入上下文块的记录 ID
	ReferenceIDs []string
	// Warnings 降级告警（记忆不可用 / 嵌入不可用）
	Warnings []string
}

// Retriever 按查询与用户范围产出有界记忆上下文。
// 记忆是增强而非硬依赖：存储或嵌入失败都只降级，不中断请求。
type Retriever struct {
	store     Store
	embedder  Embedder
	config    RetrieverConfig
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewRetriever 创建检索器。embedder 可为 nil（纯词面模式）。
func NewRetriever(store Store, embedder Embedder, config RetrieverConfig, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Balanced.Limit == 0 {
		config = DefaultRetrieverConfig()
	}
	return &Retriever{
		store:    store,
		embedder: embedder,
		config:   config,
		logger:   logger.With(zap.String("component", "memory_retriever")),
	}
}

// WithCollector 注入指标收集器，记录每次记忆检索耗时。
func (r *Retriever) WithCollector(c *metrics.Collector) *Retriever {
	r.collector = c
	return r
}

// GetContext 为请求检索记忆上下文。
//
// 个人类查询强制使用 comprehensive 档位（召回优先）；
// 显式 contextLevel 提示优先于该推断。
func (r *Retriever) GetContext(ctx context.Context, req *types.OrchestrationRequest) *Context {
	level := r.resolveLevel(req)
	params := r.levelParams(level)

	out := &Context{Result: &RetrievalResult{}}

	// 未配置存储（记忆禁用）时返回空上下文
	if r.store == nil {
		return out
	}

	queryCtx := ctx
	if r.config.QueryTimeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, r.config.QueryTimeout)
		defer cancel()
	}

	var embedding []float64
	if r.embedder != nil {
		var err error
		embedding, err = r.embedder.EmbedText(queryCtx, req.Message)
		if err != nil {
			// 嵌入失败：降级到纯词面检索
			r.logger.Warn("query embedding failed, falling back to keyword search",
				zap.String("user_id", req.UserID),
				zap.Error(err))
			out.Warnings = append(out.Warnings, string(types.ErrEmbeddingError))
			embedding = nil
		}
	}

	queryStart := time.Now()
	result, err := r.store.Query(queryCtx, QueryInput{
		UserID:        req.UserID,
		Embedding:     embedding,
		Text:          req.Message,
		Limit:         params.Limit,
		MinSimilarity: params.MinSimilarity,
	})
	if r.collector != nil {
		r.collector.RecordMemoryQuery(time.Since(queryStart))
	}
	if err != nil {
		// 存储失败：返回空结果而不是传播错误
		r.logger.Warn("memory query failed, continuing without memory",
			zap.String("user_id", req.UserID),
			zap.Error(err))
		out.Warnings = append(out.Warnings, string(types.ErrMemoryUnavailable))
		return out
	}

	out.Result = result
	out.Block, out.ReferenceIDs = r.formatContext(result, params)

	r.logger.Debug("memory context built",
		zap.String("user_id", req.UserID),
		zap.String("level", string(level)),
		zap.Int("found", result.Found),
		zap.Int("referenced", len(out.ReferenceIDs)),
		zap.Float64("max_similarity", result.MaxSimilarity))
	return out
}

func (r *Retriever) resolveLevel(req *types.OrchestrationRequest) types.ContextLevel {
	if req.ContextLevel.Valid() {
		return req.ContextLevel
	}
	if req.IsPersonalQuery {
		return types.ContextComprehensive
	}
	return types.ContextBalanced
}

func (r *Retriever) levelParams(level types.ContextLevel) LevelParams {
	switch level {
	case types.ContextMinimal:
		return r.config.Minimal
	case types.ContextComprehensive:
		return r.config.Comprehensive
	default:
		return r.config.Balanced
	}
}

// formatContext 将命中记录格式化为有界上下文块。
// 结果已按组合得分降序；超出字符预算时先丢弃得分最低的记录。
func (r *Retriever) formatContext(result *RetrievalResult, params LevelParams) (string, []string) {
	if len(result.Records) == 0 {
		return "", nil
	}

	var sb strings.Builder
	ids := make([]string, 0, len(result.Records))
	used := 0

	for _, sr := range result.Records {
		line := fmt.Sprintf("- [memory %s] %s\n", sr.Record.ID, sr.Record.Content)
		if params.CharBudget > 0 && used+len(line) > params.CharBudget {
			break
		}
		sb.WriteString(line)
		used += len(line)
		ids = append(ids, sr.Record.ID)
	}

	if len(ids) == 0 {
		return "", nil
	}
	return "Relevant prior conversation memory:\n" + sb.String(), ids
}
