// Package orchestrator 组装编排引擎：请求校验、幂等缓存、
// 管线执行、响应合成与异步记忆写入。
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mindflow/internal/idempotency"
	"github.com/BaSui01/mindflow/internal/metrics"
	"github.com/BaSui01/mindflow/memory"
	"github.com/BaSui01/mindflow/pipeline"
	"github.com/BaSui01/mindflow/types"
)

// ===================================================================
// ⚙️ 引擎配置
// ===================================================================

// Config 引擎配置
type Config struct {
	// RequestTimeout 单个请求的总截止时长（含全部后端尝试）
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// AppendTimeout 异步记忆写入的独立超时（不挂在请求生命周期上）
	AppendTimeout time.Duration `yaml:"append_timeout"`
	// IdempotencyTTL 幂等缓存保留时长；0 表示禁用幂等缓存
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
	// MaxMessageLength 入站消息长度上限
	MaxMessageLength int `yaml:"max_message_length"`
}

// DefaultConfig 返回默认引擎配置
func DefaultConfig() Config {
	return Config{
		RequestTimeout:   30 * time.Second,
		AppendTimeout:    5 * time.Second,
		IdempotencyTTL:   10 * time.Minute,
		MaxMessageLength: 8192,
	}
}

// nameFactPattern 用于写入时的重要性推断：名字陈述视为高价值个人事实。
var nameFactPattern = regexp.MustCompile(`(?i)\bmy name is \p{L}+`)

// Engine 编排引擎。对外的唯一入口是 Orchestrate。
type Engine struct {
	chain     *pipeline.Chain
	store     memory.Store
	embedder  memory.Embedder
	idem      idempotency.Manager
	collector *metrics.Collector
	config    Config
	logger    *zap.Logger

	// appendDone 测试钩子：每完成一次异步写入调用一次
	appendDone func()
}

// NewEngine 创建编排引擎。
// store 可为 nil（无记忆模式）；embedder、idem、collector 均可选。
func NewEngine(chain *pipeline.Chain, store memory.Store, embedder memory.Embedder, idem idempotency.Manager, collector *metrics.Collector, config Config, logger *zap.Logger) (*Engine, error) {
	if chain == nil {
		return nil, fmt.Errorf("pipeline chain is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if config.AppendTimeout <= 0 {
		config.AppendTimeout = DefaultConfig().AppendTimeout
	}
	if config.MaxMessageLength <= 0 {
		config.MaxMessageLength = DefaultConfig().MaxMessageLength
	}
	return &Engine{
		chain:     chain,
		store:     store,
		embedder:  embedder,
		idem:      idem,
		collector: collector,
		config:    config,
		logger:    logger.With(zap.String("component", "orchestrator")),
	}, nil
}

// Orchestrate 处理一次编排请求。总是返回非 nil 响应；
// 终止性错误通过响应的 Error 字段返回，error 仅用于 ctx 级联取消。
func (e *Engine) Orchestrate(ctx context.Context, req *types.OrchestrationRequest) *types.OrchestrationResponse {
	started := time.Now()

	if err := e.validateRequest(req); err != nil {
		return types.NewErrorResponse(err, time.Since(started))
	}

	// 请求级截止时间：后续所有后端尝试共享该预算
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.RequestTimeout)
		defer cancel()
	}

	// 幂等缓存命中直接返回，不触发管线与记忆写入
	idemKey := ""
	if e.idem != nil && e.config.IdempotencyTTL > 0 {
		key, err := e.idem.GenerateKey(req.UserID, req.ConversationID, req.Message)
		if err == nil {
			idemKey = key
			if cached, found, err := e.idem.Get(ctx, key); err == nil && found {
				var resp types.OrchestrationResponse
				if json.Unmarshal(cached, &resp) == nil {
					resp.LatencyMs = time.Since(started).Milliseconds()
					return &resp
				}
			}
		}
	}

	ex := pipeline.NewExchange(req)
	e.chain.Run(ctx, ex)

	resp := e.composeResponse(ex, started)

	if ex.Err == nil {
		if idemKey != "" {
			if err := e.idem.Set(ctx, idemKey, resp, e.config.IdempotencyTTL); err != nil {
				e.logger.Warn("idempotency store failed", zap.Error(err))
			}
		}
		// 异步写入记忆；写入失败只影响后续检索，不影响本次响应
		e.appendMemoryAsync(ex)
	}

	return resp
}

// validateRequest 入站校验。失败即 REJECTED_INPUT，不触达任何下游。
func (e *Engine) validateRequest(req *types.OrchestrationRequest) *types.Error {
	if req == nil {
		return types.NewError(types.ErrRejectedInput, "request is required")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return types.NewError(types.ErrRejectedInput, "userId is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return types.NewError(types.ErrRejectedInput, "message is required")
	}
	if len(req.Message) > e.config.MaxMessageLength {
		return types.NewError(types.ErrRejectedInput,
			fmt.Sprintf("message exceeds %d characters", e.config.MaxMessageLength))
	}
	if req.ContextLevel != "" && !req.ContextLevel.Valid() {
		return types.NewError(types.ErrRejectedInput,
			fmt.Sprintf("unknown contextLevel %q", req.ContextLevel))
	}
	return nil
}

// composeResponse 从管线终态合成响应。
// MemoryReferences 只包含真正进入上下文的记录 ID。
func (e *Engine) composeResponse(ex *pipeline.Exchange, started time.Time) *types.OrchestrationResponse {
	latency := time.Since(started)

	if ex.Err != nil {
		resp := types.NewErrorResponse(ex.Err, latency)
		resp.Warnings = ex.Warnings
		return resp
	}

	resp := &types.OrchestrationResponse{
		Content:          ex.FinalText,
		MemoryReferences: ex.ReferenceIDs(),
		LatencyMs:        latency.Milliseconds(),
		Verdict:          ex.Verdict,
		Warnings:         ex.Warnings,
	}
	if ex.RouterResult != nil {
		resp.ProviderUsed = ex.RouterResult.ProviderUsed
		resp.FallbackUsed = ex.RouterResult.FallbackUsed
	}
	return resp
}

// appendMemoryAsync 在独立 goroutine 中写入本轮对话。
// 写入有独立超时，不受请求 ctx 取消影响；Store 自身保证
// 同用户串行化与自然键幂等，这里不重复加锁。
func (e *Engine) appendMemoryAsync(ex *pipeline.Exchange) {
	if e.store == nil {
		return
	}
	req := ex.Request
	content := fmt.Sprintf("User: %s\nAssistant: %s", req.Message, ex.FinalText)
	record := &memory.Record{
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Content:        content,
		NaturalKey:     memory.ComputeNaturalKey(req.UserID, req.ConversationID, req.Message),
		Importance:     e.inferImportance(ex),
	}

	go func() {
		defer func() {
			if e.appendDone != nil {
				e.appendDone()
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), e.config.AppendTimeout)
		defer cancel()

		if e.embedder != nil {
			if vec, err := e.embedder.EmbedText(ctx, content); err == nil {
				record.Embedding = vec
			} else {
				e.logger.Warn("append embedding failed, storing without vector",
					zap.String("user_id", req.UserID),
					zap.Error(err))
			}
		}

		id, err := e.store.Append(ctx, record)
		if e.collector != nil {
			e.collector.RecordMemoryAppend(err == nil)
		}
		if err != nil {
			e.logger.Warn("memory append failed",
				zap.String("user_id", req.UserID),
				zap.Error(err))
			return
		}
		e.logger.Debug("memory appended",
			zap.String("user_id", req.UserID),
			zap.String("record_id", id))
	}()
}

// inferImportance 写入重要性推断：
// 名字等身份事实最高，个人类对话次之，普通对话默认中档。
func (e *Engine) inferImportance(ex *pipeline.Exchange) int {
	if nameFactPattern.MatchString(ex.Request.Message) {
		return 5
	}
	if ex.Category == pipeline.CategoryPersonal {
		return 4
	}
	return 3
}
