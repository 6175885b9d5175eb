// Package pipeline 实现请求的五段式门控管线：
// 输入分类 → 上下文构建 → 补全 → 响应校验 → 个性化 → 监控记录。
//
// 每个阶段实现统一的 Stage 接口，由 Chain 串联，可独立测试与重排。
// 任一阶段失败进入 Error 吸收态，跳过剩余阶段；监控阶段始终执行。
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mindflow/memory"
	"github.com/BaSui01/mindflow/router"
	"github.com/BaSui01/mindflow/types"
)

// State 请求在管线中的状态。
type State string

const (
	StateReceived     State = "received"
	StateClassified   State = "classified"
	StateContextBuilt State = "context_built"
	StateCompleted    State = "completed"
	StateValidated    State = "validated"
	StatePersonalized State = "personalized"
	StateRecorded     State = "recorded"
	StateDone         State = "done"
	StateError        State = "error"
)

// Category 输入分类结果。
type Category string

const (
	CategoryGeneral       Category = "general"
	CategoryPersonal      Category = "personal"
	CategoryTimeSensitive Category = "time_sensitive"
	CategoryDisallowed    Category = "disallowed"
)

// Exchange 单个请求流经管线的共享状态。
type Exchange struct {
	Request  *types.OrchestrationRequest
	State    State
	Category Category

	// Memory 检索产出（上下文构建阶段填充）
	Memory *memory.Context
	// PromptContext 最终下发给后端的上下文（记忆 + 知识库事实）
	PromptContext string

	// RouterResult 路由执行结果（补全阶段填充）
	RouterResult *router.Result

	// FinalText 经校验/个性化后的最终答案
	FinalText string
	Verdict   types.Verdict
	Hedged    bool

	Warnings  []string
	Err       *types.Error
	StartedAt time.Time
}

// NewExchange 创建初始状态的 Exchange。
func NewExchange(req *types.OrchestrationRequest) *Exchange {
	return &Exchange{
		Request:   req,
		State:     StateReceived,
		StartedAt: time.Now(),
	}
}

// Fail 进入 Error 吸收态。
func (ex *Exchange) Fail(err *types.Error) {
	ex.Err = err
	ex.State = StateError
}

// Warn 追加一条降级告警（去重）。
func (ex *Exchange) Warn(warning string) {
	for _, w := range ex.Warnings {
		if w == warning {
			return
		}
	}
	ex.Warnings = append(ex.Warnings, warning)
}

// ReferenceIDs 返回实际进入上下文的记忆记录 ID。
func (ex *Exchange) ReferenceIDs() []string {
	if ex.Memory == nil {
		return nil
	}
	return ex.Memory.ReferenceIDs
}

// Latency 返回请求至今耗时。
func (ex *Exchange) Latency() time.Duration {
	return time.Since(ex.StartedAt)
}

// Stage 管线阶段接口。
// 实现通过 ex.Fail 短路管线；返回 error 仅用于不可预期的内部错误。
type Stage interface {
	// Name 返回阶段名
	Name() string

	// Process 处理并推进 Exchange
	Process(ctx context.Context, ex *Exchange) error
}

// Chain 阶段链。final 阶段（监控）无论成败始终执行。
type Chain struct {
	stages []Stage
	final  Stage
	logger *zap.Logger
}

// NewChain 创建阶段链。
func NewChain(stages []Stage, final Stage, logger *zap.Logger) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{
		stages: stages,
		final:  final,
		logger: logger.With(zap.String("component", "pipeline")),
	}
}

// Run 依序执行各阶段。进入 Error 态后跳过剩余阶段；
// final 阶段总是执行，保证成功与失败都被记录。
func (c *Chain) Run(ctx context.Context, ex *Exchange) {
	for _, stage := range c.stages {
		if ex.Err != nil {
			break
		}
		if err := stage.Process(ctx, ex); err != nil {
			c.logger.Error("pipeline stage failed",
				zap.String("stage", stage.Name()),
				zap.Error(err))
			ex.Fail(types.NewError(types.ErrInternalError, "stage "+stage.Name()+" failed").WithCause(err))
		}
	}

	if c.final != nil {
		if err := c.final.Process(ctx, ex); err != nil {
			c.logger.Error("monitoring stage failed", zap.Error(err))
		}
	}

	if ex.Err == nil {
		ex.State = StateDone
	}
}
