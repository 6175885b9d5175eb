// Package router 实现带截止时间感知的有序回退路由。
//
// 单个请求对候选后端严格串行尝试，不做并发投机调用，
// 避免重复计费与重复副作用。
package router

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mindflow/internal/metrics"
	"github.com/BaSui01/mindflow/provider"
	"github.com/BaSui01/mindflow/types"
)

// Config 回退路由配置。
type Config struct {
	// MinAttemptTimeout 单次尝试的超时下限，避免靠后的候选被饿死
	MinAttemptTimeout time.Duration `yaml:"min_attempt_timeout"`
	// RetryBackoff 同后端单次重试前的固定退避
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// DefaultConfig 返回默认路由配置。
func DefaultConfig() Config {
	return Config{
		MinAttemptTimeout: 2 * time.Second,
		RetryBackoff:      200 * time.Millisecond,
	}
}

// Attempt 记录一次候选尝试，用于诊断。
type Attempt struct {
	Provider string        `json:"provider"`
	Latency  time.Duration `json:"latency"`
	Retried  bool          `json:"retried"`
	Err      error         `json:"-"`
}

// Result 路由执行结果。
type Result struct {
	Completion   *provider.CompletionResult
	ProviderUsed string
	FallbackUsed bool
	Attempts     []Attempt
}

// FallbackRouter 按健康+优先级顺序执行候选后端的回退路由器。
type FallbackRouter struct {
	registry  *provider.Registry
	config    Config
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewFallbackRouter 创建回退路由器。
func NewFallbackRouter(registry *provider.Registry, config Config, logger *zap.Logger) *FallbackRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MinAttemptTimeout <= 0 {
		config.MinAttemptTimeout = 2 * time.Second
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = 200 * time.Millisecond
	}
	return &FallbackRouter{
		registry: registry,
		config:   config,
		logger:   logger.With(zap.String("component", "fallback_router")),
	}
}

// WithCollector 注入指标收集器，逐次记录后端尝试结果与耗时。
func (r *FallbackRouter) WithCollector(c *metrics.Collector) *FallbackRouter {
	r.collector = c
	return r
}

// Execute 依序尝试候选后端，直到成功或候选耗尽。
//
// 每次尝试的超时为 剩余截止时间/剩余候选数，下限 MinAttemptTimeout；
// 截止时间一旦越过立即返回 DeadlineExceeded，不再继续回退。
// 每次尝试（成功或失败）都会向注册表上报结果。
func (r *FallbackRouter) Execute(ctx context.Context, req *provider.CompletionRequest, candidates []provider.Candidate) (*Result, error) {
	if len(candidates) == 0 {
		return nil, types.NewError(types.ErrProviderUnavailable, "no candidate providers available")
	}

	deadline, hasDeadline := ctx.Deadline()
	result := &Result{Attempts: make([]Attempt, 0, len(candidates))}

	for i, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, r.deadlineError(result)
		}

		attemptTimeout := r.attemptTimeout(deadline, hasDeadline, len(candidates)-i)
		if hasDeadline && attemptTimeout <= 0 {
			return nil, r.deadlineError(result)
		}

		completion, attempt := r.attemptProvider(ctx, cand, req, attemptTimeout)
		result.Attempts = append(result.Attempts, attempt)

		if completion != nil {
			result.Completion = completion
			result.ProviderUsed = cand.Descriptor.ID
			result.FallbackUsed = i > 0
			return result, nil
		}

		// 请求级截止时间越过：不再尝试剩余候选
		if ctx.Err() != nil {
			return nil, r.deadlineError(result)
		}

		r.logger.Warn("candidate failed, falling back",
			zap.String("provider", cand.Descriptor.ID),
			zap.Int("attempt", i),
			zap.Error(attempt.Err))
	}

	return nil, r.exhaustedError(result)
}

// attemptProvider 对单个候选执行调用，必要时同后端重试一次。
func (r *FallbackRouter) attemptProvider(ctx context.Context, cand provider.Candidate, req *provider.CompletionRequest, timeout time.Duration) (*provider.CompletionResult, Attempt) {
	attempt := Attempt{Provider: cand.Descriptor.ID}

	completion, latency, err := r.call(ctx, cand, req, timeout)
	attempt.Latency = latency
	if err == nil {
		return completion, attempt
	}
	attempt.Err = err

	// 瞬时网络错误：同后端小退避后重试一次，避免单次抖动惩罚后端
	if isTransientNetworkError(err) && ctx.Err() == nil {
		select {
		case <-ctx.Done():
			return nil, attempt
		case <-time.After(r.config.RetryBackoff):
		}

		attempt.Retried = true
		completion, latency, err = r.call(ctx, cand, req, timeout)
		attempt.Latency += latency
		if err == nil {
			attempt.Err = nil
			return completion, attempt
		}
		attempt.Err = err
	}

	return nil, attempt
}

// call 执行一次带超时的调用并上报结果。
func (r *FallbackRouter) call(ctx context.Context, cand provider.Candidate, req *provider.CompletionRequest, timeout time.Duration) (*provider.CompletionResult, time.Duration, error) {
	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	completion, err := cand.Provider.GenerateCompletion(callCtx, req)
	latency := time.Since(start)

	if err == nil && (completion == nil || completion.Text == "") {
		// 不返回部分/空输出：按整体失败处理
		err = types.NewError(types.ErrUpstreamError, "provider returned empty completion").
			WithProvider(cand.Descriptor.ID).WithRetryable(true)
	}

	r.registry.ReportOutcome(cand.Descriptor.ID, provider.Outcome{
		Success:     err == nil,
		RateLimited: types.GetErrorKind(err) == types.ErrRateLimited,
		Latency:     latency,
		Err:         err,
	})

	if r.collector != nil {
		status := "success"
		if err != nil {
			status = string(types.GetErrorKind(err))
		}
		r.collector.RecordProviderAttempt(cand.Descriptor.ID, status, latency)
	}

	return completion, latency, err
}

// attemptTimeout 计算单次尝试超时: 剩余时间/剩余候选数，下限 MinAttemptTimeout。
func (r *FallbackRouter) attemptTimeout(deadline time.Time, hasDeadline bool, remaining int) time.Duration {
	if !hasDeadline {
		return 0
	}
	left := time.Until(deadline)
	if left <= 0 {
		return 0
	}
	per := left / time.Duration(remaining)
	if per < r.config.MinAttemptTimeout {
		per = r.config.MinAttemptTimeout
	}
	if per > left {
		per = left
	}
	return per
}

func (r *FallbackRouter) deadlineError(result *Result) *types.Error {
	return types.NewError(types.ErrDeadlineExceeded,
		fmt.Sprintf("request deadline exceeded after %d attempts", len(result.Attempts)))
}

func (r *FallbackRouter) exhaustedError(result *Result) *types.Error {
	parts := make([]string, 0, len(result.Attempts))
	for _, a := range result.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Provider, a.Err))
	}
	return types.NewError(types.ErrProviderUnavailable,
		"all candidate providers failed: "+strings.Join(parts, "; "))
}

// isTransientNetworkError 判断是否为可同后端重试的瞬时网络错误。
func isTransientNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if e, ok := err.(*types.Error); ok {
		return e.Retryable && e.Kind == types.ErrUpstreamError
	}
	return false
}
