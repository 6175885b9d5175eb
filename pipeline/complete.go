package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/mindflow/provider"
	"github.com/BaSui01/mindflow/router"
	"github.com/BaSui01/mindflow/types"
)

// CompletionConfig 补全阶段配置。
type CompletionConfig struct {
	// SystemPrompt 基础系统提示词
	SystemPrompt string `yaml:"system_prompt"`
	// MaxTokens 单次补全的最大 token 数
	MaxTokens int `yaml:"max_tokens"`
	// Temperature 采样温度
	Temperature float32 `yaml:"temperature"`
}

// DefaultCompletionConfig 返回默认补全配置。
func DefaultCompletionConfig() CompletionConfig {
	return CompletionConfig{
		SystemPrompt: "You are a helpful assistant. Use the provided conversation memory when it is relevant, and never invent personal details that are not in the memory.",
		MaxTokens:    1024,
		Temperature:  0.7,
	}
}

// CompleteStage 补全阶段：通过回退路由器获得原始答案。
// 候选列表由注册表按健康+优先级即时计算。
type CompleteStage struct {
	registry *provider.Registry
	router   *router.FallbackRouter
	config   CompletionConfig
	logger   *zap.Logger
}

// NewCompleteStage 创建补全阶段。
func NewCompleteStage(registry *provider.Registry, fallback *router.FallbackRouter, config CompletionConfig, logger *zap.Logger) *CompleteStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxTokens <= 0 {
		config = DefaultCompletionConfig()
	}
	return &CompleteStage{
		registry: registry,
		router:   fallback,
		config:   config,
		logger:   logger.With(zap.String("stage", "complete")),
	}
}

func (s *CompleteStage) Name() string { return "complete" }

// Process 实现 Stage.Process。
func (s *CompleteStage) Process(ctx context.Context, ex *Exchange) error {
	candidates := s.registry.Candidates(provider.CapabilityCompletion, true)

	result, err := s.router.Execute(ctx, &provider.CompletionRequest{
		System:      s.config.SystemPrompt,
		Prompt:      ex.Request.Message,
		Context:     ex.PromptContext,
		MaxTokens:   s.config.MaxTokens,
		Temperature: s.config.Temperature,
	}, candidates)
	if err != nil {
		if e, ok := err.(*types.Error); ok {
			ex.Fail(e)
		} else {
			ex.Fail(types.NewError(types.ErrProviderUnavailable, "completion failed").WithCause(err))
		}
		return nil
	}

	ex.RouterResult = result
	ex.FinalText = result.Completion.Text
	ex.State = StateCompleted

	s.logger.Debug("completion obtained",
		zap.String("provider", result.ProviderUsed),
		zap.Bool("fallback_used", result.FallbackUsed),
		zap.Int("attempts", len(result.Attempts)))
	return nil
}

// Regenerate 以更严格的指令重新生成一次答案，供校验阶段使用。
func (s *CompleteStage) Regenerate(ctx context.Context, ex *Exchange, stricterInstruction string) (*router.Result, error) {
	candidates := s.registry.Candidates(provider.CapabilityCompletion, true)
	return s.router.Execute(ctx, &provider.CompletionRequest{
		System:      s.config.SystemPrompt + "\n" + stricterInstruction,
		Prompt:      ex.Request.Message,
		Context:     ex.PromptContext,
		MaxTokens:   s.config.MaxTokens,
		Temperature: 0,
	}, candidates)
}
