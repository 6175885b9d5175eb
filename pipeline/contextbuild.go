package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/mindflow/memory"
)

// KnowledgeFact 声明式知识库事实，随记忆一起进入提示上下文。
type KnowledgeFact struct {
	// Topic 触发词：查询命中才注入该事实
	Topic string `yaml:"topic"`
	// Statement 事实陈述
	Statement string `yaml:"statement"`
}

// ContextBuildConfig 上下文构建配置。
type ContextBuildConfig struct {
	// Facts 声明式知识库
	Facts []KnowledgeFact `yaml:"facts"`
}

// ContextBuildStage 上下文构建阶段。
// 合并记忆检索结果与命中的知识库事实，产出最终提示上下文。
// 记忆检索的降级告警透传到 Exchange。
type ContextBuildStage struct {
	retriever *memory.Retriever
	config    ContextBuildConfig
	logger    *zap.Logger
}

// NewContextBuildStage 创建上下文构建阶段。
func NewContextBuildStage(retriever *memory.Retriever, config ContextBuildConfig, logger *zap.Logger) *ContextBuildStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContextBuildStage{
		retriever: retriever,
		config:    config,
		logger:    logger.With(zap.String("stage", "context_build")),
	}
}

func (s *ContextBuildStage) Name() string { return "context_build" }

// Process 实现 Stage.Process。
func (s *ContextBuildStage) Process(ctx context.Context, ex *Exchange) error {
	memCtx := s.retriever.GetContext(ctx, ex.Request)
	ex.Memory = memCtx
	for _, w := range memCtx.Warnings {
		ex.Warn(w)
	}

	var sb strings.Builder
	if memCtx.Block != "" {
		sb.WriteString(memCtx.Block)
	}

	if facts := s.matchFacts(ex.Request.Message); len(facts) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("Known facts:\n")
		for _, f := range facts {
			sb.WriteString("- " + f + "\n")
		}
	}

	ex.PromptContext = sb.String()
	ex.State = StateContextBuilt
	return nil
}

func (s *ContextBuildStage) matchFacts(message string) []string {
	lower := strings.ToLower(message)
	matched := make([]string, 0)
	for _, f := range s.config.Facts {
		if f.Topic == "" || strings.Contains(lower, strings.ToLower(f.Topic)) {
			matched = append(matched, f.Statement)
		}
	}
	return matched
}
