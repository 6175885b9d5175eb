// Package provider 定义补全/嵌入后端的能力契约，以及带健康状态的注册表。
//
// 所有后端仅通过 Provider 接口被编排核心消费；具体实现位于子包
// (openai、anthropic)，也可由调用方自行注入。
package provider

import (
	"context"
	"time"
)

// Capability 表示后端声明的能力类型。
type Capability string

const (
	// CapabilityCompletion 文本补全能力
	CapabilityCompletion Capability = "completion"
	// CapabilityEmbedding 文本向量化能力
	CapabilityEmbedding Capability = "embedding"
)

// CompletionRequest 补全请求。
// Context 是检索得到的记忆上下文块，随 Prompt 一起下发。
type CompletionRequest struct {
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	Context     string  `json:"context,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
}

// CompletionResult 补全结果。
// 调用要么产生完整结果，要么整体视为失败；不存在部分输出。
type CompletionResult struct {
	Text             string        `json:"text"`
	Provider         string        `json:"provider"`
	Model            string        `json:"model,omitempty"`
	Latency          time.Duration `json:"latency"`
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
}

// Provider 是补全/嵌入后端的最小能力契约。
// 不具备某项能力的实现应返回 types.ErrInvalidRequest。
type Provider interface {
	// Name 返回后端标识
	Name() string

	// GenerateCompletion 执行一次补全调用
	GenerateCompletion(ctx context.Context, req *CompletionRequest) (*CompletionResult, error)

	// EmbedText 将文本向量化
	EmbedText(ctx context.Context, text string) ([]float64, error)

	// HealthProbe 发起一次独立于用户流量的最小合成探活请求
	HealthProbe(ctx context.Context) error
}
