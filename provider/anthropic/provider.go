// Package anthropic 实现基于 Anthropic Claude API 的补全后端。
//
// Claude 不提供嵌入接口，EmbedText 返回 INVALID_REQUEST；
// 需要嵌入能力时配置 OpenAI 后端。
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/BaSui01/mindflow/provider"
	"github.com/BaSui01/mindflow/types"
)

const providerName = "anthropic"

// Config Anthropic 后端配置。
type Config struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// Provider 实现 provider.Provider。
type Provider struct {
	client anthropic.Client
	model  anthropic.Model
	logger *zap.Logger
}

// New 创建 Anthropic 后端。
func New(cfg Config, logger *zap.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := anthropic.Model(cfg.Model)
	if cfg.Model == "" {
		model = anthropic.ModelClaudeSonnet4_0
	}

	return &Provider{
		client: anthropic.NewClient(opts...),
		model:  model,
		logger: logger.With(zap.String("provider", providerName)),
	}, nil
}

// Name 实现 provider.Provider。
func (p *Provider) Name() string { return providerName }

// GenerateCompletion 实现 provider.Provider。
// system 提示与上下文块合并进 System 字段单独传递。
func (p *Provider) GenerateCompletion(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResult, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	system := req.System
	if req.Context != "" {
		if system != "" {
			system += "\n\n"
		}
		system += "Context:\n" + req.Context
	}

	params := anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}

	start := time.Now()
	resp, err := p.client.Messages.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		return nil, mapError(err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &provider.CompletionResult{
		Text:             text,
		Provider:         providerName,
		Model:            string(resp.Model),
		Latency:          latency,
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}, nil
}

// EmbedText 实现 provider.Provider。Claude 无嵌入接口。
func (p *Provider) EmbedText(ctx context.Context, text string) ([]float64, error) {
	return nil, types.NewError(types.ErrInvalidRequest, "anthropic does not provide embeddings").
		WithProvider(providerName)
}

// HealthProbe 实现 provider.Provider：最小合成补全请求。
func (p *Provider) HealthProbe(ctx context.Context) error {
	_, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	if err != nil {
		return mapError(err)
	}
	return nil
}

// mapError 将 SDK 错误映射为统一错误分类。
// 529 是 Claude 特有的过载状态码，按可重试的上游错误处理。
func mapError(err error) *types.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrUpstreamTimeout, err.Error()).
			WithProvider(providerName).WithRetryable(true)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return types.NewError(types.ErrRateLimited, apiErr.Error()).
				WithProvider(providerName).WithHTTPStatus(apiErr.StatusCode).WithRetryable(true)
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return types.NewError(types.ErrUnauthorized, apiErr.Error()).
				WithProvider(providerName).WithHTTPStatus(apiErr.StatusCode)
		case apiErr.StatusCode >= 500:
			return types.NewError(types.ErrUpstreamError, apiErr.Error()).
				WithProvider(providerName).WithHTTPStatus(apiErr.StatusCode).WithRetryable(true)
		default:
			return types.NewError(types.ErrInvalidRequest, apiErr.Error()).
				WithProvider(providerName).WithHTTPStatus(apiErr.StatusCode)
		}
	}

	return types.NewError(types.ErrUpstreamError, err.Error()).
		WithProvider(providerName).WithRetryable(true).WithCause(err)
}
