// Package openai 实现基于 OpenAI API 的补全/嵌入后端。
package openai

import (
	"context"
	"errors"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/BaSui01/mindflow/provider"
	"github.com/BaSui01/mindflow/types"
)

const providerName = "openai"

// Config OpenAI 后端配置。
// APIKey 必填；BaseURL 留空使用官方地址，可指向任意兼容网关。
type Config struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embedding_model"`
}

// Provider 实现 provider.Provider。
type Provider struct {
	client         *openai.Client
	model          string
	embeddingModel openai.EmbeddingModel
	logger         *zap.Logger
}

// New 创建 OpenAI 后端。
func New(cfg Config, logger *zap.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	embeddingModel := openai.EmbeddingModel(cfg.EmbeddingModel)
	if cfg.EmbeddingModel == "" {
		embeddingModel = openai.SmallEmbedding3
	}

	return &Provider{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          model,
		embeddingModel: embeddingModel,
		logger:         logger.With(zap.String("provider", providerName)),
	}, nil
}

// Name 实现 provider.Provider。
func (p *Provider) Name() string { return providerName }

// GenerateCompletion 实现 provider.Provider。
func (p *Provider) GenerateCompletion(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResult, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 3)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	if req.Context != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: "Context:\n" + req.Context,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	latency := time.Since(start)
	if err != nil {
		return nil, mapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, types.NewError(types.ErrUpstreamError, "no choices returned").
			WithProvider(providerName).WithRetryable(true)
	}

	return &provider.CompletionResult{
		Text:             resp.Choices[0].Message.Content,
		Provider:         providerName,
		Model:            resp.Model,
		Latency:          latency,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// EmbedText 实现 provider.Provider。
func (p *Provider) EmbedText(ctx context.Context, text string) ([]float64, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: p.embeddingModel,
	})
	if err != nil {
		return nil, mapError(err)
	}
	if len(resp.Data) == 0 {
		return nil, types.NewError(types.ErrEmbeddingError, "no embedding data returned").
			WithProvider(providerName)
	}

	embedding32 := resp.Data[0].Embedding
	embedding64 := make([]float64, len(embedding32))
	for i, v := range embedding32 {
		embedding64[i] = float64(v)
	}
	return embedding64, nil
}

// HealthProbe 实现 provider.Provider：最小合成补全请求。
func (p *Provider) HealthProbe(ctx context.Context) error {
	_, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     p.model,
		Messages:  []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	if err != nil {
		return mapError(err)
	}
	return nil
}

// mapError 将 SDK 错误映射为统一错误分类。
func mapError(err error) *types.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrUpstreamTimeout, err.Error()).
			WithProvider(providerName).WithRetryable(true)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return types.NewError(types.ErrRateLimited, apiErr.Message).
				WithProvider(providerName).WithHTTPStatus(apiErr.HTTPStatusCode).WithRetryable(true)
		case apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden:
			return types.NewError(types.ErrUnauthorized, apiErr.Message).
				WithProvider(providerName).WithHTTPStatus(apiErr.HTTPStatusCode)
		case apiErr.HTTPStatusCode >= 500:
			return types.NewError(types.ErrUpstreamError, apiErr.Message).
				WithProvider(providerName).WithHTTPStatus(apiErr.HTTPStatusCode).WithRetryable(true)
		default:
			return types.NewError(types.ErrInvalidRequest, apiErr.Message).
				WithProvider(providerName).WithHTTPStatus(apiErr.HTTPStatusCode)
		}
	}

	return types.NewError(types.ErrUpstreamError, err.Error()).
		WithProvider(providerName).WithRetryable(true).WithCause(err)
}
