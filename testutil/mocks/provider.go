// Package mocks 提供补全后端与记忆存储的测试模拟实现。
//
// 支持固定响应、延迟注入与前 N 次失败场景。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/mindflow/provider"
)

// MockProviderCall 记录单次补全调用
type MockProviderCall struct {
	Request *provider.CompletionRequest
	Error   error
}

// MockProvider 是 provider.Provider 的模拟实现
type MockProvider struct {
	mu sync.Mutex

	name string

	// 响应配置
	response  string
	embedding []float64
	err       error
	probeErr  error

	// 行为控制
	delay       time.Duration
	failTimes   int  // 前 N 次调用返回 err，之后恢复成功
	failLimited bool // failTimes 是否生效（未设置时 err 始终生效）

	// 调用记录
	calls      []MockProviderCall
	embedCalls []string
	probeCount int
}

// NewMockProvider 创建新的 MockProvider
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		name:     name,
		response: "mock response",
	}
}

// WithResponse 设置固定补全内容
func (m *MockProvider) WithResponse(response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithEmbedding 设置固定嵌入向量
func (m *MockProvider) WithEmbedding(vec []float64) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embedding = vec
	return m
}

// WithError 设置所有调用返回的错误
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithProbeError 设置探活失败
func (m *MockProvider) WithProbeError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probeErr = err
	return m
}

// WithLatency 设置每次调用的模拟延迟
func (m *MockProvider) WithLatency(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// FailTimes 设置前 N 次调用失败（需配合 WithError），之后恢复成功
func (m *MockProvider) FailTimes(n int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failTimes = n
	m.failLimited = true
	return m
}

// Name 实现 provider.Provider
func (m *MockProvider) Name() string { return m.name }

// GenerateCompletion 实现 provider.Provider
func (m *MockProvider) GenerateCompletion(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResult, error) {
	m.mu.Lock()
	delay := m.delay
	err := m.currentErrLocked()
	response := m.response
	m.calls = append(m.calls, MockProviderCall{Request: req, Error: err})
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &provider.CompletionResult{
		Text:     response,
		Provider: m.name,
		Latency:  delay,
	}, nil
}

// EmbedText 实现 provider.Provider
func (m *MockProvider) EmbedText(ctx context.Context, text string) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embedCalls = append(m.embedCalls, text)
	if err := m.currentErrLocked(); err != nil {
		return nil, err
	}
	if m.embedding != nil {
		return m.embedding, nil
	}
	return []float64{0.1, 0.2, 0.3}, nil
}

// HealthProbe 实现 provider.Provider
func (m *MockProvider) HealthProbe(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probeCount++
	return m.probeErr
}

// currentErrLocked 返回本次调用应注入的错误，并消耗 failTimes 计数。
func (m *MockProvider) currentErrLocked() error {
	if m.err == nil {
		return nil
	}
	if !m.failLimited {
		return m.err
	}
	if m.failTimes > 0 {
		m.failTimes--
		return m.err
	}
	return nil
}

// CallCount 返回补全调用次数
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls 返回调用记录副本
func (m *MockProvider) Calls() []MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockProviderCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// EmbedCallCount 返回嵌入调用次数
func (m *MockProvider) EmbedCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.embedCalls)
}

// ProbeCount 返回探活次数
func (m *MockProvider) ProbeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.probeCount
}
