package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mindflow/provider"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthHandler 健康检查处理器
type HealthHandler struct {
	registry *provider.Registry
	logger   *zap.Logger
	checks   []HealthCheck
	mu       sync.RWMutex
}

// HealthCheck 健康检查接口
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status    string                    `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp time.Time                 `json:"timestamp"`
	Version   string                    `json:"version,omitempty"`
	Checks    map[string]CheckResult    `json:"checks,omitempty"`
	Providers map[string]ProviderHealth `json:"providers,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status  string `json:"status"` // "pass", "fail"
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// ProviderHealth 单个后端的健康快照
type ProviderHealth struct {
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastSuccessAt       time.Time `json:"last_success_at,omitzero"`
	LastFailureAt       time.Time `json:"last_failure_at,omitzero"`
	CooldownUntil       time.Time `json:"cooldown_until,omitzero"`
}

// NewHealthHandler 创建健康检查处理器。registry 可为 nil。
func NewHealthHandler(registry *provider.Registry, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		registry: registry,
		logger:   logger,
		checks:   make([]HealthCheck, 0),
	}
}

// RegisterCheck 注册健康检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 处理 /health 请求（含后端健康快照）
// @Summary 健康检查
// @Description 服务健康状态与各后端熔断状态
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务正常"
// @Router /health [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Providers: h.providerSnapshot(),
	}

	for _, p := range status.Providers {
		if p.State != provider.StateHealthy.String() {
			status.Status = "degraded"
			break
		}
	}

	WriteJSON(w, http.StatusOK, status)
}

// HandleHealthz 处理 /healthz 请求（Kubernetes 风格）
// @Summary Kubernetes 活跃度探针
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务处于活动状态"
// @Router /healthz [get]
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	// Liveness probe - 只检查服务是否运行
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// HandleReady 处理 /ready 请求（就绪检查）
// @Summary 准备情况检查
// @Description 检查服务是否准备好接受流量
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务已准备就绪"
// @Failure 503 {object} HealthStatus "服务尚未准备好"
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult),
	}

	allHealthy := true
	for _, check := range checks {
		start := time.Now()
		err := check.Check(ctx)
		latency := time.Since(start)

		result := CheckResult{
			Status:  "pass",
			Latency: latency.String(),
		}

		if err != nil {
			result.Status = "fail"
			result.Message = err.Error()
			allHealthy = false

			h.logger.Warn("health check failed",
				zap.String("check", check.Name()),
				zap.Error(err),
				zap.Duration("latency", latency),
			)
		}

		status.Checks[check.Name()] = result
	}

	if !allHealthy {
		status.Status = "unhealthy"
		WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}

	WriteJSON(w, http.StatusOK, status)
}

// HandleVersion 处理 /version 请求
// @Summary 版本信息
// @Tags 健康
// @Produce json
// @Success 200 {object} map[string]string "版本信息"
// @Router /version [get]
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// providerSnapshot 从注册表读取各后端健康快照
func (h *HealthHandler) providerSnapshot() map[string]ProviderHealth {
	if h.registry == nil {
		return nil
	}
	out := make(map[string]ProviderHealth)
	for _, id := range h.registry.List() {
		hs, ok := h.registry.Health(id)
		if !ok {
			continue
		}
		out[id] = ProviderHealth{
			State:               hs.State.String(),
			ConsecutiveFailures: hs.ConsecutiveFailures,
			LastSuccessAt:       hs.LastSuccessAt,
			LastFailureAt:       hs.LastFailureAt,
			CooldownUntil:       hs.CooldownUntil,
		}
	}
	return out
}

// =============================================================================
// 🔧 内置健康检查实现
// =============================================================================

// PingHealthCheck 通过 ping 函数实现的健康检查（数据库、Redis 等）
type PingHealthCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingHealthCheck 创建基于 ping 函数的健康检查
func NewPingHealthCheck(name string, ping func(ctx context.Context) error) *PingHealthCheck {
	return &PingHealthCheck{
		name: name,
		ping: ping,
	}
}

func (c *PingHealthCheck) Name() string {
	return c.name
}

func (c *PingHealthCheck) Check(ctx context.Context) error {
	return c.ping(ctx)
}
