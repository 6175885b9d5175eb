package provider

import "time"

// HealthState 后端健康状态分类。
type HealthState int

const (
	// StateHealthy 健康（正常参与路由）
	StateHealthy HealthState = iota
	// StateDegraded 降级（仍参与路由，排序靠后）
	StateDegraded
	// StateOpen 熔断（默认不参与路由）
	StateOpen
)

func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "Healthy"
	case StateDegraded:
		return "Degraded"
	case StateOpen:
		return "Open"
	default:
		return "Unknown"
	}
}

// severity 用于候选排序：数值越小越健康。
func (s HealthState) severity() int { return int(s) }

// HealthStatus 单个后端的运行期健康状态。
// 仅由 Registry 在持锁状态下修改；对外只读快照通过 Registry.Health 获取。
type HealthStatus struct {
	State                HealthState `json:"state"`
	ConsecutiveFailures  int         `json:"consecutive_failures"`
	ConsecutiveSuccesses int         `json:"consecutive_successes"`
	LastSuccessAt        time.Time   `json:"last_success_at"`
	LastFailureAt        time.Time   `json:"last_failure_at"`
	CooldownUntil        time.Time   `json:"cooldown_until"`
	OpenedAt             time.Time   `json:"opened_at"`

	// RateLimitedUntil 速率限制惩罚窗口：窗口内权重打折，但不触发熔断。
	RateLimitedUntil time.Time `json:"rate_limited_until"`
}

// HealthThresholds 状态机阈值。
type HealthThresholds struct {
	// FailuresToOpen Degraded -> Open 所需连续失败次数
	FailuresToOpen int `yaml:"failures_to_open"`
	// SuccessesToClose Degraded -> Healthy 所需连续成功次数
	SuccessesToClose int `yaml:"successes_to_close"`
	// OpenCooldown Open 状态的冷却时长，冷却后一次探活成功降回 Degraded
	OpenCooldown time.Duration `yaml:"open_cooldown"`
	// RateLimitPenalty 速率限制惩罚窗口时长
	RateLimitPenalty time.Duration `yaml:"rate_limit_penalty"`
	// RateLimitWeightFactor 惩罚窗口内的权重折扣系数 (0-1)
	RateLimitWeightFactor float64 `yaml:"rate_limit_weight_factor"`
}

// DefaultHealthThresholds 返回默认阈值。
func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		FailuresToOpen:        3,
		SuccessesToClose:      2,
		OpenCooldown:          30 * time.Second,
		RateLimitPenalty:      time.Minute,
		RateLimitWeightFactor: 0.5,
	}
}

// recordSuccess 应用一次成功结果。
// Healthy 保持；Degraded 连续成功达到阈值后回到 Healthy；
// Open 状态的成功只可能来自冷却后的探活/强制探活，降回 Degraded。
func (h *HealthStatus) recordSuccess(t HealthThresholds, now time.Time) {
	h.ConsecutiveFailures = 0
	h.ConsecutiveSuccesses++
	h.LastSuccessAt = now

	switch h.State {
	case StateHealthy:
		// 保持
	case StateDegraded:
		if h.ConsecutiveSuccesses >= t.SuccessesToClose {
			h.State = StateHealthy
		}
	case StateOpen:
		if !now.Before(h.CooldownUntil) {
			h.State = StateDegraded
			h.ConsecutiveSuccesses = 1
		}
	}
}

// recordFailure 应用一次失败结果。
// Healthy 一次失败即降级；Degraded 连续失败达到阈值后熔断。
func (h *HealthStatus) recordFailure(t HealthThresholds, now time.Time) {
	h.ConsecutiveSuccesses = 0
	h.ConsecutiveFailures++
	h.LastFailureAt = now

	switch h.State {
	case StateHealthy:
		h.State = StateDegraded
	case StateDegraded:
		if h.ConsecutiveFailures >= t.FailuresToOpen {
			h.open(t, now)
		}
	case StateOpen:
		// 冷却后的探活失败：重置冷却窗口
		h.open(t, now)
	}
}

// recordRateLimit 应用一次速率限制信号。
// 不计入失败计数，只在惩罚窗口内降低权重。
func (h *HealthStatus) recordRateLimit(t HealthThresholds, now time.Time) {
	h.RateLimitedUntil = now.Add(t.RateLimitPenalty)
}

func (h *HealthStatus) open(t HealthThresholds, now time.Time) {
	h.State = StateOpen
	h.OpenedAt = now
	h.CooldownUntil = now.Add(t.OpenCooldown)
}

// effectiveWeight 计算排序用的有效权重。
func (h *HealthStatus) effectiveWeight(base float64, t HealthThresholds, now time.Time) float64 {
	if now.Before(h.RateLimitedUntil) {
		return base * t.RateLimitWeightFactor
	}
	return base
}
