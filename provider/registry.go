package provider

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/mindflow/internal/metrics"
)

// Outcome 一次调用（用户流量或探活）的结果，由 Router 和 Prober 上报。
type Outcome struct {
	Success     bool
	RateLimited bool
	Latency     time.Duration
	Err         error
}

// Candidate 候选列表中的一项：描述符 + 实例 + 健康快照。
type Candidate struct {
	Descriptor Descriptor
	Provider   Provider
	Health     HealthStatus
	// Forced 表示该候选是"强制探活"兜底：所有后端均熔断时，
	// 返回最早熔断的一个作为最后手段。
	Forced bool
}

// Registry 线程安全的后端注册表，持有描述符、实例与健康状态。
// 候选选择为并发读；结果上报为串行写。
type Registry struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	thresholds HealthThresholds
	now        func() time.Time
	collector  *metrics.Collector
	logger     *zap.Logger
}

type entry struct {
	descriptor Descriptor
	provider   Provider
	health     HealthStatus
	limiter    *rate.Limiter // 声明速率的余量追踪，仅用于排序
}

// NewRegistry 创建注册表。
func NewRegistry(thresholds HealthThresholds, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if thresholds.FailuresToOpen <= 0 {
		thresholds = DefaultHealthThresholds()
	}
	return &Registry{
		entries:    make(map[string]*entry),
		thresholds: thresholds,
		now:        time.Now,
		logger:     logger.With(zap.String("component", "provider_registry")),
	}
}

// Register 注册一个后端。描述符注册后不可变；重复 ID 返回错误。
func (r *Registry) Register(desc Descriptor, p Provider) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("provider %s: nil implementation", desc.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[desc.ID]; exists {
		return fmt.Errorf("provider %s already registered", desc.ID)
	}

	var limiter *rate.Limiter
	if desc.RateLimitPerMin > 0 {
		limiter = rate.NewLimiter(rate.Limit(desc.RateLimitPerMin)/60.0, desc.RateLimitPerMin)
	}

	r.entries[desc.ID] = &entry{
		descriptor: desc,
		provider:   p,
		health:     HealthStatus{State: StateHealthy},
		limiter:    limiter,
	}

	if r.collector != nil {
		r.collector.SetProviderHealth(desc.ID, StateHealthy.severity())
	}

	r.logger.Info("provider registered",
		zap.String("provider", desc.ID),
		zap.Float64("priority_weight", desc.PriorityWeight),
		zap.Int("rate_limit_per_min", desc.RateLimitPerMin))
	return nil
}

// WithCollector 注入指标收集器，导出各后端的健康状态仪表。
func (r *Registry) WithCollector(c *metrics.Collector) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collector = c
	if c != nil {
		for id, e := range r.entries {
			c.SetProviderHealth(id, e.health.State.severity())
		}
	}
	return r
}

// Get 按 ID 获取后端实例。
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.provider, true
}

// Health 获取指定后端的健康快照。
func (r *Registry) Health(id string) (HealthStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return HealthStatus{}, false
	}
	return e.health, true
}

// List 返回所有已注册后端 ID（字典序）。
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Candidates 返回指定能力的候选后端，按
// (健康状态严重度升序, 有效权重降序, 速率余量降序) 排序。
// excludeOpen 为 true 时剔除熔断后端；若因此没有任何候选，
// 返回最早熔断的一个作为"强制探活"兜底。
func (r *Registry) Candidates(capability Capability, excludeOpen bool) []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	capable := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.descriptor.HasCapability(capability) {
			capable = append(capable, e)
		}
	}

	selected := make([]*entry, 0, len(capable))
	for _, e := range capable {
		if excludeOpen && e.health.State == StateOpen {
			continue
		}
		selected = append(selected, e)
	}

	forced := false
	if len(selected) == 0 && excludeOpen {
		// 全部熔断：取最早熔断的一个做强制探活
		var oldest *entry
		for _, e := range capable {
			if oldest == nil || e.health.OpenedAt.Before(oldest.health.OpenedAt) {
				oldest = e
			}
		}
		if oldest == nil {
			return nil
		}
		selected = append(selected, oldest)
		forced = true
	}

	sort.SliceStable(selected, func(i, j int) bool {
		hi, hj := &selected[i].health, &selected[j].health
		if hi.State.severity() != hj.State.severity() {
			return hi.State.severity() < hj.State.severity()
		}
		wi := hi.effectiveWeight(selected[i].descriptor.PriorityWeight, r.thresholds, now)
		wj := hj.effectiveWeight(selected[j].descriptor.PriorityWeight, r.thresholds, now)
		if wi != wj {
			return wi > wj
		}
		return headroom(selected[i]) > headroom(selected[j])
	})

	candidates := make([]Candidate, 0, len(selected))
	for _, e := range selected {
		candidates = append(candidates, Candidate{
			Descriptor: e.descriptor,
			Provider:   e.provider,
			Health:     e.health,
			Forced:     forced,
		})
	}
	return candidates
}

// ReportOutcome 上报一次调用结果并推进健康状态机。
// 速率限制信号单独记账，不推进失败计数。
func (r *Registry) ReportOutcome(id string, outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return
	}

	now := r.now()
	prev := e.health.State

	if e.limiter != nil {
		// 记账一次流量，消耗声明速率的余量
		e.limiter.AllowN(now, 1)
	}

	switch {
	case outcome.RateLimited:
		e.health.recordRateLimit(r.thresholds, now)
	case outcome.Success:
		e.health.recordSuccess(r.thresholds, now)
	default:
		e.health.recordFailure(r.thresholds, now)
	}

	if e.health.State != prev {
		if r.collector != nil {
			r.collector.SetProviderHealth(id, e.health.State.severity())
		}
		r.logger.Warn("provider health state changed",
			zap.String("provider", id),
			zap.String("from", prev.String()),
			zap.String("to", e.health.State.String()),
			zap.Int("consecutive_failures", e.health.ConsecutiveFailures))
	}
}

// StaleProviders 返回需要周期探活的后端 ID：Degraded 后端，
// 以及冷却期已过的 Open 后端。Healthy 后端不参与探活，避免浪费配额；
// 冷却期内的 Open 后端的探活成功会被丢弃，同样跳过。
func (r *Registry) StaleProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	ids := make([]string, 0)
	for id, e := range r.entries {
		switch e.health.State {
		case StateDegraded:
			ids = append(ids, id)
		case StateOpen:
			if !now.Before(e.health.CooldownUntil) {
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// headroom 返回声明速率的剩余余量；无限制时视为无穷大。
func headroom(e *entry) float64 {
	if e.limiter == nil {
		return float64(int(^uint(0) >> 1))
	}
	return e.limiter.Tokens()
}

// SetNowFunc 注入时钟，用于测试。
func (r *Registry) SetNowFunc(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}
