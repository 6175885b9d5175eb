package provider

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ProberConfig 探活配置。
type ProberConfig struct {
	// Interval 周期探活间隔
	Interval time.Duration `yaml:"interval"`
	// Timeout 单次探活超时
	Timeout time.Duration `yaml:"timeout"`
	// MaxConcurrent 单轮最大并发探活数
	MaxConcurrent int `yaml:"max_concurrent"`
}

// DefaultProberConfig 返回默认探活配置。
func DefaultProberConfig() ProberConfig {
	return ProberConfig{
		Interval:      30 * time.Second,
		Timeout:       5 * time.Second,
		MaxConcurrent: 4,
	}
}

// Prober 周期性探活 Degraded/Open 后端的后台任务。
// 探活独立于用户流量；同一后端的并发探活通过 singleflight 合并。
type Prober struct {
	registry *Registry
	config   ProberConfig
	logger   *zap.Logger

	group  singleflight.Group
	cancel context.CancelFunc
	done   chan struct{}
}

// NewProber 创建探活器。
func NewProber(registry *Registry, config ProberConfig, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	return &Prober{
		registry: registry,
		config:   config,
		logger:   logger.With(zap.String("component", "provider_prober")),
	}
}

// Start 启动后台探活循环。
func (p *Prober) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.ProbeStale(ctx)
			}
		}
	}()
}

// Stop 停止后台探活循环并等待退出。
func (p *Prober) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// ProbeStale 对所有 Degraded/Open 后端并发执行一轮探活。
func (p *Prober) ProbeStale(ctx context.Context) {
	ids := p.registry.StaleProviders()
	if len(ids) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.MaxConcurrent)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			p.Probe(gctx, id)
			return nil
		})
	}
	_ = g.Wait()
}

// Probe 对单个后端执行一次探活并上报结果。
// 返回探活是否成功。
func (p *Prober) Probe(ctx context.Context, id string) bool {
	v, _, _ := p.group.Do(id, func() (any, error) {
		impl, ok := p.registry.Get(id)
		if !ok {
			return false, nil
		}

		probeCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()

		start := time.Now()
		err := impl.HealthProbe(probeCtx)
		latency := time.Since(start)

		p.registry.ReportOutcome(id, Outcome{
			Success: err == nil,
			Latency: latency,
			Err:     err,
		})

		if err != nil {
			p.logger.Debug("probe failed",
				zap.String("provider", id),
				zap.Duration("latency", latency),
				zap.Error(err))
			return false, nil
		}

		p.logger.Debug("probe succeeded",
			zap.String("provider", id),
			zap.Duration("latency", latency))
		return true, nil
	})
	ok, _ := v.(bool)
	return ok
}
