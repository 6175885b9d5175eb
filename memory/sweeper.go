package memory

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SweeperConfig 过期清理配置。
type SweeperConfig struct {
	// Interval 清理周期
	Interval time.Duration `yaml:"interval"`
	// Timeout 单次清理超时
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultSweeperConfig 返回默认清理配置。
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval: time.Hour,
		Timeout:  30 * time.Second,
	}
}

// Sweeper 周期性停用过期记录的后台任务。
// 清理只做软删除，且绝不在请求路径上内联执行。
type Sweeper struct {
	store  Store
	config SweeperConfig
	logger *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper 创建清理器。
func NewSweeper(store Store, config SweeperConfig, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Sweeper{
		store:  store,
		config: config,
		logger: logger.With(zap.String("component", "memory_sweeper")),
	}
}

// Start 启动后台清理循环。
func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepOnce(ctx)
			}
		}
	}()
}

// Stop 停止清理循环并等待退出。
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	count, err := s.store.SweepExpired(sweepCtx, time.Now())
	if err != nil {
		s.logger.Warn("expiry sweep failed", zap.Error(err))
		return
	}
	if count > 0 {
		s.logger.Info("expiry sweep completed", zap.Int64("deactivated", count))
	}
}
