package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/mindflow/internal/metrics"
	"github.com/BaSui01/mindflow/types"
)

// TagSensitive 标记为敏感的记忆记录不得逐字出现在最终答案中。
const TagSensitive = "sensitive"

// MonitorStage 监控记录阶段。作为 Chain 的 final 阶段，
// 无论请求成败总是执行：上报指标并写入脱敏审计日志。
// 审计日志只记录记忆记录 ID，从不落盘记忆原文。
type MonitorStage struct {
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewMonitorStage 创建监控阶段。collector 可为 nil（仅日志）。
func NewMonitorStage(collector *metrics.Collector, logger *zap.Logger) *MonitorStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MonitorStage{
		collector: collector,
		logger:    logger.With(zap.String("component", "monitor")),
	}
}

// Name 返回阶段名
func (s *MonitorStage) Name() string { return "monitor" }

// Process 记录请求结果。本阶段从不使 Exchange 失败。
func (s *MonitorStage) Process(_ context.Context, ex *Exchange) error {
	s.redactSensitive(ex)

	latency := ex.Latency()
	refs := ex.ReferenceIDs()

	errorKind := "none"
	verdict := string(ex.Verdict)
	if ex.Err != nil {
		errorKind = string(ex.Err.Kind)
		verdict = string(types.VerdictRejected)
	}

	fallbackUsed := false
	providerUsed := ""
	if ex.RouterResult != nil {
		fallbackUsed = ex.RouterResult.FallbackUsed
		providerUsed = ex.RouterResult.ProviderUsed
	}

	if s.collector != nil {
		s.collector.RecordRequest(string(ex.Category), verdict, errorKind, latency, fallbackUsed, ex.Hedged, len(refs))
	}

	fields := []zap.Field{
		zap.String("user_id", ex.Request.UserID),
		zap.String("conversation_id", ex.Request.ConversationID),
		zap.String("category", string(ex.Category)),
		zap.String("verdict", verdict),
		zap.String("provider", providerUsed),
		zap.Bool("fallback_used", fallbackUsed),
		zap.Bool("hedged", ex.Hedged),
		zap.Strings("memory_refs", refs),
		zap.Int("warnings", len(ex.Warnings)),
		zap.Duration("latency", latency),
	}
	if ex.Err != nil {
		s.logger.Warn("orchestration failed", append(fields, zap.String("error_kind", errorKind))...)
	} else {
		s.logger.Info("orchestration completed", fields...)
	}

	if ex.State != StateError {
		ex.State = StateRecorded
	}
	return nil
}

// redactSensitive 合规硬规则：被引用的敏感记录原文不得逐字出现在答案中。
func (s *MonitorStage) redactSensitive(ex *Exchange) {
	if ex.FinalText == "" || ex.Memory == nil || ex.Memory.Result == nil {
		return
	}
	for _, sr := range ex.Memory.Result.Records {
		if !sr.Record.TagList.Contains(TagSensitive) || sr.Record.Content == "" {
			continue
		}
		if strings.Contains(ex.FinalText, sr.Record.Content) {
			ex.FinalText = strings.ReplaceAll(ex.FinalText, sr.Record.Content, "[redacted]")
			s.logger.Warn("sensitive memory content redacted from answer",
				zap.String("record_id", sr.Record.ID))
		}
	}
}
